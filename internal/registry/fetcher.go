package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenk/backoff"
	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/core"
	"github.com/driftpkg/drift/internal/download"
	"github.com/rs/zerolog"
)

// Fetcher retrieves repository metadata documents. Each host sits behind a
// circuit breaker so a dead registry fails fast instead of stalling sync.
type Fetcher struct {
	client   *http.Client
	breakers *download.BreakerGroup
	log      *zerolog.Logger
}

// NewFetcher creates a metadata fetcher.
func NewFetcher(log *zerolog.Logger) *Fetcher {
	return &Fetcher{
		client:   &http.Client{Timeout: 30 * time.Second},
		breakers: download.NewBreakerGroup(),
		log:      log,
	}
}

// FetchMetadata downloads a repository's metadata document.
func (f *Fetcher) FetchMetadata(ctx context.Context, repo config.Repository) ([]byte, error) {
	url := repo.MetadataURL()

	var body []byte
	attempt := func() error {
		return f.breakers.Do(url, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return backoff.Permanent(err)
			}
			resp, err := f.client.Do(req)
			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("fetch %s: status %s", url, resp.Status)
				if resp.StatusCode >= 400 && resp.StatusCode < 500 {
					return backoff.Permanent(err)
				}
				return err
			}

			body, err = io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read metadata body: %w", err)
			}
			return nil
		})
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	if err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", core.ErrRegistryUnavailable, repo.Name, err)
	}
	return body, nil
}

// packageEntry is the wire shape of one package in a metadata document.
type packageEntry struct {
	Pkg         string   `json:"pkg"`
	PkgName     string   `json:"pkg_name"`
	PkgID       string   `json:"pkg_id"`
	AppID       string   `json:"app_id"`
	Family      string   `json:"family"`
	Description string   `json:"description"`
	Note        string   `json:"note"`
	Version     string   `json:"version"`
	DownloadURL string   `json:"download_url"`
	Size        int64    `json:"size"`
	Checksum    string   `json:"checksum"`
	BuildDate   string   `json:"build_date"`
	BuildScript string   `json:"build_script"`
	BuildLog    string   `json:"build_log"`
	Category    string   `json:"category"`
	Desktop     string   `json:"desktop"`
	Icon        string   `json:"icon"`
	Provides    []string `json:"provides"`
}

// ParseMetadata parses a metadata document: a JSON object mapping collection
// names to package arrays. A family may not register the same pkg_name twice
// within a collection; violations fail the whole document so a corrupt
// registry never half-loads.
func ParseMetadata(repoName string, raw []byte) ([]core.Package, []Provide, error) {
	var doc map[string][]packageEntry
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse metadata json: %w", err)
	}

	var pkgs []core.Package
	var provides []Provide
	seen := make(map[string]struct{})

	for collection, entries := range doc {
		for _, e := range entries {
			if e.PkgName == "" || e.DownloadURL == "" {
				return nil, nil, fmt.Errorf("package entry in collection %q missing pkg_name or download_url", collection)
			}
			key := collection + "\x00" + e.Family + "\x00" + e.PkgName
			if _, dup := seen[key]; dup {
				return nil, nil, fmt.Errorf("duplicate package %s/%s in collection %q", e.Family, e.PkgName, collection)
			}
			seen[key] = struct{}{}

			pkgs = append(pkgs, core.Package{
				RepoName:    repoName,
				Collection:  collection,
				Family:      e.Family,
				PkgName:     e.PkgName,
				Pkg:         string(core.ParseKind(e.Pkg)),
				PkgID:       e.PkgID,
				AppID:       e.AppID,
				Description: e.Description,
				Note:        e.Note,
				Version:     e.Version,
				DownloadURL: e.DownloadURL,
				Size:        e.Size,
				Checksum:    e.Checksum,
				BuildDate:   e.BuildDate,
				BuildScript: e.BuildScript,
				BuildLog:    e.BuildLog,
				Category:    e.Category,
				Desktop:     e.Desktop,
				Icon:        e.Icon,
			})
			for _, name := range e.Provides {
				provides = append(provides, Provide{
					RepoName:    repoName,
					Family:      e.Family,
					PkgName:     e.PkgName,
					ProvideName: name,
				})
			}
		}
	}
	return pkgs, provides, nil
}
