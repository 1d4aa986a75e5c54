// Package assets resolves indirect download_url values. Registries may point
// at a hosting project ("github.com/owner/repo@tag") instead of a direct
// asset URL; resolution goes through the hosting releases API and returns a
// direct URL the download scheduler can fetch. Direct URLs pass through
// untouched.
package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/cenk/backoff"
	"github.com/driftpkg/drift/internal/core"
	"github.com/driftpkg/drift/internal/download"
	"github.com/rs/zerolog"
)

var (
	githubSpec = regexp.MustCompile(`^(?:https?://)?github\.com/([^/@#]+)/([^/@#]+?)(?:@([^/#]+))?/?$`)
	gitlabSpec = regexp.MustCompile(`^(?:https?://)?gitlab\.com/([^@#]+?)(?:@([^/#]+))?/?$`)
)

// Resolver turns hosting project specs into direct asset URLs.
type Resolver struct {
	client    *http.Client
	breakers  *download.BreakerGroup
	log       *zerolog.Logger
	githubAPI string
	gitlabAPI string
}

// NewResolver creates an asset resolver against the public hosting APIs.
func NewResolver(log *zerolog.Logger) *Resolver {
	return &Resolver{
		client:    &http.Client{Timeout: 30 * time.Second},
		breakers:  download.NewBreakerGroup(),
		log:       log,
		githubAPI: "https://api.github.com",
		gitlabAPI: "https://gitlab.com/api/v4",
	}
}

// WithEndpoints overrides the hosting API bases, for tests.
func (r *Resolver) WithEndpoints(github, gitlab string) *Resolver {
	r.githubAPI = strings.TrimRight(github, "/")
	r.gitlabAPI = strings.TrimRight(gitlab, "/")
	return r
}

// Resolve maps urlOrSpec to a directly fetchable URL. A URL that is not a
// bare hosting project spec is returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, urlOrSpec string) (string, error) {
	if m := githubSpec.FindStringSubmatch(urlOrSpec); m != nil {
		return r.resolveGitHub(ctx, m[1], m[2], m[3])
	}
	if m := gitlabSpec.FindStringSubmatch(urlOrSpec); m != nil {
		// Require a path with at least owner/project but no deeper segments,
		// so direct gitlab file URLs pass through.
		if parts := strings.Split(m[1], "/"); len(parts) == 2 {
			return r.resolveGitLab(ctx, m[1], m[2])
		}
	}
	return urlOrSpec, nil
}

type githubRelease struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

func (r *Resolver) resolveGitHub(ctx context.Context, owner, repo, tag string) (string, error) {
	endpoint := fmt.Sprintf("%s/repos/%s/%s/releases/latest", r.githubAPI, owner, repo)
	if tag != "" {
		endpoint = fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s", r.githubAPI, owner, repo, url.PathEscape(tag))
	}

	var release githubRelease
	if err := r.getJSON(ctx, endpoint, &release); err != nil {
		return "", fmt.Errorf("resolve github %s/%s: %w", owner, repo, err)
	}

	best := ""
	bestScore := -1
	for _, a := range release.Assets {
		score := assetScore(a.Name)
		if score > bestScore {
			best = a.BrowserDownloadURL
			bestScore = score
		}
	}
	if best == "" {
		return "", fmt.Errorf("resolve github %s/%s: release %s has no usable asset", owner, repo, release.TagName)
	}
	return best, nil
}

type gitlabRelease struct {
	TagName string `json:"tag_name"`
	Assets  struct {
		Links []struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"links"`
	} `json:"assets"`
}

func (r *Resolver) resolveGitLab(ctx context.Context, project, tag string) (string, error) {
	base := fmt.Sprintf("%s/projects/%s/releases", r.gitlabAPI, url.PathEscape(project))

	if tag != "" {
		var release gitlabRelease
		if err := r.getJSON(ctx, base+"/"+url.PathEscape(tag), &release); err != nil {
			return "", fmt.Errorf("resolve gitlab %s: %w", project, err)
		}
		return pickGitLabAsset(project, release)
	}

	var releases []gitlabRelease
	if err := r.getJSON(ctx, base, &releases); err != nil {
		return "", fmt.Errorf("resolve gitlab %s: %w", project, err)
	}
	if len(releases) == 0 {
		return "", fmt.Errorf("resolve gitlab %s: no releases", project)
	}
	return pickGitLabAsset(project, releases[0])
}

func pickGitLabAsset(project string, release gitlabRelease) (string, error) {
	best := ""
	bestScore := -1
	for _, l := range release.Assets.Links {
		score := assetScore(l.Name)
		if score > bestScore {
			best = l.URL
			bestScore = score
		}
	}
	if best == "" {
		return "", fmt.Errorf("resolve gitlab %s: release %s has no usable asset", project, release.TagName)
	}
	return best, nil
}

// getJSON fetches and decodes one API document with bounded retry behind the
// per-host circuit breaker.
func (r *Resolver) getJSON(ctx context.Context, endpoint string, out any) error {
	attempt := func() error {
		return r.breakers.Do(endpoint, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
			if err != nil {
				return backoff.Permanent(err)
			}
			req.Header.Set("Accept", "application/json")

			resp, err := r.client.Do(req)
			if err != nil {
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("fetch %s: status %s", endpoint, resp.Status)
				if resp.StatusCode >= 400 && resp.StatusCode < 500 {
					return backoff.Permanent(err)
				}
				return err
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("decode release document: %w", err))
			}
			return nil
		})
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	if err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx)); err != nil {
		return fmt.Errorf("%w: %v", core.ErrDownloadFailed, err)
	}
	return nil
}

// assetScore ranks release assets: prefer assets naming the running
// architecture, penalize signatures and checksums, reject nothing outright
// so a single-asset release still resolves.
func assetScore(name string) int {
	n := strings.ToLower(name)
	for _, ext := range []string{".sha256", ".sha256sum", ".sig", ".asc", ".pem", ".sbom"} {
		if strings.HasSuffix(n, ext) {
			return -1
		}
	}

	score := 0
	for _, arch := range archAliases() {
		if strings.Contains(n, arch) {
			score += 10
			break
		}
	}
	if strings.Contains(n, "linux") {
		score += 5
	}
	if strings.Contains(n, ".appimage") {
		score += 2
	}
	return score
}

func archAliases() []string {
	switch runtime.GOARCH {
	case "amd64":
		return []string{"x86_64", "amd64", "x86-64"}
	case "arm64":
		return []string{"aarch64", "arm64"}
	default:
		return []string{runtime.GOARCH}
	}
}
