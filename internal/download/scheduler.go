package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/core"
	"github.com/driftpkg/drift/internal/fsops"
	"github.com/driftpkg/drift/internal/ui"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// Task is one payload to fetch.
type Task struct {
	URL         string
	Destination string
	Checksum    string
	Size        int64
	Label       string
}

// PartPath is the temporary file the payload streams into, beside the final
// destination.
func (t Task) PartPath() string { return t.Destination + ".part" }

// Status classifies a task outcome.
type Status int

const (
	StatusOK Status = iota
	StatusChecksumMismatch
	StatusFailed
)

// Result is the per-task outcome of a batch fetch. On StatusOK, Path is the
// verified temporary file, left for the caller to promote.
type Result struct {
	Task   Task
	Status Status
	Path   string
	Err    error
}

// Scheduler is the bounded-concurrency fetch engine. Payloads stream to a
// temporary file beside their destination while the digest is computed
// alongside the write; nothing buffers a full artifact in memory.
type Scheduler struct {
	client     *http.Client
	fs         afero.Fs
	log        *zerolog.Logger
	breakers   *BreakerGroup
	parallel   bool
	limit      int
	maxRetries int
	progress   bool
}

// NewScheduler creates a scheduler from configuration.
func NewScheduler(cfg *config.Config, log *zerolog.Logger) *Scheduler {
	return &Scheduler{
		client:     &http.Client{Timeout: time.Duration(cfg.Download.TimeoutSecs) * time.Second},
		fs:         afero.NewOsFs(),
		log:        log,
		breakers:   NewBreakerGroup(),
		parallel:   cfg.Parallel,
		limit:      cfg.ParallelLimit,
		maxRetries: cfg.Download.MaxRetries,
		progress:   true,
	}
}

// WithFs substitutes the filesystem, for tests.
func (s *Scheduler) WithFs(fs afero.Fs) *Scheduler {
	s.fs = fs
	return s
}

// WithProgress toggles progress bar rendering.
func (s *Scheduler) WithProgress(enabled bool) *Scheduler {
	s.progress = enabled
	return s
}

// Fetch downloads a batch. The concurrency bound is parallel_limit when
// parallel is enabled, else tasks run sequentially. One task's failure never
// cancels its siblings; the caller decides what partial success means.
func (s *Scheduler) Fetch(ctx context.Context, tasks []Task) []Result {
	results := make([]Result, len(tasks))

	workers := 1
	if s.parallel && s.limit > 1 {
		workers = s.limit
	}

	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := range tasks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.fetchOne(ctx, tasks[i])
		}(i)
	}
	wg.Wait()
	return results
}

// fetchOne downloads a single task with bounded retry. Checksum mismatch is
// terminal: the partial file is discarded and never retried, because the
// registry-declared digest will not change between attempts.
func (s *Scheduler) fetchOne(ctx context.Context, task Task) Result {
	part := task.PartPath()
	if err := s.fs.MkdirAll(filepath.Dir(part), 0o755); err != nil {
		return Result{Task: task, Status: StatusFailed, Err: fmt.Errorf("create download directory: %w", err)}
	}

	attempt := func() error {
		return s.breakers.Do(task.URL, func() error {
			return s.stream(ctx, task, part)
		})
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second

	err := backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxRetries)), ctx))
	if err != nil {
		return Result{Task: task, Status: StatusFailed, Err: fmt.Errorf("%w: %s: %v", core.ErrDownloadFailed, task.URL, err)}
	}

	if verr := s.verify(task, part); verr != nil {
		_ = s.fs.Remove(part)
		return Result{Task: task, Status: StatusChecksumMismatch, Err: verr}
	}
	return Result{Task: task, Status: StatusOK, Path: part}
}

// stream appends the payload to the part file, resuming from what is
// already on disk.
func (s *Scheduler) stream(ctx context.Context, task Task, part string) error {
	var offset int64
	if info, err := s.fs.Stat(part); err == nil {
		offset = info.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		// The part file already holds the full payload.
		return nil
	case resp.StatusCode == http.StatusOK && offset > 0:
		// Server ignored the Range header: start over.
		if err := s.fs.Remove(part); err != nil {
			return backoff.Permanent(fmt.Errorf("reset partial download: %w", err))
		}
		offset = 0
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(fmt.Errorf("download %s: status %s", task.URL, resp.Status))
	default:
		return fmt.Errorf("download %s: status %s", task.URL, resp.Status)
	}

	f, err := s.fs.OpenFile(part, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("open %s: %w", part, err))
	}
	defer f.Close()

	var w io.Writer = f
	if s.progress {
		total := task.Size
		if total == 0 {
			total = offset + resp.ContentLength
		}
		bar := ui.NewProgressBarBytes(total, task.Label)
		if offset > 0 {
			bar.Add64(offset)
		}
		defer bar.Finish()
		w = io.MultiWriter(f, bar)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return fmt.Errorf("stream %s: %w", task.URL, err)
	}
	return nil
}

// verify checks the streamed payload against the registry-declared
// checksum. A registry entry without a checksum is installed with a
// warning, never rejected.
func (s *Scheduler) verify(task Task, part string) error {
	if task.Checksum == "" || task.Checksum == "null" {
		s.log.Warn().Str("url", task.URL).Msg("missing registry checksum, skipping verification")
		return nil
	}

	got, err := fsops.Checksum(s.fs, part)
	if err != nil {
		return fmt.Errorf("verify %s: %w", task.Label, err)
	}
	if got != task.Checksum {
		return fmt.Errorf("%w: %s: got %s, want %s", core.ErrChecksumMismatch, task.Label, got, task.Checksum)
	}
	return nil
}
