package ui

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// ProgressBar wraps progressbar/v3 with drift styling
type ProgressBar struct {
	bar *progressbar.ProgressBar
}

// NewProgressBarBytes creates a progress bar for byte operations (downloads).
func NewProgressBarBytes(max int64, description string) *ProgressBar {
	bar := progressbar.DefaultBytes(max, description)
	return &ProgressBar{bar: bar}
}

// NewIndeterminateProgressBar creates a spinner for unknown-length operations.
func NewIndeterminateProgressBar(description string) *ProgressBar {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(10),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &ProgressBar{bar: bar}
}

// Write implements io.Writer for streaming operations
func (p *ProgressBar) Write(b []byte) (int, error) {
	return p.bar.Write(b)
}

// Add increments the progress bar by n
func (p *ProgressBar) Add(n int) error {
	return p.bar.Add(n)
}

// Add64 increments the progress bar by n (64-bit)
func (p *ProgressBar) Add64(n int64) error {
	return p.bar.Add64(n)
}

// Finish completes the progress bar
func (p *ProgressBar) Finish() error {
	return p.bar.Finish()
}

// Clear clears the progress bar
func (p *ProgressBar) Clear() error {
	return p.bar.Clear()
}

// Describe changes the description of the progress bar
func (p *ProgressBar) Describe(description string) {
	p.bar.Describe(description)
}

// ProgressWriter wraps an io.Writer with a progress bar
type ProgressWriter struct {
	writer io.Writer
	bar    *ProgressBar
}

// NewProgressWriter creates a new writer with progress tracking
func NewProgressWriter(writer io.Writer, max int64, description string) *ProgressWriter {
	return &ProgressWriter{
		writer: writer,
		bar:    NewProgressBarBytes(max, description),
	}
}

// Write implements io.Writer with progress tracking
func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	if n > 0 {
		pw.bar.Add(n)
	}
	return n, err
}

// Close closes the progress bar
func (pw *ProgressWriter) Close() error {
	return pw.bar.Finish()
}
