// Package footage captures short recordings of a deployed feature and files
// them into the shared footage directory used by trailer compositions.
package footage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultDuration is how long a capture runs.
	DefaultDuration = 6 * time.Second
	// DefaultExtension is used when the recorder output has none.
	DefaultExtension = ".webm"
	// DefaultRelativeDir is the path prefix compositions use to find footage.
	DefaultRelativeDir = "footage"
)

// Recording is the recorder's report.
type Recording struct {
	Success   bool
	VideoPath string
	Error     string
}

// Recorder captures video of a running URL.
type Recorder interface {
	Record(ctx context.Context, url, slug string, duration time.Duration) Recording
}

// RecorderFunc adapts a function into a Recorder.
type RecorderFunc func(ctx context.Context, url, slug string, duration time.Duration) Recording

// Record executes f.
func (f RecorderFunc) Record(ctx context.Context, url, slug string, duration time.Duration) Recording {
	return f(ctx, url, slug, duration)
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithDuration overrides DefaultDuration.
func WithDuration(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.duration = d
		}
	}
}

// WithRelativeDir overrides the prefix of returned paths.
func WithRelativeDir(rel string) Option {
	return func(c *Coordinator) {
		c.relDir = strings.Trim(filepath.ToSlash(rel), "/")
	}
}

// WithLogger attaches a logger for capture warnings.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// Coordinator runs the recorder and persists its output.
type Coordinator struct {
	recorder Recorder
	dir      string
	relDir   string
	duration time.Duration
	logger   zerolog.Logger
}

// NewCoordinator files recordings under dir.
func NewCoordinator(recorder Recorder, dir string, opts ...Option) (*Coordinator, error) {
	if recorder == nil {
		return nil, errors.New("footage: recorder is required")
	}
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("footage: directory is required")
	}
	c := &Coordinator{
		recorder: recorder,
		dir:      dir,
		relDir:   DefaultRelativeDir,
		duration: DefaultDuration,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Duration reports the capture length.
func (c *Coordinator) Duration() time.Duration {
	return c.duration
}

// Dir reports the footage directory.
func (c *Coordinator) Dir() string {
	return c.dir
}

// Filename returns the deterministic footage name for slug.
func Filename(slug, ext string) string {
	if ext == "" {
		ext = DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return slug + "_footage" + ext
}

// Capture records url and copies the result to <dir>/<slug>_footage.<ext>,
// returning the path relative to the composition root. Any recorder problem
// is logged and reported as ok=false; callers proceed without footage.
func (c *Coordinator) Capture(ctx context.Context, slug, url string) (string, bool) {
	log := c.logger.With().Str("slug", slug).Str("url", url).Logger()
	if strings.TrimSpace(slug) == "" || strings.TrimSpace(url) == "" {
		log.Warn().Msg("footage capture skipped: slug and url are required")
		return "", false
	}
	rec := c.recorder.Record(ctx, url, slug, c.duration)
	if !rec.Success {
		log.Warn().Str("reason", rec.Error).Msg("footage capture failed; continuing without footage")
		return "", false
	}
	if rec.VideoPath == "" {
		log.Warn().Msg("footage capture reported success without a file; continuing without footage")
		return "", false
	}
	name := Filename(slug, filepath.Ext(rec.VideoPath))
	if err := copyFile(rec.VideoPath, filepath.Join(c.dir, name)); err != nil {
		log.Warn().Err(err).Msg("footage copy failed; continuing without footage")
		return "", false
	}
	rel := name
	if c.relDir != "" {
		rel = path.Join(c.relDir, name)
	}
	log.Info().Str("footage", rel).Msg("footage captured")
	return rel, true
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("footage: open recording: %w", err)
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("footage: ensure dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".capture-*")
	if err != nil {
		return fmt.Errorf("footage: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("footage: copy recording: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("footage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("footage: place recording: %w", err)
	}
	return nil
}
