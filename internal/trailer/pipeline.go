// Package trailer assembles a short promotional video for a shipped feature:
// it classifies the feature, optionally captures live footage, renders a
// composition and returns the encoded result.
package trailer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kingrea/shipyard/internal/classifier"
)

// Capturer records live footage. footage.Coordinator satisfies it.
type Capturer interface {
	Capture(ctx context.Context, slug, url string) (string, bool)
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock injects the clock used for output timestamps.
func WithClock(clock func() time.Time) Option {
	return func(p *Pipeline) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithCapturer enables footage capture for dynamic features.
func WithCapturer(c Capturer) Option {
	return func(p *Pipeline) { p.capturer = c }
}

// WithComposition overrides DefaultComposition.
func WithComposition(name string) Option {
	return func(p *Pipeline) {
		if name != "" {
			p.composition = name
		}
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithMaxOutputBytes overrides DefaultMaxOutputBytes.
func WithMaxOutputBytes(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxOutput = n
		}
	}
}

// WithExtension overrides DefaultExtension.
func WithExtension(ext string) Option {
	return func(p *Pipeline) {
		if ext == "" {
			return
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		p.extension = ext
	}
}

// WithLogger attaches a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// Pipeline renders trailers into outputDir.
type Pipeline struct {
	renderer    Renderer
	capturer    Capturer
	outputDir   string
	composition string
	extension   string
	timeout     time.Duration
	maxOutput   int
	clock       func() time.Time
	logger      zerolog.Logger

	mu       sync.Mutex
	lastName int64
}

// New builds a pipeline. A nil capturer disables footage.
func New(renderer Renderer, outputDir string, opts ...Option) (*Pipeline, error) {
	if renderer == nil {
		return nil, errors.New("trailer: renderer is required")
	}
	if strings.TrimSpace(outputDir) == "" {
		return nil, errors.New("trailer: output dir is required")
	}
	p := &Pipeline{
		renderer:    renderer,
		outputDir:   outputDir,
		composition: DefaultComposition,
		extension:   DefaultExtension,
		timeout:     DefaultTimeout,
		maxOutput:   DefaultMaxOutputBytes,
		clock:       time.Now,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// OutputDir returns where trailers are written.
func (p *Pipeline) OutputDir() string {
	return p.outputDir
}

// RendererInstalled reports whether rendering can be attempted at all.
func (p *Pipeline) RendererInstalled() bool {
	return p.renderer.Installed()
}

// Prepare classifies the feature and captures footage when it looks dynamic
// and a deploy URL is known. Capture is skipped when the renderer is
// missing since no trailer could use it.
func (p *Pipeline) Prepare(ctx context.Context, cfg Config, deployURL string) Footage {
	decision := classifier.Classify(cfg.Slug, cfg.Description)
	out := Footage{Decision: decision}
	log := p.logger.With().Str("slug", cfg.Slug).Logger()
	log.Debug().
		Bool("needs_footage", decision.NeedsFootage).
		Str("match", decision.Match).
		Str("source", string(decision.Source)).
		Msg("feature classified")
	switch {
	case !decision.NeedsFootage:
		out.SkipReason = SkipStatic
		return out
	case p.capturer == nil:
		out.SkipReason = SkipNoRecorder
		return out
	case strings.TrimSpace(deployURL) == "":
		out.SkipReason = SkipNoDeployURL
		return out
	case !p.renderer.Installed():
		log.Info().Msg("renderer not installed; skipping footage capture")
		out.SkipReason = SkipRendererMissing
		return out
	}
	out.Attempted = true
	if rel, ok := p.capturer.Capture(ctx, cfg.Slug, deployURL); ok {
		out.Path = rel
	}
	return out
}

// Generate runs Prepare followed by Render.
func (p *Pipeline) Generate(ctx context.Context, cfg Config, deployURL string) Result {
	if err := cfg.Validate(); err != nil {
		return failure(FailureInvalidConfig, err, BuildParams(cfg, ""), Footage{})
	}
	if !p.renderer.Installed() {
		return failure(FailureRendererUnavailable, ErrRendererUnavailable, BuildParams(cfg, ""), Footage{})
	}
	return p.Render(ctx, cfg, p.Prepare(ctx, cfg, deployURL))
}

// Render produces the trailer for cfg using previously prepared footage.
// It never returns a Go error or panics; every problem becomes a failed
// Result.
func (p *Pipeline) Render(ctx context.Context, cfg Config, footage Footage) (result Result) {
	params := BuildParams(cfg, footage.Path)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Interface("panic", r).Str("slug", cfg.Slug).Msg("trailer render panicked")
			result = failure(FailureInternal, fmt.Errorf("trailer: internal error: %v", r), params, footage)
		}
	}()
	if err := cfg.Validate(); err != nil {
		return failure(FailureInvalidConfig, err, params, footage)
	}
	if !p.renderer.Installed() {
		return failure(FailureRendererUnavailable, ErrRendererUnavailable, params, footage)
	}
	if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
		return failure(FailureRenderFailed, fmt.Errorf("trailer: create output dir: %w", err), params, footage)
	}
	output := p.nextOutputPath(params.FeatureSlug)
	log := p.logger.With().Str("slug", params.FeatureSlug).Str("output", output).Logger()
	log.Info().Str("feature_type", string(params.FeatureType)).Msg("rendering trailer")

	err := p.renderer.Render(ctx, RenderRequest{
		Composition:    p.composition,
		OutputPath:     output,
		Params:         params,
		Timeout:        p.timeout,
		MaxOutputBytes: p.maxOutput,
	})
	if err != nil {
		log.Warn().Err(err).Msg("trailer render failed")
		return failure(FailureRenderFailed, err, params, footage)
	}
	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		log.Warn().Msg("renderer exited cleanly without output")
		return failure(FailureEmptyRenderOutput, ErrEmptyRenderOutput, params, footage)
	}
	data, err := os.ReadFile(output)
	if err != nil {
		return failure(FailureRenderFailed, fmt.Errorf("trailer: read output: %w", err), params, footage)
	}
	duration := DurationFor(footage.Captured())
	log.Info().Int64("bytes", info.Size()).Int("duration_seconds", duration).Msg("trailer rendered")
	return Result{
		Success:         true,
		VideoPath:       output,
		VideoEncoded:    base64.StdEncoding.EncodeToString(data),
		SizeBytes:       info.Size(),
		DurationSeconds: duration,
		Params:          params,
		Footage:         footage,
	}
}

// nextOutputPath returns <outputDir>/<slug>_<unixMs><ext>. The millisecond
// component is strictly increasing per pipeline and skips names already on
// disk.
func (p *Pipeline) nextOutputPath(slug string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	stamp := p.clock().UnixMilli()
	if stamp <= p.lastName {
		stamp = p.lastName + 1
	}
	for {
		candidate := filepath.Join(p.outputDir, fmt.Sprintf("%s_%d%s", slug, stamp, p.extension))
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			p.lastName = stamp
			return candidate
		}
		stamp++
	}
}
