package trailer

import (
	"errors"
	"strings"
	"time"

	"github.com/kingrea/shipyard/internal/classifier"
)

const (
	// DurationWithFootage is the trailer length when real footage is intercut.
	DurationWithFootage = 30
	// DurationSynthetic is the trailer length of a purely synthetic composition.
	DurationSynthetic = 15

	// DefaultComposition names the composition the renderer fills in.
	DefaultComposition = "FeatureTrailer"
	// DefaultTimeout bounds one render.
	DefaultTimeout = 180 * time.Second
	// DefaultMaxOutputBytes caps captured renderer output.
	DefaultMaxOutputBytes = 10 << 20
	// DefaultExtension is the encoded video container.
	DefaultExtension = ".mp4"
)

var (
	// ErrRendererUnavailable means the renderer installation marker is missing.
	ErrRendererUnavailable = errors.New("renderer not installed")
	// ErrEmptyRenderOutput means the renderer exited cleanly without a file.
	ErrEmptyRenderOutput   = errors.New("renderer produced no output file")
)

// FailureKind classifies an unsuccessful Result.
type FailureKind string

const (
	FailureNone                FailureKind = ""
	FailureInvalidConfig       FailureKind = "invalid_config"
	FailureRendererUnavailable FailureKind = "renderer_unavailable"
	FailureRenderFailed        FailureKind = "render_failed"
	FailureEmptyRenderOutput   FailureKind = "empty_render_output"
	FailureInternal            FailureKind = "internal"
)

// FeatureType tells the composition whether footage is present.
type FeatureType string

const (
	FeatureTypeDynamic FeatureType = "dynamic"
	FeatureTypeStatic  FeatureType = "static"
)

// Config is the feature metadata a trailer is built from.
type Config struct {
	Name        string
	Slug        string
	Description string
	Tagline     string
}

// Validate checks the fields filenames and compositions depend on.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Slug) == "" {
		return errors.New("trailer: slug is required")
	}
	if strings.ContainsAny(c.Slug, `/\`) {
		return errors.New("trailer: slug must not contain path separators")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("trailer: name is required")
	}
	return nil
}

// Params is the render-parameter object handed to the composition.
type Params struct {
	FeatureName string      `json:"featureName"`
	FeatureSlug string      `json:"featureSlug"`
	Description string      `json:"description"`
	FeatureType FeatureType `json:"featureType"`
	Tagline     string      `json:"tagline"`
	FootagePath string      `json:"footagePath,omitempty"`
}

// BuildParams assembles render parameters. An empty tagline falls back to a
// generic one built from the name.
func BuildParams(cfg Config, footagePath string) Params {
	featureType := FeatureTypeStatic
	if footagePath != "" {
		featureType = FeatureTypeDynamic
	}
	tagline := strings.TrimSpace(cfg.Tagline)
	if tagline == "" {
		tagline = "Now live: " + strings.TrimSpace(cfg.Name)
	}
	return Params{
		FeatureName: strings.TrimSpace(cfg.Name),
		FeatureSlug: strings.TrimSpace(cfg.Slug),
		Description: strings.TrimSpace(cfg.Description),
		FeatureType: featureType,
		Tagline:     tagline,
		FootagePath: footagePath,
	}
}

// DurationFor returns the trailer length implied by footage presence.
func DurationFor(hasFootage bool) int {
	if hasFootage {
		return DurationWithFootage
	}
	return DurationSynthetic
}

// SkipReason says why no capture was attempted.
type SkipReason string

const (
	SkipStatic          SkipReason = "static"
	SkipNoRecorder      SkipReason = "no_recorder"
	SkipNoDeployURL     SkipReason = "no_deploy_url"
	SkipRendererMissing SkipReason = "renderer_missing"
)

// Footage is the outcome of the footage step. SkipReason is set only when
// Attempted is false.
type Footage struct {
	Decision   classifier.Decision `json:"decision"`
	Attempted  bool                `json:"attempted"`
	SkipReason SkipReason          `json:"skip_reason,omitempty"`
	Path       string              `json:"path,omitempty"`
}

// Captured reports whether usable footage exists.
func (f Footage) Captured() bool {
	return f.Path != ""
}

// Result is what the pipeline hands back. It never carries a Go error;
// failures are described by Failure and Error.
type Result struct {
	Success         bool        `json:"success"`
	VideoPath       string      `json:"video_path,omitempty"`
	VideoEncoded    string      `json:"-"`
	SizeBytes       int64       `json:"size_bytes,omitempty"`
	DurationSeconds int         `json:"duration_seconds,omitempty"`
	Params          Params      `json:"params"`
	Footage         Footage     `json:"footage"`
	Failure         FailureKind `json:"failure,omitempty"`
	Error           string      `json:"error,omitempty"`
}

func failure(kind FailureKind, err error, params Params, footage Footage) Result {
	return Result{Success: false, Failure: kind, Error: err.Error(), Params: params, Footage: footage}
}
