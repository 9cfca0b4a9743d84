// Package config handles configuration and the .shipyard directory
// structure. Every project that uses shipyard gets a .shipyard/ folder in
// its root holding config, logs and run state.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kingrea/shipyard/internal/actions"
	"github.com/kingrea/shipyard/internal/objectstore"
	"github.com/kingrea/shipyard/internal/pipeline"
)

const (
	// ShipyardDir is the name of the directory we create in each project.
	ShipyardDir = ".shipyard"

	defaultOutputDir       = "out/trailers"
	defaultCompositionRoot = "video"
	defaultFootageSubdir   = "public/footage"

	DefaultCaptureDuration = 6 * time.Second
	DefaultRenderTimeout   = 180 * time.Second
	DefaultMaxOutputBytes  = 10 << 20
	DefaultCooldown        = 10 * time.Minute
	DefaultLogLevel        = "info"

	DefaultBridgeHost     = "127.0.0.1"
	DefaultBridgePort     = 8765
	DefaultBridgePageSize = 500
	DefaultBridgePoll     = time.Second
)

const defaultProjectConfigYAML = `# shipyard project configuration
version: 1

log:
  level: info

paths:
  # Relative paths resolve against the project directory.
  output_dir: out/trailers
  composition_root: video
  # Defaults to <composition_root>/public/footage.
  # footage_dir: video/public/footage

footage:
  duration: 6s
  # recorder:
  #   name: node
  #   args: [scripts/record.js, "{url}", "{seconds}", "{output}"]

trailer:
  composition: FeatureTrailer
  timeout: 180s
  max_output_bytes: 10485760
  renderer:
    name: npx
    args: [remotion, render]
    entry_point: src/index.ts
    marker: node_modules/remotion/package.json

pipeline:
  cooldown: 10m
  default:
    max_attempts: 3
    backoff: immediate
  phases:
    deploy:
      max_attempts: 5
      backoff: exponential
      delay: 5s
      max_delay: 1m

# Commands backing each phase. Placeholders: {name} {slug} {description}
# {tagline} {url} {run_id} {video} {video_url}. Unset commands succeed.
commands: {}

verify:
  path: /

bridge:
  enabled: true
  host: 127.0.0.1
  port: 8765
  page_size: 500
  # How often the watch dashboard polls the feed.
  poll_interval: 1s
`

// LogConfig controls diagnostics.
type LogConfig struct {
	Level string `yaml:"level"`
}

// PathsConfig locates trailer inputs and outputs.
type PathsConfig struct {
	OutputDir       string `yaml:"output_dir"`
	CompositionRoot string `yaml:"composition_root"`
	FootageDir      string `yaml:"footage_dir,omitempty"`
}

// FootageConfig configures live capture.
type FootageConfig struct {
	Duration time.Duration       `yaml:"duration"`
	Recorder actions.CommandSpec `yaml:"recorder,omitempty"`
}

// RendererConfig describes the composition renderer command.
type RendererConfig struct {
	Name       string   `yaml:"name"`
	Args       []string `yaml:"args,omitempty"`
	EntryPoint string   `yaml:"entry_point,omitempty"`
	// Marker is resolved against the composition root.
	Marker string `yaml:"marker"`
}

// TrailerConfig configures rendering.
type TrailerConfig struct {
	Composition    string         `yaml:"composition"`
	Timeout        time.Duration  `yaml:"timeout"`
	MaxOutputBytes int            `yaml:"max_output_bytes"`
	Extension      string         `yaml:"extension,omitempty"`
	Renderer       RendererConfig `yaml:"renderer"`
}

// RetryConfig is the on-disk form of pipeline.Retry.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     string        `yaml:"backoff,omitempty"`
	Delay       time.Duration `yaml:"delay,omitempty"`
	MaxDelay    time.Duration `yaml:"max_delay,omitempty"`
}

// PipelineConfig configures the orchestrator.
type PipelineConfig struct {
	Cooldown time.Duration          `yaml:"cooldown"`
	IdlePoll time.Duration          `yaml:"idle_poll,omitempty"`
	Default  RetryConfig            `yaml:"default"`
	Phases   map[string]RetryConfig `yaml:"phases,omitempty"`
}

// CommandsConfig holds the command for each command-backed phase.
type CommandsConfig struct {
	Plan     actions.CommandSpec `yaml:"plan,omitempty"`
	Build    actions.CommandSpec `yaml:"build,omitempty"`
	Deploy   actions.CommandSpec `yaml:"deploy,omitempty"`
	Test     actions.CommandSpec `yaml:"test,omitempty"`
	Publish  actions.CommandSpec `yaml:"publish,omitempty"`
	Homepage actions.CommandSpec `yaml:"homepage,omitempty"`
	Cleanup  actions.CommandSpec `yaml:"cleanup,omitempty"`
}

// DeployConfig supplies a fallback URL when the deploy command prints none.
type DeployConfig struct {
	URLTemplate string `yaml:"url_template,omitempty"`
}

// VerifyConfig configures the HTTP verifier.
type VerifyConfig struct {
	Path    string        `yaml:"path,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// SideActivityConfig is one cooldown activity.
type SideActivityConfig struct {
	Label   string              `yaml:"label"`
	Command actions.CommandSpec `yaml:"command"`
	TTL     time.Duration       `yaml:"ttl,omitempty"`
}

// BridgeConfig configures the dashboard feed server and its watchers.
type BridgeConfig struct {
	Enabled      *bool         `yaml:"enabled,omitempty"`
	Host         string        `yaml:"host,omitempty"`
	Port         int           `yaml:"port,omitempty"`
	PageSize     int           `yaml:"page_size,omitempty"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
}

// DefaultBridge returns the feed settings used when nothing is configured.
func DefaultBridge() BridgeConfig {
	var bc BridgeConfig
	bc.applyDefaults()
	return bc
}

// IsEnabled reports whether the feed server should listen. Unset means yes.
func (bc BridgeConfig) IsEnabled() bool {
	return bc.Enabled == nil || *bc.Enabled
}

func (bc *BridgeConfig) applyDefaults() {
	if strings.TrimSpace(bc.Host) == "" {
		bc.Host = DefaultBridgeHost
	}
	if bc.Port == 0 {
		bc.Port = DefaultBridgePort
	}
	if bc.PageSize <= 0 {
		bc.PageSize = DefaultBridgePageSize
	}
	if bc.PollInterval <= 0 {
		bc.PollInterval = DefaultBridgePoll
	}
}

func (bc *BridgeConfig) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("SHIPYARD_BRIDGE_ENABLED")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			bc.Enabled = &parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("SHIPYARD_BRIDGE_HOST")); v != "" {
		bc.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("SHIPYARD_BRIDGE_PORT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			bc.Port = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("SHIPYARD_BRIDGE_PAGE_SIZE")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			bc.PageSize = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("SHIPYARD_BRIDGE_POLL")); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			bc.PollInterval = parsed
		}
	}
}

func (bc BridgeConfig) validate() error {
	if bc.Port < 1 || bc.Port > 65535 {
		return fmt.Errorf("port %d is out of range", bc.Port)
	}
	return nil
}

// ProjectConfig models .shipyard/config.yaml.
type ProjectConfig struct {
	Version        int                  `yaml:"version"`
	Log            LogConfig            `yaml:"log"`
	Paths          PathsConfig          `yaml:"paths"`
	Footage        FootageConfig        `yaml:"footage"`
	Trailer        TrailerConfig        `yaml:"trailer"`
	Pipeline       PipelineConfig       `yaml:"pipeline"`
	Commands       CommandsConfig       `yaml:"commands"`
	Deploy         DeployConfig         `yaml:"deploy,omitempty"`
	Verify         VerifyConfig         `yaml:"verify,omitempty"`
	SideActivities []SideActivityConfig `yaml:"side_activities,omitempty"`
	EventBridge    BridgeConfig         `yaml:"bridge"`
	ObjectStore    objectstore.Config   `yaml:"object_store,omitempty"`
}

// Config holds the runtime configuration for shipyard.
type Config struct {
	// ProjectDir is the directory shipyard was started in.
	ProjectDir string

	// ShipyardProjectDir is ProjectDir/.shipyard
	ShipyardProjectDir string

	Project ProjectConfig
}

// InitShipyardDir creates the .shipyard directory structure and a default
// config file when none exists.
//
// Structure created:
// .shipyard/
// ├── logs/         <- shipyard.log diagnostics and journey.log narration
// └── state/
//
//	└── runs/     <- one JSON snapshot per run
func InitShipyardDir(projectDir string) error {
	shipyardDir := filepath.Join(projectDir, ShipyardDir)
	dirs := []string{
		filepath.Join(shipyardDir, "logs"),
		filepath.Join(shipyardDir, "state", "runs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(shipyardDir, "config.yaml"))
}

// NewConfig loads .shipyard/config.yaml (when present) and applies
// environment overrides.
func NewConfig(projectDir string) (*Config, error) {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return nil, fmt.Errorf("config: resolve project dir: %w", err)
	}
	cfg := &Config{
		ProjectDir:         abs,
		ShipyardProjectDir: filepath.Join(abs, ShipyardDir),
		Project:            defaultProjectConfig(),
	}
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.ShipyardProjectDir, "logs")
}

// StateDir returns the path to the state directory.
func (c *Config) StateDir() string {
	return filepath.Join(c.ShipyardProjectDir, "state")
}

// RunsDir returns the directory holding run snapshots.
func (c *Config) RunsDir() string {
	return filepath.Join(c.StateDir(), "runs")
}

// JourneyLogPath is the narrated logbook file.
func (c *Config) JourneyLogPath() string {
	return filepath.Join(c.LogsDir(), "journey.log")
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.ShipyardProjectDir, "config.yaml")
}

// OutputDir is where trailers are written.
func (c *Config) OutputDir() string {
	return c.Project.Paths.OutputDir
}

// CompositionRoot is the renderer project directory.
func (c *Config) CompositionRoot() string {
	return c.Project.Paths.CompositionRoot
}

// FootageDir is where captured footage is copied.
func (c *Config) FootageDir() string {
	return c.Project.Paths.FootageDir
}

// RendererMarker is the absolute path of the installation marker.
func (c *Config) RendererMarker() string {
	return resolvePath(c.CompositionRoot(), c.Project.Trailer.Renderer.Marker)
}

// Policy converts the retry settings into a pipeline policy. Unset fields
// of pipeline.default fall back to the built-in defaults, and unset fields
// of a phase entry fall back to the resolved pipeline.default.
func (c *Config) Policy() (pipeline.Policy, error) {
	def, err := c.Project.Pipeline.Default.overlay(pipeline.DefaultPolicy().Default)
	if err != nil {
		return pipeline.Policy{}, fmt.Errorf("config: pipeline.default: %w", err)
	}
	policy := pipeline.Policy{Default: def}
	for name, raw := range c.Project.Pipeline.Phases {
		phase, err := pipeline.ParsePhase(name)
		if err != nil {
			return pipeline.Policy{}, fmt.Errorf("config: pipeline.phases: %w", err)
		}
		r, err := raw.overlay(def)
		if err != nil {
			return pipeline.Policy{}, fmt.Errorf("config: pipeline.phases.%s: %w", name, err)
		}
		policy = policy.With(phase, r)
	}
	return policy, nil
}

// overlay returns base with every field rc sets replaced.
func (rc RetryConfig) overlay(base pipeline.Retry) (pipeline.Retry, error) {
	out := base
	if rc.MaxAttempts > 0 {
		out.MaxAttempts = rc.MaxAttempts
	}
	if rc.Backoff != "" {
		strategy, err := pipeline.ParseStrategy(rc.Backoff)
		if err != nil {
			return pipeline.Retry{}, err
		}
		out.Backoff.Strategy = strategy
	}
	if rc.Delay > 0 {
		out.Backoff.Delay = rc.Delay
	}
	if rc.MaxDelay > 0 {
		out.Backoff.Max = rc.MaxDelay
	}
	return out, nil
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	parsed := defaultProjectConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("config: read %s: %w", path, err)
	default:
		parsed = ProjectConfig{}
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	parsed.applyDefaults()
	parsed.applyEnvOverrides()
	parsed.normalize(c.ProjectDir)
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Project = parsed
	return nil
}

func defaultProjectConfig() ProjectConfig {
	var pc ProjectConfig
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if strings.TrimSpace(pc.Log.Level) == "" {
		pc.Log.Level = DefaultLogLevel
	}
	if strings.TrimSpace(pc.Paths.OutputDir) == "" {
		pc.Paths.OutputDir = defaultOutputDir
	}
	if strings.TrimSpace(pc.Paths.CompositionRoot) == "" {
		pc.Paths.CompositionRoot = defaultCompositionRoot
	}
	if strings.TrimSpace(pc.Trailer.Renderer.Name) == "" {
		pc.Trailer.Renderer = RendererConfig{
			Name:       "npx",
			Args:       []string{"remotion", "render"},
			EntryPoint: "src/index.ts",
			Marker:     "node_modules/remotion/package.json",
		}
	}
	if strings.TrimSpace(pc.Trailer.Renderer.Marker) == "" {
		pc.Trailer.Renderer.Marker = "node_modules/.bin/" + pc.Trailer.Renderer.Name
	}
	if pc.Footage.Duration <= 0 {
		pc.Footage.Duration = DefaultCaptureDuration
	}
	if pc.Trailer.Timeout <= 0 {
		pc.Trailer.Timeout = DefaultRenderTimeout
	}
	if pc.Trailer.MaxOutputBytes <= 0 {
		pc.Trailer.MaxOutputBytes = DefaultMaxOutputBytes
	}
	if pc.Pipeline.Cooldown <= 0 {
		pc.Pipeline.Cooldown = DefaultCooldown
	}
	if pc.Pipeline.Default.MaxAttempts <= 0 {
		pc.Pipeline.Default.MaxAttempts = pipeline.DefaultMaxAttempts
	}
	pc.EventBridge.applyDefaults()
}

func (pc *ProjectConfig) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("SHIPYARD_OUTPUT_DIR")); v != "" {
		pc.Paths.OutputDir = v
	}
	if v := strings.TrimSpace(os.Getenv("SHIPYARD_COMPOSITION_ROOT")); v != "" {
		pc.Paths.CompositionRoot = v
	}
	if v := strings.TrimSpace(os.Getenv("SHIPYARD_FOOTAGE_DIR")); v != "" {
		pc.Paths.FootageDir = v
	}
	if v := strings.TrimSpace(os.Getenv("SHIPYARD_LOG_LEVEL")); v != "" {
		pc.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("SHIPYARD_MINIO_ENDPOINT")); v != "" {
		pc.ObjectStore.Endpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("SHIPYARD_MINIO_ACCESS_KEY")); v != "" {
		pc.ObjectStore.AccessKey = v
	}
	if v := strings.TrimSpace(os.Getenv("SHIPYARD_MINIO_SECRET_KEY")); v != "" {
		pc.ObjectStore.SecretKey = v
	}
	if v := strings.TrimSpace(os.Getenv("SHIPYARD_MINIO_BUCKET")); v != "" {
		pc.ObjectStore.Bucket = v
	}
	if v := strings.TrimSpace(os.Getenv("SHIPYARD_MINIO_USE_SSL")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			pc.ObjectStore.UseSSL = parsed
		}
	}
	pc.EventBridge.applyEnvOverrides()
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Log.Level = strings.ToLower(strings.TrimSpace(pc.Log.Level))
	pc.Paths.OutputDir = resolvePath(base, pc.Paths.OutputDir)
	pc.Paths.CompositionRoot = resolvePath(base, pc.Paths.CompositionRoot)
	if strings.TrimSpace(pc.Paths.FootageDir) == "" {
		pc.Paths.FootageDir = filepath.Join(pc.Paths.CompositionRoot, filepath.FromSlash(defaultFootageSubdir))
	} else {
		pc.Paths.FootageDir = resolvePath(base, pc.Paths.FootageDir)
	}
	pc.Trailer.Composition = strings.TrimSpace(pc.Trailer.Composition)
	pc.Trailer.Renderer.Name = strings.TrimSpace(pc.Trailer.Renderer.Name)
	pc.EventBridge.Host = strings.TrimSpace(pc.EventBridge.Host)
	normalized := make(map[string]RetryConfig, len(pc.Pipeline.Phases))
	for name, rc := range pc.Pipeline.Phases {
		normalized[strings.ToLower(strings.TrimSpace(name))] = rc
	}
	pc.Pipeline.Phases = normalized
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	switch pc.Log.Level {
	case "trace", "debug", "info", "warn", "error", "disabled":
	default:
		return fmt.Errorf("log.level %q is not a known level", pc.Log.Level)
	}
	if _, err := pipeline.ParseStrategy(pc.Pipeline.Default.Backoff); err != nil {
		return fmt.Errorf("pipeline.default: %w", err)
	}
	for name, rc := range pc.Pipeline.Phases {
		if _, err := pipeline.ParsePhase(name); err != nil {
			return fmt.Errorf("pipeline.phases: %w", err)
		}
		if _, err := pipeline.ParseStrategy(rc.Backoff); err != nil {
			return fmt.Errorf("pipeline.phases.%s: %w", name, err)
		}
	}
	if err := pc.EventBridge.validate(); err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	for i, sa := range pc.SideActivities {
		if !sa.Command.Configured() {
			return fmt.Errorf("side_activities[%d]: command name is required", i)
		}
	}
	if pc.ObjectStore.Enabled() {
		if err := pc.ObjectStore.Validate(); err != nil {
			return fmt.Errorf("object_store: %w", err)
		}
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0o644)
}
