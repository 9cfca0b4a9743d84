package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/shipyard/internal/pipeline"
)

func writeProjectConfig(t *testing.T, projectDir, body string) {
	t.Helper()
	dir := filepath.Join(projectDir, ShipyardDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(strings.TrimSpace(body)), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestNewConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if got, want := c.OutputDir(), filepath.Join(c.ProjectDir, "out", "trailers"); got != want {
		t.Fatalf("output dir = %q, want %q", got, want)
	}
	if got, want := c.FootageDir(), filepath.Join(c.ProjectDir, "video", "public", "footage"); got != want {
		t.Fatalf("footage dir = %q, want %q", got, want)
	}
	if got, want := c.RendererMarker(), filepath.Join(c.ProjectDir, "video", "node_modules", "remotion", "package.json"); got != want {
		t.Fatalf("marker = %q, want %q", got, want)
	}
	if c.Project.Pipeline.Cooldown != DefaultCooldown {
		t.Fatalf("cooldown = %s", c.Project.Pipeline.Cooldown)
	}
	if c.Project.ObjectStore.Enabled() {
		t.Fatalf("object store should be disabled by default")
	}
}

func TestNewConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	writeProjectConfig(t, projectDir, `
version: 1
log:
  level: DEBUG
paths:
  output_dir: /srv/trailers
  composition_root: remotion
footage:
  duration: 4s
  recorder:
    name: node
    args: [record.js, "{url}"]
trailer:
  composition: Launch
  timeout: 90s
pipeline:
  cooldown: 2m
  default:
    max_attempts: 4
  phases:
    Deploy:
      max_attempts: 6
      backoff: exponential
      delay: 1s
      max_delay: 8s
commands:
  build:
    name: make
    args: [build]
side_activities:
  - label: Weather
    command:
      name: curl
      args: [wttr.in]
    ttl: 5m
`)
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if c.Project.Log.Level != "debug" {
		t.Fatalf("log level = %q", c.Project.Log.Level)
	}
	if c.OutputDir() != "/srv/trailers" {
		t.Fatalf("absolute output dir should be kept, got %q", c.OutputDir())
	}
	if got, want := c.FootageDir(), filepath.Join(c.ProjectDir, "remotion", "public", "footage"); got != want {
		t.Fatalf("footage dir = %q, want %q", got, want)
	}
	if c.Project.Footage.Duration != 4*time.Second || c.Project.Footage.Recorder.Name != "node" {
		t.Fatalf("unexpected footage config: %+v", c.Project.Footage)
	}
	if c.Project.Trailer.Composition != "Launch" || c.Project.Trailer.Timeout != 90*time.Second {
		t.Fatalf("unexpected trailer config: %+v", c.Project.Trailer)
	}
	if c.Project.Trailer.Renderer.Name != "npx" {
		t.Fatalf("renderer should fall back to npx, got %q", c.Project.Trailer.Renderer.Name)
	}
	if c.Project.Commands.Build.Name != "make" {
		t.Fatalf("build command = %+v", c.Project.Commands.Build)
	}
	if len(c.Project.SideActivities) != 1 || c.Project.SideActivities[0].TTL != 5*time.Minute {
		t.Fatalf("side activities = %+v", c.Project.SideActivities)
	}

	policy, err := c.Policy()
	if err != nil {
		t.Fatalf("Policy returned error: %v", err)
	}
	if got := policy.For(pipeline.PhaseBuild).MaxAttempts; got != 4 {
		t.Fatalf("build attempts = %d, want 4", got)
	}
	deploy := policy.For(pipeline.PhaseDeploy)
	if deploy.MaxAttempts != 6 || deploy.Backoff.Strategy != pipeline.StrategyExponential || deploy.Backoff.Max != 8*time.Second {
		t.Fatalf("deploy retry = %+v", deploy)
	}
}

func TestPhaseRetryInheritsConfiguredDefault(t *testing.T) {
	projectDir := t.TempDir()
	writeProjectConfig(t, projectDir, `
version: 1
pipeline:
  default:
    max_attempts: 7
    backoff: exponential
    delay: 500ms
    max_delay: 10s
  phases:
    build:
      backoff: fixed
      delay: 2s
`)
	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	policy, err := c.Policy()
	if err != nil {
		t.Fatalf("Policy returned error: %v", err)
	}
	build := policy.For(pipeline.PhaseBuild)
	if build.MaxAttempts != 7 {
		t.Fatalf("build attempts = %d, want the default's 7", build.MaxAttempts)
	}
	if build.Backoff.Strategy != pipeline.StrategyFixed || build.Backoff.Delay != 2*time.Second {
		t.Fatalf("build backoff = %+v", build.Backoff)
	}
	if build.Backoff.Max != 10*time.Second {
		t.Fatalf("build max delay should inherit 10s, got %s", build.Backoff.Max)
	}
	verify := policy.For(pipeline.PhaseVerify)
	if verify.MaxAttempts != 7 || verify.Backoff.Strategy != pipeline.StrategyExponential || verify.Backoff.Delay != 500*time.Millisecond {
		t.Fatalf("verify retry = %+v", verify)
	}
}

func TestNewConfigRejectsUnknownPhase(t *testing.T) {
	projectDir := t.TempDir()
	writeProjectConfig(t, projectDir, `
version: 1
pipeline:
  phases:
    launch:
      max_attempts: 2
`)
	if _, err := NewConfig(projectDir); err == nil || !strings.Contains(err.Error(), "launch") {
		t.Fatalf("expected unknown phase error, got %v", err)
	}
}

func TestNewConfigRejectsBadBackoffAndLevel(t *testing.T) {
	projectDir := t.TempDir()
	writeProjectConfig(t, projectDir, `
version: 1
pipeline:
  default:
    backoff: sometimes
`)
	if _, err := NewConfig(projectDir); err == nil {
		t.Fatal("expected backoff error")
	}

	writeProjectConfig(t, projectDir, `
version: 1
log:
  level: loud
`)
	if _, err := NewConfig(projectDir); err == nil {
		t.Fatal("expected log level error")
	}
}

func TestNewConfigRequiresObjectStoreCredentials(t *testing.T) {
	projectDir := t.TempDir()
	writeProjectConfig(t, projectDir, `
version: 1
object_store:
  endpoint: minio:9000
  bucket: trailers
`)
	if _, err := NewConfig(projectDir); err == nil || !strings.Contains(err.Error(), "object_store") {
		t.Fatalf("expected object_store error, got %v", err)
	}
}

func TestBridgeDefaultsAndEnvOverrides(t *testing.T) {
	projectDir := t.TempDir()
	writeProjectConfig(t, projectDir, `
version: 1
bridge:
  host: " 10.0.0.5 "
  page_size: 50
`)
	t.Setenv("SHIPYARD_BRIDGE_PORT", "9100")
	t.Setenv("SHIPYARD_BRIDGE_PAGE_SIZE", "25")
	t.Setenv("SHIPYARD_BRIDGE_POLL", "3s")

	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	bridge := c.Project.EventBridge
	if !bridge.IsEnabled() || bridge.Host != "10.0.0.5" {
		t.Fatalf("bridge = %+v", bridge)
	}
	if bridge.Port != 9100 || bridge.PageSize != 25 || bridge.PollInterval != 3*time.Second {
		t.Fatalf("env overrides not applied: %+v", bridge)
	}

	if def := DefaultBridge(); def.Port != DefaultBridgePort || def.PageSize != DefaultBridgePageSize || def.PollInterval != DefaultBridgePoll {
		t.Fatalf("unexpected defaults %+v", def)
	}
}

func TestBridgeRejectsOutOfRangePort(t *testing.T) {
	projectDir := t.TempDir()
	t.Setenv("SHIPYARD_BRIDGE_PORT", "70000")
	if _, err := NewConfig(projectDir); err == nil || !strings.Contains(err.Error(), "bridge") {
		t.Fatalf("expected bridge port error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	projectDir := t.TempDir()
	t.Setenv("SHIPYARD_OUTPUT_DIR", "renders")
	t.Setenv("SHIPYARD_LOG_LEVEL", "warn")
	t.Setenv("SHIPYARD_MINIO_ENDPOINT", "minio:9000")
	t.Setenv("SHIPYARD_MINIO_ACCESS_KEY", "key")
	t.Setenv("SHIPYARD_MINIO_SECRET_KEY", "secret")
	t.Setenv("SHIPYARD_MINIO_BUCKET", "trailers")
	t.Setenv("SHIPYARD_MINIO_USE_SSL", "true")

	c, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if got, want := c.OutputDir(), filepath.Join(c.ProjectDir, "renders"); got != want {
		t.Fatalf("output dir = %q, want %q", got, want)
	}
	if c.Project.Log.Level != "warn" {
		t.Fatalf("log level = %q", c.Project.Log.Level)
	}
	store := c.Project.ObjectStore
	if !store.Enabled() || store.Bucket != "trailers" || !store.UseSSL {
		t.Fatalf("object store = %+v", store)
	}
}

func TestInitShipyardDirWritesLoadableConfig(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitShipyardDir(projectDir); err != nil {
		t.Fatalf("InitShipyardDir returned error: %v", err)
	}
	for _, dir := range []string{"logs", filepath.Join("state", "runs")} {
		if info, err := os.Stat(filepath.Join(projectDir, ShipyardDir, dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected %s to exist: %v", dir, err)
		}
	}
	path := filepath.Join(projectDir, ShipyardDir, "config.yaml")
	if err := os.WriteFile(path, []byte("version: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := InitShipyardDir(projectDir); err != nil {
		t.Fatalf("second InitShipyardDir returned error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "version: 1\n" {
		t.Fatalf("existing config should be preserved, got %q", string(data))
	}

	fresh := t.TempDir()
	if err := InitShipyardDir(fresh); err != nil {
		t.Fatal(err)
	}
	c, err := NewConfig(fresh)
	if err != nil {
		t.Fatalf("default config should load: %v", err)
	}
	if got := c.Project.Pipeline.Phases["deploy"].MaxAttempts; got != 5 {
		t.Fatalf("deploy attempts from default file = %d, want 5", got)
	}
}
