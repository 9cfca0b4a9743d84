package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kingrea/shipyard/internal/config"
	"github.com/kingrea/shipyard/internal/pipeline"
)

func TestUsageAndUnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), nil, &stdout, &stderr); code != exitUsage {
		t.Fatalf("expected usage exit, got %d", code)
	}
	if code := run(context.Background(), []string{"launch"}, &stdout, &stderr); code != exitUsage {
		t.Fatalf("expected usage exit for unknown command, got %d", code)
	}
	if !strings.Contains(stderr.String(), `unknown command "launch"`) {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestInitCreatesShipyardDir(t *testing.T) {
	project := t.TempDir()
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"init", "-project", project}, &stdout, &stderr); code != exitOK {
		t.Fatalf("init exit %d: %s", code, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(project, config.ShipyardDir, "config.yaml")); err != nil {
		t.Fatalf("expected config.yaml: %v", err)
	}
}

func TestRunWithoutCommandsCompletes(t *testing.T) {
	t.Setenv("SHIPYARD_BRIDGE_ENABLED", "false")
	project := t.TempDir()
	var stdout, stderr bytes.Buffer
	args := []string{"run", "-project", project, "-name", "Dark Mode", "-description", "A theme toggle"}
	if code := run(context.Background(), args, &stdout, &stderr); code != exitOK {
		t.Fatalf("run exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "[dark-mode] ") {
		t.Fatalf("expected narrated lines on stdout, got:\n%s", stdout.String())
	}
	if !strings.Contains(stderr.String(), "completed") {
		t.Fatalf("expected completion summary, got %q", stderr.String())
	}
	runs, err := os.ReadDir(filepath.Join(project, config.ShipyardDir, "state", "runs"))
	if err != nil || len(runs) != 1 {
		t.Fatalf("expected one run snapshot, got %v (%v)", runs, err)
	}
	journal, err := os.ReadFile(filepath.Join(project, config.ShipyardDir, "logs", "journey.log"))
	if err != nil || !strings.Contains(string(journal), "[dark-mode]") {
		t.Fatalf("expected journey log entries: %v", err)
	}
}

func TestRunRequiresFeature(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"run", "-project", t.TempDir()}, &stdout, &stderr); code != exitFailure {
		t.Fatalf("expected failure, got %d", code)
	}
}

func TestLoopRequiresBacklog(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(context.Background(), []string{"loop"}, &stdout, &stderr); code != exitUsage {
		t.Fatalf("expected usage exit, got %d", code)
	}
}

func TestExitCode(t *testing.T) {
	cases := map[pipeline.Status]int{
		pipeline.StatusCompleted: exitOK,
		pipeline.StatusDeferred:  exitDeferred,
		pipeline.StatusRunning:   exitFailure,
	}
	for status, want := range cases {
		if got := exitCode(pipeline.RunState{Status: status}); got != want {
			t.Fatalf("exitCode(%s) = %d, want %d", status, got, want)
		}
	}
}
