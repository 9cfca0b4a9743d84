// cmd/shipyard/main.go
//
// This is the entry point for the shipyard CLI.
//
// Subcommands:
//   init   create .shipyard/ with a default config
//   run    drive one feature through every phase
//   loop   work through a backlog with cooldowns in between
//   watch  attach the watch view to a running loop's dashboard feed

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kingrea/shipyard/internal/config"
	"github.com/kingrea/shipyard/internal/eventbridge"
	"github.com/kingrea/shipyard/internal/feature"
	"github.com/kingrea/shipyard/internal/pipeline"
	"github.com/kingrea/shipyard/internal/tui"
)

const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitDeferred = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}
	switch args[0] {
	case "init":
		return cmdInit(args[1:], stdout, stderr)
	case "run":
		return cmdRun(ctx, args[1:], stdout, stderr)
	case "loop":
		return cmdLoop(ctx, args[1:], stdout, stderr)
	case "watch":
		return cmdWatch(ctx, args[1:], stderr)
	case "-h", "--help", "help":
		usage(stdout)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		usage(stderr)
		return exitUsage
	}
}

func usage(w io.Writer) {
	fmt.Fprint(w, `usage: shipyard <command> [flags]

commands:
  init                         create .shipyard/ and a default config
  run  -feature feature.yaml   ship one feature (exit 3 when deferred)
  loop -backlog backlog.yaml   ship a backlog with cooldowns in between
  watch                        follow a running loop's dashboard feed

common flags: -project DIR, -log-level LEVEL, -tui (run and loop)
`)
}

type commonFlags struct {
	project  string
	logLevel string
	tui      bool
}

func newFlagSet(name string, stderr io.Writer, withTUI bool) (*flag.FlagSet, *commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	common := &commonFlags{}
	fs.StringVar(&common.project, "project", "", "path to the project directory (defaults to cwd)")
	fs.StringVar(&common.logLevel, "log-level", "", "diagnostic log level (overrides config)")
	if withTUI {
		fs.BoolVar(&common.tui, "tui", false, "attach the watch view in-process")
	}
	return fs, common
}

func resolveProject(project string) (string, error) {
	if strings.TrimSpace(project) == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("determine working directory: %w", err)
		}
		project = cwd
	}
	return filepath.Abs(project)
}

func cmdInit(args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("init", stderr, false)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	project, err := resolveProject(common.project)
	if err != nil {
		return die(stderr, "%v", err)
	}
	if err := config.InitShipyardDir(project); err != nil {
		return die(stderr, "init %s: %v", config.ShipyardDir, err)
	}
	fmt.Fprintf(stdout, "Initialized %s\n", filepath.Join(project, config.ShipyardDir))
	return exitOK
}

func cmdRun(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("run", stderr, true)
	featurePath := fs.String("feature", "", "YAML file describing the feature")
	name := fs.String("name", "", "feature name (instead of -feature)")
	description := fs.String("description", "", "feature description (with -name)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	spec, err := featureFromFlags(*featurePath, *name, *description)
	if err != nil {
		return die(stderr, "%v", err)
	}
	a, err := bootstrap(common, stdout)
	if err != nil {
		return die(stderr, "%v", err)
	}
	defer a.Close()

	var final pipeline.RunState
	err = a.serve(ctx, common.tui, func(ctx context.Context) error {
		state, err := a.orch.Run(ctx, spec)
		final = state
		return err
	})
	if err != nil {
		return die(stderr, "run: %v", err)
	}
	fmt.Fprintf(stderr, "run %s finished: %s", final.ID, final.Status)
	if final.StatusReason != "" {
		fmt.Fprintf(stderr, " (%s)", final.StatusReason)
	}
	fmt.Fprintln(stderr)
	return exitCode(final)
}

func cmdLoop(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, common := newFlagSet("loop", stderr, true)
	backlogPath := fs.String("backlog", "", "YAML backlog of features")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if strings.TrimSpace(*backlogPath) == "" {
		fmt.Fprintln(stderr, "-backlog is required")
		return exitUsage
	}
	backlog, err := feature.LoadBacklog(*backlogPath)
	if err != nil {
		return die(stderr, "%v", err)
	}
	a, err := bootstrap(common, stdout)
	if err != nil {
		return die(stderr, "%v", err)
	}
	defer a.Close()

	err = a.serve(ctx, common.tui, func(ctx context.Context) error {
		return a.orch.Loop(ctx, backlog)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return die(stderr, "loop: %v", err)
	}
	return exitOK
}

func cmdWatch(ctx context.Context, args []string, stderr io.Writer) int {
	fs, common := newFlagSet("watch", stderr, false)
	wait := fs.Duration("wait", 5*time.Second, "how long to wait for the feed to come up")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	project, err := resolveProject(common.project)
	if err != nil {
		return die(stderr, "%v", err)
	}
	cfg, err := config.NewConfig(project)
	if err != nil {
		return die(stderr, "load config: %v", err)
	}
	settings := eventbridge.SettingsFromConfig(cfg)
	client := eventbridge.NewClient(settings.URL(), nil)
	waitCtx, cancel := context.WithTimeout(ctx, *wait)
	err = client.WaitReady(waitCtx, 0)
	cancel()
	if err != nil {
		return die(stderr, "is a loop running? %v", err)
	}
	if err := tui.Run(ctx, client, tui.WithRefreshInterval(settings.PollInterval)); err != nil {
		return die(stderr, "watch: %v", err)
	}
	return exitOK
}

func featureFromFlags(path, name, description string) (feature.Spec, error) {
	if strings.TrimSpace(path) != "" {
		return feature.LoadSpec(path)
	}
	if strings.TrimSpace(name) == "" {
		return feature.Spec{}, errors.New("either -feature or -name is required")
	}
	spec := feature.Spec{Name: name, Description: description}.Normalize()
	return spec, spec.Validate()
}

func exitCode(state pipeline.RunState) int {
	switch state.Status {
	case pipeline.StatusCompleted:
		return exitOK
	case pipeline.StatusDeferred:
		return exitDeferred
	default:
		return exitFailure
	}
}

func die(stderr io.Writer, format string, args ...any) int {
	fmt.Fprintf(stderr, "shipyard: "+format+"\n", args...)
	return exitFailure
}
