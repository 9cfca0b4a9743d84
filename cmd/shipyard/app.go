package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kingrea/shipyard/internal/actions"
	"github.com/kingrea/shipyard/internal/cache"
	"github.com/kingrea/shipyard/internal/config"
	"github.com/kingrea/shipyard/internal/eventbridge"
	"github.com/kingrea/shipyard/internal/eventbus"
	"github.com/kingrea/shipyard/internal/footage"
	"github.com/kingrea/shipyard/internal/logbook"
	"github.com/kingrea/shipyard/internal/logging"
	"github.com/kingrea/shipyard/internal/metrics"
	"github.com/kingrea/shipyard/internal/narration"
	"github.com/kingrea/shipyard/internal/objectstore"
	"github.com/kingrea/shipyard/internal/pipeline"
	"github.com/kingrea/shipyard/internal/procexec"
	"github.com/kingrea/shipyard/internal/store"
	"github.com/kingrea/shipyard/internal/trailer"
	"github.com/kingrea/shipyard/internal/tui"
)

const shutdownTimeout = 3 * time.Second

// app holds everything one invocation of run or loop needs.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	log     zerolog.Logger
	bus     *eventbus.Bus
	journal *logbook.Logbook
	repo    *store.Repository
	objects *objectstore.Store
	orch    *pipeline.Orchestrator
	server  *eventbridge.Server
	runs    eventbridge.RunSource

	unsubscribe []func()
}

func bootstrap(common *commonFlags, stdout io.Writer) (*app, error) {
	project, err := resolveProject(common.project)
	if err != nil {
		return nil, err
	}
	if err := config.InitShipyardDir(project); err != nil {
		return nil, fmt.Errorf("init %s: %w", config.ShipyardDir, err)
	}
	cfg, err := config.NewConfig(project)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	level := cfg.Project.Log.Level
	if common.logLevel != "" {
		level = common.logLevel
	}
	opts := logging.Options{Level: level}
	if !common.tui && logging.ParseLevel(level) <= zerolog.DebugLevel {
		opts.Console = os.Stderr
	}
	logger, err := logging.New(project, opts)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, log: logger.WithComponent("cmd")}
	if err := a.wire(common.tui, stdout); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(withTUI bool, stdout io.Writer) error {
	cfg := a.cfg
	a.bus = eventbus.New()
	if !withTUI {
		a.unsubscribe = append(a.unsubscribe, a.bus.Subscribe(eventbus.ConsoleSink(stdout)))
	}
	journal, err := logbook.New(cfg.JourneyLogPath())
	if err != nil {
		return fmt.Errorf("open logbook: %w", err)
	}
	a.journal = journal
	a.unsubscribe = append(a.unsubscribe, a.bus.Subscribe(journal.Sink()))

	narrator, err := a.narrator()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sink := metrics.NewPrometheusSink(registry, a.logger.WithComponent("metrics"))

	runner := procexec.NewExecRunner(procexec.WithLogger(a.logger.WithComponent("procexec")))

	trailers, err := a.trailerPipeline(runner)
	if err != nil {
		return err
	}
	collab, err := a.collaborators(runner, trailers)
	if err != nil {
		return err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	a.repo = store.NewRepository(cfg.RunsDir())
	a.orch = pipeline.New(a.bus, narrator, collab,
		pipeline.WithPolicy(policy),
		pipeline.WithStore(a.repo),
		pipeline.WithMetrics(sink),
		pipeline.WithLogger(a.logger.WithComponent("pipeline")),
		pipeline.WithCooldown(cfg.Project.Pipeline.Cooldown),
		pipeline.WithIdlePoll(cfg.Project.Pipeline.IdlePoll),
	)
	a.runs = latestRun(a.orch, a.repo)
	a.server = eventbridge.NewServer(eventbridge.SettingsFromConfig(cfg), a.bus,
		eventbridge.WithRuns(a.runs),
		eventbridge.WithGatherer(registry),
		eventbridge.WithLogger(a.logger),
	)
	return nil
}

// narrator loads the built-in catalog, overlaid with .shipyard/narration.yaml
// when present.
func (a *app) narrator() (*narration.Narrator, error) {
	catalog := narration.DefaultCatalog()
	path := filepath.Join(a.cfg.ShipyardProjectDir, "narration.yaml")
	if _, err := os.Stat(path); err == nil {
		override, err := narration.LoadCatalog(path)
		if err != nil {
			return nil, fmt.Errorf("load narration: %w", err)
		}
		catalog = catalog.Merge(override)
	}
	return narration.New(catalog), nil
}

func (a *app) trailerPipeline(runner procexec.Runner) (*trailer.Pipeline, error) {
	cfg := a.cfg
	tc := cfg.Project.Trailer
	renderer := trailer.CommandRenderer{
		Runner:     runner,
		Name:       tc.Renderer.Name,
		Args:       tc.Renderer.Args,
		EntryPoint: tc.Renderer.EntryPoint,
		Dir:        cfg.CompositionRoot(),
		Marker:     cfg.RendererMarker(),
	}
	opts := []trailer.Option{
		trailer.WithComposition(tc.Composition),
		trailer.WithTimeout(tc.Timeout),
		trailer.WithMaxOutputBytes(tc.MaxOutputBytes),
		trailer.WithExtension(tc.Extension),
		trailer.WithLogger(a.logger.WithComponent("trailer")),
	}
	if rec := cfg.Project.Footage.Recorder; rec.Configured() {
		recorder := footage.CommandRecorder{
			Runner:  runner,
			Name:    rec.Name,
			Args:    rec.Args,
			Dir:     rec.Dir,
			WorkDir: filepath.Join(cfg.StateDir(), "raw"),
		}
		coord, err := footage.NewCoordinator(recorder, cfg.FootageDir(),
			footage.WithDuration(cfg.Project.Footage.Duration),
			footage.WithLogger(a.logger.WithComponent("footage")),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, trailer.WithCapturer(coord))
	}
	return trailer.New(renderer, cfg.OutputDir(), opts...)
}

func (a *app) collaborators(runner procexec.Runner, trailers *trailer.Pipeline) (pipeline.Collaborators, error) {
	cfg := a.cfg
	cmds := cfg.Project.Commands
	log := a.logger.WithComponent("actions")
	command := func(spec actions.CommandSpec) *actions.Command {
		return actions.NewCommand(runner, spec, log)
	}

	publisher := &actions.Publisher{Command: command(cmds.Publish), Logger: log}
	if cfg.Project.ObjectStore.Enabled() {
		objects, err := objectstore.New(cfg.Project.ObjectStore)
		if err != nil {
			return pipeline.Collaborators{}, err
		}
		a.objects = objects
		publisher.Uploader = objects
	}

	collab := pipeline.Collaborators{
		Planner:   command(cmds.Plan),
		Builder:   command(cmds.Build),
		Tester:    command(cmds.Test),
		Trailer:   trailers,
		Publisher: publisher,
		Homepage:  command(cmds.Homepage),
		Cleaner:   command(cmds.Cleanup),
	}
	// Without a deploy command or URL template there is nothing to verify.
	if cmds.Deploy.Configured() || cfg.Project.Deploy.URLTemplate != "" {
		collab.Deployer = &actions.Deployer{Command: command(cmds.Deploy), URLTemplate: cfg.Project.Deploy.URLTemplate}
		collab.Verifier = &actions.HTTPVerifier{Path: cfg.Project.Verify.Path, Timeout: cfg.Project.Verify.Timeout}
	}
	for _, sa := range cfg.Project.SideActivities {
		collab.SideActivities = append(collab.SideActivities, &actions.CachedActivity{
			Label: sa.Label,
			Cache: cache.NewCommandCache(runner, sa.Command.Expand(nil), sa.TTL, time.Now),
		})
	}
	return collab, nil
}

// latestRun prefers the in-memory run and falls back to the newest snapshot
// on disk.
func latestRun(orch *pipeline.Orchestrator, repo *store.Repository) eventbridge.RunSourceFunc {
	return func() (pipeline.RunState, bool) {
		if state, ok := orch.Snapshot(); ok {
			return state, true
		}
		state, err := repo.Latest()
		if err != nil {
			return pipeline.RunState{}, false
		}
		return state, true
	}
}

// serve starts the dashboard feed, runs work (and the watch view when
// asked) and shuts the feed down once both are done.
func (a *app) serve(ctx context.Context, withTUI bool, work func(context.Context) error) error {
	if a.objects != nil {
		if err := a.objects.EnsureBucket(ctx); err != nil {
			return err
		}
	}
	if err := a.server.Start(ctx); err != nil && !errors.Is(err, eventbridge.ErrServerDisabled) {
		a.log.Warn().Err(err).Msg("dashboard feed unavailable")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("dashboard feed shutdown")
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return work(gctx)
	})
	if withTUI {
		feed := eventbridge.Local{Source: a.bus, Runs: a.runs}
		g.Go(func() error {
			// Quitting the view stops the work.
			defer cancel()
			return tui.Run(gctx, feed)
		})
	}
	return g.Wait()
}

func (a *app) Close() {
	for _, unsubscribe := range a.unsubscribe {
		unsubscribe()
	}
	if err := a.logger.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "shipyard: close log: %v\n", err)
	}
}
