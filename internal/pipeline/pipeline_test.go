package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kingrea/shipyard/internal/eventbus"
	"github.com/kingrea/shipyard/internal/feature"
	"github.com/kingrea/shipyard/internal/narration"
	"github.com/kingrea/shipyard/internal/trailer"
)

type firstLine struct{}

func (firstLine) Intn(int) int { return 0 }

type harness struct {
	bus    *eventbus.Bus
	orch   *Orchestrator
	waits  []time.Duration
	saves  []RunState
	mu     sync.Mutex
	idSeed int
}

func (h *harness) Save(state RunState) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saves = append(h.saves, state)
	return nil
}

func newHarness(t *testing.T, collab Collaborators, opts ...Option) *harness {
	t.Helper()
	h := &harness{bus: eventbus.New()}
	narrator := narration.New(narration.DefaultCatalog(), narration.WithRand(firstLine{}))
	base := []Option{
		WithStore(h),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			h.waits = append(h.waits, d)
			return ctx.Err()
		}),
		WithIDs(func() string {
			h.idSeed++
			return "run-" + string(rune('0'+h.idSeed))
		}),
	}
	h.orch = New(h.bus, narrator, collab, append(base, opts...)...)
	return h
}

func (h *harness) texts() []string {
	var out []string
	for _, e := range h.bus.Events() {
		out = append(out, e.Text)
	}
	return out
}

type funcBuilder func(ctx context.Context, spec feature.Spec) error

func (f funcBuilder) Build(ctx context.Context, spec feature.Spec) error { return f(ctx, spec) }

type funcPlanner func(ctx context.Context, spec feature.Spec) error

func (f funcPlanner) Plan(ctx context.Context, spec feature.Spec) error { return f(ctx, spec) }

type staticDeployer string

func (d staticDeployer) Deploy(context.Context, feature.Spec) (string, error) { return string(d), nil }

type stubTrailer struct {
	footage trailer.Footage
	result  trailer.Result
	renders int
}

func (s *stubTrailer) Prepare(context.Context, trailer.Config, string) trailer.Footage {
	return s.footage
}

func (s *stubTrailer) Render(_ context.Context, _ trailer.Config, footage trailer.Footage) trailer.Result {
	s.renders++
	res := s.result
	res.Footage = footage
	return res
}

type recordingPublisher struct {
	releases []Release
	err      error
}

func (p *recordingPublisher) Publish(_ context.Context, r Release) (string, error) {
	p.releases = append(p.releases, r)
	if p.err != nil {
		return "", p.err
	}
	return "https://cdn.example.test/" + r.Feature.Slug, nil
}

type recordingHomepage struct{ releases []Release }

func (h *recordingHomepage) UpdateHomepage(_ context.Context, r Release) error {
	h.releases = append(h.releases, r)
	return nil
}

var darkMode = feature.Spec{Name: "Dark Mode", Slug: "dark-mode", Description: "toggle the theme"}

func phasesOf(attempts []PhaseAttempt) []Phase {
	var out []Phase
	for _, a := range attempts {
		out = append(out, a.Phase)
	}
	return out
}

func TestRunCompletesEveryPhaseInOrder(t *testing.T) {
	h := newHarness(t, Collaborators{Deployer: staticDeployer("https://app.example.test/dark-mode")})

	state, err := h.orch.Run(context.Background(), darkMode)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if state.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", state.Status, state.StatusReason)
	}
	if state.CurrentPhase != PhaseCooldown {
		t.Fatalf("expected cooldown phase, got %s", state.CurrentPhase)
	}
	want := Phases()[:len(Phases())-1]
	got := phasesOf(state.Attempts)
	if len(got) != len(want) {
		t.Fatalf("expected %d attempts, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("attempt %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if state.DeployURL != "https://app.example.test/dark-mode" {
		t.Fatalf("deploy url not recorded: %q", state.DeployURL)
	}
	if state.ID != "run-1" {
		t.Fatalf("unexpected id %q", state.ID)
	}
	if h.orch.Active() {
		t.Fatalf("run should no longer be active")
	}
	if last := h.saves[len(h.saves)-1]; last.Status != StatusCompleted || last.FinishedAt.IsZero() {
		t.Fatalf("final snapshot not persisted: %+v", last)
	}
}

func TestPhaseFailingCeilingTimesDefers(t *testing.T) {
	calls := 0
	builder := funcBuilder(func(context.Context, feature.Spec) error {
		calls++
		return errors.New("compile error")
	})
	deployer := staticDeployer("https://never")
	h := newHarness(t, Collaborators{Builder: builder, Deployer: deployer})

	state, err := h.orch.Run(context.Background(), darkMode)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if state.Status != StatusDeferred {
		t.Fatalf("expected deferred, got %s", state.Status)
	}
	if calls != DefaultMaxAttempts {
		t.Fatalf("expected %d build attempts, got %d", DefaultMaxAttempts, calls)
	}
	if state.CurrentPhase != PhaseBuild {
		t.Fatalf("expected to stop at build, got %s", state.CurrentPhase)
	}
	if len(state.AttemptsFor(PhaseDeploy)) != 0 {
		t.Fatalf("deploy must not run after deferral")
	}
	if !strings.Contains(state.StatusReason, "compile error") {
		t.Fatalf("reason should carry the error: %q", state.StatusReason)
	}
	texts := strings.Join(h.texts(), "\n")
	if !strings.Contains(texts, "[dark-mode] The build kept failing after 3 attempts. Dark Mode is parked for later.") {
		t.Fatalf("expected exhausted narration, got:\n%s", texts)
	}
}

func TestPhaseRecoveringBeforeCeilingAdvances(t *testing.T) {
	calls := 0
	builder := funcBuilder(func(context.Context, feature.Spec) error {
		calls++
		if calls < DefaultMaxAttempts {
			return errors.New("flaky")
		}
		return nil
	})
	h := newHarness(t, Collaborators{Builder: builder})

	state, _ := h.orch.Run(context.Background(), darkMode)
	if state.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", state.Status, state.StatusReason)
	}
	builds := state.AttemptsFor(PhaseBuild)
	if len(builds) != DefaultMaxAttempts {
		t.Fatalf("expected %d build attempts, got %d", DefaultMaxAttempts, len(builds))
	}
	for i, a := range builds {
		if a.Attempt != i+1 {
			t.Fatalf("attempt numbers must increase from 1: %+v", builds)
		}
	}
	if builds[len(builds)-1].Outcome != OutcomeSuccess {
		t.Fatalf("last build attempt should succeed")
	}
	deploys := state.AttemptsFor(PhaseDeploy)
	if len(deploys) != 1 || deploys[0].Attempt != 1 {
		t.Fatalf("attempt counter should reset on advance: %+v", deploys)
	}
}

func TestRetryNarrationAndBackoff(t *testing.T) {
	calls := 0
	builder := funcBuilder(func(context.Context, feature.Spec) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	policy := DefaultPolicy().With(PhaseBuild, Retry{MaxAttempts: 4, Backoff: Backoff{Strategy: StrategyExponential, Delay: time.Second}})
	h := newHarness(t, Collaborators{Builder: builder}, WithPolicy(policy))

	if _, err := h.orch.Run(context.Background(), darkMode); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.waits) != 2 || h.waits[0] != time.Second || h.waits[1] != 2*time.Second {
		t.Fatalf("unexpected waits %v", h.waits)
	}
	retries := 0
	for _, line := range h.texts() {
		if strings.HasPrefix(line, "[dark-mode] Build broke on attempt") {
			retries++
		}
	}
	if retries != 2 {
		t.Fatalf("expected two retry lines, got %d in %v", retries, h.texts())
	}
}

func TestTrailerFailureStillPublishes(t *testing.T) {
	tr := &stubTrailer{result: trailer.Result{Success: false, Error: "renderer not installed", Failure: trailer.FailureRendererUnavailable}}
	pub := &recordingPublisher{}
	home := &recordingHomepage{}
	h := newHarness(t, Collaborators{Trailer: tr, Publisher: pub, Homepage: home})

	state, _ := h.orch.Run(context.Background(), darkMode)
	if state.Status != StatusCompleted {
		t.Fatalf("trailer failure must not defer the run: %s (%s)", state.Status, state.StatusReason)
	}
	if tr.renders != 1 {
		t.Fatalf("trailer must not be retried, rendered %d times", tr.renders)
	}
	if len(pub.releases) != 1 || pub.releases[0].Trailer != nil {
		t.Fatalf("publish should run without a video: %+v", pub.releases)
	}
	if len(home.releases) != 1 {
		t.Fatalf("homepage should still update")
	}
	if state.Trailer == nil || state.Trailer.Success {
		t.Fatalf("trailer result should be recorded as failed")
	}
	if state.PublishedURL != "https://cdn.example.test/dark-mode" {
		t.Fatalf("unexpected published url %q", state.PublishedURL)
	}
}

func TestTrailerSuccessIsPublished(t *testing.T) {
	tr := &stubTrailer{
		footage: trailer.Footage{Attempted: true, Path: "footage/dark-mode_footage.webm"},
		result:  trailer.Result{Success: true, VideoPath: "/out/dark-mode_1.mp4", DurationSeconds: 30},
	}
	pub := &recordingPublisher{}
	h := newHarness(t, Collaborators{Trailer: tr, Publisher: pub})

	state, _ := h.orch.Run(context.Background(), darkMode)
	if state.FootagePath() != "footage/dark-mode_footage.webm" {
		t.Fatalf("footage not recorded: %+v", state.Footage)
	}
	if len(pub.releases) != 1 || pub.releases[0].Trailer == nil || pub.releases[0].Trailer.VideoPath != "/out/dark-mode_1.mp4" {
		t.Fatalf("publisher did not receive the trailer: %+v", pub.releases)
	}
	found := false
	for _, line := range h.texts() {
		if strings.Contains(line, "30 seconds") {
			found = true
		}
	}
	if !found {
		t.Fatalf("trailer success narration should mention the duration: %v", h.texts())
	}
}

func TestRecordSkipNarratesReason(t *testing.T) {
	tr := &stubTrailer{
		footage: trailer.Footage{SkipReason: trailer.SkipRendererMissing},
		result:  trailer.Result{Failure: trailer.FailureRendererUnavailable, Error: "renderer not installed"},
	}
	h := newHarness(t, Collaborators{Trailer: tr})
	state, _ := h.orch.Run(context.Background(), darkMode)

	records := state.AttemptsFor(PhaseRecord)
	if len(records) != 1 || records[0].Outcome != OutcomeSkipped {
		t.Fatalf("expected one skipped record attempt, got %+v", records)
	}
	if state.Footage.SkipReason != trailer.SkipRendererMissing {
		t.Fatalf("skip reason not kept on the run: %+v", state.Footage)
	}
	texts := strings.Join(h.texts(), "\n")
	if strings.Contains(texts, "static enough") {
		t.Fatalf("renderer-missing skip must not be narrated as static:\n%s", texts)
	}
	if !strings.Contains(texts, "No video renderer installed") {
		t.Fatalf("expected the renderer-missing line:\n%s", texts)
	}
}

func TestStaticRecordSkipKeepsDefaultLine(t *testing.T) {
	tr := &stubTrailer{
		footage: trailer.Footage{SkipReason: trailer.SkipStatic},
		result:  trailer.Result{Success: true, DurationSeconds: 15},
	}
	h := newHarness(t, Collaborators{Trailer: tr})
	h.orch.Run(context.Background(), darkMode)
	if texts := strings.Join(h.texts(), "\n"); !strings.Contains(texts, "Dark Mode is static enough") {
		t.Fatalf("expected the static skip line:\n%s", texts)
	}
}

func TestRecordFailureDegrades(t *testing.T) {
	tr := &stubTrailer{
		footage: trailer.Footage{Attempted: true},
		result:  trailer.Result{Success: true, DurationSeconds: 15},
	}
	h := newHarness(t, Collaborators{Trailer: tr})
	state, _ := h.orch.Run(context.Background(), darkMode)
	if state.Status != StatusCompleted {
		t.Fatalf("record failure must not defer: %s", state.Status)
	}
	records := state.AttemptsFor(PhaseRecord)
	if len(records) != 1 || records[0].Outcome != OutcomeFailure {
		t.Fatalf("expected one failed record attempt, got %+v", records)
	}
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	planner := funcPlanner(func(context.Context, feature.Spec) error {
		close(entered)
		<-release
		return nil
	})
	h := newHarness(t, Collaborators{Planner: planner})

	done := make(chan RunState)
	go func() {
		state, _ := h.orch.Run(context.Background(), darkMode)
		done <- state
	}()
	<-entered
	if _, err := h.orch.Run(context.Background(), feature.Spec{Name: "Other"}); !errors.Is(err, ErrRunActive) {
		t.Fatalf("expected ErrRunActive, got %v", err)
	}
	snap, ok := h.orch.Snapshot()
	if !ok || snap.Status != StatusRunning || snap.Feature.Slug != "dark-mode" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	close(release)
	if state := <-done; state.Status != StatusCompleted {
		t.Fatalf("first run should complete, got %s", state.Status)
	}
}

func TestCancelledContextDefers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	planner := funcPlanner(func(context.Context, feature.Spec) error {
		cancel()
		return nil
	})
	h := newHarness(t, Collaborators{Planner: planner})
	state, _ := h.orch.Run(ctx, darkMode)
	if state.Status != StatusDeferred || state.StatusReason != "cancelled" {
		t.Fatalf("expected cancelled deferral, got %s (%s)", state.Status, state.StatusReason)
	}
}

func TestPanickingCollaboratorIsAFailure(t *testing.T) {
	builder := funcBuilder(func(context.Context, feature.Spec) error { panic("boom") })
	h := newHarness(t, Collaborators{Builder: builder}, WithPolicy(DefaultPolicy().With(PhaseBuild, Retry{MaxAttempts: 1})))
	state, err := h.orch.Run(context.Background(), darkMode)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if state.Status != StatusDeferred || !strings.Contains(state.StatusReason, "panicked") {
		t.Fatalf("unexpected state %s (%s)", state.Status, state.StatusReason)
	}
}

func TestRunRejectsInvalidFeature(t *testing.T) {
	h := newHarness(t, Collaborators{})
	if _, err := h.orch.Run(context.Background(), feature.Spec{}); err == nil {
		t.Fatalf("expected validation error")
	}
	if _, ok := h.orch.Snapshot(); ok {
		t.Fatalf("no run should have been recorded")
	}
}

func TestNarrationIsSlugPrefixed(t *testing.T) {
	h := newHarness(t, Collaborators{})
	h.orch.Run(context.Background(), darkMode)
	texts := h.texts()
	if len(texts) == 0 {
		t.Fatalf("expected narration")
	}
	for _, line := range texts {
		if !strings.HasPrefix(line, "[dark-mode] ") {
			t.Fatalf("line missing slug prefix: %q", line)
		}
		if strings.Contains(line, "{feature}") {
			t.Fatalf("placeholder left unrendered: %q", line)
		}
	}
}

type echoActivity struct{ calls int }

func (a *echoActivity) Name() string { return "fortune" }

func (a *echoActivity) Run(context.Context) (string, error) {
	a.calls++
	return "ship small things", nil
}

type slugFailingBuilder string

func (s slugFailingBuilder) Build(_ context.Context, spec feature.Spec) error {
	if spec.Slug == string(s) {
		return errors.New("nope")
	}
	return nil
}

func TestLoopCoolsDownOnlyAfterCompletedRuns(t *testing.T) {
	activity := &echoActivity{}
	backlog, err := feature.NewBacklog(
		feature.Spec{Name: "Dark Mode"},
		feature.Spec{Name: "Broken Thing"},
	)
	if err != nil {
		t.Fatalf("backlog: %v", err)
	}
	collab := Collaborators{Builder: slugFailingBuilder("broken-thing"), SideActivities: []SideActivity{activity}}
	h := newHarness(t, collab, WithCooldown(time.Minute))

	if err := h.orch.Loop(context.Background(), backlog); err != nil {
		t.Fatalf("loop: %v", err)
	}
	if activity.calls != 1 {
		t.Fatalf("side activity should run once, ran %d", activity.calls)
	}
	if len(h.waits) != 1 || h.waits[0] <= 0 || h.waits[0] > time.Minute {
		t.Fatalf("expected a single cooldown wait, got %v", h.waits)
	}
	snap, _ := h.orch.Snapshot()
	if snap.Feature.Slug != "broken-thing" || snap.Status != StatusDeferred {
		t.Fatalf("unexpected last run %+v", snap)
	}
	texts := strings.Join(h.texts(), "\n")
	if !strings.Contains(texts, "fortune") || !strings.Contains(texts, "ship small things") {
		t.Fatalf("side activity result should be narrated:\n%s", texts)
	}
}

type namelessActivity struct{}

func (namelessActivity) Name() string { panic("no name") }

func (namelessActivity) Run(context.Context) (string, error) { return "unreachable", nil }

func TestCooldownSurvivesPanickingActivityName(t *testing.T) {
	echo := &echoActivity{}
	collab := Collaborators{SideActivities: []SideActivity{namelessActivity{}, echo}}
	h := newHarness(t, collab)

	state := RunState{ID: "run-x", Feature: darkMode, Status: StatusCompleted}
	if err := h.orch.Cooldown(context.Background(), state); err != nil {
		t.Fatalf("cooldown: %v", err)
	}
	if echo.calls != 1 {
		t.Fatalf("later activities should still run, ran %d", echo.calls)
	}
	texts := strings.Join(h.texts(), "\n")
	if strings.Contains(texts, "unreachable") {
		t.Fatalf("panicking activity should not be narrated:\n%s", texts)
	}
}

func TestLoopStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	backlog, _ := feature.NewBacklog(feature.Spec{Name: "Dark Mode"})
	h := newHarness(t, Collaborators{})
	if err := h.orch.Loop(ctx, backlog); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
