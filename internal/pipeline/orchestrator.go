// Package pipeline drives a feature through the ship-a-feature phases. It
// owns the retry policy, the transition table and the run state, and it
// narrates every transition onto the event bus.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kingrea/shipyard/internal/eventbus"
	"github.com/kingrea/shipyard/internal/feature"
	"github.com/kingrea/shipyard/internal/metrics"
	"github.com/kingrea/shipyard/internal/narration"
	"github.com/kingrea/shipyard/internal/trailer"
)

// DefaultCooldown is the wait between completed runs.
const DefaultCooldown = 10 * time.Minute

// ErrRunActive is returned when a run is requested while another is Running.
var ErrRunActive = errors.New("pipeline: a run is already active")

// StateStore persists run snapshots. store.Repository satisfies it.
type StateStore interface {
	Save(state RunState) error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithTransitions replaces DefaultTransitions.
func WithTransitions(t Table) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.transitions = t.Clone()
		}
	}
}

// WithStore persists a snapshot after every transition.
func WithStore(s StateStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithMetrics attaches a metrics sink.
func WithMetrics(m metrics.Sink) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithLogger attaches a diagnostics logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock injects the time source.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithSleeper injects the wait used for backoff and cooldown.
func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sleep = s
		}
	}
}

// WithCooldown sets the wait between completed runs.
func WithCooldown(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.cooldown = d
		}
	}
}

// WithIdlePoll makes Loop wait d and poll again when the backlog is empty
// instead of returning.
func WithIdlePoll(d time.Duration) Option {
	return func(o *Orchestrator) { o.idlePoll = d }
}

// WithIDs injects the run ID generator.
func WithIDs(next func() string) Option {
	return func(o *Orchestrator) {
		if next != nil {
			o.newID = next
		}
	}
}

// Orchestrator runs features through the phase state machine, one at a
// time.
type Orchestrator struct {
	bus         eventbus.Publisher
	narrator    *narration.Narrator
	collab      Collaborators
	policy      Policy
	transitions Table
	store       StateStore
	metrics     metrics.Sink
	logger      zerolog.Logger
	clock       func() time.Time
	sleep       Sleeper
	cooldown    time.Duration
	idlePoll    time.Duration
	newID       func() string

	mu     sync.Mutex
	active *RunState
	last   *RunState
}

// New builds an orchestrator. bus and narrator may be nil, in which case
// nothing is narrated.
func New(bus eventbus.Publisher, narrator *narration.Narrator, collab Collaborators, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		bus:         bus,
		narrator:    narrator,
		collab:      collab,
		policy:      DefaultPolicy(),
		transitions: DefaultTransitions(),
		metrics:     metrics.NewNoopSink(),
		logger:      zerolog.Nop(),
		clock:       time.Now,
		sleep:       sleepContext,
		cooldown:    DefaultCooldown,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Snapshot returns the active run, or the last finished one.
func (o *Orchestrator) Snapshot() (RunState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active != nil {
		return o.active.Clone(), true
	}
	if o.last != nil {
		return o.last.Clone(), true
	}
	return RunState{}, false
}

// Active reports whether a run is in progress.
func (o *Orchestrator) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil
}

// Run executes Plan through Cleanup for spec and returns the final state,
// which is either Completed or Deferred. Errors are returned only for an
// invalid spec or when another run is active; phase failures are reported
// through the state.
func (o *Orchestrator) Run(ctx context.Context, spec feature.Spec) (RunState, error) {
	spec = spec.Normalize()
	if err := spec.Validate(); err != nil {
		return RunState{}, err
	}
	now := o.clock()
	st := &RunState{
		ID:           o.newID(),
		Feature:      spec,
		CurrentPhase: PhasePlan,
		Status:       StatusRunning,
		StartedAt:    now,
		UpdatedAt:    now,
	}

	o.mu.Lock()
	if o.active != nil {
		o.mu.Unlock()
		return RunState{}, ErrRunActive
	}
	o.active = st
	o.mu.Unlock()

	log := o.logger.With().Str("run_id", st.ID).Str("slug", spec.Slug).Logger()
	log.Info().Msg("run started")
	o.metrics.RunStarted()
	o.persist(st)

	o.drive(ctx, st, log)

	o.mu.Lock()
	st.FinishedAt = o.clock()
	st.UpdatedAt = st.FinishedAt
	final := st.Clone()
	o.active = nil
	o.last = &final
	o.mu.Unlock()
	o.persist(&final)

	o.metrics.RunFinished(string(final.Status), final.FinishedAt.Sub(final.StartedAt))
	log.Info().Str("status", string(final.Status)).Str("reason", final.StatusReason).Msg("run finished")
	return final, nil
}

func (o *Orchestrator) drive(ctx context.Context, st *RunState, log zerolog.Logger) {
	phase := PhasePlan
	for {
		step, reason := o.runPhase(ctx, st, phase, log)
		switch step.Kind {
		case StepAdvance:
			phase = step.Next
			o.mutate(st, func(s *RunState) { s.CurrentPhase = phase })
		case StepComplete:
			o.mutate(st, func(s *RunState) {
				s.CurrentPhase = PhaseCooldown
				s.Status = StatusCompleted
			})
			return
		default:
			o.mutate(st, func(s *RunState) {
				s.Status = StatusDeferred
				s.StatusReason = reason
			})
			return
		}
	}
}

// runPhase attempts phase until the transition table says to stop retrying.
// It returns the step taken and, for deferrals, a reason.
func (o *Orchestrator) runPhase(ctx context.Context, st *RunState, phase Phase, log zerolog.Logger) (Step, string) {
	retry := o.policy.For(phase)
	ceiling := retry.ceiling()
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return Step{Kind: StepDefer}, "cancelled"
		}
		if attempt == 1 {
			o.narrate(st, phase, OutcomeStart, o.vars(st, attempt, ceiling, ""))
		}

		started := o.clock()
		outcome, err := o.attempt(ctx, st, phase)
		elapsed := o.clock().Sub(started)
		record := PhaseAttempt{Phase: phase, Attempt: attempt, Outcome: outcome, Timestamp: started, Duration: elapsed}
		if err != nil {
			record.Error = err.Error()
		}
		o.mutate(st, func(s *RunState) { s.Attempts = append(s.Attempts, record) })
		vars := o.vars(st, attempt, ceiling, record.Error)
		o.metrics.PhaseAttempt(string(phase), string(outcome))
		o.metrics.PhaseDuration(string(phase), elapsed)

		key := outcome
		if outcome == OutcomeFailure && attempt >= ceiling {
			key = OutcomeExhausted
		}
		step, ok := o.transitions.Lookup(phase, key)
		if !ok {
			log.Error().Str("phase", string(phase)).Str("outcome", string(key)).Msg("no transition defined")
			return Step{Kind: StepDefer}, fmt.Sprintf("no transition for %s/%s", phase, key)
		}

		switch step.Kind {
		case StepRetry:
			log.Warn().Err(err).Str("phase", string(phase)).Int("attempt", attempt).Msg("phase failed; retrying")
			o.narrate(st, phase, OutcomeRetrying, vars)
			if wait := retry.Backoff.Wait(attempt); wait > 0 {
				o.metrics.RetryWait(string(phase), wait)
				if err := o.sleep(ctx, wait); err != nil {
					return Step{Kind: StepDefer}, "cancelled"
				}
			}
			continue
		case StepDefer:
			log.Warn().Err(err).Str("phase", string(phase)).Int("attempts", attempt).Msg("phase exhausted retries")
			o.narrate(st, phase, OutcomeExhausted, vars)
			reason := fmt.Sprintf("%s failed after %d attempt(s)", phase, attempt)
			if err != nil {
				reason += ": " + err.Error()
			}
			return step, reason
		default:
			o.narrate(st, phase, outcome, vars)
			return step, ""
		}
	}
}

// attempt runs the collaborator for phase once. Panics are converted into
// failures so nothing escapes the orchestrator.
func (o *Orchestrator) attempt(ctx context.Context, st *RunState, phase Phase) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Interface("panic", r).Str("phase", string(phase)).Msg("phase action panicked")
			outcome, err = OutcomeFailure, fmt.Errorf("%s panicked: %v", phase, r)
		}
	}()
	spec := st.Feature
	c := o.collab
	switch phase {
	case PhasePlan:
		if c.Planner != nil {
			err = c.Planner.Plan(ctx, spec)
		}
	case PhaseBuild:
		if c.Builder != nil {
			err = c.Builder.Build(ctx, spec)
		}
	case PhaseDeploy:
		if c.Deployer != nil {
			var url string
			url, err = c.Deployer.Deploy(ctx, spec)
			if err == nil {
				o.mutate(st, func(s *RunState) { s.DeployURL = url })
			}
		}
	case PhaseVerify:
		if c.Verifier != nil {
			err = c.Verifier.Verify(ctx, st.DeployURL)
		}
	case PhaseTest:
		if c.Tester != nil {
			err = c.Tester.Test(ctx, spec, st.DeployURL)
		}
	case PhaseRecord:
		return o.record(ctx, st)
	case PhaseTrailer:
		return o.renderTrailer(ctx, st)
	case PhasePublish:
		if c.Publisher != nil {
			var location string
			location, err = c.Publisher.Publish(ctx, o.release(st))
			if err == nil {
				o.mutate(st, func(s *RunState) { s.PublishedURL = location })
			}
		}
	case PhaseHomepage:
		if c.Homepage != nil {
			err = c.Homepage.UpdateHomepage(ctx, o.release(st))
		}
	case PhaseCleanup:
		if c.Cleaner != nil {
			err = c.Cleaner.Cleanup(ctx, spec)
		}
	default:
		return OutcomeFailure, fmt.Errorf("phase %s has no action", phase)
	}
	if err != nil {
		return OutcomeFailure, err
	}
	return OutcomeSuccess, nil
}

func (o *Orchestrator) record(ctx context.Context, st *RunState) (Outcome, error) {
	if o.collab.Trailer == nil {
		return OutcomeSkipped, nil
	}
	footage := o.collab.Trailer.Prepare(ctx, st.TrailerConfig(), st.DeployURL)
	o.mutate(st, func(s *RunState) { s.Footage = footage })
	if !footage.Attempted {
		return OutcomeSkipped, nil
	}
	o.metrics.FootageCapture(footage.Captured())
	if !footage.Captured() {
		return OutcomeFailure, errors.New("footage capture failed")
	}
	return OutcomeSuccess, nil
}

func (o *Orchestrator) renderTrailer(ctx context.Context, st *RunState) (Outcome, error) {
	if o.collab.Trailer == nil {
		o.metrics.TrailerOutcome(metrics.TrailerSkipped)
		return OutcomeSkipped, nil
	}
	result := o.collab.Trailer.Render(ctx, st.TrailerConfig(), st.Footage)
	o.mutate(st, func(s *RunState) { s.Trailer = &result })
	if !result.Success {
		kind := string(result.Failure)
		if kind == "" {
			kind = string(trailer.FailureRenderFailed)
		}
		o.metrics.TrailerOutcome(kind)
		return OutcomeFailure, errors.New(result.Error)
	}
	o.metrics.TrailerOutcome(metrics.TrailerSuccess)
	return OutcomeSuccess, nil
}

func (o *Orchestrator) release(st *RunState) Release {
	rel := Release{RunID: st.ID, Feature: st.Feature, DeployURL: st.DeployURL}
	if st.Trailer != nil && st.Trailer.Success {
		result := *st.Trailer
		rel.Trailer = &result
	}
	return rel
}

// mutate applies fn under the state lock and persists a snapshot.
func (o *Orchestrator) mutate(st *RunState, fn func(*RunState)) {
	o.mu.Lock()
	fn(st)
	st.UpdatedAt = o.clock()
	snapshot := st.Clone()
	o.mu.Unlock()
	o.persist(&snapshot)
}

func (o *Orchestrator) persist(st *RunState) {
	if o.store == nil {
		return
	}
	if err := o.store.Save(*st); err != nil {
		o.logger.Warn().Err(err).Str("run_id", st.ID).Msg("failed to persist run state")
	}
}

func (o *Orchestrator) vars(st *RunState, attempt, ceiling int, errText string) map[string]string {
	vars := map[string]string{
		"feature": st.Feature.Name,
		"slug":    st.Feature.Slug,
		"attempt": strconv.Itoa(attempt),
		"max":     strconv.Itoa(ceiling),
		"url":     st.DeployURL,
		"error":   errText,
	}
	if st.Trailer != nil && st.Trailer.Success {
		vars["duration"] = strconv.Itoa(st.Trailer.DurationSeconds)
	}
	return vars
}

// narrate publishes the line for (phase, outcome) prefixed with the slug.
func (o *Orchestrator) narrate(st *RunState, phase Phase, outcome Outcome, vars map[string]string) {
	category := narration.PhaseCategory(string(phase), string(outcome))
	// A skipped record says why when the catalog has a line for the reason.
	if phase == PhaseRecord && outcome == OutcomeSkipped {
		if reason := st.Footage.SkipReason; reason != "" && reason != trailer.SkipStatic {
			if alt := narration.PhaseCategory(string(phase), string(reason)); o.narrator.Has(alt) {
				category = alt
			}
		}
	}
	o.publish(st.Feature.Slug, o.narrator.Render(category, vars))
}

func (o *Orchestrator) publish(slug, line string) {
	if line == "" || o.bus == nil {
		return
	}
	if slug != "" {
		line = "[" + slug + "] " + line
	}
	o.bus.Publish(line)
	o.metrics.EventPublished()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
