package pipeline

// StepKind is what the orchestrator does after an attempt.
type StepKind string

const (
	// StepAdvance moves to Step.Next with a fresh attempt counter.
	StepAdvance StepKind = "advance"
	// StepRetry re-runs the same phase with attempt+1.
	StepRetry StepKind = "retry"
	// StepDefer parks the run.
	StepDefer StepKind = "defer"
	// StepComplete marks the run completed and hands it to Cooldown.
	StepComplete StepKind = "complete"
	// StepRestart begins a new run at Step.Next.
	StepRestart StepKind = "restart"
)

// Step is the right-hand side of a transition.
type Step struct {
	Kind StepKind `json:"kind"`
	Next Phase    `json:"next,omitempty"`
}

// Table maps (phase, outcome) to the next step. Outcome keys are Success,
// Skipped, Failure (ceiling not reached) and Exhausted (ceiling reached).
type Table map[Phase]map[Outcome]Step

// Lookup returns the step for (phase, outcome).
func (t Table) Lookup(phase Phase, outcome Outcome) (Step, bool) {
	row, ok := t[phase]
	if !ok {
		return Step{}, false
	}
	step, ok := row[outcome]
	return step, ok
}

// Set installs or replaces one transition.
func (t Table) Set(phase Phase, outcome Outcome, step Step) {
	row, ok := t[phase]
	if !ok {
		row = make(map[Outcome]Step)
		t[phase] = row
	}
	row[outcome] = step
}

// Clone returns a deep copy.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for phase, row := range t {
		copied := make(map[Outcome]Step, len(row))
		for outcome, step := range row {
			copied[outcome] = step
		}
		out[phase] = copied
	}
	return out
}

// nonFatal phases degrade instead of consuming retries.
var nonFatal = map[Phase]bool{
	PhaseRecord:  true,
	PhaseTrailer: true,
}

// DefaultTransitions builds the standard table. Failing phases retry until
// their ceiling and then defer; Record and Trailer failures advance without
// retrying; Cleanup success completes the run; Cooldown restarts at Plan.
func DefaultTransitions() Table {
	table := make(Table)
	for _, phase := range sequence {
		if phase == PhaseCooldown {
			continue
		}
		next := phase.Next()
		advance := Step{Kind: StepAdvance, Next: next}
		if phase == PhaseCleanup {
			advance = Step{Kind: StepComplete, Next: PhaseCooldown}
		}
		table.Set(phase, OutcomeSuccess, advance)
		table.Set(phase, OutcomeSkipped, advance)
		if nonFatal[phase] {
			table.Set(phase, OutcomeFailure, advance)
			table.Set(phase, OutcomeExhausted, advance)
			continue
		}
		table.Set(phase, OutcomeFailure, Step{Kind: StepRetry, Next: phase})
		table.Set(phase, OutcomeExhausted, Step{Kind: StepDefer})
	}
	table.Set(PhaseCooldown, OutcomeSuccess, Step{Kind: StepRestart, Next: PhasePlan})
	table.Set(PhaseCooldown, OutcomeSkipped, Step{Kind: StepRestart, Next: PhasePlan})
	return table
}
