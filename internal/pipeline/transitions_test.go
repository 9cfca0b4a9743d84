package pipeline

import (
	"math"
	"testing"
	"time"
)

func TestPhaseSequence(t *testing.T) {
	phases := Phases()
	if phases[0] != PhasePlan || phases[len(phases)-1] != PhaseCooldown {
		t.Fatalf("unexpected sequence %v", phases)
	}
	if PhaseTrailer.Next() != PhasePublish {
		t.Fatalf("trailer should be followed by publish")
	}
	if PhaseCooldown.Next() != PhasePlan {
		t.Fatalf("cooldown should wrap to plan")
	}
	if got, err := ParsePhase(" Homepage "); err != nil || got != PhaseHomepage {
		t.Fatalf("ParsePhase: %v %v", got, err)
	}
	if _, err := ParsePhase("launch"); err == nil {
		t.Fatalf("expected unknown phase error")
	}
	if PhaseHomepage.Title() != "Homepage" {
		t.Fatalf("unexpected title %q", PhaseHomepage.Title())
	}
}

func TestDefaultTransitions(t *testing.T) {
	table := DefaultTransitions()
	cases := []struct {
		phase   Phase
		outcome Outcome
		want    Step
	}{
		{PhasePlan, OutcomeSuccess, Step{Kind: StepAdvance, Next: PhaseBuild}},
		{PhaseBuild, OutcomeFailure, Step{Kind: StepRetry, Next: PhaseBuild}},
		{PhaseBuild, OutcomeExhausted, Step{Kind: StepDefer}},
		{PhaseRecord, OutcomeFailure, Step{Kind: StepAdvance, Next: PhaseTrailer}},
		{PhaseRecord, OutcomeSkipped, Step{Kind: StepAdvance, Next: PhaseTrailer}},
		{PhaseTrailer, OutcomeFailure, Step{Kind: StepAdvance, Next: PhasePublish}},
		{PhaseTrailer, OutcomeExhausted, Step{Kind: StepAdvance, Next: PhasePublish}},
		{PhasePublish, OutcomeExhausted, Step{Kind: StepDefer}},
		{PhaseCleanup, OutcomeSuccess, Step{Kind: StepComplete, Next: PhaseCooldown}},
		{PhaseCooldown, OutcomeSuccess, Step{Kind: StepRestart, Next: PhasePlan}},
	}
	for _, tc := range cases {
		got, ok := table.Lookup(tc.phase, tc.outcome)
		if !ok {
			t.Fatalf("missing transition %s/%s", tc.phase, tc.outcome)
		}
		if got != tc.want {
			t.Fatalf("%s/%s: expected %+v, got %+v", tc.phase, tc.outcome, tc.want, got)
		}
	}
	if _, ok := table.Lookup(PhaseCooldown, OutcomeFailure); ok {
		t.Fatalf("cooldown has no failure transition")
	}
}

func TestTableCloneIsIndependent(t *testing.T) {
	table := DefaultTransitions()
	clone := table.Clone()
	clone.Set(PhaseBuild, OutcomeExhausted, Step{Kind: StepAdvance, Next: PhaseDeploy})
	if step, _ := table.Lookup(PhaseBuild, OutcomeExhausted); step.Kind != StepDefer {
		t.Fatalf("clone mutated the original")
	}
}

func TestBackoffWait(t *testing.T) {
	cases := []struct {
		name    string
		backoff Backoff
		failed  int
		want    time.Duration
	}{
		{"immediate", Backoff{Strategy: StrategyImmediate, Delay: time.Second}, 3, 0},
		{"fixed", Backoff{Strategy: StrategyFixed, Delay: 2 * time.Second}, 3, 2 * time.Second},
		{"exponential first", Backoff{Strategy: StrategyExponential, Delay: time.Second}, 1, time.Second},
		{"exponential third", Backoff{Strategy: StrategyExponential, Delay: time.Second}, 3, 4 * time.Second},
		{"exponential capped", Backoff{Strategy: StrategyExponential, Delay: time.Second, Max: 3 * time.Second}, 5, 3 * time.Second},
		{"exponential saturates", Backoff{Strategy: StrategyExponential, Delay: time.Second}, 40, time.Duration(math.MaxInt64)},
		{"exponential saturates to cap", Backoff{Strategy: StrategyExponential, Delay: time.Hour, Max: 48 * time.Hour}, 200, 48 * time.Hour},
	}
	for _, tc := range cases {
		if got := tc.backoff.Wait(tc.failed); got != tc.want {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestParseStrategy(t *testing.T) {
	if s, err := ParseStrategy(""); err != nil || s != StrategyImmediate {
		t.Fatalf("empty should be immediate: %v %v", s, err)
	}
	if s, err := ParseStrategy("Exponential"); err != nil || s != StrategyExponential {
		t.Fatalf("unexpected %v %v", s, err)
	}
	if _, err := ParseStrategy("jitter"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPolicyOverrides(t *testing.T) {
	policy := DefaultPolicy().With(PhaseDeploy, Retry{MaxAttempts: 5})
	if policy.For(PhaseDeploy).MaxAttempts != 5 {
		t.Fatalf("override not applied")
	}
	if policy.For(PhaseBuild).MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("default not applied")
	}
	if (Retry{}).ceiling() != 1 {
		t.Fatalf("zero ceiling should mean a single attempt")
	}
}
