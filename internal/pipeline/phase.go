package pipeline

import (
	"fmt"
	"strings"
)

// Phase is one stage of shipping a feature.
type Phase string

const (
	PhasePlan     Phase = "plan"
	PhaseBuild    Phase = "build"
	PhaseDeploy   Phase = "deploy"
	PhaseVerify   Phase = "verify"
	PhaseTest     Phase = "test"
	PhaseRecord   Phase = "record"
	PhaseTrailer  Phase = "trailer"
	PhasePublish  Phase = "publish"
	PhaseHomepage Phase = "homepage"
	PhaseCleanup  Phase = "cleanup"
	PhaseCooldown Phase = "cooldown"
)

var sequence = []Phase{
	PhasePlan,
	PhaseBuild,
	PhaseDeploy,
	PhaseVerify,
	PhaseTest,
	PhaseRecord,
	PhaseTrailer,
	PhasePublish,
	PhaseHomepage,
	PhaseCleanup,
	PhaseCooldown,
}

// Phases returns every phase in execution order.
func Phases() []Phase {
	return append([]Phase(nil), sequence...)
}

// Index returns the position of p in the sequence, or -1.
func (p Phase) Index() int {
	for i, candidate := range sequence {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p.Index() >= 0
}

// Next returns the phase after p. Cooldown wraps to Plan.
func (p Phase) Next() Phase {
	idx := p.Index()
	if idx < 0 || idx == len(sequence)-1 {
		return PhasePlan
	}
	return sequence[idx+1]
}

// Title is the display form, for example "Homepage".
func (p Phase) Title() string {
	if p == "" {
		return ""
	}
	return strings.ToUpper(string(p[:1])) + string(p[1:])
}

func (p Phase) String() string {
	return string(p)
}

// ParsePhase accepts any case.
func ParsePhase(value string) (Phase, error) {
	phase := Phase(strings.ToLower(strings.TrimSpace(value)))
	if !phase.Valid() {
		return "", fmt.Errorf("pipeline: unknown phase %q", value)
	}
	return phase, nil
}

// Outcome is what happened to an attempt, plus the narration-only markers.
type Outcome string

const (
	OutcomeStart     Outcome = "start"
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeRetrying  Outcome = "retrying"
	OutcomeExhausted Outcome = "max_retries_failed"
)

// Status is the coarse state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusDeferred  Status = "deferred"
	StatusCompleted Status = "completed"
)

// Terminal reports whether the run has stopped advancing.
func (s Status) Terminal() bool {
	return s == StatusDeferred || s == StatusCompleted
}
