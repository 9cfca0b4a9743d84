// Package metrics records orchestrator activity. Every Sink method is
// fire-and-forget: implementations must not block or return errors.
package metrics

import "time"

// Sink receives orchestrator measurements.
type Sink interface {
	// Runs
	RunStarted()
	RunFinished(status string, duration time.Duration)

	// Phases
	PhaseAttempt(phase, outcome string)
	PhaseDuration(phase string, duration time.Duration)
	RetryWait(phase string, wait time.Duration)

	// Trailer and footage
	TrailerOutcome(outcome string)
	FootageCapture(captured bool)

	// Event bus
	EventPublished()
}

// Trailer outcomes other than a failure kind.
const (
	TrailerSuccess = "success"
	TrailerSkipped = "skipped"
)
