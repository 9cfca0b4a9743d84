package metrics

import "time"

// NoopSink discards everything.
type NoopSink struct{}

// NewNoopSink returns a sink whose methods do nothing.
func NewNoopSink() *NoopSink { return &NoopSink{} }

func (*NoopSink) RunStarted() {}
func (*NoopSink) RunFinished(string, time.Duration) {}
func (*NoopSink) PhaseAttempt(string, string) {}
func (*NoopSink) PhaseDuration(string, time.Duration) {}
func (*NoopSink) RetryWait(string, time.Duration) {}
func (*NoopSink) TrailerOutcome(string) {}
func (*NoopSink) FootageCapture(bool) {}
func (*NoopSink) EventPublished() {}
