package eventbridge

import (
	"time"

	"github.com/kingrea/shipyard/internal/eventbus"
	"github.com/kingrea/shipyard/internal/pipeline"
)

// ProtocolVersion identifies the feed contract version exposed via /health.
const ProtocolVersion = "1.0.0"

// EventSource exposes the narrated history by sequence number.
type EventSource interface {
	Since(seq int64) []eventbus.Event
}

// RunSource reports the most relevant run: the active one, else the last
// persisted one. The boolean is false when no run exists yet.
type RunSource interface {
	LatestRun() (pipeline.RunState, bool)
}

// RunSourceFunc adapts a function into a RunSource.
type RunSourceFunc func() (pipeline.RunState, bool)

// LatestRun executes f().
func (f RunSourceFunc) LatestRun() (pipeline.RunState, bool) {
	if f == nil {
		return pipeline.RunState{}, false
	}
	return f()
}

// Logger records feed status information. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

// Health is the /health payload.
type Health struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// EventsPage is the /events payload. Next is the cursor for the following
// poll; it equals the request cursor when nothing new arrived.
type EventsPage struct {
	Events     []eventbus.Event `json:"events"`
	Next       int64            `json:"next"`
	More       bool             `json:"more"`
	ServerTime time.Time        `json:"server_time"`
}
