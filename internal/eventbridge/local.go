package eventbridge

import (
	"context"
	"time"

	"github.com/kingrea/shipyard/internal/eventbus"
	"github.com/kingrea/shipyard/internal/pipeline"
)

// Page slices the events after since into at most size entries.
func Page(src EventSource, since int64, size int, now time.Time) EventsPage {
	var events []eventbus.Event
	if src != nil {
		events = src.Since(since)
	}
	page := EventsPage{Events: events, Next: since, ServerTime: now.UTC()}
	if size > 0 && len(page.Events) > size {
		page.Events = page.Events[:size]
		page.More = true
	}
	if page.Events == nil {
		page.Events = []eventbus.Event{}
	}
	if n := len(page.Events); n > 0 {
		page.Next = page.Events[n-1].Seq
	}
	return page
}

// Local serves the same feed in-process, for a watch view attached to the
// loop that owns the bus.
type Local struct {
	Source   EventSource
	Runs     RunSource
	PageSize int
}

// Events returns the page after since.
func (l Local) Events(ctx context.Context, since int64) (EventsPage, error) {
	if err := ctx.Err(); err != nil {
		return EventsPage{}, err
	}
	size := l.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	return Page(l.Source, since, size, time.Now()), nil
}

// Run returns the latest run.
func (l Local) Run(ctx context.Context) (pipeline.RunState, bool, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.RunState{}, false, err
	}
	if l.Runs == nil {
		return pipeline.RunState{}, false, nil
	}
	state, ok := l.Runs.LatestRun()
	return state, ok, nil
}
