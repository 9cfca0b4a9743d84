package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/kingrea/shipyard/internal/feature"
	"github.com/kingrea/shipyard/internal/narration"
)

// Loop pulls features from src and runs them one after another. Completed
// runs are followed by Cooldown; deferred runs go straight to the next
// feature. Loop returns nil when the backlog is exhausted (unless an idle
// poll interval is configured) and ctx.Err() once ctx is done.
func (o *Orchestrator) Loop(ctx context.Context, src feature.Source) error {
	o.moment(narration.CategoryStartup, nil)
	defer o.moment(narration.CategoryShutdown, nil)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		spec, err := src.Next(ctx)
		switch {
		case errors.Is(err, feature.ErrBacklogEmpty):
			o.moment(narration.CategoryIdle, nil)
			if o.idlePoll <= 0 {
				return nil
			}
			if err := o.sleep(ctx, o.idlePoll); err != nil {
				return err
			}
			continue
		case err != nil:
			return err
		}

		state, err := o.Run(ctx, spec)
		if err != nil {
			o.logger.Warn().Err(err).Str("slug", spec.Slug).Msg("skipping feature")
			continue
		}
		if state.Status != StatusCompleted {
			continue
		}
		if err := o.Cooldown(ctx, state); err != nil {
			return err
		}
	}
}

// Cooldown narrates the pause after a completed run, runs side activities
// inside the wait window and then waits out the remainder. It returns
// ctx.Err() if the wait is interrupted.
func (o *Orchestrator) Cooldown(ctx context.Context, state RunState) error {
	vars := map[string]string{"feature": state.Feature.Name, "slug": state.Feature.Slug}
	o.moment(narration.CategoryCooldown, vars)
	o.narrate(&state, PhaseCooldown, OutcomeStart, vars)

	started := o.clock()
	window := o.cooldown
	deadline := started.Add(window)
	for _, activity := range o.collab.SideActivities {
		if activity == nil {
			continue
		}
		if window > 0 && !o.clock().Before(deadline) {
			break
		}
		o.runSideActivity(ctx, activity, deadline)
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	if remaining := deadline.Sub(o.clock()); remaining > 0 {
		if err := o.sleep(ctx, remaining); err != nil {
			return err
		}
	}
	o.metrics.PhaseAttempt(string(PhaseCooldown), string(OutcomeSuccess))
	o.metrics.PhaseDuration(string(PhaseCooldown), o.clock().Sub(started))
	o.narrate(&state, PhaseCooldown, OutcomeSuccess, vars)
	return nil
}

func (o *Orchestrator) runSideActivity(ctx context.Context, activity SideActivity, deadline time.Time) {
	actx := ctx
	if o.cooldown > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	name, result, err := safeSideActivity(actx, activity)
	if err != nil {
		o.logger.Warn().Err(err).Str("activity", name).Msg("side activity failed")
		return
	}
	result = strings.TrimSpace(result)
	if result == "" {
		return
	}
	o.moment(narration.CategorySideActivity, map[string]string{"activity": name, "result": result})
}

func safeSideActivity(ctx context.Context, activity SideActivity) (name, result string, err error) {
	name = "side activity"
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("side activity panicked")
		}
	}()
	name = activity.Name()
	result, err = activity.Run(ctx)
	return name, result, err
}

func (o *Orchestrator) moment(category narration.Category, vars map[string]string) {
	o.publish("", o.narrator.Render(category, vars))
}
