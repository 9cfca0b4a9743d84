package actions

import (
	"context"
	"errors"

	"github.com/kingrea/shipyard/internal/cache"
)

var errNoCommandCache = errors.New("actions: side activity has no command cache")

// CachedActivity is a cooldown side activity whose output is a CLI tool's
// stdout, refreshed at most once per cache TTL.
type CachedActivity struct {
	Label string
	Cache *cache.CommandCache
}

func (a *CachedActivity) Name() string {
	if a.Label != "" {
		return a.Label
	}
	if a.Cache == nil {
		return "activity"
	}
	return a.Cache.Command().Name
}

func (a *CachedActivity) Run(ctx context.Context) (string, error) {
	if a.Cache == nil {
		return "", errNoCommandCache
	}
	return a.Cache.Output(ctx)
}
