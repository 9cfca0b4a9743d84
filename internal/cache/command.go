package cache

import (
	"context"
	"strings"
	"time"

	"github.com/kingrea/shipyard/internal/procexec"
)

const commandKey = "stdout"

// CommandCache memoizes the trimmed stdout of a CLI tool for a TTL.
type CommandCache struct {
	runner  procexec.Runner
	command procexec.Command
	cache   *Cache[string]
}

// NewCommandCache wraps command. A nil clock uses time.Now.
func NewCommandCache(runner procexec.Runner, command procexec.Command, ttl time.Duration, clock func() time.Time) *CommandCache {
	return &CommandCache{
		runner:  runner,
		command: command,
		cache:   New[string](ttl, clock),
	}
}

// Output returns the cached stdout or runs the command once to refresh it.
// Failures are not cached.
func (c *CommandCache) Output(ctx context.Context) (string, error) {
	if value, ok := c.cache.Get(commandKey); ok {
		return value, nil
	}
	res, err := c.runner.Run(ctx, c.command)
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(res.Stdout)
	c.cache.Set(commandKey, value)
	return value, nil
}

// Invalidate forces the next Output call to rerun the command.
func (c *CommandCache) Invalidate() {
	c.cache.Invalidate(commandKey)
}

// Command returns the wrapped invocation.
func (c *CommandCache) Command() procexec.Command {
	return c.command
}
