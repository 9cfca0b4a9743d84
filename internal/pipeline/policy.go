package pipeline

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// DefaultMaxAttempts is the per-phase retry ceiling when none is configured.
const DefaultMaxAttempts = 3

// Strategy selects how long to wait between attempts.
type Strategy string

const (
	StrategyImmediate   Strategy = "immediate"
	StrategyFixed       Strategy = "fixed"
	StrategyExponential Strategy = "exponential"
)

// ParseStrategy maps a config string to a Strategy. Empty means immediate.
func ParseStrategy(value string) (Strategy, error) {
	switch s := Strategy(strings.ToLower(strings.TrimSpace(value))); s {
	case "":
		return StrategyImmediate, nil
	case StrategyImmediate, StrategyFixed, StrategyExponential:
		return s, nil
	default:
		return "", fmt.Errorf("pipeline: unknown backoff strategy %q", value)
	}
}

// Backoff computes retry delays.
type Backoff struct {
	Strategy Strategy      `json:"strategy" yaml:"strategy"`
	Delay    time.Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
	// Max caps exponential growth; zero means uncapped.
	Max time.Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// Wait returns the delay before the attempt following failed attempt n
// (1-based).
func (b Backoff) Wait(failed int) time.Duration {
	if failed < 1 {
		failed = 1
	}
	switch b.Strategy {
	case StrategyFixed:
		return b.Delay
	case StrategyExponential:
		wait := b.Delay
		for i := 1; i < failed; i++ {
			if wait > math.MaxInt64/2 {
				wait = math.MaxInt64
				break
			}
			wait *= 2
			if b.Max > 0 && wait >= b.Max {
				return b.Max
			}
		}
		if b.Max > 0 && wait > b.Max {
			return b.Max
		}
		return wait
	default:
		return 0
	}
}

// Retry is the ceiling and backoff for one phase.
type Retry struct {
	MaxAttempts int     `json:"max_attempts" yaml:"max_attempts"`
	Backoff     Backoff `json:"backoff" yaml:"backoff"`
}

func (r Retry) ceiling() int {
	if r.MaxAttempts < 1 {
		return 1
	}
	return r.MaxAttempts
}

// Policy holds retry settings for every phase.
type Policy struct {
	Default Retry
	Phases  map[Phase]Retry
}

// DefaultPolicy retries every phase up to DefaultMaxAttempts immediately.
func DefaultPolicy() Policy {
	return Policy{Default: Retry{MaxAttempts: DefaultMaxAttempts, Backoff: Backoff{Strategy: StrategyImmediate}}}
}

// For returns the retry settings for phase.
func (p Policy) For(phase Phase) Retry {
	if r, ok := p.Phases[phase]; ok {
		return r
	}
	return p.Default
}

// With returns a copy of p with phase overridden.
func (p Policy) With(phase Phase, r Retry) Policy {
	phases := make(map[Phase]Retry, len(p.Phases)+1)
	for k, v := range p.Phases {
		phases[k] = v
	}
	phases[phase] = r
	p.Phases = phases
	return p
}
