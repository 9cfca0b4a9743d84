// Package narration maps pipeline moments to short pre-authored lines. Lines
// are grouped by category and one is drawn at random per call.
package narration

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Category identifies a narrated moment.
type Category string

// Cross-cutting categories that are not tied to a single phase.
const (
	CategoryStartup      Category = "startup"
	CategoryIdle         Category = "idle"
	CategoryCooldown     Category = "cooldown"
	CategorySideActivity Category = "side_activity"
	CategoryShutdown     Category = "shutdown"
)

// PhaseCategory builds the category for a (phase, outcome) pair, for example
// "build.retrying".
func PhaseCategory(phase, outcome string) Category {
	return Category(normalizeKey(phase) + "." + normalizeKey(outcome))
}

// RandSource is the subset of *rand.Rand the narrator needs.
type RandSource interface {
	Intn(n int) int
}

// Option customizes a Narrator.
type Option func(*Narrator)

// WithRand injects a random source. Tests pass a seeded *rand.Rand or a stub.
func WithRand(src RandSource) Option {
	return func(n *Narrator) {
		if src != nil {
			n.rand = src
		}
	}
}

// Narrator selects lines from a Catalog.
type Narrator struct {
	catalog Catalog
	mu      sync.Mutex
	rand    RandSource
}

// New builds a narrator over catalog. A nil catalog yields a narrator that
// always returns "".
func New(catalog Catalog, opts ...Option) *Narrator {
	n := &Narrator{
		catalog: catalog.Clone(),
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(n)
		}
	}
	return n
}

// Narrate returns one line from category, chosen uniformly. Unknown or empty
// categories return "".
func (n *Narrator) Narrate(category Category) string {
	if n == nil {
		return ""
	}
	lines := n.catalog[category]
	if len(lines) == 0 {
		return ""
	}
	n.mu.Lock()
	idx := n.rand.Intn(len(lines))
	n.mu.Unlock()
	if idx < 0 || idx >= len(lines) {
		idx = 0
	}
	return lines[idx]
}

// Render narrates category and substitutes {key} placeholders from vars.
// Placeholders without a value are left untouched.
func (n *Narrator) Render(category Category, vars map[string]string) string {
	line := n.Narrate(category)
	if line == "" || len(vars) == 0 {
		return line
	}
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(line)
}

// Has reports whether category has at least one registered line.
func (n *Narrator) Has(category Category) bool {
	if n == nil {
		return false
	}
	return len(n.catalog[category]) > 0
}

// Lines returns a copy of the candidate set for category.
func (n *Narrator) Lines(category Category) []string {
	if n == nil {
		return nil
	}
	return append([]string(nil), n.catalog[category]...)
}

func normalizeKey(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	return strings.ReplaceAll(value, " ", "_")
}
