package feature

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrBacklogEmpty is returned once every feature has been handed out.
var ErrBacklogEmpty = errors.New("feature: backlog empty")

// Source hands the orchestrator its next feature.
type Source interface {
	Next(ctx context.Context) (Spec, error)
}

// Backlog is an ordered, in-memory queue of features.
type Backlog struct {
	mu    sync.Mutex
	items []Spec
	next  int
}

type backlogFile struct {
	Features []Spec `yaml:"features"`
}

// NewBacklog normalizes and validates specs. Slugs must be unique.
func NewBacklog(specs ...Spec) (*Backlog, error) {
	items := make([]Spec, 0, len(specs))
	seen := make(map[string]int, len(specs))
	for i, spec := range specs {
		spec = spec.Normalize()
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("backlog entry %d: %w", i+1, err)
		}
		if prev, ok := seen[spec.Slug]; ok {
			return nil, fmt.Errorf("backlog entry %d: slug %q already used by entry %d", i+1, spec.Slug, prev)
		}
		seen[spec.Slug] = i + 1
		items = append(items, spec)
	}
	return &Backlog{items: items}, nil
}

// ParseBacklog reads a document of the form `features: [{name, slug, ...}]`.
func ParseBacklog(data []byte) (*Backlog, error) {
	var doc backlogFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse backlog: %w", err)
	}
	return NewBacklog(doc.Features...)
}

// LoadBacklog reads a backlog file from disk.
func LoadBacklog(path string) (*Backlog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backlog: %w", err)
	}
	return ParseBacklog(data)
}

// Next returns the next feature or ErrBacklogEmpty.
func (b *Backlog) Next(ctx context.Context) (Spec, error) {
	if err := ctx.Err(); err != nil {
		return Spec{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.next >= len(b.items) {
		return Spec{}, ErrBacklogEmpty
	}
	spec := b.items[b.next]
	b.next++
	return spec, nil
}

// Remaining reports how many features have not been handed out.
func (b *Backlog) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items) - b.next
}

// LoadSpec reads a single feature document (`name`, `slug`, `description`,
// `tagline`) and returns it normalized and validated.
func LoadSpec(path string) (Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Spec{}, fmt.Errorf("read feature: %w", err)
	}
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return Spec{}, fmt.Errorf("parse feature: %w", err)
	}
	spec = spec.Normalize()
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}
