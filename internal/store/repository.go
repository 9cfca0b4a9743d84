// Package store persists run snapshots as JSON files, one per run.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/kingrea/shipyard/internal/pipeline"
)

// ErrRunNotFound is returned when no snapshot exists for a run.
var ErrRunNotFound = errors.New("store: run not found")

// Repository stores run state under <dir>/<run-id>.json.
type Repository struct {
	dir string
	mu  sync.Mutex
}

// NewRepository creates a repository rooted at dir, typically
// .shipyard/state/runs.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the directory snapshots are written to.
func (r *Repository) Dir() string {
	return r.dir
}

// Save writes the snapshot with best-effort atomicity.
func (r *Repository) Save(state pipeline.RunState) error {
	if strings.TrimSpace(state.ID) == "" {
		return errors.New("store: run id is required")
	}
	if strings.ContainsAny(state.ID, `/\`) {
		return fmt.Errorf("store: invalid run id %q", state.ID)
	}
	encoded, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	target := r.path(state.ID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, append(encoded, '\n'), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Load reads the snapshot for id.
func (r *Repository) Load(id string) (pipeline.RunState, error) {
	data, err := os.ReadFile(r.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return pipeline.RunState{}, ErrRunNotFound
		}
		return pipeline.RunState{}, err
	}
	var state pipeline.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return pipeline.RunState{}, fmt.Errorf("store: decode %s: %w", id, err)
	}
	return state, nil
}

// List returns every stored run, newest first by start time.
func (r *Repository) List() ([]pipeline.RunState, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var runs []pipeline.RunState
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		state, err := r.Load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		runs = append(runs, state)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID > runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// Latest returns the most recently started run.
func (r *Repository) Latest() (pipeline.RunState, error) {
	runs, err := r.List()
	if err != nil {
		return pipeline.RunState{}, err
	}
	if len(runs) == 0 {
		return pipeline.RunState{}, ErrRunNotFound
	}
	return runs[0], nil
}

func (r *Repository) path(id string) string {
	return filepath.Join(r.dir, id+".json")
}
