package pipeline

import (
	"time"

	"github.com/kingrea/shipyard/internal/feature"
	"github.com/kingrea/shipyard/internal/trailer"
)

// PhaseAttempt records one execution of a phase.
type PhaseAttempt struct {
	Phase     Phase         `json:"phase"`
	Attempt   int           `json:"attempt"`
	Outcome   Outcome       `json:"outcome"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// RunState is the record of one run. Only the orchestrator mutates it;
// everyone else receives clones.
type RunState struct {
	ID           string          `json:"id"`
	Feature      feature.Spec    `json:"feature"`
	CurrentPhase Phase           `json:"current_phase"`
	Status       Status          `json:"status"`
	StatusReason string          `json:"status_reason,omitempty"`
	Attempts     []PhaseAttempt  `json:"attempts,omitempty"`
	DeployURL    string          `json:"deploy_url,omitempty"`
	Footage      trailer.Footage `json:"footage"`
	Trailer      *trailer.Result `json:"trailer,omitempty"`
	PublishedURL string          `json:"published_url,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	FinishedAt   time.Time       `json:"finished_at,omitempty"`
}

// FootagePath is the relative path of captured footage, if any.
func (s RunState) FootagePath() string {
	return s.Footage.Path
}

// AttemptsFor returns the attempts recorded for phase, in order.
func (s RunState) AttemptsFor(phase Phase) []PhaseAttempt {
	var out []PhaseAttempt
	for _, a := range s.Attempts {
		if a.Phase == phase {
			out = append(out, a)
		}
	}
	return out
}

// LastAttempt returns the most recent attempt.
func (s RunState) LastAttempt() (PhaseAttempt, bool) {
	if len(s.Attempts) == 0 {
		return PhaseAttempt{}, false
	}
	return s.Attempts[len(s.Attempts)-1], true
}

// Clone returns a copy that shares no mutable memory with s.
func (s RunState) Clone() RunState {
	out := s
	out.Attempts = append([]PhaseAttempt(nil), s.Attempts...)
	if s.Trailer != nil {
		result := *s.Trailer
		out.Trailer = &result
	}
	return out
}

// TrailerConfig derives the trailer input from the feature.
func (s RunState) TrailerConfig() trailer.Config {
	return trailer.Config{
		Name:        s.Feature.Name,
		Slug:        s.Feature.Slug,
		Description: s.Feature.Description,
		Tagline:     s.Feature.Tagline,
	}
}
