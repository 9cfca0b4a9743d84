package pipeline

import (
	"context"

	"github.com/kingrea/shipyard/internal/feature"
	"github.com/kingrea/shipyard/internal/trailer"
)

// Planner drafts the work for a feature.
type Planner interface {
	Plan(ctx context.Context, spec feature.Spec) error
}

// Builder compiles, lints and tests the feature's code.
type Builder interface {
	Build(ctx context.Context, spec feature.Spec) error
}

// Deployer pushes the build and returns a reachable URL.
type Deployer interface {
	Deploy(ctx context.Context, spec feature.Spec) (string, error)
}

// Verifier checks that a deployment answers.
type Verifier interface {
	Verify(ctx context.Context, url string) error
}

// Tester exercises the deployed feature.
type Tester interface {
	Test(ctx context.Context, spec feature.Spec, url string) error
}

// TrailerMaker is the video pipeline as seen by the orchestrator.
// *trailer.Pipeline satisfies it.
type TrailerMaker interface {
	Prepare(ctx context.Context, cfg trailer.Config, deployURL string) trailer.Footage
	Render(ctx context.Context, cfg trailer.Config, footage trailer.Footage) trailer.Result
}

// Release is what Publish and Homepage announce. Trailer is nil when no
// video was produced.
type Release struct {
	RunID     string
	Feature   feature.Spec
	DeployURL string
	Trailer   *trailer.Result
}

// Publisher announces a release and may return where it was published.
type Publisher interface {
	Publish(ctx context.Context, release Release) (string, error)
}

// HomepageUpdater links the feature from the homepage.
type HomepageUpdater interface {
	UpdateHomepage(ctx context.Context, release Release) error
}

// Cleaner removes temporary state after a run.
type Cleaner interface {
	Cleanup(ctx context.Context, spec feature.Spec) error
}

// SideActivity is low-priority work done during Cooldown.
type SideActivity interface {
	Name() string
	Run(ctx context.Context) (string, error)
}

// Collaborators wires phase actions. A nil collaborator is treated as an
// action that succeeds immediately.
type Collaborators struct {
	Planner        Planner
	Builder        Builder
	Deployer       Deployer
	Verifier       Verifier
	Tester         Tester
	Trailer        TrailerMaker
	Publisher      Publisher
	Homepage       HomepageUpdater
	Cleaner        Cleaner
	SideActivities []SideActivity
}
