// Package actions provides the default phase collaborators: external
// commands for planning, building, deploying and so on, an HTTP verifier,
// a trailer-uploading publisher and cached side activities.
package actions

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kingrea/shipyard/internal/feature"
	"github.com/kingrea/shipyard/internal/pipeline"
	"github.com/kingrea/shipyard/internal/procexec"
)

// CommandSpec is an argv template. Args, Dir and Env values may use
// {name}, {slug}, {description}, {tagline}, {url}, {run_id}, {video} and
// {video_url}.
type CommandSpec struct {
	Name    string            `yaml:"name"`
	Args    []string          `yaml:"args,omitempty"`
	Dir     string            `yaml:"dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Timeout time.Duration     `yaml:"timeout,omitempty"`
}

// Configured reports whether a program name is set.
func (c CommandSpec) Configured() bool {
	return strings.TrimSpace(c.Name) != ""
}

// Expand substitutes vars and returns the invocation.
func (c CommandSpec) Expand(vars map[string]string) procexec.Command {
	r := replacer(vars)
	args := make([]string, len(c.Args))
	for i, arg := range c.Args {
		args[i] = r.Replace(arg)
	}
	var env map[string]string
	if len(c.Env) > 0 {
		env = make(map[string]string, len(c.Env))
		for k, v := range c.Env {
			env[k] = r.Replace(v)
		}
	}
	return procexec.Command{
		Name:    c.Name,
		Args:    args,
		Dir:     r.Replace(c.Dir),
		Env:     env,
		Timeout: c.Timeout,
	}
}

func replacer(vars map[string]string) *strings.Replacer {
	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{"+key+"}", value)
	}
	return strings.NewReplacer(pairs...)
}

// Vars builds the placeholder set for a feature.
func Vars(spec feature.Spec, url string) map[string]string {
	return map[string]string{
		"name":        spec.Name,
		"slug":        spec.Slug,
		"description": spec.Description,
		"tagline":     spec.Tagline,
		"url":         url,
	}
}

func releaseVars(rel pipeline.Release, videoURL string) map[string]string {
	vars := Vars(rel.Feature, rel.DeployURL)
	vars["run_id"] = rel.RunID
	vars["video_url"] = videoURL
	vars["video"] = ""
	if rel.Trailer != nil {
		vars["video"] = rel.Trailer.VideoPath
	}
	return vars
}

// Command runs one external program as a phase action. It satisfies
// Planner, Builder, Tester, HomepageUpdater and Cleaner so the same type can
// back any of those phases. An unconfigured Command succeeds without
// running anything.
type Command struct {
	Runner procexec.Runner
	Spec   CommandSpec
	Logger zerolog.Logger
}

// NewCommand pairs spec with runner.
func NewCommand(runner procexec.Runner, spec CommandSpec, logger zerolog.Logger) *Command {
	return &Command{Runner: runner, Spec: spec, Logger: logger}
}

func (c *Command) run(ctx context.Context, vars map[string]string) (procexec.Result, error) {
	if c == nil || !c.Spec.Configured() {
		return procexec.Result{}, nil
	}
	if c.Runner == nil {
		return procexec.Result{}, errors.New("actions: command runner not configured")
	}
	cmd := c.Spec.Expand(vars)
	res, err := c.Runner.Run(ctx, cmd)
	if err != nil {
		c.Logger.Warn().Err(err).Str("command", cmd.String()).Msg("action command failed")
		return res, err
	}
	c.Logger.Debug().Str("command", cmd.String()).Dur("duration", res.Duration).Msg("action command finished")
	return res, nil
}

func (c *Command) Plan(ctx context.Context, spec feature.Spec) error {
	_, err := c.run(ctx, Vars(spec, ""))
	return err
}

func (c *Command) Build(ctx context.Context, spec feature.Spec) error {
	_, err := c.run(ctx, Vars(spec, ""))
	return err
}

func (c *Command) Test(ctx context.Context, spec feature.Spec, url string) error {
	_, err := c.run(ctx, Vars(spec, url))
	return err
}

func (c *Command) UpdateHomepage(ctx context.Context, rel pipeline.Release) error {
	_, err := c.run(ctx, releaseVars(rel, ""))
	return err
}

func (c *Command) Cleanup(ctx context.Context, spec feature.Spec) error {
	_, err := c.run(ctx, Vars(spec, ""))
	return err
}

var (
	_ pipeline.Planner         = (*Command)(nil)
	_ pipeline.Builder         = (*Command)(nil)
	_ pipeline.Tester          = (*Command)(nil)
	_ pipeline.HomepageUpdater = (*Command)(nil)
	_ pipeline.Cleaner         = (*Command)(nil)
)
