package trailer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kingrea/shipyard/internal/procexec"
)

// RenderRequest is one composition render.
type RenderRequest struct {
	Composition    string
	OutputPath     string
	Params         Params
	Timeout        time.Duration
	MaxOutputBytes int
}

// Renderer turns a composition plus parameters into an encoded video file.
type Renderer interface {
	// Installed reports whether the renderer's installation marker exists.
	Installed() bool
	Render(ctx context.Context, req RenderRequest) error
}

// CommandRenderer invokes a composition CLI such as `npx remotion render`.
// The final argv is Args, EntryPoint, composition, output and
// <PropsFlag>=<json>.
type CommandRenderer struct {
	Runner     procexec.Runner
	Name       string
	Args       []string
	EntryPoint string
	// Dir is the composition project root the command runs in.
	Dir string
	// Marker is a path whose existence proves the renderer is installed.
	Marker    string
	PropsFlag string
}

// Installed reports whether Marker exists.
func (r CommandRenderer) Installed() bool {
	if strings.TrimSpace(r.Marker) == "" {
		return false
	}
	_, err := os.Stat(r.Marker)
	return err == nil
}

// Render runs the renderer command. Props are passed as a single argument so
// no shell quoting is involved.
func (r CommandRenderer) Render(ctx context.Context, req RenderRequest) error {
	if r.Runner == nil || strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("trailer: render command not configured")
	}
	props, err := json.Marshal(req.Params)
	if err != nil {
		return fmt.Errorf("trailer: encode params: %w", err)
	}
	flag := r.PropsFlag
	if flag == "" {
		flag = "--props"
	}
	args := append([]string{}, r.Args...)
	if r.EntryPoint != "" {
		args = append(args, r.EntryPoint)
	}
	args = append(args, req.Composition, req.OutputPath, flag+"="+string(props))
	_, err = r.Runner.Run(ctx, procexec.Command{
		Name:           r.Name,
		Args:           args,
		Dir:            r.Dir,
		Timeout:        req.Timeout,
		MaxOutputBytes: req.MaxOutputBytes,
	})
	return err
}
