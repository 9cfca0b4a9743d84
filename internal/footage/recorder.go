package footage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/shipyard/internal/procexec"
)

// DefaultRecorderSlack is added to the capture duration to bound the
// recorder process (browser startup, encoding).
const DefaultRecorderSlack = 60 * time.Second

// CommandRecorder drives an external headless-browser recorder. Argument
// templates may use {url}, {slug}, {seconds} and {output}.
type CommandRecorder struct {
	Runner    procexec.Runner
	Name      string
	Args      []string
	Dir       string
	WorkDir   string
	Extension string
	Slack     time.Duration
}

// Record runs the recorder and checks that it produced a file.
func (r CommandRecorder) Record(ctx context.Context, url, slug string, duration time.Duration) Recording {
	if r.Runner == nil || strings.TrimSpace(r.Name) == "" {
		return Recording{Error: "recorder command not configured"}
	}
	workDir := r.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return Recording{Error: err.Error()}
	}
	ext := r.Extension
	if ext == "" {
		ext = DefaultExtension
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	output := filepath.Join(workDir, fmt.Sprintf("%s_raw_%d%s", slug, time.Now().UnixNano(), ext))
	vars := strings.NewReplacer(
		"{url}", url,
		"{slug}", slug,
		"{seconds}", strconv.Itoa(int(duration.Round(time.Second)/time.Second)),
		"{output}", output,
	)
	args := make([]string, len(r.Args))
	for i, arg := range r.Args {
		args[i] = vars.Replace(arg)
	}
	slack := r.Slack
	if slack <= 0 {
		slack = DefaultRecorderSlack
	}
	_, err := r.Runner.Run(ctx, procexec.Command{
		Name:    r.Name,
		Args:    args,
		Dir:     r.Dir,
		Timeout: duration + slack,
	})
	if err != nil {
		return Recording{Error: err.Error()}
	}
	info, err := os.Stat(output)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return Recording{Error: "recorder produced no output at " + output}
	case err != nil:
		return Recording{Error: err.Error()}
	case info.Size() == 0:
		return Recording{Error: "recorder produced an empty file"}
	}
	return Recording{Success: true, VideoPath: output}
}
