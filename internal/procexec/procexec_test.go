package procexec

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
}

func TestRunCapturesOutput(t *testing.T) {
	requireShell(t)
	runner := NewExecRunner()
	res, err := runner.Run(context.Background(), Command{
		Name: "/bin/sh",
		Args: []string{"-c", `printf 'out'; printf 'err' 1>&2`},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stdout != "out" || res.Stderr != "err" || res.ExitCode != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunPassesArgsWithoutShellInterpolation(t *testing.T) {
	requireShell(t)
	payload := `{"featureName":"It's \"quoted\"; $(rm -rf /)"}`
	res, err := NewExecRunner().Run(context.Background(), Command{
		Name: "/bin/sh",
		Args: []string{"-c", `printf '%s' "$1"`, "sh", payload},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stdout != payload {
		t.Fatalf("argument mangled: %q", res.Stdout)
	}
}

func TestRunReportsExitError(t *testing.T) {
	requireShell(t)
	_, err := NewExecRunner().Run(context.Background(), Command{
		Name: "/bin/sh",
		Args: []string{"-c", "echo broken 1>&2; exit 7"},
	})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if exitErr.ExitCode != 7 {
		t.Fatalf("exit code = %d, want 7", exitErr.ExitCode)
	}
	if !strings.Contains(err.Error(), "/bin/sh") || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("error should name the command and stderr: %v", err)
	}
}

func TestRunTimeoutKillsProcessGroup(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()
	marker := filepath.Join(dir, "survived")
	started := time.Now()
	_, err := NewExecRunner(WithWaitDelay(time.Second)).Run(context.Background(), Command{
		Name:    "/bin/sh",
		Args:    []string{"-c", "(sleep 2; touch " + marker + ") & sleep 5"},
		Timeout: 200 * time.Millisecond,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !strings.Contains(err.Error(), "/bin/sh") {
		t.Fatalf("timeout error should name the command: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("timeout not enforced, took %s", elapsed)
	}
	time.Sleep(2500 * time.Millisecond)
	if _, statErr := os.Stat(marker); statErr == nil {
		t.Fatalf("background child outlived the timeout")
	}
}

func TestRunCancelledContext(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewExecRunner().Run(ctx, Command{Name: "/bin/sh", Args: []string{"-c", "sleep 1"}})
	if err == nil || errors.Is(err, ErrTimeout) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
}

func TestRunMissingBinary(t *testing.T) {
	_, err := NewExecRunner().Run(context.Background(), Command{Name: "definitely-not-a-real-binary-xyz"})
	if err == nil || !strings.Contains(err.Error(), "definitely-not-a-real-binary-xyz") {
		t.Fatalf("expected start error naming the binary, got %v", err)
	}
}

func TestRunRequiresName(t *testing.T) {
	if _, err := NewExecRunner().Run(context.Background(), Command{}); err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestLimitedBufferTruncates(t *testing.T) {
	buf := &limitedBuffer{limit: 4}
	n, err := buf.Write([]byte("abcdef"))
	if err != nil || n != 6 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if _, err := buf.Write([]byte("gh")); err != nil {
		t.Fatalf("second write: %v", err)
	}
	if buf.String() != "abcd" || !buf.truncated {
		t.Fatalf("unexpected buffer state %q truncated=%v", buf.String(), buf.truncated)
	}
}

func TestCommandStringShortensLongArgs(t *testing.T) {
	long := strings.Repeat("x", 200)
	got := Command{Name: "npx", Args: []string{"remotion", "render", "two words", long}}.String()
	if !strings.HasPrefix(got, `npx remotion render "two words" `) {
		t.Fatalf("unexpected identity %q", got)
	}
	if strings.Contains(got, long) || !strings.HasSuffix(got, "...") {
		t.Fatalf("long arg not shortened: %q", got)
	}
}
