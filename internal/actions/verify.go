package actions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultVerifyTimeout bounds a single verification request.
const DefaultVerifyTimeout = 15 * time.Second

// HTTPVerifier checks that a deployment answers a GET with a non-error
// status.
type HTTPVerifier struct {
	Client *http.Client
	// Path is appended to the deploy URL, for example "/healthz".
	Path    string
	Timeout time.Duration
}

// Verify implements pipeline.Verifier.
func (v *HTTPVerifier) Verify(ctx context.Context, url string) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("actions: no deploy url to verify")
	}
	timeout := v.Timeout
	if timeout <= 0 {
		timeout = DefaultVerifyTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := strings.TrimRight(url, "/") + v.Path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("actions: verify request: %w", err)
	}
	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("actions: verify %s: %w", target, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("actions: verify %s: status %d", target, resp.StatusCode)
	}
	return nil
}
