package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/shipyard/internal/pipeline"
)

// DefaultClientTimeout bounds a single poll.
const DefaultClientTimeout = 5 * time.Second

// Client polls a running feed server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for baseURL (for example Settings.URL()). A nil
// httpClient gets one with DefaultClientTimeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultClientTimeout}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// BaseURL reports the server the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health fetches /health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	_, err := c.get(ctx, "/health", &h)
	return h, err
}

// Events fetches the events after since.
func (c *Client) Events(ctx context.Context, since int64) (EventsPage, error) {
	var page EventsPage
	_, err := c.get(ctx, "/events?since="+strconv.FormatInt(since, 10), &page)
	return page, err
}

// Run fetches the latest run. The boolean is false when the server has none.
func (c *Client) Run(ctx context.Context) (pipeline.RunState, bool, error) {
	var state pipeline.RunState
	status, err := c.get(ctx, "/run", &state)
	if status == http.StatusNotFound {
		return pipeline.RunState{}, false, nil
	}
	if err != nil {
		return pipeline.RunState{}, false, err
	}
	return state, true, nil
}

func (c *Client) get(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, fmt.Errorf("eventbridge: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("eventbridge: GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("eventbridge: read %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return resp.StatusCode, fmt.Errorf("eventbridge: GET %s: %d %s", path, resp.StatusCode, apiErr.Error)
		}
		return resp.StatusCode, fmt.Errorf("eventbridge: GET %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("eventbridge: decode %s: %w", path, err)
	}
	return resp.StatusCode, nil
}

// ErrUnavailable reports that no feed server answered.
var ErrUnavailable = errors.New("eventbridge: feed unavailable")

// WaitReady polls /health until the server reports ready or ctx ends.
func (c *Client) WaitReady(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if h, err := c.Health(ctx); err == nil && h.Status == string(StatusReady) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrUnavailable, c.baseURL)
		case <-ticker.C:
		}
	}
}
