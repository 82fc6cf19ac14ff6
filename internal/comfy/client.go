package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tenexa/wanbridge/internal/workflow"
)

const (
	submitTimeout  = 30 * time.Second
	historyTimeout = 30 * time.Second
	probeTimeout   = 5 * time.Second

	// rejectionBodyLimit bounds how much of an engine rejection body is
	// carried into the error.
	rejectionBodyLimit = 2048
)

// ErrUnreachable is returned when the engine cannot be reached at all.
var ErrUnreachable = fmt.Errorf("engine unreachable")

// RejectedError reports a submission the engine answered but did not accept:
// a non-2xx status or a response without a prompt id. Body holds a bounded
// copy of the engine's response.
type RejectedError struct {
	StatusCode int
	Body       string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("engine rejected submission (status %d): %s", e.StatusCode, e.Body)
}

// Client talks to one ComfyUI server.
type Client struct {
	addr   string
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a client for the engine at addr (host:port).
func NewClient(addr string, logger *slog.Logger) *Client {
	return &Client{
		addr:   addr,
		http:   &http.Client{},
		logger: logger,
	}
}

// Addr returns the engine address the client was configured with.
func (c *Client) Addr() string {
	return c.addr
}

// Submit queues a bound graph for execution and returns the engine-assigned
// prompt id. sessionID correlates this submission with an event-stream
// subscription and must be unique per attempt.
func (c *Client) Submit(ctx context.Context, graph workflow.Graph, sessionID string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"prompt":    graph,
		"client_id": sessionID,
	})
	if err != nil {
		return "", fmt.Errorf("marshal submission: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, submitTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("http://%s/prompt", c.addr), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build submission request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, rejectionBodyLimit))
	if err != nil {
		return "", fmt.Errorf("read submission response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &RejectedError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(body, &result); err != nil || result.PromptID == "" {
		return "", &RejectedError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	c.logger.Info("submitted graph", "prompt_id", result.PromptID, "session_id", sessionID)
	return result.PromptID, nil
}

// History fetches the persisted record for a prompt. A job the engine has
// not finished yet comes back as a zero History. Callers must only invoke
// this after the monitor has confirmed completion via the event stream.
func (c *Client) History(ctx context.Context, promptID string) (History, error) {
	ctx, cancel := context.WithTimeout(ctx, historyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://%s/history/%s", c.addr, promptID), nil)
	if err != nil {
		return History{}, fmt.Errorf("build history request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return History{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return History{}, fmt.Errorf("history query: unexpected status %d", resp.StatusCode)
	}

	// The endpoint keys the record by prompt id; an unfinished job yields an
	// empty object.
	var records map[string]History
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return History{}, fmt.Errorf("decode history: %w", err)
	}

	return records[promptID], nil
}

// Ready reports whether the engine's HTTP surface is responding.
func (c *Client) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://%s/system_stats", c.addr), nil)
	if err != nil {
		return false
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
