// Package client is a typed HTTP client for the blitztrack API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"blitztrack/internal/duel"
	"blitztrack/internal/httpapi"
	"blitztrack/internal/tracker"
)

// APIError is a non-2xx reply.
type APIError struct {
	StatusCode  int
	Status      string `json:"status"`
	Message     string `json:"message"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("api: %d: %s", e.StatusCode, msg)
}

// IsStatus reports whether err is an APIError with the given HTTP code.
func IsStatus(err error, code int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == code
}

type Client struct {
	base *url.URL
	http *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func New(serverURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(serverURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("client: server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("client: server url %q must be http(s)", serverURL)
	}
	c := &Client{base: u, http: &http.Client{Timeout: 30 * time.Second}}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		ae := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(raw, ae)
		// Keep the decoded payload for callers that inspect it (verify).
		if out != nil {
			_ = json.Unmarshal(raw, out)
		}
		return ae
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("client: decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) Health(ctx context.Context) (string, error) {
	var out struct {
		Status string `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, "/", nil, &out)
	return out.Status, err
}

type StartRequest struct {
	JobID      string `json:"job_id,omitempty"`
	HandleA    string `json:"handle_a"`
	HandleB    string `json:"handle_b"`
	ProblemRef string `json:"problem_ref"`
}

func (c *Client) Start(ctx context.Context, req StartRequest) (httpapi.StartReply, error) {
	var out httpapi.StartReply
	err := c.do(ctx, http.MethodPost, "/start_tracking", req, &out)
	return out, err
}

func (c *Client) Status(ctx context.Context, jobID string) (duel.Job, error) {
	var out duel.Job
	err := c.do(ctx, http.MethodGet, "/check_status/"+url.PathEscape(jobID), nil, &out)
	return out, err
}

func (c *Client) Stop(ctx context.Context, jobIDs ...string) (map[string]tracker.CancelResult, error) {
	var out httpapi.StopReply
	err := c.do(ctx, http.MethodPost, "/stop_tracking", map[string][]string{"job_ids": jobIDs}, &out)
	return out.Results, err
}

// List returns active jobs, or every retained job when all is true.
func (c *Client) List(ctx context.Context, all bool) (map[string]duel.Job, error) {
	path := "/list_tracking"
	if all {
		path = "/all_tracking_history"
	}
	var out httpapi.JobsReply
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Jobs, err
}

func (c *Client) Completed(ctx context.Context) ([]string, error) {
	var out httpapi.CompletedReply
	err := c.do(ctx, http.MethodGet, "/matches_completed", nil, &out)
	return out.MatchesCompleted, err
}

func (c *Client) Winners(ctx context.Context) ([]duel.LedgerEntry, error) {
	var out httpapi.WinnersReply
	err := c.do(ctx, http.MethodGet, "/winners", nil, &out)
	return out.Winners, err
}

// Verify returns the reply for both outcomes; a 403 (already solved) comes
// back with a non-nil error and the populated reply.
func (c *Client) Verify(ctx context.Context, handleA, handleB, problemRef string) (httpapi.VerifyReply, error) {
	var out httpapi.VerifyReply
	err := c.do(ctx, http.MethodPost, "/verify", map[string]string{
		"handle_a": handleA, "handle_b": handleB, "problem_ref": problemRef,
	}, &out)
	return out, err
}

func (c *Client) Evict(ctx context.Context, olderThan time.Duration) (int, error) {
	var out httpapi.EvictReply
	err := c.do(ctx, http.MethodPost, "/evict", map[string]string{"older_than": olderThan.String()}, &out)
	return out.Removed, err
}

func (c *Client) Stats(ctx context.Context) (tracker.Stats, error) {
	var out httpapi.StatsReply
	err := c.do(ctx, http.MethodGet, "/stats", nil, &out)
	return out.Stats, err
}
