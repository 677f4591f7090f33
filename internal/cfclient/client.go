// Package cfclient fetches recent submissions from the Codeforces API.
//
// Every failure (transport, non-2xx, malformed payload, non-"OK" API status)
// is reported as a *TransientError. The client never retries; the polling task
// simply tries again next round.
package cfclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"blitztrack/internal/duel"
)

const (
	DefaultBaseURL = "https://codeforces.com/api"
	DefaultTimeout = 5 * time.Second
	DefaultLimit   = 20

	maxBodyBytes = 8 << 20
)

var ErrTransient = errors.New("cfclient: transient source error")

// TransientError describes one failed fetch. It unwraps to ErrTransient and
// to the underlying cause.
type TransientError struct {
	Handle     string
	StatusCode int
	Comment    string
	Err        error
}

func (e *TransientError) Error() string {
	var b strings.Builder
	b.WriteString("cfclient: fetch ")
	b.WriteString(strconv.Quote(e.Handle))
	if e.StatusCode != 0 {
		b.WriteString(": http ")
		b.WriteString(strconv.Itoa(e.StatusCode))
	}
	if e.Comment != "" {
		b.WriteString(": ")
		b.WriteString(e.Comment)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransientError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransient}
	}
	return []error{ErrTransient, e.Err}
}

type Config struct {
	BaseURL string
	Timeout time.Duration

	// RatePerSecond and Burst bound outbound calls across every task.
	// RatePerSecond <= 0 disables limiting.
	RatePerSecond float64
	Burst         int

	UserAgent  string
	HTTPClient *http.Client
}

type Client struct {
	base    string
	timeout time.Duration
	ua      string
	hc      *http.Client
	limiter *rate.Limiter
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("cfclient: invalid base url %q: %w", cfg.BaseURL, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	c := &Client{base: base, timeout: timeout, ua: strings.TrimSpace(cfg.UserAgent), hc: hc}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return c, nil
}

type apiResponse struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment"`
	Result  json.RawMessage `json:"result"`
}

type apiSubmission struct {
	ContestID           int    `json:"contestId"`
	CreationTimeSeconds int64  `json:"creationTimeSeconds"`
	Verdict             string `json:"verdict"`
	Problem             struct {
		ContestID int    `json:"contestId"`
		Index     string `json:"index"`
	} `json:"problem"`
}

// FetchRecent returns up to limit of the handle's most recent submissions.
// The rate limiter wait counts against the per-call timeout.
func (c *Client) FetchRecent(ctx context.Context, handle string, limit int) ([]duel.Submission, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" {
		return nil, &TransientError{Handle: handle, Err: errors.New("empty handle")}
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransientError{Handle: handle, Err: err}
		}
	}

	q := url.Values{}
	q.Set("handle", handle)
	q.Set("from", "1")
	q.Set("count", strconv.Itoa(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/user.status?"+q.Encode(), nil)
	if err != nil {
		return nil, &TransientError{Handle: handle, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &TransientError{Handle: handle, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransientError{Handle: handle, StatusCode: resp.StatusCode, Err: err}
	}

	var env apiResponse
	decodeErr := json.Unmarshal(body, &env)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Codeforces reports bad handles as 400 with a FAILED envelope.
		return nil, &TransientError{Handle: handle, StatusCode: resp.StatusCode, Comment: env.Comment}
	}
	if decodeErr != nil {
		return nil, &TransientError{Handle: handle, StatusCode: resp.StatusCode, Err: fmt.Errorf("malformed payload: %w", decodeErr)}
	}
	if env.Status != "OK" {
		return nil, &TransientError{Handle: handle, Comment: fmt.Sprintf("api status %q %s", env.Status, env.Comment)}
	}

	var raw []apiSubmission
	if err := json.Unmarshal(env.Result, &raw); err != nil {
		return nil, &TransientError{Handle: handle, Err: fmt.Errorf("malformed result: %w", err)}
	}
	out := make([]duel.Submission, 0, len(raw))
	for _, s := range raw {
		contest := s.Problem.ContestID
		if contest == 0 {
			contest = s.ContestID
		}
		out = append(out, duel.Submission{
			ContestID:           contest,
			Index:               s.Problem.Index,
			Verdict:             s.Verdict,
			CreationTimeSeconds: s.CreationTimeSeconds,
		})
	}
	return out, nil
}
