package httpapi

import (
	"net/http"

	"github.com/go-chi/render"

	"blitztrack/internal/duel"
	"blitztrack/internal/tracker"
)

// ErrResponse is the body of every non-2xx reply.
type ErrResponse struct {
	HTTPStatusCode int    `json:"-"`
	Status         string `json:"status"`
	Message        string `json:"message"`
	ErrorDetail    string `json:"error_detail,omitempty"`
}

func (e *ErrResponse) Render(_ http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

func errBadRequest(msg string) render.Renderer {
	return &ErrResponse{HTTPStatusCode: http.StatusBadRequest, Status: "error", Message: msg}
}

func errNotFound(msg string) render.Renderer {
	return &ErrResponse{HTTPStatusCode: http.StatusNotFound, Status: "error", Message: msg}
}

func errUnavailable(msg string) render.Renderer {
	return &ErrResponse{HTTPStatusCode: http.StatusServiceUnavailable, Status: "error", Message: msg}
}

func errUpstream(err error) render.Renderer {
	return &ErrResponse{HTTPStatusCode: http.StatusBadGateway, Status: "error", Message: "submission source unavailable", ErrorDetail: err.Error()}
}

func errInternal(err error) render.Renderer {
	return &ErrResponse{HTTPStatusCode: http.StatusInternalServerError, Status: "error", Message: "internal error", ErrorDetail: err.Error()}
}

type StartReply struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (StartReply) Render(http.ResponseWriter, *http.Request) error { return nil }

// JobReply is the full job record. The embedded job already carries status.
type JobReply struct {
	duel.Job
}

func (JobReply) Render(http.ResponseWriter, *http.Request) error { return nil }

type StopReply struct {
	Status  string                          `json:"status"`
	Results map[string]tracker.CancelResult `json:"results"`
}

func (StopReply) Render(http.ResponseWriter, *http.Request) error { return nil }

type JobsReply struct {
	Status string              `json:"status"`
	Count  int                 `json:"count"`
	Jobs   map[string]duel.Job `json:"jobs"`
}

func (JobsReply) Render(http.ResponseWriter, *http.Request) error { return nil }

type CompletedReply struct {
	Status           string   `json:"status"`
	MatchesCompleted []string `json:"matches_completed"`
}

func (CompletedReply) Render(http.ResponseWriter, *http.Request) error { return nil }

type WinnersReply struct {
	Status  string             `json:"status"`
	Winners []duel.LedgerEntry `json:"winners"`
}

func (WinnersReply) Render(http.ResponseWriter, *http.Request) error { return nil }

type VerifyReply struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	// Solved lists handles that already have an accepted submission.
	Solved []string `json:"solved,omitempty"`
}

func (v VerifyReply) Render(_ http.ResponseWriter, r *http.Request) error {
	if len(v.Solved) > 0 {
		render.Status(r, http.StatusForbidden)
	}
	return nil
}

type EvictReply struct {
	Status  string `json:"status"`
	Removed int    `json:"removed"`
}

func (EvictReply) Render(http.ResponseWriter, *http.Request) error { return nil }

type StatsReply struct {
	Status string `json:"status"`
	tracker.Stats
}

func (StatsReply) Render(http.ResponseWriter, *http.Request) error { return nil }

func jobsByID(jobs []duel.Job) map[string]duel.Job {
	out := make(map[string]duel.Job, len(jobs))
	for _, j := range jobs {
		out[j.ID] = j
	}
	return out
}
