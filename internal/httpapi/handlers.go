package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"blitztrack/internal/config"
	"blitztrack/internal/duel"
	"blitztrack/internal/tracker"
	logx "blitztrack/pkg/logx"
)

type startRequest struct {
	JobID      string `json:"job_id" validate:"omitempty,max=128"`
	HandleA    string `json:"handle_a" validate:"required,max=64"`
	HandleB    string `json:"handle_b" validate:"required,max=64"`
	ProblemRef string `json:"problem_ref" validate:"required,max=32"`
}

type stopRequest struct {
	JobIDs []string `json:"job_ids" validate:"required,min=1,dive,required"`
}

type verifyRequest struct {
	HandleA    string `json:"handle_a" validate:"required,max=64"`
	HandleB    string `json:"handle_b" validate:"required,max=64"`
	ProblemRef string `json:"problem_ref" validate:"required,max=32"`
}

type evictRequest struct {
	OlderThan string `json:"older_than" validate:"required"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "alive"})
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := render.DecodeJSON(r.Body, dst); err != nil {
		_ = render.Render(w, r, errBadRequest("invalid JSON body: "+err.Error()))
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		_ = render.Render(w, r, errBadRequest(err.Error()))
		return false
	}
	return true
}

func (h *handler) startTracking(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := strings.TrimSpace(req.JobID)
	if id == "" {
		id = uuid.NewString()
	}
	job, err := h.t.Submit(r.Context(), tracker.SubmitRequest{
		JobID:      id,
		HandleA:    req.HandleA,
		HandleB:    req.HandleB,
		ProblemRef: req.ProblemRef,
	})
	switch {
	case err == nil:
	case errors.Is(err, tracker.ErrInvalidRequest), errors.Is(err, tracker.ErrDuplicateJob):
		_ = render.Render(w, r, errBadRequest(err.Error()))
		return
	case errors.Is(err, tracker.ErrAtCapacity), errors.Is(err, tracker.ErrDraining):
		_ = render.Render(w, r, errUnavailable(err.Error()))
		return
	default:
		h.log.Error("submit failed", logx.String("job_id", id), logx.Err(err))
		_ = render.Render(w, r, errInternal(err))
		return
	}
	_ = render.Render(w, r, StartReply{
		JobID:   job.ID,
		Status:  "started",
		Message: fmt.Sprintf("now tracking %s vs %s for problem %s", job.HandleA, job.HandleB, job.Problem),
	})
}

func (h *handler) checkStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "job_id")
	job, err := h.t.Status(id)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			_ = render.Render(w, r, errNotFound("unknown job id "+id))
			return
		}
		_ = render.Render(w, r, errInternal(err))
		return
	}
	_ = render.Render(w, r, JobReply{Job: job})
}

func (h *handler) stopTracking(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if !h.decode(w, r, &req) {
		return
	}
	results := make(map[string]tracker.CancelResult, len(req.JobIDs))
	for _, id := range req.JobIDs {
		results[id] = h.t.Cancel(r.Context(), id)
	}
	_ = render.Render(w, r, StopReply{Status: "success", Results: results})
}

func (h *handler) listTracking(w http.ResponseWriter, r *http.Request) {
	jobs := h.t.ListActive()
	_ = render.Render(w, r, JobsReply{Status: "success", Count: len(jobs), Jobs: jobsByID(jobs)})
}

func (h *handler) allHistory(w http.ResponseWriter, r *http.Request) {
	jobs := h.t.ListAll()
	_ = render.Render(w, r, JobsReply{Status: "success", Count: len(jobs), Jobs: jobsByID(jobs)})
}

func (h *handler) matchesCompleted(w http.ResponseWriter, r *http.Request) {
	ids := h.t.DecidedIDs()
	if ids == nil {
		ids = []string{}
	}
	_ = render.Render(w, r, CompletedReply{Status: "success", MatchesCompleted: ids})
}

func (h *handler) winners(w http.ResponseWriter, r *http.Request) {
	ws := h.t.Winners()
	if ws == nil {
		ws = []duel.LedgerEntry{}
	}
	_ = render.Render(w, r, WinnersReply{Status: "success", Winners: ws})
}

// verify is the pre-match check: a race is only fair when neither handle has
// already solved the problem.
func (h *handler) verify(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		_ = render.Render(w, r, &ErrResponse{HTTPStatusCode: http.StatusNotImplemented, Status: "error", Message: "verification is not configured"})
		return
	}
	var req verifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	problem, err := duel.ParseProblemRef(req.ProblemRef)
	if err != nil {
		_ = render.Render(w, r, errBadRequest(err.Error()))
		return
	}
	var solved []string
	for _, handle := range []string{strings.TrimSpace(req.HandleA), strings.TrimSpace(req.HandleB)} {
		subs, err := h.source.FetchRecent(r.Context(), handle, h.limit)
		if err != nil {
			h.log.Warn("verify fetch failed", logx.String("handle", handle), logx.Err(err))
			_ = render.Render(w, r, errUpstream(err))
			return
		}
		_, ok, err := duel.FirstAccepted(subs, problem)
		if err != nil {
			_ = render.Render(w, r, errUpstream(err))
			return
		}
		if ok {
			solved = append(solved, handle)
		}
	}
	if len(solved) > 0 {
		_ = render.Render(w, r, VerifyReply{
			Status:  "error",
			Message: fmt.Sprintf("%s already solved %s", strings.Join(solved, " and "), problem),
			Solved:  solved,
		})
		return
	}
	_ = render.Render(w, r, VerifyReply{Status: "success", Message: "neither contestant has solved " + problem.String()})
}

func (h *handler) evict(w http.ResponseWriter, r *http.Request) {
	var req evictRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := config.ParseDurationField("older_than", req.OlderThan)
	if err != nil {
		_ = render.Render(w, r, errBadRequest(err.Error()))
		return
	}
	_ = render.Render(w, r, EvictReply{Status: "success", Removed: h.t.Evict(d)})
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	_ = render.Render(w, r, StatsReply{Status: "success", Stats: h.t.Stats()})
}
