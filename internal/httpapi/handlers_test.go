package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"blitztrack/internal/cfclient"
	"blitztrack/internal/duel"
	"blitztrack/internal/tracker"
	logx "blitztrack/pkg/logx"
)

type fakeTracker struct {
	mu        sync.Mutex
	submitErr error
	submitted []tracker.SubmitRequest
	jobs      map[string]duel.Job
	evictArg  time.Duration
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{jobs: map[string]duel.Job{}}
}

func (f *fakeTracker) Submit(_ context.Context, req tracker.SubmitRequest) (duel.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return duel.Job{}, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	p, _ := duel.ParseProblemRef(req.ProblemRef)
	j := duel.Job{ID: req.JobID, HandleA: req.HandleA, HandleB: req.HandleB, Problem: p, State: duel.StateTracking}
	f.jobs[j.ID] = j
	return j, nil
}

func (f *fakeTracker) Cancel(_ context.Context, id string) tracker.CancelResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return tracker.CancelResult{Outcome: tracker.CancelNotFound}
	}
	if j.State.Decided() {
		return tracker.CancelResult{Outcome: tracker.CancelAlreadyDecided, Job: &j}
	}
	j.State = duel.StateCancelled
	f.jobs[id] = j
	return tracker.CancelResult{Outcome: tracker.CancelStopped, Job: &j}
}

func (f *fakeTracker) Status(id string) (duel.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return duel.Job{}, tracker.ErrNotFound
	}
	return j, nil
}

func (f *fakeTracker) filter(keep func(duel.Job) bool) []duel.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []duel.Job
	for _, j := range f.jobs {
		if keep(j) {
			out = append(out, j)
		}
	}
	return out
}

func (f *fakeTracker) ListActive() []duel.Job {
	return f.filter(func(j duel.Job) bool { return j.State == duel.StateTracking })
}

func (f *fakeTracker) ListAll() []duel.Job { return f.filter(func(duel.Job) bool { return true }) }

func (f *fakeTracker) DecidedIDs() []string {
	var ids []string
	for _, j := range f.filter(func(j duel.Job) bool { return j.State.Decided() }) {
		ids = append(ids, j.ID)
	}
	return ids
}

func (f *fakeTracker) Winners() []duel.LedgerEntry {
	return []duel.LedgerEntry{{JobID: "done", Winner: "alice", DecidedAt: time.Unix(100, 0).UTC()}}
}

func (f *fakeTracker) Evict(olderThan time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evictArg = olderThan
	return 2
}

func (f *fakeTracker) Stats() tracker.Stats {
	return tracker.Stats{Live: 1, Capacity: 10}
}

type fakeSource struct {
	subs map[string][]duel.Submission
	err  error
}

func (s fakeSource) FetchRecent(_ context.Context, handle string, _ int) ([]duel.Submission, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.subs[handle], nil
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func newTestRouter(ft *fakeTracker, src tracker.Source) http.Handler {
	return NewRouter(ft, Options{Source: src, Log: logx.Nop()})
}

func TestHealth(t *testing.T) {
	rec, body := do(t, newTestRouter(newFakeTracker(), nil), http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "alive", body["status"])
}

func TestStartTracking(t *testing.T) {
	ft := newFakeTracker()
	h := newTestRouter(ft, nil)

	rec, body := do(t, h, http.MethodPost, "/start_tracking", `{"job_id":"m1","handle_a":"alice","handle_b":"bob","problem_ref":"1800/A"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "started", body["status"])
	require.Equal(t, "m1", body["job_id"])
	require.Contains(t, body["message"], "alice vs bob")

	rec, body = do(t, h, http.MethodPost, "/start_tracking", `{"handle_a":"alice","handle_b":"bob","problem_ref":"1800/A"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, body["job_id"])
	require.Len(t, ft.submitted, 2)
}

func TestStartTrackingErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		body string
		code int
	}{
		{name: "missing handle", body: `{"handle_a":"alice","problem_ref":"1800/A"}`, code: http.StatusBadRequest},
		{name: "bad json", body: `{"handle_a":`, code: http.StatusBadRequest},
		{name: "duplicate", err: tracker.ErrDuplicateJob, code: http.StatusBadRequest},
		{name: "invalid", err: tracker.ErrInvalidRequest, code: http.StatusBadRequest},
		{name: "capacity", err: tracker.ErrAtCapacity, code: http.StatusServiceUnavailable},
		{name: "draining", err: tracker.ErrDraining, code: http.StatusServiceUnavailable},
		{name: "unexpected", err: errors.New("boom"), code: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ft := newFakeTracker()
			ft.submitErr = tc.err
			body := tc.body
			if body == "" {
				body = `{"job_id":"m1","handle_a":"alice","handle_b":"bob","problem_ref":"1800/A"}`
			}
			rec, out := do(t, newTestRouter(ft, nil), http.MethodPost, "/start_tracking", body)
			require.Equal(t, tc.code, rec.Code)
			require.Equal(t, "error", out["status"])
			require.NotEmpty(t, out["message"])
		})
	}
}

func TestCheckStatusAndListings(t *testing.T) {
	ft := newFakeTracker()
	ft.jobs["live"] = duel.Job{ID: "live", State: duel.StateTracking}
	ft.jobs["done"] = duel.Job{ID: "done", State: duel.StateDecidedOne, Winner: "alice"}
	h := newTestRouter(ft, nil)

	rec, body := do(t, h, http.MethodGet, "/check_status/done", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "decided_one", body["status"])
	require.Equal(t, "alice", body["winner"])

	rec, body = do(t, h, http.MethodGet, "/check_status/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "error", body["status"])

	_, body = do(t, h, http.MethodGet, "/list_tracking", "")
	require.Equal(t, float64(1), body["count"])
	require.Contains(t, body["jobs"], "live")

	_, body = do(t, h, http.MethodGet, "/all_tracking_history", "")
	require.Equal(t, float64(2), body["count"])

	_, body = do(t, h, http.MethodGet, "/matches_completed", "")
	require.Equal(t, []any{"done"}, body["matches_completed"])

	_, body = do(t, h, http.MethodGet, "/winners", "")
	require.Len(t, body["winners"], 1)
}

func TestStopTracking(t *testing.T) {
	ft := newFakeTracker()
	ft.jobs["live"] = duel.Job{ID: "live", State: duel.StateTracking}
	ft.jobs["done"] = duel.Job{ID: "done", State: duel.StateDecidedBoth}
	h := newTestRouter(ft, nil)

	rec, body := do(t, h, http.MethodPost, "/stop_tracking", `{"job_ids":["live","done","ghost"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	results := body["results"].(map[string]any)
	require.Equal(t, "stopped", results["live"].(map[string]any)["outcome"])
	require.Equal(t, "already_decided", results["done"].(map[string]any)["outcome"])
	require.Equal(t, "not_found", results["ghost"].(map[string]any)["outcome"])

	rec, _ = do(t, h, http.MethodPost, "/stop_tracking", `{"job_ids":[]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerify(t *testing.T) {
	solved := []duel.Submission{{ContestID: 1800, Index: "A", Verdict: "OK", CreationTimeSeconds: 10}}
	src := fakeSource{subs: map[string][]duel.Submission{"bob": solved}}
	h := newTestRouter(newFakeTracker(), src)

	rec, body := do(t, h, http.MethodPost, "/verify", `{"handle_a":"alice","handle_b":"bob","problem_ref":"1800/A"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, []any{"bob"}, body["solved"])

	rec, body = do(t, h, http.MethodPost, "/verify", `{"handle_a":"alice","handle_b":"bob","problem_ref":"1800/B"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "success", body["status"])

	failing := newTestRouter(newFakeTracker(), fakeSource{err: &cfclient.TransientError{Handle: "alice", Err: errors.New("dial")}})
	rec, _ = do(t, failing, http.MethodPost, "/verify", `{"handle_a":"alice","handle_b":"bob","problem_ref":"1800/A"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	rec, _ = do(t, newTestRouter(newFakeTracker(), nil), http.MethodPost, "/verify", `{"handle_a":"a","handle_b":"b","problem_ref":"1/A"}`)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestEvict(t *testing.T) {
	ft := newFakeTracker()
	h := newTestRouter(ft, nil)

	rec, body := do(t, h, http.MethodPost, "/evict", `{"older_than":"2h"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(2), body["removed"])
	require.Equal(t, 2*time.Hour, ft.evictArg)

	rec, _ = do(t, h, http.MethodPost, "/evict", `{"older_than":"soon"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	rec, body := do(t, newTestRouter(newFakeTracker(), nil), http.MethodGet, "/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "error", body["status"])
}
