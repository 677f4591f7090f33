package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"blitztrack/internal/duel"
	"blitztrack/internal/httpapi"
	"blitztrack/internal/tracker"
	logx "blitztrack/pkg/logx"
)

// memTracker is a minimal in-memory implementation of httpapi.Tracker.
type memTracker struct {
	mu   sync.Mutex
	jobs map[string]duel.Job
}

func (m *memTracker) Submit(_ context.Context, req tracker.SubmitRequest) (duel.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[req.JobID]; ok {
		return duel.Job{}, tracker.ErrDuplicateJob
	}
	p, err := duel.ParseProblemRef(req.ProblemRef)
	if err != nil {
		return duel.Job{}, tracker.ErrInvalidRequest
	}
	j := duel.Job{ID: req.JobID, HandleA: req.HandleA, HandleB: req.HandleB, Problem: p, State: duel.StateTracking}
	m.jobs[j.ID] = j
	return j, nil
}

func (m *memTracker) Cancel(_ context.Context, id string) tracker.CancelResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return tracker.CancelResult{Outcome: tracker.CancelNotFound}
	}
	j.State = duel.StateCancelled
	m.jobs[id] = j
	return tracker.CancelResult{Outcome: tracker.CancelStopped, Job: &j}
}

func (m *memTracker) Status(id string) (duel.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return duel.Job{}, tracker.ErrNotFound
	}
	return j, nil
}

func (m *memTracker) all() []duel.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]duel.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out
}

func (m *memTracker) ListActive() []duel.Job {
	var out []duel.Job
	for _, j := range m.all() {
		if j.State == duel.StateTracking {
			out = append(out, j)
		}
	}
	return out
}

func (m *memTracker) ListAll() []duel.Job         { return m.all() }
func (m *memTracker) DecidedIDs() []string        { return []string{"old"} }
func (m *memTracker) Winners() []duel.LedgerEntry { return []duel.LedgerEntry{{JobID: "old", Winner: "tourist"}} }
func (m *memTracker) Evict(time.Duration) int     { return 1 }
func (m *memTracker) Stats() tracker.Stats        { return tracker.Stats{Capacity: 10} }

func newTestClient(t *testing.T) *Client {
	t.Helper()
	srv := httptest.NewServer(httpapi.NewRouter(&memTracker{jobs: map[string]duel.Job{}}, httpapi.Options{Log: logx.Nop()}))
	t.Cleanup(srv.Close)
	c, err := New(srv.URL + "/")
	require.NoError(t, err)
	return c
}

func TestClientRoundTrip(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	status, err := c.Health(ctx)
	require.NoError(t, err)
	require.Equal(t, "alive", status)

	rep, err := c.Start(ctx, StartRequest{JobID: "m1", HandleA: "alice", HandleB: "bob", ProblemRef: "1800/A"})
	require.NoError(t, err)
	require.Equal(t, "started", rep.Status)

	_, err = c.Start(ctx, StartRequest{JobID: "m1", HandleA: "alice", HandleB: "bob", ProblemRef: "1800/A"})
	require.True(t, IsStatus(err, http.StatusBadRequest), err)

	job, err := c.Status(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, duel.StateTracking, job.State)
	require.Equal(t, "1800/A", job.Problem.String())

	_, err = c.Status(ctx, "missing")
	require.True(t, IsStatus(err, http.StatusNotFound), err)

	active, err := c.List(ctx, false)
	require.NoError(t, err)
	require.Contains(t, active, "m1")

	results, err := c.Stop(ctx, "m1", "ghost")
	require.NoError(t, err)
	require.Equal(t, tracker.CancelStopped, results["m1"].Outcome)
	require.Equal(t, tracker.CancelNotFound, results["ghost"].Outcome)

	ids, err := c.Completed(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"old"}, ids)

	winners, err := c.Winners(ctx)
	require.NoError(t, err)
	require.Len(t, winners, 1)

	removed, err := c.Evict(ctx, time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 10, st.Capacity)
}

func TestVerifyWithoutSource(t *testing.T) {
	c := newTestClient(t)
	_, err := c.Verify(context.Background(), "a", "b", "1/A")
	require.True(t, IsStatus(err, http.StatusNotImplemented), err)
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("localhost:8080")
	require.Error(t, err)
}
