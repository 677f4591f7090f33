package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"blitztrack/internal/duel"
	"blitztrack/internal/httpapi"
	"blitztrack/internal/tracker"
	logx "blitztrack/pkg/logx"
)

type staticTracker struct {
	jobs      []duel.Job
	submitted []tracker.SubmitRequest
}

func (s *staticTracker) Submit(_ context.Context, req tracker.SubmitRequest) (duel.Job, error) {
	s.submitted = append(s.submitted, req)
	return duel.Job{ID: req.JobID, State: duel.StateTracking}, nil
}

func (s *staticTracker) Cancel(_ context.Context, id string) tracker.CancelResult {
	for _, j := range s.jobs {
		if j.ID == id {
			return tracker.CancelResult{Outcome: tracker.CancelAlreadyDecided, Job: &j}
		}
	}
	return tracker.CancelResult{Outcome: tracker.CancelNotFound}
}

func (s *staticTracker) Status(id string) (duel.Job, error) {
	for _, j := range s.jobs {
		if j.ID == id {
			return j, nil
		}
	}
	return duel.Job{}, tracker.ErrNotFound
}

func (s *staticTracker) ListActive() []duel.Job { return nil }
func (s *staticTracker) ListAll() []duel.Job    { return s.jobs }
func (s *staticTracker) DecidedIDs() []string   { return []string{"m1"} }
func (s *staticTracker) Winners() []duel.LedgerEntry {
	return []duel.LedgerEntry{{JobID: "m1", Winner: "tourist", DecidedAt: time.Unix(1700000000, 0).UTC()}}
}
func (s *staticTracker) Evict(time.Duration) int { return 3 }
func (s *staticTracker) Stats() tracker.Stats    { return tracker.Stats{Capacity: 10} }

func runCLI(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--server-url", url))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStartValidate(t *testing.T) {
	o := &StartOptions{}
	require.Error(t, o.Validate([]string{"Tourist", "tourist", "1800/A"}))
	require.Error(t, o.Validate([]string{"a", "b", "1800"}))
	require.NoError(t, o.Validate([]string{"a", "b", "1800/a"}))
}

func TestSortedJobs(t *testing.T) {
	t0 := time.Unix(100, 0)
	jobs := map[string]duel.Job{
		"c": {ID: "c", CreatedAt: t0.Add(time.Second)},
		"b": {ID: "b", CreatedAt: t0},
		"a": {ID: "a", CreatedAt: t0},
	}
	got := sortedJobs(jobs)
	require.Equal(t, []string{"a", "b", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestRootCommandArgs(t *testing.T) {
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"start", "onlyone"})
	require.Error(t, root.ExecuteContext(context.Background()))
}

func TestCommandsAgainstServer(t *testing.T) {
	tr := &staticTracker{jobs: []duel.Job{{
		ID: "m1", HandleA: "tourist", HandleB: "petr",
		Problem: duel.ProblemRef{ContestID: 1800, Index: "A"},
		State:   duel.StateDecidedBoth, Winner: "tourist",
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	}}}
	srv := httptest.NewServer(httpapi.NewRouter(tr, httpapi.Options{Log: logx.Nop()}))
	t.Cleanup(srv.Close)

	out, err := runCLI(t, srv.URL, "health")
	require.NoError(t, err)
	require.Equal(t, "alive\n", out)

	out, err = runCLI(t, srv.URL, "start", "tourist", "petr", "1800/A", "--id", "m2")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "m2: "), out)
	require.Len(t, tr.submitted, 1)
	require.Equal(t, "1800/A", tr.submitted[0].ProblemRef)

	out, err = runCLI(t, srv.URL, "list", "--all")
	require.NoError(t, err)
	require.Contains(t, out, "m1\tdecided_both\ttourist\tpetr\t1800/A\ttourist")

	out, err = runCLI(t, srv.URL, "stop", "m1", "nope")
	require.NoError(t, err)
	require.Equal(t, "m1\talready_decided\nnope\tnot_found\n", out)

	out, err = runCLI(t, srv.URL, "winners")
	require.NoError(t, err)
	require.Equal(t, "m1\ttourist\t2023-11-14T22:13:20Z\n", out)

	out, err = runCLI(t, srv.URL, "evict", "--older-than", "1h")
	require.NoError(t, err)
	require.Equal(t, "removed 3 job(s)\n", out)

	_, err = runCLI(t, srv.URL, "status", "missing")
	require.Error(t, err)
}
