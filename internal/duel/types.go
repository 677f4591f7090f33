// Package duel holds the race domain model: jobs, problem references,
// upstream submissions and the pure outcome evaluator.
package duel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidProblemRef = errors.New("duel: invalid problem reference")
	ErrEvaluation        = errors.New("duel: unexpected submission shape")
)

// State is the lifecycle state of a Job.
type State string

const (
	StateTracking    State = "tracking"
	StateDecidedBoth State = "decided_both"
	StateDecidedOne  State = "decided_one"
	StateTimeout     State = "timeout"
	StateError       State = "error"
	StateCancelled   State = "cancelled"
)

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	switch s {
	case StateDecidedBoth, StateDecidedOne, StateTimeout, StateError, StateCancelled:
		return true
	default:
		return false
	}
}

// Decided reports whether s carries a winner.
func (s State) Decided() bool {
	return s == StateDecidedBoth || s == StateDecidedOne
}

func (s State) Valid() bool {
	return s == StateTracking || s.Terminal()
}

// VerdictAccepted is the upstream verdict for a correct solution.
const VerdictAccepted = "OK"

// ProblemRef identifies one problem as (contest id, index), e.g. "1800/A".
type ProblemRef struct {
	ContestID int    `json:"contest_id"`
	Index     string `json:"index"`
}

func (p ProblemRef) String() string {
	return strconv.Itoa(p.ContestID) + "/" + p.Index
}

func (p ProblemRef) Validate() error {
	if p.ContestID <= 0 {
		return fmt.Errorf("%w: contest id must be > 0", ErrInvalidProblemRef)
	}
	if strings.TrimSpace(p.Index) == "" {
		return fmt.Errorf("%w: missing index", ErrInvalidProblemRef)
	}
	return nil
}

// ParseProblemRef parses "contestId/index".
func ParseProblemRef(raw string) (ProblemRef, error) {
	s := strings.TrimSpace(raw)
	contest, index, ok := strings.Cut(s, "/")
	if !ok {
		return ProblemRef{}, fmt.Errorf("%w: %q is not contestId/index", ErrInvalidProblemRef, raw)
	}
	id, err := strconv.Atoi(strings.TrimSpace(contest))
	if err != nil {
		return ProblemRef{}, fmt.Errorf("%w: contest id %q", ErrInvalidProblemRef, contest)
	}
	p := ProblemRef{ContestID: id, Index: strings.ToUpper(strings.TrimSpace(index))}
	if err := p.Validate(); err != nil {
		return ProblemRef{}, err
	}
	return p, nil
}

// Submission is the subset of an upstream submission the tracker reads.
type Submission struct {
	ContestID           int    `json:"contest_id"`
	Index               string `json:"index"`
	Verdict             string `json:"verdict"`
	CreationTimeSeconds int64  `json:"creation_time_seconds"`
}

// Job is one tracked race.
type Job struct {
	ID         string     `json:"job_id"`
	HandleA    string     `json:"handle_a"`
	HandleB    string     `json:"handle_b"`
	Problem    ProblemRef `json:"problem_ref"`
	State      State      `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	LastPollAt *time.Time `json:"last_poll_at,omitempty"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Rounds     int        `json:"rounds"`

	Winner     string `json:"winner,omitempty"`
	Loser      string `json:"loser,omitempty"`
	WinnerTime *int64 `json:"winner_time,omitempty"`
	LoserTime  *int64 `json:"loser_time,omitempty"`
	TimeDiff   *int64 `json:"time_difference,omitempty"`

	Message     string `json:"message,omitempty"`
	ErrorDetail string `json:"error_detail,omitempty"`
}

// Clone returns a deep copy so callers never share pointers with the store.
func (j Job) Clone() Job {
	out := j
	out.LastPollAt = cloneTime(j.LastPollAt)
	out.DecidedAt = cloneTime(j.DecidedAt)
	out.FinishedAt = cloneTime(j.FinishedAt)
	out.WinnerTime = cloneInt(j.WinnerTime)
	out.LoserTime = cloneInt(j.LoserTime)
	out.TimeDiff = cloneInt(j.TimeDiff)
	return out
}

// SettledAt is the timestamp eviction compares against: decision time, then
// terminal time, then last poll, then creation.
func (j Job) SettledAt() time.Time {
	switch {
	case j.DecidedAt != nil:
		return *j.DecidedAt
	case j.FinishedAt != nil:
		return *j.FinishedAt
	case j.LastPollAt != nil:
		return *j.LastPollAt
	default:
		return j.CreatedAt
	}
}

// LedgerEntry is one decided outcome in the winner ledger.
type LedgerEntry struct {
	JobID     string    `json:"match_id"`
	Winner    string    `json:"winner"`
	DecidedAt time.Time `json:"decided_at"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	x := *v
	return &x
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time { return &t }
