// Package tracker owns the match-tracking scheduler: bounded admission, one
// polling task per job, exactly-once terminal transitions, snapshots,
// restart reconciliation, cancellation and eviction.
package tracker

import (
	"context"
	"errors"
	"time"

	"blitztrack/internal/duel"
	"blitztrack/internal/jobstore"
)

var (
	ErrInvalidRequest = errors.New("tracker: invalid request")
	ErrDuplicateJob   = errors.New("tracker: duplicate job id")
	ErrAtCapacity     = errors.New("tracker: at capacity")
	ErrDraining       = errors.New("tracker: not accepting jobs")
	ErrNotFound       = jobstore.ErrNotFound
)

// Task cancellation causes.
var (
	errUserCancelled = errors.New("tracker: cancelled by request")
	errShutdown      = errors.New("tracker: shutting down")
)

// Source is the upstream submission feed.
type Source interface {
	FetchRecent(ctx context.Context, handle string, limit int) ([]duel.Submission, error)
}

// Persister saves and restores whole snapshots. storage.Store implements it.
type Persister interface {
	Load(ctx context.Context) (jobstore.Snapshot, bool, error)
	Save(ctx context.Context, snap jobstore.Snapshot) error
}

type Config struct {
	MaxConcurrent int
	PollInterval  time.Duration
	MaxRounds     int
	// GraceRounds is how many extra rounds the task keeps polling the
	// unsolved handle once the other has solved. 0 decides immediately.
	GraceRounds int
	FetchLimit  int

	ResumeOrphans bool

	SnapshotSchedule string
	EvictSchedule    string
	Retention        time.Duration
	SaveTimeout      time.Duration
}

const (
	DefaultMaxConcurrent    = 10
	DefaultPollInterval     = 10 * time.Second
	DefaultMaxRounds        = 720
	DefaultFetchLimit       = 20
	DefaultSnapshotSchedule = "@every 30s"
	DefaultEvictSchedule    = "@every 10m"
	DefaultRetention        = 24 * time.Hour
	DefaultSaveTimeout      = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.GraceRounds < 0 {
		c.GraceRounds = 0
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = DefaultFetchLimit
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = DefaultSaveTimeout
	}
	return c
}

// SubmitRequest is an admission request. All fields are required.
type SubmitRequest struct {
	JobID      string
	HandleA    string
	HandleB    string
	ProblemRef string
}

type CancelOutcome string

const (
	CancelStopped        CancelOutcome = "stopped"
	CancelAlreadyDecided CancelOutcome = "already_decided"
	CancelNotCancellable CancelOutcome = "not_cancellable"
	CancelNotFound       CancelOutcome = "not_found"
)

type CancelResult struct {
	Outcome CancelOutcome `json:"outcome"`
	Job     *duel.Job     `json:"job,omitempty"`
}

// Stats is a point-in-time view for health and metrics.
type Stats struct {
	Live     int                `json:"live"`
	Capacity int                `json:"capacity"`
	Draining bool               `json:"draining"`
	ByState  map[duel.State]int `json:"by_state"`
	Winners  int                `json:"winners"`

	// Tasks counts running polling goroutines; TaskPanics counts panics the
	// supervisor recovered since Start.
	Tasks      int64  `json:"tasks"`
	TaskPanics uint64 `json:"task_panics"`
}
