// Package jobstore is the in-memory record of every tracked job plus the
// append-only winner ledger.
//
// All mutations are serialized by one mutex. Terminal state is write-once:
// transitions are compare-and-set on StateTracking, so a polling task and the
// cancel path can race and exactly one of them wins. Callers only ever see
// copies of the stored records.
package jobstore

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"blitztrack/internal/duel"
)

var (
	ErrDuplicate   = errors.New("jobstore: duplicate job id")
	ErrNotFound    = errors.New("jobstore: job not found")
	ErrNotTracking = errors.New("jobstore: job is not tracking")
	ErrInvalid     = errors.New("jobstore: invalid record")
)

// SnapshotVersion is bumped when the Snapshot layout changes.
const SnapshotVersion = 1

// Snapshot is the persisted form of the store.
type Snapshot struct {
	Version int                `json:"version"`
	SavedAt time.Time          `json:"saved_at"`
	Jobs    []duel.Job         `json:"jobs"`
	Winners []duel.LedgerEntry `json:"winners"`
}

// Terminal describes a terminal transition.
type Terminal struct {
	State       duel.State
	Outcome     *duel.Outcome
	Message     string
	ErrorDetail string
	At          time.Time
}

type ledgerKey struct {
	job    string
	winner string
}

type Store struct {
	mu      sync.Mutex
	jobs    map[string]*duel.Job
	ledger  []duel.LedgerEntry
	seen    map[ledgerKey]struct{}
	version uint64

	nowFn func() time.Time
}

type Option func(*Store)

// WithClock overrides time.Now, mainly for tests.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		jobs:  map[string]*duel.Job{},
		seen:  map[ledgerKey]struct{}{},
		nowFn: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) now() time.Time { return s.nowFn().UTC() }

// Version increases on every mutation. Snapshot writers use it to skip
// unchanged state.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Create inserts a new tracking record. The id must not exist in any state.
func (s *Store) Create(j duel.Job) (duel.Job, error) {
	j.ID = strings.TrimSpace(j.ID)
	if j.ID == "" {
		return duel.Job{}, fmt.Errorf("%w: empty job id", ErrInvalid)
	}
	if err := j.Problem.Validate(); err != nil {
		return duel.Job{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	j.State = duel.StateTracking
	if j.CreatedAt.IsZero() {
		j.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return duel.Job{}, fmt.Errorf("%w: %s", ErrDuplicate, j.ID)
	}
	rec := j.Clone()
	s.jobs[j.ID] = &rec
	s.version++
	return rec.Clone(), nil
}

// Exists reports whether id is present in any state.
func (s *Store) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

func (s *Store) Get(id string) (duel.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return duel.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j.Clone(), nil
}

// Touch records a completed poll round on a tracking job.
func (s *Store) Touch(id string, at time.Time, rounds int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if j.State != duel.StateTracking {
		return fmt.Errorf("%w: %s is %s", ErrNotTracking, id, j.State)
	}
	j.LastPollAt = duel.TimePtr(at.UTC())
	j.Rounds = rounds
	if message != "" {
		j.Message = message
	}
	s.version++
	return nil
}

// Finish moves a tracking job to a terminal state. Decided transitions also
// append to the winner ledger under the same lock.
func (s *Store) Finish(id string, t Terminal) (duel.Job, error) {
	if !t.State.Terminal() {
		return duel.Job{}, fmt.Errorf("%w: %q is not terminal", ErrInvalid, t.State)
	}
	if t.State.Decided() && (t.Outcome == nil || t.Outcome.Winner == "") {
		return duel.Job{}, fmt.Errorf("%w: %s requires an outcome", ErrInvalid, t.State)
	}
	at := t.At
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return duel.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if j.State != duel.StateTracking {
		return j.Clone(), fmt.Errorf("%w: %s is %s", ErrNotTracking, id, j.State)
	}

	j.State = t.State
	j.FinishedAt = duel.TimePtr(at)
	if t.Message != "" {
		j.Message = t.Message
	}
	j.ErrorDetail = t.ErrorDetail
	if t.State.Decided() {
		o := t.Outcome
		j.Winner = o.Winner
		j.Loser = o.Loser
		j.WinnerTime = duel.Int64(o.WinnerTime)
		if o.LoserTime != nil {
			j.LoserTime = duel.Int64(*o.LoserTime)
		}
		if o.TimeDiff != nil {
			j.TimeDiff = duel.Int64(*o.TimeDiff)
		}
		j.DecidedAt = duel.TimePtr(at)
		s.appendLedgerLocked(duel.LedgerEntry{JobID: id, Winner: o.Winner, DecidedAt: at})
	}
	s.version++
	return j.Clone(), nil
}

// Cancel moves a tracking job to cancelled. When the job is already terminal
// it returns the current record and changed=false.
func (s *Store) Cancel(id string, at time.Time) (job duel.Job, changed bool, err error) {
	if at.IsZero() {
		at = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return duel.Job{}, false, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if j.State != duel.StateTracking {
		return j.Clone(), false, nil
	}
	j.State = duel.StateCancelled
	j.FinishedAt = duel.TimePtr(at.UTC())
	j.Message = "tracking stopped"
	s.version++
	return j.Clone(), true, nil
}

func (s *Store) appendLedgerLocked(e duel.LedgerEntry) bool {
	k := ledgerKey{job: e.JobID, winner: e.Winner}
	if _, dup := s.seen[k]; dup {
		return false
	}
	s.seen[k] = struct{}{}
	s.ledger = append(s.ledger, e)
	return true
}

// List returns jobs matching keep (all jobs when keep is nil), oldest first.
func (s *Store) List(keep func(duel.Job) bool) []duel.Job {
	s.mu.Lock()
	out := make([]duel.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if keep != nil && !keep(*j) {
			continue
		}
		out = append(out, j.Clone())
	}
	s.mu.Unlock()
	sortJobs(out)
	return out
}

func (s *Store) Active() []duel.Job {
	return s.List(func(j duel.Job) bool { return j.State == duel.StateTracking })
}

// DecidedIDs lists ids of jobs in a decided state.
func (s *Store) DecidedIDs() []string {
	jobs := s.List(func(j duel.Job) bool { return j.State.Decided() })
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	return ids
}

// Winners returns the ledger in append order.
func (s *Store) Winners() []duel.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]duel.LedgerEntry(nil), s.ledger...)
}

// Counts returns the number of jobs per state.
func (s *Store) Counts() map[duel.State]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[duel.State]int{}
	for _, j := range s.jobs {
		out[j.State]++
	}
	return out
}

// Evict removes terminal jobs settled at or before cutoff. Tracking jobs and
// ledger entries are never removed.
func (s *Store) Evict(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for id, j := range s.jobs {
		if !j.State.Terminal() {
			continue
		}
		if j.SettledAt().After(cutoff) {
			continue
		}
		delete(s.jobs, id)
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		s.version++
	}
	sort.Strings(removed)
	return removed
}

// Snapshot copies the current state.
func (s *Store) Snapshot() Snapshot {
	jobs := s.List(nil)
	return Snapshot{
		Version: SnapshotVersion,
		SavedAt: s.now(),
		Jobs:    jobs,
		Winners: s.Winners(),
	}
}

// Restore loads snap into the store. Records already present are kept;
// decided jobs missing from the ledger get an entry.
func (s *Store) Restore(snap Snapshot) (int, error) {
	if snap.Version > SnapshotVersion {
		return 0, fmt.Errorf("%w: snapshot version %d is newer than %d", ErrInvalid, snap.Version, SnapshotVersion)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range snap.Winners {
		if e.JobID == "" || e.Winner == "" {
			continue
		}
		s.appendLedgerLocked(e)
	}

	restored := 0
	for _, j := range snap.Jobs {
		if j.ID == "" || !j.State.Valid() {
			return restored, fmt.Errorf("%w: job %q has state %q", ErrInvalid, j.ID, j.State)
		}
		if _, ok := s.jobs[j.ID]; ok {
			continue
		}
		rec := j.Clone()
		s.jobs[j.ID] = &rec
		restored++
		if rec.State.Decided() && rec.Winner != "" {
			at := rec.SettledAt()
			s.appendLedgerLocked(duel.LedgerEntry{JobID: rec.ID, Winner: rec.Winner, DecidedAt: at})
		}
	}
	if restored > 0 || len(snap.Winners) > 0 {
		s.version++
	}
	return restored, nil
}

func sortJobs(jobs []duel.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}
