package tracker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"blitztrack/internal/duel"
	"blitztrack/internal/eventbus"
	"blitztrack/internal/jobstore"
	"blitztrack/internal/runtime/supervisor"
	logx "blitztrack/pkg/logx"
)

// Scheduler admits jobs and runs one polling task per live job.
//
// Lock order: Scheduler.mu, then the job store's own mutex.
type Scheduler struct {
	log     logx.Logger
	store   *jobstore.Store
	source  Source
	persist Persister
	bus     eventbus.Bus
	nowFn   func() time.Time

	mu       sync.Mutex
	cfg      Config
	live     map[string]*liveTask
	slots    int
	draining bool
	running  bool
	sup      *supervisor.Supervisor
	hk       *housekeeping

	saveMu       sync.Mutex
	savedVersion uint64
	saved        bool
}

type liveTask struct {
	cancel  context.CancelCauseFunc
	done    chan struct{}
	release sync.Once
}

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option { return func(s *Scheduler) { s.log = log } }

// WithPersister enables snapshots. Without it state lives in memory only.
func WithPersister(p Persister) Option { return func(s *Scheduler) { s.persist = p } }

func WithBus(b eventbus.Bus) Option { return func(s *Scheduler) { s.bus = b } }

// WithStore supplies the record store, mainly for tests.
func WithStore(st *jobstore.Store) Option { return func(s *Scheduler) { s.store = st } }

func WithClock(fn func() time.Time) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

func New(cfg Config, source Source, opts ...Option) (*Scheduler, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: nil source", ErrInvalidRequest)
	}
	s := &Scheduler{
		cfg:    cfg.withDefaults(),
		source: source,
		live:   map[string]*liveTask{},
		nowFn:  time.Now,
		log:    logx.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.store == nil {
		s.store = jobstore.New(jobstore.WithClock(s.nowFn))
	}
	if s.bus == nil {
		s.bus = eventbus.New()
	}
	s.log = s.log.With(logx.String("comp", "tracker"))
	return s, nil
}

func (s *Scheduler) now() time.Time { return s.nowFn().UTC() }

func (s *Scheduler) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// SetRetention changes the eviction retention at runtime.
func (s *Scheduler) SetRetention(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.cfg.Retention = d
	s.mu.Unlock()
}

func (s *Scheduler) Store() *jobstore.Store { return s.store }
func (s *Scheduler) Bus() eventbus.Bus       { return s.bus }

// Start restores the last snapshot, reconciles orphaned tracking jobs and
// starts housekeeping. Tasks live until Stop or until ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if s.persist != nil {
		snap, ok, err := s.persist.Load(ctx)
		if err != nil {
			return fmt.Errorf("tracker: load snapshot: %w", err)
		}
		if ok {
			n, err := s.store.Restore(snap)
			if err != nil {
				return fmt.Errorf("tracker: restore snapshot: %w", err)
			}
			s.log.Info("snapshot restored", logx.Int("jobs", n), logx.Int("winners", len(snap.Winners)), logx.Time("saved_at", snap.SavedAt))
		}
	}

	cfg := s.config()
	hk, err := newHousekeeping(s, cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.running = true
	s.draining = false
	s.hk = hk
	resumed, orphaned := s.reconcileLocked()
	s.mu.Unlock()

	if resumed+orphaned > 0 {
		s.log.Info("orphans reconciled", logx.Int("resumed", resumed), logx.Int("orphaned", orphaned))
	}
	hk.start()
	s.saveSnapshot(true)
	return nil
}

// reconcileLocked handles jobs restored in tracking state: resume them while
// capacity allows, otherwise mark them error.
func (s *Scheduler) reconcileLocked() (resumed, orphaned int) {
	for _, j := range s.store.Active() {
		if _, ok := s.live[j.ID]; ok {
			continue
		}
		if s.cfg.ResumeOrphans && s.slots < s.cfg.MaxConcurrent {
			s.spawnLocked(j)
			resumed++
			continue
		}
		reason := "orphaned by restart"
		if s.cfg.ResumeOrphans {
			reason = "orphaned by restart: no capacity to resume"
		}
		if fin, err := s.store.Finish(j.ID, jobstore.Terminal{State: duel.StateError, ErrorDetail: reason, Message: reason, At: s.now()}); err == nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.JobFinished, Job: fin})
			orphaned++
		}
	}
	return resumed, orphaned
}

// Submit validates and admits a job. The capacity check, duplicate check and
// record creation happen under one lock.
func (s *Scheduler) Submit(ctx context.Context, req SubmitRequest) (duel.Job, error) {
	_ = ctx
	job, err := s.validate(req)
	if err != nil {
		return duel.Job{}, err
	}

	s.mu.Lock()
	if !s.running || s.draining {
		s.mu.Unlock()
		return duel.Job{}, ErrDraining
	}
	if s.store.Exists(job.ID) {
		s.mu.Unlock()
		return duel.Job{}, fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}
	if s.slots >= s.cfg.MaxConcurrent {
		s.mu.Unlock()
		return duel.Job{}, fmt.Errorf("%w: %d live jobs", ErrAtCapacity, s.cfg.MaxConcurrent)
	}
	created, err := s.store.Create(job)
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, jobstore.ErrDuplicate) {
			return duel.Job{}, fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
		}
		return duel.Job{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	s.spawnLocked(created)
	s.mu.Unlock()

	s.log.Info("job admitted", logx.String("job_id", created.ID), logx.String("handle_a", created.HandleA), logx.String("handle_b", created.HandleB), logx.String("problem", created.Problem.String()))
	s.bus.Publish(eventbus.Event{Type: eventbus.JobStarted, Job: created})
	s.saveSnapshot(false)
	return created, nil
}

func (s *Scheduler) validate(req SubmitRequest) (duel.Job, error) {
	id := strings.TrimSpace(req.JobID)
	a := strings.TrimSpace(req.HandleA)
	b := strings.TrimSpace(req.HandleB)
	var missing []string
	if id == "" {
		missing = append(missing, "job_id")
	}
	if a == "" {
		missing = append(missing, "handle_a")
	}
	if b == "" {
		missing = append(missing, "handle_b")
	}
	if strings.TrimSpace(req.ProblemRef) == "" {
		missing = append(missing, "problem_ref")
	}
	if len(missing) > 0 {
		return duel.Job{}, fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	if strings.EqualFold(a, b) {
		return duel.Job{}, fmt.Errorf("%w: handle_a and handle_b must differ", ErrInvalidRequest)
	}
	ref, err := duel.ParseProblemRef(req.ProblemRef)
	if err != nil {
		return duel.Job{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return duel.Job{ID: id, HandleA: a, HandleB: b, Problem: ref, CreatedAt: s.now()}, nil
}

// spawnLocked reserves a slot and starts the polling task for j.
func (s *Scheduler) spawnLocked(j duel.Job) {
	ctx, cancel := context.WithCancelCause(s.sup.Context())
	lt := &liveTask{cancel: cancel, done: make(chan struct{})}
	s.live[j.ID] = lt
	s.slots++

	t := newTask(s, j, lt, s.cfg)
	s.sup.Go("task:"+j.ID, func(context.Context) error {
		t.run(ctx)
		return nil
	})
}

// releaseSlot frees the capacity held by a task. Safe to call more than once.
func (s *Scheduler) releaseSlot(lt *liveTask) {
	lt.release.Do(func() {
		s.mu.Lock()
		s.slots--
		s.mu.Unlock()
	})
}

// reap removes a finished task from the live map.
func (s *Scheduler) reap(id string, lt *liveTask) {
	s.releaseSlot(lt)
	s.mu.Lock()
	if cur, ok := s.live[id]; ok && cur == lt {
		delete(s.live, id)
	}
	s.mu.Unlock()
	lt.cancel(nil)
	close(lt.done)
}

// Cancel stops tracking a job. Only a tracking job can be cancelled; terminal
// records are never overwritten.
func (s *Scheduler) Cancel(ctx context.Context, id string) CancelResult {
	_ = ctx
	id = strings.TrimSpace(id)
	job, changed, err := s.store.Cancel(id, s.now())
	if err != nil {
		return CancelResult{Outcome: CancelNotFound}
	}
	if !changed {
		if job.State.Decided() {
			return CancelResult{Outcome: CancelAlreadyDecided, Job: &job}
		}
		return CancelResult{Outcome: CancelNotCancellable, Job: &job}
	}

	s.mu.Lock()
	lt := s.live[id]
	s.mu.Unlock()
	if lt != nil {
		lt.cancel(errUserCancelled)
		s.releaseSlot(lt)
	}
	s.log.Info("job cancelled", logx.String("job_id", id))
	s.bus.Publish(eventbus.Event{Type: eventbus.JobFinished, Job: job})
	s.saveSnapshot(false)
	return CancelResult{Outcome: CancelStopped, Job: &job}
}

// Status returns the job record.
func (s *Scheduler) Status(id string) (duel.Job, error) {
	return s.store.Get(strings.TrimSpace(id))
}

func (s *Scheduler) ListActive() []duel.Job { return s.store.Active() }
func (s *Scheduler) ListAll() []duel.Job    { return s.store.List(nil) }
func (s *Scheduler) DecidedIDs() []string   { return s.store.DecidedIDs() }

func (s *Scheduler) Winners() []duel.LedgerEntry { return s.store.Winners() }

// Evict removes terminal jobs settled more than olderThan ago. Tracking jobs
// are never removed.
func (s *Scheduler) Evict(olderThan time.Duration) int {
	if olderThan < 0 {
		olderThan = 0
	}
	removed := s.store.Evict(s.now().Add(-olderThan))
	if len(removed) == 0 {
		return 0
	}
	s.log.Info("jobs evicted", logx.Int("count", len(removed)), logx.Duration("older_than", olderThan))
	s.bus.Publish(eventbus.Event{Type: eventbus.JobsEvicted, Count: len(removed)})
	s.saveSnapshot(false)
	return len(removed)
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	st := Stats{Live: s.slots, Capacity: s.cfg.MaxConcurrent, Draining: s.draining || !s.running}
	sup := s.sup
	s.mu.Unlock()
	c := sup.Counters()
	st.Tasks = c.Active
	st.TaskPanics = c.Panics
	st.ByState = s.store.Counts()
	st.Winners = len(s.store.Winners())
	return st
}

// Stop drains the scheduler: new submissions are rejected, every live task
// is cancelled and reaped, then a final snapshot is forced. Jobs that were
// still tracking stay tracking in the snapshot.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.draining = true
	for _, lt := range s.live {
		lt.cancel(errShutdown)
	}
	sup := s.sup
	hk := s.hk
	live := len(s.live)
	s.mu.Unlock()

	s.log.Info("draining", logx.Int("live", live))
	if hk != nil {
		hk.stop(ctx)
	}
	// Tasks run under the supervisor context; cancelling it covers tasks
	// spawned after the loop above.
	err := sup.Stop(ctx)

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.saveSnapshot(true)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// saveSnapshot writes the store through the persister. Unless force is set
// it skips the write when nothing changed since the last save.
func (s *Scheduler) saveSnapshot(force bool) {
	if s.persist == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	ver := s.store.Version()
	if !force && s.saved && ver == s.savedVersion {
		return
	}
	snap := s.store.Snapshot()
	ctx, cancel := context.WithTimeout(context.Background(), s.config().SaveTimeout)
	defer cancel()
	if err := s.persist.Save(ctx, snap); err != nil {
		s.log.Error("snapshot save failed", logx.Err(err))
		s.bus.Publish(eventbus.Event{Type: eventbus.SnapshotSave, Err: err})
		return
	}
	s.saved = true
	s.savedVersion = ver
	s.bus.Publish(eventbus.Event{Type: eventbus.SnapshotSave, Count: len(snap.Jobs)})
}
