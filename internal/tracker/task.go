package tracker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"blitztrack/internal/duel"
	"blitztrack/internal/eventbus"
	"blitztrack/internal/jobstore"
	logx "blitztrack/pkg/logx"
)

// task polls the source for one job until it reaches a terminal state or is
// cancelled. It is the only writer of its job besides the cancel path.
type task struct {
	s   *Scheduler
	lt  *liveTask
	log logx.Logger

	id       string
	handleA  string
	handleB  string
	problem  duel.ProblemRef
	interval time.Duration
	maxRound int
	grace    int
	limit    int

	rounds    int
	aTime     *int64
	bTime     *int64
	graceLeft int // -1 until exactly one handle has solved
}

func newTask(s *Scheduler, j duel.Job, lt *liveTask, cfg Config) *task {
	return &task{
		s:         s,
		lt:        lt,
		log:       s.log.With(logx.String("job_id", j.ID)),
		id:        j.ID,
		handleA:   j.HandleA,
		handleB:   j.HandleB,
		problem:   j.Problem,
		interval:  cfg.PollInterval,
		maxRound:  cfg.MaxRounds,
		grace:     cfg.GraceRounds,
		limit:     cfg.FetchLimit,
		rounds:    j.Rounds,
		graceLeft: -1,
	}
}

func (t *task) run(ctx context.Context) {
	defer t.s.reap(t.id, t.lt)
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("task panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			t.finish(jobstore.Terminal{State: duel.StateError, ErrorDetail: fmt.Sprintf("panic: %v", r)})
		}
	}()

	t.log.Debug("task started", logx.Int("rounds", t.rounds))
	for {
		if ctx.Err() != nil {
			t.stopped(ctx)
			return
		}

		outcome, err := t.round(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.stopped(ctx)
				return
			}
			t.finish(jobstore.Terminal{State: duel.StateError, ErrorDetail: err.Error(), Message: "tracking failed"})
			return
		}
		t.rounds++

		switch outcome.Kind {
		case duel.BothDecided:
			t.finish(jobstore.Terminal{State: duel.StateDecidedBoth, Outcome: &outcome, Message: bothMessage(outcome)})
			return
		case duel.OneDecided:
			if t.graceLeft < 0 {
				t.graceLeft = t.grace
			}
			if t.graceLeft == 0 || t.rounds >= t.maxRound {
				t.finish(jobstore.Terminal{State: duel.StateDecidedOne, Outcome: &outcome, Message: oneMessage(outcome)})
				return
			}
			t.graceLeft--
		}

		if t.rounds >= t.maxRound {
			t.finish(jobstore.Terminal{State: duel.StateTimeout, Message: fmt.Sprintf("no accepted submission after %d rounds", t.rounds)})
			return
		}

		msg := "neither contestant has solved the problem yet"
		if outcome.Kind == duel.OneDecided {
			msg = outcome.Winner + " has solved, waiting for " + outcome.Loser
		}
		if err := t.s.store.Touch(t.id, t.s.now(), t.rounds, msg); err != nil {
			if errors.Is(err, jobstore.ErrNotTracking) {
				// The cancel path already settled the record.
				return
			}
			t.finish(jobstore.Terminal{State: duel.StateError, ErrorDetail: "bookkeeping: " + err.Error()})
			return
		}
		t.publishPolled()

		if !sleepCtx(ctx, t.interval) {
			t.stopped(ctx)
			return
		}
	}
}

// publishPolled announces the round's bookkeeping. A record evicted in the
// meantime is skipped.
func (t *task) publishPolled() {
	job, err := t.s.store.Get(t.id)
	if err != nil {
		t.log.Debug("polled record gone", logx.Err(err))
		return
	}
	t.s.bus.Publish(eventbus.Event{Type: eventbus.JobPolled, Job: job})
}

// round fetches every handle that has not solved yet and decides. A failed
// fetch is logged and skipped; the handle is retried next round.
func (t *task) round(ctx context.Context) (out duel.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("round panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic during round: %v", r)
		}
	}()

	for _, h := range []struct {
		handle string
		solved **int64
	}{
		{t.handleA, &t.aTime},
		{t.handleB, &t.bTime},
	} {
		if *h.solved != nil {
			continue
		}
		subs, ferr := t.s.source.FetchRecent(ctx, h.handle, t.limit)
		if ferr != nil {
			if ctx.Err() != nil {
				return duel.Outcome{}, ctx.Err()
			}
			t.log.Warn("fetch failed", logx.String("handle", h.handle), logx.Int("round", t.rounds+1), logx.Err(ferr))
			t.s.bus.Publish(eventbus.Event{Type: eventbus.FetchFailed, Job: duel.Job{ID: t.id}, Err: ferr})
			continue
		}
		ts, ok, eerr := duel.FirstAccepted(subs, t.problem)
		if eerr != nil {
			return duel.Outcome{}, eerr
		}
		if ok {
			*h.solved = duel.Int64(ts)
			t.log.Info("handle solved", logx.String("handle", h.handle), logx.Int64("at", ts))
		}
	}
	return duel.Decide(t.handleA, t.aTime, t.handleB, t.bTime), nil
}

func (t *task) finish(term jobstore.Terminal) {
	term.At = t.s.now()
	job, err := t.s.store.Finish(t.id, term)
	if err != nil {
		if errors.Is(err, jobstore.ErrNotTracking) {
			t.log.Debug("terminal transition lost", logx.String("state", string(job.State)))
			return
		}
		t.log.Error("terminal transition failed", logx.Err(err))
		return
	}
	t.s.releaseSlot(t.lt)

	fields := []logx.Field{logx.String("state", string(job.State)), logx.Int("rounds", t.rounds)}
	if job.Winner != "" {
		fields = append(fields, logx.String("winner", job.Winner))
	}
	if job.ErrorDetail != "" {
		fields = append(fields, logx.String("error_detail", job.ErrorDetail))
	}
	t.log.Info("job finished", fields...)

	typ := eventbus.JobFinished
	if job.State.Decided() {
		typ = eventbus.JobDecided
	}
	t.s.bus.Publish(eventbus.Event{Type: typ, Job: job})
	t.s.saveSnapshot(false)
}

// stopped handles an observed cancellation. A user cancel was already
// recorded by the cancel path; a shutdown leaves the job tracking so the
// next start can reconcile it.
func (t *task) stopped(ctx context.Context) {
	if errors.Is(context.Cause(ctx), errUserCancelled) {
		t.log.Debug("task cancelled", logx.Int("rounds", t.rounds))
		return
	}
	t.log.Debug("task interrupted by shutdown", logx.Int("rounds", t.rounds))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func bothMessage(o duel.Outcome) string {
	diff := int64(0)
	if o.TimeDiff != nil {
		diff = *o.TimeDiff
	}
	return fmt.Sprintf("%s solved first, %d seconds ahead of %s", o.Winner, diff, o.Loser)
}

func oneMessage(o duel.Outcome) string {
	return o.Loser + " has not solved the problem yet"
}
