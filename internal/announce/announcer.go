package announce

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"blitztrack/internal/duel"
	"blitztrack/internal/eventbus"
	logx "blitztrack/pkg/logx"
)

type Config struct {
	// RatePerSec caps outgoing messages. Telegram allows roughly one
	// message per second per chat.
	RatePerSec float64
	RetryMax   int
	// IncludeFinished also announces timeouts, errors and cancellations.
	IncludeFinished bool
}

type Announcer struct {
	log     logx.Logger
	sender  Sender
	limiter *rate.Limiter
	cfg     Config
}

func New(sender Sender, cfg Config, log logx.Logger) *Announcer {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	return &Announcer{
		log:     log.With(logx.String("comp", "announce")),
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		cfg:     cfg,
	}
}

// Run consumes the bus until ctx is done.
func (a *Announcer) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsubscribe := bus.Subscribe(64)
	defer unsubscribe()
	a.log.Info("announcer started", logx.Bool("include_finished", a.cfg.IncludeFinished))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			text, ok := a.render(ev)
			if !ok {
				continue
			}
			if err := a.send(ctx, ev.Job.ID, text); err != nil && ctx.Err() == nil {
				a.log.Warn("announce failed", logx.String("job_id", ev.Job.ID), logx.Err(err))
			}
		}
	}
}

func (a *Announcer) render(ev eventbus.Event) (string, bool) {
	switch ev.Type {
	case eventbus.JobDecided:
		return Render(ev.Job), true
	case eventbus.JobFinished:
		if !a.cfg.IncludeFinished {
			return "", false
		}
		return Render(ev.Job), true
	default:
		return "", false
	}
}

func (a *Announcer) send(ctx context.Context, jobID, text string) error {
	var last error
	for i := 0; i <= a.cfg.RetryMax; i++ {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		err := a.sender.Send(ctx, text)
		if err == nil {
			return nil
		}
		last = err
		if i == a.cfg.RetryMax {
			break
		}
		delay := time.Duration(200+100*i) * time.Millisecond
		a.log.Debug("announce retry scheduled", logx.String("job_id", jobID), logx.Int("attempt", i+2), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			return ctx.Err()
		case <-tmr.C:
		}
	}
	return last
}

// Render formats a settled job as a chat message.
func Render(j duel.Job) string {
	head := fmt.Sprintf("%s vs %s on %s", j.HandleA, j.HandleB, j.Problem)
	switch j.State {
	case duel.StateDecidedBoth:
		diff := int64(0)
		if j.TimeDiff != nil {
			diff = *j.TimeDiff
		}
		return fmt.Sprintf("🏁 %s\n%s wins, %ds ahead of %s", head, j.Winner, diff, j.Loser)
	case duel.StateDecidedOne:
		return fmt.Sprintf("🏁 %s\n%s wins, %s has not solved yet", head, j.Winner, j.Loser)
	case duel.StateTimeout:
		return fmt.Sprintf("⌛ %s\nno accepted submission after %d rounds", head, j.Rounds)
	case duel.StateCancelled:
		return fmt.Sprintf("✋ %s\ntracking stopped", head)
	case duel.StateError:
		msg := j.ErrorDetail
		if msg == "" {
			msg = j.Message
		}
		return fmt.Sprintf("⚠️ %s\ntracking failed: %s", head, msg)
	default:
		return head + "\n" + string(j.State)
	}
}
