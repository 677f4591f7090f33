package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"blitztrack/internal/duel"
	"blitztrack/internal/eventbus"
	logx "blitztrack/pkg/logx"
)

// WinnerEventVersion tags the payload schema.
const WinnerEventVersion = "blitztrack.winner.v1"

// WinnerEvent is the record emitted for every decided race.
type WinnerEvent struct {
	Version    string    `json:"version"`
	MatchID    string    `json:"match_id"`
	Winner     string    `json:"winner"`
	Loser      string    `json:"loser"`
	State      string    `json:"state"`
	Problem    string    `json:"problem_ref"`
	WinnerTime int64     `json:"winner_time"`
	LoserTime  *int64    `json:"loser_time,omitempty"`
	TimeDiff   *int64    `json:"time_difference,omitempty"`
	DecidedAt  time.Time `json:"decided_at"`
}

// NewWinnerEvent builds the payload for a decided job.
func NewWinnerEvent(j duel.Job) (WinnerEvent, error) {
	if !j.State.Decided() || j.Winner == "" || j.WinnerTime == nil || j.DecidedAt == nil {
		return WinnerEvent{}, fmt.Errorf("publish: job %s is not decided", j.ID)
	}
	return WinnerEvent{
		Version:    WinnerEventVersion,
		MatchID:    j.ID,
		Winner:     j.Winner,
		Loser:      j.Loser,
		State:      string(j.State),
		Problem:    j.Problem.String(),
		WinnerTime: *j.WinnerTime,
		LoserTime:  j.LoserTime,
		TimeDiff:   j.TimeDiff,
		DecidedAt:  j.DecidedAt.UTC(),
	}, nil
}

// Publisher forwards job.decided events from the bus to a Producer.
type Publisher struct {
	log      logx.Logger
	producer Producer
	topic    string
	timeout  time.Duration
}

func NewPublisher(p Producer, topic string, log logx.Logger) *Publisher {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{log: log.With(logx.String("comp", "publish")), producer: p, topic: topic, timeout: 10 * time.Second}
}

// Run consumes the bus until ctx is done. Publish failures are logged and
// the event is dropped.
func (p *Publisher) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if e.Type != eventbus.JobDecided {
				continue
			}
			if err := p.PublishJob(ctx, e.Job); err != nil {
				p.log.Error("winner publish failed", logx.String("job_id", e.Job.ID), logx.Err(err))
			}
		}
	}
}

// PublishJob emits one decided job.
func (p *Publisher) PublishJob(ctx context.Context, j duel.Job) error {
	ev, err := NewWinnerEvent(j)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.producer.Publish(ctx, p.topic, []byte(ev.MatchID), payload); err != nil {
		return fmt.Errorf("publish: %s: %w", p.topic, err)
	}
	p.log.Debug("winner published", logx.String("job_id", ev.MatchID), logx.String("winner", ev.Winner))
	return nil
}

func (p *Publisher) Close() error { return p.producer.Close() }
