package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "blitztrack/pkg/logx"
)

// housekeeping runs the periodic snapshot and eviction sweeps on cron
// schedules. Overlapping runs of the same job are skipped.
type housekeeping struct {
	s *Scheduler
	c *cron.Cron
}

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func newHousekeeping(s *Scheduler, cfg Config) (*housekeeping, error) {
	cl := cronLogger{log: s.log.With(logx.String("sub", "housekeeping"))}
	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	hk := &housekeeping{s: s, c: c}

	snapSpec, err := NormalizeSchedule(cfg.SnapshotSchedule, DefaultSnapshotSchedule)
	if err != nil {
		return nil, fmt.Errorf("tracker: snapshot schedule: %w", err)
	}
	evictSpec, err := NormalizeSchedule(cfg.EvictSchedule, DefaultEvictSchedule)
	if err != nil {
		return nil, fmt.Errorf("tracker: evict schedule: %w", err)
	}
	if _, err := c.AddFunc(snapSpec, func() { s.saveSnapshot(false) }); err != nil {
		return nil, fmt.Errorf("tracker: snapshot schedule %q: %w", snapSpec, err)
	}
	if _, err := c.AddFunc(evictSpec, func() { s.Evict(s.config().Retention) }); err != nil {
		return nil, fmt.Errorf("tracker: evict schedule %q: %w", evictSpec, err)
	}
	return hk, nil
}

func (h *housekeeping) start() { h.c.Start() }

// stop waits for running housekeeping jobs, bounded by ctx.
func (h *housekeeping) stop(ctx context.Context) {
	select {
	case <-h.c.Stop().Done():
	case <-ctx.Done():
	}
}

// NormalizeSchedule accepts a cron expression, a descriptor ("@every 30s",
// "@hourly") or a bare Go duration ("30s"), and returns a cron spec.
func NormalizeSchedule(raw, def string) (string, error) {
	spec := strings.TrimSpace(raw)
	if spec == "" {
		spec = def
	}
	if !strings.HasPrefix(spec, "@") && !strings.ContainsAny(spec, " \t") {
		d, err := time.ParseDuration(spec)
		if err != nil {
			return "", fmt.Errorf("invalid schedule %q", raw)
		}
		if d <= 0 {
			return "", fmt.Errorf("schedule interval must be > 0, got %s", d)
		}
		spec = "@every " + d.String()
	}
	if _, err := scheduleParser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", raw, err)
	}
	return spec, nil
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
