package config

import (
	"errors"
	"fmt"
	"strings"

	"blitztrack/internal/tracker"
)

var ErrInvalid = errors.New("config: invalid")

// Validate checks values that can be verified without touching the network.
// It returns every problem joined so one reload reports them all.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	durations := [][2]string{
		{"http.request_timeout", cfg.HTTP.RequestTimeout},
		{"tracker.poll_interval", cfg.Tracker.PollInterval},
		{"tracker.retention", cfg.Tracker.Retention},
		{"tracker.save_timeout", cfg.Tracker.SaveTimeout},
		{"source.timeout", cfg.Source.Timeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"publisher.batch_timeout", cfg.Publisher.BatchTimeout},
	}
	if cfg.Announcer != nil {
		durations = append(durations, [2]string{"announcer.timeout", cfg.Announcer.Timeout})
	}
	for _, d := range durations {
		_, err := ParseDurationField(d[0], d[1])
		add(err)
	}

	t := cfg.Tracker
	if _, err := tracker.NormalizeSchedule(t.SnapshotSchedule, tracker.DefaultSnapshotSchedule); err != nil {
		add(fmt.Errorf("tracker.snapshot_schedule: %w", err))
	}
	if _, err := tracker.NormalizeSchedule(t.EvictSchedule, tracker.DefaultEvictSchedule); err != nil {
		add(fmt.Errorf("tracker.evict_schedule: %w", err))
	}
	if t.MaxConcurrent < 0 {
		add(fmt.Errorf("tracker.max_concurrent must be >= 0"))
	}
	if t.MaxRounds < 0 {
		add(fmt.Errorf("tracker.max_rounds must be >= 0"))
	}
	if t.GraceRounds != nil && *t.GraceRounds < 0 {
		add(fmt.Errorf("tracker.grace_rounds must be >= 0"))
	}
	if t.FetchLimit < 0 {
		add(fmt.Errorf("tracker.fetch_limit must be >= 0"))
	}
	if cfg.Source.RatePerSec < 0 {
		add(fmt.Errorf("source.rate_per_sec must be >= 0"))
	}

	switch strings.ToLower(trimmed(cfg.Publisher.Driver)) {
	case "", "none", "stdio":
	case "kafka":
		if len(cfg.Publisher.Brokers) == 0 {
			add(fmt.Errorf("publisher.brokers is required for kafka"))
		}
	default:
		add(fmt.Errorf("publisher.driver %q is not supported", cfg.Publisher.Driver))
	}

	if a := cfg.Announcer; a != nil && a.Enabled {
		if trimmed(a.Token) == "" {
			add(fmt.Errorf("announcer.token is required (or set %s_TELEGRAM_TOKEN)", EnvPrefix))
		}
		if a.ChatID == 0 {
			add(fmt.Errorf("announcer.chat_id is required"))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
