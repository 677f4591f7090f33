package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"blitztrack/internal/announce"
	"blitztrack/internal/cfclient"
	"blitztrack/internal/config"
	"blitztrack/internal/publish"
	"blitztrack/internal/storage"
	"blitztrack/internal/tracker"
	logx "blitztrack/pkg/logx"
)

// Upstream politeness when source.rate_per_sec is omitted.
const (
	defaultSourceRate  = 2.0
	defaultSourceBurst = 2
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapTrackerConfig(cfg *config.Config) (tracker.Config, error) {
	tc := cfg.Tracker
	out := tracker.Config{
		MaxConcurrent:    tc.MaxConcurrent,
		MaxRounds:        tc.MaxRounds,
		GraceRounds:      tc.GraceRoundsOrDefault(),
		FetchLimit:       tc.FetchLimit,
		ResumeOrphans:    tc.ResumeOrphansOrDefault(),
		SnapshotSchedule: tc.SnapshotSchedule,
		EvictSchedule:    tc.EvictSchedule,
	}
	var err error
	if out.PollInterval, err = config.ParseDurationOrDefault("tracker.poll_interval", tc.PollInterval, tracker.DefaultPollInterval); err != nil {
		return tracker.Config{}, err
	}
	if out.Retention, err = config.ParseDurationOrDefault("tracker.retention", tc.Retention, tracker.DefaultRetention); err != nil {
		return tracker.Config{}, err
	}
	if out.SaveTimeout, err = config.ParseDurationOrDefault("tracker.save_timeout", tc.SaveTimeout, tracker.DefaultSaveTimeout); err != nil {
		return tracker.Config{}, err
	}
	return out, nil
}

func mapSourceConfig(cfg *config.Config) (cfclient.Config, error) {
	sc := cfg.Source
	timeout, err := config.ParseDurationOrDefault("source.timeout", sc.Timeout, cfclient.DefaultTimeout)
	if err != nil {
		return cfclient.Config{}, err
	}
	rps, burst := sc.RatePerSec, sc.Burst
	if rps == 0 {
		rps = defaultSourceRate
	}
	if burst <= 0 {
		burst = defaultSourceBurst
	}
	return cfclient.Config{
		BaseURL:       strings.TrimSpace(sc.BaseURL),
		Timeout:       timeout,
		RatePerSecond: rps,
		Burst:         burst,
		UserAgent:     strings.TrimSpace(sc.UserAgent),
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := storage.NormalizeDriver(sc.Driver)
	out := storage.Config{
		Driver:   driver,
		Path:     strings.TrimSpace(sc.Path),
		DSN:      strings.TrimSpace(sc.DSN),
		Bucket:   strings.TrimSpace(sc.Bucket),
		Prefix:   strings.TrimSpace(sc.Prefix),
		Region:   strings.TrimSpace(sc.Region),
		Endpoint: strings.TrimSpace(sc.Endpoint),
	}
	if driver == storage.DriverSQLite {
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		out.BusyTimeout = busy
	}
	return out, nil
}

func mapPublisherConfig(cfg *config.Config) (publish.Config, error) {
	pc := cfg.Publisher
	batch, err := config.ParseDurationOrDefault("publisher.batch_timeout", pc.BatchTimeout, 50*time.Millisecond)
	if err != nil {
		return publish.Config{}, err
	}
	return publish.Config{
		Driver:       pc.Driver,
		Topic:        pc.Topic,
		Brokers:      pc.Brokers,
		BatchTimeout: batch,
		TLS:          pc.TLS,
		Writer:       os.Stdout,
	}, nil
}

// mapAnnouncerConfig returns ok=false when announcements are disabled.
func mapAnnouncerConfig(cfg *config.Config) (announce.TelegramConfig, announce.Config, bool, error) {
	ac := cfg.Announcer
	if ac == nil || !ac.Enabled {
		return announce.TelegramConfig{}, announce.Config{}, false, nil
	}
	timeout, err := config.ParseDurationOrDefault("announcer.timeout", ac.Timeout, 10*time.Second)
	if err != nil {
		return announce.TelegramConfig{}, announce.Config{}, false, err
	}
	if strings.TrimSpace(ac.Token) == "" {
		return announce.TelegramConfig{}, announce.Config{}, false, fmt.Errorf("announcer.token is required")
	}
	tg := announce.TelegramConfig{Token: ac.Token, ChatID: ac.ChatID, ThreadID: ac.ThreadID, Timeout: timeout}
	return tg, announce.Config{RatePerSec: ac.RatePerSec, RetryMax: ac.RetryMax, IncludeFinished: ac.IncludeFinished}, true, nil
}
