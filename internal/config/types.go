package config

import "strings"

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "24h").
type Config struct {
	Logging   LoggingConfig    `json:"logging"`
	HTTP      HTTPConfig       `json:"http"`
	Tracker   TrackerConfig    `json:"tracker"`
	Source    SourceConfig     `json:"source"`
	Storage   StorageConfig    `json:"storage"`
	Publisher PublisherConfig  `json:"publisher"`
	Announcer *AnnouncerConfig `json:"announcer,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type HTTPConfig struct {
	Addr           string   `json:"addr"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	// Pprof mounts /debug/pprof on the API listener. Bind to loopback when
	// enabling it.
	Pprof          bool   `json:"pprof,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
}

// TrackerConfig controls admission and polling.
//
// Defaults (when fields are omitted/zero):
//   - max_concurrent: 10
//   - poll_interval: "10s"
//   - max_rounds: 720
//   - grace_rounds: 0 (decide as soon as one handle solves; N>0 keeps polling
//     the other handle for N more rounds before settling decided_one)
//   - fetch_limit: 20
//   - resume_orphans: true
//   - snapshot_schedule: "@every 30s"
//   - evict_schedule: "@every 10m"
//   - retention: "24h"
//   - save_timeout: "10s"
type TrackerConfig struct {
	MaxConcurrent int    `json:"max_concurrent,omitempty"`
	PollInterval  string `json:"poll_interval,omitempty"`
	MaxRounds     int    `json:"max_rounds,omitempty"`
	GraceRounds   *int   `json:"grace_rounds,omitempty"`
	FetchLimit    int    `json:"fetch_limit,omitempty"`
	ResumeOrphans *bool  `json:"resume_orphans,omitempty"`

	SnapshotSchedule string `json:"snapshot_schedule,omitempty"`
	EvictSchedule    string `json:"evict_schedule,omitempty"`
	Retention        string `json:"retention,omitempty"`
	SaveTimeout      string `json:"save_timeout,omitempty"`
}

// DefaultGraceRounds applies when grace_rounds is omitted: a race settles as
// soon as one handle solves.
const DefaultGraceRounds = 0

func (t TrackerConfig) GraceRoundsOrDefault() int {
	if t.GraceRounds == nil {
		return DefaultGraceRounds
	}
	return *t.GraceRounds
}

func (t TrackerConfig) ResumeOrphansOrDefault() bool {
	if t.ResumeOrphans == nil {
		return true
	}
	return *t.ResumeOrphans
}

type SourceConfig struct {
	BaseURL    string  `json:"base_url,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
	UserAgent  string  `json:"user_agent,omitempty"`
}

// StorageConfig selects the snapshot backend.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/blitztrack" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	DSN         string `json:"dsn,omitempty"`          // postgres; prefer BLITZTRACK_STORAGE_DSN
	Bucket      string `json:"bucket,omitempty"`       // s3
	Prefix      string `json:"prefix,omitempty"`       // s3
	Region      string `json:"region,omitempty"`       // s3
	Endpoint    string `json:"endpoint,omitempty"`     // s3-compatible endpoint
}

type PublisherConfig struct {
	Driver       string   `json:"driver"` // none|stdio|kafka
	Topic        string   `json:"topic,omitempty"`
	Brokers      []string `json:"brokers,omitempty"`
	BatchTimeout string   `json:"batch_timeout,omitempty"`
	TLS          bool     `json:"tls,omitempty"`
}

type AnnouncerConfig struct {
	Enabled         bool    `json:"enabled"`
	Token           string  `json:"token,omitempty"` // prefer BLITZTRACK_TELEGRAM_TOKEN
	ChatID          int64   `json:"chat_id"`
	ThreadID        int     `json:"thread_id,omitempty"`
	RatePerSec      float64 `json:"rate_per_sec,omitempty"`
	RetryMax        int     `json:"retry_max,omitempty"`
	IncludeFinished bool    `json:"include_finished,omitempty"`
	Timeout         string  `json:"timeout,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		HTTP:    HTTPConfig{Addr: "127.0.0.1:8080"},
		Storage: StorageConfig{Driver: "file", Path: "./data/blitztrack"},
		Publisher: PublisherConfig{
			Driver: "none",
		},
	}
}

func trimmed(s string) string { return strings.TrimSpace(s) }
