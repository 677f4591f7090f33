package config

import (
	"reflect"

	logx "blitztrack/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// returns safe log fields describing the new values. Secrets (DSN, tokens)
// are reported only as set/unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 7)
	fields := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		changed = append(changed, "http")
		fields = append(fields, logx.String("http.addr", newCfg.HTTP.Addr), logx.Bool("http.pprof", newCfg.HTTP.Pprof))
	}
	if !reflect.DeepEqual(oldCfg.Tracker, newCfg.Tracker) {
		changed = append(changed, "tracker")
		fields = append(fields,
			logx.Int("tracker.max_concurrent", newCfg.Tracker.MaxConcurrent),
			logx.String("tracker.poll_interval", newCfg.Tracker.PollInterval),
			logx.Int("tracker.grace_rounds", newCfg.Tracker.GraceRoundsOrDefault()),
			logx.String("tracker.retention", newCfg.Tracker.Retention),
		)
	}
	if !reflect.DeepEqual(oldCfg.Source, newCfg.Source) {
		changed = append(changed, "source")
		fields = append(fields, logx.String("source.base_url", newCfg.Source.BaseURL))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		fields = append(fields,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.dsn_set", trimmed(newCfg.Storage.DSN) != ""),
		)
	}
	if !reflect.DeepEqual(oldCfg.Publisher, newCfg.Publisher) {
		changed = append(changed, "publisher")
		fields = append(fields, logx.String("publisher.driver", newCfg.Publisher.Driver), logx.Int("publisher.brokers", len(newCfg.Publisher.Brokers)))
	}
	if !reflect.DeepEqual(oldCfg.Announcer, newCfg.Announcer) {
		changed = append(changed, "announcer")
		enabled, tokenSet := false, false
		if a := newCfg.Announcer; a != nil {
			enabled, tokenSet = a.Enabled, trimmed(a.Token) != ""
		}
		fields = append(fields, logx.Bool("announcer.enabled", enabled), logx.Bool("announcer.token_set", tokenSet))
	}
	return changed, fields
}

// HotSections are applied without a restart. Changes elsewhere are logged
// and take effect on the next start.
var HotSections = map[string]bool{"logging": true, "tracker": true}
