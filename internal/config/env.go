package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces environment overrides, e.g. BLITZTRACK_STORAGE_DSN.
const EnvPrefix = "BLITZTRACK"

// envOverrides holds secrets and deploy-specific values that should not live
// in the config file.
type envOverrides struct {
	HTTPAddr      string   `envconfig:"HTTP_ADDR"`
	LogLevel      string   `envconfig:"LOG_LEVEL"`
	StorageDriver string   `envconfig:"STORAGE_DRIVER"`
	StorageDSN    string   `envconfig:"STORAGE_DSN"`
	TelegramToken string   `envconfig:"TELEGRAM_TOKEN"`
	KafkaBrokers  []string `envconfig:"KAFKA_BROKERS"`
}

// ApplyEnv overlays non-empty environment values onto cfg.
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("config env: %w", err)
	}
	if v := trimmed(env.HTTPAddr); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := trimmed(env.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := trimmed(env.StorageDriver); v != "" {
		cfg.Storage.Driver = v
	}
	if v := trimmed(env.StorageDSN); v != "" {
		cfg.Storage.DSN = v
	}
	if v := trimmed(env.TelegramToken); v != "" {
		if cfg.Announcer == nil {
			cfg.Announcer = &AnnouncerConfig{}
		}
		cfg.Announcer.Token = v
	}
	if len(env.KafkaBrokers) > 0 {
		cfg.Publisher.Brokers = env.KafkaBrokers
	}
	return nil
}
