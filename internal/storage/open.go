package storage

import (
	"context"
	"fmt"
	"strings"

	"blitztrack/internal/jobstore"
	logx "blitztrack/pkg/logx"
)

// Open initializes the configured store. A disabled store is returned for
// driver "none" so callers never need a nil check.
func Open(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := NormalizeDriver(cfg.Driver)
	log = log.With(logx.String("driver", driver))

	switch driver {
	case DriverNone:
		return noneStore{}, nil
	case DriverFile:
		return openFile(cfg, log)
	case DriverSQLite:
		return openSQLite(ctx, cfg, log)
	case DriverPostgres:
		return openPostgres(ctx, cfg, log)
	case DriverS3:
		return openS3(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

func NormalizeDriver(v string) string {
	switch v = strings.ToLower(strings.TrimSpace(v)); v {
	case "", "none", "disabled", "memory":
		return DriverNone
	case "sqlite3":
		return DriverSQLite
	case "postgresql", "pg":
		return DriverPostgres
	default:
		return v
	}
}

type noneStore struct{}

func (noneStore) Load(context.Context) (jobstore.Snapshot, bool, error) {
	return jobstore.Snapshot{}, false, nil
}
func (noneStore) Save(context.Context, jobstore.Snapshot) error { return nil }
func (noneStore) Driver() string                                { return DriverNone }
func (noneStore) Close() error                                  { return nil }
