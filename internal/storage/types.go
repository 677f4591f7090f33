package storage

import (
	"context"
	"errors"
	"time"

	"blitztrack/internal/jobstore"
)

var (
	ErrDisabled      = errors.New("storage: disabled")
	ErrInvalidConfig = errors.New("storage: invalid config")
	ErrCorrupt       = errors.New("storage: corrupt snapshot")
)

const (
	DriverNone     = "none"
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverS3       = "s3"
)

// Store saves and loads whole snapshots. Save replaces the stored job set;
// the winner ledger is only ever appended to.
type Store interface {
	// Load returns ok=false when nothing has been saved yet.
	Load(ctx context.Context) (snap jobstore.Snapshot, ok bool, err error)
	Save(ctx context.Context, snap jobstore.Snapshot) error
	Driver() string
	Close() error
}

// Config configures storage.
//
// Path is used by file and sqlite, DSN by postgres, Bucket/Prefix/Region/
// Endpoint by s3. S3Client overrides the client built from the default AWS
// config chain.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	DSN         string

	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
	S3Client S3Client
}
