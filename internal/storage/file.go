package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"blitztrack/internal/jobstore"
	logx "blitztrack/pkg/logx"
)

// fileStore keeps two JSON documents next to each other:
//   - <prefix>.jobs.json
//   - <prefix>.winners.json
//
// Each save writes a temp file and renames it over the old one, so a crash
// leaves either the previous or the new document, never a torn one.
type fileStore struct {
	log logx.Logger

	mu          sync.Mutex
	jobsPath    string
	winnersPath string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("%w: storage.path is required for file driver", ErrInvalidConfig)
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{
		log:         log,
		jobsPath:    prefix + ".jobs.json",
		winnersPath: prefix + ".winners.json",
	}, nil
}

func (s *fileStore) Driver() string { return DriverFile }
func (s *fileStore) Close() error   { return nil }

func (s *fileStore) Load(ctx context.Context) (jobstore.Snapshot, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs, err := readOptional(s.jobsPath)
	if err != nil {
		return jobstore.Snapshot{}, false, err
	}
	winners, err := readOptional(s.winnersPath)
	if err != nil {
		return jobstore.Snapshot{}, false, err
	}
	if jobs == nil && winners == nil {
		return jobstore.Snapshot{}, false, nil
	}
	snap, err := decodeDocs(jobs, winners)
	if err != nil {
		return jobstore.Snapshot{}, false, err
	}
	return snap, true, nil
}

func (s *fileStore) Save(ctx context.Context, snap jobstore.Snapshot) error {
	_ = ctx
	jobs, winners, err := encodeDocs(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Ledger first: a crash between the two renames must not leave a decided
	// job without its ledger entry.
	if err := writeAtomic(s.winnersPath, winners); err != nil {
		return err
	}
	if err := writeAtomic(s.jobsPath, jobs); err != nil {
		return err
	}
	s.log.Trace("snapshot written", logx.Int("jobs", len(snap.Jobs)), logx.Int("winners", len(snap.Winners)))
	return nil
}

func readOptional(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
