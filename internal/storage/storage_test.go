package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"blitztrack/internal/duel"
	"blitztrack/internal/jobstore"
	logx "blitztrack/pkg/logx"
)

var savedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleSnapshot() jobstore.Snapshot {
	decidedAt := savedAt.Add(-time.Minute)
	return jobstore.Snapshot{
		Version: jobstore.SnapshotVersion,
		SavedAt: savedAt,
		Jobs: []duel.Job{
			{ID: "live", HandleA: "alice", HandleB: "bob", Problem: duel.ProblemRef{ContestID: 1800, Index: "A"}, State: duel.StateTracking, CreatedAt: savedAt.Add(-time.Hour), Rounds: 3},
			{
				ID: "done", HandleA: "carol", HandleB: "dave", Problem: duel.ProblemRef{ContestID: 1790, Index: "B1"},
				State: duel.StateDecidedBoth, CreatedAt: savedAt.Add(-2 * time.Hour), DecidedAt: &decidedAt, FinishedAt: &decidedAt,
				Winner: "dave", Loser: "carol", WinnerTime: duel.Int64(90), LoserTime: duel.Int64(100), TimeDiff: duel.Int64(10),
			},
		},
		Winners: []duel.LedgerEntry{{JobID: "done", Winner: "dave", DecidedAt: decidedAt}},
	}
}

func assertSnapshot(t *testing.T, got jobstore.Snapshot) {
	t.Helper()
	if len(got.Jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(got.Jobs))
	}
	byID := map[string]duel.Job{}
	for _, j := range got.Jobs {
		byID[j.ID] = j
	}
	if byID["live"].State != duel.StateTracking || byID["live"].Rounds != 3 {
		t.Fatalf("live job mismatch: %+v", byID["live"])
	}
	done := byID["done"]
	if done.Winner != "dave" || done.TimeDiff == nil || *done.TimeDiff != 10 || done.Problem.Index != "B1" {
		t.Fatalf("done job mismatch: %+v", done)
	}
	if len(got.Winners) != 1 || got.Winners[0].Winner != "dave" {
		t.Fatalf("winners mismatch: %+v", got.Winners)
	}
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	st, err := Open(ctx, Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("Open none: %v", err)
	}
	if st.Driver() != DriverNone {
		t.Fatalf("driver = %s", st.Driver())
	}
	if _, ok, err := st.Load(ctx); ok || err != nil {
		t.Fatalf("none Load ok=%v err=%v", ok, err)
	}

	if _, err := Open(ctx, Config{Driver: "redis"}, logx.Nop()); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("unknown driver err = %v", err)
	}
	if _, err := Open(ctx, Config{Driver: "file"}, logx.Nop()); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("file without path err = %v", err)
	}
	if _, err := Open(ctx, Config{Driver: "postgres"}, logx.Nop()); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("postgres without dsn err = %v", err)
	}
	if _, err := Open(ctx, Config{Driver: "s3"}, logx.Nop()); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("s3 without bucket err = %v", err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "blitztrack.json")
	st, err := Open(ctx, Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	if _, ok, err := st.Load(ctx); ok || err != nil {
		t.Fatalf("empty Load ok=%v err=%v", ok, err)
	}
	if err := st.Save(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	for _, name := range []string{"blitztrack.jobs.json", "blitztrack.winners.json"} {
		if _, err := os.Stat(filepath.Join(filepath.Dir(path), name)); err != nil {
			t.Fatalf("artifact %s missing: %v", name, err)
		}
	}

	reopened, err := Open(ctx, Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok, err := reopened.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("Load ok=%v err=%v", ok, err)
	}
	assertSnapshot(t, got)
	if !got.SavedAt.Equal(savedAt) {
		t.Fatalf("saved_at = %v", got.SavedAt)
	}
}

func TestFileStoreRejectsCorruptDocument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	st, err := Open(ctx, Config{Driver: "file", Path: filepath.Join(dir, "bt.json")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bt.jobs.json"), []byte(`{"version":1,"jobs":[}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, _, err := st.Load(ctx); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bt.db")
	st, err := Open(ctx, Config{Driver: "sqlite3", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	if _, ok, err := st.Load(ctx); ok || err != nil {
		t.Fatalf("empty Load ok=%v err=%v", ok, err)
	}
	snap := sampleSnapshot()
	if err := st.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// A second save with an evicted job and the same ledger must drop the job
	// and keep the ledger entry once.
	snap.Jobs = snap.Jobs[:1]
	if err := st.Save(ctx, snap); err != nil {
		t.Fatalf("Save #2: %v", err)
	}
	got, ok, err := st.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("Load ok=%v err=%v", ok, err)
	}
	if len(got.Jobs) != 1 || got.Jobs[0].ID != "live" {
		t.Fatalf("jobs = %+v", got.Jobs)
	}
	if len(got.Winners) != 1 {
		t.Fatalf("winners = %+v", got.Winners)
	}
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = b
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchKey", Message: "not found"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fake := &fakeS3{}
	st, err := Open(ctx, Config{Driver: "s3", Bucket: "races", Prefix: "/prod/", S3Client: fake}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, ok, err := st.Load(ctx); ok || err != nil {
		t.Fatalf("empty Load ok=%v err=%v", ok, err)
	}
	if err := st.Save(ctx, sampleSnapshot()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, ok := fake.objects["races/prod/jobs.json"]; !ok {
		t.Fatalf("jobs object not written under prefix: %v", fake.objects)
	}
	if fake.puts != 2 {
		t.Fatalf("puts = %d, want 2", fake.puts)
	}
	got, ok, err := st.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("Load ok=%v err=%v", ok, err)
	}
	assertSnapshot(t, got)
}

func TestS3StoreSurfacesOtherErrors(t *testing.T) {
	t.Parallel()
	if isNotFound(errors.New("boom")) {
		t.Fatal("plain error classified as not found")
	}
	if !isNotFound(&smithy.GenericAPIError{Code: "NotFound"}) {
		t.Fatal("NotFound code not classified")
	}
	if isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}) {
		t.Fatal("AccessDenied classified as not found")
	}
}
