package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"blitztrack/internal/duel"
	"blitztrack/internal/jobstore"
)

// jobsDoc and winnersDoc are the two persisted artifacts used by the
// document backends (file, s3).
type jobsDoc struct {
	Version int        `json:"version"`
	SavedAt time.Time  `json:"saved_at"`
	Jobs    []duel.Job `json:"jobs"`
}

type winnersDoc struct {
	Version int                `json:"version"`
	SavedAt time.Time          `json:"saved_at"`
	Winners []duel.LedgerEntry `json:"winners"`
}

func encodeDocs(snap jobstore.Snapshot) (jobs, winners []byte, err error) {
	if snap.Version == 0 {
		snap.Version = jobstore.SnapshotVersion
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now().UTC()
	}
	if snap.Jobs == nil {
		snap.Jobs = []duel.Job{}
	}
	if snap.Winners == nil {
		snap.Winners = []duel.LedgerEntry{}
	}
	jobs, err = json.MarshalIndent(jobsDoc{Version: snap.Version, SavedAt: snap.SavedAt, Jobs: snap.Jobs}, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	winners, err = json.MarshalIndent(winnersDoc{Version: snap.Version, SavedAt: snap.SavedAt, Winners: snap.Winners}, "", "  ")
	if err != nil {
		return nil, nil, err
	}
	return jobs, winners, nil
}

// decodeDocs accepts either artifact being absent (nil).
func decodeDocs(jobs, winners []byte) (jobstore.Snapshot, error) {
	snap := jobstore.Snapshot{Version: jobstore.SnapshotVersion}
	if jobs != nil {
		var d jobsDoc
		if err := strictUnmarshal(jobs, &d); err != nil {
			return jobstore.Snapshot{}, fmt.Errorf("%w: jobs: %v", ErrCorrupt, err)
		}
		snap.Version = d.Version
		snap.SavedAt = d.SavedAt
		snap.Jobs = d.Jobs
	}
	if winners != nil {
		var d winnersDoc
		if err := strictUnmarshal(winners, &d); err != nil {
			return jobstore.Snapshot{}, fmt.Errorf("%w: winners: %v", ErrCorrupt, err)
		}
		snap.Winners = d.Winners
		if d.SavedAt.After(snap.SavedAt) {
			snap.SavedAt = d.SavedAt
		}
	}
	return snap, nil
}

func strictUnmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data")
	}
	return nil
}
