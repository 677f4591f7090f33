package metrics

import (
	"context"
	"time"

	"blitztrack/internal/duel"
	"blitztrack/internal/tracker"
)

type instrumentedSource struct {
	next tracker.Source
}

// InstrumentSource records the result and latency of every fetch.
func InstrumentSource(next tracker.Source) tracker.Source {
	return instrumentedSource{next: next}
}

func (s instrumentedSource) FetchRecent(ctx context.Context, handle string, limit int) ([]duel.Submission, error) {
	start := time.Now()
	subs, err := s.next.FetchRecent(ctx, handle, limit)
	ObserveFetch(time.Since(start), err)
	return subs, err
}
