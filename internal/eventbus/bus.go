// Package eventbus fans job lifecycle events out to in-process listeners
// (winner publisher, announcer, metrics).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"blitztrack/internal/duel"
)

type Type string

const (
	JobStarted   Type = "job.started"
	JobPolled    Type = "job.polled"
	JobDecided   Type = "job.decided"
	JobFinished  Type = "job.finished" // timeout, error, cancelled
	JobsEvicted  Type = "jobs.evicted"
	FetchFailed  Type = "fetch.failed"
	SnapshotSave Type = "snapshot.saved"
)

// Event is a small in-memory signal.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers read from buffered channels; a slow subscriber drops events.
type Event struct {
	Type  Type
	Time  time.Time
	Job   duel.Job
	Count int
	Err   error
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock; unsubscribe takes the write lock
	// before closing, so no send can hit a closed channel.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Dropped counts deliveries skipped because a subscriber buffer was full.
func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
