// Package metrics exposes tracker activity as Prometheus collectors on the
// default registry.
package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"blitztrack/internal/duel"
	"blitztrack/internal/eventbus"
	"blitztrack/internal/tracker"
)

const (
	namespace = "blitztrack"

	stateLabel  = "state"
	resultLabel = "result"
)

var jobsSubmittedMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_submitted_total",
		Help:      "number of admitted tracking jobs",
	},
)

var jobsFinishedMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_finished_total",
		Help:      "number of jobs that reached a terminal state",
	},
	[]string{stateLabel},
)

var jobsEvictedMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_evicted_total",
		Help:      "number of terminal jobs removed by eviction",
	},
)

var fetchTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "source_fetch_total",
		Help:      "submission fetches partitioned by result",
	},
	[]string{resultLabel},
)

var fetchLatencyMetric = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "source_fetch_duration_seconds",
		Help:      "latency of submission fetches",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	},
)

var snapshotSavesMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshot_saves_total",
		Help:      "snapshot writes partitioned by result",
	},
	[]string{resultLabel},
)

var statsFn atomic.Pointer[func() tracker.Stats]

func currentStats() (tracker.Stats, bool) {
	fn := statsFn.Load()
	if fn == nil {
		return tracker.Stats{}, false
	}
	return (*fn)(), true
}

var liveJobsMetric = prometheus.NewGaugeFunc(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_jobs",
		Help:      "jobs currently holding a capacity slot",
	},
	func() float64 {
		st, _ := currentStats()
		return float64(st.Live)
	},
)

var capacityMetric = prometheus.NewGaugeFunc(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "capacity",
		Help:      "maximum concurrent jobs",
	},
	func() float64 {
		st, _ := currentStats()
		return float64(st.Capacity)
	},
)

var winnersMetric = prometheus.NewGaugeFunc(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "winner_ledger_entries",
		Help:      "entries in the winner ledger",
	},
	func() float64 {
		st, _ := currentStats()
		return float64(st.Winners)
	},
)

func IncreaseJobsSubmittedMetric() { jobsSubmittedMetric.Inc() }

func IncreaseJobsFinishedMetric(state duel.State) {
	jobsFinishedMetric.With(prometheus.Labels{stateLabel: string(state)}).Inc()
}

func AddJobsEvictedMetric(n int) {
	if n > 0 {
		jobsEvictedMetric.Add(float64(n))
	}
}

func ObserveFetch(d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	fetchTotalMetric.With(prometheus.Labels{resultLabel: result}).Inc()
	fetchLatencyMetric.Observe(d.Seconds())
}

func IncreaseSnapshotSaveMetric(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	snapshotSavesMetric.With(prometheus.Labels{resultLabel: result}).Inc()
}

// SetStatsSource wires the gauges to a live scheduler. Passing nil resets
// them to zero.
func SetStatsSource(fn func() tracker.Stats) {
	if fn == nil {
		statsFn.Store(nil)
		return
	}
	statsFn.Store(&fn)
}

// Consume updates the counters from bus events until ctx is done.
func Consume(ctx context.Context, bus eventbus.Bus) error {
	ch, unsubscribe := bus.Subscribe(512)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			record(ev)
		}
	}
}

func record(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.JobStarted:
		IncreaseJobsSubmittedMetric()
	case eventbus.JobDecided, eventbus.JobFinished:
		IncreaseJobsFinishedMetric(ev.Job.State)
	case eventbus.JobsEvicted:
		AddJobsEvictedMetric(ev.Count)
	case eventbus.SnapshotSave:
		IncreaseSnapshotSaveMetric(ev.Err)
	}
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsSubmittedMetric)
	prometheus.MustRegister(jobsFinishedMetric)
	prometheus.MustRegister(jobsEvictedMetric)
	prometheus.MustRegister(fetchTotalMetric)
	prometheus.MustRegister(fetchLatencyMetric)
	prometheus.MustRegister(snapshotSavesMetric)
	prometheus.MustRegister(liveJobsMetric)
	prometheus.MustRegister(capacityMetric)
	prometheus.MustRegister(winnersMetric)
}
