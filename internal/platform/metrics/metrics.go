// Package metrics provides Prometheus instrumentation for the card platform.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks claim outcomes, trial lifecycle transitions, and cleanup
// sweep activity.
type Metrics struct {
	ClaimsTotal     *prometheus.CounterVec
	ClaimDuration   prometheus.Histogram
	MigratedObjects prometheus.Counter
	TrialsStarted   prometheus.Counter
	SweepsTotal     prometheus.Counter
	SweepDuration   prometheus.Histogram
	CardsPurged     prometheus.Counter
	PurgeFailures   prometheus.Counter
}

// New creates a Metrics instance with all collectors registered on the
// default registry.
func New() *Metrics {
	return &Metrics{
		ClaimsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tapcard_claims_total",
			Help: "Total claim attempts by outcome code",
		}, []string{"outcome"}),
		ClaimDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tapcard_claim_duration_seconds",
			Help:    "Duration of claim operations including media migration",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		MigratedObjects: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tapcard_claim_migrated_objects_total",
			Help: "Total storage objects copied during claim migrations",
		}),
		TrialsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tapcard_trials_started_total",
			Help: "Total trials started on card edits",
		}),
		SweepsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tapcard_cleanup_sweeps_total",
			Help: "Total cleanup sweep runs",
		}),
		SweepDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tapcard_cleanup_sweep_duration_seconds",
			Help:    "Duration of cleanup sweep runs",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		CardsPurged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tapcard_cleanup_cards_purged_total",
			Help: "Total expired trial cards fully purged",
		}),
		PurgeFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tapcard_cleanup_purge_failures_total",
			Help: "Total purge attempts skipped because object removal failed",
		}),
	}
}

// IncrementClaim records a claim attempt with its outcome code.
func (m *Metrics) IncrementClaim(outcome string) {
	m.ClaimsTotal.WithLabelValues(outcome).Inc()
}

// ObserveClaim records the duration of a claim operation.
// Call with time.Now() from the start of the operation.
func (m *Metrics) ObserveClaim(start time.Time) {
	m.ClaimDuration.Observe(time.Since(start).Seconds())
}

// AddMigratedObjects records objects copied during a claim.
func (m *Metrics) AddMigratedObjects(n int) {
	m.MigratedObjects.Add(float64(n))
}

// IncrementTrialStarted records a trial start.
func (m *Metrics) IncrementTrialStarted() {
	m.TrialsStarted.Inc()
}

// ObserveSweep records one cleanup sweep run.
// Call with time.Now() from the start of the sweep.
func (m *Metrics) ObserveSweep(start time.Time) {
	m.SweepsTotal.Inc()
	m.SweepDuration.Observe(time.Since(start).Seconds())
}

// IncrementCardsPurged records a fully purged card.
func (m *Metrics) IncrementCardsPurged() {
	m.CardsPurged.Inc()
}

// IncrementPurgeFailures records a purge skipped after a storage failure.
func (m *Metrics) IncrementPurgeFailures() {
	m.PurgeFailures.Inc()
}
