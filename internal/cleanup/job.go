// Package cleanup purges cards whose expired trial passed the grace window.
package cleanup

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"tapcard/internal/audit"
	"tapcard/internal/card/models"
	"tapcard/internal/card/store"
	"tapcard/internal/entitlement"
	"tapcard/internal/platform/metrics"
	"tapcard/internal/storage"
)

const (
	// DefaultInterval is the cadence between sweeps.
	DefaultInterval = time.Hour
	// DefaultInitialDelay keeps startup free of a sweep stampede when many
	// replicas restart together.
	DefaultInitialDelay = time.Minute
)

// AuditPublisher is what the job needs from the audit layer.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Job sweeps delete-due trial cards. A single owned goroutine runs the
// ticker; the running flag makes overlapping manual triggers no-ops rather
// than concurrent sweeps.
type Job struct {
	cards   store.CardStore
	objects storage.ObjectStorage
	buckets storage.Buckets

	interval     time.Duration
	initialDelay time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics
	audit        AuditPublisher
	tracer       trace.Tracer
	now          func() time.Time

	running atomic.Bool
}

type Option func(*Job)

func WithInterval(interval time.Duration) Option {
	return func(j *Job) { j.interval = interval }
}

func WithInitialDelay(delay time.Duration) Option {
	return func(j *Job) { j.initialDelay = delay }
}

func WithLogger(logger *slog.Logger) Option {
	return func(j *Job) { j.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Job) { j.metrics = m }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(j *Job) { j.audit = publisher }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(j *Job) { j.now = now }
}

func New(cards store.CardStore, objects storage.ObjectStorage, buckets storage.Buckets, opts ...Option) *Job {
	j := &Job{
		cards:        cards,
		objects:      objects,
		buckets:      buckets,
		interval:     DefaultInterval,
		initialDelay: DefaultInitialDelay,
		logger:       slog.Default(),
		tracer:       otel.Tracer("tapcard/cleanup"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start runs periodic sweeps until the context is canceled.
func (j *Job) Start(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(j.initialDelay):
	}

	j.Sweep(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep purges every delete-due card once. Returns the number of cards
// purged; a sweep already in flight makes this call a no-op.
func (j *Job) Sweep(ctx context.Context) int {
	if !j.running.CompareAndSwap(false, true) {
		j.logger.Debug("sweep already running, skipping")
		return 0
	}
	defer j.running.Store(false)

	start := j.now()
	ctx, span := j.tracer.Start(ctx, "cleanup.Sweep")
	defer span.End()
	if j.metrics != nil {
		defer j.metrics.ObserveSweep(start)
	}

	due, err := j.cards.ListTrialDeleteDue(ctx, start)
	if err != nil {
		j.logger.Error("failed to list delete-due cards", "error", err)
		return 0
	}

	purged := 0
	for _, card := range due {
		if ctx.Err() != nil {
			break
		}
		if j.purge(ctx, card) {
			purged++
		}
	}
	if len(due) > 0 {
		j.logger.Info("cleanup sweep finished", "due", len(due), "purged", purged)
	}
	return purged
}

// purge removes one card and its objects. The document is only deleted after
// object removal succeeds, so a storage outage leaves the card for the next
// sweep instead of orphaning its media.
func (j *Job) purge(ctx context.Context, card *models.Card) bool {
	now := j.now()

	// The deadline may predate a payment. Re-resolve billing per card so a
	// card that converted after expiry is never destroyed.
	billing := entitlement.ResolveBilling(card, now)
	if billing.IsPaid {
		j.logger.Info("skipping purge of paid card", "card_id", card.ID)
		return false
	}
	if card.TrialDeleteAt == nil || now.Before(*card.TrialDeleteAt) {
		return false
	}

	paths := storage.NormalizePaths(storage.CollectPaths(card))
	if len(paths) > 0 {
		if err := j.objects.Remove(ctx, j.buckets.All(), paths); err != nil {
			j.logger.Error("object removal failed, keeping card for next sweep",
				"card_id", card.ID, "paths", len(paths), "error", err)
			if j.metrics != nil {
				j.metrics.IncrementPurgeFailures()
			}
			return false
		}
	}

	if err := j.cards.Delete(ctx, card.ID); err != nil {
		j.logger.Error("failed to delete card document", "card_id", card.ID, "error", err)
		return false
	}

	if j.metrics != nil {
		j.metrics.IncrementCardsPurged()
	}
	if j.audit != nil {
		_ = j.audit.Emit(ctx, audit.Event{
			Action: audit.EventCardPurged,
			CardID: card.ID.String(),
			Reason: "trial grace window elapsed",
		})
	}
	j.logger.Info("purged expired trial card", "card_id", card.ID, "objects", len(paths))
	return true
}
