package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Publisher emits events to a Store, synchronously by default or through a
// buffered channel when WithAsyncBuffer is set. Audit is best-effort for the
// card platform: a failed append never fails the domain operation.
type Publisher struct {
	store  Store
	logger *slog.Logger

	inbox chan Event
	done  chan struct{}
	once  sync.Once
}

type PublisherOption func(*Publisher)

// WithAsyncBuffer makes Emit enqueue onto a buffered channel drained by a
// background goroutine. Events are dropped, with a log line, when the buffer
// is full.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		p.inbox = make(chan Event, size)
	}
}

func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.inbox != nil {
		go p.drain()
	}
	return p
}

// Emit records the event. Never returns an error to the caller's domain
// path; failures are logged.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if p.inbox != nil {
		select {
		case p.inbox <- event:
		default:
			p.logger.Warn("audit buffer full, dropping event", "action", event.Action)
		}
		return nil
	}
	if err := p.store.Append(ctx, event); err != nil {
		p.logger.Error("audit append failed", "action", event.Action, "error", err)
	}
	return nil
}

// List returns events for a card, when the underlying store supports reads.
func (p *Publisher) List(ctx context.Context, cardID string) ([]Event, error) {
	return p.store.ListByCard(ctx, cardID)
}

func (p *Publisher) drain() {
	for {
		select {
		case event := <-p.inbox:
			if err := p.store.Append(context.Background(), event); err != nil {
				p.logger.Error("audit append failed", "action", event.Action, "error", err)
			}
		case <-p.done:
			// Flush whatever is still buffered.
			for {
				select {
				case event := <-p.inbox:
					if err := p.store.Append(context.Background(), event); err != nil {
						p.logger.Error("audit append failed", "action", event.Action, "error", err)
					}
				default:
					return
				}
			}
		}
	}
}

// Close stops the background drain after flushing buffered events.
func (p *Publisher) Close() {
	p.once.Do(func() {
		close(p.done)
	})
}
