package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ademajagon/dynamic-app/internal/domain"
)

type EventPublisher interface {
	Publish(ctx context.Context, key, eventType string, payload []byte) error
}

const outboxBatchSize = 50

// OutboxRelay moves payment events from the outbox table to the broker.
// Delivery is at least once: a crash between publish and mark republishes.
type OutboxRelay struct {
	outbox    domain.OutboxRepository
	publisher EventPublisher
	interval  time.Duration
	log       *slog.Logger
	now       func() time.Time
}

func NewOutboxRelay(outbox domain.OutboxRepository, publisher EventPublisher, interval time.Duration, log *slog.Logger) *OutboxRelay {
	return &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		interval:  interval,
		log:       log,
		now:       time.Now,
	}
}

// Run polls until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
				r.log.ErrorContext(ctx, "outbox drain failed", "err", err)
			}
		}
	}
}

// Drain publishes one batch and returns how many events went out. Events
// that fail to publish stay in the table for the next tick, along with
// every later event of the same payment.
func (r *OutboxRelay) Drain(ctx context.Context) (int, error) {
	events, err := r.outbox.Unpublished(ctx, outboxBatchSize)
	if err != nil {
		return 0, fmt.Errorf("load outbox batch: %w", err)
	}

	published := 0
	// once an event of a payment fails, its later events wait for the next
	// tick so consumers never see them out of order
	blocked := map[string]bool{}
	for _, evt := range events {
		if blocked[evt.AggregateID] {
			continue
		}
		if err := r.publisher.Publish(ctx, evt.AggregateID, evt.EventType, evt.Payload); err != nil {
			blocked[evt.AggregateID] = true
			outboxPublished.WithLabelValues("failed").Inc()
			r.log.WarnContext(ctx, "outbox publish failed", "event_id", evt.ID, "event_type", evt.EventType, "err", err)
			continue
		}
		if err := r.outbox.MarkPublished(ctx, evt.ID, r.now().UTC()); err != nil {
			return published, fmt.Errorf("mark outbox event %d published: %w", evt.ID, err)
		}
		outboxPublished.WithLabelValues("published").Inc()
		published++
	}
	return published, nil
}
