package domain

import (
	"context"
	"time"
)

// OutboxEvent is a payment event waiting to be published.
type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

type OutboxRepository interface {
	// Unpublished returns up to limit events in insertion order
	Unpublished(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkPublished(ctx context.Context, id int64, at time.Time) error
}
