package notification

import (
	"context"
	"time"
)

// Repository is the scheduled notification queue
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	ListBySubscription(ctx context.Context, subscriptionID string) ([]*Notification, error)
}

// BusEventRepository is the bus outbox drained by the relay
type BusEventRepository interface {
	Create(ctx context.Context, e *BusEvent) error
	// ListAvailable returns up to limit undelivered events, oldest first
	ListAvailable(ctx context.Context, limit int) ([]*BusEvent, error)
	MarkProcessed(ctx context.Context, id string, processedAt time.Time) error
	// MarkFailed records a delivery error; terminal moves the row out of the available set
	MarkFailed(ctx context.Context, id string, lastError string, terminal bool) error
}
