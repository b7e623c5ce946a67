package event

import (
	"context"
	"time"
)

// Repository is the append-only event store. Every list returns events sorted
// by effective date then total ordering.
type Repository interface {
	// Create persists e and returns the stored copy carrying its total ordering
	Create(ctx context.Context, e *Event) (*Event, error)
	Get(ctx context.Context, id string) (*Event, error)

	// ListActive returns the active events of a subscription
	ListActive(ctx context.Context, subscriptionID string) ([]*Event, error)
	// ListAll returns active and deactivated events
	ListAll(ctx context.Context, subscriptionID string) ([]*Event, error)
	// ListFutureActive returns active events with an effective date after now
	ListFutureActive(ctx context.Context, subscriptionID string, now time.Time) ([]*Event, error)
	// ListFutureOrPresentActive returns active events effective at or after asOf,
	// never including the CREATE or TRANSFER event
	ListFutureOrPresentActive(ctx context.Context, subscriptionID string, asOf time.Time) ([]*Event, error)
	// ListActiveBySubscriptionIDs returns the active events of several subscriptions at once
	ListActiveBySubscriptionIDs(ctx context.Context, subscriptionIDs []string) ([]*Event, error)

	// Deactivate flips the active flag; deactivating an inactive event is a no-op
	Deactivate(ctx context.Context, id string) error
}
