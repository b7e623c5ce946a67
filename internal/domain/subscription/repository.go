package subscription

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	ListByBundle(ctx context.Context, bundleID string) ([]*Subscription, error)
	ListByAccount(ctx context.Context, accountID string) ([]*Subscription, error)
	// UpdateChargedThroughDate sets the same charged through date on every subscription in ids
	UpdateChargedThroughDate(ctx context.Context, ids []string, chargedThroughDate time.Time) error
}
