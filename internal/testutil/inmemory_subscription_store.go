package testutil

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/flexprice/subledger/internal/domain/subscription"
	"github.com/samber/lo"
)

type subscriptionRecord struct {
	sub *subscription.Subscription
	seq int64
}

// InMemorySubscriptionStore implements subscription.Repository
type InMemorySubscriptionStore struct {
	*InMemoryStore[*subscriptionRecord]
	seq atomic.Int64
}

var _ subscription.Repository = (*InMemorySubscriptionStore)(nil)

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		InMemoryStore: NewInMemoryStore[*subscriptionRecord](),
	}
}

// copySubscription drops the fields that are never persisted
func copySubscription(sub *subscription.Subscription) *subscription.Subscription {
	c := *sub
	c.ExternalKey = ""
	c.IncludeDeletedEvents = false
	if sub.ChargedThroughDate != nil {
		d := *sub.ChargedThroughDate
		c.ChargedThroughDate = &d
	}
	return &c
}

func (s *InMemorySubscriptionStore) Create(ctx context.Context, sub *subscription.Subscription) error {
	return s.InMemoryStore.Create(ctx, sub.ID, &subscriptionRecord{sub: copySubscription(sub), seq: s.seq.Add(1)})
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	r, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return copySubscription(r.sub), nil
}

func (s *InMemorySubscriptionStore) ListByBundle(ctx context.Context, bundleID string) ([]*subscription.Subscription, error) {
	return s.list(ctx, func(sub *subscription.Subscription) bool {
		return sub.BundleID == bundleID
	}), nil
}

func (s *InMemorySubscriptionStore) ListByAccount(ctx context.Context, accountID string) ([]*subscription.Subscription, error) {
	return s.list(ctx, func(sub *subscription.Subscription) bool {
		return sub.AccountID == accountID
	}), nil
}

func (s *InMemorySubscriptionStore) UpdateChargedThroughDate(ctx context.Context, ids []string, chargedThroughDate time.Time) error {
	for _, id := range ids {
		err := s.InMemoryStore.Update(ctx, id, func(r *subscriptionRecord) *subscriptionRecord {
			c := copySubscription(r.sub)
			d := chargedThroughDate.UTC()
			c.ChargedThroughDate = &d
			return &subscriptionRecord{sub: c, seq: r.seq}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *InMemorySubscriptionStore) list(ctx context.Context, filter func(*subscription.Subscription) bool) []*subscription.Subscription {
	records := s.InMemoryStore.List(ctx, func(r *subscriptionRecord) bool {
		return filter(r.sub)
	}, func(a, b *subscriptionRecord) bool {
		return a.seq < b.seq
	})
	return lo.Map(records, func(r *subscriptionRecord, _ int) *subscription.Subscription {
		return copySubscription(r.sub)
	})
}
