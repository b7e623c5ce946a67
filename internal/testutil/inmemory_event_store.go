package testutil

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/flexprice/subledger/internal/domain/event"
	"github.com/samber/lo"
)

// InMemoryEventStore implements event.Repository. Total ordering comes from a
// counter shared by every subscription, like the BIGSERIAL column.
type InMemoryEventStore struct {
	*InMemoryStore[*event.Event]
	ordering atomic.Int64
}

var _ event.Repository = (*InMemoryEventStore)(nil)

func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		InMemoryStore: NewInMemoryStore[*event.Event](),
	}
}

func (s *InMemoryEventStore) Create(ctx context.Context, e *event.Event) (*event.Event, error) {
	stored := e.WithTotalOrdering(s.ordering.Add(1))
	stored.IsActive = true
	stored.FromDisk = true
	stored.EffectiveDate = stored.EffectiveDate.UTC()
	stored.CreatedDate = stored.CreatedDate.UTC()

	if err := s.InMemoryStore.Create(ctx, stored.ID, stored); err != nil {
		return nil, err
	}
	return stored.Copy(), nil
}

func (s *InMemoryEventStore) Get(ctx context.Context, id string) (*event.Event, error) {
	e, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.Copy(), nil
}

func (s *InMemoryEventStore) ListActive(ctx context.Context, subscriptionID string) ([]*event.Event, error) {
	return s.list(ctx, func(e *event.Event) bool {
		return e.SubscriptionID == subscriptionID && e.IsActive
	}), nil
}

func (s *InMemoryEventStore) ListAll(ctx context.Context, subscriptionID string) ([]*event.Event, error) {
	return s.list(ctx, func(e *event.Event) bool {
		return e.SubscriptionID == subscriptionID
	}), nil
}

func (s *InMemoryEventStore) ListFutureActive(ctx context.Context, subscriptionID string, now time.Time) ([]*event.Event, error) {
	return s.list(ctx, func(e *event.Event) bool {
		return e.SubscriptionID == subscriptionID && e.IsActive && e.EffectiveDate.After(now)
	}), nil
}

func (s *InMemoryEventStore) ListFutureOrPresentActive(ctx context.Context, subscriptionID string, asOf time.Time) ([]*event.Event, error) {
	return s.list(ctx, func(e *event.Event) bool {
		return e.SubscriptionID == subscriptionID && e.IsActive && !e.EffectiveDate.Before(asOf) && !e.IsGenesis()
	}), nil
}

func (s *InMemoryEventStore) ListActiveBySubscriptionIDs(ctx context.Context, subscriptionIDs []string) ([]*event.Event, error) {
	return s.list(ctx, func(e *event.Event) bool {
		return e.IsActive && lo.Contains(subscriptionIDs, e.SubscriptionID)
	}), nil
}

func (s *InMemoryEventStore) Deactivate(ctx context.Context, id string) error {
	return s.InMemoryStore.Update(ctx, id, func(e *event.Event) *event.Event {
		c := e.Copy()
		c.IsActive = false
		return c
	})
}

// Insert stores e as is, active flag included, for tests that need history
// the lifecycle operations would never write
func (s *InMemoryEventStore) Insert(ctx context.Context, e *event.Event) (*event.Event, error) {
	stored := e.WithTotalOrdering(s.ordering.Add(1))
	stored.FromDisk = true
	if err := s.InMemoryStore.Create(ctx, stored.ID, stored); err != nil {
		return nil, err
	}
	return stored.Copy(), nil
}

func (s *InMemoryEventStore) list(ctx context.Context, filter func(*event.Event) bool) []*event.Event {
	events := s.InMemoryStore.List(ctx, filter, func(a, b *event.Event) bool {
		return a.Before(b)
	})
	return lo.Map(events, func(e *event.Event, _ int) *event.Event {
		return e.Copy()
	})
}
