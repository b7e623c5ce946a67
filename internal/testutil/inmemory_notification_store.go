package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/flexprice/subledger/internal/domain/notification"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/types"
)

// InMemoryNotificationStore implements notification.Repository and doubles as
// the recording scheduler of the outbox
type InMemoryNotificationStore struct {
	mu            sync.Mutex
	notifications []*notification.Notification
	// Err is returned by every call while set
	Err error
}

var _ notification.Repository = (*InMemoryNotificationStore)(nil)

func NewInMemoryNotificationStore() *InMemoryNotificationStore {
	return &InMemoryNotificationStore{}
}

func (s *InMemoryNotificationStore) Create(ctx context.Context, n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	c := *n
	s.notifications = append(s.notifications, &c)
	return nil
}

// ScheduleAt lets the store stand in for an outbox scheduler
func (s *InMemoryNotificationStore) ScheduleAt(ctx context.Context, n *notification.Notification) error {
	return s.Create(ctx, n)
}

func (s *InMemoryNotificationStore) ListBySubscription(ctx context.Context, subscriptionID string) ([]*notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*notification.Notification
	for _, n := range s.notifications {
		if n.SubscriptionID == subscriptionID {
			c := *n
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EffectiveDate.Before(out[j].EffectiveDate)
	})
	return out, nil
}

// All returns every notification in scheduling order
func (s *InMemoryNotificationStore) All() []*notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*notification.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

func (s *InMemoryNotificationStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = nil
	s.Err = nil
}

// InMemoryBusEventStore implements notification.BusEventRepository and doubles
// as the recording bus of the outbox
type InMemoryBusEventStore struct {
	mu     sync.Mutex
	events []*notification.BusEvent
	// Err is returned by Create and Publish while set
	Err error
}

var _ notification.BusEventRepository = (*InMemoryBusEventStore)(nil)

func NewInMemoryBusEventStore() *InMemoryBusEventStore {
	return &InMemoryBusEventStore{}
}

func (s *InMemoryBusEventStore) Create(ctx context.Context, e *notification.BusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	c := *e
	s.events = append(s.events, &c)
	return nil
}

// Publish lets the store stand in for an outbox bus
func (s *InMemoryBusEventStore) Publish(ctx context.Context, e *notification.BusEvent) error {
	return s.Create(ctx, e)
}

func (s *InMemoryBusEventStore) ListAvailable(ctx context.Context, limit int) ([]*notification.BusEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*notification.BusEvent
	for _, e := range s.events {
		if e.ProcessingState != types.ProcessingStateAvailable {
			continue
		}
		c := *e
		out = append(out, &c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryBusEventStore) MarkProcessed(ctx context.Context, id string, processedAt time.Time) error {
	return s.update(id, func(e *notification.BusEvent) {
		e.ProcessingState = types.ProcessingStateProcessed
		at := processedAt.UTC()
		e.ProcessedAt = &at
	})
}

func (s *InMemoryBusEventStore) MarkFailed(ctx context.Context, id string, lastError string, terminal bool) error {
	return s.update(id, func(e *notification.BusEvent) {
		e.ErrorCount++
		e.LastError = &lastError
		if terminal {
			e.ProcessingState = types.ProcessingStateFailed
		}
	})
}

func (s *InMemoryBusEventStore) update(id string, fn func(*notification.BusEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID == id {
			fn(e)
			return nil
		}
	}
	return ierr.NewErrorf("bus event %s not found", id).
		WithHint("Bus event not found").
		Mark(ierr.ErrNotFound)
}

// All returns every bus event in publication order
func (s *InMemoryBusEventStore) All() []*notification.BusEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*notification.BusEvent, 0, len(s.events))
	for _, e := range s.events {
		c := *e
		out = append(out, &c)
	}
	return out
}

// ByName returns the bus events with the given event name
func (s *InMemoryBusEventStore) ByName(name string) []*notification.BusEvent {
	var out []*notification.BusEvent
	for _, e := range s.All() {
		if e.EventName == name {
			out = append(out, e)
		}
	}
	return out
}

func (s *InMemoryBusEventStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
	s.Err = nil
}
