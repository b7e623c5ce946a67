package service

import (
	"context"
	"sort"
	"time"

	"github.com/flexprice/subledger/internal/domain/bundle"
	"github.com/flexprice/subledger/internal/domain/event"
	"github.com/flexprice/subledger/internal/domain/subscription"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc/pool"
)

// accountRebuildConcurrency bounds the bundles rebuilt in parallel for one account
const accountRebuildConcurrency = 8

// SubscriptionService owns subscription reads and every write to a
// subscription's event history
type SubscriptionService interface {
	// Reads

	GetSubscription(ctx context.Context, id string, includeDeletedEvents bool) (*subscription.State, error)
	GetBaseSubscription(ctx context.Context, bundleID string) (*subscription.State, error)
	// GetSubscriptions rebuilds the bundle, overlaying dryRunEvents without persisting them
	GetSubscriptions(ctx context.Context, bundleID string, dryRunEvents []*event.Event) ([]*subscription.State, error)
	// GetSubscriptionsForAccount returns the account's subscriptions grouped by bundle id
	GetSubscriptionsForAccount(ctx context.Context, accountID string) (map[string][]*subscription.State, error)
	GetEvent(ctx context.Context, id string) (*event.Event, error)
	GetEventsForSubscription(ctx context.Context, subscriptionID string, includeDeletedEvents bool) ([]*event.Event, error)
	// GetPendingEventsForSubscription returns the active events not yet effective
	GetPendingEventsForSubscription(ctx context.Context, subscriptionID string) ([]*event.Event, error)

	// Writes

	CreateSubscriptionsWithAddOns(ctx context.Context, b *bundle.Bundle, subscriptions []*SubscriptionWithEvents) ([]*event.Event, error)
	// ChangePlan applies changeEvents, the first of which must be the CHANGE, then cancels the given add-ons
	ChangePlan(ctx context.Context, sub *subscription.Subscription, changeEvents []*event.Event, addOnCancellations []*SubscriptionCancellation) error
	CancelSubscriptions(ctx context.Context, cancellations []*SubscriptionCancellation) error
	// CancelOrExpireSubscriptionOnNotification cancels dependents of trigger and always announces trigger
	CancelOrExpireSubscriptionOnNotification(ctx context.Context, sub *subscription.Subscription, trigger *event.Event, cancellations []*SubscriptionCancellation) error
	NotifyOnBasePlanEvent(ctx context.Context, sub *subscription.Subscription, e *event.Event) error
	Uncancel(ctx context.Context, sub *subscription.Subscription, uncancelEvents []*event.Event) error
	UndoChangePlan(ctx context.Context, sub *subscription.Subscription, undoEvents []*event.Event) error
	CreateNextPhaseOrExpiredEvent(ctx context.Context, sub *subscription.Subscription, readyPhaseEvent, nextEvent *event.Event) error
	// CreateChangeEvent records a BCD or quantity update
	CreateChangeEvent(ctx context.Context, sub *subscription.Subscription, changeEvent *event.Event) error
	UpdateChargedThroughDates(ctx context.Context, dates map[time.Time][]string) error
	Transfer(ctx context.Context, req *TransferRequest) error
}

// SubscriptionWithEvents is a new subscription and the events it starts with
type SubscriptionWithEvents struct {
	Subscription *subscription.Subscription
	Events       []*event.Event
}

// SubscriptionCancellation pairs a subscription with its CANCEL or EXPIRED event
type SubscriptionCancellation struct {
	Subscription *subscription.Subscription
	Event        *event.Event
}

// TransferRequest moves a bundle to another account. The source subscriptions
// are cancelled and the destination bundle is created with fresh subscriptions.
type TransferRequest struct {
	SourceAccountID     string
	SourceCancellations []*SubscriptionCancellation
	Bundle              *bundle.Bundle
	Subscriptions       []*SubscriptionWithEvents
}

type subscriptionService struct {
	ServiceParams
}

func NewSubscriptionService(params ServiceParams) SubscriptionService {
	return &subscriptionService{
		ServiceParams: params,
	}
}

func (s *subscriptionService) GetSubscription(ctx context.Context, id string, includeDeletedEvents bool) (*subscription.State, error) {
	if id == "" {
		return nil, ierr.NewError("subscription ID is required").
			WithHint("Please provide a valid subscription ID").
			Mark(ierr.ErrValidation)
	}

	sub, err := s.getShell(ctx, id)
	if err != nil {
		return nil, err
	}
	sub.IncludeDeletedEvents = includeDeletedEvents

	state, err := s.buildSubscription(ctx, sub)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, noStateError(id)
	}
	return state, nil
}

func (s *subscriptionService) GetBaseSubscription(ctx context.Context, bundleID string) (*subscription.State, error) {
	base, err := s.getBaseShell(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	if base == nil {
		return nil, ierr.NewErrorf("bundle %s has no base subscription", bundleID).
			WithHint("Bundle has no base subscription").
			WithReportableDetails(map[string]any{
				"bundle_id": bundleID,
			}).
			Mark(ierr.ErrNotFound)
	}

	state, err := s.buildSubscription(ctx, base)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, noStateError(base.ID)
	}
	return state, nil
}

func (s *subscriptionService) GetSubscriptions(ctx context.Context, bundleID string, dryRunEvents []*event.Event) ([]*subscription.State, error) {
	subs, err := s.listBundleShells(ctx, bundleID)
	if err != nil {
		return nil, err
	}

	states, err := s.buildBundleSubscriptions(ctx, subs, nil, dryRunEvents)
	if err != nil {
		return nil, err
	}
	return orderedStates(subs, states), nil
}

func (s *subscriptionService) GetSubscriptionsForAccount(ctx context.Context, accountID string) (map[string][]*subscription.State, error) {
	subs, err := s.SubRepo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return map[string][]*subscription.State{}, nil
	}

	bundles, err := s.BundleRepo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	keys := lo.SliceToMap(bundles, func(b *bundle.Bundle) (string, string) {
		return b.ID, b.ExternalKey
	})
	for _, sub := range subs {
		sub.ExternalKey = keys[sub.BundleID]
	}

	events, err := s.EventRepo.ListActiveBySubscriptionIDs(ctx, lo.Map(subs, func(sub *subscription.Subscription, _ int) string {
		return sub.ID
	}))
	if err != nil {
		return nil, err
	}
	eventsBySubscription := lo.GroupBy(event.WithoutMarkers(events), func(e *event.Event) string {
		return e.SubscriptionID
	})

	type bundleStates struct {
		bundleID string
		states   []*subscription.State
	}

	p := pool.NewWithResults[bundleStates]().
		WithContext(ctx).
		WithMaxGoroutines(accountRebuildConcurrency)
	for bundleID, bundleSubs := range lo.GroupBy(subs, func(sub *subscription.Subscription) string {
		return sub.BundleID
	}) {
		bundleID, bundleSubs := bundleID, bundleSubs
		p.Go(func(ctx context.Context) (bundleStates, error) {
			states, err := s.buildBundleSubscriptions(ctx, bundleSubs, eventsBySubscription, nil)
			if err != nil {
				return bundleStates{}, err
			}
			return bundleStates{bundleID: bundleID, states: orderedStates(bundleSubs, states)}, nil
		})
	}

	results, err := p.Wait()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]*subscription.State, len(results))
	for _, r := range results {
		out[r.bundleID] = r.states
	}
	return out, nil
}

func (s *subscriptionService) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	if id == "" {
		return nil, ierr.NewError("event ID is required").
			WithHint("Please provide a valid event ID").
			Mark(ierr.ErrValidation)
	}
	return s.EventRepo.Get(ctx, id)
}

func (s *subscriptionService) GetEventsForSubscription(ctx context.Context, subscriptionID string, includeDeletedEvents bool) ([]*event.Event, error) {
	return s.loadEvents(ctx, &subscription.Subscription{
		ID:                   subscriptionID,
		IncludeDeletedEvents: includeDeletedEvents,
	})
}

func (s *subscriptionService) GetPendingEventsForSubscription(ctx context.Context, subscriptionID string) ([]*event.Event, error) {
	events, err := s.EventRepo.ListFutureActive(ctx, subscriptionID, s.Clock.Now())
	if err != nil {
		return nil, err
	}
	return event.WithoutMarkers(events), nil
}

// getShell loads a subscription with the external key of its bundle
func (s *subscriptionService) getShell(ctx context.Context, id string) (*subscription.Subscription, error) {
	sub, err := s.SubRepo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	b, err := s.BundleRepo.Get(ctx, sub.BundleID)
	if err != nil {
		return nil, err
	}
	sub.ExternalKey = b.ExternalKey
	return sub, nil
}

// listBundleShells loads the subscriptions of a bundle with its external key
func (s *subscriptionService) listBundleShells(ctx context.Context, bundleID string) ([]*subscription.Subscription, error) {
	b, err := s.BundleRepo.Get(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	subs, err := s.SubRepo.ListByBundle(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		sub.ExternalKey = b.ExternalKey
	}
	return subs, nil
}

// orderedStates lists states BASE first, skipping subscriptions without state
func orderedStates(subs []*subscription.Subscription, states map[string]*subscription.State) []*subscription.State {
	sorted := make([]*subscription.Subscription, len(subs))
	copy(sorted, subs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return subscription.Less(sorted[i], sorted[j])
	})

	out := make([]*subscription.State, 0, len(states))
	for _, sub := range sorted {
		if state, ok := states[sub.ID]; ok {
			out = append(out, state)
		}
	}
	return out
}

func noStateError(subscriptionID string) error {
	return ierr.NewErrorf("subscription %s has no active events", subscriptionID).
		WithHint("Subscription has no active events").
		WithReportableDetails(map[string]any{
			"subscription_id": subscriptionID,
		}).
		Mark(ierr.ErrNotFound)
}
