package postgres_test

import (
	"strings"

	"github.com/flexprice/subledger/internal/config"
	"github.com/flexprice/subledger/internal/domain/event"
	"github.com/flexprice/subledger/internal/domain/subscription"
	"github.com/flexprice/subledger/internal/logger"
	"github.com/flexprice/subledger/internal/outbox"
	"github.com/flexprice/subledger/internal/sentry"
	"github.com/flexprice/subledger/internal/service"
	"github.com/flexprice/subledger/internal/testutil"
	"github.com/flexprice/subledger/internal/types"
)

func (s *RepositorySuite) newSubscriptionService(clock *testutil.FakeClock) service.SubscriptionService {
	log := logger.NewNoopLogger()
	cfg := config.GetDefaultConfig()
	cfg.Sentry.Enabled = false

	cat, err := testutil.NewTestCatalog(log)
	s.Require().NoError(err)

	ob := outbox.NewOutbox(cfg,
		outbox.NewPostgresScheduler(s.client, s.notifications, log),
		outbox.NewPostgresBus(s.client, s.busEvents, log),
		sentry.NewSentryService(cfg, log), log, clock)

	return service.NewSubscriptionService(service.NewServiceParams(
		log, cfg, s.client, s.bundles, s.subscriptions, s.events, cat, clock, ob,
	))
}

func (s *RepositorySuite) createAndCancel(requestID string) *subscription.Subscription {
	clock := testutil.NewFakeClock(testutil.Date(2024, 1, 15))
	svc := s.newSubscriptionService(clock)
	ctx := types.SetRequestID(s.ctx, requestID)

	b := s.createBundle("acc-1", "gold-"+requestID[:4])
	sub := &subscription.Subscription{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		BundleID:        b.ID,
		AccountID:       b.AccountID,
		Category:        types.ProductCategoryBase,
		AlignStartDate:  testutil.Date(2024, 1, 1),
		BundleStartDate: testutil.Date(2024, 1, 1),
	}
	_, err := svc.CreateSubscriptionsWithAddOns(ctx, b, []*service.SubscriptionWithEvents{{
		Subscription: sub,
		Events: []*event.Event{
			event.NewAPIEvent(sub.ID, types.APIEventTypeCreate, event.PlanRef{
				PlanName:      "pistol-monthly",
				PriceListName: "DEFAULT",
			}, testutil.Date(2024, 1, 1), clock.Now()),
			event.NewPhaseEvent(sub.ID, "pistol-monthly-evergreen", testutil.Date(2024, 1, 31), clock.Now()),
		},
	}})
	s.Require().NoError(err)

	err = svc.CancelSubscriptions(ctx, []*service.SubscriptionCancellation{{
		Subscription: sub,
		Event:        event.NewCancelEvent(sub.ID, testutil.Date(2024, 3, 1), clock.Now()),
	}})
	s.Require().NoError(err)
	return sub
}

func (s *RepositorySuite) TestOutboxWritesCommitWithEvents() {
	sub := s.createAndCancel("req-1")

	active, err := s.events.ListActive(s.ctx, sub.ID)
	s.Require().NoError(err)
	s.Len(active, 3)

	scheduled, err := s.notifications.ListBySubscription(s.ctx, sub.ID)
	s.Require().NoError(err)
	s.NotEmpty(scheduled)

	posted, err := s.busEvents.ListAvailable(s.ctx, 100)
	s.Require().NoError(err)
	s.NotEmpty(posted)
}

func (s *RepositorySuite) TestFailedOutboxWriteKeepsEventWrites() {
	// user_token is VARCHAR(255): every outbox insert fails
	sub := s.createAndCancel(strings.Repeat("r", 300))

	active, err := s.events.ListActive(s.ctx, sub.ID)
	s.Require().NoError(err)
	s.Require().Len(active, 3)
	s.True(active[2].IsAPIType(types.APIEventTypeCancel))

	_, err = s.subscriptions.Get(s.ctx, sub.ID)
	s.Require().NoError(err)

	scheduled, err := s.notifications.ListBySubscription(s.ctx, sub.ID)
	s.Require().NoError(err)
	s.Empty(scheduled)

	posted, err := s.busEvents.ListAvailable(s.ctx, 100)
	s.Require().NoError(err)
	s.Empty(posted)
}
