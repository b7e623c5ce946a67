package service

import (
	"strings"

	"github.com/flexprice/subledger/internal/domain/bundle"
	"github.com/flexprice/subledger/internal/domain/event"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/testutil"
	"github.com/flexprice/subledger/internal/types"
)

func (s *SubscriptionServiceSuite) TestCreateBundle() {
	ctx := s.GetContext()

	b := s.createBundle("acc-1", "gold")
	s.True(strings.HasPrefix(b.ID, types.UUID_PREFIX_BUNDLE+"_"))
	s.Equal(s.GetClock().Now(), b.OriginalCreatedDate)
	s.Equal(types.DefaultUserID, b.CreatedBy)

	got, err := s.bundleService.GetBundle(ctx, b.ID)
	s.Require().NoError(err)
	s.Equal("gold", got.ExternalKey)

	_, err = s.bundleService.GetBundle(ctx, "")
	s.True(ierr.IsValidation(err))

	_, err = s.bundleService.CreateBundle(ctx, &bundle.Bundle{AccountID: "acc-1"}, false)
	s.True(ierr.IsValidation(err))
}

func (s *SubscriptionServiceSuite) TestCreateBundleReusesEmptyBundle() {
	ctx := s.GetContext()

	first := s.createBundle("acc-1", "gold")
	second, err := s.bundleService.CreateBundle(ctx, &bundle.Bundle{AccountID: "acc-1", ExternalKey: "gold"}, true)
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)

	bundles, err := s.bundleService.GetBundlesForAccount(ctx, "acc-1")
	s.Require().NoError(err)
	s.Len(bundles, 1)
}

func (s *SubscriptionServiceSuite) TestCreateBundleKeyInUse() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")
	s.createSubscription(b, types.ProductCategoryBase, "pistol-monthly", testutil.Date(2024, 1, 1))

	for _, rename := range []bool{false, true} {
		_, err := s.bundleService.CreateBundle(ctx, &bundle.Bundle{AccountID: "acc-1", ExternalKey: "gold"}, rename)
		s.Error(err)
		s.True(ierr.IsAlreadyExists(err))
	}

	// another account may use the same key
	other, err := s.bundleService.CreateBundle(ctx, &bundle.Bundle{AccountID: "acc-2", ExternalKey: "gold"}, false)
	s.Require().NoError(err)
	s.NotEqual(b.ID, other.ID)
}

func (s *SubscriptionServiceSuite) TestCreateBundleFutureCancelStillHoldsKey() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")
	sub := s.createSubscription(b, types.ProductCategoryBase, "pistol-monthly", testutil.Date(2024, 1, 1))
	s.cancel(sub, testutil.Date(2024, 3, 1))

	_, err := s.bundleService.CreateBundle(ctx, &bundle.Bundle{AccountID: "acc-1", ExternalKey: "gold"}, true)
	s.True(ierr.IsAlreadyExists(err))
}

func (s *SubscriptionServiceSuite) TestCreateBundleReusesEmptyBundleBehindRenamedKey() {
	ctx := s.GetContext()
	stores := s.GetStores()

	// a transferred bundle with a live subscription sorts first
	moved := s.createBundle("acc-1", "gold")
	sub := s.createSubscription(moved, types.ProductCategoryBase, "pistol-monthly", testutil.Date(2024, 1, 1))
	s.cancel(sub, testutil.Date(2024, 3, 1))
	s.Require().NoError(stores.BundleRepo.RenameExternalKey(ctx, []string{moved.ID}, types.ExternalKeyPrefixTransfered))

	s.GetClock().Set(testutil.Date(2024, 1, 20))
	empty := &bundle.Bundle{
		ID:                  types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BUNDLE),
		AccountID:           "acc-1",
		ExternalKey:         "gold",
		OriginalCreatedDate: s.GetClock().Now(),
		BaseModel:           baseModelAt(ctx, s.GetClock().Now()),
	}
	s.Require().NoError(stores.BundleRepo.Create(ctx, empty))

	got, err := s.bundleService.CreateBundle(ctx, &bundle.Bundle{AccountID: "acc-1", ExternalKey: "gold"}, false)
	s.Require().NoError(err)
	s.Equal(empty.ID, got.ID)
}

func (s *SubscriptionServiceSuite) TestCreateBundleWithSubscriptions() {
	ctx := s.GetContext()
	start := testutil.Date(2024, 1, 1)

	candidate := &bundle.Bundle{
		ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BUNDLE),
		AccountID:   "acc-1",
		ExternalKey: "gold",
	}
	base := s.newShell(candidate, types.ProductCategoryBase, start)

	b, err := s.bundleService.CreateBundleWithSubscriptions(ctx, candidate, false, []*SubscriptionWithEvents{
		{Subscription: base, Events: []*event.Event{s.createEvent(base, "pistol-monthly", start)}},
	})
	s.Require().NoError(err)
	s.Equal(candidate.ID, b.ID)

	states, err := s.service.GetSubscriptions(ctx, b.ID, nil)
	s.Require().NoError(err)
	s.Require().Len(states, 1)
	s.Equal(base.ID, states[0].Subscription.ID)
	s.Equal("gold", states[0].Subscription.ExternalKey)
}

func (s *SubscriptionServiceSuite) TestCreateBundleWithSubscriptionsAttachesToReusedBundle() {
	ctx := s.GetContext()
	start := testutil.Date(2024, 1, 1)
	empty := s.createBundle("acc-1", "gold")

	candidate := &bundle.Bundle{
		ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BUNDLE),
		AccountID:   "acc-1",
		ExternalKey: "gold",
	}
	base := s.newShell(candidate, types.ProductCategoryBase, start)

	b, err := s.bundleService.CreateBundleWithSubscriptions(ctx, candidate, false, []*SubscriptionWithEvents{
		{Subscription: base, Events: []*event.Event{s.createEvent(base, "pistol-monthly", start)}},
	})
	s.Require().NoError(err)
	s.Equal(empty.ID, b.ID)
	s.Equal(empty.ID, base.BundleID)

	shells, err := s.GetStores().SubscriptionRepo.ListByBundle(ctx, empty.ID)
	s.Require().NoError(err)
	s.Len(shells, 1)
}

func (s *SubscriptionServiceSuite) TestCreateBundleOverCancelledBundle() {
	ctx := s.GetContext()
	old := s.createBundle("acc-1", "gold")
	sub := s.createSubscription(old, types.ProductCategoryBase, "pistol-monthly", testutil.Date(2024, 1, 1))
	s.cancel(sub, testutil.Date(2024, 1, 1))

	s.GetClock().Set(testutil.Date(2024, 2, 1))

	s.Run("without_rename", func() {
		_, err := s.bundleService.CreateBundle(ctx, &bundle.Bundle{AccountID: "acc-1", ExternalKey: "gold"}, false)
		s.Error(err)
		s.True(ierr.IsAlreadyExists(err))
	})

	s.Run("with_rename", func() {
		created, err := s.bundleService.CreateBundle(ctx, &bundle.Bundle{AccountID: "acc-1", ExternalKey: "gold"}, true)
		s.Require().NoError(err)
		s.NotEqual(old.ID, created.ID)
		s.Equal(testutil.Date(2024, 1, 1), created.OriginalCreatedDate)
		s.Equal(testutil.Date(2024, 2, 1), created.CreatedAt)

		renamed, err := s.bundleService.GetBundle(ctx, old.ID)
		s.Require().NoError(err)
		s.Equal(bundle.RenamedExternalKey(types.ExternalKeyPrefixCancelled, old.ID, "gold"), renamed.ExternalKey)
		s.Equal("gold", bundle.OriginalExternalKey(renamed.ExternalKey))

		current, err := s.bundleService.GetBundleForAccountAndKey(ctx, "acc-1", "gold")
		s.Require().NoError(err)
		s.Equal(created.ID, current.ID)

		all, err := s.bundleService.GetBundlesForKey(ctx, "gold")
		s.Require().NoError(err)
		s.Len(all, 2)
	})
}

func (s *SubscriptionServiceSuite) TestGetNonAddOnSubscriptionIDsForKey() {
	ctx := s.GetContext()
	start := testutil.Date(2024, 1, 1)

	gold := s.createBundle("acc-1", "gold")
	base := s.createSubscription(gold, types.ProductCategoryBase, "pistol-monthly", start)
	s.createSubscription(gold, types.ProductCategoryAddOn, "telescope-monthly", start)

	otherGold := s.createBundle("acc-2", "gold")
	standalone := s.createSubscription(otherGold, types.ProductCategoryStandalone, "knife-annual", start)

	silver := s.createBundle("acc-1", "silver")
	s.createSubscription(silver, types.ProductCategoryBase, "rifle-monthly", start)

	ids, err := s.bundleService.GetNonAddOnSubscriptionIDsForKey(ctx, "gold")
	s.Require().NoError(err)
	s.ElementsMatch([]string{base.ID, standalone.ID}, ids)

	ids, err = s.bundleService.GetNonAddOnSubscriptionIDsForKey(ctx, "bronze")
	s.Require().NoError(err)
	s.Empty(ids)
}

func (s *SubscriptionServiceSuite) TestUpdateBundleExternalKey() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")

	err := s.bundleService.UpdateBundleExternalKey(ctx, b.ID, "")
	s.True(ierr.IsValidation(err))

	s.Require().NoError(s.bundleService.UpdateBundleExternalKey(ctx, b.ID, "platinum"))

	got, err := s.bundleService.GetBundleForAccountAndKey(ctx, "acc-1", "platinum")
	s.Require().NoError(err)
	s.Equal(b.ID, got.ID)

	_, err = s.bundleService.GetBundleForAccountAndKey(ctx, "acc-1", "gold")
	s.True(ierr.IsNotFound(err))

	err = s.bundleService.UpdateBundleExternalKey(ctx, "bndl_missing", "platinum")
	s.True(ierr.IsNotFound(err))
}
