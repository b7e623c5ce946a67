package service

import (
	"context"

	"github.com/flexprice/subledger/internal/domain/bundle"
	"github.com/flexprice/subledger/internal/domain/subscription"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/types"
	"github.com/samber/lo"
)

type BundleService interface {
	// CreateBundle creates a bundle for the account, or reuses an empty bundle
	// already holding the key. A key held by a live subscription is rejected.
	// With renameCancelledBundleIfExist, a fully cancelled bundle holding the
	// key is renamed to release it.
	CreateBundle(ctx context.Context, b *bundle.Bundle, renameCancelledBundleIfExist bool) (*bundle.Bundle, error)
	// CreateBundleWithSubscriptions creates the bundle and its initial
	// subscriptions in one transaction. The subscriptions are attached to
	// whichever bundle CreateBundle returns.
	CreateBundleWithSubscriptions(ctx context.Context, b *bundle.Bundle, renameCancelledBundleIfExist bool, subs []*SubscriptionWithEvents) (*bundle.Bundle, error)
	GetBundle(ctx context.Context, id string) (*bundle.Bundle, error)
	GetBundlesForAccount(ctx context.Context, accountID string) ([]*bundle.Bundle, error)
	GetBundleForAccountAndKey(ctx context.Context, accountID, externalKey string) (*bundle.Bundle, error)
	// GetBundlesForKey returns the bundles of every account holding externalKey, renamed forms included
	GetBundlesForKey(ctx context.Context, externalKey string) ([]*bundle.Bundle, error)
	GetNonAddOnSubscriptionIDsForKey(ctx context.Context, externalKey string) ([]string, error)
	UpdateBundleExternalKey(ctx context.Context, id, externalKey string) error
}

type bundleService struct {
	ServiceParams
}

func NewBundleService(params ServiceParams) BundleService {
	return &bundleService{
		ServiceParams: params,
	}
}

func (s *bundleService) CreateBundle(ctx context.Context, b *bundle.Bundle, renameCancelledBundleIfExist bool) (*bundle.Bundle, error) {
	if b == nil {
		return nil, ierr.NewError("bundle is required").
			WithHint("Please provide a bundle").
			Mark(ierr.ErrValidation)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	subs := &subscriptionService{ServiceParams: s.ServiceParams}

	var result *bundle.Bundle
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.BundleRepo.ListByAccountLikeKey(ctx, b.AccountID, b.ExternalKey)
		if err != nil {
			return err
		}

		// an empty bundle holding the key is reused before any conflict is considered
		shellsByBundle := make(map[string][]*subscription.Subscription, len(existing))
		for _, cur := range existing {
			shells, err := subs.listBundleShells(ctx, cur.ID)
			if err != nil {
				return err
			}
			if cur.ExternalKey == b.ExternalKey && len(shells) == 0 {
				s.Logger.Infow("reusing empty bundle",
					"bundle_id", cur.ID,
					"account_id", cur.AccountID,
					"external_key", cur.ExternalKey,
				)
				result = cur
				return nil
			}
			shellsByBundle[cur.ID] = shells
		}

		var exactKeyIDs []string
		for _, cur := range existing {
			if cur.ExternalKey == b.ExternalKey {
				exactKeyIDs = append(exactKeyIDs, cur.ID)
			}

			for _, shell := range shellsByBundle[cur.ID] {
				if shell.Category == types.ProductCategoryAddOn {
					continue
				}
				state, err := subs.buildSubscription(ctx, shell)
				if err != nil {
					return err
				}
				if state == nil || state.CurrentState() != types.EntitlementStateCancelled {
					return ierr.NewErrorf("external key %s is already used by an active subscription", b.ExternalKey).
						WithHint("A bundle with this external key already exists").
						WithReportableDetails(map[string]any{
							"account_id":      b.AccountID,
							"external_key":    b.ExternalKey,
							"bundle_id":       cur.ID,
							"subscription_id": shell.ID,
						}).
						Mark(ierr.ErrAlreadyExists)
				}
			}
		}

		if renameCancelledBundleIfExist && len(exactKeyIDs) > 0 {
			if err := s.BundleRepo.RenameExternalKey(ctx, exactKeyIDs, types.ExternalKeyPrefixCancelled); err != nil {
				return err
			}
		}

		if len(existing) > 0 {
			b.OriginalCreatedDate = existing[0].CreatedAt
		} else {
			b.OriginalCreatedDate = now
		}
		if b.ID == "" {
			b.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BUNDLE)
		}
		b.BaseModel = baseModelAt(ctx, now)

		if err := s.BundleRepo.Create(ctx, b); err != nil {
			return err
		}
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *bundleService) CreateBundleWithSubscriptions(ctx context.Context, b *bundle.Bundle, renameCancelledBundleIfExist bool, subs []*SubscriptionWithEvents) (*bundle.Bundle, error) {
	svc := &subscriptionService{ServiceParams: s.ServiceParams}

	var result *bundle.Bundle
	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		created, err := s.CreateBundle(ctx, b, renameCancelledBundleIfExist)
		if err != nil {
			return err
		}

		for _, cur := range subs {
			if cur == nil || cur.Subscription == nil {
				continue
			}
			cur.Subscription.BundleID = created.ID
			cur.Subscription.AccountID = created.AccountID
		}
		if _, err := svc.CreateSubscriptionsWithAddOns(ctx, created, subs); err != nil {
			s.Logger.Errorw("failed to create subscriptions", "bundle_id", created.ID, "error", err)
			return err
		}
		result = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *bundleService) GetBundle(ctx context.Context, id string) (*bundle.Bundle, error) {
	if id == "" {
		return nil, ierr.NewError("bundle ID is required").
			WithHint("Please provide a valid bundle ID").
			Mark(ierr.ErrValidation)
	}
	return s.BundleRepo.Get(ctx, id)
}

func (s *bundleService) GetBundlesForAccount(ctx context.Context, accountID string) ([]*bundle.Bundle, error) {
	return s.BundleRepo.ListByAccount(ctx, accountID)
}

func (s *bundleService) GetBundleForAccountAndKey(ctx context.Context, accountID, externalKey string) (*bundle.Bundle, error) {
	return s.BundleRepo.GetByAccountAndKey(ctx, accountID, externalKey)
}

func (s *bundleService) GetBundlesForKey(ctx context.Context, externalKey string) ([]*bundle.Bundle, error) {
	return s.BundleRepo.ListByLikeKey(ctx, externalKey)
}

func (s *bundleService) GetNonAddOnSubscriptionIDsForKey(ctx context.Context, externalKey string) ([]string, error) {
	bundles, err := s.BundleRepo.ListByKey(ctx, externalKey)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, b := range bundles {
		subs, err := s.SubRepo.ListByBundle(ctx, b.ID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, lo.FilterMap(subs, func(sub *subscription.Subscription, _ int) (string, bool) {
			return sub.ID, sub.Category != types.ProductCategoryAddOn
		})...)
	}
	return ids, nil
}

func (s *bundleService) UpdateBundleExternalKey(ctx context.Context, id, externalKey string) error {
	if externalKey == "" {
		return ierr.NewError("external_key is required").
			WithHint("Please provide the new external key").
			Mark(ierr.ErrValidation)
	}
	return s.BundleRepo.UpdateExternalKey(ctx, id, externalKey)
}
