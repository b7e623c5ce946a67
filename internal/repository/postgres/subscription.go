package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/flexprice/subledger/internal/domain/subscription"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/logger"
	"github.com/flexprice/subledger/internal/postgres"
	"github.com/flexprice/subledger/internal/types"
	"github.com/lib/pq"
)

type subscriptionRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewSubscriptionRepository(client postgres.IClient, logger *logger.Logger) subscription.Repository {
	return &subscriptionRepository{client: client, logger: logger}
}

const subscriptionColumns = `id, bundle_id, account_id, category, align_start_date, bundle_start_date,
	charged_through_date, created_at, updated_at, created_by, updated_by`

func (r *subscriptionRepository) Create(ctx context.Context, s *subscription.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id,
			bundle_id,
			account_id,
			category,
			align_start_date,
			bundle_start_date,
			charged_through_date,
			created_at,
			updated_at,
			created_by,
			updated_by
		) VALUES (
			:id,
			:bundle_id,
			:account_id,
			:category,
			:align_start_date,
			:bundle_start_date,
			:charged_through_date,
			:created_at,
			:updated_at,
			:created_by,
			:updated_by
		)
	`

	if _, err := r.client.Querier(ctx).NamedExecContext(ctx, query, s); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to create subscription").
			WithReportableDetails(map[string]any{
				"subscription_id": s.ID,
				"bundle_id":       s.BundleID,
			}).
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *subscriptionRepository) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	var s subscription.Subscription
	err := r.client.Querier(ctx).GetContext(ctx, &s,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHintf("Subscription %s not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get subscription").
			Mark(ierr.ErrDatabase)
	}
	return &s, nil
}

func (r *subscriptionRepository) ListByBundle(ctx context.Context, bundleID string) ([]*subscription.Subscription, error) {
	return r.list(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE bundle_id = $1 ORDER BY created_at, id`,
		bundleID)
}

func (r *subscriptionRepository) ListByAccount(ctx context.Context, accountID string) ([]*subscription.Subscription, error) {
	return r.list(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE account_id = $1 ORDER BY created_at, id`,
		accountID)
}

func (r *subscriptionRepository) list(ctx context.Context, query string, args ...interface{}) ([]*subscription.Subscription, error) {
	var subs []*subscription.Subscription
	if err := r.client.Querier(ctx).SelectContext(ctx, &subs, query, args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscriptions").
			Mark(ierr.ErrDatabase)
	}
	return subs, nil
}

func (r *subscriptionRepository) UpdateChargedThroughDate(ctx context.Context, ids []string, chargedThroughDate time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `
		UPDATE subscriptions
		SET charged_through_date = $1,
			updated_at = $2,
			updated_by = $3
		WHERE id = ANY($4)
	`
	_, err := r.client.Querier(ctx).ExecContext(ctx, query,
		chargedThroughDate.UTC(), time.Now().UTC(), types.GetUserID(ctx), pq.Array(ids))
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update charged through date").
			Mark(ierr.ErrDatabase)
	}
	return nil
}
