package postgres

import (
	"context"
	"time"

	"github.com/flexprice/subledger/internal/domain/notification"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/logger"
	"github.com/flexprice/subledger/internal/postgres"
	"github.com/flexprice/subledger/internal/types"
)

type notificationRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewNotificationRepository(client postgres.IClient, logger *logger.Logger) notification.Repository {
	return &notificationRepository{client: client, logger: logger}
}

func (r *notificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	query := `
		INSERT INTO subscription_notifications (
			id,
			event_id,
			subscription_id,
			account_id,
			user_token,
			effective_date,
			processing_state,
			created_at
		) VALUES (
			:id,
			:event_id,
			:subscription_id,
			:account_id,
			:user_token,
			:effective_date,
			:processing_state,
			:created_at
		)
	`
	if _, err := r.client.Querier(ctx).NamedExecContext(ctx, query, n); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to record subscription notification").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *notificationRepository) ListBySubscription(ctx context.Context, subscriptionID string) ([]*notification.Notification, error) {
	var out []*notification.Notification
	err := r.client.Querier(ctx).SelectContext(ctx, &out, `
		SELECT id, event_id, subscription_id, account_id, user_token, effective_date, processing_state, created_at
		FROM subscription_notifications
		WHERE subscription_id = $1
		ORDER BY effective_date, created_at`, subscriptionID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscription notifications").
			Mark(ierr.ErrDatabase)
	}
	return out, nil
}

type busEventRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewBusEventRepository(client postgres.IClient, logger *logger.Logger) notification.BusEventRepository {
	return &busEventRepository{client: client, logger: logger}
}

func (r *busEventRepository) Create(ctx context.Context, e *notification.BusEvent) error {
	// payload goes in as text; lib/pq would send a []byte as bytea
	query := `
		INSERT INTO bus_events (
			id,
			event_name,
			payload,
			search_key,
			user_token,
			processing_state,
			error_count,
			created_at
		) VALUES (
			$1, $2, $3::jsonb, $4, $5, $6, $7, $8
		)
	`
	_, err := r.client.Querier(ctx).ExecContext(ctx, query,
		e.ID,
		e.EventName,
		string(e.Payload),
		e.SearchKey,
		e.UserToken,
		e.ProcessingState,
		e.ErrorCount,
		e.CreatedAt,
	)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to record bus event").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *busEventRepository) ListAvailable(ctx context.Context, limit int) ([]*notification.BusEvent, error) {
	var out []*notification.BusEvent
	err := r.client.Querier(ctx).SelectContext(ctx, &out, `
		SELECT id, event_name, payload, search_key, user_token, processing_state, error_count,
			last_error, created_at, processed_at
		FROM bus_events
		WHERE processing_state = $1
		ORDER BY created_at, id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, types.ProcessingStateAvailable, limit)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list bus events").
			Mark(ierr.ErrDatabase)
	}
	return out, nil
}

func (r *busEventRepository) MarkProcessed(ctx context.Context, id string, processedAt time.Time) error {
	_, err := r.client.Querier(ctx).ExecContext(ctx,
		`UPDATE bus_events SET processing_state = $1, processed_at = $2 WHERE id = $3`,
		types.ProcessingStateProcessed, processedAt.UTC(), id)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to mark bus event processed").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *busEventRepository) MarkFailed(ctx context.Context, id string, lastError string, terminal bool) error {
	state := types.ProcessingStateAvailable
	if terminal {
		state = types.ProcessingStateFailed
	}
	_, err := r.client.Querier(ctx).ExecContext(ctx,
		`UPDATE bus_events SET processing_state = $1, error_count = error_count + 1, last_error = $2 WHERE id = $3`,
		state, lastError, id)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to mark bus event failed").
			Mark(ierr.ErrDatabase)
	}
	return nil
}
