package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/flexprice/subledger/internal/domain/event"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/logger"
	"github.com/flexprice/subledger/internal/postgres"
	"github.com/flexprice/subledger/internal/types"
	"github.com/lib/pq"
	"github.com/samber/lo"
)

type eventRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewEventRepository(client postgres.IClient, logger *logger.Logger) event.Repository {
	return &eventRepository{client: client, logger: logger}
}

// eventRow is the flattened persisted shape of an event.Event
type eventRow struct {
	ID                   string         `db:"id"`
	TotalOrdering        int64          `db:"total_ordering"`
	SubscriptionID       string         `db:"subscription_id"`
	EventType            string         `db:"event_type"`
	UserType             sql.NullString `db:"user_type"`
	PlanName             sql.NullString `db:"plan_name"`
	PriceListName        sql.NullString `db:"price_list_name"`
	PhaseName            sql.NullString `db:"phase_name"`
	BillingCycleDayLocal sql.NullInt64  `db:"billing_cycle_day_local"`
	Quantity             sql.NullInt64  `db:"quantity"`
	EffectiveDate        time.Time      `db:"effective_date"`
	CreatedDate          time.Time      `db:"created_date"`
	IsActive             bool           `db:"is_active"`
}

const eventColumns = `id, total_ordering, subscription_id, event_type, user_type, plan_name, price_list_name,
	phase_name, billing_cycle_day_local, quantity, effective_date, created_date, is_active`

const eventOrder = ` ORDER BY effective_date, total_ordering`

func toRow(e *event.Event) eventRow {
	row := eventRow{
		ID:             e.ID,
		SubscriptionID: e.SubscriptionID,
		EventType:      string(e.Type),
		EffectiveDate:  e.EffectiveDate.UTC(),
		CreatedDate:    e.CreatedDate.UTC(),
		IsActive:       e.IsActive,
	}
	if e.User != nil {
		row.UserType = nullString(string(e.User.APIType))
		row.PlanName = nullString(e.User.PlanName)
		row.PriceListName = nullString(e.User.PriceListName)
		row.PhaseName = nullString(e.User.PhaseName)
	}
	if e.Phase != nil {
		row.PhaseName = nullString(e.Phase.PhaseName)
	}
	if e.BCD != nil {
		row.BillingCycleDayLocal = sql.NullInt64{Int64: int64(e.BCD.BillCycleDayLocal), Valid: true}
	}
	if e.Quantity != nil {
		row.Quantity = sql.NullInt64{Int64: int64(e.Quantity.Quantity), Valid: true}
	}
	return row
}

func (row eventRow) toDomain() *event.Event {
	e := &event.Event{
		ID:             row.ID,
		SubscriptionID: row.SubscriptionID,
		Type:           types.SubscriptionEventType(row.EventType),
		EffectiveDate:  row.EffectiveDate.UTC(),
		CreatedDate:    row.CreatedDate.UTC(),
		TotalOrdering:  row.TotalOrdering,
		IsActive:       row.IsActive,
		FromDisk:       true,
	}
	switch e.Type {
	case types.SubscriptionEventTypeAPIUser:
		e.User = &event.UserPayload{
			APIType:       types.APIEventType(row.UserType.String),
			PlanName:      row.PlanName.String,
			PriceListName: row.PriceListName.String,
			PhaseName:     row.PhaseName.String,
		}
	case types.SubscriptionEventTypePhase:
		e.Phase = &event.PhasePayload{PhaseName: row.PhaseName.String}
	case types.SubscriptionEventTypeBCDUpdate:
		e.BCD = &event.BCDPayload{BillCycleDayLocal: int(row.BillingCycleDayLocal.Int64)}
	case types.SubscriptionEventTypeQuantityUpdate:
		e.Quantity = &event.QuantityPayload{Quantity: int(row.Quantity.Int64)}
	}
	return e
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *eventRepository) Create(ctx context.Context, e *event.Event) (*event.Event, error) {
	row := toRow(e)
	userID := types.GetUserID(ctx)

	// total_ordering comes from the BIGSERIAL so it follows insertion order
	query := `
		INSERT INTO subscription_events (
			id,
			subscription_id,
			event_type,
			user_type,
			plan_name,
			price_list_name,
			phase_name,
			billing_cycle_day_local,
			quantity,
			effective_date,
			created_date,
			is_active,
			created_by,
			updated_at,
			updated_by
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
		RETURNING total_ordering
	`

	err := r.client.Querier(ctx).QueryRowxContext(ctx, query,
		row.ID,
		row.SubscriptionID,
		row.EventType,
		row.UserType,
		row.PlanName,
		row.PriceListName,
		row.PhaseName,
		row.BillingCycleDayLocal,
		row.Quantity,
		row.EffectiveDate,
		row.CreatedDate,
		true,
		userID,
		time.Now().UTC(),
		userID,
	).Scan(&row.TotalOrdering)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to create subscription event").
			WithReportableDetails(map[string]any{
				"subscription_id": e.SubscriptionID,
				"event_type":      e.Type,
			}).
			Mark(ierr.ErrDatabase)
	}

	row.IsActive = true
	return row.toDomain(), nil
}

func (r *eventRepository) Get(ctx context.Context, id string) (*event.Event, error) {
	var row eventRow
	err := r.client.Querier(ctx).GetContext(ctx, &row,
		`SELECT `+eventColumns+` FROM subscription_events WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHintf("Subscription event %s not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get subscription event").
			Mark(ierr.ErrDatabase)
	}
	return row.toDomain(), nil
}

func (r *eventRepository) ListActive(ctx context.Context, subscriptionID string) ([]*event.Event, error) {
	return r.list(ctx,
		`SELECT `+eventColumns+` FROM subscription_events
		WHERE subscription_id = $1 AND is_active`+eventOrder,
		subscriptionID)
}

func (r *eventRepository) ListAll(ctx context.Context, subscriptionID string) ([]*event.Event, error) {
	return r.list(ctx,
		`SELECT `+eventColumns+` FROM subscription_events
		WHERE subscription_id = $1`+eventOrder,
		subscriptionID)
}

func (r *eventRepository) ListFutureActive(ctx context.Context, subscriptionID string, now time.Time) ([]*event.Event, error) {
	return r.list(ctx,
		`SELECT `+eventColumns+` FROM subscription_events
		WHERE subscription_id = $1 AND is_active AND effective_date > $2`+eventOrder,
		subscriptionID, now.UTC())
}

func (r *eventRepository) ListFutureOrPresentActive(ctx context.Context, subscriptionID string, asOf time.Time) ([]*event.Event, error) {
	return r.list(ctx,
		`SELECT `+eventColumns+` FROM subscription_events
		WHERE subscription_id = $1 AND is_active AND effective_date >= $2
		AND NOT (event_type = $3 AND user_type = ANY($4))`+eventOrder,
		subscriptionID, asOf.UTC(),
		string(types.SubscriptionEventTypeAPIUser),
		pq.Array([]string{string(types.APIEventTypeCreate), string(types.APIEventTypeTransfer)}))
}

func (r *eventRepository) ListActiveBySubscriptionIDs(ctx context.Context, subscriptionIDs []string) ([]*event.Event, error) {
	if len(subscriptionIDs) == 0 {
		return nil, nil
	}
	return r.list(ctx,
		`SELECT `+eventColumns+` FROM subscription_events
		WHERE subscription_id = ANY($1) AND is_active`+eventOrder,
		pq.Array(subscriptionIDs))
}

func (r *eventRepository) list(ctx context.Context, query string, args ...interface{}) ([]*event.Event, error) {
	var rows []eventRow
	if err := r.client.Querier(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscription events").
			Mark(ierr.ErrDatabase)
	}
	return lo.Map(rows, func(row eventRow, _ int) *event.Event {
		return row.toDomain()
	}), nil
}

func (r *eventRepository) Deactivate(ctx context.Context, id string) error {
	_, err := r.client.Querier(ctx).ExecContext(ctx,
		`UPDATE subscription_events SET is_active = FALSE, updated_at = $1, updated_by = $2 WHERE id = $3`,
		time.Now().UTC(), types.GetUserID(ctx), id)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to deactivate subscription event").
			Mark(ierr.ErrDatabase)
	}
	return nil
}
