package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/flexprice/subledger/internal/domain/bundle"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/logger"
	"github.com/flexprice/subledger/internal/postgres"
	"github.com/flexprice/subledger/internal/types"
	"github.com/lib/pq"
)

type bundleRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewBundleRepository(client postgres.IClient, logger *logger.Logger) bundle.Repository {
	return &bundleRepository{client: client, logger: logger}
}

const bundleColumns = `id, account_id, external_key, original_created_date, created_at, updated_at, created_by, updated_by`

func (r *bundleRepository) Create(ctx context.Context, b *bundle.Bundle) error {
	query := `
		INSERT INTO bundles (
			id,
			account_id,
			external_key,
			original_created_date,
			created_at,
			updated_at,
			created_by,
			updated_by
		) VALUES (
			:id,
			:account_id,
			:external_key,
			:original_created_date,
			:created_at,
			:updated_at,
			:created_by,
			:updated_by
		)
	`

	if _, err := r.client.Querier(ctx).NamedExecContext(ctx, query, b); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ierr.WithError(err).
				WithHintf("A bundle with external key %s already exists", b.ExternalKey).
				WithReportableDetails(map[string]any{
					"account_id":   b.AccountID,
					"external_key": b.ExternalKey,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
		return ierr.WithError(err).
			WithHint("Failed to create bundle").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *bundleRepository) Get(ctx context.Context, id string) (*bundle.Bundle, error) {
	var b bundle.Bundle
	err := r.client.Querier(ctx).GetContext(ctx, &b,
		`SELECT `+bundleColumns+` FROM bundles WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHintf("Bundle %s not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get bundle").
			Mark(ierr.ErrDatabase)
	}
	return &b, nil
}

func (r *bundleRepository) GetByAccountAndKey(ctx context.Context, accountID, externalKey string) (*bundle.Bundle, error) {
	var b bundle.Bundle
	err := r.client.Querier(ctx).GetContext(ctx, &b,
		`SELECT `+bundleColumns+` FROM bundles WHERE account_id = $1 AND external_key = $2`,
		accountID, externalKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ierr.WithError(err).
				WithHintf("Bundle with external key %s not found", externalKey).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get bundle").
			Mark(ierr.ErrDatabase)
	}
	return &b, nil
}

func (r *bundleRepository) ListByAccount(ctx context.Context, accountID string) ([]*bundle.Bundle, error) {
	return r.list(ctx,
		`SELECT `+bundleColumns+` FROM bundles WHERE account_id = $1 ORDER BY created_at, id`,
		accountID)
}

func (r *bundleRepository) ListByKey(ctx context.Context, externalKey string) ([]*bundle.Bundle, error) {
	return r.list(ctx,
		`SELECT `+bundleColumns+` FROM bundles WHERE external_key = $1 ORDER BY created_at, id`,
		externalKey)
}

// renamed keys look like <prefix>-<short id>:<key>
func (r *bundleRepository) ListByAccountLikeKey(ctx context.Context, accountID, externalKey string) ([]*bundle.Bundle, error) {
	return r.list(ctx, `
		SELECT `+bundleColumns+` FROM bundles
		WHERE account_id = $1 AND (external_key = $2 OR external_key LIKE $3)
		ORDER BY created_at, id`,
		accountID, externalKey, likeRenamed(externalKey))
}

func (r *bundleRepository) ListByLikeKey(ctx context.Context, externalKey string) ([]*bundle.Bundle, error) {
	return r.list(ctx, `
		SELECT `+bundleColumns+` FROM bundles
		WHERE external_key = $1 OR external_key LIKE $2
		ORDER BY created_at, id`,
		externalKey, likeRenamed(externalKey))
}

func (r *bundleRepository) list(ctx context.Context, query string, args ...interface{}) ([]*bundle.Bundle, error) {
	var bundles []*bundle.Bundle
	if err := r.client.Querier(ctx).SelectContext(ctx, &bundles, query, args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list bundles").
			Mark(ierr.ErrDatabase)
	}
	return bundles, nil
}

func (r *bundleRepository) RenameExternalKey(ctx context.Context, ids []string, prefix string) error {
	if len(ids) == 0 {
		return nil
	}

	// the short id is the last 8 characters of the ulid, matching bundle.RenamedExternalKey
	query := `
		UPDATE bundles
		SET external_key = $1 || '-' || RIGHT(id, 8) || ':' || external_key,
			updated_at = $2,
			updated_by = $3
		WHERE id = ANY($4)
	`
	_, err := r.client.Querier(ctx).ExecContext(ctx, query,
		prefix, time.Now().UTC(), types.GetUserID(ctx), pq.Array(ids))
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to rename bundle external key").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *bundleRepository) UpdateExternalKey(ctx context.Context, id, externalKey string) error {
	result, err := r.client.Querier(ctx).ExecContext(ctx,
		`UPDATE bundles SET external_key = $1, updated_at = $2, updated_by = $3 WHERE id = $4`,
		externalKey, time.Now().UTC(), types.GetUserID(ctx), id)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update bundle external key").
			Mark(ierr.ErrDatabase)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ierr.NewErrorf("bundle %s not found", id).
			WithHintf("Bundle %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	return nil
}

func likeRenamed(externalKey string) string {
	return "%-%:" + escapeLike(externalKey)
}

func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, c := range s {
		if c == '%' || c == '_' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}
