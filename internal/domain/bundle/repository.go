package bundle

import (
	"context"
)

type Repository interface {
	Create(ctx context.Context, b *Bundle) error
	Get(ctx context.Context, id string) (*Bundle, error)
	// GetByAccountAndKey returns the bundle holding exactly externalKey for the account
	GetByAccountAndKey(ctx context.Context, accountID, externalKey string) (*Bundle, error)
	ListByAccount(ctx context.Context, accountID string) ([]*Bundle, error)
	// ListByKey returns bundles of any account holding exactly externalKey
	ListByKey(ctx context.Context, externalKey string) ([]*Bundle, error)
	// ListByAccountLikeKey returns the account's bundles whose key is externalKey or
	// a renamed form of it, oldest first
	ListByAccountLikeKey(ctx context.Context, accountID, externalKey string) ([]*Bundle, error)
	// ListByLikeKey is ListByAccountLikeKey across accounts
	ListByLikeKey(ctx context.Context, externalKey string) ([]*Bundle, error)

	// RenameExternalKey prefixes the key of each bundle in ids
	RenameExternalKey(ctx context.Context, ids []string, prefix string) error
	UpdateExternalKey(ctx context.Context, id, externalKey string) error
}
