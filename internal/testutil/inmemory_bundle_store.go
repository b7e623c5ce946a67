package testutil

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/flexprice/subledger/internal/domain/bundle"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/samber/lo"
)

type bundleRecord struct {
	bundle *bundle.Bundle
	seq    int64
}

// InMemoryBundleStore implements bundle.Repository
type InMemoryBundleStore struct {
	*InMemoryStore[*bundleRecord]
	seq atomic.Int64
}

var _ bundle.Repository = (*InMemoryBundleStore)(nil)

func NewInMemoryBundleStore() *InMemoryBundleStore {
	return &InMemoryBundleStore{
		InMemoryStore: NewInMemoryStore[*bundleRecord](),
	}
}

func copyBundle(b *bundle.Bundle) *bundle.Bundle {
	c := *b
	return &c
}

func (s *InMemoryBundleStore) Create(ctx context.Context, b *bundle.Bundle) error {
	taken := s.InMemoryStore.List(ctx, func(r *bundleRecord) bool {
		return r.bundle.AccountID == b.AccountID && r.bundle.ExternalKey == b.ExternalKey
	}, nil)
	if len(taken) > 0 {
		return ierr.NewErrorf("bundle with external key %s already exists", b.ExternalKey).
			WithHint("A bundle with this external key already exists").
			Mark(ierr.ErrAlreadyExists)
	}
	return s.InMemoryStore.Create(ctx, b.ID, &bundleRecord{bundle: copyBundle(b), seq: s.seq.Add(1)})
}

func (s *InMemoryBundleStore) Get(ctx context.Context, id string) (*bundle.Bundle, error) {
	r, err := s.InMemoryStore.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return copyBundle(r.bundle), nil
}

func (s *InMemoryBundleStore) GetByAccountAndKey(ctx context.Context, accountID, externalKey string) (*bundle.Bundle, error) {
	found := s.list(ctx, func(b *bundle.Bundle) bool {
		return b.AccountID == accountID && b.ExternalKey == externalKey
	})
	if len(found) == 0 {
		return nil, ierr.NewErrorf("bundle %s not found for account %s", externalKey, accountID).
			WithHint("Bundle not found").
			Mark(ierr.ErrNotFound)
	}
	return found[0], nil
}

func (s *InMemoryBundleStore) ListByAccount(ctx context.Context, accountID string) ([]*bundle.Bundle, error) {
	return s.list(ctx, func(b *bundle.Bundle) bool {
		return b.AccountID == accountID
	}), nil
}

func (s *InMemoryBundleStore) ListByKey(ctx context.Context, externalKey string) ([]*bundle.Bundle, error) {
	return s.list(ctx, func(b *bundle.Bundle) bool {
		return b.ExternalKey == externalKey
	}), nil
}

func (s *InMemoryBundleStore) ListByAccountLikeKey(ctx context.Context, accountID, externalKey string) ([]*bundle.Bundle, error) {
	return s.list(ctx, func(b *bundle.Bundle) bool {
		return b.AccountID == accountID && matchesLikeKey(b.ExternalKey, externalKey)
	}), nil
}

func (s *InMemoryBundleStore) ListByLikeKey(ctx context.Context, externalKey string) ([]*bundle.Bundle, error) {
	return s.list(ctx, func(b *bundle.Bundle) bool {
		return matchesLikeKey(b.ExternalKey, externalKey)
	}), nil
}

func (s *InMemoryBundleStore) RenameExternalKey(ctx context.Context, ids []string, prefix string) error {
	for _, id := range ids {
		err := s.InMemoryStore.Update(ctx, id, func(r *bundleRecord) *bundleRecord {
			b := copyBundle(r.bundle)
			b.ExternalKey = bundle.RenamedExternalKey(prefix, b.ID, b.ExternalKey)
			b.UpdatedAt = time.Now().UTC()
			return &bundleRecord{bundle: b, seq: r.seq}
		})
		if err != nil && !ierr.IsNotFound(err) {
			return err
		}
	}
	return nil
}

func (s *InMemoryBundleStore) UpdateExternalKey(ctx context.Context, id, externalKey string) error {
	return s.InMemoryStore.Update(ctx, id, func(r *bundleRecord) *bundleRecord {
		b := copyBundle(r.bundle)
		b.ExternalKey = externalKey
		return &bundleRecord{bundle: b, seq: r.seq}
	})
}

// list returns copies ordered by creation date, then insertion
func (s *InMemoryBundleStore) list(ctx context.Context, filter func(*bundle.Bundle) bool) []*bundle.Bundle {
	records := s.InMemoryStore.List(ctx, func(r *bundleRecord) bool {
		return filter(r.bundle)
	}, func(a, b *bundleRecord) bool {
		if !a.bundle.CreatedAt.Equal(b.bundle.CreatedAt) {
			return a.bundle.CreatedAt.Before(b.bundle.CreatedAt)
		}
		return a.seq < b.seq
	})
	return lo.Map(records, func(r *bundleRecord, _ int) *bundle.Bundle {
		return copyBundle(r.bundle)
	})
}

// matchesLikeKey accepts key itself and its renamed forms <prefix>-<short id>:<key>
func matchesLikeKey(stored, key string) bool {
	if stored == key {
		return true
	}
	i := strings.Index(stored, ":")
	return i > 0 && strings.Contains(stored[:i], "-") && stored[i+1:] == key
}
