package subscription

import (
	"time"

	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/types"
)

// Subscription is the persisted shell of one plan lifeline. Plan, phase and
// state are never stored; they come from replaying the events (see Rebuild).
type Subscription struct {
	// ID is the unique identifier for the subscription
	ID string `db:"id" json:"id"`

	// BundleID is the bundle owning the subscription
	BundleID string `db:"bundle_id" json:"bundle_id"`

	// AccountID is copied from the bundle so account wide reads need no join
	AccountID string `db:"account_id" json:"account_id"`

	// Category is BASE, ADD_ON or STANDALONE
	Category types.ProductCategory `db:"category" json:"category"`

	// ExternalKey is inherited from the bundle and not stored on the row
	ExternalKey string `db:"-" json:"external_key"`

	// AlignStartDate is the date plan lookups are aligned on
	AlignStartDate time.Time `db:"align_start_date" json:"align_start_date"`

	// BundleStartDate is the start date of the bundle's base subscription
	BundleStartDate time.Time `db:"bundle_start_date" json:"bundle_start_date"`

	// ChargedThroughDate is the date billing has invoiced the subscription up to
	ChargedThroughDate *time.Time `db:"charged_through_date" json:"charged_through_date,omitempty"`

	// IncludeDeletedEvents makes reads load deactivated events as well
	IncludeDeletedEvents bool `db:"-" json:"-"`

	types.BaseModel
}

func (s *Subscription) Validate() error {
	if s.BundleID == "" {
		return ierr.NewError("bundle_id is required").
			WithHint("Subscription must belong to a bundle").
			Mark(ierr.ErrValidation)
	}
	if s.AccountID == "" {
		return ierr.NewError("account_id is required").
			WithHint("Subscription must belong to an account").
			Mark(ierr.ErrValidation)
	}
	if err := s.Category.Validate(); err != nil {
		return err
	}
	if s.AlignStartDate.IsZero() {
		return ierr.NewError("align_start_date is required").
			WithHint("Subscription must have an alignment date").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// categoryRank puts BASE first so add-ons are always resolved after their base
func (s *Subscription) categoryRank() int {
	switch s.Category {
	case types.ProductCategoryBase:
		return 0
	case types.ProductCategoryAddOn:
		return 1
	default:
		return 2
	}
}

// Less orders subscriptions BASE first, then by alignment date
func Less(a, b *Subscription) bool {
	if a.categoryRank() != b.categoryRank() {
		return a.categoryRank() < b.categoryRank()
	}
	return a.AlignStartDate.Before(b.AlignStartDate)
}
