package types

import (
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/samber/lo"
)

// ProductCategory is the role a subscription plays inside its bundle
type ProductCategory string

const (
	ProductCategoryBase       ProductCategory = "BASE"
	ProductCategoryAddOn      ProductCategory = "ADD_ON"
	ProductCategoryStandalone ProductCategory = "STANDALONE"
)

func (c ProductCategory) String() string {
	return string(c)
}

func (c ProductCategory) Validate() error {
	allowed := []ProductCategory{
		ProductCategoryBase,
		ProductCategoryAddOn,
		ProductCategoryStandalone,
	}
	if !lo.Contains(allowed, c) {
		return ierr.NewError("invalid product category").
			WithHint("Invalid product category").
			WithReportableDetails(map[string]any{
				"category":         c,
				"allowed_category": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// SubscriptionEventType is the top level tag of a subscription event
type SubscriptionEventType string

const (
	SubscriptionEventTypeAPIUser        SubscriptionEventType = "API_USER"
	SubscriptionEventTypePhase          SubscriptionEventType = "PHASE"
	SubscriptionEventTypeExpired        SubscriptionEventType = "EXPIRED"
	SubscriptionEventTypeBCDUpdate      SubscriptionEventType = "BCD_UPDATE"
	SubscriptionEventTypeQuantityUpdate SubscriptionEventType = "QUANTITY_UPDATE"
)

func (t SubscriptionEventType) String() string {
	return string(t)
}

func (t SubscriptionEventType) Validate() error {
	allowed := []SubscriptionEventType{
		SubscriptionEventTypeAPIUser,
		SubscriptionEventTypePhase,
		SubscriptionEventTypeExpired,
		SubscriptionEventTypeBCDUpdate,
		SubscriptionEventTypeQuantityUpdate,
	}
	if !lo.Contains(allowed, t) {
		return ierr.NewError("invalid subscription event type").
			WithHint("Invalid subscription event type").
			WithReportableDetails(map[string]any{
				"event_type":         t,
				"allowed_event_type": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsChangeEvent reports whether the event only mutates auxiliary fields
func (t SubscriptionEventType) IsChangeEvent() bool {
	return t == SubscriptionEventTypeBCDUpdate || t == SubscriptionEventTypeQuantityUpdate
}

// APIEventType is the sub kind of an API_USER event
type APIEventType string

const (
	APIEventTypeCreate     APIEventType = "CREATE"
	APIEventTypeTransfer   APIEventType = "TRANSFER"
	APIEventTypeChange     APIEventType = "CHANGE"
	APIEventTypeCancel     APIEventType = "CANCEL"
	APIEventTypeUncancel   APIEventType = "UNCANCEL"
	APIEventTypeUndoChange APIEventType = "UNDO_CHANGE"
)

func (t APIEventType) String() string {
	return string(t)
}

func (t APIEventType) Validate() error {
	allowed := []APIEventType{
		APIEventTypeCreate,
		APIEventTypeTransfer,
		APIEventTypeChange,
		APIEventTypeCancel,
		APIEventTypeUncancel,
		APIEventTypeUndoChange,
	}
	if !lo.Contains(allowed, t) {
		return ierr.NewError("invalid api event type").
			WithHint("Invalid api event type").
			WithReportableDetails(map[string]any{
				"api_type":         t,
				"allowed_api_type": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// IsGenesis reports whether the event starts a subscription timeline
func (t APIEventType) IsGenesis() bool {
	return t == APIEventTypeCreate || t == APIEventTypeTransfer
}

// IsMarker reports whether the event only records an undo and is never replayed
func (t APIEventType) IsMarker() bool {
	return t == APIEventTypeUncancel || t == APIEventTypeUndoChange
}

// TransitionType is what downstream consumers see in a notification
type TransitionType string

const (
	TransitionTypeCreate         TransitionType = "CREATE"
	TransitionTypeTransfer       TransitionType = "TRANSFER"
	TransitionTypeChange         TransitionType = "CHANGE"
	TransitionTypeCancel         TransitionType = "CANCEL"
	TransitionTypeUncancel       TransitionType = "UNCANCEL"
	TransitionTypeUndoChange     TransitionType = "UNDO_CHANGE"
	TransitionTypePhase          TransitionType = "PHASE"
	TransitionTypeExpired        TransitionType = "EXPIRED"
	TransitionTypeBCDChange      TransitionType = "BCD_CHANGE"
	TransitionTypeQuantityChange TransitionType = "QUANTITY_CHANGE"
)

func (t TransitionType) String() string {
	return string(t)
}

// EntitlementState is the replayed state of a subscription at a point in time
type EntitlementState string

const (
	EntitlementStatePending   EntitlementState = "PENDING"
	EntitlementStateActive    EntitlementState = "ACTIVE"
	EntitlementStateCancelled EntitlementState = "CANCELLED"
	EntitlementStateExpired   EntitlementState = "EXPIRED"
)

func (s EntitlementState) String() string {
	return string(s)
}

// PhaseType classifies a pricing phase of a catalog plan
type PhaseType string

const (
	PhaseTypeTrial     PhaseType = "TRIAL"
	PhaseTypeDiscount  PhaseType = "DISCOUNT"
	PhaseTypeFixedTerm PhaseType = "FIXEDTERM"
	PhaseTypeEvergreen PhaseType = "EVERGREEN"
)

func (p PhaseType) Validate() error {
	allowed := []PhaseType{
		PhaseTypeTrial,
		PhaseTypeDiscount,
		PhaseTypeFixedTerm,
		PhaseTypeEvergreen,
	}
	if !lo.Contains(allowed, p) {
		return ierr.NewError("invalid phase type").
			WithHint("Invalid phase type").
			WithReportableDetails(map[string]any{
				"phase_type":         p,
				"allowed_phase_type": allowed,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Bundle external key prefixes applied when a key is released for reuse
const (
	ExternalKeyPrefixCancelled  = "cncl"
	ExternalKeyPrefixTransfered = "tsf"
)
