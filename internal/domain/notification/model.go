package notification

import (
	"encoding/json"
	"time"

	"github.com/flexprice/subledger/internal/types"
)

// Notification is a future wake-up for a subscription event, delivered on its effective date
type Notification struct {
	ID              string                `db:"id" json:"id"`
	EventID         string                `db:"event_id" json:"event_id"`
	SubscriptionID  string                `db:"subscription_id" json:"subscription_id"`
	AccountID       string                `db:"account_id" json:"account_id"`
	UserToken       string                `db:"user_token" json:"user_token"`
	EffectiveDate   time.Time             `db:"effective_date" json:"effective_date"`
	ProcessingState types.ProcessingState `db:"processing_state" json:"processing_state"`
	CreatedAt       time.Time             `db:"created_at" json:"created_at"`
}

// Bus event names
const (
	EventNameEffectiveSubscription = "subscription.effective"
	EventNameRequestedSubscription = "subscription.requested"
)

// BusEvent is one row of the bus outbox
type BusEvent struct {
	ID              string                `db:"id" json:"id"`
	EventName       string                `db:"event_name" json:"event_name"`
	Payload         json.RawMessage       `db:"payload" json:"payload"`
	SearchKey       string                `db:"search_key" json:"search_key"`
	UserToken       string                `db:"user_token" json:"user_token"`
	ProcessingState types.ProcessingState `db:"processing_state" json:"processing_state"`
	ErrorCount      int                   `db:"error_count" json:"error_count"`
	LastError       *string               `db:"last_error" json:"last_error,omitempty"`
	CreatedAt       time.Time             `db:"created_at" json:"created_at"`
	ProcessedAt     *time.Time            `db:"processed_at" json:"processed_at,omitempty"`
}

// EffectiveSubscriptionEvent announces a transition that is already in force
type EffectiveSubscriptionEvent struct {
	EventID           string                 `json:"event_id"`
	SubscriptionID    string                 `json:"subscription_id"`
	BundleID          string                 `json:"bundle_id"`
	BundleExternalKey string                 `json:"bundle_external_key"`
	AccountID         string                 `json:"account_id"`
	TransitionType    types.TransitionType   `json:"transition_type"`
	EffectiveDate     time.Time              `json:"effective_date"`
	TotalOrdering     int64                  `json:"total_ordering"`
	AlignStartDate    time.Time              `json:"align_start_date"`
	PreviousState     types.EntitlementState `json:"previous_state,omitempty"`
	NextState         types.EntitlementState `json:"next_state"`
	PreviousPlan      string                 `json:"previous_plan,omitempty"`
	NextPlan          string                 `json:"next_plan,omitempty"`
	PreviousPhase     string                 `json:"previous_phase,omitempty"`
	NextPhase         string                 `json:"next_phase,omitempty"`
	PreviousPriceList string                 `json:"previous_price_list,omitempty"`
	NextPriceList     string                 `json:"next_price_list,omitempty"`
	BillCycleDayLocal int                    `json:"bill_cycle_day_local,omitempty"`
	Quantity          int                    `json:"quantity"`
	// RemainingEventsForUserOperation lets consumers know more events of the same operation follow
	RemainingEventsForUserOperation int `json:"remaining_events_for_user_operation"`
}

// RequestedSubscriptionEvent announces that a change was requested, whatever its effective date
type RequestedSubscriptionEvent struct {
	EventID                         string               `json:"event_id"`
	SubscriptionID                  string               `json:"subscription_id"`
	BundleID                        string               `json:"bundle_id"`
	BundleExternalKey               string               `json:"bundle_external_key"`
	AccountID                       string               `json:"account_id"`
	TransitionType                  types.TransitionType `json:"transition_type"`
	EffectiveDate                   time.Time            `json:"effective_date"`
	RemainingEventsForUserOperation int                  `json:"remaining_events_for_user_operation"`
}
