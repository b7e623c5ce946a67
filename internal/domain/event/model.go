package event

import (
	"sort"
	"time"

	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/types"
)

// Event is an immutable effective-dated fact about a subscription. Exactly one
// of the payload pointers is set, selected by Type.
type Event struct {
	ID             string                      `json:"id"`
	SubscriptionID string                      `json:"subscription_id"`
	Type           types.SubscriptionEventType `json:"event_type"`
	EffectiveDate  time.Time                   `json:"effective_date"`
	CreatedDate    time.Time                   `json:"created_date"`
	// TotalOrdering is assigned by the store and breaks ties between equal effective dates
	TotalOrdering int64 `json:"total_ordering"`
	IsActive      bool  `json:"is_active"`
	// FromDisk is false for events that only exist in memory (cascade and dry-run)
	FromDisk bool `json:"from_disk"`

	User     *UserPayload     `json:"user,omitempty"`
	Phase    *PhasePayload    `json:"phase,omitempty"`
	BCD      *BCDPayload      `json:"bcd,omitempty"`
	Quantity *QuantityPayload `json:"quantity,omitempty"`
}

// UserPayload is carried by API_USER events
type UserPayload struct {
	APIType       types.APIEventType `json:"api_type"`
	PlanName      string             `json:"plan_name,omitempty"`
	PriceListName string             `json:"price_list_name,omitempty"`
	// PhaseName optionally pins the phase the plan starts in
	PhaseName string `json:"phase_name,omitempty"`
}

type PhasePayload struct {
	PhaseName string `json:"phase_name"`
}

type BCDPayload struct {
	BillCycleDayLocal int `json:"bill_cycle_day_local"`
}

type QuantityPayload struct {
	Quantity int `json:"quantity"`
}

// PlanRef names the plan an API_USER event moves the subscription to
type PlanRef struct {
	PlanName      string
	PriceListName string
	PhaseName     string
}

func newEvent(subscriptionID string, eventType types.SubscriptionEventType, effectiveDate, createdDate time.Time) *Event {
	return &Event{
		ID:             types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION_EVENT),
		SubscriptionID: subscriptionID,
		Type:           eventType,
		EffectiveDate:  effectiveDate.UTC(),
		CreatedDate:    createdDate.UTC(),
		IsActive:       true,
	}
}

// NewAPIEvent builds a CREATE, TRANSFER, CHANGE, CANCEL, UNCANCEL or UNDO_CHANGE event
func NewAPIEvent(subscriptionID string, apiType types.APIEventType, plan PlanRef, effectiveDate, createdDate time.Time) *Event {
	e := newEvent(subscriptionID, types.SubscriptionEventTypeAPIUser, effectiveDate, createdDate)
	e.User = &UserPayload{
		APIType:       apiType,
		PlanName:      plan.PlanName,
		PriceListName: plan.PriceListName,
		PhaseName:     plan.PhaseName,
	}
	return e
}

func NewCancelEvent(subscriptionID string, effectiveDate, createdDate time.Time) *Event {
	return NewAPIEvent(subscriptionID, types.APIEventTypeCancel, PlanRef{}, effectiveDate, createdDate)
}

func NewPhaseEvent(subscriptionID, phaseName string, effectiveDate, createdDate time.Time) *Event {
	e := newEvent(subscriptionID, types.SubscriptionEventTypePhase, effectiveDate, createdDate)
	e.Phase = &PhasePayload{PhaseName: phaseName}
	return e
}

func NewExpiredEvent(subscriptionID string, effectiveDate, createdDate time.Time) *Event {
	return newEvent(subscriptionID, types.SubscriptionEventTypeExpired, effectiveDate, createdDate)
}

func NewBCDEvent(subscriptionID string, billCycleDay int, effectiveDate, createdDate time.Time) *Event {
	e := newEvent(subscriptionID, types.SubscriptionEventTypeBCDUpdate, effectiveDate, createdDate)
	e.BCD = &BCDPayload{BillCycleDayLocal: billCycleDay}
	return e
}

func NewQuantityEvent(subscriptionID string, quantity int, effectiveDate, createdDate time.Time) *Event {
	e := newEvent(subscriptionID, types.SubscriptionEventTypeQuantityUpdate, effectiveDate, createdDate)
	e.Quantity = &QuantityPayload{Quantity: quantity}
	return e
}

// Copy returns a deep copy of e
func (e *Event) Copy() *Event {
	c := *e
	if e.User != nil {
		u := *e.User
		c.User = &u
	}
	if e.Phase != nil {
		p := *e.Phase
		c.Phase = &p
	}
	if e.BCD != nil {
		b := *e.BCD
		c.BCD = &b
	}
	if e.Quantity != nil {
		q := *e.Quantity
		c.Quantity = &q
	}
	return &c
}

// WithAPIType returns a copy of an API_USER event retyped to apiType. The id is kept.
func (e *Event) WithAPIType(apiType types.APIEventType) *Event {
	c := e.Copy()
	if c.User != nil {
		c.User.APIType = apiType
	}
	return c
}

// WithTotalOrdering returns a copy of e carrying the given ordering value
func (e *Event) WithTotalOrdering(ordering int64) *Event {
	c := e.Copy()
	c.TotalOrdering = ordering
	return c
}

// APIType returns the API sub kind, empty for non API_USER events
func (e *Event) APIType() types.APIEventType {
	if e.Type != types.SubscriptionEventTypeAPIUser || e.User == nil {
		return ""
	}
	return e.User.APIType
}

func (e *Event) IsAPIType(apiType types.APIEventType) bool {
	return e.APIType() == apiType
}

// IsGenesis reports whether e is the CREATE or TRANSFER starting a timeline
func (e *Event) IsGenesis() bool {
	return e.APIType().IsGenesis()
}

// IsMarker reports whether e is an UNCANCEL or UNDO_CHANGE record
func (e *Event) IsMarker() bool {
	return e.APIType().IsMarker()
}

// IsBusEventType reports whether an already effective e is announced on the bus
// rather than through a scheduled notification
func (e *Event) IsBusEventType() bool {
	return e.Type == types.SubscriptionEventTypeAPIUser || e.Type.IsChangeEvent()
}

// TransitionType maps e to the transition consumers see
func (e *Event) TransitionType() types.TransitionType {
	switch e.Type {
	case types.SubscriptionEventTypePhase:
		return types.TransitionTypePhase
	case types.SubscriptionEventTypeExpired:
		return types.TransitionTypeExpired
	case types.SubscriptionEventTypeBCDUpdate:
		return types.TransitionTypeBCDChange
	case types.SubscriptionEventTypeQuantityUpdate:
		return types.TransitionTypeQuantityChange
	}
	return types.TransitionType(e.APIType())
}

// Before orders events by effective date then total ordering
func (e *Event) Before(other *Event) bool {
	if !e.EffectiveDate.Equal(other.EffectiveDate) {
		return e.EffectiveDate.Before(other.EffectiveDate)
	}
	return e.TotalOrdering < other.TotalOrdering
}

func (e *Event) Validate() error {
	if e.SubscriptionID == "" {
		return ierr.NewError("subscription_id is required").
			WithHint("Event must reference a subscription").
			Mark(ierr.ErrValidation)
	}
	if err := e.Type.Validate(); err != nil {
		return err
	}
	if e.EffectiveDate.IsZero() {
		return ierr.NewError("effective_date is required").
			WithHint("Event must have an effective date").
			Mark(ierr.ErrValidation)
	}

	switch e.Type {
	case types.SubscriptionEventTypeAPIUser:
		if e.User == nil {
			return ierr.NewError("api event without user payload").
				WithHint("API events must carry an api type").
				Mark(ierr.ErrValidation)
		}
		if err := e.User.APIType.Validate(); err != nil {
			return err
		}
		needsPlan := e.User.APIType.IsGenesis() || e.User.APIType == types.APIEventTypeChange
		if needsPlan && e.User.PlanName == "" {
			return ierr.NewError("plan_name is required").
				WithHintf("%s events must reference a plan", e.User.APIType).
				Mark(ierr.ErrValidation)
		}
	case types.SubscriptionEventTypePhase:
		if e.Phase == nil || e.Phase.PhaseName == "" {
			return ierr.NewError("phase_name is required").
				WithHint("Phase events must reference a phase").
				Mark(ierr.ErrValidation)
		}
	case types.SubscriptionEventTypeBCDUpdate:
		if e.BCD == nil || e.BCD.BillCycleDayLocal < 1 || e.BCD.BillCycleDayLocal > 31 {
			return ierr.NewError("invalid bill cycle day").
				WithHint("Bill cycle day must be between 1 and 31").
				Mark(ierr.ErrValidation)
		}
	case types.SubscriptionEventTypeQuantityUpdate:
		if e.Quantity == nil || e.Quantity.Quantity < 0 {
			return ierr.NewError("invalid quantity").
				WithHint("Quantity must not be negative").
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}

// Sort orders events in place by effective date then total ordering
func Sort(events []*Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Before(events[j])
	})
}

// WithoutMarkers drops UNCANCEL and UNDO_CHANGE events, which are never replayed or exposed
func WithoutMarkers(events []*Event) []*Event {
	out := make([]*Event, 0, len(events))
	for _, e := range events {
		if !e.IsMarker() {
			out = append(out, e)
		}
	}
	return out
}

// MaxTotalOrdering returns the highest ordering in events, 0 when empty
func MaxTotalOrdering(events []*Event) int64 {
	var max int64
	for _, e := range events {
		if e.TotalOrdering > max {
			max = e.TotalOrdering
		}
	}
	return max
}

// LastTotalOrdering returns the ordering of the last event, 0 when empty
func LastTotalOrdering(events []*Event) int64 {
	if len(events) == 0 {
		return 0
	}
	return events[len(events)-1].TotalOrdering
}
