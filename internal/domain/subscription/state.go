package subscription

import (
	"time"

	"github.com/flexprice/subledger/internal/clock"
	"github.com/flexprice/subledger/internal/domain/catalog"
	"github.com/flexprice/subledger/internal/domain/event"
	"github.com/flexprice/subledger/internal/types"
)

// Transition is the effect of one replayed event
type Transition struct {
	EventID        string               `json:"event_id"`
	SubscriptionID string               `json:"subscription_id"`
	BundleID       string               `json:"bundle_id"`
	Type           types.TransitionType `json:"transition_type"`
	EffectiveDate  time.Time            `json:"effective_date"`
	TotalOrdering  int64                `json:"total_ordering"`
	FromDisk       bool                 `json:"from_disk"`

	PreviousState     types.EntitlementState `json:"previous_state,omitempty"`
	NextState         types.EntitlementState `json:"next_state"`
	PreviousPlan      *catalog.Plan          `json:"previous_plan,omitempty"`
	NextPlan          *catalog.Plan          `json:"next_plan,omitempty"`
	PreviousPhase     *catalog.Phase         `json:"previous_phase,omitempty"`
	NextPhase         *catalog.Phase         `json:"next_phase,omitempty"`
	PreviousPriceList string                 `json:"previous_price_list,omitempty"`
	NextPriceList     string                 `json:"next_price_list,omitempty"`
	BillCycleDayLocal int                    `json:"bill_cycle_day_local,omitempty"`
	Quantity          int                    `json:"quantity"`
}

// State is a subscription materialized from its events. Questions about the
// present are answered against the injected clock.
type State struct {
	*Subscription

	events      []*event.Event
	transitions []*Transition
	clock       clock.Clock
}

// Events returns the events the state was built from, sorted
func (s *State) Events() []*event.Event {
	return s.events
}

func (s *State) Transitions() []*Transition {
	return s.transitions
}

func (s *State) lastEffectiveTransition() *Transition {
	now := s.clock.Now()
	var last *Transition
	for _, t := range s.transitions {
		if t.EffectiveDate.After(now) {
			break
		}
		last = t
	}
	return last
}

// CurrentState is PENDING until the first transition becomes effective
func (s *State) CurrentState() types.EntitlementState {
	t := s.lastEffectiveTransition()
	if t == nil {
		return types.EntitlementStatePending
	}
	return t.NextState
}

func (s *State) CurrentPlan() *catalog.Plan {
	if t := s.lastEffectiveTransition(); t != nil {
		return t.NextPlan
	}
	return nil
}

func (s *State) CurrentPhase() *catalog.Phase {
	if t := s.lastEffectiveTransition(); t != nil {
		return t.NextPhase
	}
	return nil
}

func (s *State) CurrentPriceList() string {
	if t := s.lastEffectiveTransition(); t != nil {
		return t.NextPriceList
	}
	return ""
}

// LastPlan is the plan in force once every known transition has happened
func (s *State) LastPlan() *catalog.Plan {
	for i := len(s.transitions) - 1; i >= 0; i-- {
		if s.transitions[i].NextPlan != nil {
			return s.transitions[i].NextPlan
		}
	}
	return nil
}

// StartDate is the effective date of the genesis event
func (s *State) StartDate() time.Time {
	return s.transitions[0].EffectiveDate
}

// EndDate is the date the subscription was cancelled or expired, if already effective
func (s *State) EndDate() *time.Time {
	t := s.lastEffectiveTransition()
	if t == nil || !isTerminal(t.NextState) {
		return nil
	}
	d := t.EffectiveDate
	return &d
}

// FutureEndDate is the date of a pending cancellation or expiry
func (s *State) FutureEndDate() *time.Time {
	now := s.clock.Now()
	for _, t := range s.transitions {
		if t.EffectiveDate.After(now) && isTerminal(t.NextState) {
			d := t.EffectiveDate
			return &d
		}
	}
	return nil
}

func (s *State) BillCycleDayLocal() int {
	if t := s.lastEffectiveTransition(); t != nil {
		return t.BillCycleDayLocal
	}
	return 0
}

func (s *State) Quantity() int {
	if t := s.lastEffectiveTransition(); t != nil {
		return t.Quantity
	}
	return defaultQuantity
}

// PendingTransitions returns the transitions not yet effective
func (s *State) PendingTransitions() []*Transition {
	now := s.clock.Now()
	for i, t := range s.transitions {
		if t.EffectiveDate.After(now) {
			return s.transitions[i:]
		}
	}
	return nil
}

// TransitionForEvent returns the transition produced by the given event, nil if
// the event was not replayed (inactive or unknown)
func (s *State) TransitionForEvent(eventID string) *Transition {
	for _, t := range s.transitions {
		if t.EventID == eventID {
			return t
		}
	}
	return nil
}

func isTerminal(state types.EntitlementState) bool {
	return state == types.EntitlementStateCancelled || state == types.EntitlementStateExpired
}
