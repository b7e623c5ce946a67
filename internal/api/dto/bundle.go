package dto

import (
	"context"
	"time"

	"github.com/flexprice/subledger/internal/domain/bundle"
	"github.com/flexprice/subledger/internal/domain/catalog"
	"github.com/flexprice/subledger/internal/domain/event"
	"github.com/flexprice/subledger/internal/domain/subscription"
	"github.com/flexprice/subledger/internal/service"
	"github.com/flexprice/subledger/internal/types"
	"github.com/samber/lo"
)

type CreateBundleRequest struct {
	AccountID   string `json:"account_id" binding:"required"`
	ExternalKey string `json:"external_key" binding:"required"`
	// RenameCancelledBundle frees the key held by a fully cancelled bundle
	RenameCancelledBundle bool `json:"rename_cancelled_bundle"`
	// StartDate defaults to the request time
	StartDate     *time.Time                  `json:"start_date,omitempty"`
	Subscriptions []CreateSubscriptionRequest `json:"subscriptions" binding:"required,min=1,dive"`
}

type CreateSubscriptionRequest struct {
	PlanName      string `json:"plan_name" binding:"required"`
	PriceListName string `json:"price_list_name,omitempty"`
	PhaseName     string `json:"phase_name,omitempty"`
	// StartDate defaults to the bundle start date
	StartDate    *time.Time              `json:"start_date,omitempty"`
	BillCycleDay int                     `json:"bill_cycle_day,omitempty" binding:"omitempty,min=1,max=31"`
	Quantity     int                     `json:"quantity,omitempty" binding:"omitempty,min=0"`
	Phases       []ScheduledPhaseRequest `json:"phases,omitempty" binding:"dive"`
}

// ScheduledPhaseRequest is a future phase transition recorded at creation
type ScheduledPhaseRequest struct {
	PhaseName     string    `json:"phase_name" binding:"required"`
	EffectiveDate time.Time `json:"effective_date" binding:"required"`
}

func (r *CreateBundleRequest) ToBundle(ctx context.Context, now time.Time) *bundle.Bundle {
	return &bundle.Bundle{
		ID:                  types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BUNDLE),
		AccountID:           r.AccountID,
		ExternalKey:         r.ExternalKey,
		OriginalCreatedDate: now,
		BaseModel:           types.GetDefaultBaseModel(ctx),
	}
}

// ToSubscriptionsWithEvents builds the subscription shells and their initial
// events. Categories come from the catalog.
func (r *CreateBundleRequest) ToSubscriptionsWithEvents(ctx context.Context, b *bundle.Bundle, cat catalog.Catalog, now time.Time) ([]*service.SubscriptionWithEvents, error) {
	bundleStart := lo.FromPtrOr(r.StartDate, now).UTC()

	out := make([]*service.SubscriptionWithEvents, 0, len(r.Subscriptions))
	for _, req := range r.Subscriptions {
		start := lo.FromPtrOr(req.StartDate, bundleStart).UTC()

		plan, err := cat.FindPlan(req.PlanName, start, start)
		if err != nil {
			return nil, err
		}

		sub := &subscription.Subscription{
			ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
			BundleID:        b.ID,
			AccountID:       b.AccountID,
			Category:        plan.Product.Category,
			ExternalKey:     b.ExternalKey,
			AlignStartDate:  start,
			BundleStartDate: bundleStart,
			BaseModel:       types.GetDefaultBaseModel(ctx),
		}

		events := []*event.Event{
			event.NewAPIEvent(sub.ID, types.APIEventTypeCreate, event.PlanRef{
				PlanName:      req.PlanName,
				PriceListName: lo.CoalesceOrEmpty(req.PriceListName, plan.PriceList),
				PhaseName:     req.PhaseName,
			}, start, now),
		}
		if req.BillCycleDay > 0 {
			events = append(events, event.NewBCDEvent(sub.ID, req.BillCycleDay, start, now))
		}
		if req.Quantity > 0 {
			events = append(events, event.NewQuantityEvent(sub.ID, req.Quantity, start, now))
		}
		for _, p := range req.Phases {
			events = append(events, event.NewPhaseEvent(sub.ID, p.PhaseName, p.EffectiveDate.UTC(), now))
		}

		out = append(out, &service.SubscriptionWithEvents{Subscription: sub, Events: events})
	}
	return out, nil
}

type BundleResponse struct {
	*bundle.Bundle
	Subscriptions []*SubscriptionResponse `json:"subscriptions,omitempty"`
}

type ListBundlesResponse struct {
	Items []*BundleResponse `json:"items"`
}

func NewListBundlesResponse(bundles []*bundle.Bundle) *ListBundlesResponse {
	return &ListBundlesResponse{
		Items: lo.Map(bundles, func(b *bundle.Bundle, _ int) *BundleResponse {
			return &BundleResponse{Bundle: b}
		}),
	}
}

// UpdateBundleExternalKeyRequest renames a bundle's external key
type UpdateBundleExternalKeyRequest struct {
	ExternalKey string `json:"external_key" binding:"required"`
}
