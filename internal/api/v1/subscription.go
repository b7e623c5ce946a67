package v1

import (
	"context"
	"net/http"
	"strconv"

	"github.com/flexprice/subledger/internal/api/dto"
	"github.com/flexprice/subledger/internal/clock"
	"github.com/flexprice/subledger/internal/domain/event"
	"github.com/flexprice/subledger/internal/domain/subscription"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/logger"
	"github.com/flexprice/subledger/internal/service"
	"github.com/flexprice/subledger/internal/types"
	"github.com/gin-gonic/gin"
)

type SubscriptionHandler struct {
	service service.SubscriptionService
	clock   clock.Clock
	log     *logger.Logger
}

func NewSubscriptionHandler(service service.SubscriptionService, clock clock.Clock, log *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{service: service, clock: clock, log: log}
}

// @Summary Get subscription
// @Description Get a subscription rebuilt from its events
// @Tags Subscriptions
// @Produce json
// @Param id path string true "Subscription ID"
// @Param include_deleted_events query bool false "Replay deactivated events too"
// @Success 200 {object} dto.SubscriptionResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /subscriptions/{id} [get]
func (h *SubscriptionHandler) GetSubscription(c *gin.Context) {
	state, err := h.service.GetSubscription(c.Request.Context(), c.Param("id"), queryBool(c, "include_deleted_events"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSubscriptionResponse(state))
}

// @Summary List account subscriptions
// @Description List every subscription of an account grouped by bundle
// @Tags Subscriptions
// @Produce json
// @Param account_id query string true "Account ID"
// @Success 200 {object} dto.AccountSubscriptionsResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /subscriptions [get]
func (h *SubscriptionHandler) GetSubscriptionsForAccount(c *gin.Context) {
	accountID := c.Query("account_id")
	if accountID == "" {
		c.Error(ierr.NewError("account_id is required").
			WithHint("Please provide an account id").
			Mark(ierr.ErrValidation))
		return
	}

	byBundle, err := h.service.GetSubscriptionsForAccount(c.Request.Context(), accountID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewAccountSubscriptionsResponse(byBundle))
}

// @Summary List subscription events
// @Tags Subscriptions
// @Produce json
// @Param id path string true "Subscription ID"
// @Param include_deleted query bool false "Include deactivated events"
// @Success 200 {object} dto.ListEventsResponse
// @Router /subscriptions/{id}/events [get]
func (h *SubscriptionHandler) GetEvents(c *gin.Context) {
	events, err := h.service.GetEventsForSubscription(c.Request.Context(), c.Param("id"), queryBool(c, "include_deleted"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.ListEventsResponse{Items: events})
}

// @Summary List pending subscription events
// @Tags Subscriptions
// @Produce json
// @Param id path string true "Subscription ID"
// @Success 200 {object} dto.ListEventsResponse
// @Router /subscriptions/{id}/events/pending [get]
func (h *SubscriptionHandler) GetPendingEvents(c *gin.Context) {
	events, err := h.service.GetPendingEventsForSubscription(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.ListEventsResponse{Items: events})
}

// @Summary Get event
// @Tags Events
// @Produce json
// @Param id path string true "Event ID"
// @Success 200 {object} event.Event
// @Failure 404 {object} ierr.ErrorResponse
// @Router /events/{id} [get]
func (h *SubscriptionHandler) GetEvent(c *gin.Context) {
	e, err := h.service.GetEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// @Summary Change plan
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param id path string true "Subscription ID"
// @Param request body dto.ChangePlanRequest true "Change Plan Request"
// @Success 200 {object} dto.SubscriptionResponse
// @Router /subscriptions/{id}/change [post]
func (h *SubscriptionHandler) ChangePlan(c *gin.Context) {
	var req dto.ChangePlanRequest
	if !bindJSON(c, &req) {
		return
	}

	sub, ok := h.load(c)
	if !ok {
		return
	}

	e := req.ToEvent(sub.ID, h.clock.Now())
	if err := h.service.ChangePlan(c.Request.Context(), sub, []*event.Event{e}, nil); err != nil {
		h.log.Errorw("failed to change plan", "subscription_id", sub.ID, "error", err)
		c.Error(err)
		return
	}
	h.respond(c, sub.ID)
}

// @Summary Cancel subscription
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param id path string true "Subscription ID"
// @Param request body dto.CancelSubscriptionRequest false "Cancel Subscription Request"
// @Success 200 {object} dto.SubscriptionResponse
// @Router /subscriptions/{id}/cancel [post]
func (h *SubscriptionHandler) CancelSubscription(c *gin.Context) {
	var req dto.CancelSubscriptionRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	sub, ok := h.load(c)
	if !ok {
		return
	}

	cancellation := &service.SubscriptionCancellation{
		Subscription: sub,
		Event:        req.ToEvent(sub.ID, h.clock.Now()),
	}
	if err := h.service.CancelSubscriptions(c.Request.Context(), []*service.SubscriptionCancellation{cancellation}); err != nil {
		h.log.Errorw("failed to cancel subscription", "subscription_id", sub.ID, "error", err)
		c.Error(err)
		return
	}
	h.respond(c, sub.ID)
}

// @Summary Uncancel subscription
// @Description Remove a pending cancellation
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param id path string true "Subscription ID"
// @Param request body dto.UndoRequest false "Replacement phases"
// @Success 200 {object} dto.SubscriptionResponse
// @Router /subscriptions/{id}/uncancel [post]
func (h *SubscriptionHandler) Uncancel(c *gin.Context) {
	h.undo(c, types.APIEventTypeUncancel, h.service.Uncancel)
}

// @Summary Undo plan change
// @Description Remove a pending plan change
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param id path string true "Subscription ID"
// @Param request body dto.UndoRequest false "Replacement phases"
// @Success 200 {object} dto.SubscriptionResponse
// @Router /subscriptions/{id}/undo_change [post]
func (h *SubscriptionHandler) UndoChangePlan(c *gin.Context) {
	h.undo(c, types.APIEventTypeUndoChange, h.service.UndoChangePlan)
}

type undoFunc func(ctx context.Context, sub *subscription.Subscription, events []*event.Event) error

func (h *SubscriptionHandler) undo(c *gin.Context, marker types.APIEventType, fn undoFunc) {
	var req dto.UndoRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	sub, ok := h.load(c)
	if !ok {
		return
	}

	if err := fn(c.Request.Context(), sub, req.ToEvents(sub.ID, marker, h.clock.Now())); err != nil {
		h.log.Errorw("failed to undo operation", "subscription_id", sub.ID, "operation", marker, "error", err)
		c.Error(err)
		return
	}
	h.respond(c, sub.ID)
}

// @Summary Update subscription
// @Description Record a bill cycle day or quantity update
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Param id path string true "Subscription ID"
// @Param request body dto.UpdateSubscriptionRequest true "Update Request"
// @Success 200 {object} dto.SubscriptionResponse
// @Router /subscriptions/{id} [put]
func (h *SubscriptionHandler) UpdateSubscription(c *gin.Context) {
	var req dto.UpdateSubscriptionRequest
	if !bindJSON(c, &req) {
		return
	}

	sub, ok := h.load(c)
	if !ok {
		return
	}

	e, err := req.ToEvent(sub.ID, h.clock.Now())
	if err != nil {
		c.Error(err)
		return
	}
	if err := h.service.CreateChangeEvent(c.Request.Context(), sub, e); err != nil {
		c.Error(err)
		return
	}
	h.respond(c, sub.ID)
}

// load resolves the path subscription's shell
func (h *SubscriptionHandler) load(c *gin.Context) (*subscription.Subscription, bool) {
	state, err := h.service.GetSubscription(c.Request.Context(), c.Param("id"), false)
	if err != nil {
		c.Error(err)
		return nil, false
	}
	return state.Subscription, true
}

func (h *SubscriptionHandler) respond(c *gin.Context, id string) {
	state, err := h.service.GetSubscription(c.Request.Context(), id, false)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, dto.NewSubscriptionResponse(state))
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return false
	}
	return true
}

func queryBool(c *gin.Context, key string) bool {
	v, _ := strconv.ParseBool(c.Query(key))
	return v
}
