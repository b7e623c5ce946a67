package v1

import (
	"net/http"

	"github.com/flexprice/subledger/internal/api/dto"
	"github.com/flexprice/subledger/internal/clock"
	"github.com/flexprice/subledger/internal/domain/bundle"
	"github.com/flexprice/subledger/internal/domain/catalog"
	"github.com/flexprice/subledger/internal/domain/event"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/logger"
	"github.com/flexprice/subledger/internal/service"
	"github.com/gin-gonic/gin"
)

type BundleHandler struct {
	bundles       service.BundleService
	subscriptions service.SubscriptionService
	catalog       catalog.Catalog
	clock         clock.Clock
	log           *logger.Logger
}

func NewBundleHandler(
	bundles service.BundleService,
	subscriptions service.SubscriptionService,
	catalog catalog.Catalog,
	clock clock.Clock,
	log *logger.Logger,
) *BundleHandler {
	return &BundleHandler{
		bundles:       bundles,
		subscriptions: subscriptions,
		catalog:       catalog,
		clock:         clock,
		log:           log,
	}
}

// @Summary Create bundle
// @Description Create a bundle and its initial subscriptions
// @Tags Bundles
// @Accept json
// @Produce json
// @Param bundle body dto.CreateBundleRequest true "Bundle Request"
// @Success 201 {object} dto.BundleResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Failure 409 {object} ierr.ErrorResponse
// @Router /bundles [post]
func (h *BundleHandler) CreateBundle(c *gin.Context) {
	var req dto.CreateBundleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Errorw("failed to bind JSON", "error", err)
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	ctx := c.Request.Context()
	now := h.clock.Now()

	// plans resolve before anything is written
	candidate := req.ToBundle(ctx, now)
	subs, err := req.ToSubscriptionsWithEvents(ctx, candidate, h.catalog, now)
	if err != nil {
		c.Error(err)
		return
	}

	b, err := h.bundles.CreateBundleWithSubscriptions(ctx, candidate, req.RenameCancelledBundle, subs)
	if err != nil {
		c.Error(err)
		return
	}

	resp, err := h.bundleResponse(c, b, nil)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// @Summary Get bundle
// @Description Get a bundle and its rebuilt subscriptions
// @Tags Bundles
// @Produce json
// @Param id path string true "Bundle ID"
// @Success 200 {object} dto.BundleResponse
// @Failure 404 {object} ierr.ErrorResponse
// @Router /bundles/{id} [get]
func (h *BundleHandler) GetBundle(c *gin.Context) {
	b, err := h.bundles.GetBundle(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	resp, err := h.bundleResponse(c, b, nil)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// @Summary List bundles
// @Description List bundles by account, by external key, or by both
// @Tags Bundles
// @Produce json
// @Param account_id query string false "Account ID"
// @Param external_key query string false "External key, renamed keys included when no account is given"
// @Success 200 {object} dto.ListBundlesResponse
// @Failure 400 {object} ierr.ErrorResponse
// @Router /bundles [get]
func (h *BundleHandler) ListBundles(c *gin.Context) {
	ctx := c.Request.Context()
	accountID, key := c.Query("account_id"), c.Query("external_key")

	var (
		bundles []*bundle.Bundle
		err     error
	)
	switch {
	case accountID != "" && key != "":
		var b *bundle.Bundle
		if b, err = h.bundles.GetBundleForAccountAndKey(ctx, accountID, key); err == nil {
			bundles = []*bundle.Bundle{b}
		}
	case accountID != "":
		bundles, err = h.bundles.GetBundlesForAccount(ctx, accountID)
	case key != "":
		bundles, err = h.bundles.GetBundlesForKey(ctx, key)
	default:
		err = ierr.NewError("account_id or external_key is required").
			WithHint("Please filter bundles by account or external key").
			Mark(ierr.ErrValidation)
	}
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, dto.NewListBundlesResponse(bundles))
}

// @Summary List subscription ids for a key
// @Description List the ids of the non add-on subscriptions of every bundle holding the key
// @Tags Bundles
// @Produce json
// @Param external_key query string true "External key"
// @Success 200 {object} map[string][]string
// @Router /bundles/subscription_ids [get]
func (h *BundleHandler) GetSubscriptionIDsForKey(c *gin.Context) {
	ids, err := h.bundles.GetNonAddOnSubscriptionIDsForKey(c.Request.Context(), c.Query("external_key"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription_ids": ids})
}

// @Summary Update bundle external key
// @Tags Bundles
// @Accept json
// @Param id path string true "Bundle ID"
// @Param request body dto.UpdateBundleExternalKeyRequest true "New key"
// @Success 204
// @Failure 404 {object} ierr.ErrorResponse
// @Router /bundles/{id}/external_key [put]
func (h *BundleHandler) UpdateExternalKey(c *gin.Context) {
	var req dto.UpdateBundleExternalKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	if err := h.bundles.UpdateBundleExternalKey(c.Request.Context(), c.Param("id"), req.ExternalKey); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

// @Summary Dry-run a bundle change
// @Description Rebuild the bundle with a hypothetical change or cancellation, nothing is persisted
// @Tags Bundles
// @Accept json
// @Produce json
// @Param id path string true "Bundle ID"
// @Param request body dto.DryRunRequest true "Hypothetical event"
// @Success 200 {object} dto.BundleResponse
// @Router /bundles/{id}/dry_run [post]
func (h *BundleHandler) DryRun(c *gin.Context) {
	var req dto.DryRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(ierr.WithError(err).
			WithHint("Invalid request format").
			Mark(ierr.ErrValidation))
		return
	}

	e, err := req.ToEvent(h.clock.Now())
	if err != nil {
		c.Error(err)
		return
	}

	b, err := h.bundles.GetBundle(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}

	resp, err := h.bundleResponse(c, b, []*event.Event{e})
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *BundleHandler) bundleResponse(c *gin.Context, b *bundle.Bundle, dryRunEvents []*event.Event) (*dto.BundleResponse, error) {
	states, err := h.subscriptions.GetSubscriptions(c.Request.Context(), b.ID, dryRunEvents)
	if err != nil {
		return nil, err
	}
	return &dto.BundleResponse{
		Bundle:        b,
		Subscriptions: dto.NewSubscriptionResponses(states),
	}, nil
}
