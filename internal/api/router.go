package api

import (
	v1 "github.com/flexprice/subledger/internal/api/v1"
	"github.com/flexprice/subledger/internal/config"
	"github.com/flexprice/subledger/internal/logger"
	"github.com/flexprice/subledger/internal/rest/middleware"
	"github.com/flexprice/subledger/internal/types"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Health       *v1.HealthHandler
	Bundle       *v1.BundleHandler
	Subscription *v1.SubscriptionHandler
}

func NewRouter(handlers Handlers, cfg *config.Configuration, logger *logger.Logger) *gin.Engine {
	if cfg.Deployment.Mode != types.ModeLocal {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware,
		middleware.SentryMiddleware(cfg),
		middleware.ErrorHandler(logger),
	)

	router.GET("/health", handlers.Health.Health)

	v1Group := router.Group("/v1")
	registerV1Routes(v1Group, handlers)

	return router
}

func registerV1Routes(router *gin.RouterGroup, handlers Handlers) {
	bundles := router.Group("/bundles")
	{
		bundles.POST("", handlers.Bundle.CreateBundle)
		bundles.GET("", handlers.Bundle.ListBundles)
		bundles.GET("/subscription_ids", handlers.Bundle.GetSubscriptionIDsForKey)
		bundles.GET("/:id", handlers.Bundle.GetBundle)
		bundles.PUT("/:id/external_key", handlers.Bundle.UpdateExternalKey)
		bundles.POST("/:id/dry_run", handlers.Bundle.DryRun)
	}

	subscriptions := router.Group("/subscriptions")
	{
		subscriptions.GET("", handlers.Subscription.GetSubscriptionsForAccount)
		subscriptions.GET("/:id", handlers.Subscription.GetSubscription)
		subscriptions.PUT("/:id", handlers.Subscription.UpdateSubscription)
		subscriptions.GET("/:id/events", handlers.Subscription.GetEvents)
		subscriptions.GET("/:id/events/pending", handlers.Subscription.GetPendingEvents)
		subscriptions.POST("/:id/change", handlers.Subscription.ChangePlan)
		subscriptions.POST("/:id/cancel", handlers.Subscription.CancelSubscription)
		subscriptions.POST("/:id/uncancel", handlers.Subscription.Uncancel)
		subscriptions.POST("/:id/undo_change", handlers.Subscription.UndoChangePlan)
	}

	router.GET("/events/:id", handlers.Subscription.GetEvent)
}
