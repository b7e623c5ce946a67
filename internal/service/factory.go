package service

import (
	"github.com/flexprice/subledger/internal/clock"
	"github.com/flexprice/subledger/internal/config"
	"github.com/flexprice/subledger/internal/domain/bundle"
	"github.com/flexprice/subledger/internal/domain/catalog"
	"github.com/flexprice/subledger/internal/domain/event"
	"github.com/flexprice/subledger/internal/domain/subscription"
	"github.com/flexprice/subledger/internal/logger"
	"github.com/flexprice/subledger/internal/outbox"
	"github.com/flexprice/subledger/internal/postgres"
)

// ServiceParams holds common dependencies for services
type ServiceParams struct {
	Logger *logger.Logger
	Config *config.Configuration
	DB     postgres.IClient

	// Repositories
	BundleRepo bundle.Repository
	SubRepo    subscription.Repository
	EventRepo  event.Repository

	Catalog catalog.Catalog
	Clock   clock.Clock

	// Outbox carries the scheduled and bus notifications of every write
	Outbox *outbox.Outbox
}

// Common service params
func NewServiceParams(
	logger *logger.Logger,
	config *config.Configuration,
	db postgres.IClient,
	bundleRepo bundle.Repository,
	subRepo subscription.Repository,
	eventRepo event.Repository,
	catalog catalog.Catalog,
	clock clock.Clock,
	outbox *outbox.Outbox,
) ServiceParams {
	return ServiceParams{
		Logger:     logger,
		Config:     config,
		DB:         db,
		BundleRepo: bundleRepo,
		SubRepo:    subRepo,
		EventRepo:  eventRepo,
		Catalog:    catalog,
		Clock:      clock,
		Outbox:     outbox,
	}
}
