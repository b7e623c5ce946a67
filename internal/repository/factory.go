package repository

import (
	"github.com/flexprice/subledger/internal/domain/bundle"
	"github.com/flexprice/subledger/internal/domain/event"
	"github.com/flexprice/subledger/internal/domain/notification"
	"github.com/flexprice/subledger/internal/domain/subscription"
	"github.com/flexprice/subledger/internal/logger"
	"github.com/flexprice/subledger/internal/postgres"
	postgresRepo "github.com/flexprice/subledger/internal/repository/postgres"
)

func NewBundleRepository(client postgres.IClient, logger *logger.Logger) bundle.Repository {
	return postgresRepo.NewBundleRepository(client, logger)
}

func NewSubscriptionRepository(client postgres.IClient, logger *logger.Logger) subscription.Repository {
	return postgresRepo.NewSubscriptionRepository(client, logger)
}

func NewEventRepository(client postgres.IClient, logger *logger.Logger) event.Repository {
	return postgresRepo.NewEventRepository(client, logger)
}

func NewNotificationRepository(client postgres.IClient, logger *logger.Logger) notification.Repository {
	return postgresRepo.NewNotificationRepository(client, logger)
}

func NewBusEventRepository(client postgres.IClient, logger *logger.Logger) notification.BusEventRepository {
	return postgresRepo.NewBusEventRepository(client, logger)
}
