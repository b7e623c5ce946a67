package outbox

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/flexprice/subledger/internal/config"
	"github.com/flexprice/subledger/internal/domain/notification"
	"github.com/flexprice/subledger/internal/logger"
	"github.com/flexprice/subledger/internal/postgres"
	"github.com/flexprice/subledger/internal/pubsub"
)

// PostgresBus stores bus events in the outbox table; Relay forwards them.
// Inserts run in a savepoint, like PostgresScheduler.
type PostgresBus struct {
	db     postgres.IClient
	repo   notification.BusEventRepository
	logger *logger.Logger
}

func NewPostgresBus(db postgres.IClient, repo notification.BusEventRepository, logger *logger.Logger) *PostgresBus {
	return &PostgresBus{db: db, repo: repo, logger: logger}
}

func (b *PostgresBus) Publish(ctx context.Context, e *notification.BusEvent) error {
	err := b.db.WithTx(ctx, func(ctx context.Context) error {
		return b.repo.Create(ctx, e)
	})
	if err != nil {
		return err
	}

	b.logger.Debugw("queued bus event",
		"bus_event_id", e.ID,
		"event_name", e.EventName,
		"search_key", e.SearchKey,
	)
	return nil
}

// DirectBus publishes straight to the pubsub topic, outside the SQL transaction
type DirectBus struct {
	publisher pubsub.Publisher
	topic     string
	logger    *logger.Logger
}

func NewDirectBus(cfg *config.Configuration, publisher pubsub.Publisher, logger *logger.Logger) *DirectBus {
	return &DirectBus{
		publisher: publisher,
		topic:     cfg.PubSub.Topic,
		logger:    logger,
	}
}

func (b *DirectBus) Publish(ctx context.Context, e *notification.BusEvent) error {
	if err := b.publisher.Publish(ctx, b.topic, toMessage(e)); err != nil {
		return err
	}

	b.logger.Debugw("published bus event",
		"bus_event_id", e.ID,
		"event_name", e.EventName,
		"topic", b.topic,
	)
	return nil
}

func toMessage(e *notification.BusEvent) *message.Message {
	msg := message.NewMessage(e.ID, message.Payload(e.Payload))
	msg.Metadata.Set("event_name", e.EventName)
	msg.Metadata.Set("search_key", e.SearchKey)
	msg.Metadata.Set("user_token", e.UserToken)
	return msg
}
