package outbox

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flexprice/subledger/internal/clock"
	"github.com/flexprice/subledger/internal/config"
	"github.com/flexprice/subledger/internal/domain/notification"
	"github.com/flexprice/subledger/internal/logger"
	"github.com/flexprice/subledger/internal/postgres"
	"github.com/flexprice/subledger/internal/pubsub"
)

// Relay drains the bus outbox table into the pubsub topic
type Relay struct {
	db           postgres.IClient
	repo         notification.BusEventRepository
	publisher    pubsub.Publisher
	topic        string
	pollInterval time.Duration
	batchSize    int
	maxRetries   int
	// initialBackoff is the first retry interval of a failing publish
	initialBackoff time.Duration
	clock          clock.Clock
	logger         *logger.Logger
}

func NewRelay(
	cfg *config.Configuration,
	db postgres.IClient,
	repo notification.BusEventRepository,
	publisher pubsub.Publisher,
	clock clock.Clock,
	logger *logger.Logger,
) *Relay {
	r := &Relay{
		db:             db,
		repo:           repo,
		publisher:      publisher,
		topic:          cfg.PubSub.Topic,
		pollInterval:   cfg.Outbox.RelayPollInterval,
		batchSize:      cfg.Outbox.RelayBatchSize,
		maxRetries:     cfg.Outbox.RelayMaxRetries,
		initialBackoff: 200 * time.Millisecond,
		clock:          clock,
		logger:         logger,
	}
	if r.pollInterval <= 0 {
		r.pollInterval = 5 * time.Second
	}
	if r.batchSize <= 0 {
		r.batchSize = 100
	}
	if r.maxRetries <= 0 {
		r.maxRetries = 3
	}
	return r
}

// Run polls until ctx is cancelled
func (r *Relay) Run(ctx context.Context) {
	r.logger.Infow("starting bus outbox relay",
		"topic", r.topic,
		"poll_interval", r.pollInterval,
		"batch_size", r.batchSize,
	)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Errorw("bus outbox relay iteration failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("bus outbox relay stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce forwards one batch and returns the number of events delivered
func (r *Relay) RunOnce(ctx context.Context) (int, error) {
	delivered := 0

	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		events, err := r.repo.ListAvailable(ctx, r.batchSize)
		if err != nil {
			return err
		}

		for _, e := range events {
			if pubErr := r.publish(ctx, e); pubErr != nil {
				terminal := e.ErrorCount+1 >= r.maxRetries
				r.logger.Warnw("failed to relay bus event",
					"bus_event_id", e.ID,
					"event_name", e.EventName,
					"error_count", e.ErrorCount+1,
					"terminal", terminal,
					"error", pubErr,
				)
				if err := r.repo.MarkFailed(ctx, e.ID, pubErr.Error(), terminal); err != nil {
					return err
				}
				continue
			}

			if err := r.repo.MarkProcessed(ctx, e.ID, r.clock.Now()); err != nil {
				return err
			}
			delivered++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if delivered > 0 {
		r.logger.Debugw("relayed bus events", "count", delivered)
	}
	return delivered, nil
}

func (r *Relay) publish(ctx context.Context, e *notification.BusEvent) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = r.initialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(expBackoff, uint64(r.maxRetries)), ctx)

	return backoff.Retry(func() error {
		return r.publisher.Publish(ctx, r.topic, toMessage(e))
	}, policy)
}
