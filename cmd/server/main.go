package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/flexprice/subledger/internal/api"
	v1 "github.com/flexprice/subledger/internal/api/v1"
	"github.com/flexprice/subledger/internal/cache"
	"github.com/flexprice/subledger/internal/catalog"
	"github.com/flexprice/subledger/internal/clock"
	"github.com/flexprice/subledger/internal/config"
	domainCatalog "github.com/flexprice/subledger/internal/domain/catalog"
	"github.com/flexprice/subledger/internal/domain/notification"
	"github.com/flexprice/subledger/internal/logger"
	"github.com/flexprice/subledger/internal/outbox"
	"github.com/flexprice/subledger/internal/postgres"
	"github.com/flexprice/subledger/internal/pubsub"
	"github.com/flexprice/subledger/internal/pubsub/kafka"
	"github.com/flexprice/subledger/internal/pubsub/memory"
	"github.com/flexprice/subledger/internal/repository"
	"github.com/flexprice/subledger/internal/sentry"
	"github.com/flexprice/subledger/internal/service"
	"github.com/flexprice/subledger/internal/temporal"
	"github.com/flexprice/subledger/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

func init() {
	// set time to UTC
	time.Local = time.UTC
}

func main() {
	var opts []fx.Option

	opts = append(opts,
		fx.Provide(
			// Config
			config.NewConfig,

			// Logger
			logger.NewLogger,

			// Cache
			provideCache,

			// Clock
			clock.New,

			// Postgres
			postgres.NewDB,
			provideDBClient,
			provideDBPinger,

			// Catalog
			provideCatalog,

			// PubSub
			providePubSub,
			providePublisher,

			// Repositories
			repository.NewBundleRepository,
			repository.NewSubscriptionRepository,
			repository.NewEventRepository,
			repository.NewNotificationRepository,
			repository.NewBusEventRepository,

			// Outbox
			provideScheduler,
			provideBus,
			outbox.NewOutbox,
			outbox.NewRelay,
		),
	)

	// Sentry
	opts = append(opts, sentry.Module())

	opts = append(opts,
		fx.Provide(
			// Services
			service.NewServiceParams,
			service.NewSubscriptionService,
			service.NewBundleService,
		),
	)

	opts = append(opts,
		fx.Provide(
			provideHandlers,
			provideRouter,
		),
		fx.Invoke(startServer),
	)

	app := fx.New(opts...)
	app.Run()
}

func provideCache(cfg *config.Configuration) cache.Cache {
	return cache.NewInMemoryCache(cfg)
}

func provideDBClient(db *postgres.DB) postgres.IClient {
	return db
}

func provideDBPinger(db *postgres.DB) v1.Pinger {
	return db
}

func provideCatalog(cfg *config.Configuration, c cache.Cache, log *logger.Logger) (domainCatalog.Catalog, error) {
	return catalog.NewStaticCatalog(cfg, c, log)
}

func providePubSub(lc fx.Lifecycle, cfg *config.Configuration, log *logger.Logger) (pubsub.PubSub, error) {
	var (
		ps  pubsub.PubSub
		err error
	)
	switch cfg.PubSub.Type {
	case types.MemoryPubSub:
		ps = memory.NewPubSub(log)
	case types.KafkaPubSub:
		ps, err = kafka.NewPubSub(cfg, log)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported pubsub type: %s", cfg.PubSub.Type)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return ps.Close()
		},
	})
	return ps, nil
}

func providePublisher(ps pubsub.PubSub) pubsub.Publisher {
	return ps
}

// provideScheduler dials temporal only when it is the configured scheduler
func provideScheduler(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	db postgres.IClient,
	repo notification.Repository,
	clock clock.Clock,
	log *logger.Logger,
) (outbox.Scheduler, error) {
	switch cfg.Outbox.Scheduler {
	case types.SchedulerPostgres:
		return outbox.NewPostgresScheduler(db, repo, log), nil
	case types.SchedulerTemporal:
		c, err := temporal.NewTemporalClient(cfg, log)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				c.Close()
				return nil
			},
		})
		return outbox.NewTemporalScheduler(cfg, c, clock, log), nil
	default:
		return nil, fmt.Errorf("unsupported outbox scheduler: %s", cfg.Outbox.Scheduler)
	}
}

func provideBus(
	cfg *config.Configuration,
	db postgres.IClient,
	repo notification.BusEventRepository,
	ps pubsub.PubSub,
	log *logger.Logger,
) (outbox.Bus, error) {
	switch cfg.Outbox.Bus {
	case types.BusPostgres:
		return outbox.NewPostgresBus(db, repo, log), nil
	case types.BusDirect:
		return outbox.NewDirectBus(cfg, ps, log), nil
	default:
		return nil, fmt.Errorf("unsupported outbox bus: %s", cfg.Outbox.Bus)
	}
}

func provideHandlers(
	db v1.Pinger,
	bundleService service.BundleService,
	subscriptionService service.SubscriptionService,
	catalog domainCatalog.Catalog,
	clock clock.Clock,
	logger *logger.Logger,
) api.Handlers {
	return api.Handlers{
		Health:       v1.NewHealthHandler(db, logger),
		Bundle:       v1.NewBundleHandler(bundleService, subscriptionService, catalog, clock, logger),
		Subscription: v1.NewSubscriptionHandler(subscriptionService, clock, logger),
	}
}

func provideRouter(handlers api.Handlers, cfg *config.Configuration, logger *logger.Logger) *gin.Engine {
	return api.NewRouter(handlers, cfg, logger)
}

func startServer(
	lc fx.Lifecycle,
	cfg *config.Configuration,
	r *gin.Engine,
	relay *outbox.Relay,
	db *postgres.DB,
	log *logger.Logger,
) error {
	mode := cfg.Deployment.Mode
	if mode == "" {
		mode = types.ModeLocal
	}

	switch mode {
	case types.ModeLocal:
		startAPIServer(lc, r, cfg, log)
		if cfg.Outbox.Bus == types.BusPostgres {
			startRelay(lc, relay, log)
		}
	case types.ModeAPI:
		startAPIServer(lc, r, cfg, log)
	case types.ModeRelay:
		if cfg.Outbox.Bus != types.BusPostgres {
			return fmt.Errorf("relay mode requires the postgres outbox bus, got %s", cfg.Outbox.Bus)
		}
		startRelay(lc, relay, log)
	default:
		return fmt.Errorf("invalid deployment mode: %s", mode)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Info("Closing postgres connection...")
			db.Close()
			return nil
		},
	})
	return nil
}

func startAPIServer(
	lc fx.Lifecycle,
	r *gin.Engine,
	cfg *config.Configuration,
	log *logger.Logger,
) {
	log.Info("Registering API server start hook")
	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("Starting API server...", "address", cfg.Server.Address)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatalf("Failed to start server: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Shutting down server...")
			return srv.Shutdown(ctx)
		},
	})
}

func startRelay(lc fx.Lifecycle, relay *outbox.Relay, log *logger.Logger) {
	log.Info("Registering outbox relay start hook")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("Starting outbox relay...")
			go func() {
				defer close(done)
				relay.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			log.Info("Stopping outbox relay...")
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
