package testutil

import (
	"context"
	"time"

	"github.com/flexprice/subledger/internal/catalog"
	"github.com/flexprice/subledger/internal/config"
	"github.com/flexprice/subledger/internal/logger"
	"github.com/flexprice/subledger/internal/outbox"
	"github.com/flexprice/subledger/internal/sentry"
	"github.com/flexprice/subledger/internal/types"
	"github.com/stretchr/testify/suite"
)

// Stores holds all the repository implementations for testing
type Stores struct {
	BundleRepo       *InMemoryBundleStore
	SubscriptionRepo *InMemorySubscriptionStore
	EventRepo        *InMemoryEventStore
	NotificationRepo *InMemoryNotificationStore
	BusEventRepo     *InMemoryBusEventStore
}

// BaseServiceTestSuite provides common functionality for all service test suites.
// The outbox schedules into NotificationRepo and publishes into BusEventRepo.
type BaseServiceTestSuite struct {
	suite.Suite
	ctx     context.Context
	stores  Stores
	db      *MockPostgresClient
	logger  *logger.Logger
	config  *config.Configuration
	clock   *FakeClock
	catalog *catalog.StaticCatalog
	outbox  *outbox.Outbox
}

// SetupSuite is called once before running the tests in the suite
func (s *BaseServiceTestSuite) SetupSuite() {
	cfg := config.GetDefaultConfig()
	cfg.Logging.Level = types.LogLevelInfo
	cfg.Sentry.Enabled = false
	s.config = cfg

	var err error
	s.logger, err = logger.NewLogger(cfg)
	if err != nil {
		s.T().Fatalf("failed to create logger: %v", err)
	}

	s.catalog, err = NewTestCatalog(s.logger)
	if err != nil {
		s.T().Fatalf("failed to parse test catalog: %v", err)
	}
}

// SetupTest is called before each test
func (s *BaseServiceTestSuite) SetupTest() {
	s.ctx = SetupContext()
	s.clock = NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s.setupStores()
}

// TearDownTest is called after each test
func (s *BaseServiceTestSuite) TearDownTest() {
	s.clearStores()
}

func (s *BaseServiceTestSuite) setupStores() {
	s.stores = Stores{
		BundleRepo:       NewInMemoryBundleStore(),
		SubscriptionRepo: NewInMemorySubscriptionStore(),
		EventRepo:        NewInMemoryEventStore(),
		NotificationRepo: NewInMemoryNotificationStore(),
		BusEventRepo:     NewInMemoryBusEventStore(),
	}
	s.db = NewMockPostgresClient(s.logger)
	s.outbox = outbox.NewOutbox(
		s.config,
		s.stores.NotificationRepo,
		s.stores.BusEventRepo,
		sentry.NewSentryService(s.config, s.logger),
		s.logger,
		s.clock,
	)
}

func (s *BaseServiceTestSuite) clearStores() {
	s.stores.BundleRepo.Clear()
	s.stores.SubscriptionRepo.Clear()
	s.stores.EventRepo.Clear()
	s.stores.NotificationRepo.Clear()
	s.stores.BusEventRepo.Clear()
}

// SetAggregateSubscriptionEvents rebuilds the outbox with the given aggregation mode
func (s *BaseServiceTestSuite) SetAggregateSubscriptionEvents(aggregate bool) {
	cfg := *s.config
	cfg.Outbox.AggregateSubscriptionEvents = aggregate
	s.outbox = outbox.NewOutbox(
		&cfg,
		s.stores.NotificationRepo,
		s.stores.BusEventRepo,
		sentry.NewSentryService(&cfg, s.logger),
		s.logger,
		s.clock,
	)
}

// GetContext returns the test context
func (s *BaseServiceTestSuite) GetContext() context.Context {
	return s.ctx
}

// GetConfig returns the test configuration
func (s *BaseServiceTestSuite) GetConfig() *config.Configuration {
	return s.config
}

// GetStores returns the in-memory stores
func (s *BaseServiceTestSuite) GetStores() Stores {
	return s.stores
}

// GetDB returns the mock database client
func (s *BaseServiceTestSuite) GetDB() *MockPostgresClient {
	return s.db
}

// GetLogger returns the test logger
func (s *BaseServiceTestSuite) GetLogger() *logger.Logger {
	return s.logger
}

// GetClock returns the fake clock, set to 2024-01-01 before each test
func (s *BaseServiceTestSuite) GetClock() *FakeClock {
	return s.clock
}

// GetCatalog returns the catalog parsed from TestCatalogYAML
func (s *BaseServiceTestSuite) GetCatalog() *catalog.StaticCatalog {
	return s.catalog
}

// GetOutbox returns the outbox wired to the in-memory notification and bus stores
func (s *BaseServiceTestSuite) GetOutbox() *outbox.Outbox {
	return s.outbox
}

// Date is a UTC midnight shorthand for fixtures
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
