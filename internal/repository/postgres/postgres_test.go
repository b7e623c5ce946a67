package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/flexprice/subledger/internal/domain/bundle"
	"github.com/flexprice/subledger/internal/domain/event"
	"github.com/flexprice/subledger/internal/domain/notification"
	"github.com/flexprice/subledger/internal/domain/subscription"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/logger"
	"github.com/flexprice/subledger/internal/postgres"
	repo "github.com/flexprice/subledger/internal/repository/postgres"
	"github.com/flexprice/subledger/internal/testutil"
	"github.com/flexprice/subledger/internal/types"
	"github.com/flexprice/subledger/migrations"
	"github.com/golang-migrate/migrate/v4"
	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	dbUser     = "postgres"
	dbPassword = "postgres"
	dbName     = "subledger_test"
)

type RepositorySuite struct {
	suite.Suite
	ctx       context.Context
	container testcontainers.Container
	db        *sqlx.DB
	client    *postgres.DB

	bundles       bundle.Repository
	subscriptions subscription.Repository
	events        event.Repository
	notifications notification.Repository
	busEvents     notification.BusEventRepository
}

func TestRepositories(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration tests in short mode")
	}
	suite.Run(t, new(RepositorySuite))
}

func (s *RepositorySuite) SetupSuite() {
	s.ctx = testutil.SetupContext()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     dbUser,
			"POSTGRES_PASSWORD": dbPassword,
			"POSTGRES_DB":       dbName,
		},
		WaitingFor: wait.ForSQL("5432/tcp", "postgres", func(host string, port nat.Port) string {
			return dsn(host, port.Port())
		}).WithStartupTimeout(time.Minute),
	}

	container, err := testcontainers.GenericContainer(s.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	s.Require().NoError(err)
	s.container = container

	host, err := container.Host(s.ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(s.ctx, "5432")
	s.Require().NoError(err)

	s.db, err = sqlx.Connect("postgres", dsn(host, port.Port()))
	s.Require().NoError(err)
	s.Require().NoError(migrateUp(s.db))

	log := logger.NewNoopLogger()
	s.client = postgres.NewFromSqlx(s.db, log)
	s.bundles = repo.NewBundleRepository(s.client, log)
	s.subscriptions = repo.NewSubscriptionRepository(s.client, log)
	s.events = repo.NewEventRepository(s.client, log)
	s.notifications = repo.NewNotificationRepository(s.client, log)
	s.busEvents = repo.NewBusEventRepository(s.client, log)
}

func (s *RepositorySuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.container != nil {
		s.NoError(s.container.Terminate(context.Background()))
	}
}

func (s *RepositorySuite) SetupTest() {
	_, err := s.db.ExecContext(s.ctx,
		`TRUNCATE bus_events, subscription_notifications, subscription_events, subscriptions, bundles`)
	s.Require().NoError(err)
}

func dsn(host, port string) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		host, port, dbUser, dbPassword, dbName)
}

func migrateUp(db *sqlx.DB) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}
	driver, err := pgmigrate.WithInstance(db.DB, &pgmigrate.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *RepositorySuite) createBundle(accountID, key string) *bundle.Bundle {
	b := &bundle.Bundle{
		ID:                  types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BUNDLE),
		AccountID:           accountID,
		ExternalKey:         key,
		OriginalCreatedDate: testutil.Date(2024, 1, 1),
		BaseModel:           types.GetDefaultBaseModel(s.ctx),
	}
	s.Require().NoError(s.bundles.Create(s.ctx, b))
	return b
}

func (s *RepositorySuite) createSubscription(b *bundle.Bundle) *subscription.Subscription {
	sub := &subscription.Subscription{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION),
		BundleID:        b.ID,
		AccountID:       b.AccountID,
		Category:        types.ProductCategoryBase,
		AlignStartDate:  testutil.Date(2024, 1, 1),
		BundleStartDate: testutil.Date(2024, 1, 1),
		BaseModel:       types.GetDefaultBaseModel(s.ctx),
	}
	s.Require().NoError(s.subscriptions.Create(s.ctx, sub))
	return sub
}

func (s *RepositorySuite) createEvent(e *event.Event) *event.Event {
	stored, err := s.events.Create(s.ctx, e)
	s.Require().NoError(err)
	return stored
}

func ids(events []*event.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.ID)
	}
	return out
}

func (s *RepositorySuite) TestBundleKeys() {
	b := s.createBundle("acc-1", "gold")

	got, err := s.bundles.GetByAccountAndKey(s.ctx, "acc-1", "gold")
	s.Require().NoError(err)
	s.Equal(b.ID, got.ID)
	s.True(b.OriginalCreatedDate.Equal(got.OriginalCreatedDate))

	_, err = s.bundles.GetByAccountAndKey(s.ctx, "acc-2", "gold")
	s.True(ierr.IsNotFound(err))

	dup := &bundle.Bundle{
		ID:                  types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BUNDLE),
		AccountID:           "acc-1",
		ExternalKey:         "gold",
		OriginalCreatedDate: testutil.Date(2024, 2, 1),
		BaseModel:           types.GetDefaultBaseModel(s.ctx),
	}
	s.True(ierr.IsAlreadyExists(s.bundles.Create(s.ctx, dup)))

	s.Require().NoError(s.bundles.RenameExternalKey(s.ctx, []string{b.ID}, types.ExternalKeyPrefixCancelled))
	renamed, err := s.bundles.Get(s.ctx, b.ID)
	s.Require().NoError(err)
	s.Equal(bundle.RenamedExternalKey(types.ExternalKeyPrefixCancelled, b.ID, "gold"), renamed.ExternalKey)

	// the key is free again once renamed
	fresh := s.createBundle("acc-1", "gold")
	s.createBundle("acc-2", "gold")
	s.createBundle("acc-1", "gold_plus")

	like, err := s.bundles.ListByAccountLikeKey(s.ctx, "acc-1", "gold")
	s.Require().NoError(err)
	s.Len(like, 2)

	all, err := s.bundles.ListByLikeKey(s.ctx, "gold")
	s.Require().NoError(err)
	s.Len(all, 3)

	exact, err := s.bundles.ListByKey(s.ctx, "gold")
	s.Require().NoError(err)
	s.Len(exact, 2)

	s.Require().NoError(s.bundles.UpdateExternalKey(s.ctx, fresh.ID, "platinum"))
	s.True(ierr.IsNotFound(s.bundles.UpdateExternalKey(s.ctx, "bndl_missing", "platinum")))
}

func (s *RepositorySuite) TestSubscriptions() {
	b := s.createBundle("acc-1", "gold")
	first := s.createSubscription(b)
	second := s.createSubscription(b)

	byBundle, err := s.subscriptions.ListByBundle(s.ctx, b.ID)
	s.Require().NoError(err)
	s.Len(byBundle, 2)

	ctd := testutil.Date(2024, 2, 1)
	s.Require().NoError(s.subscriptions.UpdateChargedThroughDate(s.ctx, []string{first.ID, second.ID}, ctd))

	got, err := s.subscriptions.Get(s.ctx, first.ID)
	s.Require().NoError(err)
	s.Require().NotNil(got.ChargedThroughDate)
	s.True(ctd.Equal(*got.ChargedThroughDate))

	byAccount, err := s.subscriptions.ListByAccount(s.ctx, "acc-1")
	s.Require().NoError(err)
	s.Len(byAccount, 2)

	_, err = s.subscriptions.Get(s.ctx, "subs_missing")
	s.True(ierr.IsNotFound(err))
}

func (s *RepositorySuite) TestEventOrderingAndQueries() {
	sub := s.createSubscription(s.createBundle("acc-1", "gold"))
	at := testutil.Date(2024, 1, 1)

	create := s.createEvent(event.NewAPIEvent(sub.ID, types.APIEventTypeCreate,
		event.PlanRef{PlanName: "pistol-monthly", PriceListName: "DEFAULT"}, at, at))
	phase := s.createEvent(event.NewPhaseEvent(sub.ID, "pistol-monthly-evergreen", testutil.Date(2024, 1, 31), at))
	// same effective date as the create, inserted later
	bcd := s.createEvent(event.NewBCDEvent(sub.ID, 15, at, at))
	cancel := s.createEvent(event.NewCancelEvent(sub.ID, testutil.Date(2024, 3, 1), at))

	s.Greater(phase.TotalOrdering, create.TotalOrdering)
	s.Greater(bcd.TotalOrdering, phase.TotalOrdering)
	s.True(create.FromDisk)

	active, err := s.events.ListActive(s.ctx, sub.ID)
	s.Require().NoError(err)
	s.Equal([]string{create.ID, bcd.ID, phase.ID, cancel.ID}, ids(active))
	s.Equal("pistol-monthly", active[0].User.PlanName)
	s.Equal(15, active[1].BCD.BillCycleDayLocal)
	s.Equal("pistol-monthly-evergreen", active[2].Phase.PhaseName)

	future, err := s.events.ListFutureActive(s.ctx, sub.ID, testutil.Date(2024, 1, 31))
	s.Require().NoError(err)
	s.Equal([]string{cancel.ID}, ids(future))

	// the create is never returned even when it is effective on asOf
	presentOrFuture, err := s.events.ListFutureOrPresentActive(s.ctx, sub.ID, at)
	s.Require().NoError(err)
	s.Equal([]string{bcd.ID, phase.ID, cancel.ID}, ids(presentOrFuture))

	s.Require().NoError(s.events.Deactivate(s.ctx, cancel.ID))
	s.Require().NoError(s.events.Deactivate(s.ctx, cancel.ID))

	active, err = s.events.ListActive(s.ctx, sub.ID)
	s.Require().NoError(err)
	s.Len(active, 3)

	all, err := s.events.ListAll(s.ctx, sub.ID)
	s.Require().NoError(err)
	s.Len(all, 4)
	s.False(all[3].IsActive)

	got, err := s.events.Get(s.ctx, cancel.ID)
	s.Require().NoError(err)
	s.False(got.IsActive)
	s.True(got.EffectiveDate.Equal(testutil.Date(2024, 3, 1)))

	_, err = s.events.Get(s.ctx, "sevt_missing")
	s.True(ierr.IsNotFound(err))
}

func (s *RepositorySuite) TestListActiveBySubscriptionIDs() {
	b := s.createBundle("acc-1", "gold")
	base, addon := s.createSubscription(b), s.createSubscription(b)
	at := testutil.Date(2024, 1, 1)

	s.createEvent(event.NewAPIEvent(base.ID, types.APIEventTypeCreate, event.PlanRef{PlanName: "pistol-monthly"}, at, at))
	s.createEvent(event.NewAPIEvent(addon.ID, types.APIEventTypeCreate, event.PlanRef{PlanName: "bullets-monthly"}, at, at))
	s.createEvent(event.NewQuantityEvent(addon.ID, 3, testutil.Date(2024, 2, 1), at))

	events, err := s.events.ListActiveBySubscriptionIDs(s.ctx, []string{base.ID, addon.ID})
	s.Require().NoError(err)
	s.Len(events, 3)

	none, err := s.events.ListActiveBySubscriptionIDs(s.ctx, nil)
	s.Require().NoError(err)
	s.Empty(none)
}

func (s *RepositorySuite) TestWithTxRollback() {
	sub := s.createSubscription(s.createBundle("acc-1", "gold"))
	at := testutil.Date(2024, 1, 1)

	err := s.client.WithTx(s.ctx, func(ctx context.Context) error {
		if _, err := s.events.Create(ctx, event.NewCancelEvent(sub.ID, at, at)); err != nil {
			return err
		}
		return errors.New("abort")
	})
	s.Error(err)

	events, err := s.events.ListAll(s.ctx, sub.ID)
	s.Require().NoError(err)
	s.Empty(events)

	err = s.client.WithTx(s.ctx, func(ctx context.Context) error {
		_, err := s.events.Create(ctx, event.NewCancelEvent(sub.ID, at, at))
		return err
	})
	s.Require().NoError(err)

	events, err = s.events.ListAll(s.ctx, sub.ID)
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *RepositorySuite) TestNotifications() {
	n := &notification.Notification{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_NOTIFICATION),
		EventID:         "sevt_1",
		SubscriptionID:  "subs_1",
		AccountID:       "acc-1",
		UserToken:       types.GetRequestID(s.ctx),
		EffectiveDate:   testutil.Date(2024, 3, 1),
		ProcessingState: types.ProcessingStateAvailable,
		CreatedAt:       testutil.Date(2024, 1, 1),
	}
	s.Require().NoError(s.notifications.Create(s.ctx, n))

	got, err := s.notifications.ListBySubscription(s.ctx, "subs_1")
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal("sevt_1", got[0].EventID)
	s.True(got[0].EffectiveDate.Equal(n.EffectiveDate))
}

func (s *RepositorySuite) createBusEvent(createdAt time.Time) *notification.BusEvent {
	payload, err := json.Marshal(notification.RequestedSubscriptionEvent{SubscriptionID: "subs_1"})
	s.Require().NoError(err)

	e := &notification.BusEvent{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BUS_EVENT),
		EventName:       notification.EventNameRequestedSubscription,
		Payload:         payload,
		SearchKey:       "acc-1",
		UserToken:       "req-1",
		ProcessingState: types.ProcessingStateAvailable,
		CreatedAt:       createdAt,
	}
	s.Require().NoError(s.busEvents.Create(s.ctx, e))
	return e
}

func (s *RepositorySuite) TestBusEvents() {
	older := s.createBusEvent(testutil.Date(2024, 1, 1))
	newer := s.createBusEvent(testutil.Date(2024, 1, 2))
	failing := s.createBusEvent(testutil.Date(2024, 1, 3))

	available, err := s.busEvents.ListAvailable(s.ctx, 2)
	s.Require().NoError(err)
	s.Require().Len(available, 2)
	s.Equal(older.ID, available[0].ID)
	s.Equal(newer.ID, available[1].ID)
	s.JSONEq(string(older.Payload), string(available[0].Payload))

	s.Require().NoError(s.busEvents.MarkProcessed(s.ctx, older.ID, testutil.Date(2024, 1, 5)))
	s.Require().NoError(s.busEvents.MarkFailed(s.ctx, newer.ID, "broker unavailable", false))
	s.Require().NoError(s.busEvents.MarkFailed(s.ctx, failing.ID, "broker unavailable", true))

	available, err = s.busEvents.ListAvailable(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(available, 1)
	s.Equal(newer.ID, available[0].ID)
	s.Equal(1, available[0].ErrorCount)
	s.Require().NotNil(available[0].LastError)
	s.Equal("broker unavailable", *available[0].LastError)
}
