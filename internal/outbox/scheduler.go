package outbox

import (
	"context"
	"fmt"

	"github.com/flexprice/subledger/internal/clock"
	"github.com/flexprice/subledger/internal/config"
	"github.com/flexprice/subledger/internal/domain/notification"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/logger"
	"github.com/flexprice/subledger/internal/postgres"
	"go.temporal.io/sdk/client"
)

// PostgresScheduler writes notifications to the queue table. The row commits
// or rolls back with the event that produced it. Each insert runs in its own
// savepoint so a failed insert leaves the caller's transaction usable.
type PostgresScheduler struct {
	db     postgres.IClient
	repo   notification.Repository
	logger *logger.Logger
}

func NewPostgresScheduler(db postgres.IClient, repo notification.Repository, logger *logger.Logger) *PostgresScheduler {
	return &PostgresScheduler{db: db, repo: repo, logger: logger}
}

func (s *PostgresScheduler) ScheduleAt(ctx context.Context, n *notification.Notification) error {
	err := s.db.WithTx(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, n)
	})
	if err != nil {
		return err
	}

	s.logger.Debugw("scheduled subscription notification",
		"notification_id", n.ID,
		"event_id", n.EventID,
		"effective_date", n.EffectiveDate,
	)
	return nil
}

// WorkflowStarter is the part of the temporal client the scheduler needs
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// TemporalScheduler starts one delayed workflow per notification. Temporal
// cannot enlist in the SQL transaction, so a rolled back operation may still
// leave a started workflow; the workflow is expected to re-read the event.
type TemporalScheduler struct {
	client    WorkflowStarter
	taskQueue string
	workflow  string
	clock     clock.Clock
	logger    *logger.Logger
}

func NewTemporalScheduler(cfg *config.Configuration, c WorkflowStarter, clock clock.Clock, logger *logger.Logger) *TemporalScheduler {
	return &TemporalScheduler{
		client:    c,
		taskQueue: cfg.Temporal.TaskQueue,
		workflow:  cfg.Temporal.Workflow,
		clock:     clock,
		logger:    logger,
	}
}

func (s *TemporalScheduler) ScheduleAt(ctx context.Context, n *notification.Notification) error {
	delay := n.EffectiveDate.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}

	options := client.StartWorkflowOptions{
		ID:         fmt.Sprintf("%s-notification", n.EventID),
		TaskQueue:  s.taskQueue,
		StartDelay: delay,
	}

	run, err := s.client.ExecuteWorkflow(ctx, options, s.workflow, n)
	if err != nil {
		return ierr.WithError(err).
			WithHintf("failed to start %s workflow", s.workflow).
			WithReportableDetails(map[string]any{
				"event_id":   n.EventID,
				"task_queue": s.taskQueue,
			}).
			Mark(ierr.ErrSystem)
	}

	s.logger.Debugw("started delayed notification workflow",
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
		"event_id", n.EventID,
		"start_delay", delay,
	)
	return nil
}
