// Package schedule triggers the daily ingestion through a Temporal cron
// workflow.
package schedule

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/yesterday/internal/ingest"
	"github.com/sells-group/yesterday/internal/model"
)

const (
	WorkflowName      = "DailyIngestWorkflow"
	DefaultWorkflowID = "yesterday-daily-ingest"
	DefaultTaskQueue  = "yesterday-ingest"
	DefaultCron       = "0 2 * * *"
)

// DailyIngestInput targets one date. An empty Date means the London
// calendar day before the workflow's start time.
type DailyIngestInput struct {
	Date string `json:"date,omitempty"`
}

var ingestActivityOptions = workflow.ActivityOptions{
	StartToCloseTimeout: 30 * time.Minute,
	RetryPolicy: &temporal.RetryPolicy{
		// Ingest reports failure in its result; only infrastructure errors
		// (worker lost, timeout) reach the retry policy.
		InitialInterval:    30 * time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    10 * time.Minute,
		MaximumAttempts:    3,
	},
}

// Yesterday returns the London calendar day before now.
func Yesterday(now time.Time) model.Date {
	return YesterdayIn(now, ingest.London())
}

// YesterdayIn returns the calendar day before now in loc.
func YesterdayIn(now time.Time, loc *time.Location) model.Date {
	return model.DateOf(now.In(loc)).AddDays(-1)
}

// DailyIngestWorkflow resolves the target date and runs one ingestion.
// A FAILED run completes the workflow normally; the failure is already
// recorded in the run table.
func DailyIngestWorkflow(ctx workflow.Context, in DailyIngestInput) (model.RunResult, error) {
	date := in.Date
	if date == "" {
		date = Yesterday(workflow.Now(ctx)).String()
	}
	if _, err := model.ParseDate(date); err != nil {
		return model.RunResult{}, temporal.NewNonRetryableApplicationError("invalid date", "InvalidDate", err)
	}

	ctx = workflow.WithActivityOptions(ctx, ingestActivityOptions)
	workflow.GetLogger(ctx).Info("daily ingest triggered", "date", date)

	var a *Activities
	var result model.RunResult
	if err := workflow.ExecuteActivity(ctx, a.IngestDate, date).Get(ctx, &result); err != nil {
		return model.RunResult{}, err
	}
	return result, nil
}

// Ingester runs one ingestion for a calendar date.
type Ingester interface {
	Ingest(ctx context.Context, date model.Date) model.RunResult
}

// Activities wraps the ingestion service for the worker.
type Activities struct {
	ingester Ingester
}

// NewActivities creates the activity set.
func NewActivities(ing Ingester) *Activities {
	return &Activities{ingester: ing}
}

// IngestDate runs ingestion for date (YYYY-MM-DD).
func (a *Activities) IngestDate(ctx context.Context, date string) (model.RunResult, error) {
	d, err := model.ParseDate(date)
	if err != nil {
		return model.RunResult{}, temporal.NewNonRetryableApplicationError("invalid date", "InvalidDate", err)
	}

	log := zap.L().With(zap.String("component", "schedule"), zap.String("date", date))
	result := a.ingester.Ingest(ctx, d)
	if result.Status == model.RunStatusFailed {
		log.Error("scheduled ingestion failed",
			zap.String("run_id", result.RunID),
			zap.String("error", result.ErrorMessage),
		)
		return result, nil
	}
	log.Info("scheduled ingestion finished",
		zap.String("run_id", result.RunID),
		zap.String("status", string(result.Status)),
		zap.Int("total", result.TotalCount),
	)
	return result, nil
}

// Register adds the workflow and activities to a worker.
func Register(r worker.Registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(DailyIngestWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivity(acts)
}

// CronOptions configures the recurring workflow.
type CronOptions struct {
	WorkflowID string
	TaskQueue  string
	Cron       string
	Timezone   string
}

// cronSchedule prefixes the expression with its zone.
func (o CronOptions) cronSchedule() string {
	if o.Timezone == "" {
		return o.Cron
	}
	return "CRON_TZ=" + o.Timezone + " " + o.Cron
}

// StartCron starts (or joins) the cron workflow on the Temporal server.
func StartCron(ctx context.Context, c client.Client, opts CronOptions) (client.WorkflowRun, error) {
	if opts.WorkflowID == "" {
		opts.WorkflowID = DefaultWorkflowID
	}
	if opts.TaskQueue == "" {
		opts.TaskQueue = DefaultTaskQueue
	}
	if opts.Cron == "" {
		opts.Cron = DefaultCron
	}

	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:           opts.WorkflowID,
		TaskQueue:    opts.TaskQueue,
		CronSchedule: opts.cronSchedule(),
	}, WorkflowName, DailyIngestInput{})
	if err != nil {
		return nil, eris.Wrap(err, "schedule: start cron workflow")
	}
	zap.L().Info("cron workflow started",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
		zap.String("cron", opts.cronSchedule()),
	)
	return run, nil
}
