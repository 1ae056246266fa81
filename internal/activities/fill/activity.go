package fill

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot/internal/domain"
	"github.com/formpilot/formpilot/internal/observability"
	"github.com/formpilot/formpilot/internal/workflows"
)

// DefaultHeartbeatInterval keeps the fill activity well inside its heartbeat timeout
const DefaultHeartbeatInterval = 20 * time.Second

// Runner executes fills and records run state
type Runner interface {
	Run(ctx context.Context, req domain.FillRequest) *domain.FillResult
	Cancel(ctx context.Context, userKey string) error
	Track(ctx context.Context, run *domain.RunRecord)
}

// Activity runs fills on a Temporal worker
type Activity struct {
	runner    Runner
	metrics   *observability.Metrics
	logger    *zap.Logger
	heartbeat time.Duration
}

// NewActivity creates the fill activity. metrics may be nil.
func NewActivity(runner Runner, metrics *observability.Metrics, logger *zap.Logger) *Activity {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activity{
		runner:    runner,
		metrics:   metrics,
		logger:    logger,
		heartbeat: DefaultHeartbeatInterval,
	}
}

// Fill runs one sheet. An unsuccessful fill is returned as a result, not an error.
// Cancellation of the workflow reaches the activity through its heartbeat and closes the
// browser, which stops the run between answers.
func (a *Activity) Fill(ctx context.Context, input workflows.FillInput) (*domain.FillResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Starting fill activity",
		"run_id", input.RunID.String(),
		"sheet", input.SheetName,
	)

	done := make(chan struct{})
	defer close(done)
	go a.keepAlive(ctx, done, input, func(details string) {
		activity.RecordHeartbeat(ctx, details)
	})

	activity.RecordHeartbeat(ctx, "starting "+input.SheetName)
	result := a.runner.Run(ctx, input.Request())

	status := "success"
	if !result.IsSuccess {
		status = "failed"
	}
	if a.metrics != nil {
		a.metrics.RecordActivityExecution(workflows.FillSheetActivityName, status)
	}

	a.logger.Info("fill activity finished",
		zap.String("run_id", input.RunID.String()),
		zap.String("status", status),
		zap.Int("processed", result.ProcessedCount),
	)
	return result, nil
}

// keepAlive heartbeats until done closes. If ctx is cancelled first the user's browser is
// closed, which fails the run's next browser call.
func (a *Activity) keepAlive(ctx context.Context, done <-chan struct{}, input workflows.FillInput, heartbeat func(string)) {
	ticker := time.NewTicker(a.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			select {
			case <-done:
				return
			default:
			}
			a.logger.Info("fill cancelled by workflow",
				zap.String("run_id", input.RunID.String()),
				zap.String("user", input.UserKey),
			)
			if err := a.runner.Cancel(context.WithoutCancel(ctx), input.UserKey); err != nil {
				a.logger.Warn("closing browser after cancellation", zap.Error(err))
			}
			return
		case <-ticker.C:
			heartbeat("filling " + input.SheetName)
		}
	}
}

// UpdateRunStatus records run state for status lookups
func (a *Activity) UpdateRunStatus(ctx context.Context, input workflows.UpdateRunStatusInput) error {
	logger := activity.GetLogger(ctx)
	logger.Info("Updating run status",
		"run_id", input.RunID.String(),
		"state", string(input.State),
	)

	now := time.Now().UTC()
	run := &domain.RunRecord{
		RunID:     input.RunID,
		UserKey:   input.UserKey,
		SheetName: input.SheetName,
		State:     input.State,
		StartedAt: now,
	}
	if input.Error != "" {
		run.Result = &domain.FillResult{
			RunID:        input.RunID,
			Status:       "Failed",
			ErrorMessage: input.Error,
		}
	}
	a.runner.Track(ctx, run)

	if a.metrics != nil {
		a.metrics.RecordActivityExecution(workflows.UpdateRunStatusActivityName, "success")
	}
	return nil
}
