package workflows

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/formpilot/formpilot/internal/domain"
)

// Activity names - must match registered activity names
const (
	FillSheetActivityName       = "FillSheetActivity"
	UpdateRunStatusActivityName = "UpdateRunStatusActivity"
)

// FillSheetWorkflowName is the registered workflow type
const FillSheetWorkflowName = "FillSheetWorkflow"

// FillInput is the input for FillSheetWorkflow
type FillInput struct {
	RunID        uuid.UUID `json:"run_id"`
	UserKey      string    `json:"user_key"`
	WorkbookPath string    `json:"workbook_path"`
	SheetName    string    `json:"sheet_name"`
}

// Request converts the input into a fill request
func (in FillInput) Request() domain.FillRequest {
	return domain.FillRequest{
		RunID:        in.RunID,
		UserKey:      in.UserKey,
		WorkbookPath: in.WorkbookPath,
		SheetName:    in.SheetName,
	}
}

// FillOutput is the output of FillSheetWorkflow
type FillOutput struct {
	RunID         uuid.UUID          `json:"run_id"`
	Status        string             `json:"status"`
	Result        *domain.FillResult `json:"result,omitempty"`
	Error         string             `json:"error,omitempty"`
	CompletedAt   time.Time          `json:"completed_at"`
	TotalDuration time.Duration      `json:"total_duration"`
}

// UpdateRunStatusInput records a run state before the fill activity picks it up
type UpdateRunStatusInput struct {
	RunID     uuid.UUID       `json:"run_id"`
	UserKey   string          `json:"user_key"`
	SheetName string          `json:"sheet_name"`
	State     domain.RunState `json:"state"`
	Error     string          `json:"error,omitempty"`
}

// WorkflowID returns the workflow id used for a run
func WorkflowID(runID uuid.UUID) string {
	return "fill-" + runID.String()
}

// FillSheetWorkflow fills one sheet on a worker. A fill that ends unsuccessfully is still
// a completed workflow; the result carries the failure. A cancelled workflow waits for the
// activity to close the browser and ends as cancelled.
func FillSheetWorkflow(ctx workflow.Context, input FillInput) (*FillOutput, error) {
	logger := workflow.GetLogger(ctx)
	startTime := workflow.Now(ctx)

	logger.Info("Starting fill workflow",
		"run_id", input.RunID.String(),
		"user", input.UserKey,
		"sheet", input.SheetName,
	)

	output := &FillOutput{
		RunID:  input.RunID,
		Status: "running",
	}

	// status lookups see the run while it waits for a worker
	if err := updateRunStatus(ctx, input, domain.RunStateIdle, ""); err != nil {
		logger.Warn("Failed to record queued run", "error", err)
	}

	result, err := executeFill(ctx, input)
	if err != nil {
		output.Status = "failed"
		output.Error = fmt.Sprintf("fill failed: %v", err)
		cancelled := temporal.IsCanceledError(err)
		if cancelled {
			output.Status = "cancelled"
			output.Error = "Automation cancelled"
			// the workflow context is already cancelled
			ctx, _ = workflow.NewDisconnectedContext(ctx)
		}
		output.CompletedAt = workflow.Now(ctx)
		output.TotalDuration = output.CompletedAt.Sub(startTime)

		if err := updateRunStatus(ctx, input, domain.RunStateFailed, output.Error); err != nil {
			logger.Warn("Failed to record failed run", "error", err)
		}
		if cancelled {
			return output, err
		}
		return output, nil
	}

	output.Result = result
	output.Status = "completed"
	if !result.IsSuccess {
		output.Status = "failed"
		output.Error = result.ErrorMessage
	}
	output.CompletedAt = workflow.Now(ctx)
	output.TotalDuration = output.CompletedAt.Sub(startTime)

	logger.Info("Fill workflow completed",
		"run_id", input.RunID.String(),
		"status", output.Status,
		"processed", result.ProcessedCount,
		"total", result.TotalCount,
	)

	return output, nil
}

// executeFill runs the fill activity. The activity heartbeats on a fixed interval while
// the fill runs; a fill is not retried once it has started typing into the form.
func executeFill(ctx workflow.Context, input FillInput) (*domain.FillResult, error) {
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		WaitForCancellation: true,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaximumAttempts: 1,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var result domain.FillResult
	if err := workflow.ExecuteActivity(ctx, FillSheetActivityName, input).Get(ctx, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func updateRunStatus(ctx workflow.Context, input FillInput, state domain.RunState, errMsg string) error {
	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	return workflow.ExecuteActivity(ctx, UpdateRunStatusActivityName, UpdateRunStatusInput{
		RunID:     input.RunID,
		UserKey:   input.UserKey,
		SheetName: input.SheetName,
		State:     state,
		Error:     errMsg,
	}).Get(ctx, nil)
}
