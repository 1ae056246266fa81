package temporal

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/formpilot/formpilot/internal/config"
	"github.com/formpilot/formpilot/internal/domain"
	"github.com/formpilot/formpilot/internal/workflows"
)

// Client wraps the Temporal SDK client for starting and inspecting fill workflows
type Client struct {
	client.Client
	logger    *zap.Logger
	taskQueue string
}

// NewClient creates a new Temporal client
func NewClient(cfg config.TemporalConfig, logger *zap.Logger) (*Client, error) {
	// Create Temporal client options
	options := client.Options{
		HostPort:  cfg.Address(),
		Namespace: cfg.Namespace,
		Logger:    NewZapAdapter(logger),
	}

	// Connect to Temporal
	c, err := client.Dial(options)
	if err != nil {
		return nil, fmt.Errorf("failed to create Temporal client: %w", err)
	}

	return &Client{
		Client:    c,
		logger:    logger,
		taskQueue: cfg.TaskQueue,
	}, nil
}

// TaskQueue returns the configured task queue name
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// StartFill starts FillSheetWorkflow for a run. The workflow id is derived from the run id,
// so starting the same run twice is rejected by the server.
func (c *Client) StartFill(ctx context.Context, input workflows.FillInput) (client.WorkflowRun, error) {
	options := client.StartWorkflowOptions{
		ID:        workflows.WorkflowID(input.RunID),
		TaskQueue: c.taskQueue,
	}

	run, err := c.ExecuteWorkflow(ctx, options, workflows.FillSheetWorkflowName, input)
	if err != nil {
		return nil, fmt.Errorf("starting fill workflow: %w", err)
	}
	c.logger.Info("fill workflow started",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
	)
	return run, nil
}

// GetWorkflowStatus returns the current status of a workflow
func (c *Client) GetWorkflowStatus(ctx context.Context, workflowID, runID string) (*WorkflowStatus, error) {
	desc, err := c.DescribeWorkflowExecution(ctx, workflowID, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to describe workflow: %w", err)
	}

	info := desc.WorkflowExecutionInfo
	status := &WorkflowStatus{
		WorkflowID: info.Execution.WorkflowId,
		RunID:      info.Execution.RunId,
		Status:     info.Status.String(),
		StartTime:  info.StartTime.AsTime(),
	}

	if info.CloseTime != nil {
		closeTime := info.CloseTime.AsTime()
		status.CloseTime = &closeTime
	}

	return status, nil
}

// WorkflowStatus represents the status of a workflow execution
type WorkflowStatus struct {
	WorkflowID string
	RunID      string
	Status     string
	StartTime  time.Time
	CloseTime  *time.Time
}

// IsRunning returns true if the workflow is still running
func (s *WorkflowStatus) IsRunning() bool {
	return s.Status == "Running" || s.Status == "WORKFLOW_EXECUTION_STATUS_RUNNING"
}

// IsCompleted returns true if the workflow completed successfully
func (s *WorkflowStatus) IsCompleted() bool {
	return s.Status == "Completed" || s.Status == "WORKFLOW_EXECUTION_STATUS_COMPLETED"
}

// IsFailed returns true if the workflow failed
func (s *WorkflowStatus) IsFailed() bool {
	return s.Status == "Failed" || s.Status == "WORKFLOW_EXECUTION_STATUS_FAILED"
}

// IsCanceled returns true if the workflow was canceled
func (s *WorkflowStatus) IsCanceled() bool {
	return s.Status == "Canceled" || s.Status == "WORKFLOW_EXECUTION_STATUS_CANCELED"
}

// RunState maps the workflow status onto the run state machine. A running workflow whose
// activity has not reported yet is idle.
func (s *WorkflowStatus) RunState() domain.RunState {
	switch {
	case s.IsRunning():
		return domain.RunStateIdle
	case s.IsCompleted():
		return domain.RunStateCompleted
	default:
		return domain.RunStateFailed
	}
}

// ZapAdapter adapts zap.Logger to Temporal's log interface
type ZapAdapter struct {
	logger *zap.Logger
}

// NewZapAdapter creates a new Temporal logger adapter
func NewZapAdapter(logger *zap.Logger) *ZapAdapter {
	return &ZapAdapter{logger: logger.Named("temporal")}
}

func (z *ZapAdapter) Debug(msg string, keyvals ...interface{}) {
	z.logger.Debug(msg, toZapFields(keyvals)...)
}

func (z *ZapAdapter) Info(msg string, keyvals ...interface{}) {
	z.logger.Info(msg, toZapFields(keyvals)...)
}

func (z *ZapAdapter) Warn(msg string, keyvals ...interface{}) {
	z.logger.Warn(msg, toZapFields(keyvals)...)
}

func (z *ZapAdapter) Error(msg string, keyvals ...interface{}) {
	z.logger.Error(msg, toZapFields(keyvals)...)
}

func toZapFields(keyvals []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals)-1; i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}
	return fields
}
