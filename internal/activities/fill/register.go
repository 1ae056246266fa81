package fill

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/formpilot/formpilot/internal/workflows"
)

// Register registers the fill workflow and its activities with the Temporal worker
func Register(w worker.Worker, a *Activity) {
	w.RegisterWorkflowWithOptions(workflows.FillSheetWorkflow, workflow.RegisterOptions{
		Name: workflows.FillSheetWorkflowName,
	})

	w.RegisterActivityWithOptions(a.Fill, activity.RegisterOptions{
		Name: workflows.FillSheetActivityName,
	})

	w.RegisterActivityWithOptions(a.UpdateRunStatus, activity.RegisterOptions{
		Name: workflows.UpdateRunStatusActivityName,
	})
}
