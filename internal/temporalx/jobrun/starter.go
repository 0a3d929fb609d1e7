package jobrun

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	temporalsdkclient "go.temporal.io/sdk/client"
)

// Starter starts one Workflow per job_run row, using the job id as workflow id.
type Starter struct {
	Client    temporalsdkclient.Client
	TaskQueue string
}

func (s Starter) StartJob(ctx context.Context, jobID uuid.UUID) error {
	if s.Client == nil {
		return fmt.Errorf("jobrun: temporal client not configured")
	}
	_, err := s.Client.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:                    jobID.String(),
		TaskQueue:             s.TaskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, WorkflowName)
	if err != nil {
		return fmt.Errorf("jobrun: start workflow %s: %w", jobID, err)
	}
	return nil
}
