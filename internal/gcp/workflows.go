package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"

	"github.com/Lllllllleong/documentocrflow/internal/models"
)

// WorkflowNotifier hands a finished run to a downstream Cloud Workflow.
type WorkflowNotifier struct {
	client *executions.Client
	parent string
}

// NewWorkflowNotifier creates an executions client for the given workflow.
func NewWorkflowNotifier(ctx context.Context, projectID, location, workflowID string) (*WorkflowNotifier, error) {
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &WorkflowNotifier{
		client: client,
		parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
	}, nil
}

// Notify starts a workflow execution whose argument lists the run's outputs.
func (n *WorkflowNotifier) Notify(ctx context.Context, res *models.RunPipelineResponse) error {
	outputs := make([]map[string]string, 0, len(res.Documents))
	for _, d := range res.Documents {
		outputs = append(outputs, map[string]string{"name": d.Name, "outputUri": d.OutputURI})
	}
	workflowPayload := map[string]interface{}{
		"runId":     res.RunID,
		"documents": outputs,
		"pending":   res.Pending,
	}
	payloadBytes, err := json.Marshal(workflowPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}

	req := &executionspb.CreateExecutionRequest{
		Parent: n.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := n.client.CreateExecution(ctx, req)
	if err != nil {
		return Classify("create workflow execution", fmt.Errorf("failed to trigger workflow execution: %w", err))
	}
	slog.Info("Triggered workflow.", "runId", res.RunID, "execution", exec.GetName())
	return nil
}

func (n *WorkflowNotifier) Close() error {
	return n.client.Close()
}
