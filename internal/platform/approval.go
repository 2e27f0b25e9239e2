package platform

import (
	"context"
	"fmt"

	"thrivesend/internal/engine"
	"thrivesend/internal/models"
)

// ApprovalExecutor submits one content item into a client's approval
// workflow.
type ApprovalExecutor struct {
	gw *Gateway
}

func NewApprovalExecutor(gw *Gateway) *ApprovalExecutor {
	return &ApprovalExecutor{gw: gw}
}

func (e *ApprovalExecutor) Type() models.OperationType {
	return models.OperationApprovalSubmit
}

func (e *ApprovalExecutor) Run(ctx context.Context, target models.Target, params models.Parameters) (*engine.ExecResult, error) {
	url := fmt.Sprintf("/v1/clients/%s/content/%s/approvals", target.ClientID, target.ItemID)
	resp, err := e.gw.client.Post(ctx, url, map[string]interface{}{
		"reviewers": params["reviewers"],
		"note":      params["note"],
	})
	if err != nil {
		return nil, engine.Retryable(err)
	}
	if err := classify(resp, "submit approval"); err != nil {
		return nil, err
	}
	return &engine.ExecResult{ItemsProcessed: 1, Detail: "submitted for approval"}, nil
}
