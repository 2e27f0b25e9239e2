package platform

import (
	"context"
	"fmt"

	"thrivesend/internal/engine"
	"thrivesend/internal/models"
)

// PublishExecutor pushes one content item live on a client's channels.
type PublishExecutor struct {
	gw *Gateway
}

func NewPublishExecutor(gw *Gateway) *PublishExecutor {
	return &PublishExecutor{gw: gw}
}

func (e *PublishExecutor) Type() models.OperationType {
	return models.OperationContentPublish
}

func (e *PublishExecutor) Run(ctx context.Context, target models.Target, params models.Parameters) (*engine.ExecResult, error) {
	url := fmt.Sprintf("/v1/clients/%s/content/%s/publish", target.ClientID, target.ItemID)
	resp, err := e.gw.client.Post(ctx, url, map[string]interface{}{
		"channels": params["channels"],
		"message":  params["message"],
	})
	if err != nil {
		return nil, engine.Retryable(err)
	}
	if err := classify(resp, "publish content"); err != nil {
		return nil, err
	}
	return &engine.ExecResult{ItemsProcessed: 1, Detail: "published"}, nil
}
