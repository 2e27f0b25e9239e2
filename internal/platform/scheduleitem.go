package platform

import (
	"context"
	"fmt"
	"time"

	"thrivesend/internal/engine"
	"thrivesend/internal/models"
)

// ScheduleExecutor books one content item for later publication on the
// downstream calendar.
type ScheduleExecutor struct {
	gw *Gateway
}

func NewScheduleExecutor(gw *Gateway) *ScheduleExecutor {
	return &ScheduleExecutor{gw: gw}
}

func (e *ScheduleExecutor) Type() models.OperationType {
	return models.OperationContentSchedule
}

func (e *ScheduleExecutor) Run(ctx context.Context, target models.Target, params models.Parameters) (*engine.ExecResult, error) {
	publishAt, _ := params["publishAt"].(string)
	if publishAt == "" {
		return nil, engine.Terminal(fmt.Errorf("schedule content: missing publishAt parameter"))
	}
	if _, err := time.Parse(time.RFC3339, publishAt); err != nil {
		return nil, engine.Terminal(fmt.Errorf("schedule content: bad publishAt %q: %w", publishAt, err))
	}

	url := fmt.Sprintf("/v1/clients/%s/content/%s/schedule", target.ClientID, target.ItemID)
	resp, err := e.gw.client.Post(ctx, url, map[string]interface{}{
		"publishAt": publishAt,
		"platforms": params["platforms"],
	})
	if err != nil {
		return nil, engine.Retryable(err)
	}
	if err := classify(resp, "schedule content"); err != nil {
		return nil, err
	}
	return &engine.ExecResult{ItemsProcessed: 1, Detail: "scheduled for " + publishAt}, nil
}
