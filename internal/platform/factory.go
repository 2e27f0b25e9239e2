package platform

import (
	"thrivesend/internal/engine"
)

// NewRegistry wires every supported operation type to its executor.
func NewRegistry(gw *Gateway) *engine.Registry {
	reg := engine.NewRegistry()
	reg.Register(NewPublishExecutor(gw))
	reg.Register(NewScheduleExecutor(gw))
	reg.Register(NewApprovalExecutor(gw))
	reg.Register(NewTemplateExecutor(gw))
	reg.Register(NewExportExecutor(gw))
	return reg
}
