package models

import (
	"fmt"
	"math"
)

// OperationTypeInfo describes one entry of the bulk-operation catalog
// shown by the dashboard before an operation is launched.
type OperationTypeInfo struct {
	ID            OperationType `json:"id"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	EstimatedTime string        `json:"estimatedTime"`
	AffectedItems string        `json:"affectedItems"`
}

var operationCatalog = []OperationTypeInfo{
	{
		ID:            OperationContentPublish,
		Name:          "Bulk Content Publishing",
		Description:   "Publish multiple pieces of content across selected clients",
		EstimatedTime: "5-10 minutes",
		AffectedItems: "Content items in draft status",
	},
	{
		ID:            OperationContentSchedule,
		Name:          "Bulk Content Scheduling",
		Description:   "Schedule content publication across multiple clients",
		EstimatedTime: "3-7 minutes",
		AffectedItems: "Approved content items",
	},
	{
		ID:            OperationApprovalSubmit,
		Name:          "Bulk Approval Submission",
		Description:   "Submit multiple content items for approval workflow",
		EstimatedTime: "2-5 minutes",
		AffectedItems: "Draft content items",
	},
	{
		ID:            OperationTemplateApply,
		Name:          "Bulk Template Application",
		Description:   "Apply templates to create content for multiple clients",
		EstimatedTime: "8-15 minutes",
		AffectedItems: "Selected templates",
	},
	{
		ID:            OperationAnalyticsExport,
		Name:          "Bulk Analytics Export",
		Description:   "Export analytics data for multiple clients",
		EstimatedTime: "2-4 minutes",
		AffectedItems: "Client analytics data",
	},
}

// OperationCatalog returns the supported operation types with their
// display metadata.
func OperationCatalog() []OperationTypeInfo {
	out := make([]OperationTypeInfo, len(operationCatalog))
	copy(out, operationCatalog)
	return out
}

// KnownOperationType reports whether t is a catalogued operation type.
func KnownOperationType(t OperationType) bool {
	for _, info := range operationCatalog {
		if info.ID == t {
			return true
		}
	}
	return false
}

var baseMinutes = map[OperationType]float64{
	OperationContentPublish:  2,
	OperationContentSchedule: 1,
	OperationApprovalSubmit:  1.5,
	OperationTemplateApply:   3,
	OperationAnalyticsExport: 1,
}

// EstimateDuration returns the human-readable duration estimate reported
// at create time: a per-type base plus half a minute per client and a
// fifth of a minute per item.
func EstimateDuration(t OperationType, clientCount, itemCount int) string {
	base, ok := baseMinutes[t]
	if !ok {
		base = 2
	}
	estimated := base + float64(clientCount)*0.5 + float64(itemCount)*0.2
	return fmt.Sprintf("%d minutes", int(math.Ceil(estimated)))
}

// StepLabel is the human-readable current step shown while subtasks of
// the given type are executing.
func StepLabel(t OperationType) string {
	switch t {
	case OperationContentPublish:
		return "Publishing content across clients..."
	case OperationContentSchedule:
		return "Scheduling content for publication..."
	case OperationApprovalSubmit:
		return "Submitting items for approval workflow..."
	case OperationTemplateApply:
		return "Applying templates to selected clients..."
	case OperationAnalyticsExport:
		return "Generating analytics reports..."
	default:
		return "Processing..."
	}
}

// OperationStats summarizes recent operation activity for the dashboard
// metric cards and the daily ops report.
type OperationStats struct {
	TotalOperations      int     `json:"totalOperationsToday"`
	SuccessRate          float64 `json:"successRate"`
	AvgExecutionTime     string  `json:"avgExecutionTime"`
	TotalItemsProcessed  int     `json:"totalItemsProcessed"`
	TotalClientsAffected int     `json:"totalClientsAffected"`
}
