package models

import "time"

// APIResponse is the standard JSON envelope for all endpoints.
type APIResponse struct {
	Status bool        `json:"status"`
	Code   string      `json:"code,omitempty"`
	Msg    string      `json:"msg"`
	Obj    interface{} `json:"obj"`
}

// CreateOperationRequest launches one bulk operation across N targets.
type CreateOperationRequest struct {
	Type           OperationType `json:"type" validate:"required"`
	OrganizationID string        `json:"organizationId" validate:"required"`
	Name           string        `json:"name"`
	Targets        []Target      `json:"targets" validate:"required,min=1,dive"`
	Parameters     Parameters    `json:"parameters"`
	Priority       string        `json:"priority" validate:"omitempty,oneof=low medium high"`
	ScheduleAt     *time.Time    `json:"scheduleAt"`
	Draft          bool          `json:"draft"`
	ExecutedBy     string        `json:"executedBy"`
}

// ControlAction is a control-plane command on an operation.
type ControlAction string

const (
	ActionStart  ControlAction = "start"
	ActionPause  ControlAction = "pause"
	ActionResume ControlAction = "resume"
	ActionCancel ControlAction = "cancel"
	ActionRetry  ControlAction = "retry"
)

// ControlOperationRequest applies a control action to an operation.
type ControlOperationRequest struct {
	OperationID    string        `json:"operationId" validate:"required"`
	OrganizationID string        `json:"organizationId" validate:"required"`
	Action         ControlAction `json:"action" validate:"required,oneof=start pause resume cancel retry"`
}

// CreateOperationResponse is returned once an operation is accepted.
type CreateOperationResponse struct {
	OperationID       string          `json:"operationId"`
	OperationType     OperationType   `json:"operationType"`
	Status            OperationStatus `json:"status"`
	ClientsAffected   []string        `json:"clientsAffected"`
	ItemsToProcess    int             `json:"itemsToProcess"`
	EstimatedDuration string          `json:"estimatedDuration"`
	StartedAt         *time.Time      `json:"startedAt,omitempty"`
	ScheduledFor      *time.Time      `json:"scheduledFor,omitempty"`
	Progress          Progress        `json:"progress"`
}

// ControlOperationResponse reports the outcome of a control action.
type ControlOperationResponse struct {
	OperationID    string          `json:"operationId"`
	Action         ControlAction   `json:"action"`
	PreviousStatus OperationStatus `json:"previousStatus"`
	NewStatus      OperationStatus `json:"newStatus"`
	ProcessedAt    time.Time       `json:"processedAt"`
}

// OperationStatusResponse is the polled status read.
type OperationStatusResponse struct {
	OperationID string          `json:"operationId"`
	Type        OperationType   `json:"type"`
	Name        string          `json:"name,omitempty"`
	Status      OperationStatus `json:"status"`
	Progress    Progress        `json:"progress"`
	Results     *Results        `json:"results,omitempty"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// OperationDataResponse is the dashboard data endpoint payload.
type OperationDataResponse struct {
	AvailableClients   []Client            `json:"availableClients"`
	BulkOperationTypes []OperationTypeInfo `json:"bulkOperationTypes"`
	RecentOperations   []Operation         `json:"recentOperations"`
	OperationStats     OperationStats      `json:"operationStats"`
}

// RecurringRequest is the optional recurrence block of a schedule.
type RecurringRequest struct {
	Frequency  Frequency  `json:"frequency" validate:"required,oneof=daily weekly monthly"`
	DaysOfWeek []int      `json:"daysOfWeek" validate:"omitempty,max=7,dive,min=0,max=6"`
	EndDate    *time.Time `json:"endDate"`
}

// CreateScheduleRequest registers a (possibly recurring) content schedule.
type CreateScheduleRequest struct {
	OrganizationID string            `json:"organizationId" validate:"required"`
	Title          string            `json:"title"`
	Targets        []Target          `json:"targets" validate:"required,min=1,dive"`
	Platforms      []string          `json:"platforms" validate:"required,min=1"`
	ScheduledAt    time.Time         `json:"scheduledAt" validate:"required"`
	Timezone       string            `json:"timezone" validate:"required"`
	Priority       string            `json:"priority" validate:"omitempty,oneof=low medium high"`
	Parameters     Parameters        `json:"parameters"`
	Recurring      *RecurringRequest `json:"recurring"`
	CreatedBy      string            `json:"createdBy"`
}

// ScheduleControlAction is a control command on a schedule.
type ScheduleControlAction string

const (
	SchedulePauseAction  ScheduleControlAction = "pause"
	ScheduleResumeAction ScheduleControlAction = "resume"
	ScheduleCancelAction ScheduleControlAction = "cancel"
)

// ControlScheduleRequest applies a control action to a schedule.
type ControlScheduleRequest struct {
	ScheduleID     string                `json:"scheduleId" validate:"required"`
	OrganizationID string                `json:"organizationId" validate:"required"`
	Action         ScheduleControlAction `json:"action" validate:"required,oneof=pause resume cancel"`
}

// CreateScheduleResponse is returned once a schedule is registered.
type CreateScheduleResponse struct {
	ScheduleID        string         `json:"scheduleId"`
	Status            ScheduleStatus `json:"status"`
	Recurring         bool           `json:"recurring"`
	InstancesCreated  int            `json:"instancesCreated"`
	UpcomingInstances []time.Time    `json:"upcomingInstances"`
}

// ControlScheduleResponse reports the outcome of a schedule control action.
type ControlScheduleResponse struct {
	ScheduleID         string                `json:"scheduleId"`
	Action             ScheduleControlAction `json:"action"`
	PreviousStatus     ScheduleStatus        `json:"previousStatus"`
	NewStatus          ScheduleStatus        `json:"newStatus"`
	CancelledInstances int64                 `json:"cancelledInstances,omitempty"`
	ProcessedAt        time.Time             `json:"processedAt"`
}
