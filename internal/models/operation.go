package models

import (
	"encoding/json"
	"strings"
	"time"
)

// OperationType identifies which bulk action an operation performs.
type OperationType string

const (
	OperationContentPublish  OperationType = "content-publish"
	OperationContentSchedule OperationType = "content-schedule"
	OperationApprovalSubmit  OperationType = "approval-submit"
	OperationTemplateApply   OperationType = "template-apply"
	OperationAnalyticsExport OperationType = "analytics-export"
)

// OperationStatus is the aggregate state of a bulk operation.
type OperationStatus string

const (
	OperationDraft      OperationStatus = "draft"
	OperationScheduled  OperationStatus = "scheduled"
	OperationInProgress OperationStatus = "in_progress"
	OperationPaused     OperationStatus = "paused"
	OperationCompleted  OperationStatus = "completed"
	OperationFailed     OperationStatus = "failed"
	OperationCancelled  OperationStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
// A failed operation is not terminal: retry moves it back to in_progress.
func (s OperationStatus) Terminal() bool {
	return s == OperationCompleted || s == OperationCancelled
}

// SubTaskStatus is the state of a single (operation, target) unit of work.
type SubTaskStatus string

const (
	SubTaskPending   SubTaskStatus = "pending"
	SubTaskRunning   SubTaskStatus = "running"
	SubTaskSucceeded SubTaskStatus = "succeeded"
	SubTaskFailed    SubTaskStatus = "failed"
	SubTaskSkipped   SubTaskStatus = "skipped"
	SubTaskCancelled SubTaskStatus = "cancelled"
)

// Terminal reports whether the subtask has reached a final state.
func (s SubTaskStatus) Terminal() bool {
	switch s {
	case SubTaskSucceeded, SubTaskFailed, SubTaskSkipped, SubTaskCancelled:
		return true
	}
	return false
}

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Target is one (client, optional item) pair an operation acts on.
type Target struct {
	ClientID string `json:"clientId" validate:"required"`
	ItemID   string `json:"itemId,omitempty"`
}

// ID returns the canonical target identifier used in subtask bookkeeping
// and per-target results.
func (t Target) ID() string {
	if t.ItemID == "" {
		return t.ClientID
	}
	return t.ClientID + "/" + t.ItemID
}

// Parameters is the type-specific payload of an operation. The engine
// treats it as opaque and hands it to the executor unchanged.
type Parameters map[string]interface{}

// Operation stores one user- or schedule-triggered multi-target action.
type Operation struct {
	ID             string          `gorm:"column:id;primaryKey;size:64" json:"id"`
	Type           OperationType   `gorm:"column:type;size:50;index:idx_operations_org_type,priority:2" json:"type"`
	OrganizationID string          `gorm:"column:organization_id;size:64;index:idx_operations_org_type,priority:1;index:idx_operations_org_status,priority:1" json:"organizationId"`
	Name           string          `gorm:"column:name;size:255" json:"name"`
	Status         OperationStatus `gorm:"column:status;size:30;index:idx_operations_org_status,priority:2" json:"status"`
	Priority       string          `gorm:"column:priority;size:20" json:"priority"`
	Targets        string          `gorm:"column:targets;type:text" json:"-"`
	Parameters     string          `gorm:"column:parameters;type:longtext" json:"-"`
	ExecutedBy     string          `gorm:"column:executed_by;size:64" json:"executedBy"`
	ScheduleID     string          `gorm:"column:schedule_id;size:64;index" json:"scheduleId,omitempty"`

	// ScheduledFor holds the deferred start instant for status=scheduled.
	ScheduledFor *time.Time `gorm:"column:scheduled_for;index" json:"scheduledFor,omitempty"`

	// Denormalized progress counters, recomputed from subtasks on every
	// state change so listings do not need to load subtask rows.
	ItemsTotal     int    `gorm:"column:items_total;default:0" json:"itemsTotal"`
	ItemsProcessed int    `gorm:"column:items_processed;default:0" json:"itemsProcessed"`
	Successful     int    `gorm:"column:successful;default:0" json:"successful"`
	FailedItems    int    `gorm:"column:failed_items;default:0" json:"failedItems"`
	CurrentStep    string `gorm:"column:current_step;size:255" json:"currentStep"`
	LastError      string `gorm:"column:last_error;type:text" json:"lastError,omitempty"`

	// Version is the optimistic lock counter for status transitions.
	Version  int  `gorm:"column:version;default:0" json:"-"`
	Archived bool `gorm:"column:archived;default:false" json:"-"`

	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
	StartedAt   *time.Time `gorm:"column:started_at" json:"startedAt,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completedAt,omitempty"`
}

func (Operation) TableName() string {
	return "operations"
}

// TargetList decodes the stored target set. Targets are immutable after
// creation; re-running with different targets is a new operation.
func (o *Operation) TargetList() []Target {
	var targets []Target
	if o.Targets != "" {
		_ = json.Unmarshal([]byte(o.Targets), &targets)
	}
	return targets
}

func (o *Operation) SetTargets(targets []Target) error {
	raw, err := json.Marshal(targets)
	if err != nil {
		return err
	}
	o.Targets = string(raw)
	return nil
}

// ParameterMap decodes the opaque payload for executor hand-off.
func (o *Operation) ParameterMap() Parameters {
	params := Parameters{}
	if o.Parameters != "" {
		_ = json.Unmarshal([]byte(o.Parameters), &params)
	}
	return params
}

func (o *Operation) SetParameters(params Parameters) error {
	if params == nil {
		params = Parameters{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	o.Parameters = string(raw)
	return nil
}

// ClientsAffected returns the distinct client IDs in target order.
func (o *Operation) ClientsAffected() []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range o.TargetList() {
		if seen[t.ClientID] {
			continue
		}
		seen[t.ClientID] = true
		out = append(out, t.ClientID)
	}
	return out
}

// SubTask stores the unit of work for one (operation, target) pair.
// Exactly one row exists per target per operation; retry reuses the row.
type SubTask struct {
	ID          uint          `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	OperationID string        `gorm:"column:operation_id;size:64;index:idx_subtasks_op_status,priority:1" json:"operationId"`
	ClientID    string        `gorm:"column:client_id;size:64" json:"clientId"`
	ItemID      string        `gorm:"column:item_id;size:64" json:"itemId,omitempty"`
	Position    int           `gorm:"column:position;default:0" json:"position"`
	Status      SubTaskStatus `gorm:"column:status;size:30;index:idx_subtasks_op_status,priority:2" json:"status"`
	Attempts    int           `gorm:"column:attempts;default:0" json:"attempts"`
	Processed   int           `gorm:"column:processed;default:0" json:"processed"`
	LastError   string        `gorm:"column:last_error;type:text" json:"lastError,omitempty"`
	CreatedAt   time.Time     `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time     `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
	StartedAt   *time.Time    `gorm:"column:started_at" json:"startedAt,omitempty"`
	FinishedAt  *time.Time    `gorm:"column:finished_at" json:"finishedAt,omitempty"`
}

func (SubTask) TableName() string {
	return "sub_tasks"
}

// Target reconstructs the target pair of this subtask.
func (st *SubTask) Target() Target {
	return Target{ClientID: st.ClientID, ItemID: st.ItemID}
}

// TargetID is the canonical identifier used in Results.PerTarget.
func (st *SubTask) TargetID() string {
	return st.Target().ID()
}

// Duration is the wall time of the last execution, zero when unknown.
func (st *SubTask) Duration() time.Duration {
	if st.StartedAt == nil || st.FinishedAt == nil {
		return 0
	}
	d := st.FinishedAt.Sub(*st.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Progress is the derived aggregate view reported to polling clients.
type Progress struct {
	Percentage             float64 `json:"percentage"`
	ItemsProcessed         int     `json:"itemsProcessed"`
	ItemsTotal             int     `json:"itemsTotal"`
	CurrentStep            string  `json:"currentStep"`
	EstimatedTimeRemaining string  `json:"estimatedTimeRemaining"`
}

// TargetResult is the per-target slice of Results.
type TargetResult struct {
	TargetID  string        `json:"targetId"`
	ClientID  string        `json:"clientId"`
	Status    SubTaskStatus `json:"status"`
	Processed int           `json:"itemsProcessed"`
	Error     string        `json:"error,omitempty"`
}

// Results is the derived outcome summary. A completed operation always has
// Failed == 0; partial failure maps to an overall failed status and the UI
// reads these counts to render "N of M succeeded".
type Results struct {
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Errors     []string       `json:"errors"`
	PerTarget  []TargetResult `json:"perTarget"`
}

// TruncateError bounds stored error text the way the job tables expect.
func TruncateError(msg string) string {
	msg = strings.TrimSpace(msg)
	if len(msg) > 900 {
		msg = msg[:900]
	}
	return msg
}
