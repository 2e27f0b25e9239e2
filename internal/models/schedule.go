package models

import (
	"encoding/json"
	"time"
)

// Frequency of a recurrence rule.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ScheduleStatus is the lifecycle state of a content schedule.
type ScheduleStatus string

const (
	ScheduleActive    ScheduleStatus = "active"
	SchedulePaused    ScheduleStatus = "paused"
	ScheduleCancelled ScheduleStatus = "cancelled"
)

// RecurrenceRule defines a repeating schedule. Expansion is a pure read:
// the rule is never mutated.
type RecurrenceRule struct {
	Frequency  Frequency
	DaysOfWeek []time.Weekday
	Timezone   string
	StartAt    time.Time
	EndAt      *time.Time
}

// ContentSchedule stores a registered (possibly recurring) content
// schedule for a set of targets. One-shot schedules have an empty
// Frequency and exactly one materialized instance.
type ContentSchedule struct {
	ID             string         `gorm:"column:id;primaryKey;size:64" json:"id"`
	OrganizationID string         `gorm:"column:organization_id;size:64;index" json:"organizationId"`
	Title          string         `gorm:"column:title;size:255" json:"title"`
	Status         ScheduleStatus `gorm:"column:status;size:30;index" json:"status"`
	Targets        string         `gorm:"column:targets;type:text" json:"-"`
	Platforms      string         `gorm:"column:platforms;type:text" json:"-"`
	Parameters     string         `gorm:"column:parameters;type:longtext" json:"-"`
	Priority       string         `gorm:"column:priority;size:20" json:"priority"`
	Timezone       string         `gorm:"column:timezone;size:64" json:"timezone"`
	ScheduledAt    time.Time      `gorm:"column:scheduled_at" json:"scheduledAt"`
	Frequency      Frequency      `gorm:"column:frequency;size:20" json:"frequency,omitempty"`
	DaysOfWeek     string         `gorm:"column:days_of_week;size:64" json:"-"`
	EndAt          *time.Time     `gorm:"column:end_at" json:"endAt,omitempty"`
	CreatedBy      string         `gorm:"column:created_by;size:64" json:"createdBy"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (ContentSchedule) TableName() string {
	return "content_schedules"
}

// Recurring reports whether the schedule repeats.
func (s *ContentSchedule) Recurring() bool {
	return s.Frequency != ""
}

// Rule builds the recurrence rule for expansion.
func (s *ContentSchedule) Rule() RecurrenceRule {
	return RecurrenceRule{
		Frequency:  s.Frequency,
		DaysOfWeek: s.WeekdayList(),
		Timezone:   s.Timezone,
		StartAt:    s.ScheduledAt,
		EndAt:      s.EndAt,
	}
}

func (s *ContentSchedule) TargetList() []Target {
	var targets []Target
	if s.Targets != "" {
		_ = json.Unmarshal([]byte(s.Targets), &targets)
	}
	return targets
}

func (s *ContentSchedule) SetTargets(targets []Target) {
	raw, _ := json.Marshal(targets)
	s.Targets = string(raw)
}

func (s *ContentSchedule) PlatformList() []string {
	var platforms []string
	if s.Platforms != "" {
		_ = json.Unmarshal([]byte(s.Platforms), &platforms)
	}
	return platforms
}

func (s *ContentSchedule) SetPlatforms(platforms []string) {
	raw, _ := json.Marshal(platforms)
	s.Platforms = string(raw)
}

func (s *ContentSchedule) ParameterMap() Parameters {
	params := Parameters{}
	if s.Parameters != "" {
		_ = json.Unmarshal([]byte(s.Parameters), &params)
	}
	return params
}

func (s *ContentSchedule) SetParameters(params Parameters) {
	if params == nil {
		params = Parameters{}
	}
	raw, _ := json.Marshal(params)
	s.Parameters = string(raw)
}

func (s *ContentSchedule) WeekdayList() []time.Weekday {
	var days []int
	if s.DaysOfWeek != "" {
		_ = json.Unmarshal([]byte(s.DaysOfWeek), &days)
	}
	out := make([]time.Weekday, 0, len(days))
	for _, d := range days {
		if d >= 0 && d <= 6 {
			out = append(out, time.Weekday(d))
		}
	}
	return out
}

func (s *ContentSchedule) SetWeekdays(days []int) {
	if len(days) == 0 {
		s.DaysOfWeek = ""
		return
	}
	raw, _ := json.Marshal(days)
	s.DaysOfWeek = string(raw)
}

// InstanceStatus is the lifecycle state of one materialized firing.
type InstanceStatus string

const (
	InstancePending   InstanceStatus = "pending"
	InstanceFired     InstanceStatus = "fired"
	InstanceSkipped   InstanceStatus = "skipped"
	InstanceCancelled InstanceStatus = "cancelled"
)

// ScheduledInstance is one materialized future firing of a schedule.
// It is created at expansion time and consumed (converted into an
// operation) when its instant arrives, or cancelled with its parent.
type ScheduledInstance struct {
	ID          uint           `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	ScheduleID  string         `gorm:"column:schedule_id;size:64;index:idx_instances_schedule_at,priority:1;index:idx_instances_schedule_status,priority:1" json:"scheduleId"`
	ScheduledAt time.Time      `gorm:"column:scheduled_at;index:idx_instances_schedule_at,priority:2" json:"scheduledAt"`
	Status      InstanceStatus `gorm:"column:status;size:30;index:idx_instances_schedule_status,priority:2" json:"status"`
	OperationID string         `gorm:"column:operation_id;size:64" json:"operationId,omitempty"`
	CreatedAt   time.Time      `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (ScheduledInstance) TableName() string {
	return "scheduled_instances"
}
