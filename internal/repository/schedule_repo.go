package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"thrivesend/internal/engine"
	"thrivesend/internal/models"
)

// ScheduleRepository stores content schedules and their materialized
// firing instances.
type ScheduleRepository struct {
	db *gorm.DB
}

func NewScheduleRepository(db *gorm.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// CreateSchedule persists the schedule together with its first batch of
// materialized instances.
func (r *ScheduleRepository) CreateSchedule(ctx context.Context, s *models.ContentSchedule, instants []time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(s).Error; err != nil {
			return err
		}
		return createInstances(tx, s.ID, instants)
	})
}

func createInstances(tx *gorm.DB, scheduleID string, instants []time.Time) error {
	if len(instants) == 0 {
		return nil
	}
	instances := make([]models.ScheduledInstance, 0, len(instants))
	for _, at := range instants {
		instances = append(instances, models.ScheduledInstance{
			ScheduleID:  scheduleID,
			ScheduledAt: at,
			Status:      models.InstancePending,
		})
	}
	return tx.CreateInBatches(instances, 200).Error
}

func (r *ScheduleRepository) GetSchedule(ctx context.Context, id string) (*models.ContentSchedule, error) {
	var s models.ContentSchedule
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err == gorm.ErrRecordNotFound {
		return nil, engine.NewNotFound("schedule %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListDueInstances returns pending instances of active schedules whose
// fire time has arrived, with the parent schedule preloaded alongside.
func (r *ScheduleRepository) ListDueInstances(ctx context.Context, now time.Time) ([]models.ScheduledInstance, error) {
	var instances []models.ScheduledInstance
	err := r.db.WithContext(ctx).
		Joins("JOIN content_schedules ON content_schedules.id = scheduled_instances.schedule_id").
		Where("scheduled_instances.status = ? AND scheduled_instances.scheduled_at <= ? AND content_schedules.status = ?",
			models.InstancePending, now, models.ScheduleActive).
		Order("scheduled_instances.scheduled_at ASC").
		Find(&instances).Error
	return instances, err
}

// MarkInstanceFired flips a pending instance to fired. The guard on
// status makes the flip happen exactly once even with concurrent cron
// ticks; only the winner goes on to create the operation.
func (r *ScheduleRepository) MarkInstanceFired(ctx context.Context, instanceID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ScheduledInstance{}).
		Where("id = ? AND status = ?", instanceID, models.InstancePending).
		Updates(map[string]interface{}{
			"status":     models.InstanceFired,
			"updated_at": time.Now(),
		})
	return res.RowsAffected == 1, res.Error
}

// AttachInstanceOperation records the operation a fired instance
// produced.
func (r *ScheduleRepository) AttachInstanceOperation(ctx context.Context, instanceID uint, operationID string) error {
	return r.db.WithContext(ctx).
		Model(&models.ScheduledInstance{}).
		Where("id = ?", instanceID).
		Update("operation_id", operationID).Error
}

// MarkInstanceSkipped records that a due instance was deliberately not
// fired, e.g. its parent was paused when the instant arrived.
func (r *ScheduleRepository) MarkInstanceSkipped(ctx context.Context, instanceID uint) error {
	return r.db.WithContext(ctx).
		Model(&models.ScheduledInstance{}).
		Where("id = ? AND status = ?", instanceID, models.InstancePending).
		Update("status", models.InstanceSkipped).Error
}

// CancelPendingInstances settles all future firings of a schedule.
func (r *ScheduleRepository) CancelPendingInstances(ctx context.Context, scheduleID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ScheduledInstance{}).
		Where("schedule_id = ? AND status = ?", scheduleID, models.InstancePending).
		Update("status", models.InstanceCancelled)
	return res.RowsAffected, res.Error
}

// SetScheduleStatus moves a schedule between active, paused and
// cancelled, enforcing the allowed transitions.
func (r *ScheduleRepository) SetScheduleStatus(ctx context.Context, id string, from []models.ScheduleStatus, to models.ScheduleStatus) (*models.ContentSchedule, error) {
	s, err := r.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	allowed := false
	for _, f := range from {
		if s.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, engine.NewInvalidTransition("schedule %s is %s", id, s.Status)
	}
	res := r.db.WithContext(ctx).
		Model(&models.ContentSchedule{}).
		Where("id = ? AND status = ?", id, s.Status).
		Update("status", to)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, engine.NewInvalidTransition("schedule %s changed concurrently", id)
	}
	s.Status = to
	return s, nil
}

// ListInstances returns a schedule's instances, soonest first.
func (r *ScheduleRepository) ListInstances(ctx context.Context, scheduleID string, limit int) ([]models.ScheduledInstance, error) {
	if limit <= 0 {
		limit = 50
	}
	var instances []models.ScheduledInstance
	err := r.db.WithContext(ctx).
		Where("schedule_id = ?", scheduleID).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&instances).Error
	return instances, err
}

// ListActiveRecurring returns recurring schedules still producing
// instances, for horizon extension.
func (r *ScheduleRepository) ListActiveRecurring(ctx context.Context) ([]models.ContentSchedule, error) {
	var schedules []models.ContentSchedule
	err := r.db.WithContext(ctx).
		Where("status = ? AND frequency <> ''", models.ScheduleActive).
		Find(&schedules).Error
	return schedules, err
}

// LastInstanceAt returns the latest materialized instant for a
// schedule, or the zero time when none exist.
func (r *ScheduleRepository) LastInstanceAt(ctx context.Context, scheduleID string) (time.Time, error) {
	var inst models.ScheduledInstance
	err := r.db.WithContext(ctx).
		Where("schedule_id = ?", scheduleID).
		Order("scheduled_at DESC").
		First(&inst).Error
	if err == gorm.ErrRecordNotFound {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return inst.ScheduledAt, nil
}

// AppendInstances materializes additional future firings.
func (r *ScheduleRepository) AppendInstances(ctx context.Context, scheduleID string, instants []time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return createInstances(tx, scheduleID, instants)
	})
}
