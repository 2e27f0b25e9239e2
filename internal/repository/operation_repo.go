package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"thrivesend/internal/engine"
	"thrivesend/internal/models"
)

// OperationRepository is the gorm-backed record of bulk operations and
// their subtasks.
type OperationRepository struct {
	db *gorm.DB
}

func NewOperationRepository(db *gorm.DB) *OperationRepository {
	return &OperationRepository{db: db}
}

// CreateOperation persists the operation and its subtasks in one
// transaction.
func (r *OperationRepository) CreateOperation(ctx context.Context, op *models.Operation, subTasks []models.SubTask) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(op).Error; err != nil {
			return err
		}
		if len(subTasks) == 0 {
			return nil
		}
		for i := range subTasks {
			subTasks[i].OperationID = op.ID
		}
		return tx.CreateInBatches(subTasks, 200).Error
	})
}

func (r *OperationRepository) GetOperation(ctx context.Context, id string) (*models.Operation, error) {
	var op models.Operation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&op).Error
	if err == gorm.ErrRecordNotFound {
		return nil, engine.NewNotFound("operation %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &op, nil
}

func (r *OperationRepository) ListActive(ctx context.Context, organizationID string) ([]models.Operation, error) {
	var ops []models.Operation
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND status IN ?", organizationID, []models.OperationStatus{
			models.OperationDraft, models.OperationScheduled,
			models.OperationInProgress, models.OperationPaused,
			models.OperationFailed,
		}).
		Order("created_at DESC").
		Find(&ops).Error
	return ops, err
}

func (r *OperationRepository) ListDueScheduled(ctx context.Context, now time.Time) ([]models.Operation, error) {
	var ops []models.Operation
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", models.OperationScheduled, now).
		Order("scheduled_for ASC").
		Find(&ops).Error
	return ops, err
}

func (r *OperationRepository) ListSubTasks(ctx context.Context, operationID string) ([]models.SubTask, error) {
	var subTasks []models.SubTask
	err := r.db.WithContext(ctx).
		Where("operation_id = ?", operationID).
		Order("position ASC").
		Find(&subTasks).Error
	return subTasks, err
}

// TransitionOperation applies mutate and writes the row back guarded by
// the version counter. A concurrent writer bumping the version first
// makes the UPDATE match zero rows; the transition is then retried on
// the fresh row until mutate itself rejects it.
func (r *OperationRepository) TransitionOperation(ctx context.Context, id string, mutate func(op *models.Operation) error) (*models.Operation, error) {
	for {
		op, err := r.GetOperation(ctx, id)
		if err != nil {
			return nil, err
		}
		expected := op.Version
		if err := mutate(op); err != nil {
			return nil, err
		}
		op.Version = expected + 1
		op.UpdatedAt = time.Now()

		res := r.db.WithContext(ctx).
			Model(&models.Operation{}).
			Where("id = ? AND version = ?", id, expected).
			Updates(map[string]interface{}{
				"status":        op.Status,
				"scheduled_for": op.ScheduledFor,
				"current_step":  op.CurrentStep,
				"last_error":    op.LastError,
				"version":       op.Version,
				"archived":      op.Archived,
				"updated_at":    op.UpdatedAt,
				"started_at":    op.StartedAt,
				"completed_at":  op.CompletedAt,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			return op, nil
		}
		// Lost the race, reload and try again.
	}
}

// SaveSubTask writes the subtask and the denormalized operation counters
// in one transaction, so readers never see them disagree.
func (r *OperationRepository) SaveSubTask(ctx context.Context, st *models.SubTask, progress models.Progress, results models.Results) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(st).Error; err != nil {
			return err
		}
		return tx.Model(&models.Operation{}).
			Where("id = ?", st.OperationID).
			Updates(map[string]interface{}{
				"items_processed": progress.ItemsProcessed,
				"successful":      results.Successful,
				"failed_items":    results.Failed,
				"current_step":    progress.CurrentStep,
				"updated_at":      time.Now(),
			}).Error
	})
}

func (r *OperationRepository) ResetFailedSubTasks(ctx context.Context, operationID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SubTask{}).
		Where("operation_id = ? AND status = ?", operationID, models.SubTaskFailed).
		Updates(map[string]interface{}{
			"status":      models.SubTaskPending,
			"last_error":  "",
			"started_at":  nil,
			"finished_at": nil,
			"updated_at":  time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (r *OperationRepository) CancelOpenSubTasks(ctx context.Context, operationID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.SubTask{}).
		Where("operation_id = ? AND status IN ?", operationID, []models.SubTaskStatus{
			models.SubTaskPending, models.SubTaskRunning,
		}).
		Updates(map[string]interface{}{
			"status":      models.SubTaskCancelled,
			"finished_at": at,
			"updated_at":  at,
		}).Error
}

// ListRecent returns the organization's latest operations for the
// dashboard, newest first.
func (r *OperationRepository) ListRecent(ctx context.Context, organizationID string, limit int) ([]models.Operation, error) {
	if limit <= 0 {
		limit = 10
	}
	var ops []models.Operation
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND archived = ?", organizationID, false).
		Order("created_at DESC").
		Limit(limit).
		Find(&ops).Error
	return ops, err
}

// Stats aggregates today's activity for the dashboard header.
func (r *OperationRepository) Stats(ctx context.Context, organizationID string, now time.Time) (*models.OperationStats, error) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var ops []models.Operation
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND created_at >= ?", organizationID, dayStart).
		Find(&ops).Error
	if err != nil {
		return nil, err
	}

	stats := &models.OperationStats{TotalOperations: len(ops)}
	clients := make(map[string]struct{})
	var succeeded, settled int
	var execTotal time.Duration
	var execSamples int
	for i := range ops {
		op := &ops[i]
		stats.TotalItemsProcessed += op.ItemsProcessed
		for _, c := range op.ClientsAffected() {
			clients[c] = struct{}{}
		}
		switch op.Status {
		case models.OperationCompleted:
			succeeded++
			settled++
		case models.OperationFailed, models.OperationCancelled:
			settled++
		}
		if op.StartedAt != nil && op.CompletedAt != nil {
			execTotal += op.CompletedAt.Sub(*op.StartedAt)
			execSamples++
		}
	}
	stats.TotalClientsAffected = len(clients)
	if settled > 0 {
		stats.SuccessRate = float64(succeeded) / float64(settled) * 100
	}
	stats.AvgExecutionTime = "n/a"
	if execSamples > 0 {
		stats.AvgExecutionTime = (execTotal / time.Duration(execSamples)).Round(time.Second).String()
	}
	return stats, nil
}

// ArchiveBefore flags terminal operations older than cutoff so they
// drop out of dashboard listings, and deletes their subtask rows. The
// operation row itself keeps its counters and results summary.
func (r *OperationRepository) ArchiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Operation{}).
		Where("archived = ? AND status IN ? AND completed_at < ?", false, []models.OperationStatus{
			models.OperationCompleted, models.OperationCancelled,
		}, cutoff).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Operation{}).
			Where("id IN ?", ids).
			Update("archived", true).Error; err != nil {
			return err
		}
		return tx.Where("operation_id IN ?", ids).
			Delete(&models.SubTask{}).Error
	})
	if err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}
