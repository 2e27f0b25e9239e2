package engine

import (
	"context"
	"time"

	"thrivesend/internal/models"
)

// Store is the durable record of operations and their subtasks. The gorm
// implementation lives in internal/repository; tests use an in-memory
// fake. Implementations must make each transition atomic: a Load after a
// Save never observes a finished operation with non-terminal subtasks.
type Store interface {
	// CreateOperation persists an operation and its subtasks together.
	CreateOperation(ctx context.Context, op *models.Operation, subTasks []models.SubTask) error

	// GetOperation loads one operation by id.
	GetOperation(ctx context.Context, id string) (*models.Operation, error)

	// ListActive returns the organization's non-terminal operations.
	ListActive(ctx context.Context, organizationID string) ([]models.Operation, error)

	// ListDueScheduled returns scheduled operations whose deferred start
	// instant has arrived.
	ListDueScheduled(ctx context.Context, now time.Time) ([]models.Operation, error)

	// ListSubTasks returns the operation's subtasks in submission order.
	ListSubTasks(ctx context.Context, operationID string) ([]models.SubTask, error)

	// TransitionOperation applies mutate to the current row and writes it
	// back guarded by the optimistic version counter. Errors returned by
	// mutate abort the transition unchanged.
	TransitionOperation(ctx context.Context, id string, mutate func(op *models.Operation) error) (*models.Operation, error)

	// SaveSubTask writes one subtask state change and the recomputed
	// operation progress counters in a single transaction.
	SaveSubTask(ctx context.Context, st *models.SubTask, progress models.Progress, results models.Results) error

	// ResetFailedSubTasks returns failed subtasks to pending for a retry
	// pass, reporting how many rows changed.
	ResetFailedSubTasks(ctx context.Context, operationID string) (int64, error)

	// CancelOpenSubTasks marks the operation's pending and running
	// subtasks cancelled at the given instant.
	CancelOpenSubTasks(ctx context.Context, operationID string, at time.Time) error
}
