package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"thrivesend/internal/models"
)

// memStore is an in-memory Store for engine tests. It mirrors the
// repository's semantics: version-guarded operation writes and atomic
// subtask-plus-counters saves.
type memStore struct {
	mu         sync.Mutex
	operations map[string]models.Operation
	subTasks   map[string][]models.SubTask
	nextID     uint
}

func newMemStore() *memStore {
	return &memStore{
		operations: make(map[string]models.Operation),
		subTasks:   make(map[string][]models.SubTask),
	}
}

func (s *memStore) CreateOperation(_ context.Context, op *models.Operation, subTasks []models.SubTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.operations[op.ID] = *op
	stored := make([]models.SubTask, len(subTasks))
	copy(stored, subTasks)
	for i := range stored {
		s.nextID++
		stored[i].ID = s.nextID
		stored[i].OperationID = op.ID
	}
	s.subTasks[op.ID] = stored
	return nil
}

func (s *memStore) GetOperation(_ context.Context, id string) (*models.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operations[id]
	if !ok {
		return nil, NewNotFound("operation %s not found", id)
	}
	cp := op
	return &cp, nil
}

func (s *memStore) ListActive(_ context.Context, organizationID string) ([]models.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Operation
	for _, op := range s.operations {
		if op.OrganizationID == organizationID && !op.Status.Terminal() {
			out = append(out, op)
		}
	}
	return out, nil
}

func (s *memStore) ListDueScheduled(_ context.Context, now time.Time) ([]models.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Operation
	for _, op := range s.operations {
		if op.Status == models.OperationScheduled && op.ScheduledFor != nil && !op.ScheduledFor.After(now) {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(*out[j].ScheduledFor) })
	return out, nil
}

func (s *memStore) ListSubTasks(_ context.Context, operationID string) ([]models.SubTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.subTasks[operationID]
	out := make([]models.SubTask, len(stored))
	copy(out, stored)
	return out, nil
}

func (s *memStore) TransitionOperation(_ context.Context, id string, mutate func(op *models.Operation) error) (*models.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operations[id]
	if !ok {
		return nil, NewNotFound("operation %s not found", id)
	}
	if err := mutate(&op); err != nil {
		return nil, err
	}
	op.Version++
	op.UpdatedAt = time.Now()
	s.operations[id] = op
	cp := op
	return &cp, nil
}

func (s *memStore) SaveSubTask(_ context.Context, st *models.SubTask, progress models.Progress, results models.Results) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.subTasks[st.OperationID]
	for i := range stored {
		if stored[i].ID == st.ID {
			stored[i] = *st
			break
		}
	}
	op, ok := s.operations[st.OperationID]
	if ok {
		op.ItemsProcessed = progress.ItemsProcessed
		op.Successful = results.Successful
		op.FailedItems = results.Failed
		op.CurrentStep = progress.CurrentStep
		s.operations[st.OperationID] = op
	}
	return nil
}

func (s *memStore) ResetFailedSubTasks(_ context.Context, operationID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	stored := s.subTasks[operationID]
	for i := range stored {
		if stored[i].Status == models.SubTaskFailed {
			stored[i].Status = models.SubTaskPending
			stored[i].LastError = ""
			stored[i].StartedAt = nil
			stored[i].FinishedAt = nil
			n++
		}
	}
	return n, nil
}

func (s *memStore) CancelOpenSubTasks(_ context.Context, operationID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := s.subTasks[operationID]
	for i := range stored {
		if stored[i].Status == models.SubTaskPending || stored[i].Status == models.SubTaskRunning {
			stored[i].Status = models.SubTaskCancelled
			finishedAt := at
			stored[i].FinishedAt = &finishedAt
		}
	}
	return nil
}

var _ Store = (*memStore)(nil)
