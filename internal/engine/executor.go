package engine

import (
	"context"
	"sort"

	"thrivesend/internal/models"
)

// ExecResult is what an executor reports for one completed subtask.
type ExecResult struct {
	ItemsProcessed int
	Detail         string
}

// Executor is the downstream capability that performs one subtask against
// a client's platform. One implementation is registered per operation
// type; new types are added by registering a new executor.
type Executor interface {
	Type() models.OperationType
	Run(ctx context.Context, target models.Target, params models.Parameters) (*ExecResult, error)
}

// Registry maps operation types to their executors.
type Registry struct {
	executors map[models.OperationType]Executor
}

func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{executors: make(map[models.OperationType]Executor)}
	for _, e := range executors {
		r.Register(e)
	}
	return r
}

func (r *Registry) Register(e Executor) {
	r.executors[e.Type()] = e
}

// For returns the executor for an operation type.
func (r *Registry) For(t models.OperationType) (Executor, error) {
	e, ok := r.executors[t]
	if !ok {
		return nil, NewValidation("unsupported operation type: %s", t)
	}
	return e, nil
}

// Supports reports whether an executor is registered for t.
func (r *Registry) Supports(t models.OperationType) bool {
	_, ok := r.executors[t]
	return ok
}

// Types lists the registered operation types, sorted for stable output.
func (r *Registry) Types() []models.OperationType {
	out := make([]models.OperationType, 0, len(r.executors))
	for t := range r.executors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Authorization is the external collaborator deciding whether an
// organization may act on a client.
type Authorization interface {
	CanAct(ctx context.Context, organizationID, clientID string) (bool, error)
}

// FinishListener observes operations reaching a final outcome, e.g. to
// push an ops-channel alert. Implementations must not block.
type FinishListener interface {
	OperationFinished(op *models.Operation, results models.Results)
}
