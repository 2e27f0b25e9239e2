package engine

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"thrivesend/internal/models"
)

// allowedTransitions maps each control action to the statuses it may be
// applied from. Making scheduled operations non-pausable is deliberate:
// there is nothing running yet, cancel is the meaningful control.
var allowedTransitions = map[models.ControlAction][]models.OperationStatus{
	models.ActionStart:  {models.OperationDraft},
	models.ActionPause:  {models.OperationInProgress},
	models.ActionResume: {models.OperationPaused},
	models.ActionCancel: {
		models.OperationDraft, models.OperationScheduled,
		models.OperationInProgress, models.OperationPaused,
		models.OperationFailed,
	},
	models.ActionRetry: {models.OperationFailed},
}

func transitionAllowed(action models.ControlAction, from models.OperationStatus) bool {
	for _, s := range allowedTransitions[action] {
		if s == from {
			return true
		}
	}
	return false
}

// Controller owns the operation lifecycle: creation, the
// draft/scheduled/in_progress/paused/completed/failed/cancelled state
// machine, and status reads. Every transition goes through the store's
// compare-and-swap, so concurrent control requests settle to exactly
// one winner.
type Controller struct {
	store      Store
	dispatcher *Dispatcher
	authz      Authorization
	clock      Clock
	validate   *validator.Validate
	logger     *zap.Logger
}

func NewController(store Store, dispatcher *Dispatcher, authz Authorization, clock Clock, logger *zap.Logger) *Controller {
	return &Controller{
		store:      store,
		dispatcher: dispatcher,
		authz:      authz,
		clock:      clock,
		validate:   validator.New(),
		logger:     logger,
	}
}

// Create validates the request, authorizes every distinct client, and
// persists the operation together with one subtask per target. The
// operation starts immediately unless ScheduledFor or Draft defers it.
func (c *Controller) Create(ctx context.Context, req *models.CreateOperationRequest) (*models.Operation, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, NewValidation("invalid operation request: %v", err)
	}
	if !models.KnownOperationType(req.Type) {
		return nil, NewValidation("unknown operation type %q", req.Type)
	}
	if !c.dispatcher.Registry().Supports(req.Type) {
		return nil, NewValidation("operation type %q has no executor", req.Type)
	}
	seen := make(map[string]struct{}, len(req.Targets))
	for _, t := range req.Targets {
		if t.ClientID == "" {
			return nil, NewValidation("target with empty client id")
		}
		if _, dup := seen[t.ID()]; dup {
			return nil, NewValidation("duplicate target %s", t.ID())
		}
		seen[t.ID()] = struct{}{}
	}
	if err := c.authorizeClients(ctx, req.OrganizationID, req.Targets); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	op := &models.Operation{
		ID:             uuid.NewString(),
		Type:           req.Type,
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		Priority:       req.Priority,
		ExecutedBy:     req.ExecutedBy,
		ItemsTotal:     len(req.Targets),
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if op.Priority == "" {
		op.Priority = models.PriorityMedium
	}
	if err := op.SetTargets(req.Targets); err != nil {
		return nil, NewInternal("encode targets: %v", err)
	}
	if err := op.SetParameters(req.Parameters); err != nil {
		return nil, NewInternal("encode parameters: %v", err)
	}

	switch {
	case req.Draft:
		op.Status = models.OperationDraft
	case req.ScheduleAt != nil && req.ScheduleAt.After(now):
		op.Status = models.OperationScheduled
		op.ScheduledFor = req.ScheduleAt
	default:
		op.Status = models.OperationInProgress
		op.StartedAt = &now
	}

	subTasks := make([]models.SubTask, 0, len(req.Targets))
	for i, t := range req.Targets {
		subTasks = append(subTasks, models.SubTask{
			OperationID: op.ID,
			ClientID:    t.ClientID,
			ItemID:      t.ItemID,
			Position:    i,
			Status:      models.SubTaskPending,
		})
	}
	if err := c.store.CreateOperation(ctx, op, subTasks); err != nil {
		return nil, NewInternal("persist operation: %v", err)
	}

	c.logger.Info("Operation created",
		zap.String("operation_id", op.ID),
		zap.String("type", string(op.Type)),
		zap.String("organization_id", op.OrganizationID),
		zap.String("status", string(op.Status)),
		zap.Int("targets", len(subTasks)))

	if op.Status == models.OperationInProgress {
		if err := c.dispatcher.Dispatch(ctx, op); err != nil {
			return nil, err
		}
	}
	return op, nil
}

func (c *Controller) authorizeClients(ctx context.Context, organizationID string, targets []models.Target) error {
	if c.authz == nil {
		return nil
	}
	checked := make(map[string]struct{})
	for _, t := range targets {
		if _, ok := checked[t.ClientID]; ok {
			continue
		}
		checked[t.ClientID] = struct{}{}
		ok, err := c.authz.CanAct(ctx, organizationID, t.ClientID)
		if err != nil {
			return NewInternal("authorize client %s: %v", t.ClientID, err)
		}
		if !ok {
			return NewValidation("client %s does not belong to organization %s", t.ClientID, organizationID)
		}
	}
	return nil
}

// Control applies one lifecycle action. It returns the operation as it
// stands after the transition.
func (c *Controller) Control(ctx context.Context, req *models.ControlOperationRequest) (*models.Operation, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, NewValidation("invalid control request: %v", err)
	}
	switch req.Action {
	case models.ActionStart:
		return c.Start(ctx, req.OperationID)
	case models.ActionPause:
		return c.Pause(ctx, req.OperationID)
	case models.ActionResume:
		return c.Resume(ctx, req.OperationID)
	case models.ActionCancel:
		return c.Cancel(ctx, req.OperationID)
	case models.ActionRetry:
		return c.Retry(ctx, req.OperationID)
	default:
		return nil, NewValidation("unknown action %q", req.Action)
	}
}

// Start moves a draft operation into execution.
func (c *Controller) Start(ctx context.Context, id string) (*models.Operation, error) {
	op, err := c.transition(ctx, id, models.ActionStart, func(cur *models.Operation) {
		now := c.clock.Now()
		cur.Status = models.OperationInProgress
		cur.StartedAt = &now
	})
	if err != nil {
		return nil, err
	}
	if err := c.dispatcher.Dispatch(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

// Pause stops submission of further subtasks. Subtasks already running
// finish and their results count; the remainder stays pending until
// Resume.
func (c *Controller) Pause(ctx context.Context, id string) (*models.Operation, error) {
	op, err := c.transition(ctx, id, models.ActionPause, func(cur *models.Operation) {
		cur.Status = models.OperationPaused
	})
	if err != nil {
		return nil, err
	}
	c.dispatcher.Pause(id)
	return op, nil
}

// Resume picks execution back up from the first pending subtask.
func (c *Controller) Resume(ctx context.Context, id string) (*models.Operation, error) {
	op, err := c.transition(ctx, id, models.ActionResume, func(cur *models.Operation) {
		cur.Status = models.OperationInProgress
	})
	if err != nil {
		return nil, err
	}
	if err := c.dispatcher.Dispatch(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

// Cancel terminally stops the operation. Open subtasks are marked
// cancelled; completed work is not rolled back.
func (c *Controller) Cancel(ctx context.Context, id string) (*models.Operation, error) {
	now := c.clock.Now()
	op, err := c.transition(ctx, id, models.ActionCancel, func(cur *models.Operation) {
		cur.Status = models.OperationCancelled
		cur.CompletedAt = &now
	})
	if err != nil {
		return nil, err
	}
	c.dispatcher.Cancel(id)
	if err := c.store.CancelOpenSubTasks(ctx, id, now); err != nil {
		c.logger.Error("Failed to settle open subtasks on cancel",
			zap.String("operation_id", id), zap.Error(err))
	}
	return op, nil
}

// Retry re-runs only the failed subtasks of a failed operation. Each
// keeps its row and attempt history; succeeded subtasks are untouched.
func (c *Controller) Retry(ctx context.Context, id string) (*models.Operation, error) {
	op, err := c.transition(ctx, id, models.ActionRetry, func(cur *models.Operation) {
		now := c.clock.Now()
		cur.Status = models.OperationInProgress
		cur.CompletedAt = nil
		cur.LastError = ""
		cur.StartedAt = &now
	})
	if err != nil {
		return nil, err
	}
	reset, err := c.store.ResetFailedSubTasks(ctx, id)
	if err != nil {
		return nil, NewInternal("reset failed subtasks: %v", err)
	}
	c.logger.Info("Retrying failed subtasks",
		zap.String("operation_id", id), zap.Int64("reset", reset))
	if err := c.dispatcher.Dispatch(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

func (c *Controller) transition(ctx context.Context, id string, action models.ControlAction, apply func(*models.Operation)) (*models.Operation, error) {
	op, err := c.store.TransitionOperation(ctx, id, func(cur *models.Operation) error {
		if !transitionAllowed(action, cur.Status) {
			return NewInvalidTransition("cannot %s operation in status %s", action, cur.Status)
		}
		apply(cur)
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("Operation transitioned",
		zap.String("operation_id", id),
		zap.String("action", string(action)),
		zap.String("status", string(op.Status)))
	return op, nil
}

// StartDue promotes scheduled operations whose fire time has passed.
// Called by the cron loop once a minute.
func (c *Controller) StartDue(ctx context.Context, now time.Time) {
	due, err := c.store.ListDueScheduled(ctx, now)
	if err != nil {
		c.logger.Error("Failed to list due operations", zap.Error(err))
		return
	}
	for i := range due {
		op, err := c.store.TransitionOperation(ctx, due[i].ID, func(cur *models.Operation) error {
			if cur.Status != models.OperationScheduled {
				return NewInvalidTransition("operation %s is %s, not scheduled", cur.ID, cur.Status)
			}
			startedAt := now
			cur.Status = models.OperationInProgress
			cur.StartedAt = &startedAt
			return nil
		})
		if err != nil {
			// Lost the race to another node, nothing to do.
			if IsCode(err, CodeInvalidTransition) {
				continue
			}
			c.logger.Error("Failed to start due operation",
				zap.String("operation_id", due[i].ID), zap.Error(err))
			continue
		}
		if err := c.dispatcher.Dispatch(ctx, op); err != nil {
			c.logger.Error("Failed to dispatch due operation",
				zap.String("operation_id", op.ID), zap.Error(err))
		}
	}
}

// Status returns the operation with freshly aggregated progress and
// per-target results.
func (c *Controller) Status(ctx context.Context, id string) (*models.OperationStatusResponse, error) {
	op, err := c.store.GetOperation(ctx, id)
	if err != nil {
		return nil, err
	}
	subTasks, err := c.store.ListSubTasks(ctx, id)
	if err != nil {
		return nil, NewInternal("load subtasks: %v", err)
	}
	progress, results := Reduce(op.Type, subTasks)
	return &models.OperationStatusResponse{
		OperationID: op.ID,
		Type:        op.Type,
		Name:        op.Name,
		Status:      op.Status,
		Progress:    progress,
		Results:     &results,
		StartedAt:   op.StartedAt,
		CompletedAt: op.CompletedAt,
	}, nil
}
