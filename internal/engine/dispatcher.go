package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"thrivesend/internal/models"
)

// DispatcherConfig tunes fan-out behavior. Zero values fall back to the
// defaults below.
type DispatcherConfig struct {
	// OrgConcurrency caps simultaneously running subtasks per
	// organization, protecting downstream platform rate limits.
	OrgConcurrency int64
	// OrgOverrides sets per-organization caps differing from the default.
	OrgOverrides map[string]int64
	// MaxAttempts bounds executions per subtask including the first.
	MaxAttempts int
	// BackoffBase is the wait before the first retry; it doubles per
	// attempt and is capped at BackoffCap.
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// TaskTimeout is the hard per-execution timeout; TypeTimeouts
	// override it per operation type.
	TaskTimeout  time.Duration
	TypeTimeouts map[models.OperationType]time.Duration
}

func (c *DispatcherConfig) normalize() {
	if c.OrgConcurrency <= 0 {
		c.OrgConcurrency = 5
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = time.Minute
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 60 * time.Second
	}
}

// Dispatcher fans one operation out into per-target subtask executions.
// Submission order is FIFO by target position; completions are
// unordered. All persistence for one operation flows through a single
// run-loop goroutine, so progress aggregation never races.
type Dispatcher struct {
	store    Store
	registry *Registry
	clock    Clock
	logger   *zap.Logger
	cfg      DispatcherConfig
	listener FinishListener

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
	runs map[string]*operationRun
	wg   sync.WaitGroup
}

type operationRun struct {
	ctx    context.Context
	cancel context.CancelFunc
	paused atomic.Bool
	done   chan struct{}
}

type taskPhase int

const (
	phaseStarted taskPhase = iota
	phaseFinished
)

type taskEvent struct {
	index      int
	phase      taskPhase
	status     models.SubTaskStatus
	attempts   int
	processed  int
	lastError  string
	startedAt  time.Time
	finishedAt time.Time
}

func NewDispatcher(store Store, registry *Registry, clock Clock, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	cfg.normalize()
	return &Dispatcher{
		store:    store,
		registry: registry,
		clock:    clock,
		logger:   logger,
		cfg:      cfg,
		sems:     make(map[string]*semaphore.Weighted),
		runs:     make(map[string]*operationRun),
	}
}

// SetFinishListener installs an observer for final operation outcomes.
func (d *Dispatcher) SetFinishListener(l FinishListener) {
	d.listener = l
}

// Registry exposes the executor registry for type validation.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch starts (or resumes) execution of the operation's pending
// subtasks. It returns immediately; execution continues in the
// background. Calling Dispatch for an operation that is already running
// is a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, op *models.Operation) error {
	exec, err := d.registry.For(op.Type)
	if err != nil {
		return err
	}

	d.mu.Lock()
	existing, ok := d.runs[op.ID]
	d.mu.Unlock()
	if ok {
		select {
		case <-existing.done:
			// previous run drained; fall through and replace it
		default:
			if !existing.paused.Load() && existing.ctx.Err() == nil {
				return nil
			}
			// A pausing or cancelling run is still settling its
			// in-flight subtasks; wait so the fresh run sees their
			// final states.
			<-existing.done
		}
	}

	subTasks, err := d.store.ListSubTasks(ctx, op.ID)
	if err != nil {
		return NewInternal("load subtasks: %v", err)
	}

	d.mu.Lock()
	if cur, stillThere := d.runs[op.ID]; stillThere && cur != existing {
		d.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	run := &operationRun{ctx: runCtx, cancel: cancel, done: make(chan struct{})}
	d.runs[op.ID] = run
	sem := d.orgSemaphore(op.OrganizationID)
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(run, sem, exec, op, subTasks)
	return nil
}

// Pause stops submission of new subtasks for the operation. In-flight
// executions finish; their results are still recorded.
func (d *Dispatcher) Pause(operationID string) {
	d.mu.Lock()
	run, ok := d.runs[operationID]
	d.mu.Unlock()
	if ok {
		run.paused.Store(true)
	}
}

// Cancel signals cooperative cancellation. Workers observe the context;
// a subtask already on the wire may still complete remotely, and any
// late report is discarded as a no-op.
func (d *Dispatcher) Cancel(operationID string) {
	d.mu.Lock()
	run, ok := d.runs[operationID]
	d.mu.Unlock()
	if ok {
		run.cancel()
	}
}

// Shutdown waits for all run loops to drain, up to ctx's deadline.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) orgSemaphore(organizationID string) *semaphore.Weighted {
	// caller holds d.mu
	if sem, ok := d.sems[organizationID]; ok {
		return sem
	}
	cap := d.cfg.OrgConcurrency
	if override, ok := d.cfg.OrgOverrides[organizationID]; ok && override > 0 {
		cap = override
	}
	sem := semaphore.NewWeighted(cap)
	d.sems[organizationID] = sem
	return sem
}

// run is the single-writer loop for one operation: it launches workers
// for pending subtasks in FIFO order (bounded by the org semaphore),
// folds every state change into Progress/Results, persists them, and
// finalizes the operation once everything is terminal.
func (d *Dispatcher) run(run *operationRun, sem *semaphore.Weighted, exec Executor, op *models.Operation, subTasks []models.SubTask) {
	defer d.wg.Done()
	defer close(run.done)

	params := op.ParameterMap()
	events := make(chan taskEvent)

	var workers sync.WaitGroup
	go func() {
		defer close(events)
		defer workers.Wait()
		for i := range subTasks {
			if subTasks[i].Status != models.SubTaskPending {
				continue
			}
			if run.paused.Load() || run.ctx.Err() != nil {
				return
			}
			if err := sem.Acquire(run.ctx, 1); err != nil {
				return
			}
			// Pause may have landed while waiting on the semaphore.
			if run.paused.Load() {
				sem.Release(1)
				return
			}
			workers.Add(1)
			go func(idx int) {
				defer workers.Done()
				defer sem.Release(1)
				d.executeSubTask(run, exec, subTasks[idx], params, idx, events)
			}(i)
		}
	}()

	for ev := range events {
		d.applyEvent(run, op, subTasks, ev)
	}

	d.finalize(run, op, subTasks)
}

// executeSubTask drives one subtask through its attempt loop, emitting a
// started event and exactly one terminal event.
func (d *Dispatcher) executeSubTask(run *operationRun, exec Executor, st models.SubTask, params models.Parameters, idx int, events chan<- taskEvent) {
	started := d.clock.Now()
	events <- taskEvent{index: idx, phase: phaseStarted, status: models.SubTaskRunning, attempts: st.Attempts, startedAt: started}

	attempts := st.Attempts
	target := st.Target()
	var lastErr error

	for {
		attempts++

		execCtx, cancel := context.WithTimeout(run.ctx, d.timeoutFor(exec.Type()))
		result, err := exec.Run(execCtx, target, params)
		cancel()

		if err == nil {
			processed := 1
			if result != nil && result.ItemsProcessed > 0 {
				processed = result.ItemsProcessed
			}
			events <- taskEvent{
				index: idx, phase: phaseFinished, status: models.SubTaskSucceeded,
				attempts: attempts, processed: processed,
				startedAt: started, finishedAt: d.clock.Now(),
			}
			return
		}
		lastErr = err

		if run.ctx.Err() != nil {
			// Cancelled mid-flight: bookkeeping already treats the
			// subtask as cancelled, whatever the remote side did.
			events <- taskEvent{
				index: idx, phase: phaseFinished, status: models.SubTaskCancelled,
				attempts: attempts, lastError: models.TruncateError(lastErr.Error()),
				startedAt: started, finishedAt: d.clock.Now(),
			}
			return
		}

		if IsTerminal(err) || attempts >= d.cfg.MaxAttempts {
			events <- taskEvent{
				index: idx, phase: phaseFinished, status: models.SubTaskFailed,
				attempts: attempts, lastError: models.TruncateError(lastErr.Error()),
				startedAt: started, finishedAt: d.clock.Now(),
			}
			return
		}

		select {
		case <-run.ctx.Done():
			events <- taskEvent{
				index: idx, phase: phaseFinished, status: models.SubTaskCancelled,
				attempts: attempts, lastError: models.TruncateError(lastErr.Error()),
				startedAt: started, finishedAt: d.clock.Now(),
			}
			return
		case <-time.After(d.backoff(attempts)):
		}
	}
}

// applyEvent folds one subtask state change into the in-memory set,
// recomputes the aggregates, and persists both in one transaction. Runs
// only on the run-loop goroutine.
func (d *Dispatcher) applyEvent(run *operationRun, op *models.Operation, subTasks []models.SubTask, ev taskEvent) {
	st := &subTasks[ev.index]

	if run.ctx.Err() != nil {
		// Operation was cancelled: the controller already settled the
		// rows. A report arriving now is a late completion.
		d.logger.Debug("Discarding late subtask completion",
			zap.String("operation_id", op.ID),
			zap.String("target", st.TargetID()),
			zap.String("status", string(ev.status)))
		return
	}
	if st.Status.Terminal() {
		d.logger.Warn("Ignoring event for settled subtask",
			zap.String("operation_id", op.ID),
			zap.String("target", st.TargetID()))
		return
	}

	st.Status = ev.status
	st.Attempts = ev.attempts
	if ev.processed > 0 {
		st.Processed = ev.processed
	}
	if ev.lastError != "" {
		st.LastError = ev.lastError
	}
	if !ev.startedAt.IsZero() {
		startedAt := ev.startedAt
		st.StartedAt = &startedAt
	}
	if ev.phase == phaseFinished && !ev.finishedAt.IsZero() {
		finishedAt := ev.finishedAt
		st.FinishedAt = &finishedAt
	}

	progress, results := Reduce(op.Type, subTasks)
	if err := d.store.SaveSubTask(run.ctx, st, progress, results); err != nil {
		d.logger.Error("Failed to persist subtask state",
			zap.String("operation_id", op.ID),
			zap.String("target", st.TargetID()),
			zap.Error(err))
	}
}

// finalize settles the operation once the run loop drains: completed
// when every subtask is terminal and none failed, failed when at least
// one is. Paused and cancelled runs keep the status the controller set.
func (d *Dispatcher) finalize(run *operationRun, op *models.Operation, subTasks []models.SubTask) {
	d.mu.Lock()
	if d.runs[op.ID] == run {
		delete(d.runs, op.ID)
	}
	d.mu.Unlock()

	if run.ctx.Err() != nil || run.paused.Load() {
		return
	}

	allTerminal := true
	failed := 0
	for i := range subTasks {
		if !subTasks[i].Status.Terminal() {
			allTerminal = false
			break
		}
		if subTasks[i].Status == models.SubTaskFailed {
			failed++
		}
	}
	if !allTerminal {
		return
	}

	final := models.OperationFailed
	if failed == 0 {
		final = models.OperationCompleted
	}

	_, results := Reduce(op.Type, subTasks)
	now := d.clock.Now()

	updated, err := d.store.TransitionOperation(context.Background(), op.ID, func(cur *models.Operation) error {
		if cur.Status != models.OperationInProgress {
			return NewInvalidTransition("operation %s is %s, not in_progress", cur.ID, cur.Status)
		}
		cur.Status = final
		cur.CompletedAt = &now
		if failed > 0 && len(results.Errors) > 0 {
			cur.LastError = models.TruncateError(results.Errors[0])
		}
		return nil
	})
	if err != nil {
		d.logger.Error("Failed to finalize operation",
			zap.String("operation_id", op.ID),
			zap.String("status", string(final)),
			zap.Error(err))
		return
	}

	d.logger.Info("Operation finished",
		zap.String("operation_id", op.ID),
		zap.String("type", string(op.Type)),
		zap.String("status", string(final)),
		zap.Int("successful", results.Successful),
		zap.Int("failed", results.Failed))

	if d.listener != nil {
		d.listener.OperationFinished(updated, results)
	}
}

func (d *Dispatcher) timeoutFor(t models.OperationType) time.Duration {
	if timeout, ok := d.cfg.TypeTimeouts[t]; ok && timeout > 0 {
		return timeout
	}
	return d.cfg.TaskTimeout
}

// backoff returns the wait before the next attempt: base doubled per
// completed attempt, capped.
func (d *Dispatcher) backoff(attempts int) time.Duration {
	wait := d.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		wait *= 2
		if wait >= d.cfg.BackoffCap {
			return d.cfg.BackoffCap
		}
	}
	if wait > d.cfg.BackoffCap {
		wait = d.cfg.BackoffCap
	}
	return wait
}
