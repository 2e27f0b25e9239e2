package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"thrivesend/internal/models"
)

// testExecutor runs the configured function for every target.
type testExecutor struct {
	typ models.OperationType
	fn  func(ctx context.Context, target models.Target, params models.Parameters) (*ExecResult, error)
}

func (e *testExecutor) Type() models.OperationType { return e.typ }

func (e *testExecutor) Run(ctx context.Context, target models.Target, params models.Parameters) (*ExecResult, error) {
	if e.fn == nil {
		return &ExecResult{ItemsProcessed: 1}, nil
	}
	return e.fn(ctx, target, params)
}

type allowAll struct{}

func (allowAll) CanAct(context.Context, string, string) (bool, error) { return true, nil }

type rig struct {
	store      *memStore
	dispatcher *Dispatcher
	controller *Controller
}

func newRig(t *testing.T, cfg DispatcherConfig, execs ...Executor) *rig {
	t.Helper()
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = time.Millisecond
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = 5 * time.Millisecond
	}
	if cfg.TaskTimeout == 0 {
		cfg.TaskTimeout = 2 * time.Second
	}
	store := newMemStore()
	logger := zap.NewNop()
	dispatcher := NewDispatcher(store, NewRegistry(execs...), SystemClock(), cfg, logger)
	controller := NewController(store, dispatcher, allowAll{}, SystemClock(), logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = dispatcher.Shutdown(ctx)
	})
	return &rig{store: store, dispatcher: dispatcher, controller: controller}
}

func targets(ids ...string) []models.Target {
	out := make([]models.Target, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.Target{ClientID: id})
	}
	return out
}

func (r *rig) waitStatus(t *testing.T, id string, want models.OperationStatus) *models.Operation {
	t.Helper()
	var op *models.Operation
	require.Eventually(t, func() bool {
		var err error
		op, err = r.store.GetOperation(context.Background(), id)
		return err == nil && op.Status == want
	}, 5*time.Second, 5*time.Millisecond, "operation never reached %s", want)
	return op
}

func TestDispatchRunsAllTargetsToCompletion(t *testing.T) {
	var mu sync.Mutex
	ran := map[string]int{}
	exec := &testExecutor{typ: models.OperationContentPublish, fn: func(_ context.Context, target models.Target, _ models.Parameters) (*ExecResult, error) {
		mu.Lock()
		ran[target.ClientID]++
		mu.Unlock()
		return &ExecResult{ItemsProcessed: 1}, nil
	}}
	r := newRig(t, DispatcherConfig{}, exec)

	op, err := r.controller.Create(context.Background(), &models.CreateOperationRequest{
		Type:           models.OperationContentPublish,
		OrganizationID: "org-1",
		Targets:        targets("a", "b", "c"),
	})
	require.NoError(t, err)
	require.Equal(t, models.OperationInProgress, op.Status)

	final := r.waitStatus(t, op.ID, models.OperationCompleted)
	assert.Equal(t, 3, final.ItemsProcessed)
	assert.Equal(t, 3, final.Successful)
	assert.Equal(t, 0, final.FailedItems)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, ran, 3)
	for id, n := range ran {
		assert.Equal(t, 1, n, "target %s ran more than once", id)
	}
}

func TestRetryableFailuresBackOffThenSucceed(t *testing.T) {
	var attempts atomic.Int32
	exec := &testExecutor{typ: models.OperationContentPublish, fn: func(context.Context, models.Target, models.Parameters) (*ExecResult, error) {
		if attempts.Add(1) <= 2 {
			return nil, Retryable(errors.New("downstream 503"))
		}
		return &ExecResult{ItemsProcessed: 1}, nil
	}}
	r := newRig(t, DispatcherConfig{MaxAttempts: 3}, exec)

	op, err := r.controller.Create(context.Background(), &models.CreateOperationRequest{
		Type:           models.OperationContentPublish,
		OrganizationID: "org-1",
		Targets:        targets("a"),
	})
	require.NoError(t, err)

	r.waitStatus(t, op.ID, models.OperationCompleted)

	subTasks, err := r.store.ListSubTasks(context.Background(), op.ID)
	require.NoError(t, err)
	require.Len(t, subTasks, 1)
	assert.Equal(t, models.SubTaskSucceeded, subTasks[0].Status)
	assert.Equal(t, 3, subTasks[0].Attempts)
}

func TestTerminalFailureStopsImmediately(t *testing.T) {
	var attempts atomic.Int32
	exec := &testExecutor{typ: models.OperationContentPublish, fn: func(context.Context, models.Target, models.Parameters) (*ExecResult, error) {
		attempts.Add(1)
		return nil, Terminal(errors.New("unknown client"))
	}}
	r := newRig(t, DispatcherConfig{MaxAttempts: 5}, exec)

	op, err := r.controller.Create(context.Background(), &models.CreateOperationRequest{
		Type:           models.OperationContentPublish,
		OrganizationID: "org-1",
		Targets:        targets("a"),
	})
	require.NoError(t, err)

	final := r.waitStatus(t, op.ID, models.OperationFailed)
	assert.Equal(t, int32(1), attempts.Load())
	assert.Equal(t, 1, final.FailedItems)
	assert.Contains(t, final.LastError, "unknown client")

	subTasks, _ := r.store.ListSubTasks(context.Background(), op.ID)
	require.Len(t, subTasks, 1)
	assert.Equal(t, models.SubTaskFailed, subTasks[0].Status)
	assert.Equal(t, 1, subTasks[0].Attempts)
}

func TestPartialFailureStillProcessesEveryTarget(t *testing.T) {
	exec := &testExecutor{typ: models.OperationContentPublish, fn: func(_ context.Context, target models.Target, _ models.Parameters) (*ExecResult, error) {
		if target.ClientID == "b" {
			return nil, Terminal(errors.New("b is broken"))
		}
		return &ExecResult{ItemsProcessed: 1}, nil
	}}
	r := newRig(t, DispatcherConfig{}, exec)

	op, err := r.controller.Create(context.Background(), &models.CreateOperationRequest{
		Type:           models.OperationContentPublish,
		OrganizationID: "org-1",
		Targets:        targets("a", "b", "c"),
	})
	require.NoError(t, err)

	final := r.waitStatus(t, op.ID, models.OperationFailed)
	assert.Equal(t, 2, final.Successful)
	assert.Equal(t, 1, final.FailedItems)
	assert.Equal(t, 3, final.ItemsProcessed)
}

func TestOrgConcurrencyCap(t *testing.T) {
	var current, peak atomic.Int32
	release := make(chan struct{})
	exec := &testExecutor{typ: models.OperationContentPublish, fn: func(ctx context.Context, _ models.Target, _ models.Parameters) (*ExecResult, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
		current.Add(-1)
		return &ExecResult{ItemsProcessed: 1}, nil
	}}
	r := newRig(t, DispatcherConfig{OrgConcurrency: 2}, exec)

	op, err := r.controller.Create(context.Background(), &models.CreateOperationRequest{
		Type:           models.OperationContentPublish,
		OrganizationID: "org-1",
		Targets:        targets("a", "b", "c", "d", "e"),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return current.Load() == 2 }, 2*time.Second, time.Millisecond)
	// Give the submitter a chance to overshoot the cap.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), peak.Load())

	close(release)
	r.waitStatus(t, op.ID, models.OperationCompleted)
	assert.Equal(t, int32(2), peak.Load())
}

func TestPauseStopsSubmissionAndResumeFinishes(t *testing.T) {
	gate := make(chan struct{})
	var started atomic.Int32
	exec := &testExecutor{typ: models.OperationContentPublish, fn: func(ctx context.Context, _ models.Target, _ models.Parameters) (*ExecResult, error) {
		started.Add(1)
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &ExecResult{ItemsProcessed: 1}, nil
	}}
	r := newRig(t, DispatcherConfig{OrgConcurrency: 4}, exec)

	op, err := r.controller.Create(context.Background(), &models.CreateOperationRequest{
		Type:           models.OperationContentPublish,
		OrganizationID: "org-1",
		Targets:        targets("t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9"),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return started.Load() == 4 }, 2*time.Second, time.Millisecond)

	_, err = r.controller.Pause(context.Background(), op.ID)
	require.NoError(t, err)

	// In-flight subtasks finish and count; nothing new starts.
	close(gate)
	require.Eventually(t, func() bool {
		cur, _ := r.store.GetOperation(context.Background(), op.ID)
		return cur.ItemsProcessed == 4
	}, 2*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(4), started.Load())

	cur, err := r.store.GetOperation(context.Background(), op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationPaused, cur.Status)

	_, err = r.controller.Resume(context.Background(), op.ID)
	require.NoError(t, err)

	final := r.waitStatus(t, op.ID, models.OperationCompleted)
	assert.Equal(t, 10, final.ItemsProcessed)
	assert.Equal(t, 10, final.Successful)
	assert.Equal(t, int32(10), started.Load())
}

func TestCancelSettlesOpenSubtasksAndDiscardsLateResults(t *testing.T) {
	inFlight := make(chan struct{})
	finish := make(chan struct{})
	exec := &testExecutor{typ: models.OperationContentPublish, fn: func(ctx context.Context, target models.Target, _ models.Parameters) (*ExecResult, error) {
		if target.ClientID == "slow" {
			close(inFlight)
			<-finish
			// The remote side completed even though the operation was
			// cancelled mid-flight.
			return &ExecResult{ItemsProcessed: 1}, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	r := newRig(t, DispatcherConfig{OrgConcurrency: 1}, exec)

	op, err := r.controller.Create(context.Background(), &models.CreateOperationRequest{
		Type:           models.OperationContentPublish,
		OrganizationID: "org-1",
		Targets:        targets("slow", "never-started"),
	})
	require.NoError(t, err)

	<-inFlight
	cancelled, err := r.controller.Cancel(context.Background(), op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationCancelled, cancelled.Status)

	subTasks, err := r.store.ListSubTasks(context.Background(), op.ID)
	require.NoError(t, err)
	for _, st := range subTasks {
		assert.Equal(t, models.SubTaskCancelled, st.Status, "target %s", st.ClientID)
	}

	// Late completion arrives after cancellation: a no-op.
	close(finish)
	time.Sleep(50 * time.Millisecond)

	cur, err := r.store.GetOperation(context.Background(), op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationCancelled, cur.Status)
	subTasks, _ = r.store.ListSubTasks(context.Background(), op.ID)
	for _, st := range subTasks {
		assert.Equal(t, models.SubTaskCancelled, st.Status)
	}
}

func TestRetryRerunsOnlyFailedSubtasks(t *testing.T) {
	var mode atomic.Int32 // 0: b fails, 1: everything succeeds
	var runs sync.Map
	exec := &testExecutor{typ: models.OperationContentPublish, fn: func(_ context.Context, target models.Target, _ models.Parameters) (*ExecResult, error) {
		n, _ := runs.LoadOrStore(target.ClientID, new(atomic.Int32))
		n.(*atomic.Int32).Add(1)
		if mode.Load() == 0 && target.ClientID == "b" {
			return nil, Terminal(errors.New("transient outage"))
		}
		return &ExecResult{ItemsProcessed: 1}, nil
	}}
	r := newRig(t, DispatcherConfig{}, exec)

	op, err := r.controller.Create(context.Background(), &models.CreateOperationRequest{
		Type:           models.OperationContentPublish,
		OrganizationID: "org-1",
		Targets:        targets("a", "b", "c"),
	})
	require.NoError(t, err)
	r.waitStatus(t, op.ID, models.OperationFailed)

	mode.Store(1)
	_, err = r.controller.Retry(context.Background(), op.ID)
	require.NoError(t, err)

	final := r.waitStatus(t, op.ID, models.OperationCompleted)
	assert.Equal(t, 3, final.Successful)
	assert.Equal(t, 0, final.FailedItems)
	assert.Empty(t, final.LastError)

	countFor := func(id string) int32 {
		n, ok := runs.Load(id)
		require.True(t, ok)
		return n.(*atomic.Int32).Load()
	}
	assert.Equal(t, int32(1), countFor("a"), "succeeded target re-ran")
	assert.Equal(t, int32(1), countFor("c"), "succeeded target re-ran")
	assert.Equal(t, int32(2), countFor("b"))

	subTasks, _ := r.store.ListSubTasks(context.Background(), op.ID)
	require.Len(t, subTasks, 3)
	assert.Equal(t, 3, len(subTasks), "retry must reuse rows, not add new ones")
}
