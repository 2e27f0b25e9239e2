package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"thrivesend/internal/models"
)

type denyAll struct{}

func (denyAll) CanAct(context.Context, string, string) (bool, error) { return false, nil }

func TestCreateRejectsBadRequests(t *testing.T) {
	r := newRig(t, DispatcherConfig{}, &testExecutor{typ: models.OperationContentPublish})
	ctx := context.Background()

	cases := []struct {
		name string
		req  models.CreateOperationRequest
	}{
		{"missing type", models.CreateOperationRequest{
			OrganizationID: "org-1", Targets: targets("a"),
		}},
		{"unknown type", models.CreateOperationRequest{
			Type: "bulk-frobnicate", OrganizationID: "org-1", Targets: targets("a"),
		}},
		{"no executor registered", models.CreateOperationRequest{
			Type: models.OperationAnalyticsExport, OrganizationID: "org-1", Targets: targets("a"),
		}},
		{"no targets", models.CreateOperationRequest{
			Type: models.OperationContentPublish, OrganizationID: "org-1",
		}},
		{"duplicate target", models.CreateOperationRequest{
			Type: models.OperationContentPublish, OrganizationID: "org-1", Targets: targets("a", "a"),
		}},
		{"empty client id", models.CreateOperationRequest{
			Type: models.OperationContentPublish, OrganizationID: "org-1",
			Targets: []models.Target{{ItemID: "item-1"}},
		}},
		{"bad priority", models.CreateOperationRequest{
			Type: models.OperationContentPublish, OrganizationID: "org-1",
			Targets: targets("a"), Priority: "urgent",
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.controller.Create(ctx, &tc.req)
			require.Error(t, err)
			assert.Equal(t, CodeValidation, CodeOf(err))
		})
	}
}

func TestCreateRejectsForeignClients(t *testing.T) {
	store := newMemStore()
	logger := zap.NewNop()
	dispatcher := NewDispatcher(store, NewRegistry(&testExecutor{typ: models.OperationContentPublish}), SystemClock(), DispatcherConfig{}, logger)
	controller := NewController(store, dispatcher, denyAll{}, SystemClock(), logger)

	_, err := controller.Create(context.Background(), &models.CreateOperationRequest{
		Type:           models.OperationContentPublish,
		OrganizationID: "org-1",
		Targets:        targets("someone-elses-client"),
	})
	require.Error(t, err)
	assert.Equal(t, CodeValidation, CodeOf(err))
}

func TestCreateDraftDoesNotDispatch(t *testing.T) {
	var executed atomic.Bool
	exec := &testExecutor{typ: models.OperationContentPublish, fn: func(context.Context, models.Target, models.Parameters) (*ExecResult, error) {
		executed.Store(true)
		return &ExecResult{ItemsProcessed: 1}, nil
	}}
	r := newRig(t, DispatcherConfig{}, exec)

	op, err := r.controller.Create(context.Background(), &models.CreateOperationRequest{
		Type:           models.OperationContentPublish,
		OrganizationID: "org-1",
		Targets:        targets("a"),
		Draft:          true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OperationDraft, op.Status)
	assert.Nil(t, op.StartedAt)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, executed.Load(), "draft operation must not execute")
}

func TestCreateSchedulesFutureOperations(t *testing.T) {
	r := newRig(t, DispatcherConfig{}, &testExecutor{typ: models.OperationContentPublish})
	at := time.Now().Add(time.Hour)

	op, err := r.controller.Create(context.Background(), &models.CreateOperationRequest{
		Type:           models.OperationContentPublish,
		OrganizationID: "org-1",
		Targets:        targets("a"),
		ScheduleAt:     &at,
	})
	require.NoError(t, err)
	assert.Equal(t, models.OperationScheduled, op.Status)
	require.NotNil(t, op.ScheduledFor)
	assert.True(t, op.ScheduledFor.Equal(at))
}

func TestStartDuePromotesScheduledOperations(t *testing.T) {
	r := newRig(t, DispatcherConfig{}, &testExecutor{typ: models.OperationContentPublish})
	at := time.Now().Add(time.Hour)

	op, err := r.controller.Create(context.Background(), &models.CreateOperationRequest{
		Type:           models.OperationContentPublish,
		OrganizationID: "org-1",
		Targets:        targets("a"),
		ScheduleAt:     &at,
	})
	require.NoError(t, err)

	// Not yet due.
	r.controller.StartDue(context.Background(), time.Now())
	cur, _ := r.store.GetOperation(context.Background(), op.ID)
	assert.Equal(t, models.OperationScheduled, cur.Status)

	r.controller.StartDue(context.Background(), at.Add(time.Minute))
	r.waitStatus(t, op.ID, models.OperationCompleted)
}

func TestInvalidTransitionsAreRejected(t *testing.T) {
	r := newRig(t, DispatcherConfig{}, &testExecutor{typ: models.OperationContentPublish})
	ctx := context.Background()

	seed := func(status models.OperationStatus) string {
		op := &models.Operation{
			ID:             "op-" + string(status),
			Type:           models.OperationContentPublish,
			OrganizationID: "org-1",
			Status:         status,
			Version:        1,
		}
		require.NoError(t, r.store.CreateOperation(ctx, op, nil))
		return op.ID
	}

	statuses := []models.OperationStatus{
		models.OperationDraft, models.OperationScheduled,
		models.OperationInProgress, models.OperationPaused,
		models.OperationCompleted, models.OperationFailed,
		models.OperationCancelled,
	}
	allowed := map[models.ControlAction]map[models.OperationStatus]bool{
		models.ActionStart:  {models.OperationDraft: true},
		models.ActionPause:  {models.OperationInProgress: true},
		models.ActionResume: {models.OperationPaused: true},
		models.ActionCancel: {
			models.OperationDraft: true, models.OperationScheduled: true,
			models.OperationInProgress: true, models.OperationPaused: true,
			models.OperationFailed: true,
		},
		models.ActionRetry: {models.OperationFailed: true},
	}

	actions := []models.ControlAction{
		models.ActionStart, models.ActionPause, models.ActionResume,
		models.ActionCancel, models.ActionRetry,
	}
	for _, action := range actions {
		for _, status := range statuses {
			id := seed(status)
			_, err := r.controller.Control(ctx, &models.ControlOperationRequest{
				OperationID:    id,
				OrganizationID: "org-1",
				Action:         action,
			})
			if allowed[action][status] {
				assert.NoError(t, err, "%s from %s", action, status)
			} else {
				require.Error(t, err, "%s from %s", action, status)
				assert.Equal(t, CodeInvalidTransition, CodeOf(err), "%s from %s", action, status)
			}
		}
	}
}

func TestControlUnknownOperation(t *testing.T) {
	r := newRig(t, DispatcherConfig{}, &testExecutor{typ: models.OperationContentPublish})
	_, err := r.controller.Pause(context.Background(), "no-such-op")
	require.Error(t, err)
	assert.Equal(t, CodeNotFound, CodeOf(err))

	_, err = r.controller.Status(context.Background(), "no-such-op")
	require.Error(t, err)
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

func TestConcurrentCancelHasOneWinner(t *testing.T) {
	r := newRig(t, DispatcherConfig{}, &testExecutor{typ: models.OperationContentPublish})
	ctx := context.Background()

	op := &models.Operation{
		ID:             "op-race",
		Type:           models.OperationContentPublish,
		OrganizationID: "org-1",
		Status:         models.OperationInProgress,
		Version:        1,
	}
	require.NoError(t, r.store.CreateOperation(ctx, op, nil))

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := r.controller.Cancel(ctx, op.ID)
			results <- err
		}()
	}
	var oks, conflicts int
	for i := 0; i < 2; i++ {
		if err := <-results; err == nil {
			oks++
		} else if IsCode(err, CodeInvalidTransition) {
			conflicts++
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, oks)
	assert.Equal(t, 1, conflicts)
}

func TestStatusReflectsStoredSubtasks(t *testing.T) {
	r := newRig(t, DispatcherConfig{}, &testExecutor{typ: models.OperationContentPublish})
	ctx := context.Background()

	op := &models.Operation{
		ID:             "op-status",
		Type:           models.OperationContentPublish,
		OrganizationID: "org-1",
		Status:         models.OperationInProgress,
		Version:        1,
	}
	subTasks := []models.SubTask{
		{ClientID: "a", Position: 0, Status: models.SubTaskSucceeded, Processed: 1},
		{ClientID: "b", Position: 1, Status: models.SubTaskFailed, LastError: "boom"},
		{ClientID: "c", Position: 2, Status: models.SubTaskPending},
	}
	require.NoError(t, r.store.CreateOperation(ctx, op, subTasks))

	status, err := r.controller.Status(ctx, op.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OperationInProgress, status.Status)
	assert.Equal(t, 2, status.Progress.ItemsProcessed)
	assert.Equal(t, 3, status.Progress.ItemsTotal)
	require.NotNil(t, status.Results)
	assert.Equal(t, 1, status.Results.Successful)
	assert.Equal(t, 1, status.Results.Failed)
	assert.Equal(t, []string{"b: boom"}, status.Results.Errors)
}
