package schedule

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"thrivesend/internal/engine"
	"thrivesend/internal/models"
	"thrivesend/internal/repository"
)

// DefaultHorizon is how far ahead instances are materialized.
const DefaultHorizon = 30 * 24 * time.Hour

// Service manages content schedules: registration, the
// active/paused/cancelled lifecycle, and converting due instances into
// operations.
type Service struct {
	repo       *repository.ScheduleRepository
	controller *engine.Controller
	clock      engine.Clock
	validate   *validator.Validate
	logger     *zap.Logger
	horizon    time.Duration
}

func NewService(repo *repository.ScheduleRepository, controller *engine.Controller, clock engine.Clock, horizon time.Duration, logger *zap.Logger) *Service {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Service{
		repo:       repo,
		controller: controller,
		clock:      clock,
		validate:   validator.New(),
		logger:     logger,
		horizon:    horizon,
	}
}

// Create registers a schedule and materializes its instances across the
// horizon. One-shot schedules get exactly one instance.
func (s *Service) Create(ctx context.Context, req *models.CreateScheduleRequest) (*models.CreateScheduleResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, engine.NewValidation("invalid schedule request: %v", err)
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		return nil, engine.NewValidation("unknown timezone %q", req.Timezone)
	}
	now := s.clock.Now()
	if !req.ScheduledAt.After(now) {
		return nil, engine.NewValidation("scheduledAt %s is in the past", req.ScheduledAt)
	}

	sched := &models.ContentSchedule{
		ID:             uuid.NewString(),
		OrganizationID: req.OrganizationID,
		Title:          req.Title,
		Status:         models.ScheduleActive,
		Priority:       req.Priority,
		Timezone:       req.Timezone,
		ScheduledAt:    req.ScheduledAt,
		CreatedBy:      req.CreatedBy,
	}
	sched.SetTargets(req.Targets)
	sched.SetPlatforms(req.Platforms)
	sched.SetParameters(req.Parameters)
	if req.Recurring != nil {
		sched.Frequency = req.Recurring.Frequency
		sched.SetWeekdays(req.Recurring.DaysOfWeek)
		sched.EndAt = req.Recurring.EndDate
	}

	instants, err := Expand(sched.Rule(), now, now.Add(s.horizon))
	if err != nil {
		return nil, err
	}
	if !sched.Recurring() && len(instants) == 0 {
		// One-shot beyond the horizon: materialize it anyway so the
		// firing never depends on horizon extension.
		instants = []time.Time{sched.ScheduledAt}
	}

	if err := s.repo.CreateSchedule(ctx, sched, instants); err != nil {
		return nil, engine.NewInternal("persist schedule: %v", err)
	}

	s.logger.Info("Schedule created",
		zap.String("schedule_id", sched.ID),
		zap.String("organization_id", sched.OrganizationID),
		zap.String("frequency", string(sched.Frequency)),
		zap.Int("instances", len(instants)))

	upcoming := instants
	if len(upcoming) > 5 {
		upcoming = upcoming[:5]
	}
	return &models.CreateScheduleResponse{
		ScheduleID:        sched.ID,
		Status:            sched.Status,
		Recurring:         sched.Recurring(),
		InstancesCreated:  len(instants),
		UpcomingInstances: upcoming,
	}, nil
}

// Control applies pause, resume or cancel to a schedule.
func (s *Service) Control(ctx context.Context, req *models.ControlScheduleRequest) (*models.ControlScheduleResponse, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, engine.NewValidation("invalid schedule control request: %v", err)
	}
	existing, err := s.repo.GetSchedule(ctx, req.ScheduleID)
	if err != nil {
		return nil, err
	}
	if existing.OrganizationID != req.OrganizationID {
		return nil, engine.NewNotFound("schedule %s not found", req.ScheduleID)
	}

	var (
		sched     *models.ContentSchedule
		cancelled int64
	)
	switch req.Action {
	case models.SchedulePauseAction:
		sched, err = s.repo.SetScheduleStatus(ctx, req.ScheduleID,
			[]models.ScheduleStatus{models.ScheduleActive}, models.SchedulePaused)
	case models.ScheduleResumeAction:
		sched, err = s.repo.SetScheduleStatus(ctx, req.ScheduleID,
			[]models.ScheduleStatus{models.SchedulePaused}, models.ScheduleActive)
	case models.ScheduleCancelAction:
		sched, err = s.repo.SetScheduleStatus(ctx, req.ScheduleID,
			[]models.ScheduleStatus{models.ScheduleActive, models.SchedulePaused}, models.ScheduleCancelled)
		if err == nil {
			cancelled, err = s.repo.CancelPendingInstances(ctx, req.ScheduleID)
		}
	default:
		return nil, engine.NewValidation("unknown schedule action %q", req.Action)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Schedule transitioned",
		zap.String("schedule_id", sched.ID),
		zap.String("action", string(req.Action)),
		zap.String("status", string(sched.Status)))

	return &models.ControlScheduleResponse{
		ScheduleID:         sched.ID,
		Action:             req.Action,
		PreviousStatus:     existing.Status,
		NewStatus:          sched.Status,
		CancelledInstances: cancelled,
		ProcessedAt:        s.clock.Now(),
	}, nil
}

// Instances lists a schedule's materialized firings.
func (s *Service) Instances(ctx context.Context, scheduleID string, limit int) (*models.ContentSchedule, []models.ScheduledInstance, error) {
	sched, err := s.repo.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, nil, err
	}
	instances, err := s.repo.ListInstances(ctx, scheduleID, limit)
	if err != nil {
		return nil, nil, engine.NewInternal("load instances: %v", err)
	}
	return sched, instances, nil
}

// FireDue converts due pending instances into publishing operations.
// Called by the cron loop once a minute.
func (s *Service) FireDue(ctx context.Context, now time.Time) {
	due, err := s.repo.ListDueInstances(ctx, now)
	if err != nil {
		s.logger.Error("Failed to list due instances", zap.Error(err))
		return
	}
	for i := range due {
		inst := &due[i]
		// Instances that sat through a long pause are not posted late,
		// they are skipped.
		if now.Sub(inst.ScheduledAt) > staleAfter {
			if err := s.repo.MarkInstanceSkipped(ctx, inst.ID); err != nil {
				s.logger.Error("Failed to skip stale instance",
					zap.Uint("instance_id", inst.ID), zap.Error(err))
			}
			continue
		}
		s.fireInstance(ctx, inst)
	}
}

// staleAfter bounds how late an instance may still fire.
const staleAfter = 2 * time.Hour

func (s *Service) fireInstance(ctx context.Context, inst *models.ScheduledInstance) {
	won, err := s.repo.MarkInstanceFired(ctx, inst.ID)
	if err != nil {
		s.logger.Error("Failed to claim instance",
			zap.Uint("instance_id", inst.ID), zap.Error(err))
		return
	}
	if !won {
		return
	}

	sched, err := s.repo.GetSchedule(ctx, inst.ScheduleID)
	if err != nil {
		s.logger.Error("Failed to load schedule for fired instance",
			zap.Uint("instance_id", inst.ID), zap.Error(err))
		return
	}

	params := sched.ParameterMap()
	params["platforms"] = sched.PlatformList()
	params["scheduleId"] = sched.ID

	op, err := s.controller.Create(ctx, &models.CreateOperationRequest{
		Type:           models.OperationContentPublish,
		OrganizationID: sched.OrganizationID,
		Name:           sched.Title,
		Targets:        sched.TargetList(),
		Parameters:     params,
		Priority:       sched.Priority,
		ExecutedBy:     sched.CreatedBy,
	})
	if err != nil {
		s.logger.Error("Failed to create operation for fired instance",
			zap.String("schedule_id", sched.ID),
			zap.Uint("instance_id", inst.ID),
			zap.Error(err))
		return
	}
	if err := s.repo.AttachInstanceOperation(ctx, inst.ID, op.ID); err != nil {
		s.logger.Error("Failed to attach operation to instance",
			zap.Uint("instance_id", inst.ID), zap.Error(err))
	}

	s.logger.Info("Schedule instance fired",
		zap.String("schedule_id", sched.ID),
		zap.Uint("instance_id", inst.ID),
		zap.String("operation_id", op.ID))
}

// ExtendHorizon materializes further instances for recurring schedules
// approaching the end of their expanded window. Called hourly.
func (s *Service) ExtendHorizon(ctx context.Context, now time.Time) {
	schedules, err := s.repo.ListActiveRecurring(ctx)
	if err != nil {
		s.logger.Error("Failed to list recurring schedules", zap.Error(err))
		return
	}
	end := now.Add(s.horizon)
	for i := range schedules {
		sched := &schedules[i]
		last, err := s.repo.LastInstanceAt(ctx, sched.ID)
		if err != nil {
			s.logger.Error("Failed to read horizon",
				zap.String("schedule_id", sched.ID), zap.Error(err))
			continue
		}
		from := now
		if last.After(from) {
			from = last.Add(time.Second)
		}
		if !from.Before(end) {
			continue
		}
		instants, err := Expand(sched.Rule(), from, end)
		if err != nil {
			s.logger.Error("Failed to expand schedule",
				zap.String("schedule_id", sched.ID), zap.Error(err))
			continue
		}
		if len(instants) == 0 {
			continue
		}
		if err := s.repo.AppendInstances(ctx, sched.ID, instants); err != nil {
			s.logger.Error("Failed to append instances",
				zap.String("schedule_id", sched.ID), zap.Error(err))
			continue
		}
		s.logger.Debug("Horizon extended",
			zap.String("schedule_id", sched.ID),
			zap.Int("instances", len(instants)))
	}
}
