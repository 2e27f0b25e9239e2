package api

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"thrivesend/internal/engine"
	"thrivesend/internal/models"
	"thrivesend/internal/schedule"
)

// ScheduleHandler serves the content-schedule endpoints.
type ScheduleHandler struct {
	service *schedule.Service
	logger  *zap.Logger
}

func NewScheduleHandler(service *schedule.Service, logger *zap.Logger) *ScheduleHandler {
	return &ScheduleHandler{service: service, logger: logger}
}

// Create handles POST /api/schedules.
func (h *ScheduleHandler) Create(c echo.Context) error {
	var req models.CreateScheduleRequest
	if err := c.Bind(&req); err != nil {
		return failResponse(c, engine.NewValidation("invalid request body: %v", err))
	}

	resp, err := h.service.Create(c.Request().Context(), &req)
	if err != nil {
		h.logger.Warn("Schedule create rejected", zap.Error(err))
		return failResponse(c, err)
	}
	return successResponse(c, "Schedule registered", resp)
}

// Instances handles GET /api/schedules/:id/instances.
func (h *ScheduleHandler) Instances(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	sched, instances, err := h.service.Instances(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return failResponse(c, err)
	}
	return successResponse(c, "Successful", map[string]interface{}{
		"schedule":  sched,
		"instances": instances,
	})
}

// Control handles POST /api/schedules/control.
func (h *ScheduleHandler) Control(c echo.Context) error {
	var req models.ControlScheduleRequest
	if err := c.Bind(&req); err != nil {
		return failResponse(c, engine.NewValidation("invalid request body: %v", err))
	}

	resp, err := h.service.Control(c.Request().Context(), &req)
	if err != nil {
		h.logger.Warn("Schedule control rejected",
			zap.String("schedule_id", req.ScheduleID),
			zap.String("action", string(req.Action)),
			zap.Error(err))
		return failResponse(c, err)
	}
	return successResponse(c, "Successful", resp)
}
