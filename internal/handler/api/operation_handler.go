package api

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"thrivesend/internal/engine"
	"thrivesend/internal/models"
	"thrivesend/internal/repository"
)

// OperationHandler serves the bulk-operation endpoints.
type OperationHandler struct {
	controller *engine.Controller
	operations *repository.OperationRepository
	clients    *repository.ClientRepository
	logger     *zap.Logger
}

func NewOperationHandler(controller *engine.Controller, operations *repository.OperationRepository, clients *repository.ClientRepository, logger *zap.Logger) *OperationHandler {
	return &OperationHandler{
		controller: controller,
		operations: operations,
		clients:    clients,
		logger:     logger,
	}
}

// Create handles POST /api/operations.
func (h *OperationHandler) Create(c echo.Context) error {
	var req models.CreateOperationRequest
	if err := c.Bind(&req); err != nil {
		return failResponse(c, engine.NewValidation("invalid request body: %v", err))
	}

	op, err := h.controller.Create(c.Request().Context(), &req)
	if err != nil {
		h.logger.Warn("Operation create rejected", zap.Error(err))
		return failResponse(c, err)
	}

	return successResponse(c, "Operation accepted", models.CreateOperationResponse{
		OperationID:       op.ID,
		OperationType:     op.Type,
		Status:            op.Status,
		ClientsAffected:   op.ClientsAffected(),
		ItemsToProcess:    op.ItemsTotal,
		EstimatedDuration: models.EstimateDuration(op.Type, len(op.ClientsAffected()), op.ItemsTotal),
		StartedAt:         op.StartedAt,
		ScheduledFor:      op.ScheduledFor,
		Progress: models.Progress{
			ItemsTotal:  op.ItemsTotal,
			CurrentStep: "Initializing...",
		},
	})
}

// Status handles GET /api/operations/:id/status.
func (h *OperationHandler) Status(c echo.Context) error {
	status, err := h.controller.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return failResponse(c, err)
	}
	return successResponse(c, "Successful", status)
}

// Control handles POST /api/operations/control.
func (h *OperationHandler) Control(c echo.Context) error {
	var req models.ControlOperationRequest
	if err := c.Bind(&req); err != nil {
		return failResponse(c, engine.NewValidation("invalid request body: %v", err))
	}

	before, err := h.operations.GetOperation(c.Request().Context(), req.OperationID)
	if err != nil {
		return failResponse(c, err)
	}
	if before.OrganizationID != req.OrganizationID {
		return failResponse(c, engine.NewNotFound("operation %s not found", req.OperationID))
	}

	op, err := h.controller.Control(c.Request().Context(), &req)
	if err != nil {
		h.logger.Warn("Operation control rejected",
			zap.String("operation_id", req.OperationID),
			zap.String("action", string(req.Action)),
			zap.Error(err))
		return failResponse(c, err)
	}

	return successResponse(c, "Successful", models.ControlOperationResponse{
		OperationID:    op.ID,
		Action:         req.Action,
		PreviousStatus: before.Status,
		NewStatus:      op.Status,
		ProcessedAt:    time.Now(),
	})
}

// Data handles GET /api/operations: the dashboard payload with the
// client roster, the operation catalog, recent operations and stats.
func (h *OperationHandler) Data(c echo.Context) error {
	ctx := c.Request().Context()
	organizationID := c.QueryParam("organizationId")
	if organizationID == "" {
		return failResponse(c, engine.NewValidation("organizationId query parameter is required"))
	}

	clients, err := h.clients.ListByOrganization(ctx, organizationID)
	if err != nil {
		h.logger.Error("Failed to list clients", zap.Error(err))
		return failResponse(c, engine.NewInternal("failed to load clients"))
	}
	recent, err := h.operations.ListRecent(ctx, organizationID, 10)
	if err != nil {
		h.logger.Error("Failed to list recent operations", zap.Error(err))
		return failResponse(c, engine.NewInternal("failed to load operations"))
	}
	stats, err := h.operations.Stats(ctx, organizationID, time.Now())
	if err != nil {
		h.logger.Error("Failed to build stats", zap.Error(err))
		return failResponse(c, engine.NewInternal("failed to load stats"))
	}

	return successResponse(c, "Successful", models.OperationDataResponse{
		AvailableClients:   clients,
		BulkOperationTypes: models.OperationCatalog(),
		RecentOperations:   recent,
		OperationStats:     *stats,
	})
}
