package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"thrivesend/internal/engine"
	"thrivesend/internal/handler/api"
	"thrivesend/internal/middleware"
	"thrivesend/internal/repository"
	"thrivesend/internal/schedule"
)

// Setup configures all routes for the Echo server.
func Setup(
	e *echo.Echo,
	controller *engine.Controller,
	schedules *schedule.Service,
	operations *repository.OperationRepository,
	clients *repository.ClientRepository,
	logger *zap.Logger,
	apiKey string,
) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger(logger))

	// Handlers
	operationHandler := api.NewOperationHandler(controller, operations, clients, logger)
	scheduleHandler := api.NewScheduleHandler(schedules, logger)

	// API group with auth middleware
	apiGroup := e.Group("/api")
	apiGroup.Use(middleware.APIAuth(apiKey))

	apiGroup.GET("/operations", operationHandler.Data)
	apiGroup.POST("/operations", operationHandler.Create)
	apiGroup.GET("/operations/:id/status", operationHandler.Status)
	apiGroup.POST("/operations/control", operationHandler.Control)

	apiGroup.POST("/schedules", scheduleHandler.Create)
	apiGroup.GET("/schedules/:id/instances", scheduleHandler.Instances)
	apiGroup.POST("/schedules/control", scheduleHandler.Control)

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
}
