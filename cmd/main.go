package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"thrivesend/internal/bootstrap"
	"thrivesend/internal/config"
	cronpkg "thrivesend/internal/cron"
	"thrivesend/internal/engine"
	"thrivesend/internal/notify"
	"thrivesend/internal/platform"
	"thrivesend/internal/repository"
	"thrivesend/internal/router"
	"thrivesend/internal/schedule"
)

func main() {
	// --- Logger ---
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// --- Database ---
	db, err := config.NewDatabase(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := bootstrap.Migrate(db); err != nil {
		logger.Fatal("Failed to bootstrap database schema", zap.Error(err))
	}

	// --- Repositories ---
	operations := repository.NewOperationRepository(db)
	schedules := repository.NewScheduleRepository(db)
	clients := repository.NewClientRepository(db)

	// --- Engine ---
	gateway := platform.NewGateway(cfg.Platform.BaseURL, cfg.Platform.APIKey, cfg.Platform.Timeout)
	registry := platform.NewRegistry(gateway)
	clock := engine.SystemClock()
	dispatcher := engine.NewDispatcher(operations, registry, clock, engine.DispatcherConfig{
		OrgConcurrency: cfg.Engine.OrgConcurrency,
		MaxAttempts:    cfg.Engine.MaxAttempts,
		BackoffBase:    cfg.Engine.BackoffBase,
		BackoffCap:     cfg.Engine.BackoffCap,
		TaskTimeout:    cfg.Engine.TaskTimeout,
	}, logger)
	controller := engine.NewController(operations, dispatcher, clients, clock, logger)

	// --- Ops notifications ---
	notifier, err := notify.New(cfg.Notify.BotToken, cfg.Notify.Channel, operations, cfg.Notify.Organizations, logger)
	if err != nil {
		logger.Fatal("Failed to create notifier", zap.Error(err))
	}
	if notifier != nil {
		dispatcher.SetFinishListener(notifier)
	}

	// --- Schedules ---
	scheduleService := schedule.NewService(schedules, controller, clock, cfg.Schedule.Horizon, logger)

	// --- Fire guard (Redis with in-memory fallback) ---
	guard, guardErr := cronpkg.NewFireGuard(cfg.Redis.Addr, cfg.Redis.Pass, cfg.Redis.DB, 10*time.Minute)
	if guardErr != nil {
		logger.Warn("Redis unavailable for tick guard, using in-memory fallback", zap.Error(guardErr))
	}

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true
	router.Setup(e, controller, scheduleService, operations, clients, logger, cfg.API.Key)

	// --- Cron Scheduler ---
	scheduler := cronpkg.New(cfg, controller, scheduleService, operations, notifier, guard, logger)
	scheduler.Start()

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting ThriveSend orchestrator", zap.String("addr", addr))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Dispatcher did not drain in time", zap.Error(err))
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
