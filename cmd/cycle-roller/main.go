// Package main is the entrypoint for the cycle-roller Lambda function.
//
// An EventBridge rule invokes it shortly after midnight UTC with a
// MaintenancePayload. The handler resets the monthly credit budget of every
// account whose billing cycle has ended. Extra credits and structural
// counters are carried over untouched.
//
// Exclusivity across concurrent invocations is handled by the roller's job
// lock on PostgreSQL; an invocation that finds the lock held returns without
// work.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"

	"flui/internal/app"
	"flui/internal/config"
	"flui/internal/scheduler"
)

// Roller is the subset of scheduler.CycleRoller the handler calls.
type Roller interface {
	RollDue(ctx context.Context, now time.Time) (scheduler.RolloverResult, error)
}

// Handler holds the dependencies of the Lambda handler function.
type Handler struct {
	Roller   Roller
	WorkerID string
	Logger   *slog.Logger
	Now      func() time.Time
}

// Handle processes one scheduled invocation.
func (h *Handler) Handle(ctx context.Context, payload scheduler.MaintenancePayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := h.Now
	if clock == nil {
		clock = time.Now
	}

	now := payload.Now(clock())
	logger.InfoContext(ctx, "cycle-roller invoked",
		"task", string(payload.Task),
		"reference_time", now.Format(time.RFC3339),
		"worker_id", h.WorkerID,
	)

	switch payload.Task {
	case scheduler.TaskRolloverCycles:
	case "":
		return "", fmt.Errorf("empty task type in maintenance payload")
	default:
		return "", fmt.Errorf("unknown task type: %q", payload.Task)
	}

	result, err := h.Roller.RollDue(ctx, now)
	if err != nil {
		logger.ErrorContext(ctx, "cycle rollover failed",
			"error", err,
			"rolled_before_error", result.Rolled,
		)
		return "", fmt.Errorf("task %s failed: %w", payload.Task, err)
	}
	if result.Locked {
		return "skipped: rollover lock held by another worker", nil
	}

	return fmt.Sprintf("task %s complete: %d rolled, %d skipped, %d failed",
		payload.Task, result.Rolled, result.Skipped, result.Failed), nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("cycle-roller Lambda initializing (cold start)")

	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Used for job lock ownership.
	workerID := uuid.New().String()

	engine, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to wire engine", "error", err)
		os.Exit(1)
	}

	h := &Handler{
		Roller:   engine.NewCycleRoller(workerID),
		WorkerID: workerID,
		Logger:   logger,
	}

	logger.Info("cycle-roller Lambda ready", "worker_id", workerID)
	lambda.Start(h.Handle)
}
