// Package main is the entrypoint for the Sweeper Lambda function.
//
// The Sweeper is triggered by EventBridge schedules. Each invocation names a
// maintenance task and the lots to run it on:
//
//	{"task": "expire_subscriptions", "lot_ids": [1, 2], "reference_time": "2026-03-10T03:00:00Z"}
//
// Tasks:
//   - expire_subscriptions: frees or converts plazas whose subscription lapsed.
//   - expire_reservations: forfeits confirmed reservations past the arrival deadline.
//   - reconcile_plazas: recomputes every plaza state from the current truth.
//
// Lots run concurrently, items within a lot run sequentially. reference_time
// freezes the clock for the whole invocation so a delayed or replayed run
// behaves like the scheduled one. One summary per lot is pushed to CloudWatch.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"golang.org/x/sync/errgroup"

	"parking/internal/app"
	"parking/internal/config"
	"parking/internal/db"
	"parking/internal/metrics"
	"parking/internal/types"
)

// Task names.
const (
	TaskExpireSubscriptions = "expire_subscriptions"
	TaskExpireReservations  = "expire_reservations"
	TaskReconcilePlazas     = "reconcile_plazas"
)

// maxConcurrentLots bounds how many lots are swept at once.
const maxConcurrentLots = 4

// SweepRequest is the invocation payload.
type SweepRequest struct {
	Task          string     `json:"task"`
	LotIDs        []int64    `json:"lot_ids"`
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// LotSummary is the per-lot outcome.
type LotSummary struct {
	LotID     int64  `json:"lot_id"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// SweepResponse is returned to the invoker.
type SweepResponse struct {
	Task          string       `json:"task"`
	ReferenceTime time.Time    `json:"reference_time"`
	Lots          []LotSummary `json:"lots"`
}

type sweepRecorder interface {
	RecordSweep(ctx context.Context, s metrics.SweepSummary)
}

// Handler holds the dependencies for the sweeper Lambda handler.
type Handler struct {
	lot      config.LotConfig
	deps     app.Deps
	recorder sweepRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// Handle runs req.Task on every lot. A lot that fails does not stop the
// others; the invocation only errors on a malformed request.
func (h *Handler) Handle(ctx context.Context, req SweepRequest) (SweepResponse, error) {
	if len(req.LotIDs) == 0 {
		return SweepResponse{}, types.NewAppError(types.ErrCodeValidationMissingField, "lot_ids must not be empty", nil)
	}

	ref := h.now().UTC()
	if req.ReferenceTime != nil {
		ref = req.ReferenceTime.UTC()
	}

	deps := h.deps
	deps.Clock = types.FixedClock{T: ref}
	engine, err := app.NewEngine(h.lot, deps)
	if err != nil {
		return SweepResponse{}, err
	}

	var run func(ctx context.Context, lotID int64) (processed, failed int, err error)
	switch req.Task {
	case TaskExpireSubscriptions:
		run = func(ctx context.Context, lotID int64) (int, int, error) {
			results, err := engine.Subscriptions.ProcessExpired(ctx, lotID)
			failed := 0
			for _, r := range results {
				if r.Action == types.ExpiryError {
					failed++
				}
			}
			return len(results), failed, err
		}
	case TaskExpireReservations:
		run = func(ctx context.Context, lotID int64) (int, int, error) {
			results, err := engine.Reservations.ExpireOverdue(ctx, lotID)
			failed := 0
			for _, r := range results {
				if r.Error != "" {
					failed++
				}
			}
			return len(results), failed, err
		}
	case TaskReconcilePlazas:
		run = func(ctx context.Context, lotID int64) (int, int, error) {
			results, err := engine.Plazas.ReconcileLot(ctx, lotID)
			failed := 0
			for _, r := range results {
				if r.Error != "" {
					failed++
				}
			}
			return len(results), failed, err
		}
	default:
		return SweepResponse{}, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
			fmt.Sprintf("unknown task %q", req.Task), nil, map[string]any{"task": req.Task})
	}

	logger := h.logger.With("task", req.Task, "reference_time", ref)
	logger.InfoContext(ctx, "sweep started", "lots", len(req.LotIDs))

	summaries := make([]LotSummary, len(req.LotIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLots)
	for i, lotID := range req.LotIDs {
		g.Go(func() error {
			start := time.Now()
			processed, failed, err := run(gctx, lotID)
			s := LotSummary{LotID: lotID, Processed: processed, Failed: failed}
			if err != nil {
				s.Error = err.Error()
				logger.ErrorContext(gctx, "lot sweep failed", "lot_id", lotID, "error", err)
			}
			summaries[i] = s
			h.recorder.RecordSweep(gctx, metrics.SweepSummary{
				Task:      req.Task,
				LotID:     lotID,
				Processed: processed,
				Failed:    failed,
				Duration:  time.Since(start),
			})
			return nil
		})
	}
	_ = g.Wait()

	logger.InfoContext(ctx, "sweep finished")
	return SweepResponse{Task: req.Task, ReferenceTime: ref, Lots: summaries}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger := app.NewLogger(os.Stdout, cfg.LogLevel).With("service", "sweeper")
	logger.Info("Sweeper Lambda initializing (cold start)")

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}

	awsCfg, err := app.LoadAWS(ctx, cfg.AWS)
	if err != nil {
		logger.Error("Failed to load AWS SDK config", "error", err)
		os.Exit(1)
	}

	var recorder sweepRecorder = metrics.NopSweepRecorder{}
	if cfg.Observability.EnableMetrics {
		recorder = metrics.NewSweepRecorder(app.NewCloudWatch(awsCfg), cfg.Observability.MetricNamespace, logger)
	}

	h := &Handler{
		lot: cfg.Lot,
		deps: app.Deps{
			TxManager: db.NewTxManager(pool, logger),
			Repos:     db.NewRepos(pool),
			Publisher: app.NewPublisher(awsCfg, cfg.AWS, logger),
			Logger:    logger,
		},
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}

	// Local mode: read one request from stdin instead of starting the runtime.
	// Usage: echo '{"task":"reconcile_plazas","lot_ids":[1]}' | go run ./cmd/sweeper
	if cfg.Environment == "local" {
		logger.Info("APP_ENV=local: reading request from stdin")
		if err := runLocal(ctx, h, os.Stdin, os.Stdout); err != nil {
			logger.Error("Handler execution failed", "error", err)
			os.Exit(1)
		}
		return
	}

	lambda.Start(h.Handle)
}

func runLocal(ctx context.Context, h *Handler, in io.Reader, out io.Writer) error {
	var req SweepRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	resp, err := h.Handle(ctx, req)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}
