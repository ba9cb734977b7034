// Package main is the entrypoint for the Payment Worker Lambda function.
//
// The worker consumes payment outcome messages from SQS, for providers that
// push results to a queue instead of calling the webhook:
//
//	{"reservation_code": "RES-20260310-0042", "status": "approved", "payment_ref": "mp_991"}
//
// Each record is applied independently through the reservation service.
// Malformed records and outcomes the service rejects as client errors are
// acknowledged and logged; infrastructure failures are reported back as
// batch item failures so SQS redelivers only those records.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"parking/internal/app"
	"parking/internal/config"
	"parking/internal/db"
	"parking/internal/metrics"
	"parking/internal/types"
)

// PaymentMessage is the SQS message body.
type PaymentMessage struct {
	ReservationCode string `json:"reservation_code"`
	Status          string `json:"status"`
	PaymentRef      string `json:"payment_ref"`
}

// OutcomeApplier is the reservation service contract used by the worker.
type OutcomeApplier interface {
	OnPaymentOutcome(ctx context.Context, code string, status types.PaymentStatus, paymentRef string) (types.PaymentOutcomeResult, error)
}

type outcomeRecorder interface {
	RecordPaymentOutcome(status types.PaymentStatus, changed bool)
}

// Handler holds the dependencies for the payment worker Lambda handler.
type Handler struct {
	outcomes OutcomeApplier
	metrics  outcomeRecorder
	logger   *slog.Logger
}

// errRetryable marks a record SQS should redeliver.
var errRetryable = errors.New("retryable")

// Handle processes an SQS batch with partial batch responses.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	response := events.SQSEventResponse{}

	for _, record := range sqsEvent.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.ErrorContext(ctx, "payment message will be retried",
				"message_id", record.MessageId,
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
		}
	}

	return response, nil
}

// processRecord returns an error only for failures worth retrying.
func (h *Handler) processRecord(ctx context.Context, record events.SQSMessage) error {
	logger := h.logger.With("message_id", record.MessageId)

	var msg PaymentMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		logger.ErrorContext(ctx, "dropping malformed payment message", "error", err)
		return nil
	}
	code := strings.ToUpper(strings.TrimSpace(msg.ReservationCode))
	status := types.PaymentStatus(strings.ToLower(strings.TrimSpace(msg.Status)))
	if code == "" {
		logger.ErrorContext(ctx, "dropping payment message without reservation code")
		return nil
	}
	logger = logger.With("reservation_code", code, "status", status)

	result, err := h.outcomes.OnPaymentOutcome(ctx, code, status, msg.PaymentRef)
	if err != nil {
		if isRetryable(err) {
			return fmt.Errorf("%w: %v", errRetryable, err)
		}
		logger.WarnContext(ctx, "payment outcome rejected", "error", err)
		return nil
	}

	if h.metrics != nil {
		h.metrics.RecordPaymentOutcome(status, result.Changed)
	}
	logger.InfoContext(ctx, "payment outcome applied", "new_state", result.NewState, "changed", result.Changed)
	return nil
}

// isRetryable reports whether err is a server-side failure. Client errors
// (unknown code, invalid status, state conflicts) would fail again.
func isRetryable(err error) bool {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus() >= 500
	}
	return true
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}
	logger := app.NewLogger(os.Stdout, cfg.LogLevel).With("service", "payment-worker")
	logger.Info("Payment Worker Lambda initializing (cold start)")

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

	collector := metrics.NewCollector("parking")
	engine, err := app.NewEngine(cfg.Lot, app.Deps{
		TxManager: db.NewTxManager(pool, logger),
		Repos:     db.NewRepos(pool),
		Publisher: app.NewPublisher(awsCfg, cfg.AWS, logger),
		Recorder:  collector,
		Logger:    logger,
	})
	if err != nil {
		logger.Error("Failed to build engine", "error", err)
		os.Exit(1)
	}

	h := &Handler{outcomes: engine.Reservations, metrics: collector, logger: logger}
	lambda.Start(h.Handle)
}
