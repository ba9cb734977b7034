// Package app wires configuration, storage and the domain services into the
// Engine shared by every binary.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"parking/internal/availability"
	"parking/internal/config"
	"parking/internal/plaza"
	"parking/internal/queue"
	"parking/internal/reservation"
	"parking/internal/subscription"
	"parking/internal/tariff"
	"parking/internal/types"
)

// Deps are the storage and side-effect collaborators of an Engine.
type Deps struct {
	TxManager types.TransactionManager
	Repos     types.Repositories
	Clock     types.Clock
	Publisher types.EventPublisher
	Recorder  types.LifecycleRecorder
	Logger    *slog.Logger
}

// Engine groups the domain services.
type Engine struct {
	Location      *time.Location
	Availability  *availability.Service
	Reservations  *reservation.Service
	Tariffs       *tariff.Service
	Plazas        *plaza.Reconciler
	Subscriptions *subscription.Processor
}

// NewEngine builds every service from lot configuration and d.
func NewEngine(cfg config.LotConfig, d Deps) (*Engine, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("lot timezone: %w", err)
	}
	if d.Clock == nil {
		d.Clock = types.RealClock{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}

	rules := availability.Rules{
		Location:         loc,
		MaxDurationHours: cfg.MaxDurationHours,
		PaymentHoldTTL:   cfg.PaymentHoldTTL,
	}

	return &Engine{
		Location:     loc,
		Availability: availability.NewService(d.Repos, rules, d.Clock, d.Logger.With("component", "availability")),
		Reservations: reservation.NewService(d.TxManager, d.Repos, reservation.Options{
			Rules:        rules,
			GraceMinutes: cfg.DefaultGraceMinutes,
			Clock:        d.Clock,
			Publisher:    d.Publisher,
			Recorder:     d.Recorder,
			Logger:       d.Logger.With("component", "reservation"),
		}),
		Tariffs: tariff.NewService(d.TxManager, d.Repos, d.Clock, loc, d.Publisher, d.Logger.With("component", "tariff")),
		Plazas:  plaza.NewReconciler(d.TxManager, d.Repos, d.Clock, loc, d.Publisher, d.Logger.With("component", "plaza")),
		Subscriptions: subscription.NewProcessor(d.TxManager, d.Repos, subscription.Options{
			Clock:     d.Clock,
			Location:  loc,
			ItemDelay: cfg.SweepItemDelay,
			Publisher: d.Publisher,
			Logger:    d.Logger.With("component", "subscription"),
		}),
	}, nil
}

// NewLogger returns a JSON logger at level. Unknown levels mean info.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// LoadAWS loads the SDK configuration for cfg.Region. EndpointURL, when set,
// points every client at a local emulator.
func LoadAWS(ctx context.Context, cfg config.AWSConfig) (aws.Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return aws.Config{}, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.EndpointURL != "" {
		awsCfg.BaseEndpoint = aws.String(cfg.EndpointURL)
	}
	return awsCfg, nil
}

// NewPublisher returns the SQS publisher for cfg.EventsQueueURL, or a
// LogPublisher when no queue is configured.
func NewPublisher(awsCfg aws.Config, cfg config.AWSConfig, logger *slog.Logger) types.EventPublisher {
	if cfg.EventsQueueURL == "" {
		logger.Warn("no reservation events queue configured, events are only logged")
		return queue.LogPublisher{Logger: logger}
	}
	return queue.NewSQSPublisher(sqs.NewFromConfig(awsCfg), cfg.EventsQueueURL, logger)
}

// NewCloudWatch returns a CloudWatch client for awsCfg.
func NewCloudWatch(awsCfg aws.Config) *cloudwatch.Client {
	return cloudwatch.NewFromConfig(awsCfg)
}
