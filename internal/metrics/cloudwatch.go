package metrics

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"parking/internal/types"
)

// CloudWatchClient is the subset of the CloudWatch API the recorder uses.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// SweepSummary is the outcome of one maintenance task on one lot.
type SweepSummary struct {
	Task      string
	LotID     int64
	Processed int
	Failed    int
	Duration  time.Duration
}

// SweepRecorder pushes sweep summaries to CloudWatch. Failures are logged
// and swallowed; metrics never fail a sweep.
type SweepRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewSweepRecorder creates a SweepRecorder. An empty namespace falls back
// to types.MetricNamespace.
func NewSweepRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *SweepRecorder {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepRecorder{client: client, namespace: namespace, logger: logger}
}

// RecordSweep emits SweepProcessed, SweepFailed and SweepDuration with Task
// and LotID dimensions in a single PutMetricData call.
func (r *SweepRecorder) RecordSweep(ctx context.Context, s SweepSummary) {
	dims := []cwtypes.Dimension{
		{Name: aws.String(types.DimTask), Value: aws.String(s.Task)},
		{Name: aws.String(types.DimLotID), Value: aws.String(strconv.FormatInt(s.LotID, 10))},
	}
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(r.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricSweepProcessed),
				Value:      aws.Float64(float64(s.Processed)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String(types.MetricSweepFailed),
				Value:      aws.Float64(float64(s.Failed)),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
			{
				MetricName: aws.String(types.MetricSweepDuration),
				Value:      aws.Float64(float64(s.Duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: dims,
			},
		},
	}

	if _, err := r.client.PutMetricData(ctx, input); err != nil {
		r.logger.ErrorContext(ctx, "failed to record sweep metrics",
			"error", err,
			"task", s.Task,
			"lot_id", s.LotID,
		)
	}
}

// NopSweepRecorder discards summaries. Used when metrics are disabled.
type NopSweepRecorder struct{}

// RecordSweep implements the sweeper's recorder interface.
func (NopSweepRecorder) RecordSweep(context.Context, SweepSummary) {}
