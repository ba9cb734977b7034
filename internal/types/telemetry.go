package types

// Telemetry metric names for CloudWatch and Prometheus.
// All components MUST use these constants.
const (
	// Metric Names
	MetricAPILatency          = "APILatency"
	MetricAPIRequestCount     = "APIRequestCount"
	MetricSweepProcessed      = "SweepProcessed"
	MetricSweepFailed         = "SweepFailed"
	MetricSweepDuration       = "SweepDuration"
	MetricEventPublishFailure = "EventPublishFailure"
	MetricPaymentOutcome      = "PaymentOutcome"

	// Dimension Keys
	DimTask     = "Task"
	DimLotID    = "LotID"
	DimEndpoint = "Endpoint"
	DimStatus   = "Status"

	// Metric Namespace
	MetricNamespace = "Parking"
)
