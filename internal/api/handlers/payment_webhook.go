package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"parking/internal/core"
	"parking/internal/external"
	"parking/internal/types"
)

// maxWebhookBodySize caps provider payloads at 64 KB.
const maxWebhookBodySize = 64 * 1024

// PaymentOutcomeApplier applies a payment outcome to a reservation.
type PaymentOutcomeApplier interface {
	OnPaymentOutcome(ctx context.Context, code string, status types.PaymentStatus, paymentRef string) (types.PaymentOutcomeResult, error)
}

// StripeWebhookHandler receives PaymentIntent events from Stripe. It is
// unauthenticated; the Stripe-Signature header is the credential.
type StripeWebhookHandler struct {
	verifier    external.WebhookVerifier
	outcomes    PaymentOutcomeApplier
	secret      types.SecretString
	metadataKey string
	metrics     PaymentMetrics
	logger      *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler. metadataKey names
// the PaymentIntent metadata entry holding the reservation code.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	outcomes PaymentOutcomeApplier,
	secret types.SecretString,
	metadataKey string,
	metrics PaymentMetrics,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if metadataKey == "" {
		metadataKey = "reservation_code"
	}
	return &StripeWebhookHandler{
		verifier:    verifier,
		outcomes:    outcomes,
		secret:      secret,
		metadataKey: metadataKey,
		metrics:     metrics,
		logger:      logger,
	}
}

// RegisterRoutes mounts the webhook endpoint.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/payments/stripe", h.Handle)
}

// Handle verifies the signature, decodes the event and applies the outcome.
// Once the signature is valid the response is always 200: processing
// failures are logged, and a retry from Stripe would hit the same failure.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidPayload, "failed to read request body", err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(ctx, "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSignature, "missing Stripe-Signature header", nil))
		return
	}
	if err := h.verifier.Verify(payload, sigHeader, h.secret.Unmask()); err != nil {
		h.logger.WarnContext(ctx, "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthSignature, "webhook signature verification failed", err))
		return
	}

	outcome, handled, err := external.ParsePaymentIntentEvent(payload, h.metadataKey)
	switch {
	case err != nil:
		h.logger.ErrorContext(ctx, "failed to decode payment event", "error", err)
	case !handled:
		h.logger.DebugContext(ctx, "ignoring stripe event", "event_id", outcome.EventID, "event_type", outcome.EventType)
	default:
		h.apply(ctx, outcome)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *StripeWebhookHandler) apply(ctx context.Context, o external.PaymentOutcome) {
	result, err := h.outcomes.OnPaymentOutcome(ctx, o.ReservationCode, o.Status, o.PaymentRef)
	if err != nil {
		h.logger.ErrorContext(ctx, "payment outcome processing failed",
			"event_id", o.EventID,
			"event_type", o.EventType,
			"reservation_code", o.ReservationCode,
			"error", err,
		)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordPaymentOutcome(o.Status, result.Changed)
	}
	h.logger.InfoContext(ctx, "payment outcome applied",
		"event_id", o.EventID,
		"reservation_code", o.ReservationCode,
		"status", o.Status,
		"new_state", result.NewState,
		"changed", result.Changed,
	)
}
