// Package external adapts third-party providers to the engine's types.
// Payments are settled by Stripe; the engine only consumes their outcome.
package external

import (
	"encoding/json"
	"fmt"

	stripe "github.com/stripe/stripe-go/v82"

	"parking/internal/types"
)

// Stripe PaymentIntent event types the engine reacts to.
const (
	EventPaymentIntentSucceeded  = "payment_intent.succeeded"
	EventPaymentIntentFailed     = "payment_intent.payment_failed"
	EventPaymentIntentCanceled   = "payment_intent.canceled"
	EventPaymentIntentProcessing = "payment_intent.processing"
)

var stripeEventStatus = map[stripe.EventType]types.PaymentStatus{
	EventPaymentIntentSucceeded:  types.PaymentApproved,
	EventPaymentIntentFailed:     types.PaymentRejected,
	EventPaymentIntentCanceled:   types.PaymentCancelled,
	EventPaymentIntentProcessing: types.PaymentPending,
}

// WebhookVerifier checks a webhook signature header against the signing secret.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// StripeVerifier verifies Stripe-Signature headers (HMAC-SHA256 with
// timestamp tolerance) using stripe-go.
type StripeVerifier struct{}

// Verify implements WebhookVerifier.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}

// PaymentOutcome is a provider event normalized to a reservation payment
// callback.
type PaymentOutcome struct {
	EventID         string
	EventType       string
	ReservationCode string
	Status          types.PaymentStatus
	PaymentRef      string
}

// ParsePaymentIntentEvent decodes a verified Stripe event. handled is false
// for event types that carry no payment outcome. The reservation code is read
// from the PaymentIntent metadata under metadataKey; the PaymentIntent id
// becomes the payment reference.
func ParsePaymentIntentEvent(payload []byte, metadataKey string) (PaymentOutcome, bool, error) {
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return PaymentOutcome{}, false, types.NewAppError(types.ErrCodeValidationInvalidPayload, "invalid webhook event JSON", err)
	}

	status, ok := stripeEventStatus[event.Type]
	if !ok {
		return PaymentOutcome{EventID: event.ID, EventType: string(event.Type)}, false, nil
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return PaymentOutcome{}, false, types.NewAppError(types.ErrCodeValidationInvalidPayload,
			fmt.Sprintf("event %s has no data object", event.ID), nil)
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return PaymentOutcome{}, false, types.NewAppError(types.ErrCodeValidationInvalidPayload, "invalid payment intent object", err)
	}

	code := pi.Metadata[metadataKey]
	if code == "" {
		return PaymentOutcome{}, false, types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"payment intent carries no reservation code", nil,
			map[string]any{"event_id": event.ID, "metadata_key": metadataKey})
	}

	return PaymentOutcome{
		EventID:         event.ID,
		EventType:       string(event.Type),
		ReservationCode: code,
		Status:          status,
		PaymentRef:      pi.ID,
	}, true, nil
}
