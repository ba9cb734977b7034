package reservation

import (
	"context"

	"parking/internal/plaza"
	"parking/internal/types"
)

// OnPaymentOutcome applies a payment provider callback. Deliveries are
// idempotent: a repeated approval of a confirmed reservation, a pending
// status and an unknown status all leave the reservation untouched, and
// outcomes for reservations already in a terminal state are ignored.
//
// An approval that arrives after the payment hold lapsed and another
// reservation claimed the window cancels the reservation instead.
func (s *Service) OnPaymentOutcome(ctx context.Context, code string, status types.PaymentStatus, paymentRef string) (types.PaymentOutcomeResult, error) {
	if code == "" {
		return types.PaymentOutcomeResult{}, types.NewAppError(types.ErrCodeValidationMissingField, "reservation code is required", nil)
	}
	if !status.Valid() {
		r, err := s.repos.Reservations().Get(ctx, code)
		if err != nil {
			return types.PaymentOutcomeResult{}, err
		}
		s.logger.WarnContext(ctx, "ignoring unknown payment status", "code", code, "status", status)
		return types.PaymentOutcomeResult{Code: code, NewState: r.State}, nil
	}

	now := s.clock.Now()
	var (
		result  = types.PaymentOutcomeResult{Code: code}
		updated types.Reservation
		evtType types.EventType
		synced  plaza.SyncResult
	)

	err := s.txm.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		r, p, err := lock(ctx, repos, code)
		if err != nil {
			return err
		}
		result.NewState = r.State

		if r.State.Terminal() {
			s.logger.WarnContext(ctx, "ignoring payment outcome for closed reservation",
				"code", code,
				"state", r.State,
				"status", status,
			)
			return nil
		}

		var to types.ReservationState
		switch status {
		case types.PaymentApproved:
			if r.State != types.ReservationPendingPayment {
				return nil
			}
			to = types.ReservationConfirmed
			taken, err := claimedByOther(ctx, repos, r)
			if err != nil {
				return err
			}
			if taken {
				s.logger.WarnContext(ctx, "payment approved after hold lapsed, window taken",
					"code", code,
					"plaza", r.PlazaNumber,
					"payment_ref", paymentRef,
				)
				to = types.ReservationCancelled
			}
		case types.PaymentRejected, types.PaymentCancelled:
			if r.State != types.ReservationPendingPayment {
				s.logger.WarnContext(ctx, "ignoring payment failure for non-pending reservation",
					"code", code,
					"state", r.State,
					"status", status,
				)
				return nil
			}
			to = types.ReservationCancelled
		default:
			return nil
		}

		if err := repos.Reservations().UpdateState(ctx, code, r.State, to, paymentRef); err != nil {
			return err
		}
		if synced, err = plaza.Sync(ctx, repos, p, now.In(s.rules.Location)); err != nil {
			return err
		}

		r.State = to
		if paymentRef != "" {
			r.PaymentRef = paymentRef
		}
		updated = r
		result.NewState = to
		result.Changed = true
		if to == types.ReservationConfirmed {
			evtType = types.EventReservationConfirmed
		} else {
			evtType = types.EventReservationCancelled
		}
		return nil
	})
	if err != nil {
		return types.PaymentOutcomeResult{}, err
	}

	s.logger.InfoContext(ctx, "payment outcome processed",
		"code", code,
		"status", status,
		"state", result.NewState,
		"changed", result.Changed,
	)
	if result.Changed {
		s.publish(ctx, evtType, updated, nil)
	}
	s.publishSwept(ctx, synced)
	return result, nil
}

// claimedByOther reports whether a confirmed or active reservation other
// than r overlaps r's window.
func claimedByOther(ctx context.Context, repos types.Repositories, r types.Reservation) (bool, error) {
	claims, err := repos.Reservations().ListClaiming(ctx, types.PlazaKey{LotID: r.LotID, Number: r.PlazaNumber})
	if err != nil {
		return false, err
	}
	for _, c := range claims {
		if c.Code != r.Code && c.Overlaps(r.Start, r.End) {
			return true, nil
		}
	}
	return false, nil
}
