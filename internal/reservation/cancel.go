package reservation

import (
	"context"
	"time"

	"parking/internal/plaza"
	"parking/internal/types"
)

// Cancel cancels a reservation on behalf of its driver. Only pendiente_pago
// and confirmada reservations can be cancelled.
func (s *Service) Cancel(ctx context.Context, code, driverID string) (types.Reservation, error) {
	if code == "" {
		return types.Reservation{}, types.NewAppError(types.ErrCodeValidationMissingField, "reservation code is required", nil)
	}
	if driverID == "" {
		return types.Reservation{}, types.NewAppError(types.ErrCodeAuthIdentityMissing, "driver identity is required", nil)
	}
	now := s.clock.Now()

	var (
		out    types.Reservation
		synced plaza.SyncResult
	)
	err := s.txm.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		r, p, err := lock(ctx, repos, code)
		if err != nil {
			return err
		}
		if r.DriverID != driverID {
			return types.NewAppError(types.ErrCodePermissionOwner, "reservation belongs to another driver", nil)
		}
		if r.State != types.ReservationPendingPayment && r.State != types.ReservationConfirmed {
			return invalidTransition(r, "cancel")
		}
		if err := repos.Reservations().UpdateState(ctx, code, r.State, types.ReservationCancelled, ""); err != nil {
			return err
		}
		if synced, err = plaza.Sync(ctx, repos, p, now.In(s.rules.Location)); err != nil {
			return err
		}
		r.State = types.ReservationCancelled
		r.UpdatedAt = now
		out = r
		return nil
	})
	if err != nil {
		return types.Reservation{}, err
	}

	s.logger.InfoContext(ctx, "reservation cancelled", "code", code, "plaza", out.PlazaNumber)
	s.publish(ctx, types.EventReservationCancelled, out, nil)
	s.publishSwept(ctx, synced)
	return out, nil
}

// ExpireResult is the outcome for one overdue reservation.
type ExpireResult struct {
	Code        string                 `json:"code"`
	PlazaNumber int                    `json:"plaza_number"`
	Previous    types.ReservationState `json:"previous_state"`
	Expired     bool                   `json:"expired"`
	Error       string                 `json:"error,omitempty"`
}

// ExpireOverdue moves confirmed reservations past their arrival deadline and
// payment holds older than the hold TTL to expirada, one transaction each.
// Reconciling a plaza can expire later candidates on the same plaza; those
// are reported as expired without a second transition. A failing
// reservation is reported and the sweep continues.
func (s *Service) ExpireOverdue(ctx context.Context, lotID int64) ([]ExpireResult, error) {
	now := s.clock.Now()
	holdSince := s.rules.HoldSince(now)

	overdue, err := s.repos.Reservations().ListOverdue(ctx, lotID, now, holdSince)
	if err != nil {
		return nil, err
	}

	swept := make(map[string]bool)
	results := make([]ExpireResult, 0, len(overdue))
	for _, candidate := range overdue {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := ExpireResult{Code: candidate.Code, PlazaNumber: candidate.PlazaNumber, Previous: candidate.State}
		if swept[candidate.Code] {
			res.Expired = true
			results = append(results, res)
			continue
		}

		var (
			expired types.Reservation
			synced  plaza.SyncResult
		)
		err := s.txm.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
			r, p, err := lock(ctx, repos, candidate.Code)
			if err != nil {
				return err
			}
			if !overdueAt(r, now, holdSince) {
				return nil
			}
			if err := repos.Reservations().UpdateState(ctx, r.Code, r.State, types.ReservationExpired, ""); err != nil {
				return err
			}
			if synced, err = plaza.Sync(ctx, repos, p, now.In(s.rules.Location)); err != nil {
				return err
			}
			r.State = types.ReservationExpired
			expired = r
			res.Expired = true
			return nil
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to expire reservation",
				"code", candidate.Code,
				"lot_id", lotID,
				"error", err,
			)
			res.Error = err.Error()
			res.Expired = false
		} else if res.Expired {
			s.publish(ctx, types.EventReservationExpired, expired, nil)
			s.publishSwept(ctx, synced)
			for _, r := range synced.Swept {
				swept[r.Code] = true
			}
		}
		results = append(results, res)
	}

	s.logger.InfoContext(ctx, "overdue reservations processed", "lot_id", lotID, "candidates", len(overdue))
	return results, nil
}

func overdueAt(r types.Reservation, now, holdSince time.Time) bool {
	switch r.State {
	case types.ReservationConfirmed:
		return now.After(r.ArrivalDeadline())
	case types.ReservationPendingPayment:
		return r.CreatedAt.Before(holdSince)
	}
	return false
}
