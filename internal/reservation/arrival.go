package reservation

import (
	"context"
	"fmt"

	"parking/internal/plaza"
	"parking/internal/types"
)

// ConfirmArrival turns a confirmed reservation into an active occupancy.
// Arrival is honored from start minus grace until end plus grace. Past that
// window the reservation is committed as expirada and an expiry error is
// returned.
func (s *Service) ConfirmArrival(ctx context.Context, code string, lotID int64) (types.ArrivalResult, error) {
	if code == "" {
		return types.ArrivalResult{}, types.NewAppError(types.ErrCodeValidationMissingField, "reservation code is required", nil)
	}
	now := s.clock.Now()

	var (
		result  types.ArrivalResult
		res     types.Reservation
		expired bool
		synced  plaza.SyncResult
	)
	err := s.txm.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		r, p, err := lock(ctx, repos, code)
		if err != nil {
			return err
		}
		if r.LotID != lotID {
			return types.NewAppError(types.ErrCodeNotFoundReservation,
				fmt.Sprintf("reservation %s not found in lot %d", code, lotID), nil)
		}
		// Only a confirmed reservation is an arrival candidate; any other
		// state reads as no matching reservation.
		if r.State != types.ReservationConfirmed {
			return types.NewAppErrorWithDetails(types.ErrCodeNotFoundReservation,
				fmt.Sprintf("no confirmed reservation %s in lot %d", code, lotID), nil,
				map[string]any{"state": string(r.State)})
		}
		if now.Before(r.ArrivalOpensAt()) {
			return types.NewAppErrorWithDetails(types.ErrCodeStateTooEarly,
				fmt.Sprintf("arrival for reservation %s opens at %s", code, r.ArrivalOpensAt().Format("15:04")), nil,
				map[string]any{"opens_at": r.ArrivalOpensAt()})
		}

		if now.After(r.ArrivalDeadline()) {
			if err := repos.Reservations().UpdateState(ctx, code, r.State, types.ReservationExpired, ""); err != nil {
				return err
			}
			if synced, err = plaza.Sync(ctx, repos, p, now.In(s.rules.Location)); err != nil {
				return err
			}
			r.State = types.ReservationExpired
			res = r
			expired = true
			return nil
		}

		active, err := repos.Occupancies().ActiveForPlaza(ctx, p.Key())
		if err != nil {
			return err
		}
		if active != nil {
			return types.NewAppErrorWithDetails(types.ErrCodeConflictPlazaOccupied,
				fmt.Sprintf("plaza %d already has an active occupancy", p.Number), nil,
				map[string]any{"occupancy_id": active.ID})
		}

		occ := types.Occupancy{
			LotID:           r.LotID,
			PlazaNumber:     r.PlazaNumber,
			VehiclePlate:    r.VehiclePlate,
			EntryAt:         r.Start,
			Unit:            types.UnitHour,
			AgreedPrice:     r.Amount,
			ReservationCode: &r.Code,
		}
		if r.PaymentRef != "" {
			ref := r.PaymentRef
			occ.PaymentRef = &ref
		}
		if err := repos.Occupancies().Create(ctx, &occ); err != nil {
			return err
		}
		if err := repos.Reservations().UpdateState(ctx, code, r.State, types.ReservationCompleted, ""); err != nil {
			return err
		}
		if synced, err = plaza.Sync(ctx, repos, p, now.In(s.rules.Location)); err != nil {
			return err
		}

		r.State = types.ReservationCompleted
		res = r
		result = types.ArrivalResult{OccupancyID: occ.ID, NewState: r.State, EntryAt: occ.EntryAt}
		return nil
	})
	if err != nil {
		return types.ArrivalResult{}, err
	}
	s.publishSwept(ctx, synced)

	if expired {
		s.logger.InfoContext(ctx, "arrival after deadline, reservation expired",
			"code", code,
			"deadline", res.ArrivalDeadline(),
		)
		s.publish(ctx, types.EventReservationExpired, res, nil)
		return types.ArrivalResult{}, types.NewAppErrorWithDetails(types.ErrCodeExpiredReservation,
			fmt.Sprintf("reservation %s expired at %s", code, res.ArrivalDeadline().Format("15:04")), nil,
			map[string]any{"deadline": res.ArrivalDeadline()})
	}

	s.logger.InfoContext(ctx, "arrival confirmed",
		"code", code,
		"occupancy_id", result.OccupancyID,
		"plaza", res.PlazaNumber,
	)
	s.publish(ctx, types.EventReservationCompleted, res, func(evt *types.ReservationEvent) {
		evt.OccupancyID = result.OccupancyID
	})
	return result, nil
}
