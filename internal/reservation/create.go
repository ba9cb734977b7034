package reservation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"parking/internal/availability"
	"parking/internal/plaza"
	"parking/internal/tariff"
	"parking/internal/types"
)

// CreateRequest asks for a plaza for DurationHours starting at Start.
type CreateRequest struct {
	LotID         int64
	PlazaNumber   int
	VehiclePlate  string
	DriverID      string
	Start         time.Time
	DurationHours int
}

// Create books the plaza in pendiente_pago. The availability rules are
// re-evaluated against the plaza's current truth while its row is locked, so
// two requests for the same plaza and window cannot both succeed. The locked
// plaza is reconciled first so a stale cached state never rejects the
// booking; the booking itself does not change the plaza until payment is
// approved.
func (s *Service) Create(ctx context.Context, req CreateRequest) (types.Reservation, error) {
	if err := validateCreate(req); err != nil {
		return types.Reservation{}, err
	}
	now := s.clock.Now()
	w, err := s.rules.NewWindow(req.Start, req.DurationHours, now)
	if err != nil {
		return types.Reservation{}, err
	}

	key := types.PlazaKey{LotID: req.LotID, Number: req.PlazaNumber}
	var (
		created types.Reservation
		synced  plaza.SyncResult
	)

	err = s.txm.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		p, err := repos.Plazas().GetForUpdate(ctx, key)
		if err != nil {
			return err
		}
		if synced, err = plaza.Sync(ctx, repos, p, now.In(s.rules.Location)); err != nil {
			return err
		}
		p.State = synced.Current

		blocking, err := repos.Reservations().ListBlocking(ctx, key.LotID, &key.Number, w.Start, w.End, s.rules.HoldSince(now))
		if err != nil {
			return err
		}
		var occupancies []types.Occupancy
		occ, err := repos.Occupancies().ActiveForPlaza(ctx, key)
		if err != nil {
			return err
		}
		if occ != nil {
			occupancies = append(occupancies, *occ)
		}

		snap := availability.Snapshot{Plazas: []types.Plaza{p}, Blocking: blocking, Occupancies: occupancies}
		if _, reason := availability.Check(p, snap, w); reason != availability.ReasonNone && reason != availability.ReasonNoTariff {
			return types.NewAppErrorWithDetails(types.ErrCodeConflictPlazaUnavailable,
				fmt.Sprintf("plaza %d is not available for the requested window", p.Number), nil,
				map[string]any{"plaza_number": p.Number, "reason": string(reason)})
		}

		t, err := tariff.NewCatalog(repos.Tariffs()).Current(ctx, p, types.UnitHour, now)
		if err != nil {
			return err
		}

		code, err := s.allocateCode(ctx, repos, now)
		if err != nil {
			return err
		}

		created = types.Reservation{
			Code:         code,
			LotID:        key.LotID,
			PlazaNumber:  key.Number,
			VehiclePlate: normalizePlate(req.VehiclePlate),
			DriverID:     req.DriverID,
			Start:        w.Start,
			End:          w.End,
			GraceMinutes: s.graceMinutes,
			Amount:       t.Price.Mul(decimal.NewFromInt(int64(req.DurationHours))),
			State:        types.ReservationPendingPayment,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		return repos.Reservations().Create(ctx, &created)
	})
	if err != nil {
		return types.Reservation{}, err
	}

	s.logger.InfoContext(ctx, "reservation created",
		"code", created.Code,
		"lot_id", created.LotID,
		"plaza", created.PlazaNumber,
		"start", created.Start,
		"end", created.End,
		"amount", created.Amount.String(),
	)
	s.publish(ctx, types.EventReservationCreated, created, func(evt *types.ReservationEvent) {
		amount := created.Amount
		evt.Amount = &amount
	})
	s.publishSwept(ctx, synced)
	return created, nil
}

func (s *Service) allocateCode(ctx context.Context, repos types.Repositories, now time.Time) (string, error) {
	local := now.In(s.rules.Location)
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := s.newCode(local)
		taken, err := repos.Reservations().Exists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
		s.logger.DebugContext(ctx, "reservation code collision", "code", code, "attempt", attempt+1)
	}
	return "", types.NewAppError(types.ErrCodeConflictDuplicateCode,
		fmt.Sprintf("could not allocate a unique reservation code after %d attempts", maxCodeAttempts), nil)
}

func validateCreate(req CreateRequest) error {
	switch {
	case req.LotID <= 0:
		return types.NewAppError(types.ErrCodeValidationMissingField, "lot id is required", nil)
	case req.PlazaNumber <= 0:
		return types.NewAppError(types.ErrCodeValidationMissingField, "plaza number is required", nil)
	case strings.TrimSpace(req.VehiclePlate) == "":
		return types.NewAppError(types.ErrCodeValidationMissingField, "vehicle plate is required", nil)
	case req.DriverID == "":
		return types.NewAppError(types.ErrCodeAuthIdentityMissing, "driver identity is required", nil)
	}
	return nil
}

func normalizePlate(plate string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(plate), " ", ""))
}
