// Package plaza derives a plaza's state from the truth of its occupancies,
// subscriptions and reservations and writes it back. The stored plazas.estado
// column is a cache of that derivation; Sync is the only writer that
// recomputes it.
package plaza

import (
	"context"
	"fmt"
	"time"

	"parking/internal/types"
)

// Facts is the truth a plaza's state is derived from.
type Facts struct {
	ActiveOccupancy    bool
	ActiveSubscription bool
	// LiveReservations are confirmed/active reservations whose arrival
	// deadline has not passed.
	LiveReservations int
}

// Effective computes the state a plaza must have given facts. Maintenance is
// set by operators and never overridden. Otherwise the precedence is
// occupancy, subscription, reservation, free.
func Effective(current types.PlazaState, f Facts) types.PlazaState {
	switch {
	case current == types.PlazaMaintenance:
		return types.PlazaMaintenance
	case f.ActiveOccupancy:
		return types.PlazaOccupied
	case f.ActiveSubscription:
		return types.PlazaSubscribed
	case f.LiveReservations > 0:
		return types.PlazaReserved
	default:
		return types.PlazaFree
	}
}

// SyncResult describes one reconciliation.
type SyncResult struct {
	LotID               int64            `json:"lot_id"`
	PlazaNumber         int              `json:"plaza_number"`
	Previous            types.PlazaState `json:"previous_state"`
	Current             types.PlazaState `json:"state"`
	Changed             bool             `json:"changed"`
	ExpiredReservations []string         `json:"expired_reservations,omitempty"`
	Error               string           `json:"error,omitempty"`

	// Swept holds the reservations moved to expirada, as stored after the
	// transition. Callers publish their expiry once the transaction commits.
	Swept []types.Reservation `json:"-"`
}

// ExpiredEvents returns one reservation.expired event per swept reservation.
// ID and OccurredAt are left for the publisher to stamp.
func (r SyncResult) ExpiredEvents() []types.ReservationEvent {
	events := make([]types.ReservationEvent, 0, len(r.Swept))
	for _, res := range r.Swept {
		events = append(events, types.ReservationEvent{
			Type:            types.EventReservationExpired,
			LotID:           res.LotID,
			PlazaNumber:     res.PlazaNumber,
			ReservationCode: res.Code,
			State:           string(types.ReservationExpired),
		})
	}
	return events
}

// Sync recomputes p's state inside the caller's transaction and persists it
// when it differs. Confirmed reservations whose arrival deadline is before
// at are moved to expirada first. The caller is expected to hold p's row
// lock; at must be expressed in the lot's location so that subscription
// dates resolve to the lot-local calendar day.
func Sync(ctx context.Context, repos types.Repositories, p types.Plaza, at time.Time) (SyncResult, error) {
	key := p.Key()
	res := SyncResult{LotID: p.LotID, PlazaNumber: p.Number, Previous: p.State}

	occ, err := repos.Occupancies().ActiveForPlaza(ctx, key)
	if err != nil {
		return res, err
	}
	sub, err := repos.Subscriptions().ActiveForPlaza(ctx, key, types.CalendarDate(at))
	if err != nil {
		return res, err
	}
	claims, err := repos.Reservations().ListClaiming(ctx, key)
	if err != nil {
		return res, err
	}

	live := 0
	for _, r := range claims {
		if r.State == types.ReservationConfirmed && at.After(r.ArrivalDeadline()) {
			if err := repos.Reservations().UpdateState(ctx, r.Code, types.ReservationConfirmed, types.ReservationExpired, ""); err != nil {
				return res, fmt.Errorf("expire reservation %s: %w", r.Code, err)
			}
			r.State = types.ReservationExpired
			res.ExpiredReservations = append(res.ExpiredReservations, r.Code)
			res.Swept = append(res.Swept, r)
			continue
		}
		live++
	}

	res.Current = Effective(p.State, Facts{
		ActiveOccupancy:    occ != nil,
		ActiveSubscription: sub != nil,
		LiveReservations:   live,
	})
	if res.Current != p.State {
		if err := repos.Plazas().UpdateState(ctx, key, res.Current); err != nil {
			return res, err
		}
		res.Changed = true
	}
	return res, nil
}
