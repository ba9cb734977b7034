package availability

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"parking/internal/plaza"
	"parking/internal/types"
)

// Snapshot is the truth a search or a locked booking is evaluated against.
type Snapshot struct {
	Plazas       []types.Plaza
	Blocking     []types.Reservation
	Occupancies  []types.Occupancy
	HourlyPrices map[int64]decimal.Decimal
	// Claims are the confirmed/active reservations of the lot, used to
	// settle cached plaza states.
	Claims []types.Reservation
}

// Settle recomputes every plaza's state in memory from the snapshot's truth
// at now, without writing anything back. A confirmed reservation past its
// arrival deadline no longer holds its plaza reservada nor blocks a window.
// Subscriptions are not part of a snapshot, so a cached abonada is kept.
func Settle(snap Snapshot, now time.Time) Snapshot {
	live := make(map[types.PlazaKey]int)
	for _, r := range snap.Claims {
		if !lapsed(r, now) {
			live[types.PlazaKey{LotID: r.LotID, Number: r.PlazaNumber}]++
		}
	}
	occupied := make(map[types.PlazaKey]bool)
	for _, o := range snap.Occupancies {
		if o.Active() {
			occupied[types.PlazaKey{LotID: o.LotID, Number: o.PlazaNumber}] = true
		}
	}

	plazas := make([]types.Plaza, len(snap.Plazas))
	for i, p := range snap.Plazas {
		p.State = plaza.Effective(p.State, plaza.Facts{
			ActiveOccupancy:    occupied[p.Key()],
			ActiveSubscription: p.State == types.PlazaSubscribed,
			LiveReservations:   live[p.Key()],
		})
		plazas[i] = p
	}

	blocking := make([]types.Reservation, 0, len(snap.Blocking))
	for _, r := range snap.Blocking {
		if !lapsed(r, now) {
			blocking = append(blocking, r)
		}
	}

	snap.Plazas = plazas
	snap.Blocking = blocking
	return snap
}

func lapsed(r types.Reservation, now time.Time) bool {
	return r.State == types.ReservationConfirmed && now.After(r.ArrivalDeadline())
}

// Reason explains why a plaza was excluded. Empty means available.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonState       Reason = "state"
	ReasonReservation Reason = "reservation_overlap"
	ReasonOccupancy   Reason = "active_occupancy"
	ReasonNoTariff    Reason = "no_hourly_tariff"
)

// Check evaluates one plaza against the snapshot for window w.
//  1. Maintenance, Subscribed and Reserved plazas are unavailable.
//  2. A blocking reservation on the plaza overlapping w conflicts.
//  3. An active occupancy that entered before w ends conflicts; its end is unknown.
//  4. The plaza's template must have an hourly tariff.
func Check(p types.Plaza, snap Snapshot, w Window) (decimal.Decimal, Reason) {
	switch p.State {
	case types.PlazaMaintenance, types.PlazaSubscribed, types.PlazaReserved:
		return decimal.Zero, ReasonState
	}
	for _, r := range snap.Blocking {
		if r.LotID == p.LotID && r.PlazaNumber == p.Number && r.Overlaps(w.Start, w.End) {
			return decimal.Zero, ReasonReservation
		}
	}
	for _, o := range snap.Occupancies {
		if o.LotID == p.LotID && o.PlazaNumber == p.Number && o.Active() && o.EntryAt.Before(w.End) {
			return decimal.Zero, ReasonOccupancy
		}
	}
	if p.TemplateID == nil {
		return decimal.Zero, ReasonNoTariff
	}
	price, ok := snap.HourlyPrices[*p.TemplateID]
	if !ok {
		return decimal.Zero, ReasonNoTariff
	}
	return price, ReasonNone
}

// Filter returns the plazas available for w, sorted by zone then number.
// The result is never nil.
func Filter(snap Snapshot, w Window) []types.AvailablePlaza {
	out := make([]types.AvailablePlaza, 0, len(snap.Plazas))
	for _, p := range snap.Plazas {
		price, reason := Check(p, snap, w)
		if reason != ReasonNone {
			continue
		}
		out = append(out, types.AvailablePlaza{
			PlazaNumber: p.Number,
			Zone:        p.Zone,
			Segment:     p.Segment,
			HourlyPrice: price,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Zone != out[j].Zone {
			return out[i].Zone < out[j].Zone
		}
		return out[i].PlazaNumber < out[j].PlazaNumber
	})
	return out
}
