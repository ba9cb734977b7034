package types

import "time"

// PlazaState is the finite state of a single parking spot as stored in plazas.estado.
type PlazaState string

const (
	PlazaFree        PlazaState = "libre"
	PlazaOccupied    PlazaState = "ocupada"
	PlazaReserved    PlazaState = "reservada"
	PlazaSubscribed  PlazaState = "abonada"
	PlazaMaintenance PlazaState = "mantenimiento"
)

// Valid reports whether s is one of the known plaza states.
func (s PlazaState) Valid() bool {
	switch s {
	case PlazaFree, PlazaOccupied, PlazaReserved, PlazaSubscribed, PlazaMaintenance:
		return true
	}
	return false
}

// ReservationState is the lifecycle state of a reservation (reservas.estado).
type ReservationState string

const (
	ReservationPendingPayment ReservationState = "pendiente_pago"
	ReservationConfirmed      ReservationState = "confirmada"
	ReservationActive         ReservationState = "activa" // unused by the current flow
	ReservationCompleted      ReservationState = "completada"
	ReservationCancelled      ReservationState = "cancelada"
	ReservationExpired        ReservationState = "expirada"
	ReservationNoShow         ReservationState = "no_show"
)

// Terminal reports whether no further transition is allowed from s.
func (s ReservationState) Terminal() bool {
	switch s {
	case ReservationCompleted, ReservationCancelled, ReservationExpired, ReservationNoShow:
		return true
	}
	return false
}

// ClaimsPlaza reports whether a reservation in state s blocks its window on the plaza.
func (s ReservationState) ClaimsPlaza() bool {
	return s == ReservationConfirmed || s == ReservationActive
}

// SubscriptionState is the state of an abono.
type SubscriptionState string

const (
	SubscriptionActive   SubscriptionState = "activo"
	SubscriptionInactive SubscriptionState = "inactivo"
)

// BillingUnit is the time granularity chosen when a vehicle enters.
type BillingUnit string

const (
	UnitHour  BillingUnit = "hora"
	UnitDay   BillingUnit = "dia"
	UnitWeek  BillingUnit = "semana"
	UnitMonth BillingUnit = "mes"
)

// Length returns the real-time length of one unit, or 0 for unknown units.
func (u BillingUnit) Length() time.Duration {
	switch u {
	case UnitHour:
		return time.Hour
	case UnitDay:
		return 24 * time.Hour
	case UnitWeek:
		return 168 * time.Hour
	case UnitMonth:
		return 720 * time.Hour
	}
	return 0
}

// Valid reports whether u is a known billing unit.
func (u BillingUnit) Valid() bool {
	return u.Length() > 0
}

// TariffType is the lookup key used by the tariff catalog (tarifas.tipo).
type TariffType string

const (
	TariffHourly  TariffType = "hora"
	TariffDaily   TariffType = "diaria"
	TariffWeekly  TariffType = "semanal"
	TariffMonthly TariffType = "mensual"
)

// TariffType maps the billing unit to the catalog key it is priced under.
func (u BillingUnit) TariffType() (TariffType, bool) {
	switch u {
	case UnitHour:
		return TariffHourly, true
	case UnitDay:
		return TariffDaily, true
	case UnitWeek:
		return TariffWeekly, true
	case UnitMonth:
		return TariffMonthly, true
	}
	return "", false
}

// Segment is the vehicle class a plaza accepts.
type Segment string

const (
	SegmentCar        Segment = "auto"
	SegmentMotorcycle Segment = "moto"
	SegmentTruck      Segment = "camioneta"
)

// PaymentStatus is the outcome reported by the payment provider.
type PaymentStatus string

const (
	PaymentApproved  PaymentStatus = "approved"
	PaymentRejected  PaymentStatus = "rejected"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentPending   PaymentStatus = "pending"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentApproved, PaymentRejected, PaymentCancelled, PaymentPending:
		return true
	}
	return false
}

// ExpiryAction tags the per-subscription outcome of an expiry sweep.
type ExpiryAction string

const (
	ExpiryFreed     ExpiryAction = "freed"
	ExpiryConverted ExpiryAction = "converted"
	ExpiryNoop      ExpiryAction = "noop"
	ExpiryError     ExpiryAction = "error"

	// ExpiryDeactivated ends the subscription but leaves an occupancy that
	// does not belong to it untouched.
	ExpiryDeactivated ExpiryAction = "deactivated"
)
