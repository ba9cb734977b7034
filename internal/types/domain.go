package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlazaKey identifies a plaza within the system.
type PlazaKey struct {
	LotID  int64 `json:"lot_id"`
	Number int   `json:"plaza_number"`
}

// Plaza is a single physical parking spot, unique by (lot, number).
type Plaza struct {
	LotID      int64      `json:"lot_id" db:"est_id"`
	Number     int        `json:"plaza_number" db:"pla_numero"`
	Zone       string     `json:"zone" db:"pla_zona"`
	Segment    Segment    `json:"segment" db:"catv_segmento"`
	TemplateID *int64     `json:"template_id,omitempty" db:"plantilla_id"`
	State      PlazaState `json:"state" db:"pla_estado"`
}

// Key returns the plaza's identity.
func (p Plaza) Key() PlazaKey {
	return PlazaKey{LotID: p.LotID, Number: p.Number}
}

// Reservation is a driver's claim on a plaza for a future window.
type Reservation struct {
	Code         string           `json:"code" db:"res_codigo"`
	LotID        int64            `json:"lot_id" db:"est_id"`
	PlazaNumber  int              `json:"plaza_number" db:"pla_numero"`
	VehiclePlate string           `json:"vehicle_plate" db:"veh_patente"`
	DriverID     string           `json:"driver_id" db:"con_id"`
	Start        time.Time        `json:"start" db:"res_fh_ingreso"`
	End          time.Time        `json:"end" db:"res_fh_fin"`
	GraceMinutes int              `json:"grace_minutes" db:"res_tiempo_gracia_min"`
	Amount       decimal.Decimal  `json:"amount" db:"res_monto"`
	PaymentRef   string           `json:"payment_ref,omitempty" db:"pag_referencia"`
	State        ReservationState `json:"state" db:"res_estado"`
	CreatedAt    time.Time        `json:"created_at" db:"res_created_at"`
	UpdatedAt    time.Time        `json:"updated_at" db:"res_updated_at"`
}

// Grace returns the grace period as a duration.
func (r Reservation) Grace() time.Duration {
	return time.Duration(r.GraceMinutes) * time.Minute
}

// ArrivalOpensAt is the earliest instant at which arrival is honored.
func (r Reservation) ArrivalOpensAt() time.Time {
	return r.Start.Add(-r.Grace())
}

// ArrivalDeadline is the last instant at which arrival is honored. Past it
// a confirmed reservation is forfeited.
func (r Reservation) ArrivalDeadline() time.Time {
	return r.End.Add(r.Grace())
}

// Overlaps reports whether the reservation window intersects [start, end)
// using open-interval semantics.
func (r Reservation) Overlaps(start, end time.Time) bool {
	return r.Start.Before(end) && r.End.After(start)
}

// ReservationDetail is the display projection joining a reservation with
// lot and plaza metadata (vw_reservas_detalle).
type ReservationDetail struct {
	Reservation
	LotName string  `json:"lot_name" db:"est_nombre"`
	Zone    string  `json:"zone" db:"pla_zona"`
	Segment Segment `json:"segment" db:"catv_segmento"`
}

// Occupancy is the record of a vehicle physically parked in a plaza.
// ExitAt nil means the occupancy is active.
type Occupancy struct {
	ID                 int64            `json:"id" db:"ocu_id"`
	LotID              int64            `json:"lot_id" db:"est_id"`
	PlazaNumber        int              `json:"plaza_number" db:"pla_numero"`
	VehiclePlate       string           `json:"vehicle_plate" db:"veh_patente"`
	EntryAt            time.Time        `json:"entry_at" db:"ocu_fh_entrada"`
	ExitAt             *time.Time       `json:"exit_at,omitempty" db:"ocu_fh_salida"`
	Unit               BillingUnit      `json:"unit" db:"ocu_duracion_tipo"`
	AgreedPrice        decimal.Decimal  `json:"agreed_price" db:"ocu_precio_acordado"`
	ReservationCode    *string          `json:"reservation_code,omitempty" db:"res_codigo"`
	PaymentRef         *string          `json:"payment_ref,omitempty" db:"pag_referencia"`
	SubscriptionNumber *int64           `json:"subscription_number,omitempty" db:"abo_nro"`
	Fee                *decimal.Decimal `json:"fee,omitempty" db:"ocu_monto_final"`
}

// Active reports whether the occupancy has not been closed.
func (o Occupancy) Active() bool {
	return o.ExitAt == nil
}

// Subscription is a flat-rate, date-ranged right to a plaza (abonos).
// EndDate is a calendar date; its time-of-day is not meaningful.
type Subscription struct {
	Number       int64             `json:"subscription_number" db:"abo_nro"`
	LotID        int64             `json:"lot_id" db:"est_id"`
	PlazaNumber  int               `json:"plaza_number" db:"pla_numero"`
	VehiclePlate string            `json:"vehicle_plate,omitempty" db:"veh_patente"`
	EndDate      time.Time         `json:"end_date" db:"abo_fecha_fin"`
	State        SubscriptionState `json:"state" db:"abo_estado"`
}

// Tariff is one effective-dated price row for (template, type).
type Tariff struct {
	TemplateID    int64           `json:"template_id" db:"plantilla_id"`
	Type          TariffType      `json:"type" db:"tiptar_nro"`
	EffectiveFrom time.Time       `json:"effective_from" db:"tar_f_desde"`
	Price         decimal.Decimal `json:"price" db:"tar_precio"`
}

// AvailablePlaza is one search result.
type AvailablePlaza struct {
	PlazaNumber int             `json:"plaza_number"`
	Zone        string          `json:"zone"`
	Segment     Segment         `json:"segment"`
	HourlyPrice decimal.Decimal `json:"hourly_price"`
}

// FeeBreakdown is the TariffCalculator result, consumed by receipt generation.
type FeeBreakdown struct {
	OccupancyID   int64           `json:"occupancy_id"`
	TemplateID    int64           `json:"template_id"`
	Unit          BillingUnit     `json:"unit"`
	ElapsedHours  decimal.Decimal `json:"elapsed_hours"`
	BilledUnits   int64           `json:"billed_units"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	CalculatedFee decimal.Decimal `json:"calculated_fee"`
	AgreedPrice   decimal.Decimal `json:"agreed_price"`
	Fee           decimal.Decimal `json:"fee"`
}

// PaymentOutcomeResult reports the reservation state after a payment callback.
type PaymentOutcomeResult struct {
	Code     string           `json:"code"`
	NewState ReservationState `json:"new_state"`
	Changed  bool             `json:"changed"`
}

// ArrivalResult reports the occupancy created by a confirmed arrival.
type ArrivalResult struct {
	OccupancyID int64            `json:"occupancy_id"`
	NewState    ReservationState `json:"new_state"`
	EntryAt     time.Time        `json:"entry_at"`
}

// ExpiryResult is the per-subscription outcome of an expiry sweep.
type ExpiryResult struct {
	SubscriptionNumber int64        `json:"subscription_id"`
	PlazaNumber        int          `json:"plaza_number"`
	Action             ExpiryAction `json:"action"`
	NewOccupancyID     int64        `json:"new_occupancy_id,omitempty"`
	Error              string       `json:"error,omitempty"`
}

// CheckoutResult is the closed occupancy plus its fee.
type CheckoutResult struct {
	Occupancy Occupancy    `json:"occupancy"`
	Fee       FeeBreakdown `json:"fee"`
}
