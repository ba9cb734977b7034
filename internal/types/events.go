package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a reservation lifecycle transition.
type EventType string

const (
	EventReservationCreated   EventType = "reservation.created"
	EventReservationConfirmed EventType = "reservation.confirmed"
	EventReservationCancelled EventType = "reservation.cancelled"
	EventReservationExpired   EventType = "reservation.expired"
	EventReservationCompleted EventType = "reservation.completed"
	EventOccupancyClosed      EventType = "occupancy.closed"
	EventSubscriptionExpired  EventType = "subscription.expired"
)

// ReservationEvent is the message body published for each committed
// transition. Amount and Fee are set when relevant.
type ReservationEvent struct {
	ID              string           `json:"id"`
	Type            EventType        `json:"type"`
	OccurredAt      time.Time        `json:"occurred_at"`
	LotID           int64            `json:"lot_id"`
	PlazaNumber     int              `json:"plaza_number"`
	ReservationCode string           `json:"reservation_code,omitempty"`
	OccupancyID     int64            `json:"occupancy_id,omitempty"`
	State           string           `json:"state,omitempty"`
	Amount          *decimal.Decimal `json:"amount,omitempty"`
	Fee             *FeeBreakdown    `json:"fee,omitempty"`
}
