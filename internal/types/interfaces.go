package types

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repositories provides access to all repository instances. Inside RunInTx
// every repository shares the same transaction.
type Repositories interface {
	Plazas() PlazaRepository
	Reservations() ReservationRepository
	Occupancies() OccupancyRepository
	Subscriptions() SubscriptionRepository
	Tariffs() TariffRepository
}

// TransactionManager provides transactional execution across repositories.
// fn's returned error rolls the transaction back.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// PlazaRepository is the data access interface for plazas.
type PlazaRepository interface {
	Get(ctx context.Context, key PlazaKey) (Plaza, error)
	// GetForUpdate reads the plaza and holds its row lock until the
	// surrounding transaction ends. Outside a transaction it behaves like Get.
	GetForUpdate(ctx context.Context, key PlazaKey) (Plaza, error)
	ListByLot(ctx context.Context, lotID int64) ([]Plaza, error)
	UpdateState(ctx context.Context, key PlazaKey, state PlazaState) error
}

// ReservationRepository is the data access interface for reservas.
type ReservationRepository interface {
	Create(ctx context.Context, r *Reservation) error
	Get(ctx context.Context, code string) (Reservation, error)
	GetForUpdate(ctx context.Context, code string) (Reservation, error)
	GetDetail(ctx context.Context, code string) (ReservationDetail, error)
	Exists(ctx context.Context, code string) (bool, error)
	// UpdateState performs a compare-and-set from one state to another.
	// A row not in state `from` yields ErrCodeConflictConcurrent.
	UpdateState(ctx context.Context, code string, from, to ReservationState, paymentRef string) error
	// ListBlocking returns every reservation in lotID that blocks [start, end):
	// confirmed/active overlaps plus payment holds created at or after holdSince.
	// A non-nil plazaNumber narrows the query to one plaza.
	ListBlocking(ctx context.Context, lotID int64, plazaNumber *int, start, end, holdSince time.Time) ([]Reservation, error)
	// ListClaiming returns confirmed/active reservations on the plaza.
	ListClaiming(ctx context.Context, key PlazaKey) ([]Reservation, error)
	// ListClaimingByLot returns confirmed/active reservations on every plaza
	// of the lot.
	ListClaimingByLot(ctx context.Context, lotID int64) ([]Reservation, error)
	// ListOverdue returns confirmed reservations whose arrival deadline is
	// before now, plus payment holds created before holdSince.
	ListOverdue(ctx context.Context, lotID int64, now, holdSince time.Time) ([]Reservation, error)
}

// OccupancyRepository is the data access interface for ocupacion.
type OccupancyRepository interface {
	Create(ctx context.Context, o *Occupancy) error
	Get(ctx context.Context, id int64) (Occupancy, error)
	GetForUpdate(ctx context.Context, id int64) (Occupancy, error)
	// ActiveForPlaza returns the open occupancy on the plaza, or nil.
	ActiveForPlaza(ctx context.Context, key PlazaKey) (*Occupancy, error)
	ListActiveByLot(ctx context.Context, lotID int64) ([]Occupancy, error)
	Close(ctx context.Context, id int64, exitAt time.Time, fee *decimal.Decimal) error
}

// SubscriptionRepository is the data access interface for abonos.
type SubscriptionRepository interface {
	// ListExpired returns active subscriptions in lotID whose end date is on
	// or before asOf (a calendar date).
	ListExpired(ctx context.Context, lotID int64, asOf time.Time) ([]Subscription, error)
	GetForUpdate(ctx context.Context, number int64) (Subscription, error)
	Deactivate(ctx context.Context, number int64) error
	// ActiveForPlaza returns the active subscription covering asOf, or nil.
	ActiveForPlaza(ctx context.Context, key PlazaKey, asOf time.Time) (*Subscription, error)
}

// TariffRepository is the data access interface for tarifas.
type TariffRepository interface {
	// Latest returns the most recent row with effective_from <= at.
	Latest(ctx context.Context, templateID int64, typ TariffType, at time.Time) (Tariff, error)
	// LatestByTemplate is the bulk form of Latest keyed by template id.
	// Templates without a row are absent from the map.
	LatestByTemplate(ctx context.Context, templateIDs []int64, typ TariffType, at time.Time) (map[int64]Tariff, error)
}

// EventPublisher fans reservation lifecycle events out to downstream
// consumers (receipt generation, notifications).
type EventPublisher interface {
	Publish(ctx context.Context, evt ReservationEvent) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// FixedClock is a Clock frozen at T. Used by maintenance tasks that run
// against a reference time and by tests.
type FixedClock struct{ T time.Time }

// Now returns the frozen instant.
func (c FixedClock) Now() time.Time { return c.T }

// LifecycleRecorder counts committed lifecycle transitions and event
// publishes that failed after commit.
type LifecycleRecorder interface {
	RecordTransition(evt EventType)
	RecordPublishFailure(evt EventType)
}
