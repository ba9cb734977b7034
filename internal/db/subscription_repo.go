package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"parking/internal/types"
)

// SubscriptionRepository provides data access for the abonos table.
// abo_fecha_fin is a DATE column; it round-trips as midnight UTC.
type SubscriptionRepository struct {
	db DBTX
}

// NewSubscriptionRepository creates a new SubscriptionRepository backed by
// the given database connection (pool or transaction).
func NewSubscriptionRepository(db DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const aboColumns = `abo_nro, est_id, pla_numero, veh_patente, abo_fecha_fin, abo_estado`

func scanSubscription(row pgx.Row) (types.Subscription, error) {
	var (
		s     types.Subscription
		plate *string
	)
	if err := row.Scan(&s.Number, &s.LotID, &s.PlazaNumber, &plate, &s.EndDate, &s.State); err != nil {
		return types.Subscription{}, err
	}
	if plate != nil {
		s.VehiclePlate = *plate
	}
	return s, nil
}

// ListExpired returns active subscriptions of the lot whose end date is on
// or before asOf.
func (r *SubscriptionRepository) ListExpired(ctx context.Context, lotID int64, asOf time.Time) ([]types.Subscription, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+aboColumns+`
		 FROM abonos
		 WHERE est_id = $1 AND abo_estado = 'activo' AND abo_fecha_fin <= $2::date
		 ORDER BY abo_nro`,
		lotID, types.CalendarDate(asOf),
	)
	if err != nil {
		return nil, dbError("failed to list expired subscriptions", err)
	}
	defer rows.Close()

	var out []types.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, dbError("failed to scan subscription", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("failed to iterate subscriptions", err)
	}
	return out, nil
}

// GetForUpdate reads the subscription with SELECT ... FOR UPDATE.
func (r *SubscriptionRepository) GetForUpdate(ctx context.Context, number int64) (types.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRow(ctx,
		`SELECT `+aboColumns+` FROM abonos WHERE abo_nro = $1 FOR UPDATE`,
		number,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Subscription{}, notFoundSubscription(number)
		}
		return types.Subscription{}, dbError("failed to get subscription", err)
	}
	return s, nil
}

// Deactivate marks the subscription inactivo. Deactivating an inactive
// subscription is a no-op.
func (r *SubscriptionRepository) Deactivate(ctx context.Context, number int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE abonos SET abo_estado = 'inactivo' WHERE abo_nro = $1`,
		number,
	)
	if err != nil {
		return dbError("failed to deactivate subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return notFoundSubscription(number)
	}
	return nil
}

// ActiveForPlaza returns the active subscription on the plaza whose end date
// is after asOf, or nil.
func (r *SubscriptionRepository) ActiveForPlaza(ctx context.Context, key types.PlazaKey, asOf time.Time) (*types.Subscription, error) {
	s, err := scanSubscription(r.db.QueryRow(ctx,
		`SELECT `+aboColumns+`
		 FROM abonos
		 WHERE est_id = $1 AND pla_numero = $2
		   AND abo_estado = 'activo' AND abo_fecha_fin > $3::date
		 ORDER BY abo_fecha_fin DESC
		 LIMIT 1`,
		key.LotID, key.Number, types.CalendarDate(asOf),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, dbError("failed to get active subscription", err)
	}
	return &s, nil
}

func notFoundSubscription(number int64) error {
	return types.NewAppError(types.ErrCodeNotFoundSubscription, fmt.Sprintf("subscription %d not found", number), nil)
}
