package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"parking/internal/types"
)

// OccupancyRepository provides data access for the ocupacion table. A
// partial unique index allows at most one open row per plaza.
type OccupancyRepository struct {
	db DBTX
}

// NewOccupancyRepository creates a new OccupancyRepository backed by the
// given database connection (pool or transaction).
func NewOccupancyRepository(db DBTX) *OccupancyRepository {
	return &OccupancyRepository{db: db}
}

const occColumns = `ocu_id, est_id, pla_numero, veh_patente, ocu_fh_entrada, ocu_fh_salida,
	ocu_duracion_tipo, ocu_precio_acordado, res_codigo, pag_referencia, abo_nro, ocu_monto_final`

func scanOccupancy(row pgx.Row) (types.Occupancy, error) {
	var o types.Occupancy
	err := row.Scan(
		&o.ID, &o.LotID, &o.PlazaNumber, &o.VehiclePlate, &o.EntryAt, &o.ExitAt,
		&o.Unit, &o.AgreedPrice, &o.ReservationCode, &o.PaymentRef, &o.SubscriptionNumber, &o.Fee,
	)
	return o, err
}

// Create inserts an open occupancy and sets o.ID. A second open occupancy on
// the same plaza yields conflict_plaza_occupied.
func (r *OccupancyRepository) Create(ctx context.Context, o *types.Occupancy) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO ocupacion (est_id, pla_numero, veh_patente, ocu_fh_entrada,
		     ocu_duracion_tipo, ocu_precio_acordado, res_codigo, pag_referencia, abo_nro)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING ocu_id`,
		o.LotID, o.PlazaNumber, o.VehiclePlate, o.EntryAt,
		o.Unit, o.AgreedPrice, o.ReservationCode, o.PaymentRef, o.SubscriptionNumber,
	).Scan(&o.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictPlazaOccupied,
				fmt.Sprintf("plaza %d already has an active occupancy", o.PlazaNumber), err)
		}
		return dbError("failed to create occupancy", err)
	}
	return nil
}

// Get returns the occupancy or not_found_occupancy.
func (r *OccupancyRepository) Get(ctx context.Context, id int64) (types.Occupancy, error) {
	return r.get(ctx, id, "")
}

// GetForUpdate reads the occupancy with SELECT ... FOR UPDATE.
func (r *OccupancyRepository) GetForUpdate(ctx context.Context, id int64) (types.Occupancy, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *OccupancyRepository) get(ctx context.Context, id int64, suffix string) (types.Occupancy, error) {
	o, err := scanOccupancy(r.db.QueryRow(ctx,
		`SELECT `+occColumns+` FROM ocupacion WHERE ocu_id = $1`+suffix,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Occupancy{}, types.NewAppError(types.ErrCodeNotFoundOccupancy,
				fmt.Sprintf("occupancy %d not found", id), nil)
		}
		return types.Occupancy{}, dbError("failed to get occupancy", err)
	}
	return o, nil
}

// ActiveForPlaza returns the open occupancy on the plaza, or nil.
func (r *OccupancyRepository) ActiveForPlaza(ctx context.Context, key types.PlazaKey) (*types.Occupancy, error) {
	o, err := scanOccupancy(r.db.QueryRow(ctx,
		`SELECT `+occColumns+`
		 FROM ocupacion
		 WHERE est_id = $1 AND pla_numero = $2 AND ocu_fh_salida IS NULL`,
		key.LotID, key.Number,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, dbError("failed to get active occupancy", err)
	}
	return &o, nil
}

// ListActiveByLot returns every open occupancy in the lot.
func (r *OccupancyRepository) ListActiveByLot(ctx context.Context, lotID int64) ([]types.Occupancy, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+occColumns+`
		 FROM ocupacion
		 WHERE est_id = $1 AND ocu_fh_salida IS NULL
		 ORDER BY ocu_id`,
		lotID,
	)
	if err != nil {
		return nil, dbError("failed to list active occupancies", err)
	}
	defer rows.Close()

	var out []types.Occupancy
	for rows.Next() {
		o, err := scanOccupancy(rows)
		if err != nil {
			return nil, dbError("failed to scan occupancy", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("failed to iterate occupancies", err)
	}
	return out, nil
}

// Close sets the exit timestamp and final fee of an open occupancy. Closing
// a closed or unknown occupancy yields state_occupancy_closed.
func (r *OccupancyRepository) Close(ctx context.Context, id int64, exitAt time.Time, fee *decimal.Decimal) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE ocupacion
		 SET ocu_fh_salida = $2, ocu_monto_final = $3
		 WHERE ocu_id = $1 AND ocu_fh_salida IS NULL`,
		id, exitAt, fee,
	)
	if err != nil {
		return dbError("failed to close occupancy", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeStateOccupancyClosed,
			fmt.Sprintf("occupancy %d is not active", id), nil)
	}
	return nil
}
