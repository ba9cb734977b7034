package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"parking/internal/types"
)

// ReservationRepository provides data access for the reservas table and the
// vw_reservas_detalle view.
type ReservationRepository struct {
	db DBTX
}

// NewReservationRepository creates a new ReservationRepository backed by the
// given database connection (pool or transaction).
func NewReservationRepository(db DBTX) *ReservationRepository {
	return &ReservationRepository{db: db}
}

// resColumns defines the standard set of columns selected for reservation
// queries. pag_referencia is nullable and scanned through a pointer.
const resColumns = `res_codigo, est_id, pla_numero, veh_patente, con_id,
	res_fh_ingreso, res_fh_fin, res_tiempo_gracia_min, res_monto,
	pag_referencia, res_estado, res_created_at, res_updated_at`

func scanReservation(row pgx.Row, extra ...any) (types.Reservation, error) {
	var (
		r          types.Reservation
		paymentRef *string
	)
	dest := []any{
		&r.Code, &r.LotID, &r.PlazaNumber, &r.VehiclePlate, &r.DriverID,
		&r.Start, &r.End, &r.GraceMinutes, &r.Amount,
		&paymentRef, &r.State, &r.CreatedAt, &r.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return types.Reservation{}, err
	}
	if paymentRef != nil {
		r.PaymentRef = *paymentRef
	}
	return r, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create inserts a new reservation. A code collision yields
// conflict_duplicate_code.
func (r *ReservationRepository) Create(ctx context.Context, res *types.Reservation) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO reservas (`+resColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		res.Code, res.LotID, res.PlazaNumber, res.VehiclePlate, res.DriverID,
		res.Start, res.End, res.GraceMinutes, res.Amount,
		nilIfEmpty(res.PaymentRef), res.State, res.CreatedAt, res.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictDuplicateCode,
				fmt.Sprintf("reservation code %s already exists", res.Code), err)
		}
		return dbError("failed to create reservation", err)
	}
	return nil
}

// Get returns the reservation or not_found_reservation.
func (r *ReservationRepository) Get(ctx context.Context, code string) (types.Reservation, error) {
	return r.get(ctx, code, "")
}

// GetForUpdate reads the reservation with SELECT ... FOR UPDATE.
func (r *ReservationRepository) GetForUpdate(ctx context.Context, code string) (types.Reservation, error) {
	return r.get(ctx, code, " FOR UPDATE")
}

func (r *ReservationRepository) get(ctx context.Context, code, suffix string) (types.Reservation, error) {
	res, err := scanReservation(r.db.QueryRow(ctx,
		`SELECT `+resColumns+` FROM reservas WHERE res_codigo = $1`+suffix,
		code,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Reservation{}, notFoundReservation(code)
		}
		return types.Reservation{}, dbError("failed to get reservation", err)
	}
	return res, nil
}

// GetDetail reads the display projection from vw_reservas_detalle.
func (r *ReservationRepository) GetDetail(ctx context.Context, code string) (types.ReservationDetail, error) {
	var d types.ReservationDetail
	res, err := scanReservation(r.db.QueryRow(ctx,
		`SELECT `+resColumns+`, est_nombre, pla_zona, catv_segmento
		 FROM vw_reservas_detalle
		 WHERE res_codigo = $1`,
		code,
	), &d.LotName, &d.Zone, &d.Segment)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.ReservationDetail{}, notFoundReservation(code)
		}
		return types.ReservationDetail{}, dbError("failed to get reservation detail", err)
	}
	d.Reservation = res
	return d, nil
}

// Exists reports whether code is taken.
func (r *ReservationRepository) Exists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM reservas WHERE res_codigo = $1)`,
		code,
	).Scan(&exists)
	if err != nil {
		return false, dbError("failed to check reservation code", err)
	}
	return exists, nil
}

// UpdateState moves the reservation from `from` to `to` in a single
// conditional UPDATE. A row not in `from` is reported as a concurrent
// modification; an unknown code as not found. An empty paymentRef keeps the
// stored reference.
func (r *ReservationRepository) UpdateState(ctx context.Context, code string, from, to types.ReservationState, paymentRef string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE reservas
		 SET res_estado = $3,
		     pag_referencia = COALESCE($4, pag_referencia),
		     res_updated_at = NOW()
		 WHERE res_codigo = $1 AND res_estado = $2`,
		code, from, to, nilIfEmpty(paymentRef),
	)
	if err != nil {
		return dbError("failed to update reservation state", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	exists, err := r.Exists(ctx, code)
	if err != nil {
		return err
	}
	if !exists {
		return notFoundReservation(code)
	}
	return types.NewAppError(types.ErrCodeConflictConcurrent,
		fmt.Sprintf("reservation %s is no longer %s", code, from), nil)
}

// ListBlocking returns reservations that block [start, end) in the lot:
// confirmed or active overlaps plus payment holds created at or after
// holdSince.
func (r *ReservationRepository) ListBlocking(ctx context.Context, lotID int64, plazaNumber *int, start, end, holdSince time.Time) ([]types.Reservation, error) {
	return r.list(ctx, "failed to list blocking reservations",
		`SELECT `+resColumns+`
		 FROM reservas
		 WHERE est_id = $1
		   AND ($2::int IS NULL OR pla_numero = $2)
		   AND res_fh_ingreso < $4
		   AND res_fh_fin > $3
		   AND (res_estado IN ('confirmada', 'activa')
		        OR (res_estado = 'pendiente_pago' AND res_created_at >= $5))
		 ORDER BY res_codigo`,
		lotID, plazaNumber, start, end, holdSince,
	)
}

// ListClaiming returns confirmed or active reservations on the plaza.
func (r *ReservationRepository) ListClaiming(ctx context.Context, key types.PlazaKey) ([]types.Reservation, error) {
	return r.list(ctx, "failed to list claiming reservations",
		`SELECT `+resColumns+`
		 FROM reservas
		 WHERE est_id = $1 AND pla_numero = $2
		   AND res_estado IN ('confirmada', 'activa')
		 ORDER BY res_codigo`,
		key.LotID, key.Number,
	)
}

// ListClaimingByLot returns confirmed or active reservations on any plaza of
// the lot.
func (r *ReservationRepository) ListClaimingByLot(ctx context.Context, lotID int64) ([]types.Reservation, error) {
	return r.list(ctx, "failed to list claiming reservations",
		`SELECT `+resColumns+`
		 FROM reservas
		 WHERE est_id = $1
		   AND res_estado IN ('confirmada', 'activa')
		 ORDER BY res_codigo`,
		lotID,
	)
}

// ListOverdue returns confirmed reservations past their arrival deadline and
// payment holds created before holdSince.
func (r *ReservationRepository) ListOverdue(ctx context.Context, lotID int64, now, holdSince time.Time) ([]types.Reservation, error) {
	return r.list(ctx, "failed to list overdue reservations",
		`SELECT `+resColumns+`
		 FROM reservas
		 WHERE est_id = $1
		   AND ((res_estado = 'confirmada'
		         AND res_fh_fin + make_interval(mins => res_tiempo_gracia_min) < $2)
		     OR (res_estado = 'pendiente_pago' AND res_created_at < $3))
		 ORDER BY res_codigo`,
		lotID, now, holdSince,
	)
}

func (r *ReservationRepository) list(ctx context.Context, msg, query string, args ...any) ([]types.Reservation, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, dbError(msg, err)
	}
	defer rows.Close()

	var out []types.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, dbError(msg, err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError(msg, err)
	}
	return out, nil
}

func notFoundReservation(code string) error {
	return types.NewAppError(types.ErrCodeNotFoundReservation, fmt.Sprintf("reservation %s not found", code), nil)
}
