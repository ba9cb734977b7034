package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"parking/internal/types"
)

// PlazaRepository provides data access for the plazas table.
type PlazaRepository struct {
	db DBTX
}

// NewPlazaRepository creates a new PlazaRepository backed by the given
// database connection (pool or transaction).
func NewPlazaRepository(db DBTX) *PlazaRepository {
	return &PlazaRepository{db: db}
}

const plazaColumns = `est_id, pla_numero, pla_zona, catv_segmento, plantilla_id, pla_estado`

func scanPlaza(row pgx.Row) (types.Plaza, error) {
	var p types.Plaza
	err := row.Scan(&p.LotID, &p.Number, &p.Zone, &p.Segment, &p.TemplateID, &p.State)
	return p, err
}

// Get returns the plaza or not_found_plaza.
func (r *PlazaRepository) Get(ctx context.Context, key types.PlazaKey) (types.Plaza, error) {
	return r.get(ctx, key, "")
}

// GetForUpdate reads the plaza with SELECT ... FOR UPDATE. The row lock is
// held until the surrounding transaction ends.
func (r *PlazaRepository) GetForUpdate(ctx context.Context, key types.PlazaKey) (types.Plaza, error) {
	return r.get(ctx, key, " FOR UPDATE")
}

func (r *PlazaRepository) get(ctx context.Context, key types.PlazaKey, suffix string) (types.Plaza, error) {
	p, err := scanPlaza(r.db.QueryRow(ctx,
		`SELECT `+plazaColumns+`
		 FROM plazas
		 WHERE est_id = $1 AND pla_numero = $2`+suffix,
		key.LotID, key.Number,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Plaza{}, types.NewAppError(types.ErrCodeNotFoundPlaza,
				fmt.Sprintf("plaza %d not found in lot %d", key.Number, key.LotID), nil)
		}
		return types.Plaza{}, dbError("failed to get plaza", err)
	}
	return p, nil
}

// ListByLot returns every plaza of the lot ordered by number.
func (r *PlazaRepository) ListByLot(ctx context.Context, lotID int64) ([]types.Plaza, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+plazaColumns+`
		 FROM plazas
		 WHERE est_id = $1
		 ORDER BY pla_numero`,
		lotID,
	)
	if err != nil {
		return nil, dbError("failed to list plazas", err)
	}
	defer rows.Close()

	var out []types.Plaza
	for rows.Next() {
		p, err := scanPlaza(rows)
		if err != nil {
			return nil, dbError("failed to scan plaza", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("failed to iterate plazas", err)
	}
	return out, nil
}

// UpdateState writes the plaza's cached state.
func (r *PlazaRepository) UpdateState(ctx context.Context, key types.PlazaKey, state types.PlazaState) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE plazas SET pla_estado = $3 WHERE est_id = $1 AND pla_numero = $2`,
		key.LotID, key.Number, state,
	)
	if err != nil {
		return dbError("failed to update plaza state", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundPlaza,
			fmt.Sprintf("plaza %d not found in lot %d", key.Number, key.LotID), nil)
	}
	return nil
}
