package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"parking/internal/types"
)

// TariffRepository provides read access to the effective-dated tarifas table.
type TariffRepository struct {
	db DBTX
}

// NewTariffRepository creates a new TariffRepository backed by the given
// database connection (pool or transaction).
func NewTariffRepository(db DBTX) *TariffRepository {
	return &TariffRepository{db: db}
}

// Latest returns the most recent row for (template, type) effective at `at`.
func (r *TariffRepository) Latest(ctx context.Context, templateID int64, typ types.TariffType, at time.Time) (types.Tariff, error) {
	var t types.Tariff
	err := r.db.QueryRow(ctx,
		`SELECT plantilla_id, tiptar_nro, tar_f_desde, tar_precio
		 FROM tarifas
		 WHERE plantilla_id = $1 AND tiptar_nro = $2 AND tar_f_desde <= $3
		 ORDER BY tar_f_desde DESC
		 LIMIT 1`,
		templateID, typ, at,
	).Scan(&t.TemplateID, &t.Type, &t.EffectiveFrom, &t.Price)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Tariff{}, types.NewAppError(types.ErrCodeNotFoundTariff,
				fmt.Sprintf("no %s tariff for template %d", typ, templateID), nil)
		}
		return types.Tariff{}, dbError("failed to get tariff", err)
	}
	return t, nil
}

// LatestByTemplate resolves Latest for many templates in one query.
func (r *TariffRepository) LatestByTemplate(ctx context.Context, templateIDs []int64, typ types.TariffType, at time.Time) (map[int64]types.Tariff, error) {
	out := make(map[int64]types.Tariff, len(templateIDs))
	if len(templateIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT ON (plantilla_id) plantilla_id, tiptar_nro, tar_f_desde, tar_precio
		 FROM tarifas
		 WHERE plantilla_id = ANY($1) AND tiptar_nro = $2 AND tar_f_desde <= $3
		 ORDER BY plantilla_id, tar_f_desde DESC`,
		templateIDs, typ, at,
	)
	if err != nil {
		return nil, dbError("failed to list tariffs", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t types.Tariff
		if err := rows.Scan(&t.TemplateID, &t.Type, &t.EffectiveFrom, &t.Price); err != nil {
			return nil, dbError("failed to scan tariff", err)
		}
		out[t.TemplateID] = t
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("failed to iterate tariffs", err)
	}
	return out, nil
}
