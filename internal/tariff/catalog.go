// Package tariff prices occupancies. The catalog resolves effective-dated
// tariff rows per pricing template; the calculator turns elapsed time into
// billed units with the minimum-one-unit, round-up rule.
package tariff

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"parking/internal/types"
)

// Catalog resolves the tariff in force for a plaza's template.
type Catalog struct {
	tariffs types.TariffRepository
}

// NewCatalog creates a Catalog over repo. Inside a transaction pass the
// transaction's TariffRepository.
func NewCatalog(repo types.TariffRepository) *Catalog {
	return &Catalog{tariffs: repo}
}

// Current returns the most recent tariff for the plaza's template and unit
// effective at `at`. A plaza without a template and a template without a row
// for the unit are both configuration errors; there is no fallback price.
func (c *Catalog) Current(ctx context.Context, p types.Plaza, unit types.BillingUnit, at time.Time) (types.Tariff, error) {
	if p.TemplateID == nil {
		return types.Tariff{}, missingTemplate(p)
	}
	typ, ok := unit.TariffType()
	if !ok {
		return types.Tariff{}, types.NewAppError(types.ErrCodeValidationBillingUnit,
			fmt.Sprintf("unknown billing unit %q", unit), nil)
	}

	t, err := c.tariffs.Latest(ctx, *p.TemplateID, typ, at)
	if err != nil {
		if types.CodeOf(err) == types.ErrCodeNotFoundTariff {
			return types.Tariff{}, types.NewAppErrorWithDetails(types.ErrCodeConfigMissingTariff,
				fmt.Sprintf("plaza %d (template %d) has no tariff for unit %s", p.Number, *p.TemplateID, unit),
				err,
				map[string]any{
					"lot_id":       p.LotID,
					"plaza_number": p.Number,
					"template_id":  *p.TemplateID,
					"unit":         string(unit),
				},
			)
		}
		return types.Tariff{}, err
	}
	return t, nil
}

// HourlyPrices returns the hourly price in force at `at` for each template
// used by plazas. Templates without an hourly row are absent from the map.
func (c *Catalog) HourlyPrices(ctx context.Context, plazas []types.Plaza, at time.Time) (map[int64]decimal.Decimal, error) {
	seen := make(map[int64]struct{})
	ids := make([]int64, 0)
	for _, p := range plazas {
		if p.TemplateID == nil {
			continue
		}
		if _, dup := seen[*p.TemplateID]; dup {
			continue
		}
		seen[*p.TemplateID] = struct{}{}
		ids = append(ids, *p.TemplateID)
	}

	prices := make(map[int64]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return prices, nil
	}

	rows, err := c.tariffs.LatestByTemplate(ctx, ids, types.TariffHourly, at)
	if err != nil {
		return nil, err
	}
	for id, t := range rows {
		prices[id] = t.Price
	}
	return prices, nil
}

func missingTemplate(p types.Plaza) error {
	return types.NewAppErrorWithDetails(types.ErrCodeConfigMissingTemplate,
		fmt.Sprintf("plaza %d has no pricing template assigned", p.Number),
		nil,
		map[string]any{"lot_id": p.LotID, "plaza_number": p.Number},
	)
}
