package tariff

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"parking/internal/types"
)

// BilledUnits converts elapsed time into billed units:
// max(1, ceil(elapsed / unit length)). Unknown units bill one unit.
func BilledUnits(elapsed time.Duration, unit types.BillingUnit) int64 {
	length := unit.Length()
	if length <= 0 || elapsed <= 0 {
		return 1
	}
	n := int64(elapsed / length)
	if elapsed%length != 0 {
		n++
	}
	if n < 1 {
		return 1
	}
	return n
}

// Compute prices occ against t for the interval [occ.EntryAt, end].
// The final fee never drops below the price agreed at entry.
func Compute(occ types.Occupancy, t types.Tariff, end time.Time) types.FeeBreakdown {
	elapsed := end.Sub(occ.EntryAt)
	if elapsed < 0 {
		elapsed = 0
	}
	units := BilledUnits(elapsed, occ.Unit)
	calculated := t.Price.Mul(decimal.NewFromInt(units))

	return types.FeeBreakdown{
		OccupancyID:   occ.ID,
		TemplateID:    t.TemplateID,
		Unit:          occ.Unit,
		ElapsedHours:  decimal.NewFromInt(elapsed.Milliseconds()).Div(decimal.NewFromInt(3_600_000)).Round(2),
		BilledUnits:   units,
		UnitPrice:     t.Price,
		CalculatedFee: calculated,
		AgreedPrice:   occ.AgreedPrice,
		Fee:           decimal.Max(calculated, occ.AgreedPrice),
	}
}

// Calculate looks up the occupancy's plaza and tariff through repos and
// prices it up to end. The tariff row is the one effective at end.
func Calculate(ctx context.Context, repos types.Repositories, occ types.Occupancy, end time.Time) (types.FeeBreakdown, error) {
	p, err := repos.Plazas().Get(ctx, types.PlazaKey{LotID: occ.LotID, Number: occ.PlazaNumber})
	if err != nil {
		return types.FeeBreakdown{}, err
	}
	t, err := NewCatalog(repos.Tariffs()).Current(ctx, p, occ.Unit, end)
	if err != nil {
		return types.FeeBreakdown{}, err
	}
	return Compute(occ, t, end), nil
}
