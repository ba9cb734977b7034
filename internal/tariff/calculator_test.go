package tariff

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking/internal/memstore"
	"parking/internal/types"
)

var entry = time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestBilledUnits(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		unit    types.BillingUnit
		want    int64
	}{
		{"zero elapsed bills one hour", 0, types.UnitHour, 1},
		{"negative elapsed bills one unit", -time.Minute, types.UnitHour, 1},
		{"exact hour", time.Hour, types.UnitHour, 1},
		{"one hour ten minutes rounds up", 70 * time.Minute, types.UnitHour, 2},
		{"ten hours on a daily unit", 10 * time.Hour, types.UnitDay, 1},
		{"25 hours on a daily unit", 25 * time.Hour, types.UnitDay, 2},
		{"eight days weekly", 8 * 24 * time.Hour, types.UnitWeek, 2},
		{"exactly 30 days monthly", 720 * time.Hour, types.UnitMonth, 1},
		{"one second past a month", 720*time.Hour + time.Second, types.UnitMonth, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BilledUnits(tt.elapsed, tt.unit))
		})
	}
}

func TestBilledUnits_MonotonicAndAtLeastOne(t *testing.T) {
	for _, unit := range []types.BillingUnit{types.UnitHour, types.UnitDay, types.UnitWeek, types.UnitMonth} {
		prev := int64(0)
		for elapsed := time.Duration(0); elapsed <= 1500*time.Hour; elapsed += 17 * time.Minute {
			got := BilledUnits(elapsed, unit)
			require.GreaterOrEqual(t, got, int64(1))
			require.GreaterOrEqual(t, got, prev, "unit %s at %s", unit, elapsed)
			prev = got
		}
	}
}

func TestCompute_ScenarioB_HourlyRoundsUp(t *testing.T) {
	occ := types.Occupancy{ID: 1, EntryAt: entry, Unit: types.UnitHour, AgreedPrice: decimal.Zero}
	tariff := types.Tariff{TemplateID: 3, Type: types.TariffHourly, Price: dec(1200)}

	fee := Compute(occ, tariff, entry.Add(70*time.Minute))

	assert.Equal(t, int64(2), fee.BilledUnits)
	assert.True(t, fee.UnitPrice.Equal(dec(1200)))
	assert.True(t, fee.CalculatedFee.Equal(dec(2400)))
	assert.True(t, fee.Fee.Equal(dec(2400)))
	assert.Equal(t, "1.17", fee.ElapsedHours.StringFixed(2))
}

func TestCompute_ScenarioC_DailyMinimumUnit(t *testing.T) {
	occ := types.Occupancy{ID: 2, EntryAt: entry, Unit: types.UnitDay, AgreedPrice: decimal.Zero}
	tariff := types.Tariff{TemplateID: 3, Type: types.TariffDaily, Price: dec(9000)}

	fee := Compute(occ, tariff, entry.Add(10*time.Hour))

	assert.Equal(t, int64(1), fee.BilledUnits)
	assert.True(t, fee.Fee.Equal(dec(9000)))
}

func TestCompute_FeeFloorIsAgreedPrice(t *testing.T) {
	tariff := types.Tariff{TemplateID: 3, Type: types.TariffHourly, Price: dec(1000)}

	for _, tc := range []struct {
		agreed  int64
		elapsed time.Duration
	}{
		{2400, 30 * time.Minute},
		{2400, 3 * time.Hour},
		{0, 5 * time.Hour},
		{1000, time.Hour},
	} {
		occ := types.Occupancy{EntryAt: entry, Unit: types.UnitHour, AgreedPrice: dec(tc.agreed)}
		fee := Compute(occ, tariff, entry.Add(tc.elapsed))
		assert.True(t, fee.Fee.Equal(decimal.Max(fee.CalculatedFee, fee.AgreedPrice)),
			"agreed=%d elapsed=%s fee=%s", tc.agreed, tc.elapsed, fee.Fee)
		assert.True(t, fee.Fee.GreaterThanOrEqual(tariff.Price))
	}
}

func seed(store *memstore.Store, template *int64) types.Plaza {
	p := types.Plaza{LotID: 1, Number: 5, Zone: "A", Segment: types.SegmentCar, TemplateID: template, State: types.PlazaOccupied}
	store.PutPlaza(p)
	return p
}

func TestCalculate_UsesMostRecentEffectiveTariff(t *testing.T) {
	store := memstore.New()
	tpl := int64(3)
	seed(store, &tpl)
	store.PutTariff(types.Tariff{TemplateID: 3, Type: types.TariffHourly, EffectiveFrom: entry.AddDate(0, -2, 0), Price: dec(800)})
	store.PutTariff(types.Tariff{TemplateID: 3, Type: types.TariffHourly, EffectiveFrom: entry.AddDate(0, -1, 0), Price: dec(1200)})
	store.PutTariff(types.Tariff{TemplateID: 3, Type: types.TariffHourly, EffectiveFrom: entry.AddDate(0, 1, 0), Price: dec(5000)})

	occ := types.Occupancy{ID: 7, LotID: 1, PlazaNumber: 5, EntryAt: entry, Unit: types.UnitHour, AgreedPrice: decimal.Zero}
	fee, err := Calculate(context.Background(), store, occ, entry.Add(2*time.Hour))
	require.NoError(t, err)

	assert.True(t, fee.UnitPrice.Equal(dec(1200)))
	assert.True(t, fee.Fee.Equal(dec(2400)))
	assert.Equal(t, int64(3), fee.TemplateID)
}

func TestCalculate_MissingTemplateIsConfigurationError(t *testing.T) {
	store := memstore.New()
	seed(store, nil)

	occ := types.Occupancy{LotID: 1, PlazaNumber: 5, EntryAt: entry, Unit: types.UnitHour}
	_, err := Calculate(context.Background(), store, occ, entry.Add(time.Hour))

	assert.Equal(t, types.ErrCodeConfigMissingTemplate, types.CodeOf(err))
}

func TestCalculate_MissingTariffNamesPlazaTemplateAndUnit(t *testing.T) {
	store := memstore.New()
	tpl := int64(3)
	seed(store, &tpl)
	store.PutTariff(types.Tariff{TemplateID: 3, Type: types.TariffHourly, EffectiveFrom: entry.AddDate(0, -1, 0), Price: dec(1200)})

	occ := types.Occupancy{LotID: 1, PlazaNumber: 5, EntryAt: entry, Unit: types.UnitWeek}
	_, err := Calculate(context.Background(), store, occ, entry.Add(time.Hour))

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeConfigMissingTariff, appErr.Code)
	assert.Contains(t, appErr.Message, "plaza 5")
	assert.Contains(t, appErr.Message, "template 3")
	assert.Contains(t, appErr.Message, "semana")
	assert.Equal(t, "semana", appErr.Details["unit"])
}

func TestCatalog_HourlyPrices(t *testing.T) {
	store := memstore.New()
	a, b := int64(1), int64(2)
	store.PutTariff(types.Tariff{TemplateID: 1, Type: types.TariffHourly, EffectiveFrom: entry.AddDate(0, -1, 0), Price: dec(1200)})
	store.PutTariff(types.Tariff{TemplateID: 2, Type: types.TariffDaily, EffectiveFrom: entry.AddDate(0, -1, 0), Price: dec(9000)})

	prices, err := NewCatalog(store.Tariffs()).HourlyPrices(context.Background(), []types.Plaza{
		{Number: 1, TemplateID: &a},
		{Number: 2, TemplateID: &a},
		{Number: 3, TemplateID: &b},
		{Number: 4},
	}, entry)
	require.NoError(t, err)

	require.Len(t, prices, 1)
	assert.True(t, prices[1].Equal(dec(1200)))
}
