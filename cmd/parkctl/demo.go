package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"parking/internal/app"
	"parking/internal/availability"
	"parking/internal/config"
	"parking/internal/memstore"
	"parking/internal/queue"
	"parking/internal/reservation"
	"parking/internal/types"
)

// steppedClock is a Clock the demo moves forward by hand.
type steppedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *steppedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *steppedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newDemoCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Walk one reservation through its lifecycle on an in-memory lot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			if verbose {
				logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			}
			return runDemo(cmd.Context(), cmd.OutOrStdout(), logger)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log service activity to stderr")
	return cmd
}

// runDemo books plaza 1 for two hours, pays, arrives and checks out.
func runDemo(ctx context.Context, out io.Writer, logger *slog.Logger) error {
	clock := &steppedClock{t: time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)}

	store := memstore.New()
	tpl := int64(1)
	store.PutLot(1, "Demo")
	for n := 1; n <= 3; n++ {
		store.PutPlaza(types.Plaza{LotID: 1, Number: n, Zone: "A", Segment: types.SegmentCar, TemplateID: &tpl, State: types.PlazaFree})
	}
	store.PutTariff(types.Tariff{TemplateID: tpl, Type: types.TariffHourly, EffectiveFrom: clock.Now().AddDate(0, -1, 0), Price: decimal.NewFromInt(1200)})

	engine, err := app.NewEngine(config.LotConfig{
		Timezone:            "America/Argentina/Buenos_Aires",
		PaymentHoldTTL:      15 * time.Minute,
		DefaultGraceMinutes: 15,
		MaxDurationHours:    24,
	}, app.Deps{
		TxManager: store,
		Repos:     store,
		Clock:     clock,
		Publisher: queue.LogPublisher{Logger: logger},
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	step := func(format string, a ...any) {
		fmt.Fprintf(out, "[%s] %s\n", clock.Now().In(engine.Location).Format("15:04"), fmt.Sprintf(format, a...))
	}

	found, err := engine.Availability.Search(ctx, availability.SearchRequest{LotID: 1, Start: clock.Now(), DurationHours: 2})
	if err != nil {
		return err
	}
	step("search: %d plazas free for 2h", len(found))
	if len(found) == 0 {
		return fmt.Errorf("demo lot has no free plazas")
	}

	res, err := engine.Reservations.Create(ctx, reservation.CreateRequest{
		LotID:         1,
		PlazaNumber:   found[0].PlazaNumber,
		VehiclePlate:  "ab 123 cd",
		DriverID:      "drv-demo",
		Start:         clock.Now(),
		DurationHours: 2,
	})
	if err != nil {
		return err
	}
	step("created %s on plaza %d for %s (%s)", res.Code, res.PlazaNumber, res.VehiclePlate, res.State)

	paid, err := engine.Reservations.OnPaymentOutcome(ctx, res.Code, types.PaymentApproved, "demo-payment")
	if err != nil {
		return err
	}
	step("payment approved: %s", paid.NewState)

	clock.Advance(10 * time.Minute)
	arrival, err := engine.Reservations.ConfirmArrival(ctx, res.Code, 1)
	if err != nil {
		return err
	}
	step("arrival: occupancy %d opened (%s)", arrival.OccupancyID, arrival.NewState)

	clock.Advance(90 * time.Minute)
	fee, err := engine.Tariffs.Quote(ctx, arrival.OccupancyID)
	if err != nil {
		return err
	}
	step("running fee: %s (%d %s)", fee.Fee, fee.BilledUnits, fee.Unit)

	done, err := engine.Tariffs.Checkout(ctx, arrival.OccupancyID)
	if err != nil {
		return err
	}
	step("checkout: charged %s", done.Fee.Fee)

	p, _, err := engine.Plazas.Reconcile(ctx, types.PlazaKey{LotID: 1, Number: res.PlazaNumber})
	if err != nil {
		return err
	}
	step("plaza %d is %s", p.Number, p.State)
	return nil
}
