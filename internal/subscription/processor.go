// Package subscription resolves plazas whose abono has run out: the plaza is
// freed, or the subscriber's parked vehicle is moved onto metered hourly
// billing without a gap between the two occupancies. An occupancy that is not
// the subscriber's is never touched.
package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"parking/internal/plaza"
	"parking/internal/types"
)

// Options configures a Processor.
type Options struct {
	Clock     types.Clock
	Location  *time.Location
	ItemDelay time.Duration
	Publisher types.EventPublisher
	Logger    *slog.Logger
}

// Processor sweeps expired subscriptions sequentially.
type Processor struct {
	txm       types.TransactionManager
	repos     types.Repositories
	clock     types.Clock
	loc       *time.Location
	delay     time.Duration
	publisher types.EventPublisher
	logger    *slog.Logger

	// Sleep waits between subscriptions. Replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewProcessor creates a Processor.
func NewProcessor(txm types.TransactionManager, repos types.Repositories, opts Options) *Processor {
	p := &Processor{
		txm:       txm,
		repos:     repos,
		clock:     opts.Clock,
		loc:       opts.Location,
		delay:     opts.ItemDelay,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		Sleep:     sleepContext,
	}
	if p.clock == nil {
		p.clock = types.RealClock{}
	}
	if p.loc == nil {
		p.loc = time.UTC
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// ProcessExpired expires every active subscription of the lot whose end date
// is today or earlier in the lot's timezone. A failing subscription is
// reported with action error and the sweep continues. Cancelling ctx stops
// the sweep and returns the results gathered so far with ctx's error.
func (p *Processor) ProcessExpired(ctx context.Context, lotID int64) ([]types.ExpiryResult, error) {
	today := types.CalendarDate(p.clock.Now().In(p.loc))
	subs, err := p.repos.Subscriptions().ListExpired(ctx, lotID, today)
	if err != nil {
		return nil, fmt.Errorf("listing expired subscriptions for lot %d: %w", lotID, err)
	}

	results := make([]types.ExpiryResult, 0, len(subs))
	counts := make(map[types.ExpiryAction]int)
	for i, sub := range subs {
		if i > 0 {
			if err := p.Sleep(ctx, p.delay); err != nil {
				return results, err
			}
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res, _ := p.Expire(ctx, sub)
		counts[res.Action]++
		results = append(results, res)
	}

	p.logger.InfoContext(ctx, "subscription expiry sweep complete",
		"lot_id", lotID,
		"date", today.Format(time.DateOnly),
		"total", len(subs),
		"freed", counts[types.ExpiryFreed],
		"converted", counts[types.ExpiryConverted],
		"noop", counts[types.ExpiryNoop],
		"deactivated", counts[types.ExpiryDeactivated],
		"failed", counts[types.ExpiryError],
	)
	return results, nil
}

// Expire resolves one subscription in a single transaction. The returned
// result always describes the outcome; err is non-nil only when the action
// is error.
func (p *Processor) Expire(ctx context.Context, sub types.Subscription) (types.ExpiryResult, error) {
	res := types.ExpiryResult{SubscriptionNumber: sub.Number, PlazaNumber: sub.PlazaNumber}
	now := p.clock.Now().In(p.loc)
	endInstant := types.StartOfDate(sub.EndDate, p.loc)
	var synced plaza.SyncResult

	err := p.txm.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		pl, err := repos.Plazas().GetForUpdate(ctx, types.PlazaKey{LotID: sub.LotID, Number: sub.PlazaNumber})
		if err != nil {
			return err
		}
		current, err := repos.Subscriptions().GetForUpdate(ctx, sub.Number)
		if err != nil {
			return err
		}
		if current.State == types.SubscriptionInactive {
			res.Action = types.ExpiryNoop
			return nil
		}
		if err := repos.Subscriptions().Deactivate(ctx, sub.Number); err != nil {
			return err
		}

		occ, err := repos.Occupancies().ActiveForPlaza(ctx, pl.Key())
		if err != nil {
			return err
		}
		if occ == nil {
			if synced, err = plaza.Sync(ctx, repos, pl, now); err != nil {
				return err
			}
			res.Action = types.ExpiryFreed
			return nil
		}
		if !belongsTo(*occ, current) {
			if synced, err = plaza.Sync(ctx, repos, pl, now); err != nil {
				return err
			}
			res.Action = types.ExpiryDeactivated
			return nil
		}

		// A vehicle that entered after the end instant is converted at its
		// own entry so the closed occupancy never ends before it began.
		handover := endInstant
		if occ.EntryAt.After(handover) {
			handover = occ.EntryAt
		}
		if err := repos.Occupancies().Close(ctx, occ.ID, handover, nil); err != nil {
			return err
		}
		next := types.Occupancy{
			LotID:        occ.LotID,
			PlazaNumber:  occ.PlazaNumber,
			VehiclePlate: occ.VehiclePlate,
			EntryAt:      handover,
			Unit:         types.UnitHour,
			AgreedPrice:  decimal.Zero,
		}
		if err := repos.Occupancies().Create(ctx, &next); err != nil {
			return err
		}
		if synced, err = plaza.Sync(ctx, repos, pl, now); err != nil {
			return err
		}
		res.Action = types.ExpiryConverted
		res.NewOccupancyID = next.ID
		return nil
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to expire subscription",
			"subscription", sub.Number,
			"lot_id", sub.LotID,
			"plaza", sub.PlazaNumber,
			"error", err,
		)
		res.Action = types.ExpiryError
		res.Error = err.Error()
		res.NewOccupancyID = 0
		return res, err
	}

	if res.Action != types.ExpiryNoop {
		p.logger.InfoContext(ctx, "subscription expired",
			"subscription", sub.Number,
			"plaza", sub.PlazaNumber,
			"action", res.Action,
			"new_occupancy_id", res.NewOccupancyID,
		)
		p.publish(ctx, sub, res)
	}
	p.publishExpired(ctx, synced)
	return res, nil
}

// belongsTo reports whether occ is the subscriber's stay: linked to the
// subscription, or unlinked with the subscribed plate.
func belongsTo(occ types.Occupancy, sub types.Subscription) bool {
	if occ.SubscriptionNumber != nil {
		return *occ.SubscriptionNumber == sub.Number
	}
	return sub.VehiclePlate != "" && normalizePlate(occ.VehiclePlate) == normalizePlate(sub.VehiclePlate)
}

func normalizePlate(plate string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(plate), " ", ""))
}

func (p *Processor) publishExpired(ctx context.Context, synced plaza.SyncResult) {
	if p.publisher == nil {
		return
	}
	for _, evt := range synced.ExpiredEvents() {
		evt.ID = uuid.NewString()
		evt.OccurredAt = p.clock.Now()
		if err := p.publisher.Publish(ctx, evt); err != nil {
			p.logger.WarnContext(ctx, "failed to publish reservation event", "code", evt.ReservationCode, "error", err)
		}
	}
}

func (p *Processor) publish(ctx context.Context, sub types.Subscription, res types.ExpiryResult) {
	if p.publisher == nil {
		return
	}
	evt := types.ReservationEvent{
		ID:          uuid.NewString(),
		Type:        types.EventSubscriptionExpired,
		OccurredAt:  p.clock.Now(),
		LotID:       sub.LotID,
		PlazaNumber: sub.PlazaNumber,
		OccupancyID: res.NewOccupancyID,
		State:       string(res.Action),
	}
	if err := p.publisher.Publish(ctx, evt); err != nil {
		p.logger.WarnContext(ctx, "failed to publish subscription event", "subscription", sub.Number, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
