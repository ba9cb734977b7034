package tariff

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"parking/internal/plaza"
	"parking/internal/types"
)

// Service exposes fee quotes and checkout.
type Service struct {
	txm       types.TransactionManager
	repos     types.Repositories
	clock     types.Clock
	loc       *time.Location
	publisher types.EventPublisher
	logger    *slog.Logger
}

// NewService creates a tariff Service. publisher may be nil.
func NewService(txm types.TransactionManager, repos types.Repositories, clock types.Clock, loc *time.Location, publisher types.EventPublisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{txm: txm, repos: repos, clock: clock, loc: loc, publisher: publisher, logger: logger}
}

// Quote prices an occupancy without closing it. An active occupancy is priced
// up to now; a closed one up to its exit.
func (s *Service) Quote(ctx context.Context, occupancyID int64) (types.FeeBreakdown, error) {
	occ, err := s.repos.Occupancies().Get(ctx, occupancyID)
	if err != nil {
		return types.FeeBreakdown{}, err
	}
	end := s.clock.Now()
	if occ.ExitAt != nil {
		end = *occ.ExitAt
	}
	return Calculate(ctx, s.repos, occ, end)
}

// Checkout closes an active occupancy at now, stores its fee and reconciles
// the plaza, all in one transaction.
func (s *Service) Checkout(ctx context.Context, occupancyID int64) (types.CheckoutResult, error) {
	now := s.clock.Now()
	var (
		result types.CheckoutResult
		synced plaza.SyncResult
	)

	err := s.txm.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		// Lock order is plaza, then the rows on it.
		occ, err := repos.Occupancies().Get(ctx, occupancyID)
		if err != nil {
			return err
		}
		p, err := repos.Plazas().GetForUpdate(ctx, types.PlazaKey{LotID: occ.LotID, Number: occ.PlazaNumber})
		if err != nil {
			return err
		}
		occ, err = repos.Occupancies().GetForUpdate(ctx, occupancyID)
		if err != nil {
			return err
		}
		if !occ.Active() {
			return types.NewAppError(types.ErrCodeStateOccupancyClosed,
				fmt.Sprintf("occupancy %d is already closed", occupancyID), nil)
		}

		fee, err := Calculate(ctx, repos, occ, now)
		if err != nil {
			return err
		}
		if err := repos.Occupancies().Close(ctx, occ.ID, now, &fee.Fee); err != nil {
			return err
		}
		if synced, err = plaza.Sync(ctx, repos, p, now.In(s.loc)); err != nil {
			return err
		}

		occ.ExitAt = &now
		occ.Fee = &fee.Fee
		result = types.CheckoutResult{Occupancy: occ, Fee: fee}
		return nil
	})
	if err != nil {
		return types.CheckoutResult{}, err
	}

	s.logger.InfoContext(ctx, "occupancy checked out",
		"occupancy_id", occupancyID,
		"plaza", result.Occupancy.PlazaNumber,
		"billed_units", result.Fee.BilledUnits,
		"fee", result.Fee.Fee.String(),
	)
	s.publish(ctx, types.ReservationEvent{
		Type:        types.EventOccupancyClosed,
		LotID:       result.Occupancy.LotID,
		PlazaNumber: result.Occupancy.PlazaNumber,
		OccupancyID: occupancyID,
		Fee:         &result.Fee,
	})
	for _, evt := range synced.ExpiredEvents() {
		s.publish(ctx, evt)
	}
	return result, nil
}

func (s *Service) publish(ctx context.Context, evt types.ReservationEvent) {
	if s.publisher == nil {
		return
	}
	evt.ID = uuid.NewString()
	evt.OccurredAt = s.clock.Now()
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.WarnContext(ctx, "failed to publish event", "type", evt.Type, "error", err)
	}
}
