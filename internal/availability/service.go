// Package availability answers which plazas of a lot are free for an entire
// window today, and owns the booking rules reservation creation re-checks
// under lock.
package availability

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"parking/internal/tariff"
	"parking/internal/types"
)

// SearchRequest is a validated-at-the-edge search query.
type SearchRequest struct {
	LotID         int64
	Start         time.Time
	DurationHours int
}

// Service runs availability searches. It never writes.
type Service struct {
	repos  types.Repositories
	rules  Rules
	clock  types.Clock
	logger *slog.Logger
}

// NewService creates an availability Service.
func NewService(repos types.Repositories, rules Rules, clock types.Clock, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	return &Service{repos: repos, rules: rules, clock: clock, logger: logger}
}

// Search returns every plaza in the lot free for the whole window, priced
// at its template's hourly tariff. Invalid input is rejected before any
// store access; no match is an empty slice.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]types.AvailablePlaza, error) {
	if req.LotID <= 0 {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "lot id is required", nil)
	}
	now := s.clock.Now()
	w, err := s.rules.NewWindow(req.Start, req.DurationHours, now)
	if err != nil {
		return nil, err
	}

	snap, err := s.load(ctx, req.LotID, w, now)
	if err != nil {
		return nil, err
	}

	result := Filter(Settle(snap, now), w)
	s.logger.DebugContext(ctx, "availability search",
		"lot_id", req.LotID,
		"start", w.Start,
		"duration_hours", req.DurationHours,
		"plazas", len(snap.Plazas),
		"available", len(result),
	)
	return result, nil
}

// load reads the lot's plazas, blocking and claiming reservations and active
// occupancies concurrently, then resolves hourly prices for the plazas found.
func (s *Service) load(ctx context.Context, lotID int64, w Window, now time.Time) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		plazas, err := s.repos.Plazas().ListByLot(gctx, lotID)
		if err != nil {
			return err
		}
		prices, err := tariff.NewCatalog(s.repos.Tariffs()).HourlyPrices(gctx, plazas, now)
		if err != nil {
			return err
		}
		snap.Plazas = plazas
		snap.HourlyPrices = prices
		return nil
	})
	g.Go(func() error {
		blocking, err := s.repos.Reservations().ListBlocking(gctx, lotID, nil, w.Start, w.End, s.rules.HoldSince(now))
		if err != nil {
			return err
		}
		snap.Blocking = blocking
		return nil
	})
	g.Go(func() error {
		claims, err := s.repos.Reservations().ListClaimingByLot(gctx, lotID)
		if err != nil {
			return err
		}
		snap.Claims = claims
		return nil
	})
	g.Go(func() error {
		occ, err := s.repos.Occupancies().ListActiveByLot(gctx, lotID)
		if err != nil {
			return err
		}
		snap.Occupancies = occ
		return nil
	})

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}
