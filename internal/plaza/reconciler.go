package plaza

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"parking/internal/types"
)

// Reconciler recomputes plaza state from truth. It is invoked on every plaza
// read by the API and lot-wide by the sweeper, so repeated calls converge and
// are safe to retry.
type Reconciler struct {
	txm       types.TransactionManager
	repos     types.Repositories
	clock     types.Clock
	loc       *time.Location
	publisher types.EventPublisher
	logger    *slog.Logger
}

// NewReconciler creates a Reconciler. loc is the lot timezone; publisher
// receives a reservation.expired event for each reservation a sync expires
// and may be nil.
func NewReconciler(txm types.TransactionManager, repos types.Repositories, clock types.Clock, loc *time.Location, publisher types.EventPublisher, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Reconciler{txm: txm, repos: repos, clock: clock, loc: loc, publisher: publisher, logger: logger}
}

// Reconcile locks the plaza, expires overdue reservations on it and writes
// the derived state. It returns the plaza as stored after reconciliation.
func (r *Reconciler) Reconcile(ctx context.Context, key types.PlazaKey) (types.Plaza, SyncResult, error) {
	var (
		out    types.Plaza
		result SyncResult
	)
	err := r.txm.RunInTx(ctx, func(ctx context.Context, repos types.Repositories) error {
		p, err := repos.Plazas().GetForUpdate(ctx, key)
		if err != nil {
			return err
		}
		result, err = Sync(ctx, repos, p, r.clock.Now().In(r.loc))
		if err != nil {
			return err
		}
		p.State = result.Current
		out = p
		return nil
	})
	if err != nil {
		return types.Plaza{}, SyncResult{}, err
	}

	if result.Changed || len(result.ExpiredReservations) > 0 {
		r.logger.InfoContext(ctx, "plaza reconciled",
			"lot_id", key.LotID,
			"plaza", key.Number,
			"previous_state", result.Previous,
			"state", result.Current,
			"expired_reservations", result.ExpiredReservations,
		)
	}
	r.publishExpired(ctx, result)
	return out, result, nil
}

func (r *Reconciler) publishExpired(ctx context.Context, result SyncResult) {
	if r.publisher == nil {
		return
	}
	for _, evt := range result.ExpiredEvents() {
		evt.ID = uuid.NewString()
		evt.OccurredAt = r.clock.Now()
		if err := r.publisher.Publish(ctx, evt); err != nil {
			r.logger.WarnContext(ctx, "failed to publish reservation event",
				"code", evt.ReservationCode,
				"type", evt.Type,
				"error", err,
			)
		}
	}
}

// ReconcileLot reconciles every plaza of the lot, each in its own
// transaction. A failing plaza is reported in its result and does not stop
// the sweep.
func (r *Reconciler) ReconcileLot(ctx context.Context, lotID int64) ([]SyncResult, error) {
	plazas, err := r.repos.Plazas().ListByLot(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("listing plazas for lot %d: %w", lotID, err)
	}

	results := make([]SyncResult, 0, len(plazas))
	failed := 0
	for _, p := range plazas {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		_, res, err := r.Reconcile(ctx, p.Key())
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to reconcile plaza",
				"lot_id", lotID,
				"plaza", p.Number,
				"error", err,
			)
			failed++
			results = append(results, SyncResult{
				LotID:       lotID,
				PlazaNumber: p.Number,
				Previous:    p.State,
				Current:     p.State,
				Error:       err.Error(),
			})
			continue
		}
		results = append(results, res)
	}

	r.logger.InfoContext(ctx, "lot reconciliation complete",
		"lot_id", lotID,
		"plazas", len(plazas),
		"failed", failed,
	)
	return results, nil
}
