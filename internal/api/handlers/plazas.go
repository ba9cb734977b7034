package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"parking/internal/core"
	"parking/internal/plaza"
	"parking/internal/reservation"
	"parking/internal/types"
)

// PlazaReconciler recomputes plaza state from truth.
type PlazaReconciler interface {
	Reconcile(ctx context.Context, key types.PlazaKey) (types.Plaza, plaza.SyncResult, error)
	ReconcileLot(ctx context.Context, lotID int64) ([]plaza.SyncResult, error)
}

// SubscriptionExpirer converts lapsed subscriptions.
type SubscriptionExpirer interface {
	ProcessExpired(ctx context.Context, lotID int64) ([]types.ExpiryResult, error)
}

// ReservationExpirer forfeits overdue reservations.
type ReservationExpirer interface {
	ExpireOverdue(ctx context.Context, lotID int64) ([]reservation.ExpireResult, error)
}

// LotHandler serves plaza reads and the per-lot maintenance endpoints.
// Maintenance routes are wrapped with ops.
type LotHandler struct {
	plazas        PlazaReconciler
	subscriptions SubscriptionExpirer
	reservations  ReservationExpirer
	ops           Middleware
	logger        *slog.Logger
}

// NewLotHandler creates a LotHandler.
func NewLotHandler(p PlazaReconciler, s SubscriptionExpirer, res ReservationExpirer, ops Middleware, logger *slog.Logger) *LotHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LotHandler{plazas: p, subscriptions: s, reservations: res, ops: orPassthrough(ops), logger: logger}
}

// RegisterRoutes mounts the lot endpoints.
func (h *LotHandler) RegisterRoutes(r chi.Router) {
	r.Route("/lots/{lotID}", func(r chi.Router) {
		r.Get("/plazas/{number}", h.HandleGetPlaza)

		r.Group(func(r chi.Router) {
			r.Use(h.ops)
			r.Post("/plazas/reconcile", h.HandleReconcileLot)
			r.Post("/subscriptions/expire", h.HandleExpireSubscriptions)
			r.Post("/reservations/expire", h.HandleExpireReservations)
		})
	})
}

type plazaResponse struct {
	types.Plaza
	ExpiredReservations []string `json:"expired_reservations,omitempty"`
}

// HandleGetPlaza handles GET /v1/lots/{lotID}/plazas/{number}. Every read
// reconciles first, so the returned state is derived from the current truth.
func (h *LotHandler) HandleGetPlaza(w http.ResponseWriter, r *http.Request) {
	lotID, err := pathInt64(r, "lotID")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	number, err := pathInt(r, "number")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	p, res, err := h.plazas.Reconcile(r.Context(), types.PlazaKey{LotID: lotID, Number: number})
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, plazaResponse{Plaza: p, ExpiredReservations: res.ExpiredReservations})
}

type sweepResponse[T any] struct {
	LotID   int64 `json:"lot_id"`
	Results []T   `json:"results"`
	Failed  int   `json:"failed"`
}

// HandleReconcileLot handles POST /v1/lots/{lotID}/plazas/reconcile.
func (h *LotHandler) HandleReconcileLot(w http.ResponseWriter, r *http.Request) {
	lotID, err := pathInt64(r, "lotID")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	results, err := h.plazas.ReconcileLot(r.Context(), lotID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	failed := 0
	for _, res := range results {
		if res.Error != "" {
			failed++
		}
	}
	core.Data(w, r, http.StatusOK, sweepResponse[plaza.SyncResult]{LotID: lotID, Results: results, Failed: failed})
}

// HandleExpireSubscriptions handles POST /v1/lots/{lotID}/subscriptions/expire.
func (h *LotHandler) HandleExpireSubscriptions(w http.ResponseWriter, r *http.Request) {
	lotID, err := pathInt64(r, "lotID")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	results, err := h.subscriptions.ProcessExpired(r.Context(), lotID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	failed := 0
	for _, res := range results {
		if res.Action == types.ExpiryError {
			failed++
		}
	}
	core.Data(w, r, http.StatusOK, sweepResponse[types.ExpiryResult]{LotID: lotID, Results: results, Failed: failed})
}

// HandleExpireReservations handles POST /v1/lots/{lotID}/reservations/expire.
func (h *LotHandler) HandleExpireReservations(w http.ResponseWriter, r *http.Request) {
	lotID, err := pathInt64(r, "lotID")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	results, err := h.reservations.ExpireOverdue(r.Context(), lotID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	failed := 0
	for _, res := range results {
		if res.Error != "" {
			failed++
		}
	}
	core.Data(w, r, http.StatusOK, sweepResponse[reservation.ExpireResult]{LotID: lotID, Results: results, Failed: failed})
}
