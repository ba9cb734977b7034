package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"parking/internal/core"
	"parking/internal/types"
)

// FeeService is the tariff service contract.
type FeeService interface {
	Quote(ctx context.Context, occupancyID int64) (types.FeeBreakdown, error)
	Checkout(ctx context.Context, occupancyID int64) (types.CheckoutResult, error)
}

// OccupancyHandler serves fee quotes and checkout.
type OccupancyHandler struct {
	service FeeService
	logger  *slog.Logger
}

// NewOccupancyHandler creates an OccupancyHandler.
func NewOccupancyHandler(svc FeeService, logger *slog.Logger) *OccupancyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OccupancyHandler{service: svc, logger: logger}
}

// RegisterRoutes mounts the occupancy endpoints.
func (h *OccupancyHandler) RegisterRoutes(r chi.Router) {
	r.Get("/occupancies/{id}/fee", h.HandleQuote)
	r.Post("/occupancies/{id}/checkout", h.HandleCheckout)
}

// HandleQuote handles GET /v1/occupancies/{id}/fee.
func (h *OccupancyHandler) HandleQuote(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	fee, err := h.service.Quote(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, fee)
}

// HandleCheckout handles POST /v1/occupancies/{id}/checkout.
func (h *OccupancyHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		core.Error(w, r, err)
		return
	}
	result, err := h.service.Checkout(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, result)
}
