package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"parking/internal/availability"
	"parking/internal/core"
	"parking/internal/types"
)

// AvailabilitySearcher is the availability service contract.
type AvailabilitySearcher interface {
	Search(ctx context.Context, req availability.SearchRequest) ([]types.AvailablePlaza, error)
}

// AvailabilityHandler serves plaza search.
type AvailabilityHandler struct {
	service AvailabilitySearcher
	logger  *slog.Logger
}

// NewAvailabilityHandler creates an AvailabilityHandler.
func NewAvailabilityHandler(svc AvailabilitySearcher, logger *slog.Logger) *AvailabilityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AvailabilityHandler{service: svc, logger: logger}
}

// RegisterRoutes mounts the search endpoint.
func (h *AvailabilityHandler) RegisterRoutes(r chi.Router) {
	r.Get("/lots/{lotID}/availability", h.HandleSearch)
}

type availabilityResponse struct {
	LotID         int64                  `json:"lot_id"`
	Start         time.Time              `json:"start"`
	DurationHours int                    `json:"duration_hours"`
	Plazas        []types.AvailablePlaza `json:"plazas"`
}

// HandleSearch handles GET /v1/lots/{lotID}/availability?start=RFC3339&duration=N.
func (h *AvailabilityHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	lotID, err := pathInt64(r, "lotID")
	if err != nil {
		core.Error(w, r, err)
		return
	}

	q := r.URL.Query()
	startStr := q.Get("start")
	if startStr == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "start query parameter is required", nil))
		return
	}
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidField, "start must be a valid RFC3339 timestamp", err))
		return
	}

	durStr := q.Get("duration")
	if durStr == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "duration query parameter is required", nil))
		return
	}
	duration, err := strconv.Atoi(durStr)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationDuration, "duration must be a whole number of hours", err))
		return
	}

	plazas, err := h.service.Search(r.Context(), availability.SearchRequest{
		LotID:         lotID,
		Start:         start,
		DurationHours: duration,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.Data(w, r, http.StatusOK, availabilityResponse{
		LotID:         lotID,
		Start:         start,
		DurationHours: duration,
		Plazas:        plazas,
	})
}
