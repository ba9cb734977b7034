package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"parking/internal/core"
	"parking/internal/reservation"
	"parking/internal/types"
)

// ReservationService is the reservation lifecycle contract.
type ReservationService interface {
	Create(ctx context.Context, req reservation.CreateRequest) (types.Reservation, error)
	Get(ctx context.Context, code string) (types.ReservationDetail, error)
	ConfirmArrival(ctx context.Context, code string, lotID int64) (types.ArrivalResult, error)
	Cancel(ctx context.Context, code, driverID string) (types.Reservation, error)
	OnPaymentOutcome(ctx context.Context, code string, status types.PaymentStatus, paymentRef string) (types.PaymentOutcomeResult, error)
}

// PaymentMetrics counts processed payment callbacks. Optional.
type PaymentMetrics interface {
	RecordPaymentOutcome(status types.PaymentStatus, changed bool)
}

// ReservationHandler serves the reservation lifecycle endpoints.
type ReservationHandler struct {
	service   ReservationService
	validator *core.Validator
	ops       Middleware
	metrics   PaymentMetrics
	logger    *slog.Logger
}

// NewReservationHandler creates a ReservationHandler. ops guards the direct
// payment-outcome endpoint; metrics may be nil.
func NewReservationHandler(svc ReservationService, v *core.Validator, ops Middleware, metrics PaymentMetrics, logger *slog.Logger) *ReservationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReservationHandler{
		service:   svc,
		validator: v,
		ops:       orPassthrough(ops),
		metrics:   metrics,
		logger:    logger,
	}
}

// RegisterRoutes mounts the reservation endpoints.
func (h *ReservationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/reservations", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/{code}", h.HandleGet)
		r.Post("/{code}/confirm-arrival", h.HandleConfirmArrival)
		r.Post("/{code}/cancel", h.HandleCancel)
		r.With(h.ops).Post("/{code}/payment-outcome", h.HandlePaymentOutcome)
	})
}

type createReservationRequest struct {
	LotID         int64     `json:"lot_id" validate:"required,gt=0"`
	PlazaNumber   int       `json:"plaza_number" validate:"required,gt=0"`
	VehiclePlate  string    `json:"vehicle_plate" validate:"required,plate"`
	Start         time.Time `json:"start" validate:"required"`
	DurationHours int       `json:"duration_hours" validate:"required"`
}

type createReservationResponse struct {
	Code        string                 `json:"code"`
	Amount      decimal.Decimal        `json:"amount"`
	State       types.ReservationState `json:"state"`
	LotID       int64                  `json:"lot_id"`
	PlazaNumber int                    `json:"plaza_number"`
	Start       time.Time              `json:"start"`
	End         time.Time              `json:"end"`
}

// HandleCreate handles POST /v1/reservations. The driver is the gateway
// identity, never a body field.
func (h *ReservationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actor, err := driverActor(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req createReservationRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.service.Create(r.Context(), reservation.CreateRequest{
		LotID:         req.LotID,
		PlazaNumber:   req.PlazaNumber,
		VehiclePlate:  req.VehiclePlate,
		DriverID:      actor.ID,
		Start:         req.Start,
		DurationHours: req.DurationHours,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/reservations/"+res.Code)
	core.Data(w, r, http.StatusCreated, createReservationResponse{
		Code:        res.Code,
		Amount:      res.Amount,
		State:       res.State,
		LotID:       res.LotID,
		PlazaNumber: res.PlazaNumber,
		Start:       res.Start,
		End:         res.End,
	})
}

// HandleGet handles GET /v1/reservations/{code}. A driver may only read
// their own reservations; owners and operators read any.
func (h *ReservationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	code, err := pathCode(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthIdentityMissing, "caller identity is required", nil))
		return
	}

	detail, err := h.service.Get(r.Context(), code)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if actor.Type == types.ActorTypeDriver && detail.DriverID != actor.ID {
		core.Error(w, r, types.NewAppError(types.ErrCodePermissionOwner, "reservation belongs to another driver", nil))
		return
	}

	core.Data(w, r, http.StatusOK, detail)
}

type confirmArrivalRequest struct {
	LotID int64 `json:"lot_id" validate:"required,gt=0"`
}

// HandleConfirmArrival handles POST /v1/reservations/{code}/confirm-arrival.
func (h *ReservationHandler) HandleConfirmArrival(w http.ResponseWriter, r *http.Request) {
	code, err := pathCode(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req confirmArrivalRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	result, err := h.service.ConfirmArrival(r.Context(), code, req.LotID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, result)
}

// HandleCancel handles POST /v1/reservations/{code}/cancel by the owning driver.
func (h *ReservationHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	code, err := pathCode(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	actor, err := driverActor(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	res, err := h.service.Cancel(r.Context(), code, actor.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.Data(w, r, http.StatusOK, res)
}

type paymentOutcomeRequest struct {
	Status     string `json:"status" validate:"required,payment_status"`
	PaymentRef string `json:"payment_ref" validate:"max=128"`
}

// HandlePaymentOutcome handles POST /v1/reservations/{code}/payment-outcome,
// the operator path for payment callbacks that did not come through a
// provider webhook.
func (h *ReservationHandler) HandlePaymentOutcome(w http.ResponseWriter, r *http.Request) {
	code, err := pathCode(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req paymentOutcomeRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	status := types.PaymentStatus(req.Status)
	result, err := h.service.OnPaymentOutcome(r.Context(), code, status, req.PaymentRef)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordPaymentOutcome(status, result.Changed)
	}
	core.Data(w, r, http.StatusOK, result)
}
