// Package reservation owns the reservation lifecycle: creation under a plaza
// lock, payment outcomes, arrival, cancellation and expiry. Every transition
// runs in one transaction and reconciles the plaza before commit.
//
// Rows are locked plaza first, then the reservation, matching the order used
// by checkout and subscription expiry.
package reservation

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"parking/internal/availability"
	"parking/internal/plaza"
	"parking/internal/types"
)

// maxCodeAttempts bounds retries when a generated code is already taken.
const maxCodeAttempts = 5

// CodeFunc generates a candidate reservation code for the lot-local day of now.
type CodeFunc func(now time.Time) string

// RandomCode returns RES-YYYYMMDD-NNNN with a random 4-digit suffix.
func RandomCode(now time.Time) string {
	return fmt.Sprintf("RES-%s-%04d", now.Format("20060102"), rand.IntN(10000))
}

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	Rules        availability.Rules
	GraceMinutes int
	Clock        types.Clock
	Publisher    types.EventPublisher
	Recorder     types.LifecycleRecorder
	Logger       *slog.Logger
	NewCode      CodeFunc
}

// Service implements the reservation lifecycle.
type Service struct {
	txm          types.TransactionManager
	repos        types.Repositories
	rules        availability.Rules
	graceMinutes int
	clock        types.Clock
	publisher    types.EventPublisher
	recorder     types.LifecycleRecorder
	logger       *slog.Logger
	newCode      CodeFunc
}

// NewService creates a reservation Service.
func NewService(txm types.TransactionManager, repos types.Repositories, opts Options) *Service {
	s := &Service{
		txm:          txm,
		repos:        repos,
		rules:        opts.Rules,
		graceMinutes: opts.GraceMinutes,
		clock:        opts.Clock,
		publisher:    opts.Publisher,
		recorder:     opts.Recorder,
		logger:       opts.Logger,
		newCode:      opts.NewCode,
	}
	if s.rules.Location == nil {
		s.rules.Location = time.UTC
	}
	if s.graceMinutes < 0 {
		s.graceMinutes = 0
	}
	if s.clock == nil {
		s.clock = types.RealClock{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.newCode == nil {
		s.newCode = RandomCode
	}
	return s
}

// Get returns the reservation detail view.
func (s *Service) Get(ctx context.Context, code string) (types.ReservationDetail, error) {
	if code == "" {
		return types.ReservationDetail{}, types.NewAppError(types.ErrCodeValidationMissingField, "reservation code is required", nil)
	}
	return s.repos.Reservations().GetDetail(ctx, code)
}

// lock reads the reservation, locks its plaza and then the reservation row.
func lock(ctx context.Context, repos types.Repositories, code string) (types.Reservation, types.Plaza, error) {
	r, err := repos.Reservations().Get(ctx, code)
	if err != nil {
		return types.Reservation{}, types.Plaza{}, err
	}
	p, err := repos.Plazas().GetForUpdate(ctx, types.PlazaKey{LotID: r.LotID, Number: r.PlazaNumber})
	if err != nil {
		return types.Reservation{}, types.Plaza{}, err
	}
	r, err = repos.Reservations().GetForUpdate(ctx, code)
	if err != nil {
		return types.Reservation{}, types.Plaza{}, err
	}
	return r, p, nil
}

func invalidTransition(r types.Reservation, action string) error {
	return types.NewAppErrorWithDetails(types.ErrCodeStateInvalidTransition,
		fmt.Sprintf("cannot %s reservation %s in state %s", action, r.Code, r.State), nil,
		map[string]any{"code": r.Code, "state": string(r.State)})
}

// publishSwept publishes reservation.expired for every reservation a plaza
// sync expired as a side effect of another transition.
func (s *Service) publishSwept(ctx context.Context, synced plaza.SyncResult) {
	for _, r := range synced.Swept {
		s.publish(ctx, types.EventReservationExpired, r, nil)
	}
}

func (s *Service) publish(ctx context.Context, evtType types.EventType, r types.Reservation, mutate func(*types.ReservationEvent)) {
	if s.recorder != nil {
		s.recorder.RecordTransition(evtType)
	}
	if s.publisher == nil {
		return
	}
	evt := types.ReservationEvent{
		ID:              uuid.NewString(),
		Type:            evtType,
		OccurredAt:      s.clock.Now(),
		LotID:           r.LotID,
		PlazaNumber:     r.PlazaNumber,
		ReservationCode: r.Code,
		State:           string(r.State),
	}
	if mutate != nil {
		mutate(&evt)
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.WarnContext(ctx, "failed to publish reservation event",
			"code", r.Code,
			"type", evtType,
			"error", err,
		)
		if s.recorder != nil {
			s.recorder.RecordPublishFailure(evtType)
		}
	}
}
