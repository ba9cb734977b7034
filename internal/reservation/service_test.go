package reservation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parking/internal/availability"
	"parking/internal/memstore"
	"parking/internal/types"
)

var (
	art = time.FixedZone("ART", -3*3600)
	// 10:00 local.
	now = time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)

	plaza5 = types.PlazaKey{LotID: 1, Number: 5}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []types.ReservationEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt types.ReservationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

func (p *recordingPublisher) eventTypes() []types.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type countingRecorder struct {
	mu          sync.Mutex
	transitions map[types.EventType]int
	failures    map[types.EventType]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{transitions: map[types.EventType]int{}, failures: map[types.EventType]int{}}
}

func (r *countingRecorder) RecordTransition(evt types.EventType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions[evt]++
}

func (r *countingRecorder) RecordPublishFailure(evt types.EventType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[evt]++
}

type fixture struct {
	store *memstore.Store
	pub   *recordingPublisher
	svc   *Service
	clock *mutableClock
}

type mutableClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *mutableClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	store := memstore.New()
	tpl := int64(1)
	store.PutLot(1, "Centro")
	store.PutPlaza(types.Plaza{LotID: 1, Number: 5, Zone: "A", Segment: types.SegmentCar, TemplateID: &tpl, State: types.PlazaFree})
	store.PutPlaza(types.Plaza{LotID: 1, Number: 6, Zone: "A", Segment: types.SegmentCar, State: types.PlazaFree})
	store.PutTariff(types.Tariff{TemplateID: 1, Type: types.TariffHourly, EffectiveFrom: now.AddDate(0, -1, 0), Price: decimal.NewFromInt(1200)})

	f := &fixture{store: store, pub: &recordingPublisher{}, clock: &mutableClock{t: now}}
	o := Options{
		Rules:        availability.Rules{Location: art, MaxDurationHours: 24, PaymentHoldTTL: 15 * time.Minute},
		GraceMinutes: 15,
		Clock:        f.clock,
		Publisher:    f.pub,
	}
	for _, fn := range opts {
		fn(&o)
	}
	f.svc = NewService(store, store, o)
	return f
}

func (f *fixture) plazaState(t *testing.T, key types.PlazaKey) types.PlazaState {
	t.Helper()
	p, err := f.store.Plazas().Get(context.Background(), key)
	require.NoError(t, err)
	return p.State
}

func (f *fixture) reservation(t *testing.T, code string) types.Reservation {
	t.Helper()
	r, err := f.store.Reservations().Get(context.Background(), code)
	require.NoError(t, err)
	return r
}

func (f *fixture) book(t *testing.T, start time.Time, hours int) types.Reservation {
	t.Helper()
	r, err := f.svc.Create(context.Background(), CreateRequest{
		LotID: 1, PlazaNumber: 5, VehiclePlate: "ab 123 cd", DriverID: "drv-1", Start: start, DurationHours: hours,
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) bookConfirmed(t *testing.T, start time.Time, hours int) types.Reservation {
	t.Helper()
	r := f.book(t, start, hours)
	_, err := f.svc.OnPaymentOutcome(context.Background(), r.Code, types.PaymentApproved, "pi_1")
	require.NoError(t, err)
	return f.reservation(t, r.Code)
}

// Scenario A.
func TestCreateAndApprove(t *testing.T) {
	f := newFixture(t)

	r := f.book(t, now, 2)
	assert.True(t, r.Amount.Equal(decimal.NewFromInt(2400)), "amount %s", r.Amount)
	assert.Equal(t, types.ReservationPendingPayment, r.State)
	assert.Regexp(t, `^RES-20260310-\d{4}$`, r.Code)
	assert.Equal(t, "AB123CD", r.VehiclePlate)
	assert.Equal(t, 15, r.GraceMinutes)
	assert.Equal(t, types.PlazaFree, f.plazaState(t, plaza5))

	res, err := f.svc.OnPaymentOutcome(context.Background(), r.Code, types.PaymentApproved, "pi_123")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, types.ReservationConfirmed, res.NewState)
	assert.Equal(t, types.PlazaReserved, f.plazaState(t, plaza5))
	assert.Equal(t, "pi_123", f.reservation(t, r.Code).PaymentRef)

	assert.Equal(t, []types.EventType{types.EventReservationCreated, types.EventReservationConfirmed}, f.pub.eventTypes())
	require.NotNil(t, f.pub.events[0].Amount)
	assert.True(t, f.pub.events[0].Amount.Equal(decimal.NewFromInt(2400)))
}

// Scenario D.
func TestCreate_ConcurrentSameWindowExactlyOneWins(t *testing.T) {
	f := newFixture(t)

	const callers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.Create(context.Background(), CreateRequest{
				LotID: 1, PlazaNumber: 5, VehiclePlate: fmt.Sprintf("AA%03d", i), DriverID: "drv", Start: now, DurationHours: 2,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case types.CodeOf(err) == types.ErrCodeConflictPlazaUnavailable:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, conflicts)
	assert.Equal(t, 1, f.store.ReservationCount())
}

func TestCreate_Rejections(t *testing.T) {
	tests := []struct {
		name     string
		req      CreateRequest
		wantCode types.ErrorCode
	}{
		{"no plate", CreateRequest{LotID: 1, PlazaNumber: 5, DriverID: "d", Start: now, DurationHours: 1}, types.ErrCodeValidationMissingField},
		{"no driver", CreateRequest{LotID: 1, PlazaNumber: 5, VehiclePlate: "X", Start: now, DurationHours: 1}, types.ErrCodeAuthIdentityMissing},
		{"duration", CreateRequest{LotID: 1, PlazaNumber: 5, VehiclePlate: "X", DriverID: "d", Start: now, DurationHours: 0}, types.ErrCodeValidationDuration},
		{"tomorrow", CreateRequest{LotID: 1, PlazaNumber: 5, VehiclePlate: "X", DriverID: "d", Start: now.Add(24 * time.Hour), DurationHours: 1}, types.ErrCodeValidationStartDay},
		{"unknown plaza", CreateRequest{LotID: 1, PlazaNumber: 50, VehiclePlate: "X", DriverID: "d", Start: now, DurationHours: 1}, types.ErrCodeNotFoundPlaza},
		{"template-less plaza", CreateRequest{LotID: 1, PlazaNumber: 6, VehiclePlate: "X", DriverID: "d", Start: now, DurationHours: 1}, types.ErrCodeConfigMissingTemplate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Create(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, types.CodeOf(err))
			assert.Zero(t, f.store.ReservationCount())
		})
	}
}

func TestCreate_ConflictsWithOccupancyAndMaintenance(t *testing.T) {
	f := newFixture(t)
	f.store.PutOccupancy(types.Occupancy{LotID: 1, PlazaNumber: 5, EntryAt: now.Add(-time.Hour), Unit: types.UnitHour})

	_, err := f.svc.Create(context.Background(), CreateRequest{LotID: 1, PlazaNumber: 5, VehiclePlate: "X", DriverID: "d", Start: now, DurationHours: 1})
	assert.Equal(t, types.ErrCodeConflictPlazaUnavailable, types.CodeOf(err))

	g := newFixture(t)
	tpl := int64(1)
	g.store.PutPlaza(types.Plaza{LotID: 1, Number: 5, Zone: "A", TemplateID: &tpl, State: types.PlazaMaintenance})
	_, err = g.svc.Create(context.Background(), CreateRequest{LotID: 1, PlazaNumber: 5, VehiclePlate: "X", DriverID: "d", Start: now, DurationHours: 1})
	assert.Equal(t, types.ErrCodeConflictPlazaUnavailable, types.CodeOf(err))
}

func TestCreate_LapsedHoldDoesNotBlock(t *testing.T) {
	f := newFixture(t)
	first := f.book(t, now.Add(time.Hour), 2)

	f.clock.Set(now.Add(20 * time.Minute))
	second := f.book(t, now.Add(time.Hour), 2)
	assert.NotEqual(t, first.Code, second.Code)

	// The late approval for the lapsed hold loses to the live one once that
	// is confirmed.
	_, err := f.svc.OnPaymentOutcome(context.Background(), second.Code, types.PaymentApproved, "pi_2")
	require.NoError(t, err)
	res, err := f.svc.OnPaymentOutcome(context.Background(), first.Code, types.PaymentApproved, "pi_1")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, types.ReservationCancelled, res.NewState)
}

func TestCreate_CodeCollisionRetries(t *testing.T) {
	codes := []string{"RES-20260310-0001", "RES-20260310-0001", "RES-20260310-0002"}
	i := 0
	f := newFixture(t, func(o *Options) {
		o.NewCode = func(time.Time) string {
			c := codes[i%len(codes)]
			i++
			return c
		}
	})
	f.store.PutReservation(types.Reservation{Code: "RES-20260310-0001", LotID: 2, PlazaNumber: 1, State: types.ReservationCancelled})

	r := f.book(t, now, 1)
	assert.Equal(t, "RES-20260310-0002", r.Code)
}

func TestCreate_CodeAllocationGivesUp(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.NewCode = func(time.Time) string { return "RES-20260310-0001" }
	})
	f.store.PutReservation(types.Reservation{Code: "RES-20260310-0001", LotID: 2, PlazaNumber: 1, State: types.ReservationCancelled})

	_, err := f.svc.Create(context.Background(), CreateRequest{LotID: 1, PlazaNumber: 5, VehiclePlate: "X", DriverID: "d", Start: now, DurationHours: 1})
	assert.Equal(t, types.ErrCodeConflictDuplicateCode, types.CodeOf(err))
}

func TestCreate_CodeUsesLotLocalDate(t *testing.T) {
	// 22:30 local on the 10th is already the 11th in UTC.
	late := time.Date(2026, 3, 11, 1, 30, 0, 0, time.UTC)
	f := newFixture(t)
	f.clock.Set(late)

	r := f.book(t, late, 1)
	assert.Regexp(t, `^RES-20260310-\d{4}$`, r.Code)
}

func TestCreate_PublishFailureDoesNotAbort(t *testing.T) {
	rec := newCountingRecorder()
	f := newFixture(t, func(o *Options) { o.Recorder = rec })
	f.pub.err = errors.New("queue down")

	r := f.book(t, now, 1)
	assert.Equal(t, types.ReservationPendingPayment, f.reservation(t, r.Code).State)
	assert.Equal(t, 1, rec.transitions[types.EventReservationCreated])
	assert.Equal(t, 1, rec.failures[types.EventReservationCreated])
}

func TestOnPaymentOutcome_Statuses(t *testing.T) {
	tests := []struct {
		name        string
		status      types.PaymentStatus
		wantState   types.ReservationState
		wantChanged bool
		wantPlaza   types.PlazaState
	}{
		{"approved", types.PaymentApproved, types.ReservationConfirmed, true, types.PlazaReserved},
		{"rejected", types.PaymentRejected, types.ReservationCancelled, true, types.PlazaFree},
		{"cancelled", types.PaymentCancelled, types.ReservationCancelled, true, types.PlazaFree},
		{"pending", types.PaymentPending, types.ReservationPendingPayment, false, types.PlazaFree},
		{"unknown", types.PaymentStatus("chargeback"), types.ReservationPendingPayment, false, types.PlazaFree},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			r := f.book(t, now, 1)

			res, err := f.svc.OnPaymentOutcome(context.Background(), r.Code, tt.status, "pi_x")
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, res.NewState)
			assert.Equal(t, tt.wantChanged, res.Changed)
			assert.Equal(t, tt.wantState, f.reservation(t, r.Code).State)
			assert.Equal(t, tt.wantPlaza, f.plazaState(t, plaza5))
		})
	}
}

func TestOnPaymentOutcome_Idempotent(t *testing.T) {
	f := newFixture(t)
	r := f.bookConfirmed(t, now, 1)

	res, err := f.svc.OnPaymentOutcome(context.Background(), r.Code, types.PaymentApproved, "pi_1")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, types.ReservationConfirmed, res.NewState)

	// A late failure notice must not undo a confirmed booking.
	res, err = f.svc.OnPaymentOutcome(context.Background(), r.Code, types.PaymentRejected, "pi_1")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, types.ReservationConfirmed, f.reservation(t, r.Code).State)
}

func TestOnPaymentOutcome_TerminalIgnored(t *testing.T) {
	f := newFixture(t)
	r := f.book(t, now, 1)
	_, err := f.svc.OnPaymentOutcome(context.Background(), r.Code, types.PaymentRejected, "")
	require.NoError(t, err)

	res, err := f.svc.OnPaymentOutcome(context.Background(), r.Code, types.PaymentApproved, "pi_late")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, types.ReservationCancelled, res.NewState)
	assert.Equal(t, types.PlazaFree, f.plazaState(t, plaza5))
}

func TestOnPaymentOutcome_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.OnPaymentOutcome(context.Background(), "RES-20260310-9999", types.PaymentApproved, "")
	assert.Equal(t, types.ErrCodeNotFoundReservation, types.CodeOf(err))
}

func TestOnPaymentOutcome_RollsBackOnPlazaWriteFailure(t *testing.T) {
	f := newFixture(t)
	r := f.book(t, now, 1)
	f.store.InjectFault("plazas.UpdateState", errors.New("timeout"))

	_, err := f.svc.OnPaymentOutcome(context.Background(), r.Code, types.PaymentApproved, "pi_1")
	require.Error(t, err)
	assert.Equal(t, types.ReservationPendingPayment, f.reservation(t, r.Code).State)
}

func TestConfirmArrival(t *testing.T) {
	f := newFixture(t)
	r := f.bookConfirmed(t, now.Add(time.Hour), 2)

	f.clock.Set(now.Add(90 * time.Minute))
	res, err := f.svc.ConfirmArrival(context.Background(), r.Code, 1)
	require.NoError(t, err)
	assert.Equal(t, types.ReservationCompleted, res.NewState)
	assert.Equal(t, r.Start, res.EntryAt)

	occs := f.store.OccupanciesFor(plaza5)
	require.Len(t, occs, 1)
	occ := occs[0]
	assert.Equal(t, res.OccupancyID, occ.ID)
	assert.True(t, occ.Active())
	assert.Equal(t, types.UnitHour, occ.Unit)
	assert.True(t, occ.AgreedPrice.Equal(decimal.NewFromInt(2400)))
	require.NotNil(t, occ.ReservationCode)
	assert.Equal(t, r.Code, *occ.ReservationCode)
	require.NotNil(t, occ.PaymentRef)
	assert.Equal(t, "pi_1", *occ.PaymentRef)
	assert.Equal(t, types.PlazaOccupied, f.plazaState(t, plaza5))
	assert.Equal(t, types.ReservationCompleted, f.reservation(t, r.Code).State)
}

func TestConfirmArrival_Window(t *testing.T) {
	start := now.Add(2 * time.Hour)
	end := start.Add(time.Hour)

	tests := []struct {
		name      string
		at        time.Time
		wantCode  types.ErrorCode
		wantState types.ReservationState
	}{
		{"too early", start.Add(-16 * time.Minute), types.ErrCodeStateTooEarly, types.ReservationConfirmed},
		{"early within grace", start.Add(-15 * time.Minute), "", types.ReservationCompleted},
		{"on time", start, "", types.ReservationCompleted},
		{"late within grace", end.Add(15 * time.Minute), "", types.ReservationCompleted},
		{"after grace", end.Add(16 * time.Minute), types.ErrCodeExpiredReservation, types.ReservationExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			r := f.bookConfirmed(t, start, 1)
			f.clock.Set(tt.at)

			_, err := f.svc.ConfirmArrival(context.Background(), r.Code, 1)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, types.CodeOf(err))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantState, f.reservation(t, r.Code).State)
		})
	}
}

func TestConfirmArrival_ExpiredFreesPlaza(t *testing.T) {
	f := newFixture(t)
	r := f.bookConfirmed(t, now, 1)
	require.Equal(t, types.PlazaReserved, f.plazaState(t, plaza5))

	f.clock.Set(r.End.Add(time.Hour))
	_, err := f.svc.ConfirmArrival(context.Background(), r.Code, 1)
	assert.Equal(t, types.ErrCodeExpiredReservation, types.CodeOf(err))
	assert.Equal(t, types.PlazaFree, f.plazaState(t, plaza5))
	assert.Empty(t, f.store.OccupanciesFor(plaza5))
	assert.Contains(t, f.pub.eventTypes(), types.EventReservationExpired)
}

func TestConfirmArrival_Errors(t *testing.T) {
	f := newFixture(t)
	pending := f.book(t, now, 1)

	_, err := f.svc.ConfirmArrival(context.Background(), "RES-20260310-9999", 1)
	assert.Equal(t, types.ErrCodeNotFoundReservation, types.CodeOf(err))

	_, err = f.svc.ConfirmArrival(context.Background(), pending.Code, 2)
	assert.Equal(t, types.ErrCodeNotFoundReservation, types.CodeOf(err))

	_, err = f.svc.ConfirmArrival(context.Background(), pending.Code, 1)
	assert.Equal(t, types.ErrCodeNotFoundReservation, types.CodeOf(err))
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, string(types.ReservationPendingPayment), appErr.Details["state"])
	assert.Equal(t, types.ReservationPendingPayment, f.reservation(t, pending.Code).State)
}

func TestConfirmArrival_PlazaAlreadyOccupied(t *testing.T) {
	f := newFixture(t)
	r := f.bookConfirmed(t, now, 1)
	f.store.PutOccupancy(types.Occupancy{LotID: 1, PlazaNumber: 5, EntryAt: now, Unit: types.UnitHour})

	_, err := f.svc.ConfirmArrival(context.Background(), r.Code, 1)
	assert.Equal(t, types.ErrCodeConflictPlazaOccupied, types.CodeOf(err))
	assert.Equal(t, types.ReservationConfirmed, f.reservation(t, r.Code).State)
}

func TestConfirmArrival_AtomicOnFailure(t *testing.T) {
	f := newFixture(t)
	r := f.bookConfirmed(t, now, 1)
	f.store.InjectFault("reservations.UpdateState", errors.New("timeout"))

	_, err := f.svc.ConfirmArrival(context.Background(), r.Code, 1)
	require.Error(t, err)

	f.store.InjectFault("reservations.UpdateState", nil)
	assert.Empty(t, f.store.OccupanciesFor(plaza5))
	assert.Equal(t, types.ReservationConfirmed, f.reservation(t, r.Code).State)
	assert.Equal(t, types.PlazaReserved, f.plazaState(t, plaza5))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	r := f.bookConfirmed(t, now, 1)

	_, err := f.svc.Cancel(context.Background(), r.Code, "drv-other")
	assert.Equal(t, types.ErrCodePermissionOwner, types.CodeOf(err))

	out, err := f.svc.Cancel(context.Background(), r.Code, "drv-1")
	require.NoError(t, err)
	assert.Equal(t, types.ReservationCancelled, out.State)
	assert.Equal(t, types.PlazaFree, f.plazaState(t, plaza5))

	_, err = f.svc.Cancel(context.Background(), r.Code, "drv-1")
	assert.Equal(t, types.ErrCodeStateInvalidTransition, types.CodeOf(err))
}

func fixedCode(code string) func(*Options) {
	return func(o *Options) {
		o.NewCode = func(time.Time) string { return code }
	}
}

func (p *recordingPublisher) codesOf(evtType types.EventType) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.Type == evtType {
			out = append(out, e.ReservationCode)
		}
	}
	return out
}

func TestExpireOverdue(t *testing.T) {
	f := newFixture(t, fixedCode("RES-20260310-9000"))
	confirmed := f.bookConfirmed(t, now, 1)
	// Sorts before the confirmed booking, so expiring it reconciles the
	// plaza and sweeps the confirmed reservation in the same transaction.
	f.store.PutReservation(types.Reservation{
		Code: "RES-20260310-0500", LotID: 1, PlazaNumber: 5, State: types.ReservationPendingPayment,
		Start: now.Add(3 * time.Hour), End: now.Add(4 * time.Hour), CreatedAt: now,
	})

	f.clock.Set(confirmed.End.Add(time.Hour))
	results, err := f.svc.ExpireOverdue(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "RES-20260310-0500", results[0].Code)
	assert.Equal(t, "RES-20260310-9000", results[1].Code)
	for _, res := range results {
		assert.True(t, res.Expired, res.Code)
		assert.Empty(t, res.Error)
		assert.Equal(t, types.ReservationExpired, f.reservation(t, res.Code).State)
	}
	assert.Equal(t, types.PlazaFree, f.plazaState(t, plaza5))
	assert.ElementsMatch(t, []string{"RES-20260310-0500", "RES-20260310-9000"}, f.pub.codesOf(types.EventReservationExpired))

	results, err = f.svc.ExpireOverdue(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Len(t, f.pub.codesOf(types.EventReservationExpired), 2)
}

func TestExpireOverdue_ConfirmedFirst(t *testing.T) {
	f := newFixture(t, fixedCode("RES-20260310-0100"))
	confirmed := f.bookConfirmed(t, now, 1)
	f.store.PutReservation(types.Reservation{
		Code: "RES-20260310-0500", LotID: 1, PlazaNumber: 5, State: types.ReservationPendingPayment,
		Start: now.Add(3 * time.Hour), End: now.Add(4 * time.Hour), CreatedAt: now,
	})

	f.clock.Set(confirmed.End.Add(time.Hour))
	results, err := f.svc.ExpireOverdue(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.True(t, res.Expired, res.Code)
	}
	assert.Equal(t, []string{"RES-20260310-0100", "RES-20260310-0500"}, f.pub.codesOf(types.EventReservationExpired))
}

func TestCreate_ReconcilesLapsedReservation(t *testing.T) {
	f := newFixture(t, fixedCode("RES-20260310-0001"))
	old := f.bookConfirmed(t, now, 1)
	require.Equal(t, types.PlazaReserved, f.plazaState(t, plaza5))

	// 11:30 local: the 10:00-11:00 booking's 15 minute grace has passed.
	later := now.Add(90 * time.Minute)
	f.clock.Set(later)
	f.svc.newCode = func(time.Time) string { return "RES-20260310-0002" }

	r, err := f.svc.Create(context.Background(), CreateRequest{
		LotID: 1, PlazaNumber: 5, VehiclePlate: "CD456EF", DriverID: "drv-2", Start: later, DurationHours: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, types.ReservationPendingPayment, r.State)
	assert.Equal(t, types.ReservationExpired, f.reservation(t, old.Code).State)
	assert.Equal(t, types.PlazaFree, f.plazaState(t, plaza5))
	assert.Equal(t, []string{old.Code}, f.pub.codesOf(types.EventReservationExpired))
}

func TestCreate_LiveReservationStillConflicts(t *testing.T) {
	f := newFixture(t, fixedCode("RES-20260310-0001"))
	old := f.bookConfirmed(t, now.Add(2*time.Hour), 1)

	_, err := f.svc.Create(context.Background(), CreateRequest{
		LotID: 1, PlazaNumber: 5, VehiclePlate: "CD456EF", DriverID: "drv-2", Start: now, DurationHours: 1,
	})
	assert.Equal(t, types.ErrCodeConflictPlazaUnavailable, types.CodeOf(err))
	assert.Equal(t, types.ReservationConfirmed, f.reservation(t, old.Code).State)
	assert.Empty(t, f.pub.codesOf(types.EventReservationExpired))
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	r := f.book(t, now, 1)

	d, err := f.svc.Get(context.Background(), r.Code)
	require.NoError(t, err)
	assert.Equal(t, r.Code, d.Code)
	assert.Equal(t, "Centro", d.LotName)
	assert.Equal(t, "A", d.Zone)
	assert.Equal(t, types.SegmentCar, d.Segment)
}
