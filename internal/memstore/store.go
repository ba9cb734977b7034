// Package memstore is an in-memory implementation of the repository and
// transaction interfaces. It backs service tests and the local demo mode of
// parkctl. Transactions are fully serialized and roll back on error.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"parking/internal/types"
)

type data struct {
	plazas        map[types.PlazaKey]types.Plaza
	reservations  map[string]types.Reservation
	occupancies   map[int64]types.Occupancy
	subscriptions map[int64]types.Subscription
	tariffs       []types.Tariff
	lotNames      map[int64]string
	nextOccID     int64
}

func (d *data) clone() *data {
	return &data{
		plazas:        maps.Clone(d.plazas),
		reservations:  maps.Clone(d.reservations),
		occupancies:   maps.Clone(d.occupancies),
		subscriptions: maps.Clone(d.subscriptions),
		tariffs:       append([]types.Tariff(nil), d.tariffs...),
		lotNames:      maps.Clone(d.lotNames),
		nextOccID:     d.nextOccID,
	}
}

// Store holds every table in memory.
type Store struct {
	txMu sync.Mutex // serializes RunInTx

	mu     sync.RWMutex
	d      *data
	faults map[string]error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		d: &data{
			plazas:        make(map[types.PlazaKey]types.Plaza),
			reservations:  make(map[string]types.Reservation),
			occupancies:   make(map[int64]types.Occupancy),
			subscriptions: make(map[int64]types.Subscription),
			lotNames:      make(map[int64]string),
			nextOccID:     1,
		},
		faults: make(map[string]error),
	}
}

// InjectFault makes the named operation (e.g. "plazas.UpdateState") fail
// with err until cleared with a nil err.
func (s *Store) InjectFault(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

func (s *Store) fault(op string) error {
	if err, ok := s.faults[op]; ok {
		return types.NewAppError(types.ErrCodeInternalDB, "injected failure in "+op, err)
	}
	return nil
}

// RunInTx executes fn with exclusive access to the store. Any error returned
// by fn restores the state observed when the transaction began.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, repos types.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	snapshot := s.d.clone()
	s.mu.RUnlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.d = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// Plazas returns the plaza repository.
func (s *Store) Plazas() types.PlazaRepository { return plazaRepo{s} }

// Reservations returns the reservation repository.
func (s *Store) Reservations() types.ReservationRepository { return reservationRepo{s} }

// Occupancies returns the occupancy repository.
func (s *Store) Occupancies() types.OccupancyRepository { return occupancyRepo{s} }

// Subscriptions returns the subscription repository.
func (s *Store) Subscriptions() types.SubscriptionRepository { return subscriptionRepo{s} }

// Tariffs returns the tariff repository.
func (s *Store) Tariffs() types.TariffRepository { return tariffRepo{s} }

// Seeding helpers.

// PutLot names a lot for the reservation detail view.
func (s *Store) PutLot(lotID int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.lotNames[lotID] = name
}

// PutPlaza inserts or replaces a plaza.
func (s *Store) PutPlaza(p types.Plaza) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.plazas[p.Key()] = p
}

// PutTariff appends a tariff row.
func (s *Store) PutTariff(t types.Tariff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.tariffs = append(s.d.tariffs, t)
}

// PutReservation inserts or replaces a reservation.
func (s *Store) PutReservation(r types.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.reservations[r.Code] = r
}

// PutOccupancy inserts an occupancy, assigning an id when zero.
func (s *Store) PutOccupancy(o types.Occupancy) types.Occupancy {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == 0 {
		o.ID = s.d.nextOccID
		s.d.nextOccID++
	} else if o.ID >= s.d.nextOccID {
		s.d.nextOccID = o.ID + 1
	}
	s.d.occupancies[o.ID] = o
	return o
}

// PutSubscription inserts or replaces a subscription.
func (s *Store) PutSubscription(sub types.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.subscriptions[sub.Number] = sub
}

// OccupanciesFor returns a snapshot of every occupancy on the plaza, ordered by id.
func (s *Store) OccupanciesFor(key types.PlazaKey) []types.Occupancy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Occupancy
	for _, o := range s.d.occupancies {
		if o.LotID == key.LotID && o.PlazaNumber == key.Number {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReservationCount returns the number of stored reservations.
func (s *Store) ReservationCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.d.reservations)
}

// plazas

type plazaRepo struct{ s *Store }

func (r plazaRepo) Get(_ context.Context, key types.PlazaKey) (types.Plaza, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.fault("plazas.Get"); err != nil {
		return types.Plaza{}, err
	}
	p, ok := r.s.d.plazas[key]
	if !ok {
		return types.Plaza{}, plazaNotFound(key)
	}
	return p, nil
}

func (r plazaRepo) GetForUpdate(ctx context.Context, key types.PlazaKey) (types.Plaza, error) {
	return r.Get(ctx, key)
}

func (r plazaRepo) ListByLot(_ context.Context, lotID int64) ([]types.Plaza, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.fault("plazas.ListByLot"); err != nil {
		return nil, err
	}
	var out []types.Plaza
	for _, p := range r.s.d.plazas {
		if p.LotID == lotID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (r plazaRepo) UpdateState(_ context.Context, key types.PlazaKey, state types.PlazaState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("plazas.UpdateState"); err != nil {
		return err
	}
	p, ok := r.s.d.plazas[key]
	if !ok {
		return plazaNotFound(key)
	}
	p.State = state
	r.s.d.plazas[key] = p
	return nil
}

func plazaNotFound(key types.PlazaKey) error {
	return types.NewAppError(types.ErrCodeNotFoundPlaza,
		fmt.Sprintf("plaza %d not found in lot %d", key.Number, key.LotID), nil)
}

// reservas

type reservationRepo struct{ s *Store }

func (r reservationRepo) Create(_ context.Context, res *types.Reservation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("reservations.Create"); err != nil {
		return err
	}
	if _, exists := r.s.d.reservations[res.Code]; exists {
		return types.NewAppError(types.ErrCodeConflictDuplicateCode, "reservation code already exists", nil)
	}
	r.s.d.reservations[res.Code] = *res
	return nil
}

func (r reservationRepo) Get(_ context.Context, code string) (types.Reservation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	res, ok := r.s.d.reservations[code]
	if !ok {
		return types.Reservation{}, reservationNotFound(code)
	}
	return res, nil
}

func (r reservationRepo) GetForUpdate(ctx context.Context, code string) (types.Reservation, error) {
	return r.Get(ctx, code)
}

func (r reservationRepo) GetDetail(ctx context.Context, code string) (types.ReservationDetail, error) {
	res, err := r.Get(ctx, code)
	if err != nil {
		return types.ReservationDetail{}, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p := r.s.d.plazas[types.PlazaKey{LotID: res.LotID, Number: res.PlazaNumber}]
	return types.ReservationDetail{
		Reservation: res,
		LotName:     r.s.d.lotNames[res.LotID],
		Zone:        p.Zone,
		Segment:     p.Segment,
	}, nil
}

func (r reservationRepo) Exists(_ context.Context, code string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	_, ok := r.s.d.reservations[code]
	return ok, nil
}

func (r reservationRepo) UpdateState(_ context.Context, code string, from, to types.ReservationState, paymentRef string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("reservations.UpdateState"); err != nil {
		return err
	}
	res, ok := r.s.d.reservations[code]
	if !ok {
		return reservationNotFound(code)
	}
	if res.State != from {
		return types.NewAppError(types.ErrCodeConflictConcurrent,
			fmt.Sprintf("reservation %s is %s, expected %s", code, res.State, from), nil)
	}
	res.State = to
	if paymentRef != "" {
		res.PaymentRef = paymentRef
	}
	res.UpdatedAt = time.Now().UTC()
	r.s.d.reservations[code] = res
	return nil
}

func (r reservationRepo) ListBlocking(_ context.Context, lotID int64, plazaNumber *int, start, end, holdSince time.Time) ([]types.Reservation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.fault("reservations.ListBlocking"); err != nil {
		return nil, err
	}
	var out []types.Reservation
	for _, res := range r.s.d.reservations {
		if res.LotID != lotID || (plazaNumber != nil && res.PlazaNumber != *plazaNumber) {
			continue
		}
		if !res.Overlaps(start, end) {
			continue
		}
		live := res.State.ClaimsPlaza() ||
			(res.State == types.ReservationPendingPayment && !res.CreatedAt.Before(holdSince))
		if live {
			out = append(out, res)
		}
	}
	sortReservations(out)
	return out, nil
}

func (r reservationRepo) ListClaiming(_ context.Context, key types.PlazaKey) ([]types.Reservation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []types.Reservation
	for _, res := range r.s.d.reservations {
		if res.LotID == key.LotID && res.PlazaNumber == key.Number && res.State.ClaimsPlaza() {
			out = append(out, res)
		}
	}
	sortReservations(out)
	return out, nil
}

func (r reservationRepo) ListClaimingByLot(_ context.Context, lotID int64) ([]types.Reservation, error) {
	if err := r.s.fault("reservations.ListClaimingByLot"); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []types.Reservation
	for _, res := range r.s.d.reservations {
		if res.LotID == lotID && res.State.ClaimsPlaza() {
			out = append(out, res)
		}
	}
	sortReservations(out)
	return out, nil
}

func (r reservationRepo) ListOverdue(_ context.Context, lotID int64, now, holdSince time.Time) ([]types.Reservation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []types.Reservation
	for _, res := range r.s.d.reservations {
		if res.LotID != lotID {
			continue
		}
		switch {
		case res.State == types.ReservationConfirmed && now.After(res.ArrivalDeadline()):
			out = append(out, res)
		case res.State == types.ReservationPendingPayment && res.CreatedAt.Before(holdSince):
			out = append(out, res)
		}
	}
	sortReservations(out)
	return out, nil
}

func sortReservations(rs []types.Reservation) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Code < rs[j].Code })
}

func reservationNotFound(code string) error {
	return types.NewAppError(types.ErrCodeNotFoundReservation, "reservation "+code+" not found", nil)
}

// ocupacion

type occupancyRepo struct{ s *Store }

func (r occupancyRepo) Create(_ context.Context, o *types.Occupancy) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("occupancies.Create"); err != nil {
		return err
	}
	o.ID = r.s.d.nextOccID
	r.s.d.nextOccID++
	r.s.d.occupancies[o.ID] = *o
	return nil
}

func (r occupancyRepo) Get(_ context.Context, id int64) (types.Occupancy, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.d.occupancies[id]
	if !ok {
		return types.Occupancy{}, types.NewAppError(types.ErrCodeNotFoundOccupancy,
			fmt.Sprintf("occupancy %d not found", id), nil)
	}
	return o, nil
}

func (r occupancyRepo) GetForUpdate(ctx context.Context, id int64) (types.Occupancy, error) {
	return r.Get(ctx, id)
}

func (r occupancyRepo) ActiveForPlaza(_ context.Context, key types.PlazaKey) (*types.Occupancy, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.fault("occupancies.ActiveForPlaza"); err != nil {
		return nil, err
	}
	for _, o := range r.s.d.occupancies {
		if o.LotID == key.LotID && o.PlazaNumber == key.Number && o.Active() {
			found := o
			return &found, nil
		}
	}
	return nil, nil
}

func (r occupancyRepo) ListActiveByLot(_ context.Context, lotID int64) ([]types.Occupancy, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []types.Occupancy
	for _, o := range r.s.d.occupancies {
		if o.LotID == lotID && o.Active() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r occupancyRepo) Close(_ context.Context, id int64, exitAt time.Time, fee *decimal.Decimal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("occupancies.Close"); err != nil {
		return err
	}
	o, ok := r.s.d.occupancies[id]
	if !ok || !o.Active() {
		return types.NewAppError(types.ErrCodeStateOccupancyClosed,
			fmt.Sprintf("occupancy %d is not active", id), nil)
	}
	o.ExitAt = &exitAt
	o.Fee = fee
	r.s.d.occupancies[id] = o
	return nil
}

// abonos

type subscriptionRepo struct{ s *Store }

func (r subscriptionRepo) ListExpired(_ context.Context, lotID int64, asOf time.Time) ([]types.Subscription, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.fault("subscriptions.ListExpired"); err != nil {
		return nil, err
	}
	asOf = types.CalendarDate(asOf)
	var out []types.Subscription
	for _, sub := range r.s.d.subscriptions {
		if sub.LotID == lotID && sub.State == types.SubscriptionActive && !types.CalendarDate(sub.EndDate).After(asOf) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (r subscriptionRepo) GetForUpdate(_ context.Context, number int64) (types.Subscription, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sub, ok := r.s.d.subscriptions[number]
	if !ok {
		return types.Subscription{}, types.NewAppError(types.ErrCodeNotFoundSubscription,
			fmt.Sprintf("subscription %d not found", number), nil)
	}
	return sub, nil
}

func (r subscriptionRepo) Deactivate(_ context.Context, number int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fault("subscriptions.Deactivate"); err != nil {
		return err
	}
	sub, ok := r.s.d.subscriptions[number]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundSubscription,
			fmt.Sprintf("subscription %d not found", number), nil)
	}
	sub.State = types.SubscriptionInactive
	r.s.d.subscriptions[number] = sub
	return nil
}

func (r subscriptionRepo) ActiveForPlaza(_ context.Context, key types.PlazaKey, asOf time.Time) (*types.Subscription, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	asOf = types.CalendarDate(asOf)
	for _, sub := range r.s.d.subscriptions {
		if sub.LotID == key.LotID && sub.PlazaNumber == key.Number &&
			sub.State == types.SubscriptionActive && types.CalendarDate(sub.EndDate).After(asOf) {
			found := sub
			return &found, nil
		}
	}
	return nil, nil
}

// tarifas

type tariffRepo struct{ s *Store }

func (r tariffRepo) Latest(_ context.Context, templateID int64, typ types.TariffType, at time.Time) (types.Tariff, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if t, ok := r.latestLocked(templateID, typ, at); ok {
		return t, nil
	}
	return types.Tariff{}, types.NewAppError(types.ErrCodeNotFoundTariff,
		fmt.Sprintf("no %s tariff for template %d", typ, templateID), nil)
}

func (r tariffRepo) LatestByTemplate(_ context.Context, templateIDs []int64, typ types.TariffType, at time.Time) (map[int64]types.Tariff, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	if err := r.s.fault("tariffs.LatestByTemplate"); err != nil {
		return nil, err
	}
	out := make(map[int64]types.Tariff, len(templateIDs))
	for _, id := range templateIDs {
		if t, ok := r.latestLocked(id, typ, at); ok {
			out[id] = t
		}
	}
	return out, nil
}

func (r tariffRepo) latestLocked(templateID int64, typ types.TariffType, at time.Time) (types.Tariff, bool) {
	var best types.Tariff
	found := false
	for _, t := range r.s.d.tariffs {
		if t.TemplateID != templateID || t.Type != typ || t.EffectiveFrom.After(at) {
			continue
		}
		if !found || t.EffectiveFrom.After(best.EffectiveFrom) {
			best = t
			found = true
		}
	}
	return best, found
}
