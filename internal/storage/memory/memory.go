// Package memory is an in-process implementation of the ledger and the
// reservation/order stores. It carries the same compare-and-set semantics
// as the crdb adapter (per-ticket-class mutual exclusion, status CAS) and
// backs the unit tests as well as single-node development runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ticketrush/orderflow/internal/domain"
	"github.com/ticketrush/orderflow/internal/order"
)

type classCounter struct {
	mu       sync.Mutex
	capacity int
	sold     int
	reserved int
}

// Store implements inventory.Ledger, reservation.Store, order.Store and
// order.EventSink over process memory.
type Store struct {
	mu           sync.RWMutex
	counters     map[uuid.UUID]*classCounter
	reservations map[uuid.UUID]*domain.Reservation
	orders       map[uuid.UUID]*domain.Order
	events       []order.Event
}

func NewStore() *Store {
	return &Store{
		counters:     make(map[uuid.UUID]*classCounter),
		reservations: make(map[uuid.UUID]*domain.Reservation),
		orders:       make(map[uuid.UUID]*domain.Order),
	}
}

// WithTx provides no cross-operation atomicity; each operation is
// individually atomic, and the CAS-before-ledger discipline in the
// services keeps the counters consistent without one.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// CreateCounter seeds the inventory counter for a published ticket class.
func (s *Store) CreateCounter(ctx context.Context, tc domain.TicketClass) error {
	if tc.Capacity < 0 {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.counters[tc.ID]; ok {
		return domain.ErrInvalidInput
	}
	s.counters[tc.ID] = &classCounter{capacity: tc.Capacity}
	return nil
}

func (s *Store) counter(id uuid.UUID) (*classCounter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.counters[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

// Reserve is the atomic check-and-increment per ticket class.
func (s *Store) Reserve(ctx context.Context, ticketClassID uuid.UUID, quantity int) error {
	c, err := s.counter(ticketClassID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sold+c.reserved+quantity > c.capacity {
		return domain.ErrInsufficientInventory
	}
	c.reserved += quantity
	return nil
}

func (s *Store) Release(ctx context.Context, ticketClassID uuid.UUID, quantity int) error {
	c, err := s.counter(ticketClassID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reserved < quantity {
		return domain.ErrInvariantViolation
	}
	c.reserved -= quantity
	return nil
}

func (s *Store) Confirm(ctx context.Context, ticketClassID uuid.UUID, quantity int) error {
	c, err := s.counter(ticketClassID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reserved < quantity {
		return domain.ErrInvariantViolation
	}
	c.reserved -= quantity
	c.sold += quantity
	return nil
}

func (s *Store) Counter(ctx context.Context, ticketClassID uuid.UUID) (domain.InventoryCounter, error) {
	c, err := s.counter(ticketClassID)
	if err != nil {
		return domain.InventoryCounter{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.InventoryCounter{
		TicketClassID: ticketClassID,
		Capacity:      c.capacity,
		Sold:          c.sold,
		Reserved:      c.reserved,
	}, nil
}

func (s *Store) CreateReservation(ctx context.Context, r domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reservations[r.ID]; ok {
		return domain.ErrInvalidInput
	}
	cp := r
	s.reservations[r.ID] = &cp
	return nil
}

func (s *Store) GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return domain.Reservation{}, domain.ErrNotFound
	}
	return *r, nil
}

// TransitionReservation is the status CAS: it succeeds only while the
// reservation is still Active.
func (s *Store) TransitionReservation(ctx context.Context, id uuid.UUID, to domain.ReservationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Status.Terminal() {
		return domain.ErrAlreadyTerminal
	}
	r.Status = to
	return nil
}

func (s *Store) ExtendReservation(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Status.Terminal() {
		return domain.ErrAlreadyTerminal
	}
	r.ExpiresAt = expiresAt
	return nil
}

func (s *Store) ActiveReservationsForOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Reservation
	for _, r := range s.reservations {
		if r.OrderID == orderID && r.Status == domain.ReservationActive {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *Store) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Reservation
	for _, r := range s.reservations {
		if r.Status == domain.ReservationActive && !r.ExpiresAt.After(now) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateOrder(ctx context.Context, o domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return domain.ErrInvalidInput
	}
	cp := o
	cp.Lines = append([]domain.OrderLine(nil), o.Lines...)
	s.orders[o.ID] = &cp
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	cp := *o
	cp.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return cp, nil
}

func (s *Store) TransitionOrder(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status.Terminal() {
		return domain.ErrAlreadyTerminal
	}
	if o.Status != from {
		return domain.ErrInvalidInput
	}
	o.Status = to
	return nil
}

func (s *Store) CancelOrder(ctx context.Context, id uuid.UUID, reason domain.CancelReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status.Terminal() {
		return domain.ErrAlreadyTerminal
	}
	o.Status = domain.OrderCancelled
	o.CancelReason = reason
	return nil
}

func (s *Store) MarkOrderPaid(ctx context.Context, id uuid.UUID, paymentID string, paidAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status.Terminal() {
		return domain.ErrAlreadyTerminal
	}
	if o.Status != domain.OrderAwaitingPayment {
		return domain.ErrInvalidInput
	}
	o.Status = domain.OrderPaid
	o.PaymentID = paymentID
	at := paidAt
	o.PaidAt = &at
	return nil
}

// ExpireOrder moves an AwaitingPayment order to Expired unless it has
// been flagged for review; flagged orders stay put for an operator.
func (s *Store) ExpireOrder(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status.Terminal() {
		return domain.ErrAlreadyTerminal
	}
	if o.Status != domain.OrderAwaitingPayment || o.ReviewRequired {
		return domain.ErrInvalidInput
	}
	o.Status = domain.OrderExpired
	return nil
}

func (s *Store) FlagOrderForReview(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.ReviewRequired = true
	return nil
}

// Emit records lifecycle events for inspection.
func (s *Store) Emit(ctx context.Context, e order.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// Events returns a copy of everything emitted so far.
func (s *Store) Events() []order.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]order.Event(nil), s.events...)
}
