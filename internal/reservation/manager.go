// Package reservation manages time-boxed holds against the inventory
// ledger on behalf of orders.
package reservation

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/ticketrush/orderflow/internal/clock"
	"github.com/ticketrush/orderflow/internal/domain"
	"github.com/ticketrush/orderflow/internal/inventory"
)

// Store persists reservations. Status transitions are compare-and-set on
// Active: the implementation returns domain.ErrAlreadyTerminal when the
// reservation has already left Active, domain.ErrNotFound when it does not
// exist.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateReservation(ctx context.Context, r domain.Reservation) error
	GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error)
	TransitionReservation(ctx context.Context, id uuid.UUID, to domain.ReservationStatus) error
	ExtendReservation(ctx context.Context, id uuid.UUID, expiresAt time.Time) error
	ActiveReservationsForOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Reservation, error)
	ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error)
}

// Manager creates, extends, confirms and expires holds. Exactly one of
// {Confirm, Release, Expire} takes effect per reservation; the losers of a
// race observe domain.ErrAlreadyTerminal and touch no inventory.
type Manager struct {
	store  Store
	ledger inventory.Ledger
	clock  clock.Clock
}

func NewManager(store Store, ledger inventory.Ledger, clk clock.Clock) *Manager {
	return &Manager{store: store, ledger: ledger, clock: clk}
}

// Hold reserves quantity units of a ticket class for orderID. On ledger
// failure nothing is created and domain.ErrInsufficientInventory is
// returned.
func (m *Manager) Hold(ctx context.Context, orderID, ticketClassID uuid.UUID, quantity int, ttl time.Duration) (domain.Reservation, error) {
	if quantity <= 0 {
		return domain.Reservation{}, domain.ErrInvalidInput
	}

	res := domain.NewReservation(orderID, ticketClassID, quantity, m.clock.Now(), ttl)
	err := m.store.WithTx(ctx, func(txCtx context.Context) error {
		if err := m.ledger.Reserve(txCtx, ticketClassID, quantity); err != nil {
			return err
		}
		return m.store.CreateReservation(txCtx, res)
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	return res, nil
}

// Extend pushes the expiry of an Active reservation to now + ttl.
func (m *Manager) Extend(ctx context.Context, id uuid.UUID, ttl time.Duration) error {
	return m.store.ExtendReservation(ctx, id, m.clock.Now().Add(ttl))
}

// Confirm converts a hold into a sale. A confirm that arrives after the
// expiry instant but before the sweeper processed the reservation still
// wins: the status compare-and-set is the single arbiter, so a later
// sweep finds the reservation terminal and backs off.
func (m *Manager) Confirm(ctx context.Context, id uuid.UUID) error {
	return m.finalize(ctx, id, domain.ReservationConfirmed)
}

// Release returns held units to the ledger. Idempotent: a second call
// observes domain.ErrAlreadyTerminal and does not double-release.
func (m *Manager) Release(ctx context.Context, id uuid.UUID) error {
	return m.finalize(ctx, id, domain.ReservationReleased)
}

// Expire is the sweeper-driven variant of Release; it records that the
// hold lapsed rather than being explicitly given up.
func (m *Manager) Expire(ctx context.Context, id uuid.UUID) error {
	return m.finalize(ctx, id, domain.ReservationExpired)
}

func (m *Manager) finalize(ctx context.Context, id uuid.UUID, to domain.ReservationStatus) error {
	return m.store.WithTx(ctx, func(txCtx context.Context) error {
		res, err := m.store.GetReservation(txCtx, id)
		if err != nil {
			return err
		}

		// The transition is the CAS: whoever moves the status out of
		// Active owns the single ledger action that follows.
		if err := m.store.TransitionReservation(txCtx, id, to); err != nil {
			return err
		}

		switch to {
		case domain.ReservationConfirmed:
			err = m.ledger.Confirm(txCtx, res.TicketClassID, res.Quantity)
		default:
			err = m.ledger.Release(txCtx, res.TicketClassID, res.Quantity)
		}
		if err != nil {
			return errors.Wrapf(err, "finalize reservation %s to %s", id, to)
		}
		return nil
	})
}
