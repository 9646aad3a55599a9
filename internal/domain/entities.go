package domain

import (
	"time"

	"github.com/google/uuid"
)

// TicketClass is a purchasable category within an event. Capacity is
// immutable once sales begin; the core never mutates catalog data.
type TicketClass struct {
	ID       uuid.UUID
	EventID  uuid.UUID
	Name     string
	Capacity int
	Price    float64
}

// InventoryCounter tracks sold and reserved units for one ticket class.
// Invariant: 0 <= Sold, 0 <= Reserved, Sold+Reserved <= Capacity.
type InventoryCounter struct {
	TicketClassID uuid.UUID
	Capacity      int
	Sold          int
	Reserved      int
}

// Available returns how many units can still be reserved.
func (c InventoryCounter) Available() int {
	return c.Capacity - c.Sold - c.Reserved
}

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "ACTIVE"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// Terminal reports whether the status is final. Every transition out of
// Active is final.
func (s ReservationStatus) Terminal() bool {
	return s != ReservationActive
}

// Reservation is a time-boxed hold on inventory, owned by an order. A
// reservation never outlives its order.
type Reservation struct {
	ID            uuid.UUID
	OrderID       uuid.UUID
	TicketClassID uuid.UUID
	Quantity      int
	Status        ReservationStatus
	CreatedAt     time.Time
	ExpiresAt     time.Time
}
