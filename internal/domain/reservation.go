package domain

import (
	"time"

	"github.com/google/uuid"
)

// NewReservation builds an Active hold expiring after ttl.
func NewReservation(orderID, ticketClassID uuid.UUID, quantity int, now time.Time, ttl time.Duration) Reservation {
	return Reservation{
		ID:            uuid.New(),
		OrderID:       orderID,
		TicketClassID: ticketClassID,
		Quantity:      quantity,
		Status:        ReservationActive,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}
}
