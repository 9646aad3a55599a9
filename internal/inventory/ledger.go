// Package inventory defines the ledger contract: the single source of
// truth for per-ticket-class capacity. Implementations must make every
// operation an atomic check-and-update on one ticket class; this is the
// race the whole core exists to prevent.
package inventory

import (
	"context"

	"github.com/google/uuid"
	"github.com/ticketrush/orderflow/internal/domain"
)

// Ledger mutates InventoryCounter records. No operation ever touches more
// than one ticket class; cross-class atomicity is the order state
// machine's problem, not the ledger's.
type Ledger interface {
	// Reserve increments reserved by quantity iff
	// sold + reserved + quantity <= capacity, atomically. On failure it
	// returns domain.ErrInsufficientInventory and changes nothing.
	Reserve(ctx context.Context, ticketClassID uuid.UUID, quantity int) error

	// Release decrements reserved by quantity. Driving reserved negative
	// is a logic bug elsewhere and returns domain.ErrInvariantViolation.
	Release(ctx context.Context, ticketClassID uuid.UUID, quantity int) error

	// Confirm atomically moves quantity units from reserved to sold, with
	// the same underflow guard as Release.
	Confirm(ctx context.Context, ticketClassID uuid.UUID, quantity int) error

	// Counter reads the current counter for a ticket class.
	Counter(ctx context.Context, ticketClassID uuid.UUID) (domain.InventoryCounter, error)
}
