package domain

import "errors"

var (
	// ErrInsufficientInventory is a business condition: the requested
	// quantity does not fit within the ticket class capacity.
	ErrInsufficientInventory = errors.New("insufficient inventory")

	// ErrAlreadyTerminal signals that a reservation or order has already
	// left its active state. It is an idempotency signal, not a failure.
	ErrAlreadyTerminal = errors.New("already terminal")

	// ErrInvariantViolation means a counter would go negative. Internal
	// defect; never silently corrected.
	ErrInvariantViolation = errors.New("inventory invariant violation")

	ErrPaymentDeclined     = errors.New("payment declined")
	ErrPaymentGatewayError = errors.New("payment gateway error")

	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
)
