package domain

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderAwaitingPayment OrderStatus = "AWAITING_PAYMENT"
	OrderPaid            OrderStatus = "PAID"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderExpired         OrderStatus = "EXPIRED"
)

func (s OrderStatus) Terminal() bool {
	return s == OrderPaid || s == OrderCancelled || s == OrderExpired
}

// CancelReason records why an order ended Cancelled.
type CancelReason string

const (
	ReasonInsufficientInventory CancelReason = "INSUFFICIENT_INVENTORY"
	ReasonPaymentDeclined       CancelReason = "PAYMENT_DECLINED"
	ReasonPaymentGatewayError   CancelReason = "PAYMENT_GATEWAY_ERROR"
	ReasonUserCancelled         CancelReason = "USER_CANCELLED"
	ReasonTransientConflict     CancelReason = "TRANSIENT_CONFLICT"
	ReasonInternalError         CancelReason = "INTERNAL_ERROR"
)

// OrderLine is one requested ticket class and quantity.
type OrderLine struct {
	TicketClassID uuid.UUID
	Quantity      int
	UnitPrice     float64
}

// Order drives one purchase attempt through its lifecycle. Orders reach a
// terminal status and are retained for audit, never physically removed.
type Order struct {
	ID             uuid.UUID
	BuyerID        uuid.UUID
	Lines          []OrderLine
	Status         OrderStatus
	CancelReason   CancelReason
	TotalAmount    float64
	PaymentID      string
	ReviewRequired bool
	CreatedAt      time.Time
	PaidAt         *time.Time
}

// NewOrder builds a Pending order with its total computed from the lines.
func NewOrder(buyerID uuid.UUID, lines []OrderLine, now time.Time) Order {
	var total float64
	for _, l := range lines {
		total += l.UnitPrice * float64(l.Quantity)
	}
	return Order{
		ID:          uuid.New(),
		BuyerID:     buyerID,
		Lines:       lines,
		Status:      OrderPending,
		TotalAmount: total,
		CreatedAt:   now,
	}
}
