// Package payment wraps the external payment gateway. The shipped
// implementation is a mock; settlement is not this system's problem.
package payment

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	mrand "math/rand"
	"sync"

	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeApproved     Outcome = "APPROVED"
	OutcomeDeclined     Outcome = "DECLINED"
	OutcomeGatewayError Outcome = "GATEWAY_ERROR"
)

// Result is the gateway's answer to a charge attempt.
type Result struct {
	Outcome   Outcome
	PaymentID string
	Reason    string
}

// Gateway charges buyers. A non-nil error means the call itself failed
// and is treated as OutcomeGatewayError by callers.
type Gateway interface {
	Charge(ctx context.Context, orderID uuid.UUID, amount float64) (Result, error)
}

// MockGateway approves most charges and declines or errors a configured
// fraction of them, mirroring what a sandbox gateway does.
type MockGateway struct {
	mu          sync.Mutex
	rng         *mrand.Rand
	declineRate float64
	errorRate   float64
}

func NewMockGateway(declineRate, errorRate float64, seed int64) *MockGateway {
	return &MockGateway{
		rng:         mrand.New(mrand.NewSource(seed)),
		declineRate: declineRate,
		errorRate:   errorRate,
	}
}

func (g *MockGateway) Charge(ctx context.Context, orderID uuid.UUID, amount float64) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if amount < 0 {
		return Result{Outcome: OutcomeDeclined, Reason: "invalid amount"}, nil
	}

	g.mu.Lock()
	roll := g.rng.Float64()
	g.mu.Unlock()

	id := newPaymentID()
	switch {
	case roll < g.errorRate:
		return Result{Outcome: OutcomeGatewayError, Reason: "gateway unavailable"}, nil
	case roll < g.errorRate+g.declineRate:
		return Result{Outcome: OutcomeDeclined, PaymentID: id, Reason: "declined by issuer"}, nil
	default:
		return Result{Outcome: OutcomeApproved, PaymentID: id}, nil
	}
}

// newPaymentID mimics gateway-issued transaction identifiers.
func newPaymentID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "pay_" + uuid.New().String()[:16]
	}
	return "pay_" + hex.EncodeToString(b)
}
