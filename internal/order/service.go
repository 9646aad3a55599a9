// Package order drives an order through its lifecycle, coordinating the
// reservation manager and the payment gateway.
package order

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/ticketrush/orderflow/internal/clock"
	"github.com/ticketrush/orderflow/internal/domain"
	"github.com/ticketrush/orderflow/internal/observability"
	"github.com/ticketrush/orderflow/internal/payment"
	"github.com/ticketrush/orderflow/internal/reservation"
)

// Store persists orders. Status transitions are compare-and-set: the
// implementation returns domain.ErrAlreadyTerminal when the order has
// already reached a terminal status.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateOrder(ctx context.Context, o domain.Order) error
	GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error)
	TransitionOrder(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus) error
	CancelOrder(ctx context.Context, id uuid.UUID, reason domain.CancelReason) error
	MarkOrderPaid(ctx context.Context, id uuid.UUID, paymentID string, paidAt time.Time) error
	ExpireOrder(ctx context.Context, id uuid.UUID) error
	FlagOrderForReview(ctx context.Context, id uuid.UUID) error
}

// EventSink receives lifecycle events after Paid/Cancelled/Expired
// transitions. Delivery is fire-and-forget with respect to the order: a
// sink failure is logged, never rolled back into the transition.
type EventSink interface {
	Emit(ctx context.Context, event Event) error
}

// Event is a lifecycle notification destined for the outside world.
type Event struct {
	Type    string
	OrderID uuid.UUID
	BuyerID uuid.UUID
	Reason  domain.CancelReason
	Amount  float64
}

const (
	EventOrderPaid      = "order.paid"
	EventOrderCancelled = "order.cancelled"
	EventOrderExpired   = "order.expired"
)

// Service is the order state machine.
type Service struct {
	store    Store
	resStore reservation.Store
	holds    *reservation.Manager
	gateway  payment.Gateway
	sink     EventSink
	clock    clock.Clock
	holdTTL  time.Duration
	log      observability.Logger
}

func NewService(store Store, resStore reservation.Store, holds *reservation.Manager, gateway payment.Gateway, sink EventSink, clk clock.Clock, holdTTL time.Duration, log observability.Logger) *Service {
	return &Service{
		store:    store,
		resStore: resStore,
		holds:    holds,
		gateway:  gateway,
		sink:     sink,
		clock:    clk,
		holdTTL:  holdTTL,
		log:      log,
	}
}

// PlaceInput is one purchase attempt.
type PlaceInput struct {
	BuyerID uuid.UUID
	Lines   []domain.OrderLine
}

// holdRetries bounds re-attempts of a hold that lost a SERIALIZABLE
// conflict. Conflicts under contention are routine and worth absorbing
// here instead of surfacing to the buyer.
const holdRetries = 3

func (s *Service) holdWithRetry(ctx context.Context, orderID, ticketClassID uuid.UUID, quantity int) (domain.Reservation, error) {
	var res domain.Reservation
	var err error
	for attempt := 0; attempt < holdRetries; attempt++ {
		res, err = s.holds.Hold(ctx, orderID, ticketClassID, quantity, s.holdTTL)
		if !errors.Is(err, domain.ErrSerializationFailure) {
			return res, err
		}
	}
	return res, err
}

// Place runs the purchase flow: reserve every line, charge the gateway,
// then confirm or roll back. The returned order carries the final status;
// business failures are also reported through the error so callers can
// distinguish them without inspecting the status.
func (s *Service) Place(ctx context.Context, in PlaceInput) (domain.Order, error) {
	if len(in.Lines) == 0 {
		return domain.Order{}, domain.ErrInvalidInput
	}
	for _, l := range in.Lines {
		if l.Quantity <= 0 {
			return domain.Order{}, domain.ErrInvalidInput
		}
	}

	// Holds are always acquired in ascending ticket-class order so two
	// overlapping multi-class orders cannot wait on each other.
	lines := make([]domain.OrderLine, len(in.Lines))
	copy(lines, in.Lines)
	sort.Slice(lines, func(i, j int) bool {
		return bytes.Compare(lines[i].TicketClassID[:], lines[j].TicketClassID[:]) < 0
	})

	o := domain.NewOrder(in.BuyerID, lines, s.clock.Now())
	if err := s.store.CreateOrder(ctx, o); err != nil {
		return domain.Order{}, errors.Wrap(err, "create order")
	}

	held := make([]domain.Reservation, 0, len(lines))
	for _, line := range lines {
		res, err := s.holdWithRetry(ctx, o.ID, line.TicketClassID, line.Quantity)
		if err != nil {
			s.rollbackHolds(ctx, held)
			switch {
			case errors.Is(err, domain.ErrInsufficientInventory):
				observability.OversellRejections.Inc()
				s.cancel(ctx, &o, domain.ReasonInsufficientInventory)
				return o, domain.ErrInsufficientInventory
			case errors.Is(err, domain.ErrSerializationFailure):
				// Retries exhausted on a transient conflict. The order is
				// cancelled with a reason that tells the buyer to try
				// again, not that the tickets are gone.
				s.cancel(ctx, &o, domain.ReasonTransientConflict)
				return o, domain.ErrSerializationFailure
			default:
				s.cancel(ctx, &o, domain.ReasonInternalError)
				return o, errors.Wrapf(err, "hold %s", line.TicketClassID)
			}
		}
		held = append(held, res)
	}

	if err := s.store.TransitionOrder(ctx, o.ID, domain.OrderPending, domain.OrderAwaitingPayment); err != nil {
		// An operator cancel can slip in between hold and transition.
		s.rollbackHolds(ctx, held)
		return o, err
	}
	o.Status = domain.OrderAwaitingPayment

	// No reservation lock is held across this call. If it never returns,
	// the expiry sweeper reclaims the holds; this request path is not the
	// cleanup path.
	result, err := s.gateway.Charge(ctx, o.ID, o.TotalAmount)
	if err != nil {
		result = payment.Result{Outcome: payment.OutcomeGatewayError}
	}

	switch result.Outcome {
	case payment.OutcomeApproved:
		return s.settle(ctx, o, held, result)
	case payment.OutcomeDeclined:
		s.rollbackHolds(ctx, held)
		s.cancel(ctx, &o, domain.ReasonPaymentDeclined)
		return o, domain.ErrPaymentDeclined
	default:
		// Fail safe: inventory is released either way, but a gateway
		// error is reported distinctly because it is retry-eligible.
		s.rollbackHolds(ctx, held)
		s.cancel(ctx, &o, domain.ReasonPaymentGatewayError)
		return o, domain.ErrPaymentGatewayError
	}
}

// settle confirms every hold after an approved charge. A confirm failure
// here means the sweeper won a race we should have won; the order is
// flagged for manual review instead of being marked Paid with unconfirmed
// inventory.
func (s *Service) settle(ctx context.Context, o domain.Order, held []domain.Reservation, result payment.Result) (domain.Order, error) {
	var confirmErr error
	for _, res := range held {
		if err := s.holds.Confirm(ctx, res.ID); err != nil {
			confirmErr = errors.CombineErrors(confirmErr, errors.Wrapf(err, "confirm reservation %s", res.ID))
		}
	}
	if confirmErr != nil {
		observability.OrdersFlaggedForReview.Inc()
		s.log.WithField("order_id", o.ID.String()).Error("confirm failed after approved charge, flagging for review: ", confirmErr)
		if err := s.store.FlagOrderForReview(ctx, o.ID); err != nil {
			s.log.WithField("order_id", o.ID.String()).Error("failed to flag order for review: ", err)
		}
		o.ReviewRequired = true
		return o, confirmErr
	}

	paidAt := s.clock.Now()
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.store.MarkOrderPaid(txCtx, o.ID, result.PaymentID, paidAt); err != nil {
			return err
		}
		return s.sink.Emit(txCtx, Event{Type: EventOrderPaid, OrderID: o.ID, BuyerID: o.BuyerID, Amount: o.TotalAmount})
	})
	if err != nil {
		return o, errors.Wrap(err, "mark paid")
	}

	o.Status = domain.OrderPaid
	o.PaymentID = result.PaymentID
	o.PaidAt = &paidAt
	observability.OrdersTotal.WithLabelValues("paid").Inc()
	return o, nil
}

// Cancel is the explicit, user-initiated cancellation. It has no effect
// on terminal orders.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return err
	}

	// CAS first: whoever moves the order to Cancelled owns the release
	// of its reservations. The event commits with the transition.
	err = s.store.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.store.CancelOrder(txCtx, id, domain.ReasonUserCancelled); err != nil {
			return err
		}
		return s.sink.Emit(txCtx, Event{Type: EventOrderCancelled, OrderID: id, BuyerID: o.BuyerID, Reason: domain.ReasonUserCancelled})
	})
	if err != nil {
		return err
	}

	active, err := s.resStore.ActiveReservationsForOrder(ctx, id)
	if err != nil {
		return errors.Wrap(err, "list active reservations")
	}
	for _, res := range active {
		if err := s.holds.Release(ctx, res.ID); err != nil && !errors.Is(err, domain.ErrAlreadyTerminal) {
			s.log.WithField("reservation_id", res.ID.String()).Error("release on cancel failed: ", err)
		}
	}

	observability.OrdersTotal.WithLabelValues("cancelled").Inc()
	return nil
}

// ExpireIfReclaimed transitions an AwaitingPayment order to Expired once
// it has no Active reservations left. Called by the sweeper after it
// releases a lapsed hold.
func (s *Service) ExpireIfReclaimed(ctx context.Context, orderID uuid.UUID) error {
	active, err := s.resStore.ActiveReservationsForOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return nil
	}

	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}

	err = s.store.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.store.ExpireOrder(txCtx, orderID); err != nil {
			return err
		}
		return s.sink.Emit(txCtx, Event{Type: EventOrderExpired, OrderID: orderID, BuyerID: o.BuyerID})
	})
	if err != nil {
		if errors.Is(err, domain.ErrAlreadyTerminal) {
			return nil
		}
		return err
	}

	observability.OrdersTotal.WithLabelValues("expired").Inc()
	return nil
}

// Get returns the order with its current status.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	return s.store.GetOrder(ctx, id)
}

func (s *Service) rollbackHolds(ctx context.Context, held []domain.Reservation) {
	// Compensating rollback runs in reverse acquisition order.
	for i := len(held) - 1; i >= 0; i-- {
		if err := s.holds.Release(ctx, held[i].ID); err != nil && !errors.Is(err, domain.ErrAlreadyTerminal) {
			s.log.WithField("reservation_id", held[i].ID.String()).Error("rollback release failed: ", err)
		}
	}
}

func (s *Service) cancel(ctx context.Context, o *domain.Order, reason domain.CancelReason) {
	// The event rides the same transaction as the transition, so the
	// outbox row commits with the status or not at all.
	err := s.store.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.store.CancelOrder(txCtx, o.ID, reason); err != nil {
			return err
		}
		return s.sink.Emit(txCtx, Event{Type: EventOrderCancelled, OrderID: o.ID, BuyerID: o.BuyerID, Reason: reason})
	})
	if err != nil && !errors.Is(err, domain.ErrAlreadyTerminal) {
		s.log.WithField("order_id", o.ID.String()).Error("cancel transition failed: ", err)
		return
	}
	o.Status = domain.OrderCancelled
	o.CancelReason = reason
	observability.OrdersTotal.WithLabelValues("cancelled").Inc()
}
