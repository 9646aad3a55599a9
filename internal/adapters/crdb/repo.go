// Package crdb is the CockroachDB persistence layer. Every mutation that
// carries an invariant is a single conditional UPDATE: the WHERE clause is
// the check, RowsAffected is the verdict.
package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ticketrush/orderflow/internal/domain"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateCounter seeds the inventory counter when a ticket class is
// published. Capacity is immutable afterwards.
func (r *Repository) CreateCounter(ctx context.Context, tc domain.TicketClass) error {
	if tc.Capacity < 0 {
		return domain.ErrInvalidInput
	}
	_, err := r.exec(ctx, `
		INSERT INTO inventory_counters (ticket_class_id, capacity, sold, reserved)
		VALUES ($1, $2, 0, 0)
	`, tc.ID, tc.Capacity)
	if err != nil {
		return errors.Wrap(err, "create counter")
	}
	return nil
}

// Reserve is the atomic check-and-increment. The capacity comparison and
// the increment are one statement, so no interleaving can oversell.
func (r *Repository) Reserve(ctx context.Context, ticketClassID uuid.UUID, quantity int) error {
	tag, err := r.exec(ctx, `
		UPDATE inventory_counters SET reserved = reserved + $2
		WHERE ticket_class_id = $1 AND sold + reserved + $2 <= capacity
	`, ticketClassID, quantity)
	if err != nil {
		return errors.Wrap(err, "reserve")
	}
	if tag.RowsAffected() == 0 {
		return r.counterMiss(ctx, ticketClassID, domain.ErrInsufficientInventory)
	}
	return nil
}

func (r *Repository) Release(ctx context.Context, ticketClassID uuid.UUID, quantity int) error {
	tag, err := r.exec(ctx, `
		UPDATE inventory_counters SET reserved = reserved - $2
		WHERE ticket_class_id = $1 AND reserved >= $2
	`, ticketClassID, quantity)
	if err != nil {
		return errors.Wrap(err, "release")
	}
	if tag.RowsAffected() == 0 {
		// Underflow here is a logic bug elsewhere, not a user error.
		return r.counterMiss(ctx, ticketClassID, domain.ErrInvariantViolation)
	}
	return nil
}

func (r *Repository) Confirm(ctx context.Context, ticketClassID uuid.UUID, quantity int) error {
	tag, err := r.exec(ctx, `
		UPDATE inventory_counters SET reserved = reserved - $2, sold = sold + $2
		WHERE ticket_class_id = $1 AND reserved >= $2
	`, ticketClassID, quantity)
	if err != nil {
		return errors.Wrap(err, "confirm")
	}
	if tag.RowsAffected() == 0 {
		return r.counterMiss(ctx, ticketClassID, domain.ErrInvariantViolation)
	}
	return nil
}

func (r *Repository) Counter(ctx context.Context, ticketClassID uuid.UUID) (domain.InventoryCounter, error) {
	c := domain.InventoryCounter{TicketClassID: ticketClassID}
	err := r.queryRow(ctx, `
		SELECT capacity, sold, reserved FROM inventory_counters WHERE ticket_class_id = $1
	`, ticketClassID).Scan(&c.Capacity, &c.Sold, &c.Reserved)
	if err == pgx.ErrNoRows {
		return domain.InventoryCounter{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.InventoryCounter{}, errors.Wrap(err, "get counter")
	}
	return c, nil
}

// counterMiss distinguishes a failed condition from a missing row.
func (r *Repository) counterMiss(ctx context.Context, ticketClassID uuid.UUID, condErr error) error {
	var exists bool
	err := r.queryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM inventory_counters WHERE ticket_class_id = $1)
	`, ticketClassID).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "counter lookup")
	}
	if !exists {
		return domain.ErrNotFound
	}
	return condErr
}

func (r *Repository) CreateReservation(ctx context.Context, res domain.Reservation) error {
	_, err := r.exec(ctx, `
		INSERT INTO reservations (id, order_id, ticket_class_id, quantity, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, res.ID, res.OrderID, res.TicketClassID, res.Quantity, res.Status, res.CreatedAt, res.ExpiresAt)
	if err != nil {
		return errors.Wrap(err, "create reservation")
	}
	return nil
}

func (r *Repository) GetReservation(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	var res domain.Reservation
	err := r.queryRow(ctx, `
		SELECT id, order_id, ticket_class_id, quantity, status, created_at, expires_at
		FROM reservations WHERE id = $1
	`, id).Scan(&res.ID, &res.OrderID, &res.TicketClassID, &res.Quantity, &res.Status, &res.CreatedAt, &res.ExpiresAt)
	if err == pgx.ErrNoRows {
		return domain.Reservation{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Reservation{}, errors.Wrap(err, "get reservation")
	}
	return res, nil
}

// TransitionReservation is the status compare-and-set: it only moves
// reservations that are still Active.
func (r *Repository) TransitionReservation(ctx context.Context, id uuid.UUID, to domain.ReservationStatus) error {
	tag, err := r.exec(ctx, `
		UPDATE reservations SET status = $2 WHERE id = $1 AND status = 'ACTIVE'
	`, id, to)
	if err != nil {
		return errors.Wrap(err, "transition reservation")
	}
	if tag.RowsAffected() == 0 {
		return r.reservationMiss(ctx, id)
	}
	return nil
}

func (r *Repository) ExtendReservation(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
	tag, err := r.exec(ctx, `
		UPDATE reservations SET expires_at = $2 WHERE id = $1 AND status = 'ACTIVE'
	`, id, expiresAt)
	if err != nil {
		return errors.Wrap(err, "extend reservation")
	}
	if tag.RowsAffected() == 0 {
		return r.reservationMiss(ctx, id)
	}
	return nil
}

func (r *Repository) reservationMiss(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := r.queryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM reservations WHERE id = $1)
	`, id).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "reservation lookup")
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrAlreadyTerminal
}

func (r *Repository) ActiveReservationsForOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Reservation, error) {
	rows, err := r.query(ctx, `
		SELECT id, order_id, ticket_class_id, quantity, status, created_at, expires_at
		FROM reservations WHERE order_id = $1 AND status = 'ACTIVE'
	`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "active reservations")
	}
	defer rows.Close()
	return scanReservations(rows)
}

// ExpiredReservations is the sweeper's scan; it rides the
// (status, expires_at) index.
func (r *Repository) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	rows, err := r.query(ctx, `
		SELECT id, order_id, ticket_class_id, quantity, status, created_at, expires_at
		FROM reservations WHERE status = 'ACTIVE' AND expires_at <= $1
		ORDER BY expires_at ASC LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, errors.Wrap(err, "expired reservations")
	}
	defer rows.Close()
	return scanReservations(rows)
}

func scanReservations(rows pgx.Rows) ([]domain.Reservation, error) {
	var out []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(&res.ID, &res.OrderID, &res.TicketClassID, &res.Quantity, &res.Status, &res.CreatedAt, &res.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func (r *Repository) CreateOrder(ctx context.Context, o domain.Order) error {
	return r.WithTx(ctx, func(txCtx context.Context) error {
		_, err := r.exec(txCtx, `
			INSERT INTO orders (id, buyer_id, status, cancel_reason, total_amount, payment_id, review_required, created_at)
			VALUES ($1, $2, $3, '', $4, '', false, $5)
		`, o.ID, o.BuyerID, o.Status, o.TotalAmount, o.CreatedAt)
		if err != nil {
			return errors.Wrap(err, "create order")
		}

		// The pgx.Tx carried in txCtx is not safe for concurrent use, so
		// lines go in one at a time.
		for _, line := range o.Lines {
			_, err := r.exec(txCtx, `
				INSERT INTO order_lines (order_id, ticket_class_id, quantity, unit_price)
				VALUES ($1, $2, $3, $4)
			`, o.ID, line.TicketClassID, line.Quantity, line.UnitPrice)
			if err != nil {
				return errors.Wrap(err, "create order line")
			}
		}
		return nil
	})
}

func (r *Repository) GetOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	var o domain.Order
	err := r.queryRow(ctx, `
		SELECT id, buyer_id, status, cancel_reason, total_amount, payment_id, review_required, created_at, paid_at
		FROM orders WHERE id = $1
	`, id).Scan(&o.ID, &o.BuyerID, &o.Status, &o.CancelReason, &o.TotalAmount, &o.PaymentID, &o.ReviewRequired, &o.CreatedAt, &o.PaidAt)
	if err == pgx.ErrNoRows {
		return domain.Order{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Order{}, errors.Wrap(err, "get order")
	}

	rows, err := r.query(ctx, `
		SELECT ticket_class_id, quantity, unit_price FROM order_lines WHERE order_id = $1
	`, id)
	if err != nil {
		return domain.Order{}, errors.Wrap(err, "get order lines")
	}
	defer rows.Close()

	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.TicketClassID, &line.Quantity, &line.UnitPrice); err != nil {
			return domain.Order{}, err
		}
		o.Lines = append(o.Lines, line)
	}
	return o, rows.Err()
}

func (r *Repository) TransitionOrder(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus) error {
	tag, err := r.exec(ctx, `
		UPDATE orders SET status = $3 WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return errors.Wrap(err, "transition order")
	}
	if tag.RowsAffected() == 0 {
		return r.orderMiss(ctx, id)
	}
	return nil
}

func (r *Repository) CancelOrder(ctx context.Context, id uuid.UUID, reason domain.CancelReason) error {
	tag, err := r.exec(ctx, `
		UPDATE orders SET status = 'CANCELLED', cancel_reason = $2
		WHERE id = $1 AND status IN ('PENDING', 'AWAITING_PAYMENT')
	`, id, reason)
	if err != nil {
		return errors.Wrap(err, "cancel order")
	}
	if tag.RowsAffected() == 0 {
		return r.orderMiss(ctx, id)
	}
	return nil
}

func (r *Repository) MarkOrderPaid(ctx context.Context, id uuid.UUID, paymentID string, paidAt time.Time) error {
	tag, err := r.exec(ctx, `
		UPDATE orders SET status = 'PAID', payment_id = $2, paid_at = $3
		WHERE id = $1 AND status = 'AWAITING_PAYMENT'
	`, id, paymentID, paidAt)
	if err != nil {
		return errors.Wrap(err, "mark paid")
	}
	if tag.RowsAffected() == 0 {
		return r.orderMiss(ctx, id)
	}
	return nil
}

// ExpireOrder leaves review-flagged orders for an operator.
func (r *Repository) ExpireOrder(ctx context.Context, id uuid.UUID) error {
	tag, err := r.exec(ctx, `
		UPDATE orders SET status = 'EXPIRED'
		WHERE id = $1 AND status = 'AWAITING_PAYMENT' AND NOT review_required
	`, id)
	if err != nil {
		return errors.Wrap(err, "expire order")
	}
	if tag.RowsAffected() == 0 {
		return r.orderMiss(ctx, id)
	}
	return nil
}

func (r *Repository) FlagOrderForReview(ctx context.Context, id uuid.UUID) error {
	tag, err := r.exec(ctx, `
		UPDATE orders SET review_required = true WHERE id = $1
	`, id)
	if err != nil {
		return errors.Wrap(err, "flag review")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *Repository) orderMiss(ctx context.Context, id uuid.UUID) error {
	var status domain.OrderStatus
	err := r.queryRow(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&status)
	if err == pgx.ErrNoRows {
		return domain.ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "order lookup")
	}
	if status.Terminal() {
		return domain.ErrAlreadyTerminal
	}
	return domain.ErrInvalidInput
}
