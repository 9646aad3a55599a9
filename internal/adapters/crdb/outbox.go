package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/ticketrush/orderflow/internal/order"
)

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	DedupeKey     string
}

// Emit implements order.EventSink by appending an outbox row. When called
// inside WithTx, the row commits atomically with the order transition;
// delivery to the broker is the outbox publisher's job.
func (r *Repository) Emit(ctx context.Context, e order.Event) error {
	payload, err := json.Marshal(map[string]interface{}{
		"order_id": e.OrderID,
		"buyer_id": e.BuyerID,
		"reason":   e.Reason,
		"amount":   e.Amount,
	})
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	return r.InsertOutbox(ctx, OutboxRecord{
		ID:            uuid.New(),
		AggregateType: "order",
		AggregateID:   e.OrderID,
		EventType:     e.Type,
		Payload:       payload,
		DedupeKey:     uuid.New().String(),
	})
}

func (r *Repository) InsertOutbox(ctx context.Context, record OutboxRecord) error {
	_, err := r.exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
	`, record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.DedupeKey)
	return err
}

func (r *Repository) GetUnpublishedOutbox(ctx context.Context, limit int) ([]OutboxRecord, error) {
	rows, err := r.query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, dedupe_key
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	_, err := r.exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
	`, id, publishedAt)
	return err
}

// OldestUnpublishedAge reports the outbox lag for metrics; zero when the
// outbox is drained.
func (r *Repository) OldestUnpublishedAge(ctx context.Context, now time.Time) (time.Duration, error) {
	var createdAt *time.Time
	err := r.queryRow(ctx, `
		SELECT MIN(created_at) FROM outbox WHERE status = 'NEW'
	`).Scan(&createdAt)
	if err != nil {
		return 0, err
	}
	if createdAt == nil {
		return 0, nil
	}
	return now.Sub(*createdAt), nil
}
