package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ticketrush/orderflow/internal/domain"
	"github.com/ticketrush/orderflow/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogger keeps an append-only trail of order lifecycle transitions.
// Orders are never physically removed, and neither are these entries.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        uuid.UUID `bson:"_id"`
	Action    string    `bson:"action"`
	OrderID   uuid.UUID `bson:"order_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, orderID uuid.UUID, data map[string]interface{}) error {
	entry := AuditLog{
		ID:        uuid.New(),
		Action:    action,
		OrderID:   orderID,
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, entry)
	if err != nil {
		a.logger.Error("failed to insert audit log", err)
		return err
	}
	return nil
}

func (a *AuditLogger) LogOrderOutcome(ctx context.Context, o domain.Order) error {
	return a.LogEvent(ctx, "order."+string(o.Status), o.ID, map[string]interface{}{
		"buyer_id":        o.BuyerID,
		"cancel_reason":   o.CancelReason,
		"payment_id":      o.PaymentID,
		"review_required": o.ReviewRequired,
	})
}
