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

// CatalogRepository stores ticket-class documents. The catalog supplies
// capacity and price at publish time; the core never mutates it.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("ticket_classes"),
		logger: logger,
	}
}

type TicketClassDoc struct {
	ID          uuid.UUID `bson:"_id"`
	EventID     uuid.UUID `bson:"event_id"`
	Name        string    `bson:"name"`
	Capacity    int       `bson:"capacity"`
	Price       float64   `bson:"price"`
	PublishedAt time.Time `bson:"published_at"`
}

func (c *CatalogRepository) PublishTicketClass(ctx context.Context, tc domain.TicketClass) error {
	doc := TicketClassDoc{
		ID:          tc.ID,
		EventID:     tc.EventID,
		Name:        tc.Name,
		Capacity:    tc.Capacity,
		Price:       tc.Price,
		PublishedAt: time.Now(),
	}
	_, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		c.logger.Error("failed to publish ticket class", err)
		return err
	}
	return nil
}

func (c *CatalogRepository) GetTicketClass(ctx context.Context, id uuid.UUID) (domain.TicketClass, error) {
	var doc TicketClassDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return domain.TicketClass{}, domain.ErrNotFound
	}
	if err != nil {
		c.logger.Error("failed to get ticket class", err)
		return domain.TicketClass{}, err
	}
	return domain.TicketClass{
		ID:       doc.ID,
		EventID:  doc.EventID,
		Name:     doc.Name,
		Capacity: doc.Capacity,
		Price:    doc.Price,
	}, nil
}
