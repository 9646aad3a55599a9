package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/ticketrush/orderflow/internal/domain"
)

type Cache struct {
	client *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

// GetCounter returns a cached availability snapshot, or nil on a miss.
// The snapshot may lag the ledger by up to the cache TTL.
func (c *Cache) GetCounter(ctx context.Context, ticketClassID uuid.UUID) (*domain.InventoryCounter, error) {
	val, err := c.client.Get(ctx, counterKey(ticketClassID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var counter domain.InventoryCounter
	if err := json.Unmarshal(val, &counter); err != nil {
		return nil, err
	}
	return &counter, nil
}

func (c *Cache) SetCounter(ctx context.Context, counter domain.InventoryCounter, ttl time.Duration) error {
	data, err := json.Marshal(counter)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, counterKey(counter.TicketClassID), data, ttl).Err()
}

func counterKey(id uuid.UUID) string {
	return "availability:" + id.String()
}
