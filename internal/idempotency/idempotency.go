// Package idempotency replays stored responses for repeated
// Idempotency-Key submissions so retried POSTs never place a second
// order.
package idempotency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "orderflow:idemp:"

// Response is the replayable outcome of a placement attempt. OrderID is
// kept alongside the raw body so operators can trace a replayed response
// back to the order it belongs to.
type Response struct {
	Status  int    `json:"status"`
	OrderID string `json:"order_id,omitempty"`
	Result  []byte `json:"result"`
}

type Idempotency struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotency(client *redis.Client, ttl time.Duration) *Idempotency {
	return &Idempotency{client: client, ttl: ttl}
}

// Get returns the stored response for key, or nil on a miss. An empty
// key is a miss by definition.
func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	if key == "" {
		return nil, nil
	}
	val, err := i.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var resp Response
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	if key == "" {
		return nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return i.client.Set(ctx, keyPrefix+key, data, i.ttl).Err()
}
