// Package projector consumes order lifecycle events and keeps the Redis
// order-status cache fresh for the read fast path.
package projector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/kota727/bookstore/internal/kafka"
	"github.com/kota727/bookstore/internal/orders"
	"github.com/kota727/bookstore/internal/redisx"
)

type Service struct {
	Redis       *redis.Client
	ServiceName string
}

// StatusCacheEntry is what GET /orders/{id}/status reads. user_id rides
// along so the read path can authorize against the cache alone.
type StatusCacheEntry struct {
	Status string `json:"status"`
	UserID string `json:"user_id"`
}

// Handle is installed as the consumer handler for every order topic.
func (s *Service) Handle(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}

	// dedup by event_id so redelivered messages do not reapply
	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	if seen, _ := redisx.Exists(ctx, s.Redis, dkey); seen {
		return nil
	}

	switch env.EventType {
	case orders.EventOrderCreated:
		p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
		if err != nil {
			return err
		}
		return s.project(ctx, dkey, p.OrderID, StatusCacheEntry{Status: string(orders.StatusPending), UserID: p.UserID})
	case orders.EventOrderStatusChanged:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusChangedPayload](env.Payload)
		if err != nil {
			return err
		}
		return s.project(ctx, dkey, p.OrderID, StatusCacheEntry{Status: string(p.NewStatus), UserID: p.UserID})
	case orders.EventOrderCancelled:
		p, err := kafkax.UnwrapPayload[orders.OrderCancelledPayload](env.Payload)
		if err != nil {
			return err
		}
		return s.project(ctx, dkey, p.OrderID, StatusCacheEntry{Status: string(orders.StatusCancelled), UserID: p.UserID})
	default:
		return nil // unknown event type, commit and move on
	}
}

func (s *Service) project(ctx context.Context, dedupKey, orderID string, entry StatusCacheEntry) error {
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if err := s.Redis.Set(ctx, key, kafkax.MustMarshal(entry), redisx.TTLStatusCache).Err(); err != nil {
		return err
	}
	return s.Redis.Set(ctx, dedupKey, "1", redisx.TTLDedup).Err()
}
