package sink

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"

	"orderhub/internal/model"
)

const streamMaxLen = 100_000

// Redis appends events to a stream with XADD. Each entry carries the routing
// fields plus the full JSON event under "payload".
type Redis struct {
	rdb    *redis.Client
	stream string
}

func NewRedis(ctx context.Context, url, stream string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return NewRedisClient(rdb, stream), nil
}

func NewRedisClient(rdb *redis.Client, stream string) *Redis {
	if stream == "" {
		stream = "orderhub:events"
	}
	return &Redis{rdb: rdb, stream: stream}
}

func (r *Redis) Publish(ctx context.Context, evt model.ChangeEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"type":         evt.Type,
			"restaurantId": evt.RestaurantID,
			"orderId":      evt.OrderID,
			"payload":      payload,
		},
	}).Err()
}

func (r *Redis) Close() error { return r.rdb.Close() }
