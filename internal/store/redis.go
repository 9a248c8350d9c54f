package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"orderhub/internal/model"
)

// Redis stores each restaurant's map as one JSON value.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	r := &Redis{rdb: redis.NewClient(opt)}
	if err := r.Ping(ctx); err != nil {
		_ = r.rdb.Close()
		return nil, err
	}
	return r, nil
}

// NewRedisClient wraps an existing client.
func NewRedisClient(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

const (
	keyPrefix = "orderhub:restaurant:"
	keySuffix = ":orders"
)

func stateKey(restaurantID string) string {
	return keyPrefix + restaurantID + keySuffix
}

// restaurantFromKey is the inverse of stateKey.
func restaurantFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, keyPrefix) || !strings.HasSuffix(key, keySuffix) {
		return "", false
	}
	id := key[len(keyPrefix) : len(key)-len(keySuffix)]
	return id, id != ""
}

func (r *Redis) Get(ctx context.Context, restaurantID string) (map[string]model.OrderSyncState, error) {
	data, err := r.rdb.Get(ctx, stateKey(restaurantID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return map[string]model.OrderSyncState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", restaurantID, err)
	}
	return decodeState(data)
}

func (r *Redis) Put(ctx context.Context, restaurantID string, orders map[string]model.OrderSyncState) error {
	data, err := encodeState(orders)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, stateKey(restaurantID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", restaurantID, err)
	}
	return nil
}

// Restaurants lists every restaurant with stored state. It uses SCAN so a
// large keyspace does not block the server.
func (r *Redis) Restaurants(ctx context.Context) ([]string, error) {
	var ids []string
	iter := r.rdb.Scan(ctx, 0, keyPrefix+"*"+keySuffix, 100).Iterator()
	for iter.Next(ctx) {
		if id, ok := restaurantFromKey(iter.Val()); ok {
			ids = append(ids, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Redis) Ping(ctx context.Context) error { return r.rdb.Ping(ctx).Err() }

func (r *Redis) Close() error { return r.rdb.Close() }
