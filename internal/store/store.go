// Package store persists each restaurant's order-sync state.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"orderhub/internal/config"
	"orderhub/internal/model"
)

// StateStore holds one record per restaurant: the full order id -> state map.
// Get on an unknown restaurant returns an empty map, not an error.
type StateStore interface {
	Get(ctx context.Context, restaurantID string) (map[string]model.OrderSyncState, error)
	Put(ctx context.Context, restaurantID string, orders map[string]model.OrderSyncState) error
	Close() error
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Lister is implemented by stores that can enumerate persisted restaurants.
type Lister interface {
	Restaurants(ctx context.Context) ([]string, error)
}

var (
	_ Lister = (*SQL)(nil)
	_ Lister = (*Redis)(nil)
)

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (StateStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(ctx, cfg.RedisURL)
	case "sqlite":
		return NewSQL(ctx, "sqlite", sqliteDSN(cfg.SQLitePath))
	case "postgres":
		return NewSQL(ctx, "pgx", cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}

// Subscribers are derived from live connections and never stored.
func encodeState(orders map[string]model.OrderSyncState) ([]byte, error) {
	clean := make(map[string]model.OrderSyncState, len(orders))
	for id, s := range orders {
		s.Subscribers = nil
		clean[id] = s
	}
	return json.Marshal(clean)
}

func decodeState(data []byte) (map[string]model.OrderSyncState, error) {
	out := map[string]model.OrderSyncState{}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode order state: %w", err)
	}
	return out, nil
}
