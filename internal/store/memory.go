package store

import (
	"context"
	"sync"

	"orderhub/internal/model"
)

// Memory keeps state in process. Maps are copied on the way in and out so
// callers never share backing storage with the store.
type Memory struct {
	mu   sync.Mutex
	data map[string]map[string]model.OrderSyncState
}

func NewMemory() *Memory {
	return &Memory{data: map[string]map[string]model.OrderSyncState{}}
}

func (m *Memory) Get(_ context.Context, restaurantID string) (map[string]model.OrderSyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyState(m.data[restaurantID]), nil
}

func (m *Memory) Put(_ context.Context, restaurantID string, orders map[string]model.OrderSyncState) error {
	c := copyState(orders)
	for id, s := range c {
		s.Subscribers = nil
		c[id] = s
	}
	m.mu.Lock()
	m.data[restaurantID] = c
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

func copyState(in map[string]model.OrderSyncState) map[string]model.OrderSyncState {
	out := make(map[string]model.OrderSyncState, len(in))
	for k, v := range in {
		if v.Subscribers != nil {
			v.Subscribers = append([]string(nil), v.Subscribers...)
		}
		out[k] = v
	}
	return out
}
