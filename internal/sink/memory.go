package sink

import (
	"context"
	"sync"

	"orderhub/internal/model"
)

// Memory records events in order. Err, when set, fails every publish.
type Memory struct {
	mu     sync.Mutex
	events []model.ChangeEvent
	Err    error
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Publish(_ context.Context, evt model.ChangeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, evt)
	return nil
}

func (m *Memory) SetErr(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}

func (m *Memory) Events() []model.ChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ChangeEvent(nil), m.events...)
}

func (m *Memory) Close() error { return nil }
