package orderhub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"orderhub/internal/model"
	"orderhub/internal/store"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	msgs   []Message
	fail   bool
	closed bool
}

func newConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(_ context.Context, m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return errors.New("broken pipe")
	}
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) setFail(v bool) {
	c.mu.Lock()
	c.fail = v
	c.mu.Unlock()
}

// flakyStore fails Get or Put on demand.
type flakyStore struct {
	*store.Memory
	mu      sync.Mutex
	failGet error
	failPut error
	puts    int
}

func newFlakyStore() *flakyStore { return &flakyStore{Memory: store.NewMemory()} }

func (s *flakyStore) Get(ctx context.Context, id string) (map[string]model.OrderSyncState, error) {
	s.mu.Lock()
	err := s.failGet
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Memory.Get(ctx, id)
}

func (s *flakyStore) Put(ctx context.Context, id string, orders map[string]model.OrderSyncState) error {
	s.mu.Lock()
	err := s.failPut
	if err == nil {
		s.puts++
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Memory.Put(ctx, id, orders)
}

func (s *flakyStore) setPutErr(err error) {
	s.mu.Lock()
	s.failPut = err
	s.mu.Unlock()
}

func (s *flakyStore) setGetErr(err error) {
	s.mu.Lock()
	s.failGet = err
	s.mu.Unlock()
}

func (s *flakyStore) Puts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

// gateStore holds the first Put until release is closed.
type gateStore struct {
	*store.Memory
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGateStore() *gateStore {
	return &gateStore{Memory: store.NewMemory(), entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *gateStore) Put(ctx context.Context, id string, orders map[string]model.OrderSyncState) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.Memory.Put(ctx, id, orders)
}
