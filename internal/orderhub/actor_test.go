package orderhub

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderhub/internal/model"
	"orderhub/internal/sink"
)

type harness struct {
	actor *Actor
	store *flakyStore
	sink  *sink.Memory
	clock *testClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: newFlakyStore(), sink: sink.NewMemory(), clock: newTestClock()}
	a, err := NewActor(context.Background(), "r1", h.store, h.sink, Options{Now: h.clock.Now, Log: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(a.Stop)
	h.actor = a
	return h
}

func (h *harness) attach(t *testing.T, id string, subscribe bool) *fakeConn {
	t.Helper()
	c := newConn(id)
	require.NoError(t, h.actor.Attach(context.Background(), c))
	if subscribe {
		_, err := h.actor.Subscribe(context.Background(), id)
		require.NoError(t, err)
	}
	return c
}

func update(orderID string, status model.OrderStatus, ts time.Time) model.OrderUpdate {
	return model.OrderUpdate{OrderID: orderID, Status: status, Timestamp: ts, Platform: "swiggy"}
}

func TestNewOrderWithoutSubscribers(t *testing.T) {
	h := newHarness(t)
	ts := h.clock.Now()
	ctx := context.Background()

	st, err := h.actor.UpdateOrder(ctx, update("o1", model.StatusReady, ts))
	require.NoError(t, err)
	assert.Equal(t, "o1", st.OrderID)
	assert.Equal(t, "r1", st.RestaurantID)
	assert.Equal(t, model.StatusReady, st.Status)
	assert.Equal(t, ts, st.LastUpdated)
	assert.Empty(t, st.Subscribers)

	persisted, err := h.store.Memory.Get(ctx, "r1")
	require.NoError(t, err)
	require.Contains(t, persisted, "o1")
	assert.Equal(t, model.StatusReady, persisted["o1"].Status)

	require.Eventually(t, func() bool { return len(h.sink.Events()) == 1 }, time.Second, 5*time.Millisecond)
	evt := h.sink.Events()[0]
	assert.Equal(t, model.ChangeEventType, evt.Type)
	assert.Equal(t, model.OrderStatus(""), evt.PreviousStatus)
	assert.Equal(t, model.StatusReady, evt.NewStatus)
	assert.Equal(t, "swiggy", evt.Platform)
	assert.NotEmpty(t, evt.ID)
}

func TestUpdateFansOutToSubscribers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	watcher := h.attach(t, "c1", true)
	idle := h.attach(t, "c2", false)

	_, err := h.actor.UpdateOrder(ctx, update("o1", model.StatusReceived, h.clock.Now()))
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	_, err = h.actor.UpdateOrder(ctx, update("o1", model.StatusPreparing, h.clock.Now()))
	require.NoError(t, err)

	msgs := watcher.Messages()
	require.Len(t, msgs, 2)
	last := msgs[1]
	assert.Equal(t, MsgOrderUpdated, last.Type)
	require.NotNil(t, last.Order)
	require.NotNil(t, last.Update)
	assert.Equal(t, model.StatusPreparing, last.Order.Status)
	assert.Equal(t, []string{"c1"}, last.Order.Subscribers)
	assert.Equal(t, model.StatusPreparing, last.Update.Status)
	assert.Equal(t, h.clock.Now(), last.Timestamp)
	assert.Empty(t, idle.Messages())

	require.Eventually(t, func() bool { return len(h.sink.Events()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.StatusReceived, h.sink.Events()[1].PreviousStatus)
}

func TestReapplySameUpdate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	u := update("o1", model.StatusConfirmed, h.clock.Now())

	first, err := h.actor.UpdateOrder(ctx, u)
	require.NoError(t, err)
	second, err := h.actor.UpdateOrder(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	snap, err := h.actor.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, model.StatusConfirmed, snap[0].Status)
}

func TestUpdateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.actor.UpdateOrder(ctx, update("", model.StatusReady, time.Time{}))
	assert.ErrorIs(t, err, ErrInvalidUpdate)
	_, err = h.actor.UpdateOrder(ctx, update("o1", "teleported", time.Time{}))
	assert.ErrorIs(t, err, ErrInvalidUpdate)
	u := update("o1", model.StatusReady, time.Time{})
	u.RestaurantID = "other"
	_, err = h.actor.UpdateOrder(ctx, u)
	assert.ErrorIs(t, err, ErrInvalidUpdate)

	// zero timestamp takes the actor clock
	st, err := h.actor.UpdateOrder(ctx, update("o1", model.StatusReady, time.Time{}))
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now(), st.LastUpdated)
}

func TestSubscribeAckCarriesSnapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, id := range []string{"o2", "o1"} {
		_, err := h.actor.UpdateOrder(ctx, update(id, model.StatusPreparing, h.clock.Now()))
		require.NoError(t, err)
	}
	require.NoError(t, h.actor.Attach(ctx, newConn("c1")))

	ack, err := h.actor.Subscribe(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, MsgSubscribed, ack.Type)
	assert.Equal(t, "r1", ack.RestaurantID)
	require.Len(t, ack.Orders, 2)
	assert.Equal(t, "o1", ack.Orders[0].OrderID)
	assert.Equal(t, []string{"c1"}, ack.Orders[0].Subscribers)

	ack, err = h.actor.Unsubscribe(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, MsgUnsubscribed, ack.Type)
	o, ok, err := h.actor.Order(ctx, "o1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, o.Subscribers)
}

func TestSubscribeRequiresAttachedConnection(t *testing.T) {
	h := newHarness(t)
	_, err := h.actor.Subscribe(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestNewOrdersInheritRestaurantSubscribers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.attach(t, "c1", true)

	st, err := h.actor.UpdateOrder(ctx, update("late", model.StatusReceived, h.clock.Now()))
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, st.Subscribers)
	assert.Len(t, c.Messages(), 1)
}

func TestSubscriptionReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	ids := []string{"c0", "c1", "c2", "c3"}
	for _, id := range ids {
		require.NoError(t, h.actor.Attach(ctx, newConn(id)))
	}

	expected := map[string]bool{}
	for i := 0; i < 200; i++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(3) {
		case 0:
			_, err := h.actor.Subscribe(ctx, id)
			require.NoError(t, err)
			expected[id] = true
		case 1:
			_, err := h.actor.Unsubscribe(ctx, id)
			require.NoError(t, err)
			delete(expected, id)
		default:
			_, err := h.actor.UpdateOrder(ctx, update("o"+strconv.Itoa(rng.Intn(5)), model.Statuses[rng.Intn(len(model.Statuses))], h.clock.Now()))
			require.NoError(t, err)
		}
	}

	var want []string
	for id := range expected {
		want = append(want, id)
	}
	sort.Strings(want)

	snap, err := h.actor.Snapshot(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, snap)
	for _, s := range snap {
		assert.Equal(t, want, s.Subscribers, "order %s", s.OrderID)
	}
}

func TestConnectionClosedRemovesSubscriptions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.attach(t, "c1", true)
	require.NoError(t, h.actor.ConnectionClosed(ctx, "c1"))

	st, err := h.actor.UpdateOrder(ctx, update("o1", model.StatusReady, h.clock.Now()))
	require.NoError(t, err)
	assert.Empty(t, st.Subscribers)
	assert.Empty(t, c.Messages())

	stats, err := h.actor.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.ActiveConnections)
}

func TestDeadConnectionPruned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	dead := h.attach(t, "dead", true)
	live := h.attach(t, "live", true)
	dead.setFail(true)

	_, err := h.actor.UpdateOrder(ctx, update("o1", model.StatusReady, h.clock.Now()))
	require.NoError(t, err, "a dead subscriber never fails the update")
	assert.True(t, dead.Closed())
	assert.Len(t, live.Messages(), 1)

	st, err := h.actor.UpdateOrder(ctx, update("o1", model.StatusPickedUp, h.clock.Now()))
	require.NoError(t, err)
	assert.Equal(t, []string{"live"}, st.Subscribers)

	stats, err := h.actor.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveConnections)
}

func TestPersistenceFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.attach(t, "c1", true)
	_, err := h.actor.UpdateOrder(ctx, update("o1", model.StatusPreparing, h.clock.Now()))
	require.NoError(t, err)

	h.store.setPutErr(errors.New("disk full"))
	_, err = h.actor.UpdateOrder(ctx, update("o1", model.StatusReady, h.clock.Now()))
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "r1", pe.RestaurantID)
	assert.EqualError(t, errors.Unwrap(err), "disk full")

	_, err = h.actor.UpdateOrder(ctx, update("o2", model.StatusReceived, h.clock.Now()))
	require.ErrorAs(t, err, &pe)

	snap, err := h.actor.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1, "new order not kept after failed write")
	assert.Equal(t, model.StatusPreparing, snap[0].Status)
	assert.Len(t, c.Messages(), 1, "failed update is not pushed")

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, h.sink.Events(), 1, "failed update emits no change event")
}

func TestSinkFailureDoesNotRollBack(t *testing.T) {
	h := newHarness(t)
	h.sink.SetErr(errors.New("broker down"))

	st, err := h.actor.UpdateOrder(context.Background(), update("o1", model.StatusReady, h.clock.Now()))
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, st.Status)
	persisted, err := h.store.Memory.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Contains(t, persisted, "o1")
}

func TestCleanupOldOrders(t *testing.T) {
	const maxAge = time.Hour
	h := newHarness(t)
	ctx := context.Background()
	start := h.clock.Now()
	_, err := h.actor.UpdateOrder(ctx, update("old", model.StatusDelivered, start))
	require.NoError(t, err)
	_, err = h.actor.UpdateOrder(ctx, update("fresh", model.StatusPreparing, start.Add(maxAge)))
	require.NoError(t, err)
	h.clock.Advance(maxAge + time.Millisecond)

	n, err := h.actor.CleanupOldOrders(ctx, maxAge)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	snap, err := h.actor.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, "fresh", snap[0].OrderID)

	persisted, err := h.store.Memory.Get(ctx, "r1")
	require.NoError(t, err)
	assert.NotContains(t, persisted, "old")
}

func TestCleanupKeepsWatchedOrders(t *testing.T) {
	const maxAge = time.Hour
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.actor.UpdateOrder(ctx, update("old", model.StatusDelivered, h.clock.Now()))
	require.NoError(t, err)
	h.attach(t, "c1", true)
	h.clock.Advance(maxAge + time.Millisecond)

	n, err := h.actor.CleanupOldOrders(ctx, maxAge)
	require.NoError(t, err)
	assert.Zero(t, n)
	snap, err := h.actor.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 1)
}

func TestCleanupPersistFailureRestores(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.actor.UpdateOrder(ctx, update("old", model.StatusDelivered, h.clock.Now()))
	require.NoError(t, err)
	h.clock.Advance(2 * time.Hour)
	h.store.setPutErr(errors.New("read-only"))

	n, err := h.actor.CleanupOldOrders(ctx, time.Hour)
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Zero(t, n)
	snap, err := h.actor.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snap, 1)
}

func TestStatistics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.attach(t, "c1", false)
	for i, s := range []model.OrderStatus{model.StatusReady, model.StatusReady, model.StatusDelivered} {
		u := update("o"+strconv.Itoa(i), s, h.clock.Now())
		if i == 2 {
			u.Platform = "zomato"
		}
		_, err := h.actor.UpdateOrder(ctx, u)
		require.NoError(t, err)
	}

	st, err := h.actor.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Statistics{
		RestaurantID:      "r1",
		TotalOrders:       3,
		ByStatus:          map[model.OrderStatus]int{model.StatusReady: 2, model.StatusDelivered: 1},
		ByPlatform:        map[string]int{"swiggy": 2, "zomato": 1},
		ActiveConnections: 1,
	}, st)
}

func TestActorLoadsPersistedState(t *testing.T) {
	st := newFlakyStore()
	ctx := context.Background()
	require.NoError(t, st.Put(ctx, "r1", map[string]model.OrderSyncState{
		"o1": {OrderID: "o1", RestaurantID: "r1", Status: model.StatusReady, Platform: "swiggy"},
	}))
	a, err := NewActor(ctx, "r1", st, nil, Options{Log: quietLogger()})
	require.NoError(t, err)
	defer a.Stop()

	snap, err := a.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, model.StatusReady, snap[0].Status)

	st.setGetErr(errors.New("timeout"))
	_, err = NewActor(ctx, "r2", st, nil, Options{Log: quietLogger()})
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "load", pe.Op)
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.attach(t, "c1", true)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.actor.UpdateOrder(ctx, update("o1", model.Statuses[i%len(model.Statuses)], h.clock.Now()))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(h.sink.Events()) == n }, time.Second, 5*time.Millisecond)
	events := h.sink.Events()
	msgs := c.Messages()
	require.Len(t, msgs, n)
	for i := 1; i < n; i++ {
		assert.Equal(t, events[i-1].NewStatus, events[i].PreviousStatus, "event %d", i)
		assert.Equal(t, events[i].NewStatus, msgs[i].Update.Status, "push %d", i)
	}
	assert.Equal(t, n, h.store.Puts())
}

func TestStoppedActorRejectsCalls(t *testing.T) {
	h := newHarness(t)
	h.actor.Stop()
	_, err := h.actor.UpdateOrder(context.Background(), update("o1", model.StatusReady, time.Time{}))
	assert.ErrorIs(t, err, ErrActorStopped)
	_, err = h.actor.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrActorStopped)
}

func TestUpdateAbandonedWhileQueuedIsNotApplied(t *testing.T) {
	st := newGateStore()
	sk := sink.NewMemory()
	a, err := NewActor(context.Background(), "r1", st, sk, Options{Log: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(a.Stop)

	first := make(chan error, 1)
	go func() {
		_, err := a.UpdateOrder(context.Background(), update("o1", model.StatusConfirmed, time.Time{}))
		first <- err
	}()
	<-st.entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = a.UpdateOrder(ctx, update("o2", model.StatusReady, time.Time{}))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(st.release)
	require.NoError(t, <-first)

	orders, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "o1", orders[0].OrderID)

	persisted, err := st.Memory.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.NotContains(t, persisted, "o2")

	a.Stop()
	assert.Len(t, sk.Events(), 1)
}

func TestStartedUpdateCompletesDespiteCancel(t *testing.T) {
	st := newGateStore()
	sk := sink.NewMemory()
	a, err := NewActor(context.Background(), "r1", st, sk, Options{Log: quietLogger()})
	require.NoError(t, err)
	t.Cleanup(a.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := a.UpdateOrder(ctx, update("o1", model.StatusConfirmed, time.Time{}))
		first <- err
	}()
	<-st.entered
	cancel()

	select {
	case err := <-first:
		t.Fatalf("returned before the store write finished: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	close(st.release)
	require.NoError(t, <-first)

	persisted, err := st.Memory.Get(context.Background(), "r1")
	require.NoError(t, err)
	assert.Contains(t, persisted, "o1")
	a.Stop()
	assert.Len(t, sk.Events(), 1)
}
