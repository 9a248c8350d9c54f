package orderhub

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"orderhub/internal/metrics"
	"orderhub/internal/model"
	"orderhub/internal/sink"
	"orderhub/internal/store"
)

// Options tune an actor. Zero values get defaults.
type Options struct {
	MailboxSize    int
	OutboxSize     int
	SendTimeout    time.Duration
	PublishTimeout time.Duration
	Now            func() time.Time
	Log            logrus.FieldLogger
}

func (o Options) withDefaults() Options {
	if o.MailboxSize <= 0 {
		o.MailboxSize = 64
	}
	if o.OutboxSize <= 0 {
		o.OutboxSize = 256
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 5 * time.Second
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Log == nil {
		o.Log = logrus.StandardLogger()
	}
	return o
}

// Actor owns one restaurant's orders and connections. Every field below the
// mailbox is touched only by the run goroutine.
type Actor struct {
	restaurantID string
	store        store.StateStore
	sink         sink.EventSink
	opts         Options
	log          logrus.FieldLogger

	mailbox   chan func()
	quit      chan struct{}
	done      chan struct{}
	outbox    chan model.ChangeEvent
	published chan struct{}
	stopOnce  sync.Once

	orders      map[string]model.OrderSyncState
	conns       map[string]Conn
	subscribers map[string]struct{}
}

// NewActor loads the restaurant's persisted state and starts its mailbox.
func NewActor(ctx context.Context, restaurantID string, st store.StateStore, sk sink.EventSink, opts Options) (*Actor, error) {
	if restaurantID == "" {
		return nil, fmt.Errorf("%w: restaurant id required", ErrInvalidUpdate)
	}
	if sk == nil {
		sk = sink.Nop{}
	}
	opts = opts.withDefaults()
	orders, err := st.Get(ctx, restaurantID)
	if err != nil {
		return nil, &PersistenceError{RestaurantID: restaurantID, Op: "load", Err: err}
	}
	for id, s := range orders {
		s.Subscribers = nil
		orders[id] = s
	}
	a := &Actor{
		restaurantID: restaurantID,
		store:        st,
		sink:         sk,
		opts:         opts,
		log:          opts.Log.WithField("restaurant_id", restaurantID),
		mailbox:      make(chan func(), opts.MailboxSize),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		outbox:       make(chan model.ChangeEvent, opts.OutboxSize),
		published:    make(chan struct{}),
		orders:       orders,
		conns:        map[string]Conn{},
		subscribers:  map[string]struct{}{},
	}
	go a.run()
	go a.publishLoop()
	a.log.WithField("orders", len(orders)).Debug("actor started")
	return a, nil
}

func (a *Actor) RestaurantID() string { return a.restaurantID }

func (a *Actor) run() {
	defer close(a.done)
	for {
		select {
		case fn := <-a.mailbox:
			fn()
		case <-a.quit:
			return
		}
	}
}

func (a *Actor) publishLoop() {
	defer close(a.published)
	for evt := range a.outbox {
		ctx, cancel := context.WithTimeout(context.Background(), a.opts.PublishTimeout)
		if err := a.sink.Publish(ctx, evt); err != nil {
			a.log.WithFields(logrus.Fields{"order_id": evt.OrderID, "event_id": evt.ID}).WithError(err).Error("change event not delivered")
		}
		cancel()
	}
}

// Stop ends the mailbox and waits for queued change events to be handed to
// the sink. Pending calls return ErrActorStopped.
func (a *Actor) Stop() {
	a.stopOnce.Do(func() {
		close(a.quit)
		<-a.done
		close(a.outbox)
		<-a.published
		for _, c := range a.conns {
			_ = c.Close()
		}
		a.log.Debug("actor stopped")
	})
}

// Job states for exec.
const (
	jobQueued int32 = iota
	jobStarted
	jobAbandoned
)

// exec runs fn on the actor goroutine and waits for it. A caller whose ctx
// ends while fn is still queued gets ctx.Err() and fn never runs. Once fn
// has started, exec waits for it regardless of ctx, so a nil error means fn
// ran and a non-nil error means it did not.
func (a *Actor) exec(ctx context.Context, fn func()) error {
	var state atomic.Int32
	finished := make(chan struct{})
	job := func() {
		defer close(finished)
		if ctx.Err() != nil || !state.CompareAndSwap(jobQueued, jobStarted) {
			return
		}
		fn()
	}
	select {
	case a.mailbox <- job:
	case <-a.done:
		return ErrActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
	case <-a.done:
	case <-ctx.Done():
		if state.CompareAndSwap(jobQueued, jobAbandoned) {
			return ctx.Err()
		}
		select {
		case <-finished:
		case <-a.done:
		}
	}
	select {
	case <-finished:
		if state.Load() == jobStarted {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		return ErrActorStopped
	default:
		return ErrActorStopped
	}
}

// UpdateOrder applies a status change: write-through to the store, then push
// to subscribers, then enqueue a change event. A failed write leaves state as
// it was and returns *PersistenceError.
func (a *Actor) UpdateOrder(ctx context.Context, u model.OrderUpdate) (model.OrderSyncState, error) {
	if u.OrderID == "" {
		return model.OrderSyncState{}, fmt.Errorf("%w: order id required", ErrInvalidUpdate)
	}
	if !u.Status.Valid() {
		return model.OrderSyncState{}, fmt.Errorf("%w: unknown status %q", ErrInvalidUpdate, u.Status)
	}
	if u.RestaurantID != "" && u.RestaurantID != a.restaurantID {
		return model.OrderSyncState{}, fmt.Errorf("%w: restaurant %s routed to %s", ErrInvalidUpdate, u.RestaurantID, a.restaurantID)
	}
	var (
		out model.OrderSyncState
		err error
	)
	if xerr := a.exec(ctx, func() { out, err = a.applyUpdate(ctx, u) }); xerr != nil {
		return model.OrderSyncState{}, xerr
	}
	return out, err
}

func (a *Actor) applyUpdate(ctx context.Context, u model.OrderUpdate) (model.OrderSyncState, error) {
	now := a.opts.Now()
	if u.Timestamp.IsZero() {
		u.Timestamp = now
	}
	u.RestaurantID = a.restaurantID

	prev, existed := a.orders[u.OrderID]
	next := prev
	if !existed {
		next = model.OrderSyncState{OrderID: u.OrderID, RestaurantID: a.restaurantID, Platform: u.Platform}
	}
	if u.Platform != "" {
		next.Platform = u.Platform
	}
	next.Status = u.Status
	next.LastUpdated = u.Timestamp
	a.orders[u.OrderID] = next

	if err := a.persist(ctx, "update"); err != nil {
		if existed {
			a.orders[u.OrderID] = prev
		} else {
			delete(a.orders, u.OrderID)
		}
		metrics.OrderUpdates.WithLabelValues(u.Platform, "persist_failed").Inc()
		return model.OrderSyncState{}, err
	}
	metrics.OrderUpdates.WithLabelValues(u.Platform, "ok").Inc()

	view := a.view(next)
	a.broadcast(Message{Type: MsgOrderUpdated, RestaurantID: a.restaurantID, Order: &view, Update: &u, Timestamp: now})

	evt := model.ChangeEvent{
		ID:           uuid.NewString(),
		Type:         model.ChangeEventType,
		RestaurantID: a.restaurantID,
		OrderID:      u.OrderID,
		NewStatus:    u.Status,
		Platform:     next.Platform,
		Timestamp:    u.Timestamp,
	}
	if existed {
		evt.PreviousStatus = prev.Status
	}
	select {
	case a.outbox <- evt:
	default:
		metrics.SinkPublishes.WithLabelValues("dropped").Inc()
		a.log.WithField("order_id", u.OrderID).Error("change event outbox full, event dropped")
	}

	a.log.WithFields(logrus.Fields{
		"order_id": u.OrderID,
		"from":     prev.Status,
		"to":       u.Status,
		"platform": next.Platform,
	}).Debug("order updated")
	return view, nil
}

func (a *Actor) persist(ctx context.Context, op string) error {
	if err := a.store.Put(ctx, a.restaurantID, a.orders); err != nil {
		a.log.WithError(err).WithField("op", op).Error("state write failed")
		return &PersistenceError{RestaurantID: a.restaurantID, Op: op, Err: err}
	}
	return nil
}

// view fills in the derived subscriber list.
func (a *Actor) view(s model.OrderSyncState) model.OrderSyncState {
	s.Subscribers = a.subscriberIDs()
	return s
}

func (a *Actor) subscriberIDs() []string {
	if len(a.subscribers) == 0 {
		return nil
	}
	ids := make([]string, 0, len(a.subscribers))
	for id := range a.subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (a *Actor) snapshot() []model.OrderSyncState {
	subs := a.subscriberIDs()
	out := make([]model.OrderSyncState, 0, len(a.orders))
	for _, s := range a.orders {
		if subs != nil {
			s.Subscribers = append([]string(nil), subs...)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out
}

// broadcast sends msg to every subscribed connection. A failed send prunes
// that connection; it never fails the update.
func (a *Actor) broadcast(msg Message) {
	for _, id := range a.subscriberIDs() {
		c, ok := a.conns[id]
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.opts.SendTimeout)
		err := c.Send(ctx, msg)
		cancel()
		if err != nil {
			metrics.FanoutFailures.Inc()
			a.log.WithField("conn_id", id).WithError(err).Warn("pruning dead connection")
			a.drop(id)
			_ = c.Close()
		}
	}
}

func (a *Actor) drop(connID string) {
	delete(a.subscribers, connID)
	delete(a.conns, connID)
}

// Attach registers a live connection handle. Attaching an id again replaces
// the handle.
func (a *Actor) Attach(ctx context.Context, c Conn) error {
	return a.exec(ctx, func() { a.conns[c.ID()] = c })
}

// Subscribe adds an attached connection to the restaurant's subscribers. The
// acknowledgement carries the current orders.
func (a *Actor) Subscribe(ctx context.Context, connID string) (Message, error) {
	var (
		ack Message
		err error
	)
	xerr := a.exec(ctx, func() {
		if _, ok := a.conns[connID]; !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownConnection, connID)
			return
		}
		a.subscribers[connID] = struct{}{}
		ack = Message{Type: MsgSubscribed, RestaurantID: a.restaurantID, Orders: a.snapshot(), Timestamp: a.opts.Now()}
	})
	if xerr != nil {
		return Message{}, xerr
	}
	return ack, err
}

// Unsubscribe removes connID from the subscribers. The handle stays attached.
func (a *Actor) Unsubscribe(ctx context.Context, connID string) (Message, error) {
	var ack Message
	err := a.exec(ctx, func() {
		delete(a.subscribers, connID)
		ack = Message{Type: MsgUnsubscribed, RestaurantID: a.restaurantID, Timestamp: a.opts.Now()}
	})
	return ack, err
}

// ConnectionClosed forgets the handle and every subscription it held.
func (a *Actor) ConnectionClosed(ctx context.Context, connID string) error {
	return a.exec(ctx, func() { a.drop(connID) })
}

// CleanupOldOrders evicts orders idle for longer than maxAge, unless someone
// is watching the restaurant, and persists the reduced map.
func (a *Actor) CleanupOldOrders(ctx context.Context, maxAge time.Duration) (int, error) {
	var (
		removed int
		err     error
	)
	xerr := a.exec(ctx, func() {
		if len(a.subscribers) > 0 {
			return
		}
		now := a.opts.Now()
		evicted := map[string]model.OrderSyncState{}
		for id, s := range a.orders {
			if now.Sub(s.LastUpdated) > maxAge {
				evicted[id] = s
				delete(a.orders, id)
			}
		}
		if len(evicted) == 0 {
			return
		}
		if err = a.persist(ctx, "cleanup"); err != nil {
			for id, s := range evicted {
				a.orders[id] = s
			}
			return
		}
		removed = len(evicted)
		a.log.WithField("removed", removed).Info("evicted idle orders")
	})
	if xerr != nil {
		return 0, xerr
	}
	return removed, err
}

// Statistics is computed from current state on every call.
func (a *Actor) Statistics(ctx context.Context) (model.Statistics, error) {
	var st model.Statistics
	err := a.exec(ctx, func() {
		st = model.Statistics{
			RestaurantID:      a.restaurantID,
			TotalOrders:       len(a.orders),
			ByStatus:          map[model.OrderStatus]int{},
			ByPlatform:        map[string]int{},
			ActiveConnections: len(a.conns),
		}
		for _, s := range a.orders {
			st.ByStatus[s.Status]++
			st.ByPlatform[s.Platform]++
		}
	})
	return st, err
}

// Snapshot returns current orders sorted by id.
func (a *Actor) Snapshot(ctx context.Context) ([]model.OrderSyncState, error) {
	var out []model.OrderSyncState
	err := a.exec(ctx, func() { out = a.snapshot() })
	return out, err
}

// Order returns one order's state.
func (a *Actor) Order(ctx context.Context, orderID string) (model.OrderSyncState, bool, error) {
	var (
		s  model.OrderSyncState
		ok bool
	)
	err := a.exec(ctx, func() {
		s, ok = a.orders[orderID]
		if ok {
			s = a.view(s)
		}
	})
	return s, ok, err
}
