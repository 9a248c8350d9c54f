package orderhub

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"orderhub/internal/metrics"
	"orderhub/internal/model"
	"orderhub/internal/sink"
	"orderhub/internal/store"
)

type actorEntry struct {
	ready chan struct{}
	actor *Actor
	err   error
}

// Hub is the registry of restaurant actors. Actors start on first use and
// load their state from the store once.
type Hub struct {
	store store.StateStore
	sink  sink.EventSink
	opts  Options
	log   logrus.FieldLogger

	mu     sync.Mutex
	actors map[string]*actorEntry
	// connection id -> restaurants it attached to
	conns  map[string]map[string]struct{}
	closed bool
}

func NewHub(st store.StateStore, sk sink.EventSink, opts Options) *Hub {
	opts = opts.withDefaults()
	return &Hub{
		store:  st,
		sink:   sk,
		opts:   opts,
		log:    opts.Log,
		actors: map[string]*actorEntry{},
		conns:  map[string]map[string]struct{}{},
	}
}

// Actor returns the actor for restaurantID, starting it if needed.
func (h *Hub) Actor(ctx context.Context, restaurantID string) (*Actor, error) {
	if restaurantID == "" {
		return nil, fmt.Errorf("%w: restaurant id required", ErrInvalidUpdate)
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	e, ok := h.actors[restaurantID]
	if !ok {
		e = &actorEntry{ready: make(chan struct{})}
		h.actors[restaurantID] = e
		h.mu.Unlock()

		a, err := NewActor(ctx, restaurantID, h.store, h.sink, h.opts)
		h.mu.Lock()
		e.actor, e.err = a, err
		if err != nil {
			delete(h.actors, restaurantID)
		} else {
			metrics.ActiveActors.Inc()
		}
		h.mu.Unlock()
		close(e.ready)
	} else {
		h.mu.Unlock()
	}

	select {
	case <-e.ready:
		return e.actor, e.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Route delivers an update to its restaurant's actor.
func (h *Hub) Route(ctx context.Context, u model.OrderUpdate) (model.OrderSyncState, error) {
	a, err := h.Actor(ctx, u.RestaurantID)
	if err != nil {
		return model.OrderSyncState{}, err
	}
	return a.UpdateOrder(ctx, u)
}

// Subscribe attaches c to the restaurant's actor and subscribes it.
func (h *Hub) Subscribe(ctx context.Context, c Conn, restaurantID string) (Message, error) {
	a, err := h.Actor(ctx, restaurantID)
	if err != nil {
		return Message{}, err
	}
	if err := a.Attach(ctx, c); err != nil {
		return Message{}, err
	}
	h.mu.Lock()
	if h.conns[c.ID()] == nil {
		h.conns[c.ID()] = map[string]struct{}{}
	}
	h.conns[c.ID()][restaurantID] = struct{}{}
	h.mu.Unlock()
	return a.Subscribe(ctx, c.ID())
}

func (h *Hub) Unsubscribe(ctx context.Context, connID, restaurantID string) (Message, error) {
	a, err := h.Actor(ctx, restaurantID)
	if err != nil {
		return Message{}, err
	}
	return a.Unsubscribe(ctx, connID)
}

// ConnectionClosed tells every actor the connection touched that it is gone.
func (h *Hub) ConnectionClosed(ctx context.Context, connID string) {
	h.mu.Lock()
	restaurants := h.conns[connID]
	delete(h.conns, connID)
	actors := make([]*Actor, 0, len(restaurants))
	for id := range restaurants {
		if e, ok := h.actors[id]; ok && e.actor != nil {
			actors = append(actors, e.actor)
		}
	}
	h.mu.Unlock()

	for _, a := range actors {
		if err := a.ConnectionClosed(ctx, connID); err != nil {
			h.log.WithFields(logrus.Fields{"conn_id": connID, "restaurant_id": a.RestaurantID()}).WithError(err).Warn("connection close not delivered")
		}
	}
}

// Restaurants lists running actors.
func (h *Hub) Restaurants() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.actors))
	for id, e := range h.actors {
		if e.actor != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) running() []*Actor {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Actor, 0, len(h.actors))
	for _, e := range h.actors {
		if e.actor != nil {
			out = append(out, e.actor)
		}
	}
	return out
}

// CleanupAll runs CleanupOldOrders on every actor and returns the total
// evicted. Failures are logged and skipped.
func (h *Hub) CleanupAll(ctx context.Context, maxAge time.Duration) int {
	total := 0
	for _, a := range h.running() {
		n, err := a.CleanupOldOrders(ctx, maxAge)
		if err != nil {
			h.log.WithField("restaurant_id", a.RestaurantID()).WithError(err).Error("cleanup failed")
			continue
		}
		total += n
	}
	return total
}

// Janitor sweeps idle orders every interval until ctx ends.
func (h *Hub) Janitor(ctx context.Context, interval, maxAge time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := h.CleanupAll(ctx, maxAge); n > 0 {
				h.log.WithField("removed", n).Info("janitor sweep")
			}
		}
	}
}

// Close stops every actor. Further calls to Actor fail with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	entries := make([]*actorEntry, 0, len(h.actors))
	for _, e := range h.actors {
		entries = append(entries, e)
	}
	h.mu.Unlock()

	for _, e := range entries {
		<-e.ready
		if e.actor != nil {
			e.actor.Stop()
			metrics.ActiveActors.Dec()
		}
	}
}
