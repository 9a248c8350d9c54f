// Package orderhub holds the live order state of every restaurant. Each
// restaurant is served by one Actor that applies updates strictly in arrival
// order, persists them, and pushes them to subscribed dashboard connections.
package orderhub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orderhub/internal/model"
)

// Push message types.
const (
	MsgOrderUpdated = "order_updated"
	MsgSubscribed   = "subscribed"
	MsgUnsubscribed = "unsubscribed"
	MsgPong         = "pong"
	MsgError        = "error"
)

// Message is the envelope pushed to a connection.
type Message struct {
	Type         string                 `json:"type"`
	RestaurantID string                 `json:"restaurantId,omitempty"`
	Order        *model.OrderSyncState  `json:"order,omitempty"`
	Update       *model.OrderUpdate     `json:"update,omitempty"`
	Orders       []model.OrderSyncState `json:"orders,omitempty"`
	Error        string                 `json:"error,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// Conn is a live transport handle to one dashboard. Send must not block for
// long; an error marks the connection dead.
type Conn interface {
	ID() string
	Send(ctx context.Context, msg Message) error
	Close() error
}

var (
	ErrInvalidUpdate     = errors.New("invalid order update")
	ErrUnknownConnection = errors.New("unknown connection")
	ErrActorStopped      = errors.New("actor stopped")
	ErrHubClosed         = errors.New("hub closed")
)

// PersistenceError means the state store rejected a write or read. The
// triggering operation was not applied.
type PersistenceError struct {
	RestaurantID string
	Op           string
	Err          error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s for restaurant %s: %v", e.Op, e.RestaurantID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
