package model

import "time"

// OrderSyncState is the live view of one order held by a restaurant's actor.
// Subscribers is filled in from the restaurant registry when the state is
// read or pushed; it is not persisted.
type OrderSyncState struct {
	OrderID      string      `json:"orderId"`
	Status       OrderStatus `json:"status"`
	RestaurantID string      `json:"restaurantId"`
	Platform     string      `json:"platform"`
	LastUpdated  time.Time   `json:"lastUpdated"`
	Subscribers  []string    `json:"subscribers,omitempty"`
}

// OrderUpdate is an inbound status change, from an adapter or an operator.
type OrderUpdate struct {
	OrderID      string         `json:"orderId"`
	RestaurantID string         `json:"restaurantId,omitempty"`
	Status       OrderStatus    `json:"status"`
	Timestamp    time.Time      `json:"timestamp"`
	Platform     string         `json:"platform"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Change event type published to the downstream sink.
const ChangeEventType = "order_status_change"

type ChangeEvent struct {
	ID             string      `json:"id"`
	Type           string      `json:"type"`
	RestaurantID   string      `json:"restaurantId"`
	OrderID        string      `json:"orderId"`
	PreviousStatus OrderStatus `json:"previousStatus,omitempty"`
	NewStatus      OrderStatus `json:"newStatus"`
	Platform       string      `json:"platform"`
	Timestamp      time.Time   `json:"timestamp"`
}

// Statistics is computed on demand from an actor's current state.
type Statistics struct {
	RestaurantID      string              `json:"restaurantId"`
	TotalOrders       int                 `json:"totalOrders"`
	ByStatus          map[OrderStatus]int `json:"byStatus"`
	ByPlatform        map[string]int      `json:"byPlatform"`
	ActiveConnections int                 `json:"activeConnections"`
}
