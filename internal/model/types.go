package model

import (
	"math"
	"time"
)

// Core domain types shared by adapters, the sync hub and the API.

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Address struct {
	Street      string    `json:"street"`
	City        string    `json:"city"`
	State       string    `json:"state"`
	Country     string    `json:"country"`
	ZipCode     string    `json:"zipCode"`
	Coordinates *GeoPoint `json:"coordinates,omitempty"`
}

type Customer struct {
	Name    string  `json:"name"`
	Phone   string  `json:"phone"`
	Email   string  `json:"email,omitempty"`
	Address Address `json:"address"`
}

type Customization struct {
	Name  string  `json:"name"`
	Value string  `json:"value"`
	Price float64 `json:"price"`
}

type OrderItem struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Quantity       int             `json:"quantity"`
	UnitPrice      float64         `json:"unitPrice"`
	TotalPrice     float64         `json:"totalPrice"`
	Customizations []Customization `json:"customizations,omitempty"`
	Instructions   string          `json:"instructions,omitempty"`
}

// Timeline event types
const (
	EventOrderPlaced   = "order_placed"
	EventStatusUpdated = "status_updated"
)

type TimelineEvent struct {
	Type        string         `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type Pricing struct {
	Subtotal    float64 `json:"subtotal"`
	Tax         float64 `json:"tax"`
	DeliveryFee float64 `json:"deliveryFee"`
	ServiceFee  float64 `json:"serviceFee"`
	Discount    float64 `json:"discount"`
	Total       float64 `json:"total"`
	Currency    string  `json:"currency"`
}

// Expected is subtotal + tax + fees - discount.
func (p Pricing) Expected() float64 {
	return p.Subtotal + p.Tax + p.DeliveryFee + p.ServiceFee - p.Discount
}

// Balanced reports whether Total matches Expected within tolerance.
func (p Pricing) Balanced(tolerance float64) bool {
	return math.Abs(p.Total-p.Expected()) <= tolerance
}

// Delivery types
const (
	DeliveryPickup   = "pickup"
	DeliveryDelivery = "delivery"
)

type Driver struct {
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	VehicleNumber string `json:"vehicleNumber,omitempty"`
}

type Delivery struct {
	Type        string     `json:"type"`
	Driver      *Driver    `json:"driver,omitempty"`
	ETA         *time.Time `json:"eta,omitempty"`
	TrackingURL string     `json:"trackingUrl,omitempty"`
}

// UnifiedOrder is the platform-agnostic order record every adapter normalizes into.
type UnifiedOrder struct {
	ID              string          `json:"id"`
	Platform        string          `json:"platform"`
	PlatformOrderID string          `json:"platformOrderId"`
	RestaurantID    string          `json:"restaurantId"`
	Customer        Customer        `json:"customer"`
	Items           []OrderItem     `json:"items"`
	Status          OrderStatus     `json:"status"`
	Timeline        []TimelineEvent `json:"timeline"`
	Pricing         Pricing         `json:"pricing"`
	Delivery        Delivery        `json:"delivery"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// UnifiedOrderID builds the globally unique id for a platform-native order id.
func UnifiedOrderID(platform, nativeID string) string {
	return platform + "_" + nativeID
}

// ApplyStatus moves the order to status at the given time and appends a
// status_updated timeline entry recording the previous status.
func (o *UnifiedOrder) ApplyStatus(status OrderStatus, at time.Time, description string) {
	prev := o.Status
	if description == "" {
		description = "Order status updated to " + string(status)
	}
	o.Timeline = append(o.Timeline, TimelineEvent{
		Type:        EventStatusUpdated,
		Timestamp:   at,
		Description: description,
		Metadata:    map[string]any{"previousStatus": string(prev), "newStatus": string(status)},
	})
	o.Status = status
	o.UpdatedAt = at
}

// Update is the message shape the sync hub consumes for a single status change.
func (o UnifiedOrder) Update() OrderUpdate {
	return OrderUpdate{
		OrderID:      o.ID,
		RestaurantID: o.RestaurantID,
		Status:       o.Status,
		Timestamp:    o.UpdatedAt,
		Platform:     o.Platform,
	}
}

type OrderFilters struct {
	Status    []OrderStatus `json:"status,omitempty"`
	StartDate *time.Time    `json:"startDate,omitempty"`
	EndDate   *time.Time    `json:"endDate,omitempty"`
	Limit     int           `json:"limit,omitempty"`
	Offset    int           `json:"offset,omitempty"`
}

type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type OrderAnalytics struct {
	Platform          string              `json:"platform"`
	TotalOrders       int                 `json:"totalOrders"`
	TotalRevenue      float64             `json:"totalRevenue"`
	AverageOrderValue float64             `json:"averageOrderValue"`
	StatusBreakdown   map[OrderStatus]int `json:"statusBreakdown"`
}

type HealthStatus struct {
	Platform  string    `json:"platform"`
	Healthy   bool      `json:"healthy"`
	LatencyMS int64     `json:"latencyMs"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

// RoundMoney rounds to 2 decimal places.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
