package model

// OrderStatus is the unified status vocabulary.
type OrderStatus string

const (
	StatusReceived       OrderStatus = "received"
	StatusConfirmed      OrderStatus = "confirmed"
	StatusPreparing      OrderStatus = "preparing"
	StatusReady          OrderStatus = "ready"
	StatusPickedUp       OrderStatus = "picked_up"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
	StatusRefunded       OrderStatus = "refunded"
)

// Statuses lists every status in lifecycle order.
var Statuses = []OrderStatus{
	StatusReceived,
	StatusConfirmed,
	StatusPreparing,
	StatusReady,
	StatusPickedUp,
	StatusOutForDelivery,
	StatusDelivered,
	StatusCancelled,
	StatusRefunded,
}

func (s OrderStatus) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the order has left its active lifecycle.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusRefunded
}
