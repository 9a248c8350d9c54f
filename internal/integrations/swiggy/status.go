package swiggy

import (
	"strings"

	"orderhub/internal/integrations"
	"orderhub/internal/model"
)

const initialStatus = "PLACED"

var fromSwiggy = map[string]model.OrderStatus{
	"PLACED":           model.StatusReceived,
	"ACCEPTED":         model.StatusConfirmed,
	"PREPARING":        model.StatusPreparing,
	"READY":            model.StatusReady,
	"PICKED_UP":        model.StatusPickedUp,
	"OUT_FOR_DELIVERY": model.StatusOutForDelivery,
	"DELIVERED":        model.StatusDelivered,
	"CANCELLED":        model.StatusCancelled,
}

var toSwiggy = func() map[model.OrderStatus]string {
	m := make(map[model.OrderStatus]string, len(fromSwiggy))
	for k, v := range fromSwiggy {
		m[v] = k
	}
	return m
}()

// unifiedStatus maps a Swiggy status token. Tokens outside the dictionary go
// through the generic validator.
func unifiedStatus(raw string) model.OrderStatus {
	if s, ok := fromSwiggy[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return s
	}
	return integrations.ValidateOrderStatus(raw)
}

// nativeStatus maps a unified status to Swiggy; unmapped ones become PLACED.
func nativeStatus(s model.OrderStatus) string {
	if v, ok := toSwiggy[s]; ok {
		return v
	}
	return initialStatus
}
