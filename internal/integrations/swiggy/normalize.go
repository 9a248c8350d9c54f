package swiggy

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"orderhub/internal/integrations"
	"orderhub/internal/model"
)

const (
	platformName = "swiggy"
	country      = "India"
	currency     = "INR"

	// Bills are quoted to the paisa.
	pricingTolerance = 0.01
)

// normalizeOrder maps one raw Swiggy order onto the unified model. The raw
// payload is kept in Metadata["raw"] so fields we do not map survive.
func normalizeOrder(raw json.RawMessage, now time.Time, fallbackRestaurant string) (model.UnifiedOrder, error) {
	var w wireOrder
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.UnifiedOrder{}, fmt.Errorf("swiggy decode order: %w", err)
	}
	if w.OrderID == "" {
		return model.UnifiedOrder{}, fmt.Errorf("swiggy order without order_id")
	}

	createdAt, err := parseTime(w.CreatedAt, now)
	if err != nil {
		return model.UnifiedOrder{}, fmt.Errorf("order %s created_at: %w", w.OrderID, err)
	}
	updatedAt, err := parseTime(w.UpdatedAt, createdAt)
	if err != nil {
		return model.UnifiedOrder{}, fmt.Errorf("order %s updated_at: %w", w.OrderID, err)
	}

	customer, err := normalizeCustomer(w.Customer)
	if err != nil {
		return model.UnifiedOrder{}, fmt.Errorf("order %s: %w", w.OrderID, err)
	}
	items, err := normalizeItems(w.Items)
	if err != nil {
		return model.UnifiedOrder{}, fmt.Errorf("order %s: %w", w.OrderID, err)
	}
	pricing, err := normalizeBill(w.Bill)
	if err != nil {
		return model.UnifiedOrder{}, fmt.Errorf("order %s: %w", w.OrderID, err)
	}
	delivery, err := normalizeDelivery(w, now)
	if err != nil {
		return model.UnifiedOrder{}, fmt.Errorf("order %s: %w", w.OrderID, err)
	}

	restaurantID := w.RestaurantID
	if restaurantID == "" {
		restaurantID = fallbackRestaurant
	}
	status := unifiedStatus(w.Status)

	o := model.UnifiedOrder{
		ID:              model.UnifiedOrderID(platformName, w.OrderID),
		Platform:        platformName,
		PlatformOrderID: w.OrderID,
		RestaurantID:    restaurantID,
		Customer:        customer,
		Items:           items,
		Status:          status,
		Pricing:         pricing,
		Delivery:        delivery,
		Metadata:        map[string]any{"raw": raw, "nativeStatus": w.Status},
		CreatedAt:       createdAt,
		UpdatedAt:       updatedAt,
		Timeline: []model.TimelineEvent{{
			Type:        model.EventOrderPlaced,
			Timestamp:   createdAt,
			Description: "Order placed on Swiggy",
		}},
	}
	if !updatedAt.Equal(createdAt) {
		// Placed orders start as received; the platform status is a later step.
		o.Status, o.UpdatedAt = model.StatusReceived, createdAt
		o.ApplyStatus(status, updatedAt, "")
		o.Timeline[len(o.Timeline)-1].Metadata["nativeStatus"] = w.Status
	}
	return o, nil
}

func normalizeCustomer(w wireCustomer) (model.Customer, error) {
	phone, err := integrations.ValidatePhoneNumber(w.Phone)
	if err != nil {
		return model.Customer{}, err
	}
	c := model.Customer{
		Name:  w.Name,
		Phone: phone,
		Email: w.Email,
		Address: model.Address{
			Street:  w.Address.Line1,
			City:    w.Address.City,
			State:   w.Address.State,
			Country: country,
			ZipCode: w.Address.Pincode,
		},
	}
	if w.Address.Lat != nil && w.Address.Lng != nil {
		c.Address.Coordinates = &model.GeoPoint{Lat: *w.Address.Lat, Lng: *w.Address.Lng}
	}
	return c, nil
}

func normalizeItems(ws []wireItem) ([]model.OrderItem, error) {
	items := make([]model.OrderItem, 0, len(ws))
	for _, w := range ws {
		if w.Quantity <= 0 {
			return nil, fmt.Errorf("item %s: quantity must be positive, got %d", w.ItemID, w.Quantity)
		}
		unit, err := w.Price.Price()
		if err != nil {
			return nil, fmt.Errorf("item %s: %w", w.ItemID, err)
		}
		it := model.OrderItem{
			ID:           w.ItemID,
			Name:         w.Name,
			Quantity:     w.Quantity,
			UnitPrice:    unit,
			Instructions: w.SpecialInstructions,
		}
		addons := 0.0
		for _, a := range w.Addons {
			p, err := a.Price.OptionalPrice()
			if err != nil {
				return nil, fmt.Errorf("item %s addon %s: %w", w.ItemID, a.Name, err)
			}
			addons += p
			it.Customizations = append(it.Customizations, model.Customization{Name: a.GroupName, Value: a.Name, Price: p})
		}
		total, err := w.Total.OptionalPrice()
		if err != nil {
			return nil, fmt.Errorf("item %s total: %w", w.ItemID, err)
		}
		if total == 0 {
			total = (unit + addons) * float64(w.Quantity)
		}
		it.TotalPrice = model.RoundMoney(total)
		items = append(items, it)
	}
	return items, nil
}

func normalizeBill(w wireBill) (model.Pricing, error) {
	var (
		p   = model.Pricing{Currency: currency}
		err error
	)
	if p.Subtotal, err = w.Subtotal.Price(); err != nil {
		return p, fmt.Errorf("subtotal: %w", err)
	}
	if p.Tax, err = w.Taxes.OptionalPrice(); err != nil {
		return p, fmt.Errorf("taxes: %w", err)
	}
	if p.DeliveryFee, err = w.DeliveryCharge.OptionalPrice(); err != nil {
		return p, fmt.Errorf("delivery charge: %w", err)
	}
	if p.ServiceFee, err = w.PackingCharge.OptionalPrice(); err != nil {
		return p, fmt.Errorf("packing charge: %w", err)
	}
	if w.Discount != nil {
		if p.Discount, err = w.Discount.OptionalPrice(); err != nil {
			return p, fmt.Errorf("discount: %w", err)
		}
	}
	if p.Total, err = w.Total.Price(); err != nil {
		return p, fmt.Errorf("total: %w", err)
	}
	if !p.Balanced(pricingTolerance) {
		return p, &integrations.InvalidPricingError{Total: p.Total, Expected: model.RoundMoney(p.Expected())}
	}
	return p, nil
}

func normalizeDelivery(w wireOrder, now time.Time) (model.Delivery, error) {
	d := model.Delivery{Type: model.DeliveryDelivery, TrackingURL: w.TrackingURL}
	switch strings.ToUpper(w.DeliveryType) {
	case "TAKEAWAY", "PICKUP", "SELF_PICKUP":
		d.Type = model.DeliveryPickup
	}
	if dp := w.DeliveryPartner; dp != nil && dp.Assigned {
		d.Driver = &model.Driver{Name: dp.Name, Phone: dp.Phone, VehicleNumber: dp.VehicleNumber}
	}
	if w.EstimatedDeliveryTime != "" {
		eta, err := parseTime(w.EstimatedDeliveryTime, now)
		if err != nil {
			return d, fmt.Errorf("estimated_delivery_time: %w", err)
		}
		d.ETA = &eta
	}
	return d, nil
}

// parseTime accepts RFC3339; an empty value yields def.
func parseTime(v string, def time.Time) (time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return def, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
