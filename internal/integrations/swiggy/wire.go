package swiggy

import (
	"encoding/json"

	"orderhub/internal/integrations"
)

// Wire shapes of the Swiggy partner API.

// Amount is a price as Swiggy sends it: a JSON number or a numeric string.
type Amount struct {
	v   any
	set bool
}

func NewAmount(v float64) Amount { return Amount{v: v, set: true} }

func (a *Amount) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	a.set = true
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		a.v = s
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	a.v = f
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) { return json.Marshal(a.v) }

// Price validates a required amount.
func (a Amount) Price() (float64, error) { return integrations.ValidatePrice(a.v) }

// OptionalPrice validates an amount that defaults to 0 when absent.
func (a Amount) OptionalPrice() (float64, error) {
	if !a.set {
		return 0, nil
	}
	return a.Price()
}

type authRequest struct {
	PartnerID string `json:"partner_id"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	GrantType string `json:"grant_type"`
}

type authResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type ordersResponse struct {
	Orders []json.RawMessage `json:"orders"`
	Total  int               `json:"total"`
}

type orderResponse struct {
	Order json.RawMessage `json:"order"`
}

type webhookEnvelope struct {
	Event string          `json:"event"`
	Order json.RawMessage `json:"order"`
}

type wireOrder struct {
	OrderID               string               `json:"order_id"`
	RestaurantID          string               `json:"restaurant_id"`
	Status                string               `json:"status"`
	Customer              wireCustomer         `json:"customer"`
	Items                 []wireItem           `json:"items"`
	Bill                  wireBill             `json:"bill"`
	DeliveryType          string               `json:"delivery_type"`
	DeliveryPartner       *wireDeliveryPartner `json:"delivery_partner,omitempty"`
	EstimatedDeliveryTime string               `json:"estimated_delivery_time,omitempty"`
	TrackingURL           string               `json:"tracking_url,omitempty"`
	CreatedAt             string               `json:"created_at"`
	UpdatedAt             string               `json:"updated_at"`
}

type wireCustomer struct {
	Name    string      `json:"name"`
	Phone   string      `json:"phone"`
	Email   string      `json:"email,omitempty"`
	Address wireAddress `json:"address"`
}

type wireAddress struct {
	Line1   string   `json:"line1"`
	City    string   `json:"city"`
	State   string   `json:"state"`
	Pincode string   `json:"pincode"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

type wireItem struct {
	ItemID              string      `json:"item_id"`
	Name                string      `json:"name"`
	Quantity            int         `json:"quantity"`
	Price               Amount      `json:"price"`
	Total               Amount      `json:"total"`
	Addons              []wireAddon `json:"addons,omitempty"`
	SpecialInstructions string      `json:"special_instructions,omitempty"`
}

type wireAddon struct {
	GroupName string `json:"group_name"`
	Name      string `json:"name"`
	Price     Amount `json:"price"`
}

type wireBill struct {
	Subtotal       Amount  `json:"subtotal"`
	Taxes          Amount  `json:"taxes"`
	DeliveryCharge Amount  `json:"delivery_charge"`
	PackingCharge  Amount  `json:"packing_charge"`
	Discount       *Amount `json:"discount,omitempty"`
	Total          Amount  `json:"total"`
}

type wireDeliveryPartner struct {
	Assigned      bool   `json:"assigned"`
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	VehicleNumber string `json:"vehicle_number,omitempty"`
}

type wireMenu struct {
	RestaurantID string             `json:"restaurant_id"`
	Categories   []wireMenuCategory `json:"categories"`
}

type wireMenuCategory struct {
	CategoryID string         `json:"category_id"`
	Name       string         `json:"name"`
	Items      []wireMenuItem `json:"items"`
}

type wireMenuItem struct {
	ItemID      string           `json:"item_id"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Price       Amount           `json:"price"`
	InStock     bool             `json:"in_stock"`
	AddonGroups []wireAddonGroup `json:"addon_groups,omitempty"`
}

type wireAddonGroup struct {
	GroupID  string            `json:"group_id"`
	Name     string            `json:"name"`
	Type     string            `json:"type"` // SINGLE, MULTIPLE
	Required bool              `json:"required"`
	Options  []wireAddonOption `json:"options"`
}

type wireAddonOption struct {
	OptionID string `json:"option_id"`
	Name     string `json:"name"`
	Price    Amount `json:"price"`
	InStock  bool   `json:"in_stock"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type itemPatch struct {
	InStock *bool   `json:"in_stock,omitempty"`
	Price   *Amount `json:"price,omitempty"`
}

type analyticsResponse struct {
	TotalOrders     int            `json:"total_orders"`
	TotalRevenue    Amount         `json:"total_revenue"`
	StatusBreakdown map[string]int `json:"status_breakdown"`
}
