package model

import "time"

type MenuOption struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Available bool    `json:"available"`
}

type MenuCustomization struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Type     string       `json:"type"` // single, multiple
	Required bool         `json:"required"`
	Options  []MenuOption `json:"options"`
}

type MenuItem struct {
	ID             string              `json:"id"`
	Name           string              `json:"name"`
	Description    string              `json:"description,omitempty"`
	Price          float64             `json:"price"`
	Available      bool                `json:"available"`
	Customizations []MenuCustomization `json:"customizations,omitempty"`
}

type MenuCategory struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Items []MenuItem `json:"items"`
}

type Menu struct {
	RestaurantID string         `json:"restaurantId"`
	Platform     string         `json:"platform"`
	Categories   []MenuCategory `json:"categories"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}
