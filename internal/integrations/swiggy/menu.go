package swiggy

import (
	"fmt"
	"strings"
	"time"

	"orderhub/internal/model"
)

// normalizeMenu walks category -> item -> addon group -> option, validating
// prices at every leaf.
func normalizeMenu(w wireMenu, now time.Time) (*model.Menu, error) {
	m := &model.Menu{
		RestaurantID: w.RestaurantID,
		Platform:     platformName,
		UpdatedAt:    now,
		Categories:   make([]model.MenuCategory, 0, len(w.Categories)),
	}
	for _, wc := range w.Categories {
		cat := model.MenuCategory{ID: wc.CategoryID, Name: wc.Name, Items: make([]model.MenuItem, 0, len(wc.Items))}
		for _, wi := range wc.Items {
			price, err := wi.Price.Price()
			if err != nil {
				return nil, fmt.Errorf("menu item %s: %w", wi.ItemID, err)
			}
			item := model.MenuItem{
				ID:          wi.ItemID,
				Name:        wi.Name,
				Description: wi.Description,
				Price:       price,
				Available:   wi.InStock,
			}
			for _, g := range wi.AddonGroups {
				cust := model.MenuCustomization{
					ID:       g.GroupID,
					Name:     g.Name,
					Type:     strings.ToLower(g.Type),
					Required: g.Required,
				}
				for _, o := range g.Options {
					op, err := o.Price.OptionalPrice()
					if err != nil {
						return nil, fmt.Errorf("menu item %s option %s: %w", wi.ItemID, o.OptionID, err)
					}
					cust.Options = append(cust.Options, model.MenuOption{ID: o.OptionID, Name: o.Name, Price: op, Available: o.InStock})
				}
				item.Customizations = append(item.Customizations, cust)
			}
			cat.Items = append(cat.Items, item)
		}
		m.Categories = append(m.Categories, cat)
	}
	return m, nil
}

// mapToSwiggyMenu is the inverse of normalizeMenu, used for menu pushes.
func mapToSwiggyMenu(m model.Menu) wireMenu {
	w := wireMenu{RestaurantID: m.RestaurantID, Categories: make([]wireMenuCategory, 0, len(m.Categories))}
	for _, c := range m.Categories {
		wc := wireMenuCategory{CategoryID: c.ID, Name: c.Name, Items: make([]wireMenuItem, 0, len(c.Items))}
		for _, it := range c.Items {
			wi := wireMenuItem{
				ItemID:      it.ID,
				Name:        it.Name,
				Description: it.Description,
				Price:       NewAmount(it.Price),
				InStock:     it.Available,
			}
			for _, cu := range it.Customizations {
				g := wireAddonGroup{GroupID: cu.ID, Name: cu.Name, Type: strings.ToUpper(cu.Type), Required: cu.Required}
				for _, o := range cu.Options {
					g.Options = append(g.Options, wireAddonOption{OptionID: o.ID, Name: o.Name, Price: NewAmount(o.Price), InStock: o.Available})
				}
				wi.AddonGroups = append(wi.AddonGroups, g)
			}
			wc.Items = append(wc.Items, wi)
		}
		w.Categories = append(w.Categories, wc)
	}
	return w
}
