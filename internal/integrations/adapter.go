package integrations

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"orderhub/internal/model"
)

// PlatformAdapter is implemented by every delivery-platform integration.
// Transport concerns (auth, rate limiting, retries) live in Client, which
// adapters compose rather than inherit.
type PlatformAdapter interface {
	Name() string

	FetchOrders(ctx context.Context, filters model.OrderFilters) ([]model.UnifiedOrder, error)
	GetOrderDetails(ctx context.Context, orderID string) (*model.UnifiedOrder, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus) (bool, error)
	CancelOrder(ctx context.Context, orderID, reason string) (bool, error)

	GetMenu(ctx context.Context) (*model.Menu, error)
	UpdateMenu(ctx context.Context, menu model.Menu) (bool, error)
	UpdateItemAvailability(ctx context.Context, itemID string, available bool) (bool, error)
	UpdateItemPrice(ctx context.Context, itemID string, price float64) (bool, error)

	GetOrderAnalytics(ctx context.Context, r model.DateRange) (*model.OrderAnalytics, error)
	HealthCheck(ctx context.Context) model.HealthStatus

	// VerifyWebhook checks the signature of a platform-initiated payload.
	VerifyWebhook(payload []byte, signature string) error
	// ParseWebhook decodes a verified webhook payload into a unified order.
	ParseWebhook(payload []byte) (model.UnifiedOrder, error)
}

// Authenticator performs the platform-specific login.
type Authenticator interface {
	Authenticate(ctx context.Context) (AuthResult, error)
}

// AuthResult is the outcome of a login. A rejected login is reported with
// Success=false and a readable Error rather than a Go error.
type AuthResult struct {
	Success      bool
	Token        string
	RefreshToken string
	ExpiresIn    int // seconds
	Error        string
}

// Registry holds the adapters configured at startup, keyed by platform name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]PlatformAdapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: map[string]PlatformAdapter{}}
}

func (r *Registry) Register(a PlatformAdapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adapters[a.Name()]; ok {
		return fmt.Errorf("adapter %q already registered", a.Name())
	}
	r.adapters[a.Name()] = a
	return nil
}

func (r *Registry) Get(name string) (PlatformAdapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns registered platform names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) All() []PlatformAdapter {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PlatformAdapter, 0, len(names))
	for _, n := range names {
		out = append(out, r.adapters[n])
	}
	return out
}
