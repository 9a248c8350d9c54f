// Package swiggy integrates the Swiggy partner API.
package swiggy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"orderhub/internal/config"
	"orderhub/internal/integrations"
	"orderhub/internal/model"
	"orderhub/internal/webhooks"
)

type Adapter struct {
	cfg    config.PlatformConfig
	client *integrations.Client
	log    logrus.FieldLogger
}

var _ integrations.PlatformAdapter = (*Adapter)(nil)

// New builds the adapter and its transport client. opts are passed to the
// client (HTTP client, clock, rate-limit observer).
func New(cfg config.PlatformConfig, log logrus.FieldLogger, opts ...integrations.ClientOption) *Adapter {
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &Adapter{cfg: cfg, log: log.WithField("platform", platformName)}
	copts := append([]integrations.ClientOption{integrations.WithLogger(log)}, opts...)
	a.client = integrations.NewClient(integrations.ClientConfig{
		Platform:          platformName,
		BaseURL:           cfg.BaseURL,
		Timeout:           cfg.Timeout,
		RetryAttempts:     cfg.RetryAttempts,
		RateLimitBuffer:   cfg.RateLimitBuffer,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, a, copts...)
	return a
}

func (a *Adapter) Name() string { return platformName }

// Client exposes the transport for inspection.
func (a *Adapter) Client() *integrations.Client { return a.client }

func (a *Adapter) now() time.Time { return a.client.Clock().Now().UTC() }

// Authenticate exchanges partner credentials for an access token. A rejected
// exchange is reported in the result, not as an error.
func (a *Adapter) Authenticate(ctx context.Context) (integrations.AuthResult, error) {
	body, err := json.Marshal(authRequest{
		PartnerID: a.cfg.PartnerID,
		APIKey:    a.cfg.APIKey,
		APISecret: a.cfg.APISecret,
		GrantType: "client_credentials",
	})
	if err != nil {
		return integrations.AuthResult{}, err
	}
	resp, err := a.client.Send(ctx, http.MethodPost, "/auth/token", body, nil)
	if err != nil {
		return integrations.AuthResult{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return integrations.AuthResult{
			Success: false,
			Error:   fmt.Sprintf("Swiggy authentication failed: %d %s", resp.StatusCode, strings.TrimSpace(string(resp.Body))),
		}, nil
	}
	var ar authResponse
	if err := json.Unmarshal(resp.Body, &ar); err != nil {
		return integrations.AuthResult{Success: false, Error: "Swiggy authentication failed: malformed token response"}, nil
	}
	return integrations.AuthResult{
		Success:      true,
		Token:        ar.AccessToken,
		RefreshToken: ar.RefreshToken,
		ExpiresIn:    ar.ExpiresIn,
	}, nil
}

// FetchOrders lists orders. Transport and decode failures degrade to an
// empty result so aggregation across platforms keeps going; records that
// fail validation are skipped and logged.
func (a *Adapter) FetchOrders(ctx context.Context, f model.OrderFilters) ([]model.UnifiedOrder, error) {
	path := "/orders"
	if q := ordersQuery(f).Encode(); q != "" {
		path += "?" + q
	}
	var resp ordersResponse
	err := a.client.Retry(ctx, func(ctx context.Context) error {
		return a.client.Do(ctx, http.MethodGet, path, nil, &resp)
	})
	if err != nil {
		a.log.WithError(err).Error("fetch orders failed")
		return []model.UnifiedOrder{}, nil
	}
	now := a.now()
	out := make([]model.UnifiedOrder, 0, len(resp.Orders))
	for _, raw := range resp.Orders {
		o, err := normalizeOrder(raw, now, a.cfg.RestaurantID)
		if err != nil {
			a.log.WithError(err).Error("skipping order that failed normalization")
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func ordersQuery(f model.OrderFilters) url.Values {
	q := url.Values{}
	if len(f.Status) > 0 {
		tokens := make([]string, 0, len(f.Status))
		for _, s := range f.Status {
			tokens = append(tokens, nativeStatus(s))
		}
		q.Set("status", strings.Join(tokens, ","))
	}
	if f.StartDate != nil {
		q.Set("from", f.StartDate.UTC().Format(time.RFC3339))
	}
	if f.EndDate != nil {
		q.Set("to", f.EndDate.UTC().Format(time.RFC3339))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}
	return q
}

// GetOrderDetails returns nil when the order cannot be fetched. A fetched
// order that fails validation is an error.
func (a *Adapter) GetOrderDetails(ctx context.Context, orderID string) (*model.UnifiedOrder, error) {
	var resp orderResponse
	err := a.client.Retry(ctx, func(ctx context.Context) error {
		return a.client.Do(ctx, http.MethodGet, "/orders/"+url.PathEscape(orderID), nil, &resp)
	})
	if err != nil {
		a.log.WithField("order_id", orderID).WithError(err).Error("get order details failed")
		return nil, nil
	}
	o, err := normalizeOrder(resp.Order, a.now(), a.cfg.RestaurantID)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (a *Adapter) UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus) (bool, error) {
	err := a.client.Retry(ctx, func(ctx context.Context) error {
		return a.client.Do(ctx, http.MethodPut, "/orders/"+url.PathEscape(orderID)+"/status", statusRequest{Status: nativeStatus(status)}, nil)
	})
	if err != nil {
		a.log.WithFields(logrus.Fields{"order_id": orderID, "status": status}).WithError(err).Error("update order status failed")
		return false, err
	}
	return true, nil
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID, reason string) (bool, error) {
	err := a.client.Retry(ctx, func(ctx context.Context) error {
		return a.client.Do(ctx, http.MethodPost, "/orders/"+url.PathEscape(orderID)+"/cancel", cancelRequest{Reason: reason}, nil)
	})
	if err != nil {
		a.log.WithField("order_id", orderID).WithError(err).Error("cancel order failed")
		return false, err
	}
	return true, nil
}

func (a *Adapter) GetMenu(ctx context.Context) (*model.Menu, error) {
	var w wireMenu
	err := a.client.Retry(ctx, func(ctx context.Context) error {
		return a.client.Do(ctx, http.MethodGet, "/menu", nil, &w)
	})
	if err != nil {
		return nil, err
	}
	return normalizeMenu(w, a.now())
}

func (a *Adapter) UpdateMenu(ctx context.Context, menu model.Menu) (bool, error) {
	if err := a.client.Do(ctx, http.MethodPut, "/menu", mapToSwiggyMenu(menu), nil); err != nil {
		a.log.WithError(err).Error("update menu failed")
		return false, err
	}
	return true, nil
}

func (a *Adapter) UpdateItemAvailability(ctx context.Context, itemID string, available bool) (bool, error) {
	if err := a.client.Do(ctx, http.MethodPatch, "/menu/items/"+url.PathEscape(itemID), itemPatch{InStock: &available}, nil); err != nil {
		a.log.WithField("item_id", itemID).WithError(err).Error("update item availability failed")
		return false, err
	}
	return true, nil
}

func (a *Adapter) UpdateItemPrice(ctx context.Context, itemID string, price float64) (bool, error) {
	p, err := integrations.ValidatePrice(price)
	if err != nil {
		return false, err
	}
	amt := NewAmount(p)
	if err := a.client.Do(ctx, http.MethodPatch, "/menu/items/"+url.PathEscape(itemID), itemPatch{Price: &amt}, nil); err != nil {
		a.log.WithField("item_id", itemID).WithError(err).Error("update item price failed")
		return false, err
	}
	return true, nil
}

func (a *Adapter) GetOrderAnalytics(ctx context.Context, r model.DateRange) (*model.OrderAnalytics, error) {
	q := url.Values{}
	q.Set("from", r.Start.UTC().Format(time.RFC3339))
	q.Set("to", r.End.UTC().Format(time.RFC3339))
	var resp analyticsResponse
	err := a.client.Retry(ctx, func(ctx context.Context) error {
		return a.client.Do(ctx, http.MethodGet, "/analytics/orders?"+q.Encode(), nil, &resp)
	})
	if err != nil {
		return nil, err
	}
	revenue, err := resp.TotalRevenue.OptionalPrice()
	if err != nil {
		return nil, err
	}
	out := &model.OrderAnalytics{
		Platform:        platformName,
		TotalOrders:     resp.TotalOrders,
		TotalRevenue:    revenue,
		StatusBreakdown: map[model.OrderStatus]int{},
	}
	if resp.TotalOrders > 0 {
		out.AverageOrderValue = model.RoundMoney(revenue / float64(resp.TotalOrders))
	}
	for k, n := range resp.StatusBreakdown {
		out.StatusBreakdown[unifiedStatus(k)] += n
	}
	return out, nil
}

func (a *Adapter) HealthCheck(ctx context.Context) model.HealthStatus {
	start := a.client.Clock().Now()
	err := a.client.Do(ctx, http.MethodGet, "/health", nil, nil)
	hs := model.HealthStatus{
		Platform:  platformName,
		Healthy:   err == nil,
		LatencyMS: a.client.Clock().Now().Sub(start).Milliseconds(),
		CheckedAt: a.now(),
	}
	if err != nil {
		hs.Message = err.Error()
	}
	return hs
}

// VerifyWebhook rejects any payload whose HMAC does not match.
func (a *Adapter) VerifyWebhook(payload []byte, signature string) error {
	if !webhooks.VerifyHMAC(a.cfg.WebhookSecret, payload, signature) {
		return &integrations.SignatureMismatchError{Platform: platformName}
	}
	return nil
}

func (a *Adapter) ParseWebhook(payload []byte) (model.UnifiedOrder, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return model.UnifiedOrder{}, fmt.Errorf("swiggy decode webhook: %w", err)
	}
	if len(env.Order) == 0 {
		return model.UnifiedOrder{}, fmt.Errorf("swiggy webhook %q without order", env.Event)
	}
	o, err := normalizeOrder(env.Order, a.now(), a.cfg.RestaurantID)
	if err != nil {
		return model.UnifiedOrder{}, err
	}
	o.Metadata["webhookEvent"] = env.Event
	return o, nil
}
