package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"orderhub/internal/integrations"
	"orderhub/internal/model"
	"orderhub/internal/orderhub"
	"orderhub/internal/webhooks"
)

// statusRequest is an operator-issued status change.
type statusRequest struct {
	Status    model.OrderStatus `json:"status"`
	Platform  string            `json:"platform"`
	Timestamp *time.Time        `json:"timestamp,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
}

// writeHubError maps hub failures to problem responses.
func writeHubError(w http.ResponseWriter, r *http.Request, err error) {
	var pe *orderhub.PersistenceError
	switch {
	case errors.As(err, &pe):
		writeProblem(w, http.StatusServiceUnavailable, "State Store Unavailable", err.Error(), r.URL.Path)
	case errors.Is(err, orderhub.ErrInvalidUpdate):
		writeProblem(w, http.StatusBadRequest, "Invalid Update", err.Error(), r.URL.Path)
	case errors.Is(err, orderhub.ErrHubClosed), errors.Is(err, orderhub.ErrActorStopped):
		writeProblem(w, http.StatusServiceUnavailable, "Shutting Down", err.Error(), r.URL.Path)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeProblem(w, http.StatusGatewayTimeout, "Timeout", err.Error(), r.URL.Path)
	default:
		writeProblem(w, http.StatusInternalServerError, "Internal Error", err.Error(), r.URL.Path)
	}
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ReadyHandler pings the state store when it supports it.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if s.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := s.Ready.Ping(ctx); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not Ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// WebhookHandler accepts a platform push. The payload is verified before it
// is parsed; unverified payloads are never routed.
func (s *Server) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "platform")
	adapter, ok := s.Platforms.Get(name)
	if !ok {
		writeProblem(w, http.StatusNotFound, "Unknown Platform", name, r.URL.Path)
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Unreadable Body", err.Error(), r.URL.Path)
		return
	}
	log := s.Log.WithField("platform", name)
	if err := adapter.VerifyWebhook(payload, r.Header.Get(webhooks.SignatureHeader)); err != nil {
		log.WithError(err).Warn("rejected webhook")
		if errors.Is(err, integrations.ErrSignatureMismatch) {
			writeProblem(w, http.StatusUnauthorized, "Invalid Signature", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusBadRequest, "Invalid Webhook", err.Error(), r.URL.Path)
		return
	}
	order, err := adapter.ParseWebhook(payload)
	if err != nil {
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid Order", err.Error(), r.URL.Path)
		return
	}
	update := order.Update()
	state, err := s.Hub.Route(r.Context(), update)
	if err != nil {
		log.WithFields(logrus.Fields{"order_id": update.OrderID, "restaurant_id": update.RestaurantID}).WithError(err).Error("webhook update failed")
		writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, state)
}

// OrderStatusHandler applies an operator status change.
func (s *Server) OrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := readJSON(r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	u := model.OrderUpdate{
		OrderID:      chi.URLParam(r, "orderID"),
		RestaurantID: chi.URLParam(r, "restaurantID"),
		Status:       req.Status,
		Platform:     req.Platform,
		Metadata:     req.Metadata,
	}
	if u.Platform == "" {
		u.Platform = "manual"
	}
	if req.Timestamp != nil {
		u.Timestamp = *req.Timestamp
	}
	state, err := s.Hub.Route(r.Context(), u)
	if err != nil {
		writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) actor(w http.ResponseWriter, r *http.Request) (*orderhub.Actor, bool) {
	a, err := s.Hub.Actor(r.Context(), chi.URLParam(r, "restaurantID"))
	if err != nil {
		writeHubError(w, r, err)
		return nil, false
	}
	return a, true
}

func (s *Server) RestaurantOrdersHandler(w http.ResponseWriter, r *http.Request) {
	a, ok := s.actor(w, r)
	if !ok {
		return
	}
	orders, err := a.Snapshot(r.Context())
	if err != nil {
		writeHubError(w, r, err)
		return
	}
	if orders == nil {
		orders = []model.OrderSyncState{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"restaurantId": a.RestaurantID(), "orders": orders})
}

func (s *Server) RestaurantOrderHandler(w http.ResponseWriter, r *http.Request) {
	a, ok := s.actor(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "orderID")
	state, found, err := a.Order(r.Context(), id)
	if err != nil {
		writeHubError(w, r, err)
		return
	}
	if !found {
		writeProblem(w, http.StatusNotFound, "Order Not Found", id, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) RestaurantStatsHandler(w http.ResponseWriter, r *http.Request) {
	a, ok := s.actor(w, r)
	if !ok {
		return
	}
	st, err := a.Statistics(r.Context())
	if err != nil {
		writeHubError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// AggregatedOrdersHandler fetches from every platform. A failing platform
// shows up under errors; the response is still 200.
func (s *Server) AggregatedOrdersHandler(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Query", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, s.Aggregator.FetchAll(r.Context(), filters))
}

func parseFilters(r *http.Request) (model.OrderFilters, error) {
	q := r.URL.Query()
	var f model.OrderFilters
	if v := q.Get("status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			st := model.OrderStatus(strings.TrimSpace(part))
			if !st.Valid() {
				return f, errors.New("unknown status " + part)
			}
			f.Status = append(f.Status, st)
		}
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		return f, errors.New("limit must be a non-negative integer")
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		return f, errors.New("offset must be a non-negative integer")
	}
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"startDate", &f.StartDate}, {"endDate", &f.EndDate}} {
		if v := q.Get(p.name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return f, errors.New(p.name + " must be RFC3339")
			}
			*p.dst = &t
		}
	}
	return f, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("invalid")
	}
	return n, nil
}

func (s *Server) PlatformsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"platforms": s.Platforms.Names()})
}

func (s *Server) PlatformHealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Aggregator.HealthCheckAll(r.Context()))
}
