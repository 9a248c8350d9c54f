package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"orderhub/internal/model"
)

const (
	EventTypeHeader = "X-Event-Type"
	EventIDHeader   = "X-Event-Id"
)

// Publisher posts change events to a downstream endpoint. When Secret is set
// the body is signed into SignatureHeader.
type Publisher struct {
	URL    string
	Secret string
	HTTP   *http.Client
}

func NewPublisher(url, secret string) *Publisher {
	return &Publisher{URL: url, Secret: secret, HTTP: &http.Client{Timeout: 5 * time.Second}}
}

// DeliveryError is a non-2xx answer from the receiver.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook delivery: status %d: %s", e.StatusCode, e.Body)
}

func (p *Publisher) Publish(ctx context.Context, evt model.ChangeEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventTypeHeader, evt.Type)
	req.Header.Set(EventIDHeader, evt.ID)
	if p.Secret != "" {
		req.Header.Set(SignatureHeader, SignHMAC(p.Secret, body))
	}
	resp, err := p.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &DeliveryError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return nil
}

func (p *Publisher) Close() error {
	p.HTTP.CloseIdleConnections()
	return nil
}
