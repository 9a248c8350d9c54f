// Package sink publishes order status change events to downstream consumers.
package sink

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"orderhub/internal/config"
	"orderhub/internal/model"
	"orderhub/internal/webhooks"
)

// EventSink receives one event per applied status change.
type EventSink interface {
	Publish(ctx context.Context, evt model.ChangeEvent) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, model.ChangeEvent) error { return nil }
func (Nop) Close() error                                      { return nil }

// Open builds the sink named by cfg.Driver, wrapped in Retrying.
func Open(ctx context.Context, cfg config.SinkConfig, log logrus.FieldLogger) (EventSink, error) {
	var (
		s   EventSink
		err error
	)
	switch cfg.Driver {
	case "", "none":
		return Nop{}, nil
	case "memory":
		s = NewMemory()
	case "redis":
		s, err = NewRedis(ctx, cfg.RedisURL, cfg.Stream)
	case "kafka":
		s = NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
	case "webhook":
		s = webhooks.NewPublisher(cfg.WebhookURL, cfg.WebhookSecret)
	default:
		return nil, fmt.Errorf("unsupported sink driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return NewRetrying(s, cfg.MaxAttempts, log), nil
}
