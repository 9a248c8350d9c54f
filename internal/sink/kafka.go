package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"orderhub/internal/model"
)

// Kafka writes events keyed by order id, so every change to one order lands
// on the same partition in order.
type Kafka struct {
	w *kafka.Writer
}

func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

func (k *Kafka) Publish(ctx context.Context, evt model.ChangeEvent) error {
	msg, err := message(evt)
	if err != nil {
		return err
	}
	return k.w.WriteMessages(ctx, msg)
}

func message(evt model.ChangeEvent) (kafka.Message, error) {
	value, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode event %s: %w", evt.ID, err)
	}
	return kafka.Message{
		Key:   []byte(evt.OrderID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Type)},
			{Key: "restaurantId", Value: []byte(evt.RestaurantID)},
		},
		Time: evt.Timestamp,
	}, nil
}

func (k *Kafka) Close() error { return k.w.Close() }
