package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	kafkaGo "github.com/segmentio/kafka-go"

	"github.com/BTreeMap/OrderPipe/internal/models"
)

// DefaultOrdersTopic is the topic order-placed events are published to.
const DefaultOrdersTopic = "orders.placed"

// messageWriter is the part of *kafkaGo.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkaGo.Message) error
	Close() error
}

// OrderPlacedEvent is the JSON value published for every order.
type OrderPlacedEvent struct {
	Type  string       `json:"type"`
	Order models.Order `json:"order"`
}

// KafkaNotifier publishes order-placed events keyed by order ID.
type KafkaNotifier struct {
	writer messageWriter
	topic  string
}

// NewKafkaNotifier creates a publisher for topic on brokers.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	if topic == "" {
		topic = DefaultOrdersTopic
	}
	w := &kafkaGo.Writer{
		Addr:     kafkaGo.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafkaGo.LeastBytes{},
	}
	slog.Debug("Creating KafkaNotifier", "brokers", brokers, "topic", topic)
	return &KafkaNotifier{writer: w, topic: topic}
}

func (n *KafkaNotifier) NotifyOrder(ctx context.Context, order models.Order) error {
	value, err := json.Marshal(OrderPlacedEvent{Type: "order.placed", Order: order})
	if err != nil {
		return fmt.Errorf("encode order %s: %w", order.ID, err)
	}
	if err := n.writer.WriteMessages(ctx, kafkaGo.Message{Key: []byte(order.ID), Value: value}); err != nil {
		slog.Error("KafkaNotifier.NotifyOrder failed", "orderID", order.ID, "topic", n.topic, "error", err)
		return fmt.Errorf("publish order %s: %w", order.ID, err)
	}
	slog.Debug("KafkaNotifier.NotifyOrder: published", "orderID", order.ID, "topic", n.topic)
	return nil
}

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
