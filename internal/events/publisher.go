// Package events moves checkout data over Kafka: session state changes out, bank
// transfer notifications in.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/akylbek/payment-system/checkout-service/internal/models"
)

const DefaultSessionTopic = "checkout.session.changed"

// MessageWriter is the subset of *kafka.Writer used here.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// SessionPublisher publishes session state changes keyed by session id, so all
// changes of one session land on the same partition in order.
type SessionPublisher struct {
	writer MessageWriter
}

func NewSessionPublisher(writer MessageWriter) *SessionPublisher {
	return &SessionPublisher{writer: writer}
}

// NewSessionWriter returns a writer for the session topic on the given brokers.
func NewSessionWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultSessionTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

func (p *SessionPublisher) PublishSessionEvent(ctx context.Context, event models.SessionEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal session event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.SessionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "transition", Value: []byte(event.Transition)},
		},
	})
}
