package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Writer is the subset of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter hashes on the message key so one recipient's actions land on one
// partition, in order.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

type Publisher struct {
	writer Writer
	now    func() time.Time
}

func NewPublisher(w Writer) *Publisher {
	return &Publisher{writer: w, now: time.Now}
}

func (p *Publisher) Publish(ctx context.Context, a Action) error {
	if a.OccurredAt.IsZero() {
		a.OccurredAt = p.now().UTC()
	}
	value, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode action: %w", err)
	}
	// validate exactly what consumers will see
	if _, err := Decode(value); err != nil {
		return err
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(a.RecipientID),
		Value: value,
		Time:  a.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("publish %s action for %s: %w", a.Type, a.RecipientID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
