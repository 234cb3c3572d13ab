package events

import (
	"context"
	"errors"
	"time"

	"github.com/mahaj/pulse/pkg/errs"
	"github.com/mahaj/pulse/pkg/model"
	"github.com/mahaj/pulse/pkg/notify"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	defaultRetryDelay = time.Second
	maxAttempts       = 3
)

// Reader is the subset of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Notifier interface {
	Notify(ctx context.Context, req notify.Request) (*model.NotificationEvent, error)
}

func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
}

type Consumer struct {
	log        *zap.Logger
	reader     Reader
	notifier   Notifier
	retryDelay time.Duration
}

func NewConsumer(log *zap.Logger, r Reader, n Notifier) *Consumer {
	return &Consumer{
		log:        log.Named("events.consumer"),
		reader:     r,
		notifier:   n,
		retryDelay: defaultRetryDelay,
	}
}

// Run consumes until ctx is cancelled. An offset is committed once its action
// was turned into a notification or judged undeliverable.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn("fetch failed, retrying", zap.Error(err), zap.Duration("delay", c.retryDelay))
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}

		c.handle(ctx, m)
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.log.Warn("commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, m kafka.Message) {
	action, err := Decode(m.Value)
	if err != nil {
		c.log.Warn("dropping malformed action", zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
		return
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		evt, err := c.notifier.Notify(ctx, action.Request())
		switch {
		case err == nil:
			if evt != nil {
				c.log.Debug("action notified", zap.Int64("notification_id", evt.ID), zap.String("type", string(action.Type)))
			}
			return
		case errors.Is(err, errs.ErrInvalidArgument):
			c.log.Warn("dropping invalid action", zap.Int64("offset", m.Offset), zap.Error(err))
			return
		}
		c.log.Error("notify failed", zap.Int("attempt", attempt), zap.Int64("offset", m.Offset), zap.Error(err))
		if attempt == maxAttempts || !c.sleep(ctx) {
			return
		}
	}
}

func (c *Consumer) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.retryDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
