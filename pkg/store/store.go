//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

// Package store is the durable side of the delivery core. Records written
// here are authoritative; live delivery is only an optimisation on top.
package store

import (
	"context"
	"fmt"

	"github.com/mahaj/pulse/pkg/errs"
	"github.com/mahaj/pulse/pkg/model"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// Page selects a window of a newest-first listing. Cursor is the opaque
// value returned as Next by the previous page; empty starts from the newest.
type Page struct {
	Cursor string
	Limit  int
}

func (p Page) limit() int {
	switch {
	case p.Limit <= 0:
		return DefaultPageLimit
	case p.Limit > MaxPageLimit:
		return MaxPageLimit
	}
	return p.Limit
}

// Slice is one page of results. Next is empty on the last page.
type Slice[T any] struct {
	Items []T    `json:"items"`
	Next  string `json:"next,omitempty"`
}

type MessageStore interface {
	SaveMessage(ctx context.Context, msg model.Message) (model.Message, error)
	ListConversation(ctx context.Context, chatID string, page Page) (Slice[model.Message], error)
}

type NotificationStore interface {
	SaveNotification(ctx context.Context, evt model.NotificationEvent) (model.NotificationEvent, error)
	ListNotifications(ctx context.Context, userID string, page Page) (Slice[model.NotificationEvent], error)
}

// Gateway is the full persistence surface. MarkRead accepts either a message
// or a notification id; ids are globally unique snowflakes. Only a recipient
// of the record may mark it, others get errs.ErrUnauthorized.
type Gateway interface {
	MessageStore
	NotificationStore
	MarkRead(ctx context.Context, userID string, id int64) error
	Close() error
}

func validateMessage(msg model.Message) error {
	if msg.ID == 0 || msg.ChatID == "" || msg.SenderID == "" {
		return fmt.Errorf("message %d in chat %q from %q: %w", msg.ID, msg.ChatID, msg.SenderID, errs.ErrInvalidArgument)
	}
	return nil
}

func validateNotification(evt model.NotificationEvent) error {
	if evt.ID == 0 || evt.RecipientID == "" || !evt.Type.Valid() {
		return fmt.Errorf("notification %d for %q of type %q: %w", evt.ID, evt.RecipientID, evt.Type, errs.ErrInvalidArgument)
	}
	return nil
}

func persistenceError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, errs.ErrPersistence, err)
}
