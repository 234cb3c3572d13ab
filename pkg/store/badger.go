package store

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/mahaj/pulse/pkg/errs"
	"github.com/mahaj/pulse/pkg/model"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	messagePrefix      = "msg:"
	notificationPrefix = "notif:"
	indexPrefix        = "idx:"
	// Seeking a reverse iterator here lands on the newest key of a prefix.
	newestSeek = "9999999999999999999"
)

// Badger is the embedded Gateway. Keys:
//
//	msg:{b64(chat_id)}:{id:019d}      -> JSON message
//	notif:{b64(user_id)}:{id:019d}    -> JSON notification
//	idx:{id:019d}                     -> primary key of the record
//
// Zero padded ids keep lexicographic order equal to creation order. Owners are
// base64 encoded so that a chat id containing ':' cannot match the prefix of
// another chat.
type Badger struct {
	db  *badger.DB
	log *zap.Logger
}

var _ Gateway = (*Badger)(nil)

func OpenBadger(path string, log *zap.Logger) (*Badger, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return NewBadger(db, log), nil
}

func NewBadger(db *badger.DB, log *zap.Logger) *Badger {
	return &Badger{db: db, log: log.Named("store.badger")}
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func ownerPrefix(prefix, owner string) []byte {
	return []byte(prefix + base64.RawURLEncoding.EncodeToString([]byte(owner)) + ":")
}

func idPart(id int64) string {
	return fmt.Sprintf("%019d", id)
}

func indexKey(id int64) []byte {
	return []byte(indexPrefix + idPart(id))
}

func (b *Badger) SaveMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	if err := validateMessage(msg); err != nil {
		return model.Message{}, err
	}
	key := append(ownerPrefix(messagePrefix, msg.ChatID), idPart(msg.ID)...)
	if err := b.put(ctx, key, msg.ID, msg); err != nil {
		return model.Message{}, persistenceError("save message", err)
	}
	return msg, nil
}

func (b *Badger) SaveNotification(ctx context.Context, evt model.NotificationEvent) (model.NotificationEvent, error) {
	if err := validateNotification(evt); err != nil {
		return model.NotificationEvent{}, err
	}
	key := append(ownerPrefix(notificationPrefix, evt.RecipientID), idPart(evt.ID)...)
	if err := b.put(ctx, key, evt.ID, evt); err != nil {
		return model.NotificationEvent{}, persistenceError("save notification", err)
	}
	return evt, nil
}

func (b *Badger) put(ctx context.Context, key []byte, id int64, record any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, value); err != nil {
			return err
		}
		return txn.Set(indexKey(id), key)
	})
}

func (b *Badger) ListConversation(ctx context.Context, chatID string, page Page) (Slice[model.Message], error) {
	if chatID == "" {
		return Slice[model.Message]{}, fmt.Errorf("list conversation: empty chat id: %w", errs.ErrInvalidArgument)
	}
	items, next, err := list[model.Message](ctx, b.db, ownerPrefix(messagePrefix, chatID), page)
	if err != nil {
		return Slice[model.Message]{}, persistenceError("list conversation", err)
	}
	return Slice[model.Message]{Items: items, Next: next}, nil
}

func (b *Badger) ListNotifications(ctx context.Context, userID string, page Page) (Slice[model.NotificationEvent], error) {
	if userID == "" {
		return Slice[model.NotificationEvent]{}, fmt.Errorf("list notifications: empty user id: %w", errs.ErrInvalidArgument)
	}
	items, next, err := list[model.NotificationEvent](ctx, b.db, ownerPrefix(notificationPrefix, userID), page)
	if err != nil {
		return Slice[model.NotificationEvent]{}, persistenceError("list notifications", err)
	}
	return Slice[model.NotificationEvent]{Items: items, Next: next}, nil
}

// list walks a prefix newest first. The cursor is the id of the last item of
// the previous page; that item is skipped when the seek lands on it.
func list[T any](ctx context.Context, db *badger.DB, prefix []byte, page Page) ([]T, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	seek := append(bytes.Clone(prefix), newestSeek...)
	if page.Cursor != "" {
		cursor, err := strconv.ParseInt(page.Cursor, 10, 64)
		if err != nil || cursor <= 0 {
			return nil, "", fmt.Errorf("cursor %q: %w", page.Cursor, errs.ErrInvalidArgument)
		}
		seek = append(bytes.Clone(prefix), idPart(cursor)...)
	}
	limit := page.limit()
	items := make([]T, 0, limit)
	var next string

	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(seek)
		if page.Cursor != "" && it.ValidForPrefix(prefix) && bytes.Equal(it.Item().Key(), seek) {
			it.Next()
		}

		var last string
		for ; it.ValidForPrefix(prefix); it.Next() {
			if len(items) == limit {
				next = last
				break
			}
			item := it.Item()
			var record T
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &record) }); err != nil {
				return err
			}
			items = append(items, record)
			last = string(item.Key()[len(prefix):])
		}
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return items, next, nil
}

func (b *Badger) MarkRead(ctx context.Context, userID string, id int64) error {
	if err := ctx.Err(); err != nil {
		return persistenceError("mark read", err)
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		idx, err := txn.Get(indexKey(id))
		if err != nil {
			return err
		}
		key, err := idx.ValueCopy(nil)
		if err != nil {
			return err
		}
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		var updated []byte
		switch {
		case bytes.HasPrefix(key, []byte(messagePrefix)):
			var msg model.Message
			if err := json.Unmarshal(value, &msg); err != nil {
				return err
			}
			if !lo.Contains(msg.Recipients, userID) {
				return fmt.Errorf("message %d: %s is not a recipient: %w", id, userID, errs.ErrUnauthorized)
			}
			msg.Read = true
			updated, err = json.Marshal(msg)
		case bytes.HasPrefix(key, []byte(notificationPrefix)):
			var evt model.NotificationEvent
			if err := json.Unmarshal(value, &evt); err != nil {
				return err
			}
			if evt.RecipientID != userID {
				return fmt.Errorf("notification %d: %s is not the recipient: %w", id, userID, errs.ErrUnauthorized)
			}
			evt.Read = true
			updated, err = json.Marshal(evt)
		default:
			return fmt.Errorf("index %d points to unknown key %q", id, key)
		}
		if err != nil {
			return err
		}
		return txn.Set(key, updated)
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return fmt.Errorf("mark read %d: %w", id, errs.ErrNotFound)
	case errors.Is(err, errs.ErrUnauthorized):
		return err
	case err != nil:
		return persistenceError("mark read", err)
	}
	b.log.Debug("marked read", zap.Int64("id", id), zap.String("user_id", userID))
	return nil
}
