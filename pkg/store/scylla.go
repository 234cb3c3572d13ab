package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gocql/gocql"
	"github.com/mahaj/pulse/pkg/db"
	"github.com/mahaj/pulse/pkg/errs"
	"github.com/mahaj/pulse/pkg/model"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Scylla is the clustered Gateway backed by the tables of db.Migrate.
type Scylla struct {
	session *db.Session
	log     *zap.Logger
}

var _ Gateway = (*Scylla)(nil)

func NewScylla(session *db.Session, log *zap.Logger) *Scylla {
	return &Scylla{session: session, log: log.Named("store.scylla")}
}

func (s *Scylla) Close() error {
	s.session.Close()
	return nil
}

func (s *Scylla) SaveMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	if err := validateMessage(msg); err != nil {
		return model.Message{}, err
	}
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO messages (chat_id, id, sender_id, recipients, content, attachments, created_at, read) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ChatID, msg.ID, msg.SenderID, msg.Recipients, msg.Content, msg.Attachments, msg.CreatedAt, msg.Read)
	batch.Query(`INSERT INTO message_index (id, chat_id) VALUES (?, ?)`, msg.ID, msg.ChatID)
	if err := s.session.ExecuteBatch(batch); err != nil {
		return model.Message{}, persistenceError("save message", err)
	}
	return msg, nil
}

func (s *Scylla) SaveNotification(ctx context.Context, evt model.NotificationEvent) (model.NotificationEvent, error) {
	if err := validateNotification(evt); err != nil {
		return model.NotificationEvent{}, err
	}
	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`INSERT INTO notifications (recipient_id, id, sender_id, type, subject_ref, content, created_at, read) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.RecipientID, evt.ID, evt.SenderID, string(evt.Type), evt.SubjectRef, evt.Content, evt.CreatedAt, evt.Read)
	batch.Query(`INSERT INTO notification_index (id, recipient_id) VALUES (?, ?)`, evt.ID, evt.RecipientID)
	if err := s.session.ExecuteBatch(batch); err != nil {
		return model.NotificationEvent{}, persistenceError("save notification", err)
	}
	return evt, nil
}

// pageQuery returns the id bound and limit for a clustering-order page. One
// extra row is fetched to know whether another page exists.
func pageQuery(page Page) (int64, int, error) {
	before := int64(1<<63 - 1)
	if page.Cursor != "" {
		cursor, err := strconv.ParseInt(page.Cursor, 10, 64)
		if err != nil || cursor <= 0 {
			return 0, 0, fmt.Errorf("cursor %q: %w", page.Cursor, errs.ErrInvalidArgument)
		}
		before = cursor
	}
	return before, page.limit(), nil
}

func (s *Scylla) ListConversation(ctx context.Context, chatID string, page Page) (Slice[model.Message], error) {
	if chatID == "" {
		return Slice[model.Message]{}, fmt.Errorf("list conversation: empty chat id: %w", errs.ErrInvalidArgument)
	}
	before, limit, err := pageQuery(page)
	if err != nil {
		return Slice[model.Message]{}, err
	}

	iter := s.session.Query(`SELECT chat_id, id, sender_id, recipients, content, attachments, created_at, read FROM messages WHERE chat_id = ? AND id < ? LIMIT ?`,
		chatID, before, limit+1).WithContext(ctx).Iter()

	var out Slice[model.Message]
	var m model.Message
	for iter.Scan(&m.ChatID, &m.ID, &m.SenderID, &m.Recipients, &m.Content, &m.Attachments, &m.CreatedAt, &m.Read) {
		m.CreatedAt = m.CreatedAt.UTC()
		out.Items = append(out.Items, m)
		m = model.Message{}
	}
	if err := iter.Close(); err != nil {
		return Slice[model.Message]{}, persistenceError("list conversation", err)
	}
	if len(out.Items) > limit {
		out.Items = out.Items[:limit]
		out.Next = strconv.FormatInt(out.Items[limit-1].ID, 10)
	}
	return out, nil
}

func (s *Scylla) ListNotifications(ctx context.Context, userID string, page Page) (Slice[model.NotificationEvent], error) {
	if userID == "" {
		return Slice[model.NotificationEvent]{}, fmt.Errorf("list notifications: empty user id: %w", errs.ErrInvalidArgument)
	}
	before, limit, err := pageQuery(page)
	if err != nil {
		return Slice[model.NotificationEvent]{}, err
	}

	iter := s.session.Query(`SELECT recipient_id, id, sender_id, type, subject_ref, content, created_at, read FROM notifications WHERE recipient_id = ? AND id < ? LIMIT ?`,
		userID, before, limit+1).WithContext(ctx).Iter()

	var out Slice[model.NotificationEvent]
	var (
		e       model.NotificationEvent
		kind    string
		created time.Time
	)
	for iter.Scan(&e.RecipientID, &e.ID, &e.SenderID, &kind, &e.SubjectRef, &e.Content, &created, &e.Read) {
		e.Type = model.NotificationType(kind)
		e.CreatedAt = created.UTC()
		out.Items = append(out.Items, e)
		e = model.NotificationEvent{}
	}
	if err := iter.Close(); err != nil {
		return Slice[model.NotificationEvent]{}, persistenceError("list notifications", err)
	}
	if len(out.Items) > limit {
		out.Items = out.Items[:limit]
		out.Next = strconv.FormatInt(out.Items[limit-1].ID, 10)
	}
	return out, nil
}

func (s *Scylla) MarkRead(ctx context.Context, userID string, id int64) error {
	var chatID string
	err := s.session.Query(`SELECT chat_id FROM message_index WHERE id = ?`, id).WithContext(ctx).Scan(&chatID)
	switch {
	case err == nil:
		var recipients []string
		err := s.session.Query(`SELECT recipients FROM messages WHERE chat_id = ? AND id = ?`, chatID, id).WithContext(ctx).Scan(&recipients)
		if errors.Is(err, gocql.ErrNotFound) {
			return fmt.Errorf("mark read %d: %w", id, errs.ErrNotFound)
		}
		if err != nil {
			return persistenceError("mark read", err)
		}
		if !lo.Contains(recipients, userID) {
			return fmt.Errorf("message %d: %s is not a recipient: %w", id, userID, errs.ErrUnauthorized)
		}
		if err := s.session.Query(`UPDATE messages SET read = true WHERE chat_id = ? AND id = ?`, chatID, id).WithContext(ctx).Exec(); err != nil {
			return persistenceError("mark message read", err)
		}
		return nil
	case !errors.Is(err, gocql.ErrNotFound):
		return persistenceError("mark read", err)
	}

	var recipientID string
	err = s.session.Query(`SELECT recipient_id FROM notification_index WHERE id = ?`, id).WithContext(ctx).Scan(&recipientID)
	if errors.Is(err, gocql.ErrNotFound) {
		return fmt.Errorf("mark read %d: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return persistenceError("mark read", err)
	}
	if recipientID != userID {
		return fmt.Errorf("notification %d: %s is not the recipient: %w", id, userID, errs.ErrUnauthorized)
	}
	if err := s.session.Query(`UPDATE notifications SET read = true WHERE recipient_id = ? AND id = ?`, recipientID, id).WithContext(ctx).Exec(); err != nil {
		return persistenceError("mark notification read", err)
	}
	return nil
}
