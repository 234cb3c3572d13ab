package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mahaj/pulse/pkg/errs"
	"github.com/mahaj/pulse/pkg/model"
	"github.com/mahaj/pulse/pkg/transport"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type identifyPayload struct {
	UserID string `json:"userId"`
}

type sendMessagePayload struct {
	RecipientUserID string   `json:"recipientUserId"`
	ChatID          string   `json:"chatId"`
	Recipients      []string `json:"recipients"`
	Content         string   `json:"content"`
	Attachments     []string `json:"attachments"`
}

type sendNotificationPayload struct {
	RecipientID  string          `json:"recipientId"`
	Notification json.RawMessage `json:"notification"`
}

type markReadPayload struct {
	ID int64 `json:"id"`
}

func (h *Hub) handle(s *transport.Session, env transport.Envelope) {
	if s.State() == transport.Closed {
		return
	}

	var err error
	switch env.Event {
	case model.EventIdentify:
		err = h.identify(s, env.Data)
	case model.EventSendMessage:
		err = h.sendMessage(s, env.Data)
	case model.EventSendNotification:
		err = h.sendNotification(s, env.Data)
	case model.EventMarkRead:
		err = h.markRead(s, env.Data)
	default:
		err = fmt.Errorf("unknown event %q: %w", env.Event, errs.ErrInvalidArgument)
	}
	if err != nil {
		h.log.Debug("inbound event rejected", zap.String("session_id", s.ID), zap.String("event", env.Event), zap.Error(err))
		h.sendError(s, err)
	}
}

func decode(event string, data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%s: missing data: %w", event, errs.ErrInvalidArgument)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w: %w", event, errs.ErrInvalidArgument, err)
	}
	return nil
}

func requireIdentified(s *transport.Session, event string) (string, error) {
	if s.State() != transport.Identified {
		return "", fmt.Errorf("%s: %w", event, errs.ErrNotIdentified)
	}
	return s.UserID(), nil
}

func (h *Hub) identify(s *transport.Session, data json.RawMessage) error {
	var p identifyPayload
	if len(data) > 0 {
		if err := decode(model.EventIdentify, data, &p); err != nil {
			return err
		}
	}
	userID := p.UserID
	if userID == "" {
		userID = s.AuthUserID
	}
	if userID == "" {
		return fmt.Errorf("identify: empty user id: %w", errs.ErrInvalidArgument)
	}
	if s.AuthUserID != "" && userID != s.AuthUserID {
		return fmt.Errorf("identify as %s with a token for %s: %w", userID, s.AuthUserID, errs.ErrUnauthorized)
	}
	if !model.ValidUserID(userID) {
		return fmt.Errorf("identify: user id %q: %w", userID, errs.ErrInvalidArgument)
	}
	// Identifying again as the same user reclaims the binding if another
	// session took it meanwhile.
	if s.State() != transport.Identified || s.UserID() != userID {
		if err := s.Identify(userID); err != nil {
			return err
		}
	}
	if err := h.registry.Register(userID, s.ID); err != nil {
		return err
	}
	h.log.Debug("session identified", zap.String("session_id", s.ID), zap.String("user_id", userID))
	return nil
}

// recipients resolves who receives a message and which chat it belongs to.
// The sender and duplicates are removed.
func recipients(senderID string, p sendMessagePayload) (string, []string, error) {
	chatID := p.ChatID
	var members []string

	switch {
	case strings.HasPrefix(chatID, "dm:"):
		a, b, ok := model.DMParticipants(chatID)
		if !ok {
			return "", nil, fmt.Errorf("chat %q: malformed direct chat id: %w", chatID, errs.ErrInvalidArgument)
		}
		if senderID != a && senderID != b {
			return "", nil, fmt.Errorf("chat %q: %s is not a member: %w", chatID, senderID, errs.ErrUnauthorized)
		}
		members = []string{a, b}
	case p.RecipientUserID != "":
		if !model.ValidUserID(p.RecipientUserID) {
			return "", nil, fmt.Errorf("recipient %q: %w", p.RecipientUserID, errs.ErrInvalidArgument)
		}
		if chatID == "" {
			chatID = model.DMChannelID(senderID, p.RecipientUserID)
		}
		members = append([]string{p.RecipientUserID}, p.Recipients...)
	case chatID != "" && len(p.Recipients) > 0:
		members = p.Recipients
	default:
		return "", nil, fmt.Errorf("sendMessage: no recipient: %w", errs.ErrInvalidArgument)
	}

	out := lo.Uniq(lo.Without(lo.Compact(members), senderID))
	if len(out) == 0 {
		return "", nil, fmt.Errorf("sendMessage: no recipient other than the sender: %w", errs.ErrInvalidArgument)
	}
	return chatID, out, nil
}

func (h *Hub) sendMessage(s *transport.Session, data json.RawMessage) error {
	senderID, err := requireIdentified(s, model.EventSendMessage)
	if err != nil {
		return err
	}
	var p sendMessagePayload
	if err := decode(model.EventSendMessage, data, &p); err != nil {
		return err
	}
	if p.Content == "" && len(p.Attachments) == 0 {
		return fmt.Errorf("sendMessage: empty message: %w", errs.ErrInvalidArgument)
	}
	chatID, to, err := recipients(senderID, p)
	if err != nil {
		return err
	}

	msg := model.Message{
		ID:          h.ids.Generate(),
		ChatID:      chatID,
		SenderID:    senderID,
		Recipients:  to,
		Content:     p.Content,
		Attachments: p.Attachments,
		CreatedAt:   h.now().UTC(),
	}

	h.suspend(s, func(ctx context.Context) func() {
		stored, err := h.store.SaveMessage(ctx, msg)
		return func() { h.messageSaved(s, stored, err) }
	})
	return nil
}

// messageSaved runs on the loop once persistence finished. Presence is
// resolved now, not at submission time.
func (h *Hub) messageSaved(s *transport.Session, msg model.Message, err error) {
	if err != nil {
		h.persistenceFailed("save_message")
		h.log.Error("message not persisted", zap.String("session_id", s.ID), zap.Error(err))
		h.sendError(s, err)
		return
	}

	hint := msg.Hint()
	for _, userID := range msg.Recipients {
		if _, err := h.router.Deliver(userID, model.KindMessage, msg); err != nil {
			h.log.Warn("message not routed", zap.Int64("id", msg.ID), zap.String("user_id", userID), zap.Error(err))
			continue
		}
		if _, err := h.router.Deliver(userID, model.KindMessageNotification, hint); err != nil {
			h.log.Warn("message hint not routed", zap.Int64("id", msg.ID), zap.String("user_id", userID), zap.Error(err))
		}
	}

	if err := s.Send(model.EventMessageSent, msg); err != nil && !errors.Is(err, errs.ErrSessionClosed) {
		h.log.Warn("message ack not sent", zap.Int64("id", msg.ID), zap.String("session_id", s.ID), zap.Error(err))
	}
}

// sendNotification relays a client built notification. Nothing is persisted.
func (h *Hub) sendNotification(s *transport.Session, data json.RawMessage) error {
	senderID, err := requireIdentified(s, model.EventSendNotification)
	if err != nil {
		return err
	}
	var p sendNotificationPayload
	if err := decode(model.EventSendNotification, data, &p); err != nil {
		return err
	}
	if p.RecipientID == "" || len(p.Notification) == 0 {
		return fmt.Errorf("sendNotification: recipient and notification required: %w", errs.ErrInvalidArgument)
	}
	if p.RecipientID == senderID {
		return nil
	}
	_, err = h.router.Deliver(p.RecipientID, model.KindGenericNotification, p.Notification)
	return err
}

func (h *Hub) markRead(s *transport.Session, data json.RawMessage) error {
	userID, err := requireIdentified(s, model.EventMarkRead)
	if err != nil {
		return err
	}
	var p markReadPayload
	if err := decode(model.EventMarkRead, data, &p); err != nil {
		return err
	}
	if p.ID <= 0 {
		return fmt.Errorf("markRead: id %d: %w", p.ID, errs.ErrInvalidArgument)
	}

	h.suspend(s, func(ctx context.Context) func() {
		err := h.store.MarkRead(ctx, userID, p.ID)
		return func() {
			if err == nil {
				return
			}
			if errors.Is(err, errs.ErrPersistence) {
				h.persistenceFailed("mark_read")
			}
			h.sendError(s, err)
		}
	})
	return nil
}
