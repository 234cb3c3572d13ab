package model

import (
	"fmt"
	"strings"
	"time"
)

const dmPrefix = "dm:"

type Message struct {
	ID          int64     `json:"id"`
	ChatID      string    `json:"chat_id"`
	SenderID    string    `json:"sender_id"`
	Recipients  []string  `json:"recipients"`
	Content     string    `json:"content"`
	Attachments []string  `json:"attachments,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	Read        bool      `json:"read"`
}

// MessageHint is the lightweight unread signal sent next to a full message.
type MessageHint struct {
	ChatID    string    `json:"chat_id"`
	MessageID int64     `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (m Message) Hint() MessageHint {
	return MessageHint{
		ChatID:    m.ChatID,
		MessageID: m.ID,
		SenderID:  m.SenderID,
		CreatedAt: m.CreatedAt,
	}
}

// ValidUserID reports whether id can take part in a direct chat id. The
// separator is reserved.
func ValidUserID(id string) bool {
	return id != "" && !strings.Contains(id, ":")
}

// DMChannelID returns the direct chat id shared by two users.
// User IDs are sorted so both sides compute the same id.
func DMChannelID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%s%s:%s", dmPrefix, a, b)
}

// DMParticipants splits a direct chat id into its two members.
func DMParticipants(chatID string) (string, string, bool) {
	if !strings.HasPrefix(chatID, dmPrefix) {
		return "", "", false
	}
	parts := strings.Split(chatID, ":")
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
