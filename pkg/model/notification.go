package model

import "time"

type NotificationType string

const (
	NotificationLike    NotificationType = "like"
	NotificationComment NotificationType = "comment"
	NotificationFollow  NotificationType = "follow"
	NotificationShare   NotificationType = "share"
	NotificationMessage NotificationType = "message"
	NotificationMention NotificationType = "mention"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationLike, NotificationComment, NotificationFollow,
		NotificationShare, NotificationMessage, NotificationMention:
		return true
	}
	return false
}

type NotificationEvent struct {
	ID          int64            `json:"id"`
	RecipientID string           `json:"recipient_id"`
	SenderID    string           `json:"sender_id"`
	Type        NotificationType `json:"type"`
	SubjectRef  string           `json:"subject_ref"`
	Content     string           `json:"content,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	Read        bool             `json:"read"`
}
