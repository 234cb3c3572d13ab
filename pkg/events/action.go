// Package events carries domain actions (likes, comments, follows, ...)
// from the REST layer to the notification fan-out over Kafka.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mahaj/pulse/pkg/errs"
	"github.com/mahaj/pulse/pkg/model"
	"github.com/mahaj/pulse/pkg/notify"
)

const DefaultTopic = "social-actions"

// Action is the wire format of the actions topic.
type Action struct {
	Type        model.NotificationType `json:"type"`
	ActorID     string                 `json:"actorId"`
	RecipientID string                 `json:"recipientId"`
	SubjectRef  string                 `json:"subjectRef"`
	Content     string                 `json:"content,omitempty"`
	OccurredAt  time.Time              `json:"occurredAt"`
}

func (a Action) Request() notify.Request {
	return notify.Request{
		RecipientID: a.RecipientID,
		SenderID:    a.ActorID,
		Type:        a.Type,
		SubjectRef:  a.SubjectRef,
		Content:     a.Content,
	}
}

func Decode(value []byte) (Action, error) {
	var a Action
	if err := json.Unmarshal(value, &a); err != nil {
		return Action{}, fmt.Errorf("decode action: %w: %w", errs.ErrInvalidArgument, err)
	}
	if !a.Type.Valid() || a.ActorID == "" || a.RecipientID == "" {
		return Action{}, fmt.Errorf("action %q from %q to %q: %w", a.Type, a.ActorID, a.RecipientID, errs.ErrInvalidArgument)
	}
	return a, nil
}
