//go:generate go run go.uber.org/mock/mockgen -source=notify.go -destination=../mocks/mock_notify.go -package=mocks

// Package notify turns domain actions (like, comment, follow, share, mention,
// message) into persisted notification events and hands them to live
// delivery.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mahaj/pulse/pkg/errs"
	"github.com/mahaj/pulse/pkg/model"
	"github.com/mahaj/pulse/pkg/router"
	"github.com/mahaj/pulse/pkg/store"
	"go.uber.org/zap"
)

var validate = validator.New()

type Request struct {
	RecipientID string                 `json:"recipient_id" validate:"required,max=128"`
	SenderID    string                 `json:"sender_id" validate:"required,max=128"`
	Type        model.NotificationType `json:"type" validate:"required,oneof=like comment follow share message mention"`
	SubjectRef  string                 `json:"subject_ref" validate:"max=256"`
	Content     string                 `json:"content" validate:"max=2048"`
}

// Deliverer hands a payload to live delivery and reports the outcome. It is
// safe to call from any goroutine.
type Deliverer interface {
	Deliver(ctx context.Context, userID string, kind model.EventKind, payload any) (router.Result, error)
}

type IDGenerator interface {
	Generate() int64
}

type Service struct {
	log       *zap.Logger
	store     store.NotificationStore
	deliverer Deliverer
	ids       IDGenerator
	now       func() time.Time
}

func NewService(log *zap.Logger, s store.NotificationStore, d Deliverer, ids IDGenerator) *Service {
	return &Service{
		log:       log.Named("notify"),
		store:     s,
		deliverer: d,
		ids:       ids,
		now:       time.Now,
	}
}

// Notify persists then delivers a notification. A self action returns nil
// without touching storage or delivery. Only persistence failures and invalid
// requests are returned; delivery is best effort.
func (s *Service) Notify(ctx context.Context, req Request) (*model.NotificationEvent, error) {
	if req.RecipientID != "" && req.RecipientID == req.SenderID {
		return nil, nil
	}
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("notify: %w: %w", errs.ErrInvalidArgument, err)
	}

	evt := model.NotificationEvent{
		ID:          s.ids.Generate(),
		RecipientID: req.RecipientID,
		SenderID:    req.SenderID,
		Type:        req.Type,
		SubjectRef:  req.SubjectRef,
		Content:     req.Content,
		CreatedAt:   s.now().UTC(),
	}
	stored, err := s.store.SaveNotification(ctx, evt)
	if err != nil {
		return nil, fmt.Errorf("notify %s: %w", req.RecipientID, err)
	}

	res, err := s.deliverer.Deliver(ctx, stored.RecipientID, model.KindGenericNotification, stored)
	if err != nil {
		s.log.Warn("notification stored but not handed to delivery",
			zap.Int64("id", stored.ID), zap.String("recipient_id", stored.RecipientID), zap.Error(err))
		return &stored, nil
	}
	s.log.Debug("notification sent",
		zap.Int64("id", stored.ID),
		zap.String("type", string(stored.Type)),
		zap.String("recipient_id", stored.RecipientID),
		zap.Stringer("result", res))
	return &stored, nil
}
