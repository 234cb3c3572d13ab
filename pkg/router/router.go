//go:generate go run go.uber.org/mock/mockgen -source=router.go -destination=../mocks/mock_router.go -package=mocks
package router

import (
	"fmt"

	"github.com/mahaj/pulse/pkg/errs"
	"github.com/mahaj/pulse/pkg/metrics"
	"github.com/mahaj/pulse/pkg/model"
	"go.uber.org/zap"
)

type Result int

const (
	Offline Result = iota
	Delivered
)

func (r Result) String() string {
	if r == Delivered {
		return "delivered"
	}
	return "offline"
}

// Locator resolves the session currently bound to a user.
type Locator interface {
	Lookup(userID string) (string, bool)
}

// Sender performs a single emit on a session.
type Sender interface {
	Send(sessionID, event string, payload any) error
}

// Router forwards payloads to the recipient's live session. It never retries
// and never persists; the durable record is written before delivery.
type Router struct {
	log     *zap.Logger
	locator Locator
	sender  Sender
	metrics *metrics.Metrics
}

func New(log *zap.Logger, locator Locator, sender Sender, m *metrics.Metrics) *Router {
	return &Router{log: log.Named("router"), locator: locator, sender: sender, metrics: m}
}

// Deliver emits payload to the session of targetUserID. A missing binding or
// a failed emit both yield Offline. The error is only set for a bad call.
func (r *Router) Deliver(targetUserID string, kind model.EventKind, payload any) (Result, error) {
	event, ok := kind.OutboundEvent()
	if !ok {
		return Offline, fmt.Errorf("deliver kind %q: %w", kind, errs.ErrInvalidArgument)
	}
	if targetUserID == "" {
		return Offline, fmt.Errorf("deliver %s: empty target: %w", kind, errs.ErrInvalidArgument)
	}

	sessionID, ok := r.locator.Lookup(targetUserID)
	if !ok {
		r.count(kind, Offline)
		return Offline, nil
	}

	if err := r.sender.Send(sessionID, event, payload); err != nil {
		r.log.Warn("live delivery failed, falling back to storage",
			zap.String("user_id", targetUserID),
			zap.String("session_id", sessionID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		r.count(kind, Offline)
		return Offline, nil
	}

	r.count(kind, Delivered)
	return Delivered, nil
}

func (r *Router) count(kind model.EventKind, res Result) {
	if r.metrics != nil {
		r.metrics.Deliveries.WithLabelValues(string(kind), res.String()).Inc()
	}
}
