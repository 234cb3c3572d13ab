//go:generate go run go.uber.org/mock/mockgen -source=tracker.go -destination=../mocks/mock_presence.go -package=mocks

// Package presence broadcasts the online user set to every connected session
// whenever the connection registry changes.
package presence

import (
	"github.com/mahaj/pulse/pkg/metrics"
	"github.com/mahaj/pulse/pkg/model"
	"go.uber.org/zap"
)

// Broadcaster emits one event to every connected session, identified or not.
type Broadcaster interface {
	Broadcast(event string, payload any) int
}

// Mirror receives every snapshot after it was broadcast. Implementations must
// not block.
type Mirror interface {
	Mirror(online []string)
}

type Tracker struct {
	log     *zap.Logger
	out     Broadcaster
	mirror  Mirror
	metrics *metrics.Metrics
}

type Option func(*Tracker)

func WithMirror(m Mirror) Option {
	return func(t *Tracker) { t.mirror = m }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func NewTracker(log *zap.Logger, out Broadcaster, opts ...Option) *Tracker {
	t := &Tracker{log: log.Named("presence"), out: out}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// PresenceChanged implements registry.Observer.
func (t *Tracker) PresenceChanged(online []string) {
	t.BroadcastPresence(online)
}

// BroadcastPresence sends the full online set, not a delta, so a client that
// missed an update converges on the next one. Nothing is acknowledged.
func (t *Tracker) BroadcastPresence(online []string) {
	if online == nil {
		online = []string{}
	}
	reached := t.out.Broadcast(model.EventUsersOnline, online)
	t.log.Debug("presence broadcast", zap.Int("online", len(online)), zap.Int("sessions", reached))

	if t.metrics != nil {
		t.metrics.OnlineUsers.Set(float64(len(online)))
	}
	if t.mirror != nil {
		t.mirror.Mirror(online)
	}
}
