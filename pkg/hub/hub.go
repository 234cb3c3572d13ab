// Package hub runs the single event loop of the delivery core. Every
// transport event, delivery request and persistence completion is a closure
// executed to completion on that loop, so the registry, the presence tracker,
// the router and the session table need no locks.
package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/mahaj/pulse/pkg/errs"
	"github.com/mahaj/pulse/pkg/metrics"
	"github.com/mahaj/pulse/pkg/model"
	"github.com/mahaj/pulse/pkg/presence"
	"github.com/mahaj/pulse/pkg/registry"
	"github.com/mahaj/pulse/pkg/router"
	"github.com/mahaj/pulse/pkg/store"
	"github.com/mahaj/pulse/pkg/transport"
	"go.uber.org/zap"
)

const queueSize = 1024

type IDGenerator interface {
	Generate() int64
}

type Hub struct {
	log     *zap.Logger
	store   store.Gateway
	ids     IDGenerator
	metrics *metrics.Metrics
	mirror  presence.Mirror
	now     func() time.Time

	sessions *table
	registry *registry.Registry
	tracker  *presence.Tracker
	router   *router.Router

	// chains holds, per session, the completion signal of the latest
	// persistence call so completions post back in submission order.
	chains map[string]chan struct{}

	events chan func()
	done   chan struct{}
	runCtx context.Context
}

var _ transport.Dispatcher = (*Hub)(nil)

type Option func(*Hub)

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithMirror forwards every presence snapshot, for example to Redis.
func WithMirror(m presence.Mirror) Option {
	return func(h *Hub) { h.mirror = m }
}

func WithClock(now func() time.Time) Option {
	return func(h *Hub) { h.now = now }
}

func New(log *zap.Logger, gw store.Gateway, ids IDGenerator, opts ...Option) *Hub {
	h := &Hub{
		log:    log.Named("hub"),
		store:  gw,
		ids:    ids,
		now:    time.Now,
		chains: make(map[string]chan struct{}),
		events: make(chan func(), queueSize),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.sessions = newTable(h.log)
	trackerOpts := []presence.Option{presence.WithMetrics(h.metrics)}
	if h.mirror != nil {
		trackerOpts = append(trackerOpts, presence.WithMirror(h.mirror))
	}
	h.tracker = presence.NewTracker(log, h.sessions, trackerOpts...)
	h.registry = registry.New(registry.WithObserver(h.tracker), registry.WithClock(h.now))
	h.router = router.New(log, h.registry, h.sessions, h.metrics)
	return h
}

// Run executes posted work until ctx is cancelled, then closes every session.
func (h *Hub) Run(ctx context.Context) error {
	h.runCtx = ctx
	defer h.stop()

	h.log.Info("hub started")
	for {
		select {
		case fn := <-h.events:
			fn()
		case <-ctx.Done():
			h.log.Info("hub stopping", zap.Int("sessions", h.sessions.len()), zap.Int("online", h.registry.Len()))
			return nil
		}
	}
}

func (h *Hub) stop() {
	close(h.done)
	h.sessions.closeAll()
	h.setSessionGauge()
}

func (h *Hub) post(ctx context.Context, fn func()) error {
	select {
	case <-h.done:
		return errs.ErrHubStopped
	default:
	}
	select {
	case h.events <- fn:
		return nil
	case <-h.done:
		return errs.ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect adds a session to the table and sends it the current online set.
func (h *Hub) Connect(s *transport.Session) error {
	return h.post(context.Background(), func() {
		h.sessions.add(s)
		h.setSessionGauge()
		if err := s.Send(model.EventUsersOnline, h.onlineSnapshot()); err != nil {
			h.log.Debug("initial presence not sent", zap.String("session_id", s.ID), zap.Error(err))
		}
	})
}

// Disconnect closes the session. Its binding is removed only if the session
// identified; a replaced session leaves the newer binding alone.
func (h *Hub) Disconnect(s *transport.Session) {
	if err := h.post(context.Background(), func() { h.disconnect(s) }); err != nil {
		s.Close()
	}
}

func (h *Hub) disconnect(s *transport.Session) {
	identified := s.State() == transport.Identified
	h.sessions.remove(s.ID)
	s.Close()
	h.setSessionGauge()
	if identified {
		if err := h.registry.Unregister(s.ID); err != nil {
			h.log.Warn("unregister failed", zap.String("session_id", s.ID), zap.Error(err))
		}
	}
	h.log.Debug("session disconnected", zap.String("session_id", s.ID), zap.String("user_id", s.UserID()))
}

// Inbound queues one client frame for the loop.
func (h *Hub) Inbound(s *transport.Session, env transport.Envelope) {
	if err := h.post(context.Background(), func() { h.handle(s, env) }); err != nil {
		h.sendError(s, err)
	}
}

type result struct {
	res router.Result
	err error
}

// Deliver routes a payload from outside the loop and waits for the outcome.
func (h *Hub) Deliver(ctx context.Context, userID string, kind model.EventKind, payload any) (router.Result, error) {
	reply := make(chan result, 1)
	err := h.post(ctx, func() {
		res, err := h.router.Deliver(userID, kind, payload)
		reply <- result{res, err}
	})
	if err != nil {
		return router.Offline, fmt.Errorf("deliver %s to %s: %w", kind, userID, err)
	}
	select {
	case r := <-reply:
		return r.res, r.err
	case <-ctx.Done():
		return router.Offline, ctx.Err()
	case <-h.done:
		return router.Offline, errs.ErrHubStopped
	}
}

// OnlineUserIDs returns a sorted snapshot of the online set.
func (h *Hub) OnlineUserIDs(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	if err := h.post(ctx, func() { reply <- h.onlineSnapshot() }); err != nil {
		return nil, err
	}
	select {
	case online := <-reply:
		return online, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, errs.ErrHubStopped
	}
}

func (h *Hub) onlineSnapshot() []string {
	online := h.registry.OnlineUserIDs()
	if online == nil {
		online = []string{}
	}
	return online
}

// suspend runs work off the loop. The closure work returns is posted back
// after every earlier suspension of the same session has been posted.
func (h *Hub) suspend(s *transport.Session, work func(ctx context.Context) func()) {
	prev := h.chains[s.ID]
	done := make(chan struct{})
	h.chains[s.ID] = done
	ctx := h.runCtx

	go func() {
		defer close(done)
		complete := work(ctx)
		if prev != nil {
			<-prev
		}
		_ = h.post(context.Background(), func() {
			if h.chains[s.ID] == done {
				delete(h.chains, s.ID)
			}
			complete()
		})
	}()
}

func (h *Hub) sendError(s *transport.Session, err error) {
	payload := model.ErrorPayload{Code: errs.Code(err), Message: err.Error()}
	if sendErr := s.Send(model.EventError, payload); sendErr != nil {
		h.log.Debug("error event not sent", zap.String("session_id", s.ID), zap.NamedError("cause", err), zap.Error(sendErr))
	}
}

func (h *Hub) persistenceFailed(op string) {
	if h.metrics != nil {
		h.metrics.PersistenceFailures.WithLabelValues(op).Inc()
	}
}

func (h *Hub) setSessionGauge() {
	if h.metrics != nil {
		h.metrics.Sessions.Set(float64(h.sessions.len()))
	}
}
