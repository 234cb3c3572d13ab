// Package registry maps logical user identities to their active transport
// session. At most one binding exists per user: the last register wins.
package registry

import (
	"fmt"
	"sort"
	"time"

	"github.com/mahaj/pulse/pkg/errs"
	"github.com/samber/lo"
)

type Binding struct {
	UserID      string
	SessionID   string
	ConnectedAt time.Time
}

// Directory is the routing surface consumers depend on. The in-memory
// Registry implements it; a shared store could replace it when presence has
// to span processes.
type Directory interface {
	Register(userID, sessionID string) error
	Unregister(sessionID string) error
	Lookup(userID string) (string, bool)
	OnlineUserIDs() []string
}

// Observer is told about the online set after every accepted mutation.
type Observer interface {
	PresenceChanged(online []string)
}

type Option func(*Registry)

func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// Registry is not safe for concurrent use. It is owned by a single event
// loop which serialises every call.
type Registry struct {
	byUser    map[string]Binding // user_id -> binding
	bySession map[string]string  // session_id -> user_id
	observer  Observer
	now       func() time.Time
}

var _ Directory = (*Registry)(nil)

func New(opts ...Option) *Registry {
	r := &Registry{
		byUser:    make(map[string]Binding),
		bySession: make(map[string]string),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds sessionID to userID. An existing binding for the user is
// replaced and its session id evicted; its transport is left open.
func (r *Registry) Register(userID, sessionID string) error {
	if userID == "" || sessionID == "" {
		return fmt.Errorf("register user %q session %q: %w", userID, sessionID, errs.ErrInvalidArgument)
	}

	if current, ok := r.byUser[userID]; !ok || current.SessionID != sessionID {
		if ok {
			delete(r.bySession, current.SessionID)
		}
		// A session moving to another identity loses its previous binding.
		if previousUser, ok := r.bySession[sessionID]; ok && previousUser != userID {
			delete(r.byUser, previousUser)
		}
		r.byUser[userID] = Binding{UserID: userID, SessionID: sessionID, ConnectedAt: r.now()}
		r.bySession[sessionID] = userID
	}

	r.changed()
	return nil
}

// Unregister drops the binding owned by sessionID. Unknown or replaced
// session ids are ignored so late disconnects cannot evict a newer session.
func (r *Registry) Unregister(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("unregister: empty session id: %w", errs.ErrInvalidArgument)
	}

	if userID, ok := r.bySession[sessionID]; ok {
		delete(r.bySession, sessionID)
		if current, ok := r.byUser[userID]; ok && current.SessionID == sessionID {
			delete(r.byUser, userID)
		}
	}

	r.changed()
	return nil
}

func (r *Registry) Lookup(userID string) (string, bool) {
	b, ok := r.byUser[userID]
	return b.SessionID, ok
}

func (r *Registry) Binding(userID string) (Binding, bool) {
	b, ok := r.byUser[userID]
	return b, ok
}

// OnlineUserIDs returns the bound users sorted ascending.
func (r *Registry) OnlineUserIDs() []string {
	ids := lo.Keys(r.byUser)
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int { return len(r.byUser) }

func (r *Registry) changed() {
	if r.observer != nil {
		r.observer.PresenceChanged(r.OnlineUserIDs())
	}
}
