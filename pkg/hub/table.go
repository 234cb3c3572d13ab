package hub

import (
	"fmt"

	"github.com/mahaj/pulse/pkg/errs"
	"github.com/mahaj/pulse/pkg/transport"
	"go.uber.org/zap"
)

// table is every open session, identified or not. Loop owned.
type table struct {
	log      *zap.Logger
	sessions map[string]*transport.Session
}

func newTable(log *zap.Logger) *table {
	return &table{log: log, sessions: make(map[string]*transport.Session)}
}

func (t *table) add(s *transport.Session) { t.sessions[s.ID] = s }

func (t *table) remove(id string) { delete(t.sessions, id) }

func (t *table) len() int { return len(t.sessions) }

// Broadcast implements presence.Broadcaster.
func (t *table) Broadcast(event string, payload any) int {
	reached := 0
	for id, s := range t.sessions {
		if err := s.Send(event, payload); err != nil {
			t.log.Debug("broadcast skipped session", zap.String("session_id", id), zap.Error(err))
			continue
		}
		reached++
	}
	return reached
}

// Send implements router.Sender.
func (t *table) Send(sessionID, event string, payload any) error {
	s, ok := t.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, errs.ErrSessionClosed)
	}
	return s.Send(event, payload)
}

func (t *table) closeAll() {
	for id, s := range t.sessions {
		s.Close()
		delete(t.sessions, id)
	}
}
