// Package transport owns client sessions and their websocket plumbing. A
// Session is a bounded outbound queue plus the identify state machine; the
// Server pumps frames between the socket and a Dispatcher.
package transport

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mahaj/pulse/pkg/errs"
)

type State int

const (
	Connecting State = iota
	Identified
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Identified:
		return "identified"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// DefaultBuffer is the number of outbound frames a session may queue before
// sends start failing.
const DefaultBuffer = 256

// Envelope is one inbound frame.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type Session struct {
	ID string
	// AuthUserID is the user proven by the upgrade request. Empty for
	// anonymous sessions.
	AuthUserID string

	mu     sync.Mutex
	state  State
	userID string
	send   chan []byte
}

func NewSession(authUserID string, buffer int) *Session {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Session{
		ID:         uuid.NewString(),
		AuthUserID: authUserID,
		send:       make(chan []byte, buffer),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID is set once the session is identified.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Identify moves a connecting session to Identified.
func (s *Session) Identify(userID string) error {
	if userID == "" {
		return fmt.Errorf("identify session %s: empty user id: %w", s.ID, errs.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Closed:
		return fmt.Errorf("identify session %s: %w", s.ID, errs.ErrSessionClosed)
	case Identified:
		return fmt.Errorf("session %s already identified as %s: %w", s.ID, s.userID, errs.ErrInvalidArgument)
	}
	s.state = Identified
	s.userID = userID
	return nil
}

// Send queues one {"event","data"} frame. It never blocks: a closed session
// yields ErrSessionClosed and a full queue yields ErrTransport.
func (s *Session) Send(event string, payload any) error {
	frame, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("encode %s for session %s: %w", event, s.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return fmt.Errorf("send %s to session %s: %w", event, s.ID, errs.ErrSessionClosed)
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return fmt.Errorf("send %s to session %s: outbound buffer full: %w", event, s.ID, errs.ErrTransport)
	}
}

// Close is terminal and idempotent. Queued frames are still drained by the
// write pump before it sends the close frame.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return
	}
	s.state = Closed
	close(s.send)
}

// Outbound is the queue the write pump drains. It is closed by Close.
func (s *Session) Outbound() <-chan []byte {
	return s.send
}
