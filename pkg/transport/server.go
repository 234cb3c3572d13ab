package transport

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/pulse/pkg/errs"
	"github.com/mahaj/pulse/pkg/model"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer.
	maxMessageSize = 64 << 10
)

// Dispatcher receives session lifecycle and inbound frames, in arrival order
// per session.
type Dispatcher interface {
	Connect(s *Session) error
	Disconnect(s *Session)
	Inbound(s *Session, env Envelope)
}

type Authenticator interface {
	Authenticate(token string) (userID string, err error)
}

type AuthenticatorFunc func(token string) (string, error)

func (f AuthenticatorFunc) Authenticate(token string) (string, error) { return f(token) }

type Server struct {
	log        *zap.Logger
	auth       Authenticator
	dispatcher Dispatcher
	buffer     int
	upgrader   websocket.Upgrader
}

type ServerOption func(*Server)

// WithAuthenticator requires a valid token on every upgrade. Without it
// sessions are anonymous and identify picks the user.
func WithAuthenticator(a Authenticator) ServerOption {
	return func(s *Server) { s.auth = a }
}

func WithBuffer(n int) ServerOption {
	return func(s *Server) { s.buffer = n }
}

func WithCheckOrigin(fn func(r *http.Request) bool) ServerOption {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

func NewServer(log *zap.Logger, d Dispatcher, opts ...ServerOption) *Server {
	s := &Server{
		log:        log.Named("transport"),
		dispatcher: d,
		buffer:     DefaultBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// bearerToken reads the Authorization header, falling back to the token query
// parameter for browser clients that cannot set headers on upgrade.
func bearerToken(r *http.Request) string {
	token := r.Header.Get("Authorization")
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return strings.TrimPrefix(token, "Bearer ")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var authUserID string
	if s.auth != nil {
		token := bearerToken(r)
		if token == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		userID, err := s.auth.Authenticate(token)
		if err != nil {
			s.log.Info("rejected upgrade", zap.String("remote", r.RemoteAddr), zap.Error(err))
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		authUserID = userID
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	session := NewSession(authUserID, s.buffer)
	if err := s.dispatcher.Connect(session); err != nil {
		s.log.Warn("connect refused", zap.String("session_id", session.ID), zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "unavailable"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	s.log.Debug("session connected", zap.String("session_id", session.ID), zap.String("auth_user_id", authUserID))

	go s.writePump(conn, session)
	go s.readPump(conn, session)
}

// readPump pumps frames from the websocket connection to the dispatcher.
func (s *Server) readPump(conn *websocket.Conn, session *Session) {
	defer func() {
		s.dispatcher.Disconnect(session)
		conn.Close()
	}()
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error { conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Info("read failed", zap.String("session_id", session.ID), zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(frame, &env); err != nil || env.Event == "" {
			_ = session.Send(model.EventError, model.ErrorPayload{
				Code:    errs.Code(errs.ErrInvalidArgument),
				Message: "frames must be {\"event\": ..., \"data\": ...}",
			})
			continue
		}
		s.dispatcher.Inbound(session, env)
	}
}

// writePump writes one frame per queued message and keeps the peer alive
// with pings. It returns once the session is closed and drained.
func (s *Server) writePump(conn *websocket.Conn, session *Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	out := session.Outbound()
	for {
		select {
		case frame, ok := <-out:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.log.Debug("write failed", zap.String("session_id", session.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
