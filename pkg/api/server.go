// Package api is the REST boundary next to the realtime gateway: dev login,
// history and notification listings, read receipts, presence and domain
// action intake.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/mahaj/pulse/pkg/auth"
	"github.com/mahaj/pulse/pkg/errs"
	"github.com/mahaj/pulse/pkg/events"
	"github.com/mahaj/pulse/pkg/store"
	"go.uber.org/zap"
)

type PresenceReader interface {
	Online(ctx context.Context) ([]string, error)
}

type ActionPublisher interface {
	Publish(ctx context.Context, a events.Action) error
}

type Server struct {
	log      *zap.Logger
	auth     *auth.Authenticator
	store    store.Gateway
	presence PresenceReader
	actions  ActionPublisher
}

type Option func(*Server)

func WithPresence(p PresenceReader) Option {
	return func(s *Server) { s.presence = p }
}

func WithActions(p ActionPublisher) Option {
	return func(s *Server) { s.actions = p }
}

func New(log *zap.Logger, a *auth.Authenticator, gw store.Gateway, opts ...Option) *Server {
	s := &Server{log: log.Named("api"), auth: a, store: gw}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Public endpoint
	mux.Handle("POST /login", http.HandlerFunc(s.login))

	// Protected endpoints
	mux.Handle("GET /history", s.AuthMiddleware(http.HandlerFunc(s.history)))
	mux.Handle("GET /notifications", s.AuthMiddleware(http.HandlerFunc(s.notifications)))
	mux.Handle("POST /read", s.AuthMiddleware(http.HandlerFunc(s.read)))
	mux.Handle("GET /presence", s.AuthMiddleware(http.HandlerFunc(s.onlineUsers)))
	mux.Handle("POST /actions", s.AuthMiddleware(http.HandlerFunc(s.publishAction)))

	return CORSMiddleware(mux)
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware checks the bearer token and puts its claims in the request
// context for the handlers.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if tokenString == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		claims, err := s.auth.ValidateToken(tokenString)
		if err != nil {
			s.log.Debug("rejected token", zap.Error(err))
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"code": errs.Code(err), "error": http.StatusText(status)})
}
