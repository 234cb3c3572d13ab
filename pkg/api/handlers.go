package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/mahaj/pulse/pkg/auth"
	"github.com/mahaj/pulse/pkg/errs"
	"github.com/mahaj/pulse/pkg/events"
	"github.com/mahaj/pulse/pkg/model"
	"github.com/mahaj/pulse/pkg/store"
)

type LoginRequest struct {
	UserID string `json:"user_id"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

// login issues a token for any user id. Development only; real credentials
// live with the identity service.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !model.ValidUserID(req.UserID) {
		http.Error(w, "user_id is required and may not contain ':'", http.StatusBadRequest)
		return
	}

	token, err := s.auth.GenerateToken(req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}

func page(r *http.Request) (store.Page, error) {
	q := r.URL.Query()
	p := store.Page{Cursor: q.Get("cursor")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return store.Page{}, fmt.Errorf("limit %q: %w", raw, errs.ErrInvalidArgument)
		}
		p.Limit = limit
	}
	return p, nil
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFrom(r.Context())
	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		s.writeError(w, r, fmt.Errorf("chat_id is required: %w", errs.ErrInvalidArgument))
		return
	}
	if strings.HasPrefix(chatID, "dm:") {
		a, b, ok := model.DMParticipants(chatID)
		if !ok {
			s.writeError(w, r, fmt.Errorf("chat %q: %w", chatID, errs.ErrInvalidArgument))
			return
		}
		if claims.UserID != a && claims.UserID != b {
			s.writeError(w, r, fmt.Errorf("chat %q: %w", chatID, errs.ErrUnauthorized))
			return
		}
	}

	p, err := page(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	messages, err := s.store.ListConversation(r.Context(), chatID, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if messages.Items == nil {
		messages.Items = []model.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) notifications(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFrom(r.Context())
	p, err := page(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	list, err := s.store.ListNotifications(r.Context(), claims.UserID, p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list.Items == nil {
		list.Items = []model.NotificationEvent{}
	}
	writeJSON(w, http.StatusOK, list)
}

type ReadRequest struct {
	ID int64 `json:"id"`
}

func (s *Server) read(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFrom(r.Context())
	var req ReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID <= 0 {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.store.MarkRead(r.Context(), claims.UserID, req.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) onlineUsers(w http.ResponseWriter, r *http.Request) {
	if s.presence == nil {
		http.Error(w, "presence is not configured", http.StatusServiceUnavailable)
		return
	}
	online, err := s.presence.Online(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if online == nil {
		online = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"online": online})
}

type ActionRequest struct {
	Type        model.NotificationType `json:"type"`
	RecipientID string                 `json:"recipientId"`
	SubjectRef  string                 `json:"subjectRef"`
	Content     string                 `json:"content"`
}

// publishAction records a domain action on behalf of the caller. The actor is
// always the token's user.
func (s *Server) publishAction(w http.ResponseWriter, r *http.Request) {
	if s.actions == nil {
		http.Error(w, "action intake is not configured", http.StatusServiceUnavailable)
		return
	}
	claims, _ := auth.ClaimsFrom(r.Context())
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	err := s.actions.Publish(r.Context(), events.Action{
		Type:        req.Type,
		ActorID:     claims.UserID,
		RecipientID: req.RecipientID,
		SubjectRef:  req.SubjectRef,
		Content:     req.Content,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
