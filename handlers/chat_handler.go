package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/chat-gateway/middleware"
	"github.com/upb/chat-gateway/models"
	"github.com/upb/chat-gateway/services"
	"github.com/upb/chat-gateway/services/chat"
	"github.com/upb/chat-gateway/services/session"
	"github.com/upb/chat-gateway/utils"
)

// SessionHeader carries the session id for clients that do not keep cookies
const SessionHeader = "X-Chat-Session"

// ChatRequest is the body of POST /api/chat
type ChatRequest struct {
	Message   string `json:"message" validate:"max=8000"`
	SessionID string `json:"session_id,omitempty" validate:"omitempty,max=64,trimmed"`
}

// NewChatResponse is the body returned by POST /api/chat/new
type NewChatResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
}

// SessionListResponse is the body returned by GET /api/chat/sessions
type SessionListResponse struct {
	Sessions []session.Summary `json:"sessions"`
}

// HistoryResponse is the body returned by GET /api/chat/history
type HistoryResponse struct {
	History []models.Turn `json:"history"`
}

// TurnService answers chat turns
type TurnService interface {
	HandleTurn(ctx context.Context, req chat.TurnRequest) (*chat.TurnResponse, error)
}

// SessionService manages a caller's sessions
type SessionService interface {
	CreateSession(ctx context.Context, callerID string) (*models.ChatSession, error)
	GetHistory(ctx context.Context, callerID, sessionID string) ([]models.Turn, error)
	ListSessions(ctx context.Context, callerID string) ([]session.Summary, error)
}

// CookieConfig controls the current-session cookie
type CookieConfig struct {
	Name   string
	TTL    time.Duration
	Secure bool
}

// ChatHandler handles the chat HTTP surface
type ChatHandler struct {
	turns    TurnService
	sessions SessionService
	cookie   CookieConfig
	logger   *zap.Logger
}

// NewChatHandler creates a new ChatHandler
func NewChatHandler(turns TurnService, sessions SessionService, cookie CookieConfig, logger *zap.Logger) *ChatHandler {
	if cookie.Name == "" {
		cookie.Name = "chat_session"
	}
	return &ChatHandler{
		turns:    turns,
		sessions: sessions,
		cookie:   cookie,
		logger:   logger,
	}
}

// HandleChat handles POST /api/chat
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)
	callerID := middleware.GetCallerIDFromContext(ctx)
	if callerID == "" {
		HandleServiceError(w, services.ErrUnauthorized, h.logger)
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Warn("failed to parse request body",
			zap.String("request_id", requestID),
			zap.Error(err))
		_ = utils.WriteBadRequest(w, "Invalid request body", nil)
		return
	}

	if err := utils.ValidateStruct(&req); err != nil {
		h.logger.Warn("request validation failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleValidationError(w, err, h.logger)
		return
	}

	resp, err := h.turns.HandleTurn(ctx, chat.TurnRequest{
		CallerID:  callerID,
		SessionID: h.resolveSessionID(r, req.SessionID),
		Message:   req.Message,
		RequestID: requestID,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, resp); err != nil {
		h.logger.Error("failed to write chat response", zap.Error(err))
	}
}

// HandleNewChat handles POST /api/chat/new and makes the new session the
// caller's current one
func (h *ChatHandler) HandleNewChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.GetCallerIDFromContext(ctx)

	s, err := h.sessions.CreateSession(ctx, callerID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cookie.Name,
		Value:    s.ID,
		Path:     "/",
		MaxAge:   int(h.cookie.TTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	h.logger.Info("chat session created",
		zap.String("request_id", middleware.GetRequestIDFromContext(ctx)),
		zap.String("caller_id", callerID),
		zap.String("session_id", s.ID))

	_ = utils.WriteOK(w, NewChatResponse{Success: true, SessionID: s.ID})
}

// HandleListSessions handles GET /api/chat/sessions
func (h *ChatHandler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.GetCallerIDFromContext(ctx)
	if callerID == "" {
		HandleServiceError(w, services.ErrUnauthorized, h.logger)
		return
	}

	summaries, err := h.sessions.ListSessions(ctx, callerID)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if summaries == nil {
		summaries = []session.Summary{}
	}

	_ = utils.WriteOK(w, SessionListResponse{Sessions: summaries})
}

// HandleHistory handles GET /api/chat/history?session_id=
func (h *ChatHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	callerID := middleware.GetCallerIDFromContext(ctx)
	if callerID == "" {
		HandleServiceError(w, services.ErrUnauthorized, h.logger)
		return
	}

	history, err := h.sessions.GetHistory(ctx, callerID, r.URL.Query().Get("session_id"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	if history == nil {
		history = []models.Turn{}
	}

	_ = utils.WriteOK(w, HistoryResponse{History: history})
}

// resolveSessionID picks the body value, then the header, then the cookie
func (h *ChatHandler) resolveSessionID(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	if v := r.Header.Get(SessionHeader); v != "" {
		return v
	}
	if c, err := r.Cookie(h.cookie.Name); err == nil {
		return c.Value
	}
	return ""
}
