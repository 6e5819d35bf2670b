package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/nestline/chatnest/internal/auth"
	"github.com/nestline/chatnest/internal/metrics"
	"github.com/nestline/chatnest/internal/storage"
)

func (s *Server) handleCreateChatSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Topic = strings.TrimSpace(req.Topic)
	if req.Topic == "" {
		WriteError(w, http.StatusBadRequest, "Topic is required")
		return
	}

	childID, ok := s.resolveChildAccess(w, r, req.ChildID)
	if !ok {
		return
	}

	session := storage.ChatSession{
		ID:        uuid.NewString(),
		ChildID:   childID,
		Topic:     req.Topic,
		StartedAt: time.Now(),
	}

	if err := s.store.Chats().CreateSession(r.Context(), session); err != nil {
		s.logger.Error().Err(err).Msg("Failed to create chat session")
		WriteError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}

	WriteJSON(w, http.StatusCreated, session)
}

func (s *Server) handleListChatSessions(w http.ResponseWriter, r *http.Request) {
	childID, ok := s.resolveChildAccess(w, r, mux.Vars(r)["childID"])
	if !ok {
		return
	}

	sessions, err := s.store.Chats().ListSessionsByChild(r.Context(), childID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list chat sessions")
		WriteError(w, http.StatusInternalServerError, "Failed to list sessions")
		return
	}

	WriteJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleAddChatMessage(w http.ResponseWriter, r *http.Request) {
	var req AddMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.SessionID == "" || strings.TrimSpace(req.Text) == "" {
		WriteError(w, http.StatusBadRequest, "Session ID and message text are required")
		return
	}

	sender := storage.Sender(req.From)
	if sender != storage.SenderKid && sender != storage.SenderAI {
		WriteError(w, http.StatusBadRequest, "from_type must be kid or ai")
		return
	}

	if _, ok := s.resolveSessionAccess(w, r, req.SessionID); !ok {
		return
	}

	message := storage.ChatMessage{
		ID:             uuid.NewString(),
		SessionID:      req.SessionID,
		From:           sender,
		Text:           req.Text,
		ButtonsOffered: req.ButtonsOffered,
		CreatedAt:      time.Now(),
	}

	if err := s.store.Chats().AddMessage(r.Context(), message); err != nil {
		s.logger.Error().Err(err).Msg("Failed to store chat message")
		WriteError(w, http.StatusInternalServerError, "Failed to store message")
		return
	}

	WriteJSON(w, http.StatusCreated, message)
}

func (s *Server) handleListChatMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]

	if _, ok := s.resolveSessionAccess(w, r, sessionID); !ok {
		return
	}

	messages, err := s.store.Chats().ListMessages(r.Context(), sessionID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list chat messages")
		WriteError(w, http.StatusInternalServerError, "Failed to list messages")
		return
	}

	WriteJSON(w, http.StatusOK, messages)
}

// handleChat runs one live turn: the child's message goes to the model,
// the parsed reply comes back, and when a session is given both sides of
// the turn are persisted. Upstream failures still produce a friendly
// reply so the conversation never dead-ends for the child.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" || req.TopicValue == "" {
		WriteError(w, http.StatusBadRequest, "Message and topic are required")
		return
	}
	if req.TopicLabel == "" {
		req.TopicLabel = req.TopicValue
	}

	if req.SessionID != "" {
		if _, ok := s.resolveSessionAccess(w, r, req.SessionID); !ok {
			return
		}
	}

	reply, chatErr := s.assistant.Chat(r.Context(), req.TopicLabel, req.TopicValue, req.Message)

	outcome := "ok"
	if chatErr != nil {
		outcome = "fallback"
	}
	metrics.ChatTurnsTotal.WithLabelValues(req.TopicValue, outcome).Inc()

	if req.SessionID != "" {
		s.persistTurn(r, req, reply.Text, reply.Buttons)
	}

	WriteJSON(w, http.StatusOK, ChatResponse{
		Response: reply.Text,
		Buttons:  reply.Buttons,
	})
}

// persistTurn stores the kid message and the assistant reply. Persistence
// is best-effort, a storage hiccup must not lose the turn the child
// already sees.
func (s *Server) persistTurn(r *http.Request, req ChatRequest, replyText string, buttons []string) {
	now := time.Now()

	kidMsg := storage.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: req.SessionID,
		From:      storage.SenderKid,
		Text:      req.Message,
		CreatedAt: now,
	}
	if err := s.store.Chats().AddMessage(r.Context(), kidMsg); err != nil {
		s.logger.Warn().Err(err).Str("session_id", req.SessionID).Msg("Failed to persist kid message")
		return
	}

	aiMsg := storage.ChatMessage{
		ID:             uuid.NewString(),
		SessionID:      req.SessionID,
		From:           storage.SenderAI,
		Text:           replyText,
		ButtonsOffered: buttons,
		CreatedAt:      now.Add(time.Millisecond), // keep turn order stable
	}
	if err := s.store.Chats().AddMessage(r.Context(), aiMsg); err != nil {
		s.logger.Warn().Err(err).Str("session_id", req.SessionID).Msg("Failed to persist assistant message")
	}
}

// resolveChildAccess decides which child a chat operation targets.
// Children may only act as themselves; parents may act on children they
// own. An empty requested ID resolves to the caller for child accounts.
func (s *Server) resolveChildAccess(w http.ResponseWriter, r *http.Request, requestedChildID string) (string, bool) {
	userID, _ := GetUserIDFromContext(r.Context())
	role, _ := GetRoleFromContext(r.Context())

	switch role {
	case auth.RoleChild:
		if requestedChildID != "" && requestedChildID != userID {
			WriteError(w, http.StatusForbidden, "Children can only access their own chats")
			return "", false
		}
		return userID, true
	case auth.RoleParent:
		if requestedChildID == "" {
			WriteError(w, http.StatusBadRequest, "Child ID is required")
			return "", false
		}
		if _, ok := s.ownedChild(w, r, requestedChildID); !ok {
			return "", false
		}
		return requestedChildID, true
	default:
		WriteError(w, http.StatusForbidden, "Insufficient permissions")
		return "", false
	}
}

// resolveSessionAccess loads a chat session and verifies the caller may
// touch it, via the session's owning child.
func (s *Server) resolveSessionAccess(w http.ResponseWriter, r *http.Request, sessionID string) (*storage.ChatSession, bool) {
	session, err := s.store.Chats().GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Session not found")
		} else {
			s.logger.Error().Err(err).Msg("Failed to load chat session")
			WriteError(w, http.StatusInternalServerError, "Failed to load session")
		}
		return nil, false
	}

	if _, ok := s.resolveChildAccess(w, r, session.ChildID); !ok {
		return nil, false
	}

	return session, true
}
