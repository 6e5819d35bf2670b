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
	"github.com/nestline/chatnest/internal/storage"
)

func (s *Server) handleListChildren(w http.ResponseWriter, r *http.Request) {
	parentID, _ := GetUserIDFromContext(r.Context())

	children, err := s.store.Children().ListByParent(r.Context(), parentID)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list children")
		WriteError(w, http.StatusInternalServerError, "Failed to list children")
		return
	}

	views := make([]childView, 0, len(children))
	for _, c := range children {
		views = append(views, toChildView(c))
	}

	WriteJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateChild(w http.ResponseWriter, r *http.Request) {
	parentID, _ := GetUserIDFromContext(r.Context())

	var req CreateChildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Username = strings.TrimSpace(req.Username)
	if req.Name == "" || req.Username == "" || req.Password == "" {
		WriteError(w, http.StatusBadRequest, "Name, username and password are required")
		return
	}
	if req.DailyLimitMinutes <= 0 {
		WriteError(w, http.StatusBadRequest, "Daily limit must be a positive number of minutes")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to hash child password")
		WriteError(w, http.StatusInternalServerError, "Failed to create child")
		return
	}

	now := time.Now()
	child := storage.Child{
		ID:                uuid.NewString(),
		ParentID:          parentID,
		Name:              req.Name,
		Age:               req.Age,
		Username:          req.Username,
		PasswordHash:      hash,
		DailyLimitMinutes: req.DailyLimitMinutes,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.store.Children().Create(r.Context(), child); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			WriteError(w, http.StatusConflict, "That username is already taken")
			return
		}
		s.logger.Error().Err(err).Msg("Failed to create child")
		WriteError(w, http.StatusInternalServerError, "Failed to create child")
		return
	}

	WriteJSON(w, http.StatusCreated, toChildView(child))
}

func (s *Server) handleUpdateLimit(w http.ResponseWriter, r *http.Request) {
	childID := mux.Vars(r)["id"]

	child, ok := s.ownedChild(w, r, childID)
	if !ok {
		return
	}

	var req UpdateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.DailyLimitMinutes <= 0 {
		WriteError(w, http.StatusBadRequest, "Daily limit must be a positive number of minutes")
		return
	}

	if err := s.store.Children().SetDailyLimit(r.Context(), child.ID, req.DailyLimitMinutes); err != nil {
		s.logger.Error().Err(err).Msg("Failed to update daily limit")
		WriteError(w, http.StatusInternalServerError, "Failed to update limit")
		return
	}

	s.logger.Info().
		Str("child_id", child.ID).
		Int("limit_minutes", req.DailyLimitMinutes).
		Msg("Updated daily usage limit")

	child.DailyLimitMinutes = req.DailyLimitMinutes
	WriteJSON(w, http.StatusOK, toChildView(*child))
}

// ownedChild loads a child and verifies the requesting parent owns it.
// Writes the error response itself when the check fails.
func (s *Server) ownedChild(w http.ResponseWriter, r *http.Request, childID string) (*storage.Child, bool) {
	parentID, _ := GetUserIDFromContext(r.Context())

	child, err := s.store.Children().Get(r.Context(), childID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "Child not found")
		} else {
			s.logger.Error().Err(err).Msg("Failed to load child")
			WriteError(w, http.StatusInternalServerError, "Failed to load child")
		}
		return nil, false
	}

	if child.ParentID != parentID {
		// Do not reveal whether the child exists
		WriteError(w, http.StatusNotFound, "Child not found")
		return nil, false
	}

	return child, true
}
