package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/nestline/chatnest/internal/auth"
	"github.com/nestline/chatnest/internal/storage"
	"github.com/nestline/chatnest/internal/usage"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || req.Username == "" || req.Password == "" {
		WriteError(w, http.StatusBadRequest, "Email, username and password are required")
		return
	}
	if len(req.Password) < 8 {
		WriteError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	parent, token, err := s.auth.RegisterParent(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			WriteError(w, http.StatusConflict, "An account with that email or username already exists")
			return
		}
		s.logger.Error().Err(err).Msg("Failed to register parent")
		WriteError(w, http.StatusInternalServerError, "Failed to register")
		return
	}

	sessions := s.auth.SessionsForUser(parent.ID)
	sessionID := ""
	if len(sessions) > 0 {
		sessionID = sessions[0]
	}

	WriteJSON(w, http.StatusCreated, LoginResponse{
		Token:     token,
		SessionID: sessionID,
		Role:      auth.RoleParent,
		User:      parent,
	})
}

func (s *Server) handleParentLogin(w http.ResponseWriter, r *http.Request) {
	var req ParentLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	parent, token, err := s.auth.ParentLogin(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			WriteError(w, http.StatusUnauthorized, "Invalid email or password")
			return
		}
		s.logger.Error().Err(err).Msg("Parent login failed")
		WriteError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	sessions := s.auth.SessionsForUser(parent.ID)
	sessionID := ""
	if len(sessions) > 0 {
		sessionID = sessions[0]
	}

	WriteJSON(w, http.StatusOK, LoginResponse{
		Token:     token,
		SessionID: sessionID,
		Role:      auth.RoleParent,
		User:      parent,
	})
}

func (s *Server) handleChildLogin(w http.ResponseWriter, r *http.Request) {
	var req ChildLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := s.auth.ChildLogin(r.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			WriteError(w, http.StatusUnauthorized, "Invalid username or password")
		case errors.Is(err, auth.ErrLimitExceeded):
			// A limit denial is not a credentials failure. The child
			// authenticated fine, today's minutes are just used up.
			WriteJSON(w, http.StatusForbidden, map[string]interface{}{
				"error":   "Daily usage limit reached",
				"message": "Time's up for today! Come back tomorrow.",
				"usage":   usageInfo(result.Window, result.Verdict, result.Child.DailyLimitMinutes),
			})
		default:
			s.logger.Error().Err(err).Msg("Child login failed")
			WriteError(w, http.StatusInternalServerError, "Login failed")
		}
		return
	}

	info := usageInfo(result.Window, result.Verdict, result.Child.DailyLimitMinutes)
	WriteJSON(w, http.StatusOK, LoginResponse{
		Token:     result.Token,
		SessionID: result.Session.ID,
		Role:      auth.RoleChild,
		User:      toChildView(*result.Child),
		Usage:     &info,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := GetSessionFromContext(r.Context())
	if !ok {
		// No live session to close. For children still record the logout
		// so the usage window does not stay open until end of day.
		if role, _ := GetRoleFromContext(r.Context()); role == auth.RoleChild {
			if userID, ok := GetUserIDFromContext(r.Context()); ok {
				if err := s.auth.RecordChildLogout(r.Context(), userID); err != nil {
					s.logger.Error().Err(err).Msg("Failed to record child logout")
					WriteError(w, http.StatusInternalServerError, "Logout failed")
					return
				}
			}
		}
		WriteJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
		return
	}

	if err := s.auth.Logout(r.Context(), sessionID); err != nil && !errors.Is(err, auth.ErrSessionNotFound) {
		s.logger.Error().Err(err).Msg("Logout failed")
		WriteError(w, http.StatusInternalServerError, "Logout failed")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())
	role, _ := GetRoleFromContext(r.Context())

	switch role {
	case auth.RoleParent:
		parent, err := s.store.Parents().Get(r.Context(), userID)
		if err != nil {
			WriteError(w, http.StatusNotFound, "Account not found")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"role": role, "user": parent})
	case auth.RoleChild:
		child, err := s.store.Children().Get(r.Context(), userID)
		if err != nil {
			WriteError(w, http.StatusNotFound, "Account not found")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"role": role, "user": toChildView(*child)})
	default:
		WriteError(w, http.StatusUnauthorized, "Unknown role")
	}
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	role, _ := GetRoleFromContext(r.Context())
	if role != auth.RoleParent {
		WriteError(w, http.StatusForbidden, "Only parents can change their password")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.NewPassword) < 8 {
		WriteError(w, http.StatusBadRequest, "New password must be at least 8 characters")
		return
	}

	userID, _ := GetUserIDFromContext(r.Context())
	if err := s.auth.ChangeParentPassword(r.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			WriteError(w, http.StatusUnauthorized, "Current password is incorrect")
			return
		}
		s.logger.Error().Err(err).Msg("Failed to change password")
		WriteError(w, http.StatusInternalServerError, "Failed to change password")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "password changed"})
}

// usageInfo flattens a window and verdict into the API usage summary.
func usageInfo(window usage.Window, verdict usage.Verdict, limitMinutes int) UsageInfo {
	day := ""
	if len(window.Sessions) > 0 {
		day = usage.Day(window.Sessions[0].Start)
	}

	return UsageInfo{
		Day:              day,
		TotalMinutes:     window.TotalMinutes,
		LimitMinutes:     limitMinutes,
		RemainingMinutes: verdict.RemainingMinutes,
		UsagePercent:     verdict.UsagePercent,
		Exceeded:         verdict.Exceeded,
	}
}
