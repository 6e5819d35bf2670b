package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nestline/chatnest/internal/storage"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// RegisterRequest is the payload for parent registration.
type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// ParentLoginRequest is the payload for parent login.
type ParentLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ChildLoginRequest is the payload for child login.
type ChildLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned on successful authentication.
type LoginResponse struct {
	Token     string      `json:"token"`
	SessionID string      `json:"session_id"`
	Role      string      `json:"role"`
	User      interface{} `json:"user"`
	Usage     *UsageInfo  `json:"usage,omitempty"`
}

// UsageInfo summarizes a child's usage window for API responses.
type UsageInfo struct {
	Day              string `json:"day"`
	TotalMinutes     int    `json:"total_minutes"`
	LimitMinutes     int    `json:"limit_minutes"`
	RemainingMinutes int    `json:"remaining_minutes"`
	UsagePercent     int    `json:"usage_percent"`
	Exceeded         bool   `json:"exceeded"`
}

// UsageSessionInfo is one login/logout interval in a usage report.
type UsageSessionInfo struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Minutes int       `json:"minutes"`
	Active  bool      `json:"active"`
}

// UsageReport is the parent dashboard view of one child's day.
type UsageReport struct {
	ChildID  string             `json:"child_id"`
	Usage    UsageInfo          `json:"usage"`
	Sessions []UsageSessionInfo `json:"sessions"`
}

// ChangePasswordRequest is the payload for password changes.
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// CreateChildRequest is the payload for adding a child account.
type CreateChildRequest struct {
	Name              string `json:"name"`
	Age               int    `json:"age"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	DailyLimitMinutes int    `json:"daily_limit_minutes"`
}

// UpdateLimitRequest is the payload for changing a child's daily limit.
type UpdateLimitRequest struct {
	DailyLimitMinutes int `json:"daily_limit_minutes"`
}

// CreateSessionRequest is the payload for starting a chat session.
type CreateSessionRequest struct {
	ChildID string `json:"child_id"`
	Topic   string `json:"topic"`
}

// AddMessageRequest is the payload for persisting a chat message.
type AddMessageRequest struct {
	SessionID      string   `json:"session_id"`
	From           string   `json:"from_type"`
	Text           string   `json:"message_text"`
	ButtonsOffered []string `json:"buttons_offered,omitempty"`
}

// ChatRequest is the payload for a live chat turn.
type ChatRequest struct {
	SessionID  string `json:"session_id,omitempty"`
	Message    string `json:"message"`
	TopicLabel string `json:"topic_label"`
	TopicValue string `json:"topic"`
}

// ChatResponse is the assistant's reply to a chat turn.
type ChatResponse struct {
	Response string   `json:"response"`
	Buttons  []string `json:"buttons"`
}

// childView strips sensitive fields from a child for API responses.
type childView struct {
	ID                string    `json:"id"`
	ParentID          string    `json:"parent_id"`
	Name              string    `json:"name"`
	Age               int       `json:"age"`
	Username          string    `json:"username"`
	DailyLimitMinutes int       `json:"daily_limit_minutes"`
	CreatedAt         time.Time `json:"created_at"`
}

func toChildView(c storage.Child) childView {
	return childView{
		ID:                c.ID,
		ParentID:          c.ParentID,
		Name:              c.Name,
		Age:               c.Age,
		Username:          c.Username,
		DailyLimitMinutes: c.DailyLimitMinutes,
		CreatedAt:         c.CreatedAt,
	}
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// WriteError writes an error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}
