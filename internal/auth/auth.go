package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/nestline/chatnest/internal/metrics"
	"github.com/nestline/chatnest/internal/storage"
	"github.com/nestline/chatnest/internal/usage"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultTokenExpiration is the default expiration time for JWT tokens.
	DefaultTokenExpiration = 24 * time.Hour

	// BcryptCost is the cost factor for bcrypt password hashing.
	BcryptCost = 12
)

// Account roles carried in JWT claims.
const (
	RoleParent = "parent"
	RoleChild  = "child"
)

var (
	// ErrInvalidCredentials is returned when login credentials are invalid.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken is returned when a JWT token is invalid.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSessionNotFound is returned when a session is not found.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired is returned when a session has expired.
	ErrSessionExpired = errors.New("session expired")

	// ErrLimitExceeded is returned when a child's daily usage limit is
	// already used up at login time.
	ErrLimitExceeded = errors.New("daily usage limit exceeded")
)

// Claims represents the JWT claims for an authenticated account.
type Claims struct {
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Session represents an active login session.
type Session struct {
	ID           string
	UserID       string
	Role         string
	Username     string
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
}

// ChildLoginResult carries everything a successful (or limit-denied) child
// login produced. On ErrLimitExceeded, Token is empty and Window/Verdict
// describe the day that caused the denial.
type ChildLoginResult struct {
	Child   *storage.Child
	Token   string
	Session *Session
	Window  usage.Window
	Verdict usage.Verdict
}

// AuthService handles authentication and session management for parents
// and children.
type AuthService struct {
	parents         storage.ParentStore
	children        storage.ChildStore
	meter           *usage.Meter
	jwtSecret       []byte
	tokenExpiration time.Duration
	sessions        map[string]*Session
	sessionMutex    sync.RWMutex
	logger          zerolog.Logger
}

// NewAuthService creates a new authentication service.
func NewAuthService(parents storage.ParentStore, children storage.ChildStore, meter *usage.Meter, jwtSecret string, tokenExpiration time.Duration, logger zerolog.Logger) *AuthService {
	if tokenExpiration == 0 {
		tokenExpiration = DefaultTokenExpiration
	}

	return &AuthService{
		parents:         parents,
		children:        children,
		meter:           meter,
		jwtSecret:       []byte(jwtSecret),
		tokenExpiration: tokenExpiration,
		sessions:        make(map[string]*Session),
		logger:          logger.With().Str("component", "auth").Logger(),
	}
}

// HashPassword hashes a password using bcrypt.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword verifies a password against a hash.
func VerifyPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// RegisterParent creates a parent account and logs it in.
func (s *AuthService) RegisterParent(ctx context.Context, email, username, password string) (*storage.Parent, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)

	hash, err := HashPassword(password)
	if err != nil {
		return nil, "", err
	}

	now := time.Now()
	parent := storage.Parent{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.parents.Create(ctx, parent); err != nil {
		return nil, "", err
	}

	token, _, err := s.createSession(parent.ID, RoleParent, parent.Username)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info().Str("parent_id", parent.ID).Msg("Registered parent account")
	return &parent, token, nil
}

// ParentLogin authenticates a parent by email and password.
func (s *AuthService) ParentLogin(ctx context.Context, email, password string) (*storage.Parent, string, error) {
	parent, err := s.parents.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			metrics.LoginsTotal.WithLabelValues(RoleParent, "denied").Inc()
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("get parent: %w", err)
	}

	if err := VerifyPassword(password, parent.PasswordHash); err != nil {
		metrics.LoginsTotal.WithLabelValues(RoleParent, "denied").Inc()
		return nil, "", ErrInvalidCredentials
	}

	if err := s.parents.UpdateLastLogin(ctx, parent.ID, time.Now()); err != nil {
		s.logger.Warn().Err(err).Str("parent_id", parent.ID).Msg("Failed to update last login")
	}

	token, _, err := s.createSession(parent.ID, RoleParent, parent.Username)
	if err != nil {
		return nil, "", err
	}

	metrics.LoginsTotal.WithLabelValues(RoleParent, "granted").Inc()
	return parent, token, nil
}

// ChildLogin authenticates a child and gates the login on the child's
// remaining daily minutes. A child whose usage already meets the limit is
// denied with ErrLimitExceeded; the returned result still carries the
// window and verdict so callers can explain the denial.
func (s *AuthService) ChildLogin(ctx context.Context, username, password string) (*ChildLoginResult, error) {
	child, err := s.children.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			metrics.LoginsTotal.WithLabelValues(RoleChild, "denied").Inc()
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get child: %w", err)
	}

	if err := VerifyPassword(password, child.PasswordHash); err != nil {
		metrics.LoginsTotal.WithLabelValues(RoleChild, "denied").Inc()
		return nil, ErrInvalidCredentials
	}

	window, verdict, err := s.meter.Check(ctx, child.ID, child.DailyLimitMinutes)
	if err != nil {
		return nil, fmt.Errorf("check usage limit: %w", err)
	}

	if verdict.Exceeded {
		metrics.LoginsTotal.WithLabelValues(RoleChild, "limit_denied").Inc()
		metrics.LimitDeniedLogins.Inc()
		s.logger.Info().
			Str("child_id", child.ID).
			Int("total_minutes", window.TotalMinutes).
			Int("limit_minutes", child.DailyLimitMinutes).
			Msg("Child login denied, daily limit reached")
		return &ChildLoginResult{Child: child, Window: window, Verdict: verdict}, ErrLimitExceeded
	}

	token, session, err := s.createSession(child.ID, RoleChild, child.Username)
	if err != nil {
		return nil, err
	}

	if err := s.meter.RecordLogin(ctx, child.ID); err != nil {
		// Drop the session so accounting and access cannot diverge
		s.removeSession(session.ID)
		return nil, fmt.Errorf("record login: %w", err)
	}

	metrics.LoginsTotal.WithLabelValues(RoleChild, "granted").Inc()
	return &ChildLoginResult{
		Child:   child,
		Token:   token,
		Session: session,
		Window:  window,
		Verdict: verdict,
	}, nil
}

// Logout ends a session. For child sessions a logout event is recorded so
// the usage window closes.
func (s *AuthService) Logout(ctx context.Context, sessionID string) error {
	s.sessionMutex.Lock()
	session, exists := s.sessions[sessionID]
	if exists {
		delete(s.sessions, sessionID)
		metrics.ActiveAuthSessions.Set(float64(len(s.sessions)))
	}
	s.sessionMutex.Unlock()

	if !exists {
		return ErrSessionNotFound
	}

	if session.Role == RoleChild {
		if err := s.meter.RecordLogout(ctx, session.UserID); err != nil {
			return fmt.Errorf("record logout: %w", err)
		}
	}

	return nil
}

// RecordChildLogout records a logout event without a live session, used
// when a client reports the child left outside the normal logout flow.
func (s *AuthService) RecordChildLogout(ctx context.Context, childID string) error {
	return s.meter.RecordLogout(ctx, childID)
}

// ValidateToken validates a JWT token and returns the claims.
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})

	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// GenerateToken generates a new JWT token for an account.
func (s *AuthService) GenerateToken(userID, role, username string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:   userID,
		Role:     role,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signedToken, nil
}

// GetSession retrieves a session by ID.
func (s *AuthService) GetSession(sessionID string) (*Session, error) {
	s.sessionMutex.RLock()
	defer s.sessionMutex.RUnlock()

	session, exists := s.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	if time.Now().After(session.ExpiresAt) {
		return nil, ErrSessionExpired
	}

	return session, nil
}

// SessionsForUser returns the live session IDs belonging to a user.
func (s *AuthService) SessionsForUser(userID string) []string {
	s.sessionMutex.RLock()
	defer s.sessionMutex.RUnlock()

	ids := make([]string, 0, 1)
	for id, session := range s.sessions {
		if session.UserID == userID {
			ids = append(ids, id)
		}
	}
	return ids
}

// ChangeParentPassword changes a parent's password after verifying the
// current one.
func (s *AuthService) ChangeParentPassword(ctx context.Context, parentID, oldPassword, newPassword string) error {
	parent, err := s.parents.Get(ctx, parentID)
	if err != nil {
		return fmt.Errorf("get parent: %w", err)
	}

	if err := VerifyPassword(oldPassword, parent.PasswordHash); err != nil {
		return ErrInvalidCredentials
	}

	newHash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	parent.PasswordHash = newHash
	parent.UpdatedAt = time.Now()

	if err := s.parents.Update(ctx, *parent); err != nil {
		return fmt.Errorf("update parent: %w", err)
	}

	return nil
}

// CleanupExpiredSessions removes expired sessions.
func (s *AuthService) CleanupExpiredSessions() int {
	s.sessionMutex.Lock()
	defer s.sessionMutex.Unlock()

	now := time.Now()
	count := 0

	for id, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessions, id)
			count++
		}
	}

	metrics.ActiveAuthSessions.Set(float64(len(s.sessions)))
	return count
}

// GetActiveSessions returns the number of active sessions.
func (s *AuthService) GetActiveSessions() int {
	s.sessionMutex.RLock()
	defer s.sessionMutex.RUnlock()
	return len(s.sessions)
}

// StartSessionCleanup starts a goroutine that periodically cleans up
// expired sessions.
func (s *AuthService) StartSessionCleanup(interval time.Duration) {
	if interval == 0 {
		interval = 15 * time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for range ticker.C {
			count := s.CleanupExpiredSessions()
			if count > 0 {
				s.logger.Debug().Int("count", count).Msg("Cleaned up expired sessions")
			}
		}
	}()
}

func (s *AuthService) createSession(userID, role, username string) (string, *Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return "", nil, fmt.Errorf("generate session ID: %w", err)
	}

	now := time.Now()
	session := &Session{
		ID:           sessionID,
		UserID:       userID,
		Role:         role,
		Username:     username,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(s.tokenExpiration),
	}

	s.sessionMutex.Lock()
	s.sessions[sessionID] = session
	metrics.ActiveAuthSessions.Set(float64(len(s.sessions)))
	s.sessionMutex.Unlock()

	token, err := s.GenerateToken(userID, role, username)
	if err != nil {
		s.removeSession(sessionID)
		return "", nil, err
	}

	return token, session, nil
}

func (s *AuthService) removeSession(sessionID string) {
	s.sessionMutex.Lock()
	delete(s.sessions, sessionID)
	metrics.ActiveAuthSessions.Set(float64(len(s.sessions)))
	s.sessionMutex.Unlock()
}

// generateSessionID generates a random session ID.
func generateSessionID() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
