// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"golang.org/x/time/rate"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultPort is the default listen port.
	DefaultPort = 8787

	// MaxRequestBodySize caps request bodies to prevent abuse (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// SessionTTL is how long a session cookie stays valid.
	SessionTTL = 24 * time.Hour

	// ChallengeTTL is how long a 2FA login challenge stays valid.
	ChallengeTTL = 2 * time.Minute

	// sessionCookie is the name of the HTTP-only session cookie.
	sessionCookie = "sid"

	// loginRatePerMinute bounds login attempts per account.
	loginRatePerMinute = 10
	loginBurst         = 5

	// Version is the devserver version.
	Version = "0.1.0"
)

// =============================================================================
// SESSIONS AND CHALLENGES
// =============================================================================

type sessionEntry struct {
	userID  string
	expires time.Time
}

// sessionTable holds live cookie sessions and 2FA challenges in memory.
// The devserver intentionally loses sessions on restart.
type sessionTable struct {
	mu         sync.Mutex
	sessions   map[string]sessionEntry
	challenges map[string]sessionEntry
}

func newSessionTable() *sessionTable {
	return &sessionTable{
		sessions:   make(map[string]sessionEntry),
		challenges: make(map[string]sessionEntry),
	}
}

func (t *sessionTable) createSession(userID string) string {
	id := uuid.NewString()
	t.mu.Lock()
	t.sessions[id] = sessionEntry{userID: userID, expires: time.Now().Add(SessionTTL)}
	t.mu.Unlock()
	return id
}

func (t *sessionTable) lookupSession(id string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.sessions[id]
	if !ok || time.Now().After(entry.expires) {
		delete(t.sessions, id)
		return "", false
	}
	return entry.userID, true
}

func (t *sessionTable) dropSession(id string) {
	t.mu.Lock()
	delete(t.sessions, id)
	t.mu.Unlock()
}

func (t *sessionTable) createChallenge(userID string) string {
	id := uuid.NewString()
	t.mu.Lock()
	t.challenges[id] = sessionEntry{userID: userID, expires: time.Now().Add(ChallengeTTL)}
	t.mu.Unlock()
	return id
}

// consumeChallenge resolves and invalidates a challenge. One shot: a second
// verify attempt against the same challenge fails.
func (t *sessionTable) consumeChallenge(id string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.challenges[id]
	delete(t.challenges, id)
	if !ok || time.Now().After(entry.expires) {
		return "", false
	}
	return entry.userID, true
}

// =============================================================================
// RATE LIMITING
// =============================================================================

// loginLimiter applies a per-account token bucket to login attempts.
type loginLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLoginLimiter() *loginLimiter {
	return &loginLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (l *loginLimiter) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/loginRatePerMinute), loginBurst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// =============================================================================
// SERVER
// =============================================================================

// Server is the local storefront API stub.
type Server struct {
	port     int
	router   *http.ServeMux
	server   *http.Server
	store    *Store
	sessions *sessionTable
	limiter  *loginLimiter
}

// NewServer creates a devserver over the given store.
// If port is 0, the default port (8787) is used.
func NewServer(port int, store *Store) *Server {
	if port == 0 {
		port = DefaultPort
	}
	s := &Server{
		port:     port,
		router:   http.NewServeMux(),
		store:    store,
		sessions: newSessionTable(),
		limiter:  newLoginLimiter(),
	}
	s.setupRoutes()
	return s
}

// Port returns the configured listen port.
func (s *Server) Port() int {
	return s.port
}

// Handler returns the full middleware-wrapped handler, for tests.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(),
		LoggingMiddleware(log.Default()),
	)(s.router)
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /login", s.handleLogin)
	s.router.HandleFunc("POST /verify-2fa-login", s.handleVerifyTwoFactor)
	s.router.HandleFunc("POST /verify-otp", s.handleVerifyOTP)
	s.router.HandleFunc("GET /me", s.handleMe)
	s.router.HandleFunc("POST /logout", s.handleLogout)
	s.router.HandleFunc("POST /notifications/register-device", s.handleRegisterDevice)
	s.router.HandleFunc("POST /notifications/unregister-device", s.handleUnregisterDevice)
	s.router.HandleFunc("GET /health", s.handleHealth)
}

// Start starts the HTTP server on localhost.
func (s *Server) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	log.Printf("SERVER_START | addr=%s version=%s", addr, Version)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return s.server.Shutdown(ctx)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type wireUser struct {
	ID               string `json:"id"`
	Role             string `json:"role"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled"`
	HasPIN           bool   `json:"hasPin"`
}

func toWireUser(u *User) wireUser {
	return wireUser{
		ID:               u.ID,
		Role:             u.Role,
		TwoFactorEnabled: u.TOTPSecret != "",
		HasPIN:           u.HasPIN,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyTwoFactorRequest struct {
	LoginSessionID string `json:"loginSessionId"`
	TwoFactorCode  string `json:"twoFactorCode"`
}

type verifyOTPRequest struct {
	LoginID       string `json:"loginId"`
	OTP           string `json:"otp"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"twoFactorCode,omitempty"`
}

type registerDeviceRequest struct {
	Token      string            `json:"token"`
	Platform   string            `json:"platform"`
	DeviceInfo map[string]string `json:"deviceInfo"`
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// handleLogin handles POST /login.
// Responds with {user} on plain success or {requires2FA, loginSessionId}
// when the account has 2FA enabled.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !s.decode(w, r, &req) {
		return
	}

	if !s.limiter.allow(req.Email) {
		s.writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many login attempts")
		return
	}

	user, err := s.store.UserByEmail(req.Email)
	if err != nil || user.Password != req.Password {
		// Same response for unknown account and wrong password
		s.writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}

	if user.TOTPSecret != "" {
		challengeID := s.sessions.createChallenge(user.ID)
		s.writeJSON(w, http.StatusOK, map[string]any{
			"requires2FA":    true,
			"loginSessionId": challengeID,
		})
		return
	}

	s.establishSession(w, user)
}

// handleVerifyTwoFactor handles POST /verify-2fa-login.
func (s *Server) handleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req verifyTwoFactorRequest
	if !s.decode(w, r, &req) {
		return
	}

	userID, ok := s.sessions.consumeChallenge(req.LoginSessionID)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "SESSION_EXPIRED", "Login session expired")
		return
	}

	user, err := s.store.UserByID(userID)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "SESSION_EXPIRED", "Login session expired")
		return
	}

	if !totp.Validate(req.TwoFactorCode, user.TOTPSecret) {
		// The challenge was consumed; the client must log in again
		s.writeError(w, http.StatusUnauthorized, "SESSION_EXPIRED", "Invalid code")
		return
	}

	s.establishSession(w, user)
}

// handleVerifyOTP handles POST /verify-otp, the registration-linked
// verification path. Mirrors the login branching: accounts with 2FA still
// get a challenge after a valid OTP.
func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !s.decode(w, r, &req) {
		return
	}

	if !s.limiter.allow(req.LoginID) {
		s.writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many attempts")
		return
	}

	user, err := s.store.UserByEmail(req.LoginID)
	if err != nil || user.Password != req.Password || user.OTPCode == "" || user.OTPCode != req.OTP {
		s.writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid code or credentials")
		return
	}

	// One shot: clear the code so it cannot be replayed
	if err := s.store.SetOTPCode(user.ID, ""); err != nil {
		log.Printf("OTP_CLEAR_FAILED | user=%s error=%v", user.ID, err)
	}

	if user.TOTPSecret != "" {
		if req.TwoFactorCode != "" && totp.Validate(req.TwoFactorCode, user.TOTPSecret) {
			s.establishSession(w, user)
			return
		}
		challengeID := s.sessions.createChallenge(user.ID)
		s.writeJSON(w, http.StatusOK, map[string]any{
			"requires2FA":    true,
			"loginSessionId": challengeID,
		})
		return
	}

	s.establishSession(w, user)
}

// handleMe handles GET /me.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "No valid session")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"user": toWireUser(user)})
}

// handleLogout handles POST /logout.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		s.sessions.dropSession(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// DEVICE HANDLERS
// =============================================================================

// handleRegisterDevice handles POST /notifications/register-device.
// Bindings are last-write-wins on token: re-registering never duplicates.
func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "No valid session")
		return
	}

	var req registerDeviceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Missing device token")
		return
	}

	err := s.store.UpsertDevice(Device{
		Token:    req.Token,
		UserID:   user.ID,
		Platform: req.Platform,
	})
	if err != nil {
		log.Printf("DEVICE_REGISTER_FAILED | user=%s error=%v", user.ID, err)
		s.writeError(w, http.StatusInternalServerError, "INTERNAL", "Registration failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleUnregisterDevice handles POST /notifications/unregister-device.
func (s *Server) handleUnregisterDevice(w http.ResponseWriter, r *http.Request) {
	user, ok := s.currentUser(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "No valid session")
		return
	}

	if err := s.store.DeleteDevicesForUser(user.ID); err != nil {
		log.Printf("DEVICE_UNREGISTER_FAILED | user=%s error=%v", user.ID, err)
		s.writeError(w, http.StatusInternalServerError, "INTERNAL", "Unregistration failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HEALTH HANDLER
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// establishSession sets the HTTP-only cookie and returns the user envelope.
// The cookie is the only session transport; no tokens appear in the body.
func (s *Server) establishSession(w http.ResponseWriter, user *User) {
	sid := s.sessions.createSession(user.ID)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sid,
		Path:     "/",
		MaxAge:   int(SessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	s.writeJSON(w, http.StatusOK, map[string]any{"user": toWireUser(user)})
}

// currentUser resolves the session cookie to a stored user.
func (s *Server) currentUser(r *http.Request) (*User, bool) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return nil, false
	}
	userID, ok := s.sessions.lookupSession(cookie.Value)
	if !ok {
		return nil, false
	}
	user, err := s.store.UserByID(userID)
	if err != nil {
		return nil, false
	}
	return user, true
}

// decode parses a bounded JSON request body, writing the error response
// itself on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		log.Printf("Invalid request body: %v", err)
		s.writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request format")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes the {"error":{code,message}} envelope the client parses.
func (s *Server) writeError(w http.ResponseWriter, status int, code, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
