// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package audit provides an append-only event log for authentication and
// device lifecycle events, with secret redaction.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// DefaultMaxFileSize is the default max file size before rotation (10MB).
const DefaultMaxFileSize int64 = 10 * 1024 * 1024

// Event types recorded by the client.
const (
	EventLogin            = "AUTH_LOGIN"
	EventLoginFailed      = "AUTH_LOGIN_FAILED"
	EventLogout           = "AUTH_LOGOUT"
	EventSessionExpired   = "SESSION_EXPIRED"
	EventDeviceRegister   = "DEVICE_REGISTER"
	EventDeviceUnregister = "DEVICE_UNREGISTER"
)

// =============================================================================
// EVENT
// =============================================================================

// Event represents a single audit log entry.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ToJSON formats the event as a single JSON line.
func (e *Event) ToJSON() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// =============================================================================
// REDACTOR INTERFACE
// =============================================================================

// Redactor defines the interface for secret redaction.
type Redactor interface {
	// Redact replaces sensitive data in the input string.
	Redact(input string) string
	// Name returns the name of this redactor.
	Name() string
}

// PatternRedactor redacts text matching a regex pattern.
type PatternRedactor struct {
	name    string
	pattern *regexp.Regexp
	replace string
}

// NewPatternRedactor creates a new pattern-based redactor.
func NewPatternRedactor(name string, pattern *regexp.Regexp, replace string) *PatternRedactor {
	return &PatternRedactor{
		name:    name,
		pattern: pattern,
		replace: replace,
	}
}

// Redact replaces matches with the replacement string.
func (r *PatternRedactor) Redact(input string) string {
	return r.pattern.ReplaceAllString(input, r.replace)
}

// Name returns the redactor name.
func (r *PatternRedactor) Name() string {
	return r.name
}

// =============================================================================
// BUILT-IN SECRET PATTERNS
// =============================================================================

// secretPatterns defines patterns for credentials that must never reach disk.
var secretPatterns = []struct {
	name    string
	pattern *regexp.Regexp
	replace string
}{
	{"Password", regexp.MustCompile(`(?i)(password|passwd|pwd)["']?\s*[=:]\s*["']?[^"'\s,}]+`), "[PASSWORD_REDACTED]"},
	{"OTP", regexp.MustCompile(`(?i)(otp|code|pin)["']?\s*[=:]\s*["']?\d{4,8}`), "[CODE_REDACTED]"},
	{"PushToken", regexp.MustCompile(`(?i)(push_?token|device_?token)["']?\s*[=:]\s*["']?[a-zA-Z0-9\-_:.]+`), "[TOKEN_REDACTED]"},
	{"Cookie", regexp.MustCompile(`(?i)(set-cookie|cookie)\s*[=:]\s*\S+`), "[COOKIE_REDACTED]"},
	{"Bearer", regexp.MustCompile(`Bearer\s+[a-zA-Z0-9\-_.]+`), "Bearer [TOKEN_REDACTED]"},
	{"JWT", regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`), "[JWT_REDACTED]"},
}

// defaultRedactors returns the default set of secret redactors.
func defaultRedactors() []Redactor {
	redactors := make([]Redactor, 0, len(secretPatterns))
	for _, sp := range secretPatterns {
		redactors = append(redactors, NewPatternRedactor(sp.name, sp.pattern, sp.replace))
	}
	return redactors
}

// =============================================================================
// LOGGER
// =============================================================================

// Logger provides thread-safe audit logging with secret redaction.
// Events are written as JSON lines and rotated by size.
type Logger struct {
	path      string
	file      *os.File
	mu        sync.Mutex
	enabled   bool
	maxSize   int64
	redactors []Redactor
}

// NewLogger creates a new audit logger at the specified path.
func NewLogger(path string) (*Logger, error) {
	if path == "" {
		path = DefaultPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log file: %w", err)
	}

	return &Logger{
		path:      path,
		file:      file,
		enabled:   true,
		maxSize:   DefaultMaxFileSize,
		redactors: defaultRedactors(),
	}, nil
}

// Log writes an audit event to the log file.
func (l *Logger) Log(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled || l.file == nil {
		return nil
	}

	// Redact metadata values and error message before they reach disk
	if event.Metadata != nil {
		for k, v := range event.Metadata {
			event.Metadata[k] = l.redactLocked(v)
		}
	}
	if event.Error != "" {
		event.Error = l.redactLocked(event.Error)
	}

	if err := l.checkRotationLocked(); err != nil {
		return fmt.Errorf("audit rotation failed: %w", err)
	}

	line, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode audit event: %w", err)
	}
	if _, err := fmt.Fprintln(l.file, line); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}

	// Sync to disk to ensure durability
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit log: %w", err)
	}

	return nil
}

// LogEvent logs a generic event with optional metadata.
func (l *Logger) LogEvent(eventType, userID string, metadata map[string]string) error {
	return l.Log(Event{
		Timestamp: time.Now(),
		EventType: eventType,
		UserID:    userID,
		Success:   true,
		Metadata:  metadata,
	})
}

// LogFailure logs a failed operation with an error message.
func (l *Logger) LogFailure(eventType, userID, errMsg string) error {
	return l.Log(Event{
		Timestamp: time.Now(),
		EventType: eventType,
		UserID:    userID,
		Success:   false,
		Error:     errMsg,
	})
}

// LogLogin logs a successful sign-in.
func (l *Logger) LogLogin(userID string) error {
	return l.LogEvent(EventLogin, userID, nil)
}

// LogLoginFailed logs a rejected sign-in attempt. The reason must already be
// user-safe; redaction still applies as a second line of defense.
func (l *Logger) LogLoginFailed(reason string) error {
	return l.LogFailure(EventLoginFailed, "", reason)
}

// LogLogout logs an explicit sign-out.
func (l *Logger) LogLogout(userID string) error {
	return l.LogEvent(EventLogout, userID, nil)
}

// LogSessionExpired logs a server-side session expiry observed by the client.
func (l *Logger) LogSessionExpired(userID string) error {
	return l.LogEvent(EventSessionExpired, userID, nil)
}

// LogDeviceRegister logs a device registration attempt.
func (l *Logger) LogDeviceRegister(userID string, success bool, errMsg string) error {
	return l.Log(Event{
		Timestamp: time.Now(),
		EventType: EventDeviceRegister,
		UserID:    userID,
		Success:   success,
		Error:     errMsg,
	})
}

// LogDeviceUnregister logs a device unregistration attempt.
func (l *Logger) LogDeviceUnregister(userID string, success bool, errMsg string) error {
	return l.Log(Event{
		Timestamp: time.Now(),
		EventType: EventDeviceUnregister,
		UserID:    userID,
		Success:   success,
		Error:     errMsg,
	})
}

// =============================================================================
// REDACTION
// =============================================================================

// Redact applies all redactors to sanitize the input string.
func (l *Logger) Redact(input string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.redactLocked(input)
}

// redactLocked applies redaction without locking (caller must hold lock).
func (l *Logger) redactLocked(input string) string {
	result := input
	for _, redactor := range l.redactors {
		result = redactor.Redact(result)
	}
	return result
}

// AddRedactor adds a custom redactor.
func (l *Logger) AddRedactor(r Redactor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.redactors = append(l.redactors, r)
}

// RedactSecrets applies default redaction patterns to the input string.
// This can be used without a Logger instance.
func RedactSecrets(input string) string {
	result := input
	for _, sp := range secretPatterns {
		result = sp.pattern.ReplaceAllString(result, sp.replace)
	}
	return result
}

// =============================================================================
// FILE ROTATION
// =============================================================================

// Rotate rotates the log file, keeping the old file with a timestamp suffix.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateLocked()
}

// rotateLocked performs rotation without locking (caller must hold lock).
func (l *Logger) rotateLocked() error {
	if l.file == nil {
		return nil
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close audit log for rotation: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	ext := filepath.Ext(l.path)
	base := strings.TrimSuffix(l.path, ext)
	rotatedPath := fmt.Sprintf("%s_%s%s", base, timestamp, ext)

	if err := os.Rename(l.path, rotatedPath); err != nil {
		// Try to reopen original file if rename fails
		l.file, _ = os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		return fmt.Errorf("failed to rotate audit log: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create new audit log after rotation: %w", err)
	}
	l.file = file

	return nil
}

// checkRotationLocked checks if rotation is needed based on file size.
func (l *Logger) checkRotationLocked() error {
	if l.maxSize <= 0 {
		return nil
	}

	info, err := l.file.Stat()
	if err != nil {
		return nil // Ignore stat errors
	}

	if info.Size() >= l.maxSize {
		return l.rotateLocked()
	}

	return nil
}

// SetMaxSize sets the maximum file size before rotation.
func (l *Logger) SetMaxSize(size int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.maxSize = size
}

// =============================================================================
// CONFIGURATION
// =============================================================================

// SetEnabled enables or disables logging.
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// IsEnabled returns whether logging is enabled.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Path returns the audit log file path.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Close closes the audit log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	err := l.file.Close()
	l.file = nil
	return err
}

// =============================================================================
// GLOBAL LOGGER
// =============================================================================

var (
	globalLogger     *Logger
	globalLoggerOnce sync.Once
	globalLoggerMu   sync.Mutex
)

// Global returns the global audit logger instance.
// It lazily initializes the logger with the default path; if initialization
// fails, a disabled logger is returned so callers never need a nil check.
func Global() *Logger {
	globalLoggerOnce.Do(func() {
		var err error
		globalLogger, err = NewLogger("")
		if err != nil {
			fmt.Fprintf(os.Stderr, "[audit] logger initialization failed: %v\n", err)
			globalLogger = &Logger{enabled: false}
		}
	})
	return globalLogger
}

// SetGlobal sets the global audit logger instance.
func SetGlobal(logger *Logger) {
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	globalLogger = logger
}

// DefaultPath returns the default audit log path (~/.storelink/audit.log).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".storelink", "audit.log")
}
