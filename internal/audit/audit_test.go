// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.log")
	logger, err := NewLogger(path)
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })
	return logger
}

// =============================================================================
// LOGGING TESTS
// =============================================================================

func TestLog_WritesJSONLine(t *testing.T) {
	logger := newTestLogger(t)

	err := logger.LogLogin("user-42")
	require.NoError(t, err)

	data, err := os.ReadFile(logger.Path())
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var event Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &event))
	require.Equal(t, EventLogin, event.EventType)
	require.Equal(t, "user-42", event.UserID)
	require.True(t, event.Success)
}

func TestLog_RedactsMetadata(t *testing.T) {
	logger := newTestLogger(t)

	err := logger.LogEvent(EventDeviceRegister, "user-1", map[string]string{
		"detail": `push_token="fcm-abc123:XYZ"`,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(logger.Path())
	require.NoError(t, err)
	require.NotContains(t, string(data), "fcm-abc123")
	require.Contains(t, string(data), "[TOKEN_REDACTED]")
}

func TestLog_RedactsErrorMessage(t *testing.T) {
	logger := newTestLogger(t)

	err := logger.LogFailure(EventLoginFailed, "", `server said password=hunter2 invalid`)
	require.NoError(t, err)

	data, err := os.ReadFile(logger.Path())
	require.NoError(t, err)
	require.NotContains(t, string(data), "hunter2")
}

func TestLog_DisabledIsNoOp(t *testing.T) {
	logger := newTestLogger(t)
	logger.SetEnabled(false)

	require.NoError(t, logger.LogLogout("user-1"))

	data, err := os.ReadFile(logger.Path())
	require.NoError(t, err)
	require.Empty(t, data)
}

func TestLog_FilePermissions(t *testing.T) {
	logger := newTestLogger(t)
	require.NoError(t, logger.LogLogin("user-1"))

	info, err := os.Stat(logger.Path())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

// =============================================================================
// REDACTION TESTS
// =============================================================================

func TestRedactSecrets(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		excluded string
	}{
		{"password kv", "password=supersecret", "supersecret"},
		{"password json", `"password": "supersecret"`, "supersecret"},
		{"otp code", `code="123456"`, "123456"},
		{"bearer token", "Authorization: Bearer abc.def.ghi", "abc.def.ghi"},
		{"cookie header", "Set-Cookie: sid=deadbeef; HttpOnly", "deadbeef"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := RedactSecrets(tc.input)
			if strings.Contains(result, tc.excluded) {
				t.Errorf("RedactSecrets(%q) = %q, still contains %q", tc.input, result, tc.excluded)
			}
		})
	}
}

func TestRedactSecrets_LeavesPlainTextAlone(t *testing.T) {
	input := "device registered for shopper"
	if got := RedactSecrets(input); got != input {
		t.Errorf("RedactSecrets(%q) = %q, want unchanged", input, got)
	}
}

func TestAddRedactor(t *testing.T) {
	logger := newTestLogger(t)
	logger.AddRedactor(NewPatternRedactor("Email",
		regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+`), "[EMAIL_REDACTED]"))

	got := logger.Redact("contact shopper@example.com now")
	require.Equal(t, "contact [EMAIL_REDACTED] now", got)
}

// =============================================================================
// ROTATION TESTS
// =============================================================================

func TestRotation_BySize(t *testing.T) {
	logger := newTestLogger(t)
	logger.SetMaxSize(64) // Tiny limit to force rotation

	for i := 0; i < 10; i++ {
		require.NoError(t, logger.LogLogin("user-with-a-long-identifier"))
	}

	dir := filepath.Dir(logger.Path())
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Greater(t, len(entries), 1, "expected rotated files alongside the active log")
}

func TestRotate_Explicit(t *testing.T) {
	logger := newTestLogger(t)
	require.NoError(t, logger.LogLogin("user-1"))
	require.NoError(t, logger.Rotate())

	// The active log is fresh after rotation
	data, err := os.ReadFile(logger.Path())
	require.NoError(t, err)
	require.Empty(t, data)

	// And logging continues to work
	require.NoError(t, logger.LogLogout("user-1"))
}

// =============================================================================
// EVENT TESTS
// =============================================================================

func TestEvent_ToJSON(t *testing.T) {
	event := Event{
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		EventType: EventSessionExpired,
		UserID:    "user-7",
		Success:   true,
	}

	line, err := event.ToJSON()
	require.NoError(t, err)
	require.Contains(t, line, `"event_type":"SESSION_EXPIRED"`)
	require.Contains(t, line, `"user_id":"user-7"`)
}
