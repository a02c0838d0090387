// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for storelink.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.storelink/config.toml
//   - ~/.storelink/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/jeranaias/storelink-tui/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete storelink configuration.
type Config struct {
	// General settings
	Version string `toml:"version" json:"version"`

	// API configuration
	API APIConfig `toml:"api" json:"api"`

	// Session configuration
	Session SessionConfig `toml:"session" json:"session"`

	// Push notification configuration
	Push PushConfig `toml:"push" json:"push"`

	// Audit configuration
	Audit AuditConfig `toml:"audit" json:"audit"`

	// UI configuration
	UI UIConfig `toml:"ui" json:"ui"`
}

// APIConfig contains storefront API client configuration.
type APIConfig struct {
	// BaseURL is the base URL of the storefront API
	BaseURL string `toml:"base_url" json:"base_url"`
	// TimeoutSecs is the per-request timeout in seconds
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// MaxRetries is the maximum retry count for idempotent requests
	MaxRetries int `toml:"max_retries" json:"max_retries"`
	// UserAgent overrides the default User-Agent header
	UserAgent string `toml:"user_agent" json:"user_agent"`
}

// SessionConfig contains session lifecycle configuration.
type SessionConfig struct {
	// StalenessSecs is how long a validated session is considered fresh.
	// A Refresh within this window returns the cached state without a
	// network call.
	StalenessSecs int `toml:"staleness_secs" json:"staleness_secs"`
	// LogoutDebounceMs is how long the supervisor waits after a session
	// drop before running sign-out side effects. Absorbs flapping during
	// transient network errors.
	LogoutDebounceMs int `toml:"logout_debounce_ms" json:"logout_debounce_ms"`
	// UnregisterTimeoutSecs bounds the best-effort device unregister call
	// during sign-out.
	UnregisterTimeoutSecs int `toml:"unregister_timeout_secs" json:"unregister_timeout_secs"`
}

// PushConfig contains push notification configuration.
type PushConfig struct {
	// Enabled controls whether device registration is attempted at all
	Enabled bool `toml:"enabled" json:"enabled"`
}

// AuditConfig contains audit logging configuration.
type AuditConfig struct {
	// Enabled enables the local audit event log
	Enabled bool `toml:"enabled" json:"enabled"`
	// LogPath is the path to the audit log file (empty = ~/.storelink/audit.log)
	LogPath string `toml:"log_path" json:"log_path"`
}

// UIConfig contains UI configuration.
type UIConfig struct {
	// Theme is the UI theme: "dark", "light", "auto"
	Theme string `toml:"theme" json:"theme"`
	// CompactMode uses a more compact UI layout
	CompactMode bool `toml:"compact_mode" json:"compact_mode"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		API: APIConfig{
			BaseURL:     "http://127.0.0.1:8787",
			TimeoutSecs: 15,
			MaxRetries:  2,
			UserAgent:   "storelink-tui",
		},

		Session: SessionConfig{
			StalenessSecs:         300,
			LogoutDebounceMs:      300,
			UnregisterTimeoutSecs: 5,
		},

		Push: PushConfig{
			Enabled: true,
		},

		Audit: AuditConfig{
			Enabled: true,
			LogPath: "",
		},

		UI: UIConfig{
			Theme:       "auto",
			CompactMode: false,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the storelink configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".storelink"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only).
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err // File doesn't exist or not accessible
	}

	mode := info.Mode().Perm()
	if mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}

	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := Default()
	var loadErr error

	// Try TOML first
	tomlPath, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if err := LoadTOML(cfg, tomlPath); err != nil {
				loadErr = fmt.Errorf("failed to load TOML config: %w", err)
			} else {
				cfg.ApplyEnvOverrides()
				if err := cfg.Validate(); err != nil {
					return nil, fmt.Errorf("invalid config: %w", err)
				}
				return cfg, nil
			}
		}
	}

	// Try JSON as fallback
	jsonPath, err := ConfigPathJSON()
	if err == nil {
		if _, statErr := os.Stat(jsonPath); statErr == nil {
			if err := LoadJSON(cfg, jsonPath); err != nil {
				loadErr = fmt.Errorf("failed to load JSON config: %w", err)
			} else {
				cfg.ApplyEnvOverrides()
				if err := cfg.Validate(); err != nil {
					return nil, fmt.Errorf("invalid config: %w", err)
				}
				return cfg, nil
			}
		}
	}

	// Apply environment overrides to defaults
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Return defaults (with any load error for informational purposes)
	return cfg, loadErr
}

// LoadTOML loads configuration from a TOML file.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Log warning but don't fail - permissions might not be fixable on all systems
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// LoadJSON loads configuration from a JSON file.
// SECURITY: Checks and fixes file permissions on load.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	fillDefaults(cfg)
	return nil
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}

	if strings.HasSuffix(path, ".json") {
		if err := LoadJSON(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load JSON config from %s: %w", path, err)
		}
	} else {
		// Default to TOML
		if err := LoadTOML(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	// API
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = defaults.API.BaseURL
	}
	if cfg.API.TimeoutSecs == 0 {
		cfg.API.TimeoutSecs = defaults.API.TimeoutSecs
	}
	if cfg.API.UserAgent == "" {
		cfg.API.UserAgent = defaults.API.UserAgent
	}

	// Session
	if cfg.Session.StalenessSecs == 0 {
		cfg.Session.StalenessSecs = defaults.Session.StalenessSecs
	}
	if cfg.Session.LogoutDebounceMs == 0 {
		cfg.Session.LogoutDebounceMs = defaults.Session.LogoutDebounceMs
	}
	if cfg.Session.UnregisterTimeoutSecs == 0 {
		cfg.Session.UnregisterTimeoutSecs = defaults.Session.UnregisterTimeoutSecs
	}

	// UI
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = defaults.UI.Theme
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Creates config files with 0600 permissions (owner read/write only).
func SaveTOML(cfg *Config, path string) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// SECURITY: Ensure permissions are correct even if file already existed
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}

	// Write header comment
	fmt.Fprintln(file, "# storelink configuration file")
	fmt.Fprintln(file, "# Generated by storelink - edit with care")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// SaveJSON saves the configuration to a JSON file.
// RELIABILITY: Atomic write with fsync prevents data loss on crash.
func SaveJSON(cfg *Config, path string) error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// API base URL must parse and carry a scheme
	if c.API.BaseURL != "" {
		u, err := url.Parse(c.API.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "api.base_url",
				Message: fmt.Sprintf("invalid URL '%s'", c.API.BaseURL),
			})
		}
	}

	if c.API.TimeoutSecs < 1 || c.API.TimeoutSecs > 120 {
		errs = append(errs, ValidationError{
			Field:   "api.timeout_secs",
			Message: fmt.Sprintf("must be 1-120, got %d", c.API.TimeoutSecs),
		})
	}

	if c.API.MaxRetries < 0 || c.API.MaxRetries > 5 {
		errs = append(errs, ValidationError{
			Field:   "api.max_retries",
			Message: fmt.Sprintf("must be 0-5, got %d", c.API.MaxRetries),
		})
	}

	if c.Session.StalenessSecs < 0 {
		errs = append(errs, ValidationError{
			Field:   "session.staleness_secs",
			Message: "must be non-negative",
		})
	}

	if c.Session.LogoutDebounceMs < 0 || c.Session.LogoutDebounceMs > 5000 {
		errs = append(errs, ValidationError{
			Field:   "session.logout_debounce_ms",
			Message: fmt.Sprintf("must be 0-5000, got %d", c.Session.LogoutDebounceMs),
		})
	}

	if c.Session.UnregisterTimeoutSecs < 1 || c.Session.UnregisterTimeoutSecs > 60 {
		errs = append(errs, ValidationError{
			Field:   "session.unregister_timeout_secs",
			Message: fmt.Sprintf("must be 1-60, got %d", c.Session.UnregisterTimeoutSecs),
		})
	}

	validThemes := map[string]bool{"dark": true, "light": true, "auto": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - STORELINK_API_URL: overrides api.base_url
//   - STORELINK_TIMEOUT_SECS: overrides api.timeout_secs
//   - STORELINK_PUSH: set to "1" or "true" to enable push, "0"/"false" to disable
//   - STORELINK_AUDIT: set to "1" or "true" to enable audit logging
//   - STORELINK_AUDIT_LOG_PATH: overrides audit.log_path
//   - STORELINK_THEME: overrides ui.theme
func (c *Config) ApplyEnvOverrides() {
	// STORELINK_API_URL
	if apiURL := os.Getenv("STORELINK_API_URL"); apiURL != "" {
		c.API.BaseURL = apiURL
	}

	// STORELINK_TIMEOUT_SECS
	if timeout := os.Getenv("STORELINK_TIMEOUT_SECS"); timeout != "" {
		if secs, err := strconv.Atoi(timeout); err == nil {
			c.API.TimeoutSecs = secs
		}
	}

	// STORELINK_PUSH
	if push := os.Getenv("STORELINK_PUSH"); push != "" {
		c.Push.Enabled = push == "1" || strings.ToLower(push) == "true"
	}

	// STORELINK_AUDIT
	if auditEnv := os.Getenv("STORELINK_AUDIT"); auditEnv != "" {
		c.Audit.Enabled = auditEnv == "1" || strings.ToLower(auditEnv) == "true"
	}

	// STORELINK_AUDIT_LOG_PATH
	if logPath := os.Getenv("STORELINK_AUDIT_LOG_PATH"); logPath != "" {
		c.Audit.LogPath = logPath
	}

	// STORELINK_THEME
	if theme := os.Getenv("STORELINK_THEME"); theme != "" {
		c.UI.Theme = theme
	}
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a copy of the configuration. The config holds only value
// types, so a struct copy is a full copy.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns a string representation of the config for debugging.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			// Log but don't fail - use defaults
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
		}
		globalConfig = cfg
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
// This should only be used in tests to reset state between test runs.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
