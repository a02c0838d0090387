// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// =============================================================================
// DEFAULTS
// =============================================================================

func TestDefault(t *testing.T) {
	cfg := Default()

	require.Equal(t, "http://127.0.0.1:8787", cfg.API.BaseURL)
	require.Equal(t, 15, cfg.API.TimeoutSecs)
	require.Equal(t, 2, cfg.API.MaxRetries)
	require.Equal(t, 300, cfg.Session.StalenessSecs)
	require.Equal(t, 300, cfg.Session.LogoutDebounceMs)
	require.True(t, cfg.Push.Enabled)
	require.True(t, cfg.Audit.Enabled)
	require.Equal(t, "auto", cfg.UI.Theme)
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidate_BadURL(t *testing.T) {
	cfg := Default()
	cfg.API.BaseURL = "not a url"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "api.base_url")
}

func TestValidate_TimeoutRange(t *testing.T) {
	cfg := Default()
	cfg.API.TimeoutSecs = 0

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "api.timeout_secs")

	cfg.API.TimeoutSecs = 500
	err = cfg.Validate()
	require.Error(t, err)
}

func TestValidate_DebounceRange(t *testing.T) {
	cfg := Default()
	cfg.Session.LogoutDebounceMs = 10000

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "session.logout_debounce_ms")
}

func TestValidate_Theme(t *testing.T) {
	cfg := Default()
	cfg.UI.Theme = "sepia"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "ui.theme")
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.API.MaxRetries = 99
	cfg.UI.Theme = "sepia"

	err := cfg.Validate()
	require.Error(t, err)

	var errs ValidateErrors
	require.ErrorAs(t, err, &errs)
	require.Len(t, errs, 2)
}

// =============================================================================
// ENV OVERRIDES
// =============================================================================

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("STORELINK_API_URL", "https://store.example.com")
	t.Setenv("STORELINK_TIMEOUT_SECS", "30")
	t.Setenv("STORELINK_PUSH", "false")
	t.Setenv("STORELINK_THEME", "light")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	require.Equal(t, "https://store.example.com", cfg.API.BaseURL)
	require.Equal(t, 30, cfg.API.TimeoutSecs)
	require.False(t, cfg.Push.Enabled)
	require.Equal(t, "light", cfg.UI.Theme)
}

func TestApplyEnvOverrides_IgnoresInvalidTimeout(t *testing.T) {
	t.Setenv("STORELINK_TIMEOUT_SECS", "not-a-number")

	cfg := Default()
	cfg.ApplyEnvOverrides()
	require.Equal(t, 15, cfg.API.TimeoutSecs)
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

func TestSaveTOML_LoadTOML_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := Default()
	cfg.API.BaseURL = "https://api.storelink.dev"
	cfg.UI.Theme = "dark"
	require.NoError(t, SaveTOML(cfg, path))

	loaded := &Config{}
	require.NoError(t, LoadTOML(loaded, path))
	require.Equal(t, "https://api.storelink.dev", loaded.API.BaseURL)
	require.Equal(t, "dark", loaded.UI.Theme)
}

func TestSaveTOML_Permissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, SaveTOML(Default(), path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestLoadJSON_FillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"api":{"base_url":"https://x.test"}}`), 0600))

	cfg := &Config{}
	require.NoError(t, LoadJSON(cfg, path))
	require.Equal(t, "https://x.test", cfg.API.BaseURL)
	// Unset fields are backfilled from defaults
	require.Equal(t, 15, cfg.API.TimeoutSecs)
	require.Equal(t, 300, cfg.Session.StalenessSecs)
}

func TestLoadFromPath_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ui":{"theme":"sepia"}}`), 0600))

	_, err := LoadFromPath(path)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "invalid config"))
}

func TestLoadTOML_FixesPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = \"1.0.0\"\n"), 0644))

	cfg := &Config{}
	require.NoError(t, LoadTOML(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

// =============================================================================
// GLOBAL
// =============================================================================

func TestSetGlobal(t *testing.T) {
	defer ResetGlobalForTesting()

	_ = Global() // burn lazy initialization before overriding

	cfg := Default()
	cfg.UI.Theme = "dark"
	SetGlobal(cfg)

	require.Equal(t, "dark", Global().UI.Theme)
}

func TestClone_IsIndependent(t *testing.T) {
	cfg := Default()
	clone := cfg.Clone()
	clone.API.BaseURL = "https://other.test"

	require.NotEqual(t, cfg.API.BaseURL, clone.API.BaseURL)
}
