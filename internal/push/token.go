// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package push binds the device to the storefront's notification service.
//
// Registration is strictly gated: the controller refuses to touch the
// network unless onboarding is complete and a confirmed identity exists.
// The gate lives here, inside the controller, so correctness never depends
// on who calls it or in what order.
package push

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jeranaias/storelink-tui/internal/util"
)

// =============================================================================
// TOKEN PROVIDERS
// =============================================================================

// tokenFileName stores the per-install device token.
const tokenFileName = "device.token"

// TokenProvider yields the push token for this installation.
//
// An empty token with a nil error is an expected outcome, not a failure: it
// means this runtime cannot receive push (sandboxed, headless, permission
// denied) and registration should quietly not happen.
type TokenProvider interface {
	ObtainToken(ctx context.Context) (string, error)
}

// NullProvider reports that push is unavailable. Used on runtimes with no
// notification support.
type NullProvider struct{}

// ObtainToken always returns no token.
func (NullProvider) ObtainToken(ctx context.Context) (string, error) {
	return "", nil
}

// InstallProvider issues a stable per-install token, generated once and
// persisted under the app directory. Subsequent calls return the same token
// so re-registration is idempotent across restarts.
type InstallProvider struct {
	dir string
}

// NewInstallProvider creates a provider rooted at the given directory.
// An empty dir selects the default app directory (~/.storelink).
func NewInstallProvider(dir string) *InstallProvider {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, ".storelink")
	}
	return &InstallProvider{dir: dir}
}

// ObtainToken returns the persisted install token, minting one on first use.
// A read-only app directory reads as "no token available", not an error.
func (p *InstallProvider) ObtainToken(ctx context.Context) (string, error) {
	path := filepath.Join(p.dir, tokenFileName)

	data, err := os.ReadFile(path)
	if err == nil {
		token := strings.TrimSpace(string(data))
		if token != "" {
			return token, nil
		}
	} else if !os.IsNotExist(err) {
		log.Printf("push: token file unreadable, treating push as unavailable: %v", err)
		return "", nil
	}

	token := "sl-" + uuid.NewString()
	if err := util.AtomicWriteFile(path, []byte(token+"\n"), 0600); err != nil {
		// Sandboxed or read-only install. Expected, push just stays off.
		log.Printf("push: cannot persist token, treating push as unavailable: %v", err)
		return "", nil
	}
	return token, nil
}
