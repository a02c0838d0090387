// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package push

import (
	"context"
	"log"
	"runtime"
	"sync"
	"time"

	"github.com/jeranaias/storelink-tui/internal/api"
	"github.com/jeranaias/storelink-tui/internal/audit"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// DefaultUnregisterTimeout bounds the best-effort unregister call.
const DefaultUnregisterTimeout = 5 * time.Second

// =============================================================================
// DEPENDENCIES
// =============================================================================

// DeviceAPI is the slice of the API client the controller depends on.
type DeviceAPI interface {
	RegisterDevice(ctx context.Context, token, platform string, deviceInfo map[string]string) error
	UnregisterDevice(ctx context.Context) error
}

// OnboardingGate reports whether first-run onboarding has been completed.
type OnboardingGate interface {
	IsCompleted() bool
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller manages the device's push registration lifecycle.
//
// Register enforces its preconditions internally: onboarding must be
// complete and an identity must exist. A violation is a logged no-op, never
// an error. This guards against registering a device before consent or
// before login, regardless of how callers are ordered.
type Controller struct {
	mu sync.Mutex

	client   DeviceAPI
	provider TokenProvider
	gate     OnboardingGate

	// lastToken and lastIdentityID make Register idempotent: resending an
	// identical binding is skipped locally.
	lastToken      string
	lastIdentityID string

	unregisterTimeout time.Duration
}

// NewController creates a push controller.
func NewController(client DeviceAPI, provider TokenProvider, gate OnboardingGate) *Controller {
	return &Controller{
		client:            client,
		provider:          provider,
		gate:              gate,
		unregisterTimeout: DefaultUnregisterTimeout,
	}
}

// WithUnregisterTimeout overrides the bound on the unregister call.
func (c *Controller) WithUnregisterTimeout(d time.Duration) *Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unregisterTimeout = d
	return c
}

// ObtainToken retrieves the push token, gated on onboarding completion.
// Returns an empty token when push is unavailable or not yet permitted.
func (c *Controller) ObtainToken(ctx context.Context) (string, error) {
	if !c.gate.IsCompleted() {
		log.Printf("push: token requested before onboarding completion, skipping")
		return "", nil
	}
	return c.provider.ObtainToken(ctx)
}

// Register binds the device token to the given identity.
//
// Preconditions checked here, not by the caller: onboarding completed AND
// identity non-nil. Violations are logged no-ops. Registering the same
// (token, identity) pair twice is skipped without a network call;
// the backend additionally applies last-write-wins on the binding.
func (c *Controller) Register(ctx context.Context, token string, identity *api.Identity) error {
	if token == "" {
		return nil
	}
	if !c.gate.IsCompleted() {
		log.Printf("push: register attempted before onboarding completion, skipping")
		return nil
	}
	if identity == nil {
		log.Printf("push: register attempted without an identity, skipping")
		return nil
	}

	c.mu.Lock()
	if c.lastToken == token && c.lastIdentityID == identity.ID {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	err := c.client.RegisterDevice(ctx, token, platform(), deviceInfo())
	if err != nil {
		audit.Global().LogDeviceRegister(identity.ID, false, err.Error())
		return err
	}

	c.mu.Lock()
	c.lastToken = token
	c.lastIdentityID = identity.ID
	c.mu.Unlock()

	audit.Global().LogDeviceRegister(identity.ID, true, "")
	return nil
}

// Unregister removes the device binding, best-effort with a bounded
// timeout. The local token reference is cleared regardless of the network
// outcome so a later login re-registers from scratch.
func (c *Controller) Unregister(ctx context.Context) error {
	c.mu.Lock()
	hadBinding := c.lastToken != ""
	identityID := c.lastIdentityID
	c.lastToken = ""
	c.lastIdentityID = ""
	timeout := c.unregisterTimeout
	c.mu.Unlock()

	if !hadBinding {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := c.client.UnregisterDevice(ctx); err != nil {
		log.Printf("push: unregister failed (local token cleared anyway): %v", err)
		audit.Global().LogDeviceUnregister(identityID, false, err.Error())
		return nil
	}

	audit.Global().LogDeviceUnregister(identityID, true, "")
	return nil
}

// =============================================================================
// DEVICE METADATA
// =============================================================================

// platform identifies this runtime to the notification service.
func platform() string {
	return "terminal-" + runtime.GOOS
}

// deviceInfo describes the device for the registration payload. Contains
// nothing user-identifying.
func deviceInfo() map[string]string {
	return map[string]string{
		"os":   runtime.GOOS,
		"arch": runtime.GOARCH,
	}
}
