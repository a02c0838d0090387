// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jeranaias/storelink-tui/internal/api"
)

// =============================================================================
// SUPERVISOR
// =============================================================================

// DefaultDropDebounce is how long a session drop is held before side effects
// fire, letting the navigation tree settle first.
const DefaultDropDebounce = 300 * time.Millisecond

// sideEffectTimeout bounds the network calls run on session edges, both the
// registration after a rise and the unregistration after a drop.
const sideEffectTimeout = 5 * time.Second

// Registrar is the slice of the device registration controller the
// supervisor drives. Gating (onboarding + identity) lives inside the
// implementation, not here.
type Registrar interface {
	ObtainToken(ctx context.Context) (string, error)
	Register(ctx context.Context, token string, identity *api.Identity) error
	Unregister(ctx context.Context) error
}

// Navigator receives navigation directives from the supervisor.
type Navigator interface {
	// ResetToLogin clears the back stack down to the login entry point.
	ResetToLogin()
	// HandoffToLogin moves to the login screen without unwinding anything.
	HandoffToLogin()
}

// Supervisor observes Store transitions and runs their side effects.
//
// It is edge-triggered: it tracks the last-seen authenticated boolean and
// acts only when the level changes, so duplicate notifications of the same
// state never double-fire. A drop (true to false) is debounced and fires
// exactly once; a rise (false to true) registers the device.
type Supervisor struct {
	mu sync.Mutex

	store     *Store
	registrar Registrar
	nav       Navigator
	debounce  time.Duration

	lastAuthed  bool
	dropTimer   *time.Timer
	handoffDone bool

	unsubscribe func()

	// wg tracks rise goroutines and scheduled drop timers alike, so Stop
	// does not return while either side effect is still running.
	wg sync.WaitGroup
}

// NewSupervisor creates a supervisor over the given store.
func NewSupervisor(store *Store, registrar Registrar, nav Navigator) *Supervisor {
	return &Supervisor{
		store:     store,
		registrar: registrar,
		nav:       nav,
		debounce:  DefaultDropDebounce,
	}
}

// WithDebounce overrides the drop debounce window.
func (sv *Supervisor) WithDebounce(d time.Duration) *Supervisor {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.debounce = d
	return sv
}

// Start snapshots the current session level and subscribes to changes.
func (sv *Supervisor) Start() {
	sv.mu.Lock()
	sv.lastAuthed = sv.store.Current().Authenticated()
	sv.mu.Unlock()

	sv.unsubscribe = sv.store.Subscribe(sv.observe)
}

// Stop unsubscribes and cancels any pending drop side effects.
func (sv *Supervisor) Stop() {
	if sv.unsubscribe != nil {
		sv.unsubscribe()
		sv.unsubscribe = nil
	}

	sv.mu.Lock()
	sv.cancelDropTimerLocked()
	sv.mu.Unlock()

	sv.wg.Wait()
}

// cancelDropTimerLocked stops a pending drop timer. If the stop prevented
// the callback from ever firing, its WaitGroup slot is released here.
func (sv *Supervisor) cancelDropTimerLocked() {
	if sv.dropTimer == nil {
		return
	}
	if sv.dropTimer.Stop() {
		sv.wg.Done()
	}
	sv.dropTimer = nil
}

// observe receives every store notification and acts on edges only.
func (sv *Supervisor) observe(sess Session) {
	authed := sess.Authenticated()

	sv.mu.Lock()
	if authed == sv.lastAuthed {
		sv.mu.Unlock()
		return
	}
	sv.lastAuthed = authed

	if !authed {
		// Drop: debounce, replacing any pending timer so overlapping
		// notifications still fire exactly once.
		sv.cancelDropTimerLocked()
		sv.wg.Add(1)
		sv.dropTimer = time.AfterFunc(sv.debounce, func() {
			defer sv.wg.Done()
			sv.handleDrop()
		})
		sv.mu.Unlock()
		return
	}

	// Rise: cancel a pending drop that has not fired yet.
	sv.cancelDropTimerLocked()
	identity := sess.Identity
	sv.mu.Unlock()

	sv.wg.Add(1)
	go func() {
		defer sv.wg.Done()
		sv.handleRise(identity)
	}()
}

// handleDrop runs the session-drop side effects: best-effort device
// unregistration, then a navigation reset to the login entry point.
func (sv *Supervisor) handleDrop() {
	sv.mu.Lock()
	sv.dropTimer = nil
	if sv.lastAuthed {
		// Session came back during the debounce window.
		sv.mu.Unlock()
		return
	}
	sv.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := sv.registrar.Unregister(ctx); err != nil {
		log.Printf("session: unregister on drop failed: %v", err)
	}

	sv.nav.ResetToLogin()
}

// handleRise registers the device for push after a login. The registrar
// enforces its own gating, so an incomplete onboarding or a missing token
// quietly results in no network call.
func (sv *Supervisor) handleRise(identity *api.Identity) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	token, err := sv.registrar.ObtainToken(ctx)
	if err != nil {
		log.Printf("session: obtain push token failed: %v", err)
		return
	}
	if token == "" {
		// Unsupported runtime or denied permission. Expected, not an error.
		return
	}

	// The session can drop while the token is being fetched; a late
	// registration would leave a server-side binding past the logout.
	if !sv.store.Current().Authenticated() {
		return
	}

	if err := sv.registrar.Register(ctx, token, identity); err != nil {
		log.Printf("session: device registration failed: %v", err)
	}
}

// NotifyOnboardingCompleted performs the one-time post-onboarding handoff to
// the login screen. Only meaningful while logged out; once a session exists
// the supervisor's edge handling owns navigation.
func (sv *Supervisor) NotifyOnboardingCompleted() {
	sv.mu.Lock()
	if sv.handoffDone || sv.lastAuthed {
		sv.mu.Unlock()
		return
	}
	sv.handoffDone = true
	sv.mu.Unlock()

	sv.nav.HandoffToLogin()
}
