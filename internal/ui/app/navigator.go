// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package app wires the screens, the navigator, and the session machinery
// into the root Bubble Tea model.
package app

import (
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// SCREENS
// =============================================================================

// Screen identifies a top-level screen.
type Screen int

const (
	// ScreenOnboarding is the first-run consent/welcome screen.
	ScreenOnboarding Screen = iota

	// ScreenLogin is the credential entry screen.
	ScreenLogin

	// ScreenTwoFactor is the 2FA code entry screen.
	ScreenTwoFactor

	// ScreenHome is the authenticated storefront home.
	ScreenHome
)

// String returns a human-readable screen name.
func (s Screen) String() string {
	switch s {
	case ScreenOnboarding:
		return "onboarding"
	case ScreenLogin:
		return "login"
	case ScreenTwoFactor:
		return "two_factor"
	case ScreenHome:
		return "home"
	default:
		return "unknown"
	}
}

// =============================================================================
// NAVIGATOR
// =============================================================================

// Navigator holds the explicit screen stack. A Reset unwinds everything to
// the login entry, so no back navigation can reach a protected screen after
// a session drop.
type Navigator struct {
	stack []Screen
}

// NewNavigator creates a navigator rooted at the given screen.
func NewNavigator(root Screen) *Navigator {
	return &Navigator{stack: []Screen{root}}
}

// Current returns the active screen.
func (n *Navigator) Current() Screen {
	return n.stack[len(n.stack)-1]
}

// Push moves to a new screen, keeping history.
func (n *Navigator) Push(s Screen) {
	n.stack = append(n.stack, s)
}

// Pop returns to the previous screen. The root screen is never popped.
func (n *Navigator) Pop() Screen {
	if len(n.stack) > 1 {
		n.stack = n.stack[:len(n.stack)-1]
	}
	return n.Current()
}

// Replace swaps the active screen without growing history. Used for the
// post-onboarding handoff, where there is nothing behind to unwind.
func (n *Navigator) Replace(s Screen) {
	n.stack[len(n.stack)-1] = s
}

// Reset clears the entire back stack down to the given screen.
func (n *Navigator) Reset(s Screen) {
	n.stack = n.stack[:0]
	n.stack = append(n.stack, s)
}

// Depth returns the stack depth.
func (n *Navigator) Depth() int {
	return len(n.stack)
}

// =============================================================================
// SUPERVISOR BRIDGE
// =============================================================================

// NavResetMsg asks the model to reset navigation to the login entry.
type NavResetMsg struct{}

// NavHandoffMsg asks the model to hand off to login after onboarding.
type NavHandoffMsg struct{}

// NavBridge delivers supervisor navigation directives into the Bubble Tea
// event loop. The supervisor runs on its own goroutines; all it may do to
// the UI is send messages.
type NavBridge struct {
	mu   sync.Mutex
	send func(tea.Msg)
}

// Attach connects the bridge to a running program's Send function.
// Directives arriving before Attach are dropped; there is no UI to direct.
func (b *NavBridge) Attach(send func(tea.Msg)) {
	b.mu.Lock()
	b.send = send
	b.mu.Unlock()
}

// ResetToLogin implements the supervisor's navigation reset.
func (b *NavBridge) ResetToLogin() {
	b.post(NavResetMsg{})
}

// HandoffToLogin implements the post-onboarding handoff.
func (b *NavBridge) HandoffToLogin() {
	b.post(NavHandoffMsg{})
}

func (b *NavBridge) post(msg tea.Msg) {
	b.mu.Lock()
	send := b.send
	b.mu.Unlock()
	if send != nil {
		send(msg)
	}
}
