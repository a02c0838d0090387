// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/storelink-tui/internal/ui/styles"
)

// =============================================================================
// ONBOARDING SCREEN
// =============================================================================

// onboardingDoneMsg reports the attempt to persist the completion flag.
type onboardingDoneMsg struct {
	err error
}

// onboardingGate is the slice of the gate the screen needs.
type onboardingGate interface {
	MarkCompleted() error
}

type onboardingModel struct {
	theme *styles.Theme
	gate  onboardingGate
}

func newOnboardingModel(theme *styles.Theme, gate onboardingGate) onboardingModel {
	return onboardingModel{theme: theme, gate: gate}
}

func (m onboardingModel) complete() tea.Cmd {
	return func() tea.Msg {
		// A persistence failure is reported but never traps the user
		// here; the flow proceeds either way.
		return onboardingDoneMsg{err: m.gate.MarkCompleted()}
	}
}

func (m onboardingModel) update(msg tea.Msg) (onboardingModel, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		if key.String() == "enter" {
			return m, m.complete()
		}
	}
	return m, nil
}

func (m onboardingModel) view() string {
	title := m.theme.HeaderTitle.Render("Welcome to Storelink")

	body := lipgloss.JoinVertical(
		lipgloss.Left,
		"Storelink keeps you signed in with a secure session cookie",
		"and can notify you about orders on this device.",
		"",
		"Device notifications are only registered after you sign in,",
		"and are removed when you sign out.",
	)

	hint := m.theme.FieldHint.Render("enter: continue   ctrl+c: quit")

	return lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		"",
		m.theme.FormBox.Render(body),
		"",
		hint,
	)
}
