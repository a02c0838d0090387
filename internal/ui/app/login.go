// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/storelink-tui/internal/auth"
	"github.com/jeranaias/storelink-tui/internal/ui/components"
	"github.com/jeranaias/storelink-tui/internal/ui/styles"
)

// =============================================================================
// LOGIN SCREEN
// =============================================================================

// loginOutcomeMsg carries the result of a password submission.
type loginOutcomeMsg struct {
	state auth.State
	err   error
}

type loginModel struct {
	theme    *styles.Theme
	flow     *auth.Flow
	email    *components.Field
	password *components.Field
	focusIdx int
	busy     bool
	errText  string
}

func newLoginModel(theme *styles.Theme, flow *auth.Flow) loginModel {
	email := components.NewField(theme, "Email", "you@example.com")
	password := components.NewSecretField(theme, "Password", "")
	return loginModel{
		theme:    theme,
		flow:     flow,
		email:    email,
		password: password,
	}
}

func (m loginModel) focus() tea.Cmd {
	m.password.Blur()
	return m.email.Focus()
}

// reset clears secrets and errors, keeping the email for retry convenience.
func (m *loginModel) reset() {
	m.password.Reset()
	m.errText = ""
	m.busy = false
	m.focusIdx = 0
	m.email.Focus()
	m.password.Blur()
}

func (m loginModel) submit() tea.Cmd {
	email := m.email.Value()
	password := m.password.Value()
	return func() tea.Msg {
		err := m.flow.SubmitPassword(context.Background(), email, password)
		return loginOutcomeMsg{state: m.flow.State(), err: err}
	}
}

func (m loginModel) update(msg tea.Msg) (loginModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.busy {
			return m, nil
		}
		switch msg.String() {
		case "tab", "down":
			return m.cycleFocus(1)
		case "shift+tab", "up":
			return m.cycleFocus(-1)
		case "enter":
			if m.focusIdx == 0 {
				return m.cycleFocus(1)
			}
			m.busy = true
			m.errText = ""
			return m, m.submit()
		}

	case loginOutcomeMsg:
		m.busy = false
		if msg.err != nil {
			m.errText = msg.err.Error()
			m.password.Reset()
			return m, nil
		}
	}

	var cmd tea.Cmd
	if m.focusIdx == 0 {
		m.email, cmd = m.email.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

func (m loginModel) cycleFocus(delta int) (loginModel, tea.Cmd) {
	m.focusIdx = (m.focusIdx + delta + 2) % 2
	if m.focusIdx == 0 {
		m.password.Blur()
		return m, m.email.Focus()
	}
	m.email.Blur()
	return m, m.password.Focus()
}

func (m loginModel) view() string {
	title := m.theme.HeaderTitle.Render("Sign in to Storelink")

	var status string
	switch {
	case m.busy:
		status = m.theme.InfoStyle.Render("Signing in...")
	case m.errText != "":
		status = m.theme.ErrorStyle.Render(styles.StatusIndicators.Error + " " + m.errText)
	default:
		status = m.theme.FieldHint.Render("tab: switch field   enter: submit   ctrl+c: quit")
	}

	form := lipgloss.JoinVertical(
		lipgloss.Left,
		m.email.View(),
		"",
		m.password.View(),
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		"",
		m.theme.FormBox.Render(form),
		"",
		status,
	)
}
