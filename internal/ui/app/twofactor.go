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
// TWO-FACTOR SCREEN
// =============================================================================

// twoFactorOutcomeMsg carries the result of a code submission.
type twoFactorOutcomeMsg struct {
	state auth.State
	err   error
}

type twoFactorModel struct {
	theme   *styles.Theme
	flow    *auth.Flow
	code    *components.Field
	busy    bool
	errText string
}

func newTwoFactorModel(theme *styles.Theme, flow *auth.Flow) twoFactorModel {
	code := components.NewField(theme, "Authentication code", "123456")
	code.SetCharLimit(6)
	return twoFactorModel{
		theme: theme,
		flow:  flow,
		code:  code,
	}
}

func (m twoFactorModel) focus() tea.Cmd {
	return m.code.Focus()
}

func (m *twoFactorModel) reset() {
	m.code.Reset()
	m.errText = ""
	m.busy = false
}

func (m twoFactorModel) submit() tea.Cmd {
	code := m.code.Value()
	return func() tea.Msg {
		err := m.flow.SubmitTwoFactor(context.Background(), code)
		return twoFactorOutcomeMsg{state: m.flow.State(), err: err}
	}
}

func (m twoFactorModel) update(msg tea.Msg) (twoFactorModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.busy {
			return m, nil
		}
		switch msg.String() {
		case "enter":
			m.busy = true
			m.errText = ""
			return m, m.submit()
		}

	case twoFactorOutcomeMsg:
		m.busy = false
		if msg.err != nil {
			m.errText = msg.err.Error()
			m.code.Reset()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.code, cmd = m.code.Update(msg)
	return m, cmd
}

func (m twoFactorModel) view() string {
	title := m.theme.HeaderTitle.Render("Two-factor authentication")
	subtitle := m.theme.HeaderSubtitle.Render("Enter the 6-digit code from your authenticator app.")

	var status string
	switch {
	case m.busy:
		status = m.theme.InfoStyle.Render("Verifying...")
	case m.errText != "":
		status = m.theme.ErrorStyle.Render(styles.StatusIndicators.Error + " " + m.errText)
	default:
		status = m.theme.FieldHint.Render("enter: verify   esc: back to login")
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		subtitle,
		"",
		m.theme.FormBox.Render(m.code.View()),
		"",
		status,
	)
}
