// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/storelink-tui/internal/session"
	"github.com/jeranaias/storelink-tui/internal/ui/styles"
	"github.com/jeranaias/storelink-tui/internal/util"
)

// homeValueWidth bounds identity values so long IDs cannot wrap the form box.
const homeValueWidth = 30

// =============================================================================
// HOME SCREEN
// =============================================================================

// refreshDoneMsg reports the outcome of a session revalidation.
type refreshDoneMsg struct {
	sess session.Session
	err  error
}

// logoutDoneMsg indicates the logout call finished.
type logoutDoneMsg struct{}

type homeModel struct {
	theme   *styles.Theme
	store   *session.Store
	busy    bool
	errText string
}

func newHomeModel(theme *styles.Theme, store *session.Store) homeModel {
	return homeModel{theme: theme, store: store}
}

func (m homeModel) refresh() tea.Cmd {
	return func() tea.Msg {
		sess, err := m.store.Refresh(context.Background())
		return refreshDoneMsg{sess: sess, err: err}
	}
}

func (m homeModel) logout() tea.Cmd {
	return func() tea.Msg {
		// Local state clears immediately; the supervisor handles the
		// navigation reset when it observes the drop.
		m.store.Logout(context.Background())
		return logoutDoneMsg{}
	}
}

func (m homeModel) update(msg tea.Msg) (homeModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "r":
			if !m.busy {
				m.busy = true
				m.errText = ""
				return m, m.refresh()
			}
		case "ctrl+l":
			return m, m.logout()
		}

	case refreshDoneMsg:
		m.busy = false
		if msg.err != nil {
			m.errText = "Could not refresh session: " + msg.err.Error()
		}

	case logoutDoneMsg:
		m.busy = false
	}

	return m, nil
}

func (m homeModel) view() string {
	sess := m.store.Current()

	title := m.theme.HeaderTitle.Render("Storelink")

	var identity string
	if sess.Authenticated() {
		badge := m.theme.SessionBadge.Render("SIGNED IN")
		identity = lipgloss.JoinVertical(
			lipgloss.Left,
			badge,
			"",
			m.theme.FieldLabel.Render("Account ID  ")+util.TruncateWidth(sess.Identity.ID, homeValueWidth),
			m.theme.FieldLabel.Render("Role        ")+util.TruncateWidth(sess.Identity.Role, homeValueWidth),
		)
	} else {
		identity = m.theme.SignedOutText.Render("Session ended. Returning to sign-in...")
	}

	var status string
	switch {
	case m.busy:
		status = m.theme.InfoStyle.Render("Refreshing session...")
	case m.errText != "":
		status = m.theme.WarningStyle.Render(styles.StatusIndicators.Warning + " " + m.errText)
	default:
		status = m.theme.FieldHint.Render("r: refresh   ctrl+l: sign out   ctrl+c: quit")
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		title,
		"",
		m.theme.FormBox.Render(identity),
		"",
		status,
	)
}
