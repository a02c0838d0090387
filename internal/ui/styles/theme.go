// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds all the styled components for the application.
// It detects the terminal's color capability and adjusts accordingly.
type Theme struct {
	IsDark       bool
	HasTrueColor bool
	ColorProfile termenv.Profile

	Width  int
	Height int

	// ==========================================================================
	// APPLICATION CONTAINER STYLES
	// ==========================================================================

	App       lipgloss.Style
	Container lipgloss.Style

	// ==========================================================================
	// HEADER STYLES
	// ==========================================================================

	Header         lipgloss.Style
	HeaderTitle    lipgloss.Style
	HeaderSubtitle lipgloss.Style

	// ==========================================================================
	// FORM STYLES
	// ==========================================================================

	FormBox    lipgloss.Style
	FieldLabel lipgloss.Style
	FieldHint  lipgloss.Style

	// ==========================================================================
	// STATUS STYLES
	// ==========================================================================

	SuccessStyle lipgloss.Style
	ErrorStyle   lipgloss.Style
	WarningStyle lipgloss.Style
	InfoStyle    lipgloss.Style

	// ==========================================================================
	// STATUS BAR STYLES
	// ==========================================================================

	StatusBar     lipgloss.Style
	ShortcutKey   lipgloss.Style
	ShortcutDesc  lipgloss.Style
	SessionBadge  lipgloss.Style
	SignedOutText lipgloss.Style
}

// NewTheme creates a new theme with all styles configured.
func NewTheme() *Theme {
	colorProfile := termenv.ColorProfile()

	t := &Theme{
		IsDark:       termenv.HasDarkBackground(),
		HasTrueColor: colorProfile == termenv.TrueColor,
		ColorProfile: colorProfile,
		Width:        80,
		Height:       24,
	}

	t.App = lipgloss.NewStyle().
		Padding(1, 2)

	t.Container = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(1, 2)

	t.Header = lipgloss.NewStyle().
		Padding(0, 1).
		MarginBottom(1)

	t.HeaderTitle = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)

	t.HeaderSubtitle = lipgloss.NewStyle().
		Foreground(TextSecondary)

	t.FormBox = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(1, 2).
		Width(48)

	t.FieldLabel = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Bold(true)

	t.FieldHint = lipgloss.NewStyle().
		Foreground(TextMuted).
		Italic(true)

	t.SuccessStyle = lipgloss.NewStyle().
		Foreground(Emerald).
		Bold(true)

	t.ErrorStyle = lipgloss.NewStyle().
		Foreground(Rose).
		Bold(true)

	t.WarningStyle = lipgloss.NewStyle().
		Foreground(Amber).
		Bold(true)

	t.InfoStyle = lipgloss.NewStyle().
		Foreground(Cyan)

	t.StatusBar = lipgloss.NewStyle().
		Foreground(TextSecondary).
		Padding(0, 1)

	t.ShortcutKey = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)

	t.ShortcutDesc = lipgloss.NewStyle().
		Foreground(TextMuted)

	t.SessionBadge = lipgloss.NewStyle().
		Foreground(TextInverse).
		Background(Emerald).
		Padding(0, 1).
		Bold(true)

	t.SignedOutText = lipgloss.NewStyle().
		Foreground(TextMuted)

	return t
}

// SetSize updates the layout dimensions on terminal resize.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}
