// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components provides the visual UI components for the storelink TUI.
package components

import (
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/storelink-tui/internal/ui/styles"
)

// =============================================================================
// FORM FIELD COMPONENT
// =============================================================================

// Field is a single-line labeled form input.
type Field struct {
	input   textinput.Model
	label   string
	focused bool
	theme   *styles.Theme
}

// NewField creates a text field with the given label and placeholder.
func NewField(theme *styles.Theme, label, placeholder string) *Field {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = 256
	ti.Width = 36
	ti.Prompt = "> "

	ti.PromptStyle = lipgloss.NewStyle().
		Foreground(styles.Cyan).
		Bold(true)
	ti.TextStyle = lipgloss.NewStyle().
		Foreground(styles.TextPrimary)
	ti.PlaceholderStyle = lipgloss.NewStyle().
		Foreground(styles.TextMuted).
		Italic(true)
	ti.Cursor.Style = lipgloss.NewStyle().
		Foreground(styles.Cyan)

	return &Field{
		input: ti,
		label: label,
		theme: theme,
	}
}

// NewSecretField creates a field that masks its contents.
func NewSecretField(theme *styles.Theme, label, placeholder string) *Field {
	f := NewField(theme, label, placeholder)
	f.input.EchoMode = textinput.EchoPassword
	f.input.EchoCharacter = '*'
	return f
}

// Focus focuses the field.
func (f *Field) Focus() tea.Cmd {
	f.focused = true
	return f.input.Focus()
}

// Blur removes focus from the field.
func (f *Field) Blur() {
	f.focused = false
	f.input.Blur()
}

// Focused returns whether the field has focus.
func (f *Field) Focused() bool {
	return f.focused
}

// Value returns the current field value.
func (f *Field) Value() string {
	return f.input.Value()
}

// SetValue sets the field value.
func (f *Field) SetValue(value string) {
	f.input.SetValue(value)
}

// Reset clears the field.
func (f *Field) Reset() {
	f.input.Reset()
}

// SetCharLimit caps the field length.
func (f *Field) SetCharLimit(limit int) {
	f.input.CharLimit = limit
}

// Update handles input updates.
func (f *Field) Update(msg tea.Msg) (*Field, tea.Cmd) {
	var cmd tea.Cmd
	f.input, cmd = f.input.Update(msg)
	return f, cmd
}

// View renders the labeled field with a focus-aware border.
func (f *Field) View() string {
	borderColor := styles.Overlay
	if f.focused {
		borderColor = styles.FocusRing
	}

	box := lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Padding(0, 1).
		Render(f.input.View())

	return lipgloss.JoinVertical(
		lipgloss.Left,
		f.theme.FieldLabel.Render(f.label),
		box,
	)
}
