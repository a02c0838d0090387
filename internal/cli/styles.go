// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared styling for CLI command output.
//
// Colors are disabled automatically for piped output and when NO_COLOR
// is set; commands should use these styles instead of defining their own.
package cli

import (
	"github.com/charmbracelet/lipgloss"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES FOR ALL CLI COMMANDS
// =============================================================================

var (
	// TitleStyle is used for command titles and headers
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")). // Cyan
			MarginBottom(1)

	// SectionStyle is used for section headers within commands
	SectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("255"))

	// LabelStyle is used for field labels in aligned output
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(14)

	// SuccessStyle marks successful outcomes
	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")) // Green

	// ErrorStyle marks failures
	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // Red

	// WarnStyle marks degraded but non-fatal conditions
	WarnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Amber
)
