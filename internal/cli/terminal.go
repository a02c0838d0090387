// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// terminal.go - Terminal detection and interactive prompts.
//
// Prompts never echo secrets and refuse to run without a TTY, so piping
// a script into `storelink login` fails loudly instead of hanging.
package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// =============================================================================
// TTY DETECTION
// =============================================================================

// IsTTY returns true if stdin is a terminal.
func IsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// IsStdoutTTY returns true if stdout is a terminal.
func IsStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// =============================================================================
// COLOR PROFILE
// =============================================================================

var (
	profileOnce sync.Once
	profile     termenv.Profile
)

// GetColorProfile returns the color profile to use for CLI output.
// Respects NO_COLOR and non-TTY output.
func GetColorProfile() termenv.Profile {
	profileOnce.Do(func() {
		if os.Getenv("NO_COLOR") != "" || !IsStdoutTTY() {
			profile = termenv.Ascii
			return
		}
		profile = termenv.ColorProfile()
	})
	return profile
}

// =============================================================================
// PROMPTS
// =============================================================================

// PromptLine reads a single line of input with a visible prompt.
func PromptLine(label string) (string, error) {
	if !IsTTY() {
		return "", fmt.Errorf("cannot prompt for %s: stdin is not a terminal", label)
	}
	fmt.Printf("%s: ", label)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", label, err)
	}
	return strings.TrimSpace(line), nil
}

// PromptSecret reads a line without echoing it.
func PromptSecret(label string) (string, error) {
	if !IsTTY() {
		return "", fmt.Errorf("cannot prompt for %s: stdin is not a terminal", label)
	}
	fmt.Printf("%s: ", label)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", label, err)
	}
	return strings.TrimSpace(string(raw)), nil
}
