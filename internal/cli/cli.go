// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and command routing for storelink.
package cli

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdLogin
	CmdStatus
	CmdLogout
	CmdConfig
	CmdVersion
	CmdHelp
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet   bool
	JSON    bool
	BaseURL string // --server override for the storefront API base URL

	// Command-specific
	Email      string
	Subcommand string

	// Raw args (remaining after flag parsing)
	Raw []string
}

const usageText = `storelink - Terminal client for the Storelink storefront

Usage:
  storelink                  Start TUI (default)
  storelink login            Sign in from the terminal (headless)
  storelink status, s        Show configuration and session status
  storelink logout           End the current session on the server
  storelink config [show]    Show configuration
  storelink version          Show version information
  storelink help             Show this help

Global flags:
  --server URL               Override the storefront API base URL
  --email ADDRESS            Pre-fill the email for login
  --json                     Output in JSON format where supported
  --quiet                    Suppress informational output

Examples:
  storelink login --email you@example.com
  storelink status --json
  storelink --server http://localhost:8787 login
`

// Parse reads os.Args and returns the command to run plus parsed arguments.
func Parse() (Command, Args) {
	args := os.Args[1:]

	remaining, parsed := parseGlobalFlags(args)

	if len(remaining) == 0 {
		return CmdTUI, parsed
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	parsed.Raw = remaining
	if len(remaining) > 0 {
		parsed.Subcommand = remaining[0]
	}

	switch cmd {
	case "tui":
		return CmdTUI, parsed
	case "login", "signin":
		return CmdLogin, parsed
	case "status", "s":
		return CmdStatus, parsed
	case "logout", "signout":
		return CmdLogout, parsed
	case "config":
		return CmdConfig, parsed
	case "version", "-v", "--version":
		return CmdVersion, parsed
	case "help", "-h", "--help":
		return CmdHelp, parsed
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		return CmdHelp, parsed
	}
}

// parseGlobalFlags extracts flags that apply to every command.
func parseGlobalFlags(args []string) ([]string, Args) {
	var parsed Args
	remaining := make([]string, 0, len(args))

	i := 0
	for i < len(args) {
		arg := args[i]
		switch {
		case arg == "--quiet" || arg == "-q":
			parsed.Quiet = true
		case arg == "--json":
			parsed.JSON = true
		case arg == "--server":
			if i+1 < len(args) {
				parsed.BaseURL = args[i+1]
				i++
			}
		case strings.HasPrefix(arg, "--server="):
			parsed.BaseURL = strings.TrimPrefix(arg, "--server=")
		case arg == "--email":
			if i+1 < len(args) {
				parsed.Email = args[i+1]
				i++
			}
		case strings.HasPrefix(arg, "--email="):
			parsed.Email = strings.TrimPrefix(arg, "--email=")
		default:
			remaining = append(remaining, arg)
		}
		i++
	}

	return remaining, parsed
}

// HandleHelp prints the usage text.
func HandleHelp() {
	fmt.Print(usageText)
}

// HandleVersion prints version information.
func HandleVersion(args Args) {
	if args.JSON {
		fmt.Printf(`{"version":%q,"commit":%q,"built":%q,"go":%q,"platform":%q}`+"\n",
			Version, GitCommit, BuildDate, runtime.Version(), runtime.GOOS+"/"+runtime.GOARCH)
		return
	}
	fmt.Printf("storelink %s\n", Version)
	fmt.Printf("  commit:   %s\n", GitCommit)
	fmt.Printf("  built:    %s\n", BuildDate)
	fmt.Printf("  go:       %s\n", runtime.Version())
	fmt.Printf("  platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
