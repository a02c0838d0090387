// storelink TUI - Terminal client for the Storelink storefront.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"log"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/storelink-tui/internal/api"
	"github.com/jeranaias/storelink-tui/internal/audit"
	"github.com/jeranaias/storelink-tui/internal/auth"
	"github.com/jeranaias/storelink-tui/internal/cli"
	"github.com/jeranaias/storelink-tui/internal/config"
	"github.com/jeranaias/storelink-tui/internal/onboarding"
	"github.com/jeranaias/storelink-tui/internal/push"
	"github.com/jeranaias/storelink-tui/internal/session"
	"github.com/jeranaias/storelink-tui/internal/ui/app"
	"github.com/jeranaias/storelink-tui/internal/ui/styles"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse()

	switch cmd {
	case cli.CmdTUI:
		runTUI(args)
	case cli.CmdLogin:
		if err := cli.HandleLogin(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case cli.CmdStatus:
		cli.HandleStatus(args)
	case cli.CmdLogout:
		if err := cli.HandleLogout(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case cli.CmdConfig:
		cli.HandleConfig(args)
	case cli.CmdVersion:
		cli.HandleVersion(args)
	case cli.CmdHelp:
		cli.HandleHelp()
	default:
		runTUI(args)
	}
}

// runTUI wires the subsystems together and starts the TUI event loop.
func runTUI(args cli.Args) {
	cfg := config.Global()

	// Audit logger
	if cfg.Audit.Enabled {
		logger, err := audit.NewLogger(cfg.Audit.LogPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: audit log unavailable: %v\n", err)
		} else {
			audit.SetGlobal(logger)
		}
	}

	// Storefront API client
	baseURL := cfg.API.BaseURL
	if args.BaseURL != "" {
		baseURL = args.BaseURL
	}
	client := api.NewClient(baseURL).
		WithMaxRetries(cfg.API.MaxRetries)
	if cfg.API.TimeoutSecs > 0 {
		client = client.WithTimeout(time.Duration(cfg.API.TimeoutSecs) * time.Second)
	}
	if cfg.API.UserAgent != "" {
		client = client.WithUserAgent(cfg.API.UserAgent)
	}

	// Session store
	store := session.NewStore(client)
	if cfg.Session.StalenessSecs > 0 {
		store = store.WithStaleness(time.Duration(cfg.Session.StalenessSecs) * time.Second)
	}

	// Onboarding gate and device registration
	gate := onboarding.NewGate("")
	var provider push.TokenProvider = push.NullProvider{}
	if cfg.Push.Enabled {
		provider = push.NewInstallProvider("")
	}
	controller := push.NewController(client, provider, gate)
	if cfg.Session.UnregisterTimeoutSecs > 0 {
		controller = controller.WithUnregisterTimeout(time.Duration(cfg.Session.UnregisterTimeoutSecs) * time.Second)
	}

	// Credential flow. The TUI keeps no session-derived caches, so the
	// flow's cache invalidator stays at its no-op default.
	flow := auth.NewFlow(client, store)

	// Supervisor posts navigation directives into the event loop
	bridge := &app.NavBridge{}
	supervisor := session.NewSupervisor(store, controller, bridge)
	if cfg.Session.LogoutDebounceMs > 0 {
		supervisor = supervisor.WithDebounce(time.Duration(cfg.Session.LogoutDebounceMs) * time.Millisecond)
	}

	// Config hot-reload (best effort)
	watcher, err := config.NewWatcher(config.DefaultWatchDebounce, nil)
	if err == nil {
		if err := watcher.Watch(); err != nil {
			log.Printf("config watcher disabled: %v", err)
		}
		defer watcher.Close()
	}

	theme := styles.NewTheme()
	model := app.NewModel(app.Deps{
		Theme:      theme,
		Flow:       flow,
		Store:      store,
		Gate:       gate,
		Supervisor: supervisor,
	})

	program := tea.NewProgram(model, tea.WithAltScreen())
	bridge.Attach(program.Send)

	supervisor.Start()
	defer supervisor.Stop()

	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
