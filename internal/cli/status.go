// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - Status command implementation.
//
// Command: status
// Short:   Display configuration and session status
// Aliases: s
//
// Examples:
//   storelink status               Show status
//   storelink status --json        Status in JSON format
//
// Status Sections:
//   Server:    Configured base URL and reachability
//   Session:   Whether this invocation holds a valid session
//   Push:      Whether device registration is enabled
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jeranaias/storelink-tui/internal/config"
	"github.com/jeranaias/storelink-tui/internal/session"
	"github.com/jeranaias/storelink-tui/internal/util"
)

// HandleStatus prints server reachability and session state.
func HandleStatus(args Args) {
	cfg := config.Global()
	client := buildClient(args)
	store := session.NewStore(client).WithStaleness(0)

	baseURL := cfg.API.BaseURL
	if args.BaseURL != "" {
		baseURL = args.BaseURL
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// A clean unauthenticated result still proves the server answered.
	sess, err := store.Refresh(ctx)
	reachable := err == nil

	if args.JSON {
		out := map[string]any{
			"server":        baseURL,
			"reachable":     reachable,
			"authenticated": sess.Authenticated(),
			"pushEnabled":   cfg.Push.Enabled,
			"version":       Version,
		}
		if err != nil {
			out["error"] = err.Error()
		}
		if sess.Identity != nil {
			out["userId"] = sess.Identity.ID
		}
		json.NewEncoder(os.Stdout).Encode(out)
		return
	}

	fmt.Println(TitleStyle.Render("Storelink Status"))

	fmt.Println(SectionStyle.Render("Server"))
	fmt.Println(LabelStyle.Render("Base URL") + baseURL)
	if reachable {
		fmt.Println(LabelStyle.Render("Reachable") + SuccessStyle.Render("yes"))
	} else {
		// Transport errors can nest long wrapped URLs; keep the line readable
		fmt.Println(LabelStyle.Render("Reachable") + ErrorStyle.Render("no ("+util.TruncateWidth(err.Error(), 60)+")"))
	}

	fmt.Println()
	fmt.Println(SectionStyle.Render("Session"))
	if sess.Authenticated() {
		fmt.Println(LabelStyle.Render("Signed in") + SuccessStyle.Render("yes"))
		fmt.Println(LabelStyle.Render("Account ID") + sess.Identity.ID)
		fmt.Println(LabelStyle.Render("Role") + sess.Identity.Role)
	} else {
		fmt.Println(LabelStyle.Render("Signed in") + "no")
	}

	fmt.Println()
	fmt.Println(SectionStyle.Render("Push"))
	if cfg.Push.Enabled {
		fmt.Println(LabelStyle.Render("Enabled") + "yes")
	} else {
		fmt.Println(LabelStyle.Render("Enabled") + "no")
	}
}

// HandleConfig prints the active configuration.
func HandleConfig(args Args) {
	cfg := config.Global()

	if args.JSON {
		json.NewEncoder(os.Stdout).Encode(cfg)
		return
	}

	fmt.Println(TitleStyle.Render("Storelink Configuration"))
	fmt.Println(LabelStyle.Render("Base URL") + cfg.API.BaseURL)
	fmt.Println(LabelStyle.Render("Timeout") + fmt.Sprintf("%ds", cfg.API.TimeoutSecs))
	fmt.Println(LabelStyle.Render("Retries") + fmt.Sprintf("%d", cfg.API.MaxRetries))
	fmt.Println(LabelStyle.Render("Staleness") + fmt.Sprintf("%ds", cfg.Session.StalenessSecs))
	fmt.Println(LabelStyle.Render("Debounce") + fmt.Sprintf("%dms", cfg.Session.LogoutDebounceMs))
	fmt.Println(LabelStyle.Render("Push") + fmt.Sprintf("%t", cfg.Push.Enabled))
	fmt.Println(LabelStyle.Render("Audit") + fmt.Sprintf("%t", cfg.Audit.Enabled))
	fmt.Println(LabelStyle.Render("Theme") + cfg.UI.Theme)

	if path, err := config.ConfigPathTOML(); err == nil {
		fmt.Println()
		fmt.Println(LabelStyle.Render("Config file") + path)
	}
}
