// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"time"

	"github.com/jeranaias/storelink-tui/internal/api"
	"github.com/jeranaias/storelink-tui/internal/config"
)

// buildClient constructs an API client from the global config, applying
// any command-line overrides.
func buildClient(args Args) *api.Client {
	cfg := config.Global()

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
	return client
}
