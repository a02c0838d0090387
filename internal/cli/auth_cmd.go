// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// auth_cmd.go - Headless login and logout commands.
//
// Command: login
// Short:   Sign in from the terminal without the TUI
//
// Examples:
//   storelink login                       Prompt for email and password
//   storelink login --email you@x.com     Pre-fill the email
//   storelink --server http://localhost:8787 login
//
// The session lives in an in-memory cookie jar, so a headless login is
// an end-to-end credential check for this invocation rather than a
// persistent sign-in. The TUI is the long-lived client.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jeranaias/storelink-tui/internal/auth"
	"github.com/jeranaias/storelink-tui/internal/session"
)

const twoFactorAttempts = 3

// HandleLogin runs the credential flow interactively on the terminal.
func HandleLogin(args Args) error {
	client := buildClient(args)
	store := session.NewStore(client)
	flow := auth.NewFlow(client, store)

	email := args.Email
	if email == "" {
		var err error
		email, err = PromptLine("Email")
		if err != nil {
			return err
		}
	}

	password, err := PromptSecret("Password")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := flow.SubmitPassword(ctx, email, password); err != nil {
		return loginError(err)
	}

	// Second factor, if the account requires one
	for attempt := 0; flow.State() == auth.StateTwoFactorRequired; attempt++ {
		if attempt >= twoFactorAttempts {
			return errors.New("too many invalid authentication codes")
		}
		code, err := PromptLine("Authentication code")
		if err != nil {
			return err
		}
		if err := flow.SubmitTwoFactor(ctx, code); err != nil {
			var flowErr *auth.FlowError
			if errors.As(err, &flowErr) && flowErr.Kind == auth.KindInvalidInput {
				fmt.Println(WarnStyle.Render("Codes are 6 digits."))
				continue
			}
			return loginError(err)
		}
	}

	if flow.State() != auth.StateSuccess {
		if flowErr := flow.LastError(); flowErr != nil {
			return errors.New(flowErr.Message)
		}
		return errors.New("login did not complete")
	}

	sess := store.Current()
	if args.JSON {
		out := map[string]any{
			"authenticated": sess.Authenticated(),
		}
		if sess.Identity != nil {
			out["userId"] = sess.Identity.ID
			out["role"] = sess.Identity.Role
		}
		return json.NewEncoder(os.Stdout).Encode(out)
	}

	fmt.Println(SuccessStyle.Render("Signed in."))
	if sess.Identity != nil {
		fmt.Println(LabelStyle.Render("Account ID") + sess.Identity.ID)
		fmt.Println(LabelStyle.Render("Role") + sess.Identity.Role)
	}
	return nil
}

// HandleLogout ends the server-side session for this invocation.
func HandleLogout(args Args) error {
	client := buildClient(args)
	store := session.NewStore(client)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store.Logout(ctx)
	if !args.Quiet {
		fmt.Println("Signed out.")
	}
	return nil
}

// loginError turns a flow failure into a printable error.
func loginError(err error) error {
	var flowErr *auth.FlowError
	if errors.As(err, &flowErr) && flowErr != nil {
		return errors.New(flowErr.Message)
	}
	if err == nil {
		return errors.New("login did not complete")
	}
	return err
}
