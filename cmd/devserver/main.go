// devserver - Local stand-in for the Storelink storefront API.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"

	"github.com/jeranaias/storelink-tui/internal/devserver"
)

const shutdownTimeout = 5 * time.Second

func main() {
	port := flag.Int("port", devserver.DefaultPort, "port to listen on")
	dbPath := flag.String("db", "devserver.db", "path to the SQLite database (:memory: for ephemeral)")
	seed := flag.Bool("seed", false, "create demo accounts if they do not exist")
	flag.Parse()

	store, err := devserver.OpenStore(*dbPath)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if *seed {
		if err := seedDemoUsers(store); err != nil {
			log.Fatalf("seed: %v", err)
		}
	}

	srv := devserver.NewServer(*port, store)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("devserver listening on :%d (db=%s)", *port, *dbPath)
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server: %v", err)
		}
	case sig := <-sigCh:
		log.Printf("received %v, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}

// seedDemoUsers creates two demo accounts: a plain-password user and a
// TOTP-enabled user. The TOTP secret is printed so it can be added to an
// authenticator app (or fed to a test script).
func seedDemoUsers(store *devserver.Store) error {
	if _, err := store.UserByEmail("demo@example.com"); err != nil {
		if err := store.CreateUser(devserver.User{
			ID:       uuid.NewString(),
			Email:    "demo@example.com",
			Password: "demo-password",
			Role:     "customer",
		}); err != nil {
			return fmt.Errorf("create demo user: %w", err)
		}
		fmt.Println("seeded demo@example.com / demo-password")
	}

	if _, err := store.UserByEmail("admin@example.com"); err != nil {
		key, err := totp.Generate(totp.GenerateOpts{
			Issuer:      "storelink-dev",
			AccountName: "admin@example.com",
		})
		if err != nil {
			return fmt.Errorf("generate totp secret: %w", err)
		}
		if err := store.CreateUser(devserver.User{
			ID:         uuid.NewString(),
			Email:      "admin@example.com",
			Password:   "admin-password",
			Role:       "admin",
			TOTPSecret: key.Secret(),
		}); err != nil {
			return fmt.Errorf("create admin user: %w", err)
		}
		fmt.Println("seeded admin@example.com / admin-password (2FA)")
		fmt.Printf("TOTP secret: %s\n", key.Secret())
	}

	return nil
}
