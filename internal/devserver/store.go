// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package devserver implements a local stand-in for the Storelink storefront
// API: cookie sessions, TOTP two-factor login, OTP verification, and device
// registration with last-write-wins bindings. It exists for development and
// integration testing of the client; it is not a production backend.
package devserver

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// =============================================================================
// STORE
// =============================================================================

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("not found")

// User is a stored account.
type User struct {
	ID       string
	Email    string
	Password string
	Role     string

	// TOTPSecret enables the 2FA login path when non-empty.
	TOTPSecret string

	// OTPCode is the pending one-time code for the verify-otp path.
	OTPCode string

	// HasPIN reports whether the account has a storefront PIN configured.
	HasPIN bool
}

// Device is a push binding row.
type Device struct {
	Token     string
	UserID    string
	Platform  string
	UpdatedAt time.Time
}

// Store persists users and device bindings in sqlite.
type Store struct {
	db *sql.DB
}

// OpenStore opens (and migrates) a sqlite store at the given path.
// Use ":memory:" for tests.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// The sqlite driver serializes writes; a single connection avoids
	// table-lock errors under concurrent handlers.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY,
	email       TEXT NOT NULL UNIQUE,
	password    TEXT NOT NULL,
	role        TEXT NOT NULL DEFAULT 'customer',
	totp_secret TEXT NOT NULL DEFAULT '',
	otp_code    TEXT NOT NULL DEFAULT '',
	has_pin     INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS devices (
	token      TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	platform   TEXT NOT NULL DEFAULT '',
	updated_at TIMESTAMP NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}
	return nil
}

// =============================================================================
// USERS
// =============================================================================

// CreateUser inserts an account.
func (s *Store) CreateUser(u User) error {
	if u.Role == "" {
		u.Role = "customer"
	}
	_, err := s.db.Exec(
		`INSERT INTO users (id, email, password, role, totp_secret, otp_code, has_pin) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Password, u.Role, u.TOTPSecret, u.OTPCode, u.HasPIN,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// UserByEmail looks up an account by email.
func (s *Store) UserByEmail(email string) (*User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT id, email, password, role, totp_secret, otp_code, has_pin FROM users WHERE email = ?`, email))
}

// UserByID looks up an account by ID.
func (s *Store) UserByID(id string) (*User, error) {
	return s.scanUser(s.db.QueryRow(
		`SELECT id, email, password, role, totp_secret, otp_code, has_pin FROM users WHERE id = ?`, id))
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Password, &u.Role, &u.TOTPSecret, &u.OTPCode, &u.HasPIN)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user: %w", err)
	}
	return &u, nil
}

// SetOTPCode stores a pending one-time code for the account.
func (s *Store) SetOTPCode(userID, code string) error {
	res, err := s.db.Exec(`UPDATE users SET otp_code = ? WHERE id = ?`, code, userID)
	if err != nil {
		return fmt.Errorf("failed to set otp code: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// =============================================================================
// DEVICES
// =============================================================================

// UpsertDevice binds a token to a user, last write wins. Re-registering an
// existing token rebinds it instead of creating a duplicate row.
func (s *Store) UpsertDevice(d Device) error {
	_, err := s.db.Exec(`
INSERT INTO devices (token, user_id, platform, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(token) DO UPDATE SET user_id = excluded.user_id,
                                 platform = excluded.platform,
                                 updated_at = excluded.updated_at`,
		d.Token, d.UserID, d.Platform, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

// DeleteDevicesForUser removes all bindings for a user.
func (s *Store) DeleteDevicesForUser(userID string) error {
	if _, err := s.db.Exec(`DELETE FROM devices WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("failed to delete devices: %w", err)
	}
	return nil
}

// DevicesForUser lists bindings for a user.
func (s *Store) DevicesForUser(userID string) ([]Device, error) {
	rows, err := s.db.Query(
		`SELECT token, user_id, platform, updated_at FROM devices WHERE user_id = ? ORDER BY token`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var out []Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.Token, &d.UserID, &d.Platform, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeviceCount returns the total number of device rows.
func (s *Store) DeviceCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM devices`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count devices: %w", err)
	}
	return n, nil
}
