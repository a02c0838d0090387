// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package onboarding persists the single piece of durable client auth-adjacent
// state: whether the user has completed first-run onboarding.
//
// The flag is stored encrypted at rest with AES-256-GCM under a key derived
// via PBKDF2-SHA-256 from a per-install keyfile. Reads fail open: any error
// (missing file, tampered ciphertext, unreadable keyfile) reads as
// "not completed", never as a fatal condition.
package onboarding

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/jeranaias/storelink-tui/internal/util"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// stateFileName holds the encrypted flag.
const stateFileName = "onboarding.bin"

// keyFileName holds the per-install key material (secret || salt).
const keyFileName = "onboarding.key"

// NonceSize is the size of the nonce/IV for AES-GCM (12 bytes / 96 bits).
const NonceSize = 12

// KeySize is the size of the AES-256 key (32 bytes / 256 bits).
const KeySize = 32

// SaltSize is the size of the salt for key derivation (32 bytes).
const SaltSize = 32

// PBKDF2Iterations is the number of iterations for PBKDF2 key derivation.
// OWASP 2023 recommends 600,000+ for PBKDF2-SHA-256.
const PBKDF2Iterations = 600000

// ErrDecryptionFailed indicates decryption failed (wrong key or tampered data).
var ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")

// ZeroBytes securely zeros sensitive byte slices.
// SECURITY: Zero key material to prevent memory disclosure via crash dumps.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// =============================================================================
// GATE
// =============================================================================

// state is the wire form of the persisted flag.
type state struct {
	Completed   bool      `json:"completed"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Gate manages the persisted onboarding-completion flag.
// Safe for concurrent use.
type Gate struct {
	mu     sync.Mutex
	dir    string
	cipher cipher.AEAD // lazily initialized, key derivation is expensive
}

// NewGate creates a gate rooted at the given directory.
// An empty dir selects the default app directory (~/.storelink).
func NewGate(dir string) *Gate {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dir = filepath.Join(home, ".storelink")
	}
	return &Gate{dir: dir}
}

// IsCompleted reports whether onboarding has been completed.
//
// Fails open: every error path reads as false. A user who loses the flag
// re-sees onboarding, which is annoying but safe; the reverse (an error
// suppressing onboarding) would skip consent screens.
func (g *Gate) IsCompleted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(g.dir, stateFileName))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("onboarding: state unreadable, treating as not completed: %v", err)
		}
		return false
	}

	plaintext, err := g.decryptLocked(data)
	if err != nil {
		log.Printf("onboarding: state undecryptable, treating as not completed: %v", err)
		return false
	}

	var s state
	if err := json.Unmarshal(plaintext, &s); err != nil {
		log.Printf("onboarding: state unparsable, treating as not completed: %v", err)
		return false
	}

	return s.Completed
}

// MarkCompleted records onboarding completion. Idempotent: marking an
// already-completed gate rewrites the same flag and is not an error.
//
// A write failure is returned to the caller for logging but must not be
// treated as blocking; the in-memory flow has already moved past onboarding.
func (g *Gate) MarkCompleted() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	plaintext, err := json.Marshal(state{
		Completed:   true,
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode onboarding state: %w", err)
	}

	ciphertext, err := g.encryptLocked(plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt onboarding state: %w", err)
	}

	if err := util.AtomicWriteFile(filepath.Join(g.dir, stateFileName), ciphertext, 0600); err != nil {
		return fmt.Errorf("failed to persist onboarding state: %w", err)
	}

	return nil
}

// Reset clears the persisted flag. Intended for tests and debug tooling only.
func (g *Gate) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	err := os.Remove(filepath.Join(g.dir, stateFileName))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to reset onboarding state: %w", err)
	}
	return nil
}

// =============================================================================
// ENCRYPTION
// =============================================================================

// encryptLocked encrypts plaintext using AES-256-GCM.
// Returns: nonce || ciphertext || tag. Caller must hold g.mu.
func (g *Gate) encryptLocked(plaintext []byte) ([]byte, error) {
	aead, err := g.cipherLocked()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// decryptLocked decrypts nonce || ciphertext || tag. Caller must hold g.mu.
func (g *Gate) decryptLocked(ciphertext []byte) ([]byte, error) {
	aead, err := g.cipherLocked()
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < NonceSize {
		return nil, ErrDecryptionFailed
	}

	nonce := ciphertext[:NonceSize]
	plaintext, err := aead.Open(nil, nonce, ciphertext[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// cipherLocked returns the AEAD, deriving the key on first use.
// Key derivation is deliberately slow (PBKDF2), so the result is cached
// for the lifetime of the gate.
func (g *Gate) cipherLocked() (cipher.AEAD, error) {
	if g.cipher != nil {
		return g.cipher, nil
	}

	secret, salt, err := g.loadOrCreateKeyMaterial()
	if err != nil {
		return nil, err
	}
	defer ZeroBytes(secret)

	key := pbkdf2.Key(secret, salt, PBKDF2Iterations, KeySize, sha256.New)
	defer ZeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM cipher: %w", err)
	}

	g.cipher = aead
	return aead, nil
}

// loadOrCreateKeyMaterial reads the per-install keyfile, creating it on
// first use. Layout: KeySize secret bytes followed by SaltSize salt bytes.
func (g *Gate) loadOrCreateKeyMaterial() (secret, salt []byte, err error) {
	keyPath := filepath.Join(g.dir, keyFileName)

	data, err := os.ReadFile(keyPath)
	if err == nil {
		if len(data) != KeySize+SaltSize {
			return nil, nil, fmt.Errorf("keyfile has unexpected size %d", len(data))
		}
		return data[:KeySize], data[KeySize:], nil
	}
	if !os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("failed to read keyfile: %w", err)
	}

	// First use on this install: generate fresh key material
	material := make([]byte, KeySize+SaltSize)
	if _, err := io.ReadFull(rand.Reader, material); err != nil {
		return nil, nil, fmt.Errorf("failed to generate key material: %w", err)
	}

	if err := util.AtomicWriteFile(keyPath, material, 0600); err != nil {
		return nil, nil, fmt.Errorf("failed to persist keyfile: %w", err)
	}

	return material[:KeySize], material[KeySize:], nil
}
