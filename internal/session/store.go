// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session tracks the authenticated session as the process-wide source
// of truth, and supervises the side effects of session transitions.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/jeranaias/storelink-tui/internal/api"
	"github.com/jeranaias/storelink-tui/internal/audit"
)

// =============================================================================
// SESSION STATE
// =============================================================================

// Status represents the authentication status of the session.
type Status int

const (
	// StatusUnauthenticated means no valid session exists.
	StatusUnauthenticated Status = iota

	// StatusAuthenticated means the backend confirmed a valid session.
	StatusAuthenticated
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Session is a point-in-time snapshot of session state.
type Session struct {
	Status    Status
	Identity  *api.Identity // nil unless Status == StatusAuthenticated
	CheckedAt time.Time     // last successful backend validation
}

// Authenticated reports whether the snapshot carries a live session.
func (s Session) Authenticated() bool {
	return s.Status == StatusAuthenticated && s.Identity != nil
}

// =============================================================================
// CONSTANTS
// =============================================================================

// DefaultStaleness is how long a validated session is trusted before the
// next foreground Refresh revalidates against the backend.
const DefaultStaleness = 5 * time.Minute

// DefaultLogoutTimeout bounds the best-effort logout call. Local state is
// cleared before the call, so a slow backend never delays the transition.
const DefaultLogoutTimeout = 5 * time.Second

// =============================================================================
// BACKEND INTERFACE
// =============================================================================

// Backend is the slice of the API client the store depends on.
type Backend interface {
	Me(ctx context.Context) (*api.Identity, error)
	Logout(ctx context.Context) error
}

// =============================================================================
// STORE
// =============================================================================

// Listener receives session snapshots after each state change.
type Listener func(Session)

// refreshCall is a single in-flight revalidation shared by concurrent callers.
type refreshCall struct {
	done chan struct{}
	sess Session
	err  error
}

// Store holds the session state. All reads are synchronous; Refresh is the
// only operation that touches the network.
//
// Concurrency contract: mutations are serialized under the mutex, listeners
// are invoked synchronously after the mutation but outside the lock, and a
// generation counter discards in-flight refresh results that resolve after an
// explicit mutation (logout always wins over a racing refresh).
type Store struct {
	mu sync.Mutex

	backend   Backend
	session   Session
	staleness time.Duration

	// generation is bumped by SetAuthenticated and Clear; a refresh that
	// started under an older generation discards its result.
	generation uint64

	inflight *refreshCall

	listeners  map[int]Listener
	nextListen int

	logoutTimeout time.Duration
}

// NewStore creates a session store over the given backend.
func NewStore(backend Backend) *Store {
	return &Store{
		backend:       backend,
		staleness:     DefaultStaleness,
		logoutTimeout: DefaultLogoutTimeout,
		listeners:     make(map[int]Listener),
	}
}

// WithStaleness overrides the revalidation window.
func (s *Store) WithStaleness(d time.Duration) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staleness = d
	return s
}

// WithLogoutTimeout overrides the bound on the best-effort logout call.
func (s *Store) WithLogoutTimeout(d time.Duration) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logoutTimeout = d
	return s
}

// Current returns the cached session snapshot without touching the network.
func (s *Store) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// =============================================================================
// REFRESH
// =============================================================================

// Refresh revalidates the session against GET /me.
//
// Behavior:
//   - A session validated within the staleness window is returned as-is.
//   - Concurrent refreshes collapse to one in-flight request; late callers
//     wait for and share its result.
//   - A 401 is a clean transition to Unauthenticated, not an error.
//   - Transient failures are retried by the API client; if they exhaust,
//     the cached state is left untouched and the error is returned.
//   - A Clear or SetAuthenticated during the request wins: the refresh
//     result is discarded.
func (s *Store) Refresh(ctx context.Context) (Session, error) {
	s.mu.Lock()

	if s.session.Authenticated() && time.Since(s.session.CheckedAt) < s.staleness {
		sess := s.session
		s.mu.Unlock()
		return sess, nil
	}

	if call := s.inflight; call != nil {
		s.mu.Unlock()
		select {
		case <-call.done:
			return call.sess, call.err
		case <-ctx.Done():
			return s.Current(), ctx.Err()
		}
	}

	call := &refreshCall{done: make(chan struct{})}
	s.inflight = call
	gen := s.generation
	s.mu.Unlock()

	identity, err := s.backend.Me(ctx)

	s.mu.Lock()
	s.inflight = nil

	if s.generation != gen {
		// An explicit mutation (logout or login) happened mid-flight.
		// Its state is authoritative; this result is stale.
		call.sess = s.session
		s.mu.Unlock()
		close(call.done)
		return call.sess, nil
	}

	var changed, expired bool
	switch {
	case err == nil:
		changed = !s.session.Authenticated() || s.session.Identity.ID != identity.ID
		s.session = Session{
			Status:    StatusAuthenticated,
			Identity:  identity,
			CheckedAt: time.Now(),
		}
	case errors.Is(err, api.ErrUnauthorized) || errors.Is(err, api.ErrSessionExpired):
		changed = s.session.Status != StatusUnauthenticated
		expired = changed
		s.session = Session{Status: StatusUnauthenticated}
		err = nil
	default:
		// Transient failure: keep whatever we had, surface the error.
		call.sess = s.session
		call.err = err
		s.mu.Unlock()
		close(call.done)
		return call.sess, err
	}

	call.sess = s.session
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()
	close(call.done)

	if expired {
		audit.Global().LogSessionExpired("")
	}
	if changed {
		notify(listeners, call.sess)
	}
	return call.sess, nil
}

// =============================================================================
// MUTATIONS
// =============================================================================

// SetAuthenticated records a confirmed login. Synchronous and immediately
// observable; invalidates any in-flight refresh.
func (s *Store) SetAuthenticated(identity *api.Identity) {
	s.mu.Lock()
	s.generation++
	s.session = Session{
		Status:    StatusAuthenticated,
		Identity:  identity,
		CheckedAt: time.Now(),
	}
	sess := s.session
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	notify(listeners, sess)
}

// Clear drops the session locally. Synchronous and immediately observable;
// invalidates any in-flight refresh so a racing /me result cannot resurrect
// the session.
func (s *Store) Clear() {
	s.mu.Lock()
	s.generation++
	changed := s.session.Status != StatusUnauthenticated
	s.session = Session{Status: StatusUnauthenticated}
	sess := s.session
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	if changed {
		notify(listeners, sess)
	}
}

// Logout clears local state immediately, then attempts the backend logout
// best-effort with a bounded timeout. A slow or failed call never leaves the
// client believing it is still logged in.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	var userID string
	if s.session.Identity != nil {
		userID = s.session.Identity.ID
	}
	timeout := s.logoutTimeout
	s.mu.Unlock()

	s.Clear()
	audit.Global().LogLogout(userID)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.backend.Logout(ctx); err != nil {
		log.Printf("session: best-effort logout call failed: %v", err)
	}
}

// =============================================================================
// LISTENERS
// =============================================================================

// Subscribe registers a listener for session changes and returns an
// unsubscribe function. Listeners are called synchronously after each
// mutation, outside the store lock, in unspecified order.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextListen
	s.nextListen++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) snapshotListenersLocked() []Listener {
	out := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []Listener, sess Session) {
	for _, fn := range listeners {
		fn(sess)
	}
}
