// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth implements the credential submission state machine that sits
// between the UI and the storefront API client.
//
// The flow owns the transient login session ID handed out by the backend for
// two-factor challenges, validates input locally before any network call,
// and guarantees that every successful login both updates the session store
// and invalidates user-scoped caches.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/jeranaias/storelink-tui/internal/api"
	"github.com/jeranaias/storelink-tui/internal/audit"
)

// =============================================================================
// STATES
// =============================================================================

// State is the current position in the credential flow.
type State int

const (
	// StateIdle means no submission is in progress.
	StateIdle State = iota

	// StatePasswordSubmitting means a password login is in flight.
	StatePasswordSubmitting

	// StateTwoFactorRequired means the backend issued a 2FA challenge.
	StateTwoFactorRequired

	// StateTwoFactorSubmitting means a 2FA code is in flight.
	StateTwoFactorSubmitting

	// StateOtpRequested means the flow is waiting for an OTP submission.
	StateOtpRequested

	// StateOtpSubmitting means an OTP verification is in flight.
	StateOtpSubmitting

	// StateSuccess means the session store holds a confirmed identity.
	StateSuccess

	// StateFailed means the last submission failed; input may be retried.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePasswordSubmitting:
		return "password_submitting"
	case StateTwoFactorRequired:
		return "two_factor_required"
	case StateTwoFactorSubmitting:
		return "two_factor_submitting"
	case StateOtpRequested:
		return "otp_requested"
	case StateOtpSubmitting:
		return "otp_submitting"
	case StateSuccess:
		return "success"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// =============================================================================
// ERRORS
// =============================================================================

// Kind classifies a flow error for the UI layer.
type Kind int

const (
	// KindInvalidInput means local validation rejected the input.
	KindInvalidInput Kind = iota

	// KindInvalidCredentials means the backend rejected the credentials.
	KindInvalidCredentials

	// KindSessionExpired means the login challenge is no longer valid.
	KindSessionExpired

	// KindMalformedResponse means the backend payload was unusable.
	KindMalformedResponse

	// KindNetworkFailure means the request did not complete.
	KindNetworkFailure
)

// FlowError is a classified, user-displayable flow failure.
type FlowError struct {
	Kind    Kind
	Message string // safe to show to the user
	err     error  // underlying cause, for logs
}

// Error returns the user-displayable message.
func (e *FlowError) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *FlowError) Unwrap() error {
	return e.err
}

func invalidInput(msg string) *FlowError {
	return &FlowError{Kind: KindInvalidInput, Message: msg}
}

// classify maps an API client error onto the flow taxonomy. Unclassified
// errors are logged with context and surfaced as a generic retry message.
func classify(err error, context string) *FlowError {
	switch {
	case errors.Is(err, api.ErrInvalidCredentials):
		return &FlowError{Kind: KindInvalidCredentials, Message: "Invalid email or password.", err: err}
	case errors.Is(err, api.ErrSessionExpired):
		return &FlowError{Kind: KindSessionExpired, Message: "Your login session expired. Please sign in again.", err: err}
	case errors.Is(err, api.ErrMalformedResponse):
		return &FlowError{Kind: KindMalformedResponse, Message: "The server returned an unexpected response.", err: err}
	case errors.Is(err, api.ErrRateLimited):
		return &FlowError{Kind: KindNetworkFailure, Message: "Too many attempts. Please wait a moment and try again.", err: err}
	default:
		log.Printf("auth: unclassified error during %s: %v", context, err)
		return &FlowError{Kind: KindNetworkFailure, Message: "Something went wrong. Please try again.", err: err}
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	codePattern  = regexp.MustCompile(`^\d{6}$`)
)

// normalize applies NFC so visually identical credentials compare equal
// regardless of how the terminal composed them.
func normalize(s string) string {
	return norm.NFC.String(s)
}

// =============================================================================
// FLOW
// =============================================================================

// Authenticator is the slice of the API client the flow depends on.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*api.LoginResult, error)
	VerifyTwoFactor(ctx context.Context, loginSessionID, code string) (*api.Identity, error)
	VerifyOTP(ctx context.Context, loginID, otp, password, twoFactorCode string) (*api.LoginResult, error)
}

// SessionSetter receives the confirmed identity on success.
type SessionSetter interface {
	SetAuthenticated(identity *api.Identity)
}

// Flow is the credential submission state machine. Safe for concurrent use;
// no lock is held across a network call. In-flight results are discarded if
// Cancel lands first.
type Flow struct {
	mu sync.Mutex

	client Authenticator
	store  SessionSetter

	// invalidate drops user-scoped caches (profile, notifications) on
	// every success. Must run on every path that reaches StateSuccess.
	invalidate func()

	state          State
	loginSessionID string
	lastErr        *FlowError
}

// NewFlow creates a credential flow over the given client and store.
func NewFlow(client Authenticator, store SessionSetter) *Flow {
	return &Flow{
		client:     client,
		store:      store,
		invalidate: func() {},
	}
}

// WithInvalidator sets the cache invalidation hook run on every success.
func (f *Flow) WithInvalidator(fn func()) *Flow {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fn != nil {
		f.invalidate = fn
	}
	return f
}

// State returns the current flow state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// LastError returns the error recorded by the most recent failure, or nil.
func (f *Flow) LastError() *FlowError {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// LoginSessionID returns the live 2FA challenge ID, empty if none.
func (f *Flow) LoginSessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginSessionID
}

// Cancel returns the flow to Idle and discards any login session ID.
func (f *Flow) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateIdle
	f.loginSessionID = ""
	f.lastErr = nil
}

// RequestOtp moves the flow to the OTP entry path (registration-linked
// verification) without touching the network.
func (f *Flow) RequestOtp() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateOtpRequested
	f.loginSessionID = ""
	f.lastErr = nil
}

// =============================================================================
// SUBMISSIONS
// =============================================================================

// SubmitPassword validates and submits an email/password login.
//
// On a plain success the flow reaches StateSuccess with the store updated.
// If the backend requires 2FA the flow moves to StateTwoFactorRequired and
// holds the challenge's login session ID for SubmitTwoFactor.
func (f *Flow) SubmitPassword(ctx context.Context, email, password string) error {
	email = normalize(email)
	password = normalize(password)

	if !emailPattern.MatchString(email) {
		return f.failLocal(invalidInput("Enter a valid email address."))
	}
	if password == "" {
		return f.failLocal(invalidInput("Enter your password."))
	}

	f.mu.Lock()
	if f.state == StatePasswordSubmitting || f.state == StateTwoFactorSubmitting || f.state == StateOtpSubmitting {
		f.mu.Unlock()
		return invalidInput("A sign-in attempt is already in progress.")
	}
	f.state = StatePasswordSubmitting
	f.lastErr = nil
	f.mu.Unlock()

	result, err := f.client.Login(ctx, email, password)
	if err != nil {
		audit.Global().LogLoginFailed(err.Error())
		return f.fail(StatePasswordSubmitting, classify(err, "password login"))
	}

	return f.resolveLogin(StatePasswordSubmitting, result)
}

// SubmitTwoFactor validates and submits a 6-digit 2FA code.
//
// Requires a live login session ID from a prior challenge; without one it
// fails with the session-expired kind and never touches the network.
func (f *Flow) SubmitTwoFactor(ctx context.Context, code string) error {
	code = normalize(code)

	if !codePattern.MatchString(code) {
		return f.failLocal(invalidInput("Enter the 6-digit code."))
	}

	f.mu.Lock()
	if f.loginSessionID == "" {
		// Challenge already consumed or never issued. The caller must
		// restart from Idle.
		ferr := &FlowError{
			Kind:    KindSessionExpired,
			Message: "Your login session expired. Please sign in again.",
			err:     api.ErrSessionExpired,
		}
		f.state = StateFailed
		f.lastErr = ferr
		f.mu.Unlock()
		return ferr
	}
	sessionID := f.loginSessionID
	f.state = StateTwoFactorSubmitting
	f.lastErr = nil
	f.mu.Unlock()

	identity, err := f.client.VerifyTwoFactor(ctx, sessionID, code)
	if err != nil {
		ferr := classify(err, "two-factor verify")
		if ferr.Kind == KindSessionExpired {
			// Challenge is dead; discard it so a retry restarts cleanly
			f.mu.Lock()
			f.loginSessionID = ""
			f.mu.Unlock()
		}
		audit.Global().LogLoginFailed(err.Error())
		return f.fail(StateTwoFactorSubmitting, ferr)
	}

	return f.succeed(StateTwoFactorSubmitting, identity)
}

// SubmitOtp submits the alternate OTP verification path. The optional
// twoFactorCode may be empty; the backend can still answer with a 2FA
// challenge, which moves the flow to StateTwoFactorRequired.
func (f *Flow) SubmitOtp(ctx context.Context, loginID, otp, password, twoFactorCode string) error {
	loginID = normalize(loginID)
	otp = normalize(otp)
	password = normalize(password)
	twoFactorCode = normalize(twoFactorCode)

	if loginID == "" {
		return f.failLocal(invalidInput("Enter your email or phone number."))
	}
	if otp == "" {
		return f.failLocal(invalidInput("Enter the one-time code."))
	}
	if twoFactorCode != "" && !codePattern.MatchString(twoFactorCode) {
		return f.failLocal(invalidInput("Enter the 6-digit code."))
	}

	f.mu.Lock()
	if f.state == StatePasswordSubmitting || f.state == StateTwoFactorSubmitting || f.state == StateOtpSubmitting {
		f.mu.Unlock()
		return invalidInput("A sign-in attempt is already in progress.")
	}
	f.state = StateOtpSubmitting
	f.lastErr = nil
	f.mu.Unlock()

	result, err := f.client.VerifyOTP(ctx, loginID, otp, password, twoFactorCode)
	if err != nil {
		audit.Global().LogLoginFailed(err.Error())
		return f.fail(StateOtpSubmitting, classify(err, "otp verify"))
	}

	return f.resolveLogin(StateOtpSubmitting, result)
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// resolveLogin handles the shared success/challenge branching of the
// password and OTP entry paths.
func (f *Flow) resolveLogin(from State, result *api.LoginResult) error {
	if result.TwoFactorRequired {
		f.mu.Lock()
		if f.state != from {
			// Cancelled mid-flight; the challenge is discarded
			f.mu.Unlock()
			return nil
		}
		f.state = StateTwoFactorRequired
		f.loginSessionID = result.LoginSessionID
		f.mu.Unlock()
		return nil
	}
	return f.succeed(from, result.Identity)
}

// succeed finalizes a login. Every path into StateSuccess runs through
// here: the store update and the cache invalidation are inseparable.
func (f *Flow) succeed(from State, identity *api.Identity) error {
	f.mu.Lock()
	if f.state != from {
		f.mu.Unlock()
		return nil
	}
	f.state = StateSuccess
	f.loginSessionID = ""
	f.lastErr = nil
	invalidate := f.invalidate
	f.mu.Unlock()

	f.store.SetAuthenticated(identity)
	invalidate()
	audit.Global().LogLogin(identity.ID)
	return nil
}

// fail records a remote failure if the flow is still in the submitting
// state it started from. A Cancel that landed mid-flight wins.
func (f *Flow) fail(from State, ferr *FlowError) error {
	f.mu.Lock()
	if f.state != from {
		f.mu.Unlock()
		return nil
	}
	f.state = StateFailed
	f.lastErr = ferr
	f.mu.Unlock()
	return ferr
}

// failLocal records a validation failure without a state machine guard;
// local validation happens before any transition.
func (f *Flow) failLocal(ferr *FlowError) error {
	f.mu.Lock()
	f.lastErr = ferr
	f.mu.Unlock()
	return ferr
}

// =============================================================================
// HELPERS
// =============================================================================

// Describe returns a short diagnostic string for logs.
func (f *Flow) Describe() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	challenge := "none"
	if f.loginSessionID != "" {
		challenge = "live"
	}
	return fmt.Sprintf("state=%s challenge=%s", f.state, challenge)
}
