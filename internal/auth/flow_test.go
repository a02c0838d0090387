// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/storelink-tui/internal/api"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeAuthenticator struct {
	mu sync.Mutex

	loginCalls  int
	verifyCalls int
	otpCalls    int

	lastEmail     string
	lastSessionID string
	lastCode      string

	loginFunc  func(email, password string) (*api.LoginResult, error)
	verifyFunc func(sessionID, code string) (*api.Identity, error)
	otpFunc    func(loginID, otp, password, twoFactorCode string) (*api.LoginResult, error)
}

func (f *fakeAuthenticator) Login(ctx context.Context, email, password string) (*api.LoginResult, error) {
	f.mu.Lock()
	f.loginCalls++
	f.lastEmail = email
	fn := f.loginFunc
	f.mu.Unlock()
	if fn == nil {
		return &api.LoginResult{Identity: &api.Identity{ID: "u1"}}, nil
	}
	return fn(email, password)
}

func (f *fakeAuthenticator) VerifyTwoFactor(ctx context.Context, sessionID, code string) (*api.Identity, error) {
	f.mu.Lock()
	f.verifyCalls++
	f.lastSessionID = sessionID
	f.lastCode = code
	fn := f.verifyFunc
	f.mu.Unlock()
	if fn == nil {
		return &api.Identity{ID: "u1"}, nil
	}
	return fn(sessionID, code)
}

func (f *fakeAuthenticator) VerifyOTP(ctx context.Context, loginID, otp, password, twoFactorCode string) (*api.LoginResult, error) {
	f.mu.Lock()
	f.otpCalls++
	fn := f.otpFunc
	f.mu.Unlock()
	if fn == nil {
		return &api.LoginResult{Identity: &api.Identity{ID: "u1"}}, nil
	}
	return fn(loginID, otp, password, twoFactorCode)
}

type fakeStore struct {
	mu       sync.Mutex
	identity *api.Identity
	calls    int
}

func (f *fakeStore) SetAuthenticated(identity *api.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.identity = identity
	f.calls++
}

func newTestFlow() (*Flow, *fakeAuthenticator, *fakeStore, *int) {
	client := &fakeAuthenticator{}
	store := &fakeStore{}
	invalidations := 0
	flow := NewFlow(client, store).WithInvalidator(func() { invalidations++ })
	return flow, client, store, &invalidations
}

// =============================================================================
// PASSWORD PATH
// =============================================================================

func TestSubmitPassword_PlainSuccess(t *testing.T) {
	flow, client, store, invalidations := newTestFlow()

	err := flow.SubmitPassword(context.Background(), "user@x.com", "validpass1")
	require.NoError(t, err)

	require.Equal(t, StateSuccess, flow.State())
	require.Equal(t, 1, client.loginCalls)
	require.Equal(t, "u1", store.identity.ID)
	require.Equal(t, 1, *invalidations)
}

func TestSubmitPassword_TwoFactorChallenge(t *testing.T) {
	flow, client, store, _ := newTestFlow()
	client.loginFunc = func(email, password string) (*api.LoginResult, error) {
		return &api.LoginResult{TwoFactorRequired: true, LoginSessionID: "abc123"}, nil
	}

	err := flow.SubmitPassword(context.Background(), "user@x.com", "validpass1")
	require.NoError(t, err)

	require.Equal(t, StateTwoFactorRequired, flow.State())
	require.Equal(t, "abc123", flow.LoginSessionID())
	// Store untouched until the code is verified
	require.Nil(t, store.identity)
}

func TestSubmitPassword_InvalidEmail_NoNetwork(t *testing.T) {
	flow, client, _, _ := newTestFlow()

	err := flow.SubmitPassword(context.Background(), "not-an-email", "validpass1")

	var ferr *FlowError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, KindInvalidInput, ferr.Kind)
	require.Equal(t, 0, client.loginCalls)
}

func TestSubmitPassword_EmptyPassword_NoNetwork(t *testing.T) {
	flow, client, _, _ := newTestFlow()

	err := flow.SubmitPassword(context.Background(), "user@x.com", "")

	var ferr *FlowError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, KindInvalidInput, ferr.Kind)
	require.Equal(t, 0, client.loginCalls)
}

func TestSubmitPassword_InvalidCredentials(t *testing.T) {
	flow, client, _, _ := newTestFlow()
	client.loginFunc = func(email, password string) (*api.LoginResult, error) {
		return nil, api.ErrInvalidCredentials
	}

	err := flow.SubmitPassword(context.Background(), "user@x.com", "wrongpass")

	var ferr *FlowError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, KindInvalidCredentials, ferr.Kind)
	require.Equal(t, StateFailed, flow.State())
	require.NotEmpty(t, ferr.Error())
}

func TestSubmitPassword_MalformedResponse(t *testing.T) {
	flow, client, _, _ := newTestFlow()
	client.loginFunc = func(email, password string) (*api.LoginResult, error) {
		return nil, api.ErrMalformedResponse
	}

	err := flow.SubmitPassword(context.Background(), "user@x.com", "validpass1")

	var ferr *FlowError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, KindMalformedResponse, ferr.Kind)
}

func TestSubmitPassword_NormalizesNFC(t *testing.T) {
	flow, client, _, _ := newTestFlow()

	// Entered as e + combining acute accent; the client must see the
	// precomposed form
	err := flow.SubmitPassword(context.Background(), "jose\u0301@x.com", "validpass1")
	require.NoError(t, err)
	require.Equal(t, "jos\u00e9@x.com", client.lastEmail)
}

// =============================================================================
// TWO-FACTOR PATH
// =============================================================================

func TestFullTwoFactorScenario(t *testing.T) {
	flow, client, store, invalidations := newTestFlow()
	client.loginFunc = func(email, password string) (*api.LoginResult, error) {
		return &api.LoginResult{TwoFactorRequired: true, LoginSessionID: "abc123"}, nil
	}
	client.verifyFunc = func(sessionID, code string) (*api.Identity, error) {
		return &api.Identity{ID: "u1", TwoFactorEnabled: true}, nil
	}

	require.NoError(t, flow.SubmitPassword(context.Background(), "user@x.com", "validpass1"))
	require.Equal(t, StateTwoFactorRequired, flow.State())

	require.NoError(t, flow.SubmitTwoFactor(context.Background(), "123456"))

	require.Equal(t, StateSuccess, flow.State())
	require.Equal(t, "abc123", client.lastSessionID)
	require.Equal(t, "123456", client.lastCode)
	require.Equal(t, "u1", store.identity.ID)
	require.Equal(t, 1, *invalidations)
	require.Empty(t, flow.LoginSessionID())
}

func TestSubmitTwoFactor_NoChallenge_NoNetwork(t *testing.T) {
	flow, client, _, _ := newTestFlow()

	err := flow.SubmitTwoFactor(context.Background(), "123456")

	var ferr *FlowError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, KindSessionExpired, ferr.Kind)
	require.Equal(t, 0, client.verifyCalls)
}

func TestSubmitTwoFactor_BadCodeShape_NoNetwork(t *testing.T) {
	flow, client, _, _ := newTestFlow()

	for _, code := range []string{"", "12345", "1234567", "12345a"} {
		err := flow.SubmitTwoFactor(context.Background(), code)
		var ferr *FlowError
		require.ErrorAs(t, err, &ferr)
		require.Equal(t, KindInvalidInput, ferr.Kind)
	}
	require.Equal(t, 0, client.verifyCalls)
}

func TestSubmitTwoFactor_DeadChallengeDiscardsSessionID(t *testing.T) {
	flow, client, _, _ := newTestFlow()
	client.loginFunc = func(email, password string) (*api.LoginResult, error) {
		return &api.LoginResult{TwoFactorRequired: true, LoginSessionID: "abc123"}, nil
	}
	client.verifyFunc = func(sessionID, code string) (*api.Identity, error) {
		return nil, api.ErrSessionExpired
	}

	require.NoError(t, flow.SubmitPassword(context.Background(), "user@x.com", "validpass1"))

	err := flow.SubmitTwoFactor(context.Background(), "123456")
	var ferr *FlowError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, KindSessionExpired, ferr.Kind)
	require.Empty(t, flow.LoginSessionID())
}

// =============================================================================
// OTP PATH
// =============================================================================

func TestSubmitOtp_Success(t *testing.T) {
	flow, _, store, invalidations := newTestFlow()
	flow.RequestOtp()
	require.Equal(t, StateOtpRequested, flow.State())

	err := flow.SubmitOtp(context.Background(), "user@x.com", "998877", "validpass1", "")
	require.NoError(t, err)

	require.Equal(t, StateSuccess, flow.State())
	require.Equal(t, "u1", store.identity.ID)
	require.Equal(t, 1, *invalidations)
}

func TestSubmitOtp_CanStillRequireTwoFactor(t *testing.T) {
	flow, client, _, _ := newTestFlow()
	client.otpFunc = func(loginID, otp, password, twoFactorCode string) (*api.LoginResult, error) {
		return &api.LoginResult{TwoFactorRequired: true, LoginSessionID: "xyz789"}, nil
	}

	err := flow.SubmitOtp(context.Background(), "user@x.com", "998877", "validpass1", "")
	require.NoError(t, err)

	require.Equal(t, StateTwoFactorRequired, flow.State())
	require.Equal(t, "xyz789", flow.LoginSessionID())
}

func TestSubmitOtp_EmptyOtp_NoNetwork(t *testing.T) {
	flow, client, _, _ := newTestFlow()

	err := flow.SubmitOtp(context.Background(), "user@x.com", "", "validpass1", "")

	var ferr *FlowError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, KindInvalidInput, ferr.Kind)
	require.Equal(t, 0, client.otpCalls)
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancel_DiscardsChallenge(t *testing.T) {
	flow, client, _, _ := newTestFlow()
	client.loginFunc = func(email, password string) (*api.LoginResult, error) {
		return &api.LoginResult{TwoFactorRequired: true, LoginSessionID: "abc123"}, nil
	}

	require.NoError(t, flow.SubmitPassword(context.Background(), "user@x.com", "validpass1"))
	flow.Cancel()

	require.Equal(t, StateIdle, flow.State())
	require.Empty(t, flow.LoginSessionID())

	// The discarded challenge is unusable afterwards
	err := flow.SubmitTwoFactor(context.Background(), "123456")
	var ferr *FlowError
	require.ErrorAs(t, err, &ferr)
	require.Equal(t, KindSessionExpired, ferr.Kind)
}
