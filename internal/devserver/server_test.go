// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package devserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// HELPERS
// =============================================================================

func newTestServer(t *testing.T) (*Store, *httptest.Server, *http.Client) {
	t.Helper()

	store, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := NewServer(0, store)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	client := &http.Client{Jar: jar, Timeout: 5 * time.Second}

	return store, ts, client
}

func postJSON(t *testing.T, client *http.Client, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := client.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func seedUser(t *testing.T, store *Store, u User) {
	t.Helper()
	require.NoError(t, store.CreateUser(u))
}

// =============================================================================
// LOGIN
// =============================================================================

func TestLogin_PlainSuccess(t *testing.T) {
	store, ts, client := newTestServer(t)
	seedUser(t, store, User{ID: "u1", Email: "user@x.com", Password: "validpass1"})

	resp := postJSON(t, client, ts.URL+"/login", map[string]string{
		"email": "user@x.com", "password": "validpass1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	user := body["user"].(map[string]any)
	require.Equal(t, "u1", user["id"])
	require.Equal(t, false, user["twoFactorEnabled"])

	// Session cookie carries auth from here on
	me, err := client.Get(ts.URL + "/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, me.StatusCode)
	me.Body.Close()
}

func TestLogin_ReportsPINAndRole(t *testing.T) {
	store, ts, client := newTestServer(t)
	seedUser(t, store, User{
		ID: "u1", Email: "user@x.com", Password: "validpass1",
		Role: "admin", HasPIN: true,
	})

	resp := postJSON(t, client, ts.URL+"/login", map[string]string{
		"email": "user@x.com", "password": "validpass1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	user := body["user"].(map[string]any)
	require.Equal(t, "admin", user["role"])
	require.Equal(t, true, user["hasPin"])

	// Same fields round-trip through /me
	me, err := client.Get(ts.URL + "/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, me.StatusCode)
	meBody := decodeBody(t, me)
	meUser := meBody["user"].(map[string]any)
	require.Equal(t, true, meUser["hasPin"])
}

func TestLogin_WrongPassword(t *testing.T) {
	store, ts, client := newTestServer(t)
	seedUser(t, store, User{ID: "u1", Email: "user@x.com", Password: "validpass1"})

	resp := postJSON(t, client, ts.URL+"/login", map[string]string{
		"email": "user@x.com", "password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decodeBody(t, resp)
	errObj := body["error"].(map[string]any)
	require.Equal(t, "INVALID_CREDENTIALS", errObj["code"])
}

func TestLogin_RateLimited(t *testing.T) {
	store, ts, client := newTestServer(t)
	seedUser(t, store, User{ID: "u1", Email: "user@x.com", Password: "validpass1"})

	var last int
	for i := 0; i < loginBurst+1; i++ {
		resp := postJSON(t, client, ts.URL+"/login", map[string]string{
			"email": "user@x.com", "password": "wrong",
		})
		last = resp.StatusCode
		resp.Body.Close()
	}
	require.Equal(t, http.StatusTooManyRequests, last)
}

// =============================================================================
// TWO-FACTOR
// =============================================================================

func seedTOTPUser(t *testing.T, store *Store) (email, secret string) {
	t.Helper()
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "storelink-dev",
		AccountName: "2fa@x.com",
	})
	require.NoError(t, err)
	seedUser(t, store, User{
		ID: "u2", Email: "2fa@x.com", Password: "validpass1", TOTPSecret: key.Secret(),
	})
	return "2fa@x.com", key.Secret()
}

func TestLogin_TwoFactorFlow(t *testing.T) {
	store, ts, client := newTestServer(t)
	email, secret := seedTOTPUser(t, store)

	resp := postJSON(t, client, ts.URL+"/login", map[string]string{
		"email": email, "password": "validpass1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, true, body["requires2FA"])
	challengeID := body["loginSessionId"].(string)
	require.NotEmpty(t, challengeID)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)

	resp = postJSON(t, client, ts.URL+"/verify-2fa-login", map[string]string{
		"loginSessionId": challengeID, "twoFactorCode": code,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	user := body["user"].(map[string]any)
	require.Equal(t, "u2", user["id"])
	require.Equal(t, true, user["twoFactorEnabled"])

	me, err := client.Get(ts.URL + "/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, me.StatusCode)
	me.Body.Close()
}

func TestVerifyTwoFactor_ChallengeIsOneShot(t *testing.T) {
	store, ts, client := newTestServer(t)
	email, secret := seedTOTPUser(t, store)

	resp := postJSON(t, client, ts.URL+"/login", map[string]string{
		"email": email, "password": "validpass1",
	})
	challengeID := decodeBody(t, resp)["loginSessionId"].(string)

	// Wrong code consumes the challenge
	resp = postJSON(t, client, ts.URL+"/verify-2fa-login", map[string]string{
		"loginSessionId": challengeID, "twoFactorCode": "000000",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Even the right code fails now
	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	resp = postJSON(t, client, ts.URL+"/verify-2fa-login", map[string]string{
		"loginSessionId": challengeID, "twoFactorCode": code,
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	errObj := decodeBody(t, resp)["error"].(map[string]any)
	require.Equal(t, "SESSION_EXPIRED", errObj["code"])
}

// =============================================================================
// OTP
// =============================================================================

func TestVerifyOTP_SuccessAndNoReplay(t *testing.T) {
	store, ts, client := newTestServer(t)
	seedUser(t, store, User{
		ID: "u3", Email: "new@x.com", Password: "validpass1", OTPCode: "998877",
	})

	resp := postJSON(t, client, ts.URL+"/verify-otp", map[string]string{
		"loginId": "new@x.com", "otp": "998877", "password": "validpass1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user := decodeBody(t, resp)["user"].(map[string]any)
	require.Equal(t, "u3", user["id"])

	// The code is single use
	resp = postJSON(t, client, ts.URL+"/verify-otp", map[string]string{
		"loginId": "new@x.com", "otp": "998877", "password": "validpass1",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

// =============================================================================
// SESSION
// =============================================================================

func TestMe_WithoutSession(t *testing.T) {
	_, ts, client := newTestServer(t)

	resp, err := client.Get(ts.URL + "/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	errObj := decodeBody(t, resp)["error"].(map[string]any)
	require.Equal(t, "UNAUTHORIZED", errObj["code"])
}

func TestLogout_InvalidatesSession(t *testing.T) {
	store, ts, client := newTestServer(t)
	seedUser(t, store, User{ID: "u1", Email: "user@x.com", Password: "validpass1"})

	resp := postJSON(t, client, ts.URL+"/login", map[string]string{
		"email": "user@x.com", "password": "validpass1",
	})
	resp.Body.Close()

	resp = postJSON(t, client, ts.URL+"/logout", map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	me, err := client.Get(ts.URL + "/me")
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, me.StatusCode)
	me.Body.Close()
}

// =============================================================================
// DEVICES
// =============================================================================

func loginAs(t *testing.T, ts *httptest.Server, client *http.Client, email, password string) {
	t.Helper()
	resp := postJSON(t, client, ts.URL+"/login", map[string]string{
		"email": email, "password": password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestRegisterDevice_LastWriteWins(t *testing.T) {
	store, ts, client := newTestServer(t)
	seedUser(t, store, User{ID: "u1", Email: "user@x.com", Password: "validpass1"})
	loginAs(t, ts, client, "user@x.com", "validpass1")

	for i := 0; i < 2; i++ {
		resp := postJSON(t, client, ts.URL+"/notifications/register-device", map[string]any{
			"token": "tok-1", "platform": "terminal-linux",
			"deviceInfo": map[string]string{"os": "linux"},
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	count, err := store.DeviceCount()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRegisterDevice_RebindsToNewUser(t *testing.T) {
	store, ts, client := newTestServer(t)
	seedUser(t, store, User{ID: "u1", Email: "a@x.com", Password: "validpass1"})
	seedUser(t, store, User{ID: "u2", Email: "b@x.com", Password: "validpass1"})

	loginAs(t, ts, client, "a@x.com", "validpass1")
	resp := postJSON(t, client, ts.URL+"/notifications/register-device", map[string]any{
		"token": "tok-1", "platform": "terminal-linux",
	})
	resp.Body.Close()

	loginAs(t, ts, client, "b@x.com", "validpass1")
	resp = postJSON(t, client, ts.URL+"/notifications/register-device", map[string]any{
		"token": "tok-1", "platform": "terminal-linux",
	})
	resp.Body.Close()

	count, err := store.DeviceCount()
	require.NoError(t, err)
	require.Equal(t, 1, count)

	devices, err := store.DevicesForUser("u2")
	require.NoError(t, err)
	require.Len(t, devices, 1)
}

func TestUnregisterDevice_RemovesBindings(t *testing.T) {
	store, ts, client := newTestServer(t)
	seedUser(t, store, User{ID: "u1", Email: "user@x.com", Password: "validpass1"})
	loginAs(t, ts, client, "user@x.com", "validpass1")

	resp := postJSON(t, client, ts.URL+"/notifications/register-device", map[string]any{
		"token": "tok-1", "platform": "terminal-linux",
	})
	resp.Body.Close()

	resp = postJSON(t, client, ts.URL+"/notifications/unregister-device", map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	count, err := store.DeviceCount()
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestRegisterDevice_RequiresSession(t *testing.T) {
	_, ts, client := newTestServer(t)

	resp := postJSON(t, client, ts.URL+"/notifications/register-device", map[string]any{
		"token": "tok-1",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}
