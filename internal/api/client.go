// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api provides the HTTP client for the Storelink storefront API.
//
// Authentication is cookie-based: the backend issues an HTTP-only session
// cookie on login and the client carries it in a cookie jar. No bearer token
// is ever stored or sent by this package.
//
// API: Secure logging, retry logic, and response normalization
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

// Configuration constants for the storefront API.
const (
	// DefaultTimeout is the default timeout for API requests.
	DefaultTimeout = 15 * time.Second

	// DefaultMaxRetries is the default number of retry attempts for
	// idempotent requests that fail transiently.
	DefaultMaxRetries = 2

	// retryBaseDelay is the base delay for exponential backoff.
	retryBaseDelay = 500 * time.Millisecond

	// retryMaxDelay is the maximum delay for exponential backoff.
	retryMaxDelay = 5 * time.Second

	// MaxResponseSize is the maximum allowed response body size.
	// SECURITY: Response size limit prevents memory exhaustion attacks.
	MaxResponseSize = 1 * 1024 * 1024 // 1MB limit

	// defaultUserAgent identifies the client to the backend.
	defaultUserAgent = "storelink-tui"
)

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// The transport is shared between clients; cookie state lives in each
// client's jar, not in the transport.
var sharedTransport = &http.Transport{
	MaxIdleConns:        100,
	MaxIdleConnsPerHost: 10,
	IdleConnTimeout:     90 * time.Second,
	TLSHandshakeTimeout: 10 * time.Second,
	TLSClientConfig: &tls.Config{
		MinVersion: tls.VersionTLS12,
	},
}

// Error variables for common storefront API errors.
var (
	// ErrInvalidCredentials indicates the backend rejected the supplied
	// credentials (wrong email/password, bad OTP).
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnauthorized indicates the request had no valid session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSessionExpired indicates a previously valid session or login
	// challenge is no longer accepted by the backend.
	ErrSessionExpired = errors.New("session expired")

	// ErrMalformedResponse indicates the backend returned a payload the
	// client could not normalize into a canonical shape.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrRateLimited indicates too many requests were made.
	ErrRateLimited = errors.New("rate limited")
)

// APIError represents a structured error from the storefront API.
type APIError struct {
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("storefront error [%s] (HTTP %d): %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("storefront error (HTTP %d): %s", e.Status, e.Message)
}

// apiErrorResponse represents an error response body from the API.
type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// REQUEST / RESPONSE PAYLOADS
// =============================================================================

// LoginResult is the outcome of a password or OTP submission.
// Exactly one of Identity or TwoFactorRequired is meaningful: when the
// backend demands a second factor, Identity is nil and LoginSessionID
// carries the challenge handle.
type LoginResult struct {
	Identity          *Identity
	TwoFactorRequired bool
	LoginSessionID    string
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type verifyTwoFactorRequest struct {
	LoginSessionID string `json:"loginSessionId"`
	TwoFactorCode  string `json:"twoFactorCode"`
}

type verifyOTPRequest struct {
	LoginID       string `json:"loginId"`
	OTP           string `json:"otp"`
	Password      string `json:"password"`
	TwoFactorCode string `json:"twoFactorCode,omitempty"`
}

type registerDeviceRequest struct {
	Token      string            `json:"token"`
	Platform   string            `json:"platform"`
	DeviceInfo map[string]string `json:"deviceInfo,omitempty"`
}

// challengeEnvelope mirrors the 2FA-challenge branch of login responses.
type challengeEnvelope struct {
	Requires2FA    bool   `json:"requires2FA"`
	LoginSessionID string `json:"loginSessionId"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a client for the Storelink storefront API.
//
// The zero value is not usable; construct with NewClient. A Client is safe
// for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	maxRetries int
}

// NewClient creates a storefront API client for the given base URL.
//
// The client owns a cookie jar; the backend's HTTP-only session cookie is
// stored there for the lifetime of the client and never surfaced to callers.
func NewClient(baseURL string) *Client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		// cookiejar.New with nil options cannot fail today; guard anyway
		log.Printf("api: cookie jar init failed: %v", err)
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Jar:       jar,
			Transport: sharedTransport,
			Timeout:   DefaultTimeout,
		},
		userAgent:  defaultUserAgent,
		maxRetries: DefaultMaxRetries,
	}
}

// WithTimeout sets the request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.httpClient.Timeout = timeout
	return c
}

// WithMaxRetries sets the maximum number of retry attempts for idempotent
// requests.
func (c *Client) WithMaxRetries(maxRetries int) *Client {
	c.maxRetries = maxRetries
	return c
}

// WithUserAgent sets a custom User-Agent header.
func (c *Client) WithUserAgent(ua string) *Client {
	c.userAgent = ua
	return c
}

// WithHTTPClient replaces the underlying HTTP client. The cookie jar of the
// replacement is used as-is; primarily for tests.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// =============================================================================
// API: Request/Response Logging (without sensitive data)
// =============================================================================

// logRequest logs an API request without exposing sensitive data.
// API: Secure logging - never log headers (cookies) or bodies (credentials).
func (c *Client) logRequest(req *http.Request) {
	log.Printf("API Request: %s %s", req.Method, req.URL.Path)
}

// logResponse logs an API response with duration.
func (c *Client) logResponse(resp *http.Response, duration time.Duration) {
	log.Printf("API Response: %d %s (%v)", resp.StatusCode, resp.Status, duration)
}

// =============================================================================
// AUTH ENDPOINTS
// =============================================================================

// Login submits an email/password pair.
//
// On plain success the session cookie is set and the result carries the
// normalized Identity. When the account requires a second factor the result
// carries TwoFactorRequired and the login session handle instead; no session
// cookie exists yet in that case.
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	body, err := c.post(ctx, "/login", loginRequest{Email: email, Password: password})
	if err != nil {
		// On the login endpoint an auth rejection means bad credentials,
		// not a missing session.
		if errors.Is(err, ErrUnauthorized) {
			return nil, fmt.Errorf("%w: login rejected", ErrInvalidCredentials)
		}
		return nil, err
	}

	return c.parseLoginOutcome(body)
}

// VerifyTwoFactor completes a login challenge with a TOTP code.
//
// A 401 here means the login session the challenge belonged to is gone
// (expired or consumed); the caller must restart the flow.
func (c *Client) VerifyTwoFactor(ctx context.Context, loginSessionID, code string) (*Identity, error) {
	body, err := c.post(ctx, "/verify-2fa-login", verifyTwoFactorRequest{
		LoginSessionID: loginSessionID,
		TwoFactorCode:  code,
	})
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, fmt.Errorf("%w: login session no longer valid", ErrSessionExpired)
		}
		return nil, err
	}

	return normalizeIdentity(body)
}

// VerifyOTP completes the alternate OTP-based entry path (for example a
// registration-linked verification). The branching mirrors Login: plain
// success yields an Identity, or the backend may still demand a second
// factor.
func (c *Client) VerifyOTP(ctx context.Context, loginID, otp, password, twoFactorCode string) (*LoginResult, error) {
	body, err := c.post(ctx, "/verify-otp", verifyOTPRequest{
		LoginID:       loginID,
		OTP:           otp,
		Password:      password,
		TwoFactorCode: twoFactorCode,
	})
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, fmt.Errorf("%w: verification rejected", ErrInvalidCredentials)
		}
		return nil, err
	}

	return c.parseLoginOutcome(body)
}

// parseLoginOutcome decodes the two possible success shapes of login-style
// endpoints: a user payload or a 2FA challenge.
func (c *Client) parseLoginOutcome(body []byte) (*LoginResult, error) {
	var challenge challengeEnvelope
	if err := json.Unmarshal(body, &challenge); err == nil && challenge.Requires2FA {
		if challenge.LoginSessionID == "" {
			return nil, fmt.Errorf("%w: 2FA challenge without login session id", ErrMalformedResponse)
		}
		return &LoginResult{
			TwoFactorRequired: true,
			LoginSessionID:    challenge.LoginSessionID,
		}, nil
	}

	identity, err := normalizeIdentity(body)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Identity: identity}, nil
}

// =============================================================================
// SESSION ENDPOINTS
// =============================================================================

// Me revalidates the current session against the backend.
//
// A 401 is returned as ErrUnauthorized and is never retried: it is a
// definitive statement about the session, not a transient failure. Transient
// failures (5xx, network errors) are retried with exponential backoff up to
// the configured retry budget, since GET /me is idempotent.
func (c *Client) Me(ctx context.Context) (*Identity, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(calculateBackoff(attempt - 1)):
			}
		}

		body, err := c.do(ctx, http.MethodGet, "/me", nil)
		if err != nil {
			if !isRetryable(err) {
				return nil, err
			}
			lastErr = err
			continue
		}

		return normalizeIdentity(body)
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Logout invalidates the server-side session. Best-effort: callers clear
// local state regardless of the outcome.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.post(ctx, "/logout", struct{}{})
	return err
}

// =============================================================================
// DEVICE ENDPOINTS
// =============================================================================

// RegisterDevice binds a push token to the authenticated user. The backend
// treats re-registration of the same token as an update (last write wins),
// so the call is idempotent from the caller's perspective.
func (c *Client) RegisterDevice(ctx context.Context, token, platform string, deviceInfo map[string]string) error {
	_, err := c.post(ctx, "/notifications/register-device", registerDeviceRequest{
		Token:      token,
		Platform:   platform,
		DeviceInfo: deviceInfo,
	})
	return err
}

// UnregisterDevice removes the device binding for the current session.
func (c *Client) UnregisterDevice(ctx context.Context) error {
	_, err := c.post(ctx, "/notifications/unregister-device", struct{}{})
	return err
}

// =============================================================================
// TRANSPORT
// =============================================================================

// post performs a JSON POST and returns the response body.
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, payload)
}

// do performs a single HTTP request and classifies the response.
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyBytes, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	c.logRequest(req)

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	c.logResponse(resp, duration)

	// SECURITY: Read response with size limit to prevent memory exhaustion
	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, handleErrorResponse(resp.StatusCode, body)
	}

	return body, nil
}

// readResponse reads the response body with size limits.
//
// SECURITY: Response size limit prevents memory exhaustion attacks.
func readResponse(resp *http.Response) ([]byte, error) {
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if int64(len(body)) == MaxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", MaxResponseSize)
	}

	return body, nil
}

// handleErrorResponse converts HTTP error responses to Go errors.
// Classification happens here and only here; endpoint methods refine the
// generic sentinels into flow-specific ones where the context demands it.
func handleErrorResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		structured := &APIError{
			Code:    apiErr.Error.Code,
			Message: apiErr.Error.Message,
			Status:  statusCode,
		}

		switch statusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, structured.Message)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %s", ErrRateLimited, structured.Message)
		default:
			return structured
		}
	}

	// Fallback for unparseable error responses
	switch statusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return &APIError{
			Message: strings.TrimSpace(string(body)),
			Status:  statusCode,
		}
	}
}

// isRetryable determines if an error should trigger a retry.
// Auth rejections are definitive; only server errors, rate limiting and
// network failures count as transient.
func isRetryable(err error) bool {
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrMalformedResponse) {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if errors.Is(err, ErrRateLimited) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 && apiErr.Status < 600
	}

	// Network-level failures (connection refused, resets)
	return true
}

// calculateBackoff returns the delay to wait before the next retry.
func calculateBackoff(attempt int) time.Duration {
	// Exponential backoff: 500ms, 1000ms, 2000ms, etc.
	delay := retryBaseDelay * time.Duration(1<<uint(attempt))
	if delay > retryMaxDelay {
		delay = retryMaxDelay
	}
	return delay
}
