// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// IDENTITY
// =============================================================================

// Identity is the canonical authenticated-user record used throughout the
// client. Everything downstream of the API boundary sees only this shape.
type Identity struct {
	ID               string `json:"id"`
	Role             string `json:"role"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled"`
	HasPIN           bool   `json:"hasPin"`
}

// rawUser mirrors the wire representation of a user object.
type rawUser struct {
	ID               string `json:"id"`
	Role             string `json:"role"`
	TwoFactorEnabled bool   `json:"twoFactorEnabled"`
	HasPIN           bool   `json:"hasPin"`
}

// userEnvelope covers the envelope shapes the backend has been observed to
// produce for user-bearing responses.
type userEnvelope struct {
	User *rawUser `json:"user"`
	Data *struct {
		User *rawUser `json:"user"`
	} `json:"data"`
}

// normalizeIdentity extracts a canonical Identity from a response body.
//
// The backend wraps user payloads inconsistently: some endpoints return
// {user: {...}}, some {data: {user: {...}}}, and some a bare user object.
// This is the single place that tolerance lives; every caller receives
// either a canonical Identity with a non-empty ID or ErrMalformedResponse.
func normalizeIdentity(body []byte) (*Identity, error) {
	var env userEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		if env.User != nil && env.User.ID != "" {
			return identityFromRaw(env.User), nil
		}
		if env.Data != nil && env.Data.User != nil && env.Data.User.ID != "" {
			return identityFromRaw(env.Data.User), nil
		}
	}

	// Bare user object
	var bare rawUser
	if err := json.Unmarshal(body, &bare); err == nil && bare.ID != "" {
		return identityFromRaw(&bare), nil
	}

	return nil, fmt.Errorf("%w: no user id in response", ErrMalformedResponse)
}

func identityFromRaw(u *rawUser) *Identity {
	return &Identity{
		ID:               u.ID,
		Role:             u.Role,
		TwoFactorEnabled: u.TwoFactorEnabled,
		HasPIN:           u.HasPIN,
	}
}
