// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"
)

func TestNavigator_PushPop(t *testing.T) {
	nav := NewNavigator(ScreenLogin)
	require.Equal(t, ScreenLogin, nav.Current())
	require.Equal(t, 1, nav.Depth())

	nav.Push(ScreenTwoFactor)
	require.Equal(t, ScreenTwoFactor, nav.Current())
	require.Equal(t, 2, nav.Depth())

	nav.Pop()
	require.Equal(t, ScreenLogin, nav.Current())
}

func TestNavigator_RootNeverPopped(t *testing.T) {
	nav := NewNavigator(ScreenLogin)
	nav.Pop()
	nav.Pop()
	require.Equal(t, ScreenLogin, nav.Current())
	require.Equal(t, 1, nav.Depth())
}

func TestNavigator_ResetClearsBackStack(t *testing.T) {
	nav := NewNavigator(ScreenLogin)
	nav.Push(ScreenTwoFactor)
	nav.Push(ScreenHome)

	nav.Reset(ScreenLogin)
	require.Equal(t, ScreenLogin, nav.Current())
	require.Equal(t, 1, nav.Depth())

	// Nothing left behind to pop back into
	nav.Pop()
	require.Equal(t, ScreenLogin, nav.Current())
}

func TestNavigator_ReplaceSwapsTop(t *testing.T) {
	nav := NewNavigator(ScreenOnboarding)
	nav.Replace(ScreenLogin)
	require.Equal(t, ScreenLogin, nav.Current())
	require.Equal(t, 1, nav.Depth())
}

func TestNavBridge_DropsBeforeAttach(t *testing.T) {
	bridge := &NavBridge{}

	// Must not panic with no send function attached
	bridge.ResetToLogin()
	bridge.HandoffToLogin()

	var got []tea.Msg
	bridge.Attach(func(msg tea.Msg) { got = append(got, msg) })

	bridge.ResetToLogin()
	bridge.HandoffToLogin()

	require.Len(t, got, 2)
	require.IsType(t, NavResetMsg{}, got[0])
	require.IsType(t, NavHandoffMsg{}, got[1])
}
