// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package onboarding

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsCompleted_FreshInstall(t *testing.T) {
	g := NewGate(t.TempDir())
	require.False(t, g.IsCompleted())
}

func TestMarkCompleted(t *testing.T) {
	g := NewGate(t.TempDir())

	require.NoError(t, g.MarkCompleted())
	require.True(t, g.IsCompleted())
}

func TestMarkCompleted_Idempotent(t *testing.T) {
	g := NewGate(t.TempDir())

	require.NoError(t, g.MarkCompleted())
	require.NoError(t, g.MarkCompleted())
	require.True(t, g.IsCompleted())
}

func TestIsCompleted_SurvivesNewGate(t *testing.T) {
	dir := t.TempDir()

	g := NewGate(dir)
	require.NoError(t, g.MarkCompleted())

	// A fresh gate over the same directory reuses the keyfile
	g2 := NewGate(dir)
	require.True(t, g2.IsCompleted())
}

func TestIsCompleted_TamperedState(t *testing.T) {
	dir := t.TempDir()

	g := NewGate(dir)
	require.NoError(t, g.MarkCompleted())

	path := filepath.Join(dir, stateFileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0600))

	require.False(t, g.IsCompleted())
}

func TestIsCompleted_TruncatedState(t *testing.T) {
	dir := t.TempDir()

	g := NewGate(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFileName), []byte{0x01, 0x02}, 0600))

	require.False(t, g.IsCompleted())
}

func TestIsCompleted_GarbageState(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, stateFileName), []byte("not ciphertext at all"), 0600))

	g := NewGate(dir)
	require.False(t, g.IsCompleted())
}

func TestReset(t *testing.T) {
	g := NewGate(t.TempDir())

	require.NoError(t, g.MarkCompleted())
	require.True(t, g.IsCompleted())

	require.NoError(t, g.Reset())
	require.False(t, g.IsCompleted())
}

func TestReset_NothingToReset(t *testing.T) {
	g := NewGate(t.TempDir())
	require.NoError(t, g.Reset())
}

func TestKeyfile_Permissions(t *testing.T) {
	dir := t.TempDir()

	g := NewGate(dir)
	require.NoError(t, g.MarkCompleted())

	info, err := os.Stat(filepath.Join(dir, keyFileName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	info, err = os.Stat(filepath.Join(dir, stateFileName))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestKeyfile_BadSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, keyFileName), []byte("short"), 0600))

	g := NewGate(dir)
	require.Error(t, g.MarkCompleted())
	require.False(t, g.IsCompleted())
}

func TestStateFile_IsNotPlaintext(t *testing.T) {
	dir := t.TempDir()

	g := NewGate(dir)
	require.NoError(t, g.MarkCompleted())

	data, err := os.ReadFile(filepath.Join(dir, stateFileName))
	require.NoError(t, err)
	require.NotContains(t, string(data), "completed")
}
