// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jeranaias/storelink-tui/internal/api"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeRegistrar struct {
	token           string
	obtainCalls     atomic.Int32
	registerCalls   atomic.Int32
	unregisterCalls atomic.Int32
	lastIdentity    atomic.Value // *api.Identity

	// Optional hooks for blocking mid-call
	obtainFunc     func(ctx context.Context) (string, error)
	unregisterFunc func(ctx context.Context) error
}

func (f *fakeRegistrar) ObtainToken(ctx context.Context) (string, error) {
	f.obtainCalls.Add(1)
	if f.obtainFunc != nil {
		return f.obtainFunc(ctx)
	}
	return f.token, nil
}

func (f *fakeRegistrar) Register(ctx context.Context, token string, identity *api.Identity) error {
	f.registerCalls.Add(1)
	f.lastIdentity.Store(identity)
	return nil
}

func (f *fakeRegistrar) Unregister(ctx context.Context) error {
	f.unregisterCalls.Add(1)
	if f.unregisterFunc != nil {
		return f.unregisterFunc(ctx)
	}
	return nil
}

type fakeNavigator struct {
	resets   atomic.Int32
	handoffs atomic.Int32
}

func (f *fakeNavigator) ResetToLogin()   { f.resets.Add(1) }
func (f *fakeNavigator) HandoffToLogin() { f.handoffs.Add(1) }

const testDebounce = 20 * time.Millisecond

func newTestSupervisor(t *testing.T) (*Supervisor, *Store, *fakeRegistrar, *fakeNavigator) {
	t.Helper()
	store := NewStore(&fakeBackend{})
	reg := &fakeRegistrar{token: "tok-1"}
	nav := &fakeNavigator{}
	sv := NewSupervisor(store, reg, nav).WithDebounce(testDebounce)
	sv.Start()
	t.Cleanup(sv.Stop)
	return sv, store, reg, nav
}

// =============================================================================
// EDGES
// =============================================================================

func TestSupervisor_RiseRegistersDevice(t *testing.T) {
	_, store, reg, _ := newTestSupervisor(t)

	store.SetAuthenticated(&api.Identity{ID: "u1"})

	require.Eventually(t, func() bool {
		return reg.registerCalls.Load() == 1
	}, time.Second, time.Millisecond)

	identity := reg.lastIdentity.Load().(*api.Identity)
	require.Equal(t, "u1", identity.ID)
}

func TestSupervisor_DropFiresUnregisterAndResetOnce(t *testing.T) {
	_, store, reg, nav := newTestSupervisor(t)

	store.SetAuthenticated(&api.Identity{ID: "u1"})
	store.Clear()

	require.Eventually(t, func() bool {
		return nav.resets.Load() == 1
	}, 500*time.Millisecond, time.Millisecond)
	require.Equal(t, int32(1), reg.unregisterCalls.Load())

	// No late second fire
	time.Sleep(3 * testDebounce)
	require.Equal(t, int32(1), nav.resets.Load())
	require.Equal(t, int32(1), reg.unregisterCalls.Load())
}

func TestSupervisor_DuplicateLevelsDoNotDoubleFire(t *testing.T) {
	sv, store, reg, nav := newTestSupervisor(t)

	store.SetAuthenticated(&api.Identity{ID: "u1"})

	// Duplicate authenticated notifications, then the drop
	sess := store.Current()
	sv.observe(sess)
	sv.observe(sess)
	store.Clear()
	sv.observe(store.Current())

	require.Eventually(t, func() bool {
		return nav.resets.Load() == 1
	}, 500*time.Millisecond, time.Millisecond)

	time.Sleep(3 * testDebounce)
	require.Equal(t, int32(1), reg.unregisterCalls.Load())
	require.Equal(t, int32(1), nav.resets.Load())

	require.Eventually(t, func() bool {
		return reg.registerCalls.Load() == 1
	}, time.Second, time.Millisecond)
}

func TestSupervisor_RiseDuringDebounceCancelsDrop(t *testing.T) {
	_, store, reg, nav := newTestSupervisor(t)

	store.SetAuthenticated(&api.Identity{ID: "u1"})
	store.Clear()
	// Session restored before the debounce elapses
	store.SetAuthenticated(&api.Identity{ID: "u1"})

	time.Sleep(4 * testDebounce)
	require.Equal(t, int32(0), reg.unregisterCalls.Load())
	require.Equal(t, int32(0), nav.resets.Load())
}

func TestSupervisor_NoTokenMeansNoRegister(t *testing.T) {
	store := NewStore(&fakeBackend{})
	reg := &fakeRegistrar{token: ""}
	nav := &fakeNavigator{}
	sv := NewSupervisor(store, reg, nav).WithDebounce(testDebounce)
	sv.Start()
	defer sv.Stop()

	store.SetAuthenticated(&api.Identity{ID: "u1"})

	require.Eventually(t, func() bool {
		return reg.obtainCalls.Load() == 1
	}, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, int32(0), reg.registerCalls.Load())
}

func TestSupervisor_StopWaitsForDropSideEffects(t *testing.T) {
	store := NewStore(&fakeBackend{})
	reg := &fakeRegistrar{token: "tok-1"}
	nav := &fakeNavigator{}

	entered := make(chan struct{})
	release := make(chan struct{})
	reg.unregisterFunc = func(ctx context.Context) error {
		close(entered)
		<-release
		return nil
	}

	sv := NewSupervisor(store, reg, nav).WithDebounce(testDebounce)
	sv.Start()

	store.SetAuthenticated(&api.Identity{ID: "u1"})
	store.Clear()
	<-entered

	stopped := make(chan struct{})
	go func() {
		sv.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while unregister was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after unregister finished")
	}
	require.Equal(t, int32(1), nav.resets.Load())
}

func TestSupervisor_DropDuringRiseSkipsRegister(t *testing.T) {
	store := NewStore(&fakeBackend{})
	reg := &fakeRegistrar{}
	nav := &fakeNavigator{}

	entered := make(chan struct{})
	release := make(chan struct{})
	reg.obtainFunc = func(ctx context.Context) (string, error) {
		close(entered)
		<-release
		return "tok-1", nil
	}

	sv := NewSupervisor(store, reg, nav).WithDebounce(testDebounce)
	sv.Start()
	t.Cleanup(sv.Stop)

	store.SetAuthenticated(&api.Identity{ID: "u1"})
	<-entered

	// Session drops while the token fetch is still in flight
	store.Clear()
	close(release)

	require.Eventually(t, func() bool {
		return reg.unregisterCalls.Load() == 1
	}, time.Second, time.Millisecond)

	time.Sleep(3 * testDebounce)
	require.Equal(t, int32(0), reg.registerCalls.Load())
	require.Equal(t, int32(1), nav.resets.Load())
}

// =============================================================================
// ONBOARDING HANDOFF
// =============================================================================

func TestSupervisor_OnboardingHandoffIsOneTime(t *testing.T) {
	sv, _, _, nav := newTestSupervisor(t)

	sv.NotifyOnboardingCompleted()
	sv.NotifyOnboardingCompleted()

	require.Equal(t, int32(1), nav.handoffs.Load())
}

func TestSupervisor_NoHandoffWhileAuthenticated(t *testing.T) {
	sv, store, _, nav := newTestSupervisor(t)

	store.SetAuthenticated(&api.Identity{ID: "u1"})
	sv.NotifyOnboardingCompleted()

	require.Equal(t, int32(0), nav.handoffs.Load())
}
