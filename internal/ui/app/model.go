// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"log"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/storelink-tui/internal/auth"
	"github.com/jeranaias/storelink-tui/internal/session"
	"github.com/jeranaias/storelink-tui/internal/ui/styles"
)

// =============================================================================
// ROOT MODEL
// =============================================================================

// onboardingNotifier is the slice of the supervisor the model drives.
type onboardingNotifier interface {
	NotifyOnboardingCompleted()
}

// startGate combines the gate operations the UI needs.
type startGate interface {
	onboardingGate
	IsCompleted() bool
}

// Deps carries the wired subsystems into the root model.
type Deps struct {
	Theme      *styles.Theme
	Flow       *auth.Flow
	Store      *session.Store
	Gate       startGate
	Supervisor onboardingNotifier
}

// Model is the root Bubble Tea model. It owns the navigator and delegates
// everything else to the active screen.
type Model struct {
	theme *styles.Theme
	nav   *Navigator

	flow       *auth.Flow
	store      *session.Store
	gate       startGate
	supervisor onboardingNotifier

	login      loginModel
	twoFactor  twoFactorModel
	onboarding onboardingModel
	home       homeModel
}

// NewModel builds the root model. The initial screen depends on whether
// onboarding has been completed on this install.
func NewModel(deps Deps) Model {
	root := ScreenLogin
	if !deps.Gate.IsCompleted() {
		root = ScreenOnboarding
	}

	return Model{
		theme:      deps.Theme,
		nav:        NewNavigator(root),
		flow:       deps.Flow,
		store:      deps.Store,
		gate:       deps.Gate,
		supervisor: deps.Supervisor,
		login:      newLoginModel(deps.Theme, deps.Flow),
		twoFactor:  newTwoFactorModel(deps.Theme, deps.Flow),
		onboarding: newOnboardingModel(deps.Theme, deps.Gate),
		home:       newHomeModel(deps.Theme, deps.Store),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	if m.nav.Current() == ScreenLogin {
		return m.login.focus()
	}
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.theme.SetSize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit
		case "esc":
			if m.nav.Current() == ScreenTwoFactor {
				// Abandoning the challenge discards the login session ID
				m.flow.Cancel()
				m.nav.Pop()
				m.login.reset()
				return m, m.login.focus()
			}
		}

	case NavResetMsg:
		// Session dropped: unwind everything down to login
		m.flow.Cancel()
		m.nav.Reset(ScreenLogin)
		m.login.reset()
		return m, m.login.focus()

	case NavHandoffMsg:
		// Post-onboarding: nothing behind to unwind, just swap screens
		m.nav.Replace(ScreenLogin)
		return m, m.login.focus()

	case loginOutcomeMsg:
		var cmd tea.Cmd
		m.login, cmd = m.login.update(msg)
		if msg.err == nil {
			switch msg.state {
			case auth.StateTwoFactorRequired:
				m.twoFactor.reset()
				m.nav.Push(ScreenTwoFactor)
				return m, tea.Batch(cmd, m.twoFactor.focus())
			case auth.StateSuccess:
				m.nav.Reset(ScreenHome)
				return m, cmd
			}
		}
		return m, cmd

	case twoFactorOutcomeMsg:
		var cmd tea.Cmd
		m.twoFactor, cmd = m.twoFactor.update(msg)
		if msg.err == nil && msg.state == auth.StateSuccess {
			m.nav.Reset(ScreenHome)
		}
		return m, cmd

	case onboardingDoneMsg:
		if msg.err != nil {
			// Logged only; a failed write must not trap the user here
			log.Printf("ui: persisting onboarding completion failed: %v", msg.err)
		}
		m.supervisor.NotifyOnboardingCompleted()
		return m, nil
	}

	return m.updateScreen(msg)
}

// updateScreen forwards a message to the active screen.
func (m Model) updateScreen(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.nav.Current() {
	case ScreenOnboarding:
		m.onboarding, cmd = m.onboarding.update(msg)
	case ScreenLogin:
		m.login, cmd = m.login.update(msg)
	case ScreenTwoFactor:
		m.twoFactor, cmd = m.twoFactor.update(msg)
	case ScreenHome:
		m.home, cmd = m.home.update(msg)
	}
	return m, cmd
}

// View implements tea.Model.
func (m Model) View() string {
	var screen string
	switch m.nav.Current() {
	case ScreenOnboarding:
		screen = m.onboarding.view()
	case ScreenLogin:
		screen = m.login.view()
	case ScreenTwoFactor:
		screen = m.twoFactor.view()
	case ScreenHome:
		screen = m.home.view()
	}
	return m.theme.App.Render(screen)
}
