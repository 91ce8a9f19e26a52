// Package app holds the per-session view state and the gateway that moves it
// between the landing and dashboard screens.
package app

import "flavorfind/internal/data"

type Screen string

const (
	ScreenLanding   Screen = "landing"
	ScreenDashboard Screen = "dashboard"
)

// User-facing alerts.
const (
	AlertLoginFailed  = "Login failed. Please check your credentials."
	AlertSignupFailed = "Signup failed. The email might already be in use."
	AlertThrottled    = "Too many login attempts. Please wait and try again."
)

// Demo account offered on the landing screen.
const (
	DemoEmail    = "owner@demo.com"
	DemoPassword = "password"
)

// State is everything a view needs to know about one session. Transitions
// return a new State and never mutate their input.
type State struct {
	Screen           Screen
	User             *data.User
	Token            string
	BackendConnected bool
	// Alert is shown once and then cleared with TakeAlert.
	Alert string
}

func Landing(connected bool) State {
	return State{Screen: ScreenLanding, BackendConnected: connected}
}

func (s State) SignedIn() bool {
	return s.Screen == ScreenDashboard && s.User != nil && s.Token != ""
}

func (s State) WithAlert(msg string) State {
	s.Alert = msg
	return s
}

// TakeAlert returns the pending alert and the state without it.
func (s State) TakeAlert() (string, State) {
	msg := s.Alert
	s.Alert = ""
	return msg, s
}
