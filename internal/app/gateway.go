package app

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"flavorfind/internal/data"
	"flavorfind/internal/logging"
)

type clientKey struct{}

// WithClient tags ctx with the caller's address for login throttling.
func WithClient(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, clientKey{}, addr)
}

func clientFrom(ctx context.Context, email string) string {
	if v, ok := ctx.Value(clientKey{}).(string); ok && v != "" {
		return v
	}
	return "email:" + strings.ToLower(strings.TrimSpace(email))
}

// Gateway runs the authentication transitions against a backend.
type Gateway struct {
	backend  data.Backend
	throttle *Throttle
	log      *logrus.Entry
}

func NewGateway(b data.Backend, throttle *Throttle, log *logrus.Entry) *Gateway {
	return &Gateway{backend: b, throttle: throttle, log: logging.OrDiscard(log)}
}

func (g *Gateway) Backend() data.Backend { return g.backend }

// Start checks the backend; a fresh session always lands on the landing screen.
func (g *Gateway) Start(ctx context.Context) State {
	return g.Resume(ctx, "")
}

// Resume checks the backend and, when token still names a user, goes
// straight to the dashboard. A missing or stale session is not an error.
func (g *Gateway) Resume(ctx context.Context, token string) State {
	if err := g.backend.Ping(ctx); err != nil {
		g.log.WithError(err).Warn("backend connection failed")
		return Landing(false)
	}
	if token == "" {
		return Landing(true)
	}
	u, err := g.backend.Me(ctx, token)
	if err != nil {
		g.log.WithError(err).Debug("no active session")
		return Landing(true)
	}
	return State{Screen: ScreenDashboard, User: &u, Token: token, BackendConnected: true}
}

// Login signs in and resolves the current user. On failure the input state
// is kept and the login alert is set.
func (g *Gateway) Login(ctx context.Context, st State, email, password string) State {
	if !g.throttle.Allow(clientFrom(ctx, email)) {
		g.log.WithField("client", clientFrom(ctx, email)).Warn("login throttled")
		return st.WithAlert(AlertThrottled)
	}
	return g.login(ctx, st, email, password)
}

// Signup creates the account and then logs in with the same credentials.
func (g *Gateway) Signup(ctx context.Context, st State, name, email, password string) State {
	if !g.throttle.Allow(clientFrom(ctx, email)) {
		return st.WithAlert(AlertThrottled)
	}
	if _, err := g.backend.Signup(ctx, name, email, password); err != nil {
		g.log.WithError(err).Warn("signup failed")
		return st.WithAlert(AlertSignupFailed)
	}
	return g.login(ctx, st, email, password)
}

// login skips the throttle; callers have already counted the attempt.
func (g *Gateway) login(ctx context.Context, st State, email, password string) State {
	token, err := g.backend.Login(ctx, email, password)
	if err != nil {
		g.log.WithError(err).Warn("login failed")
		return st.WithAlert(AlertLoginFailed)
	}
	u, err := g.backend.Me(ctx, token)
	if err != nil {
		g.log.WithError(err).Warn("login failed: cannot resolve user")
		return st.WithAlert(AlertLoginFailed)
	}
	g.log.WithField("user", u.ID).Info("signed in")
	return State{Screen: ScreenDashboard, User: &u, Token: token, BackendConnected: true}
}

// Logout always lands on the landing screen; remote failures are only logged.
func (g *Gateway) Logout(ctx context.Context, st State) State {
	if st.Token != "" {
		if err := g.backend.Logout(ctx, st.Token); err != nil {
			g.log.WithError(err).Warn("remote logout failed")
		}
	}
	return Landing(st.BackendConnected)
}
