package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flavorfind/internal/data"
)

// fakeBackend answers auth calls from a fixed account table.
type fakeBackend struct {
	data.Backend

	accounts  map[string]string // email -> password
	pingErr   error
	meErr     error
	signupErr error
	logoutErr error

	logins  int
	logouts []string
}

func newFake() *fakeBackend {
	return &fakeBackend{accounts: map[string]string{DemoEmail: DemoPassword}}
}

func (f *fakeBackend) Ping(context.Context) error { return f.pingErr }

func (f *fakeBackend) Login(_ context.Context, email, password string) (string, error) {
	f.logins++
	if pw, ok := f.accounts[email]; !ok || pw != password {
		return "", data.ErrUnauthorized
	}
	return "tok:" + email, nil
}

func (f *fakeBackend) Signup(_ context.Context, _, email, password string) (string, error) {
	if f.signupErr != nil {
		return "", f.signupErr
	}
	if _, taken := f.accounts[email]; taken {
		return "", data.ErrConflict
	}
	f.accounts[email] = password
	return "tok:" + email, nil
}

func (f *fakeBackend) Me(_ context.Context, token string) (data.User, error) {
	if f.meErr != nil {
		return data.User{}, f.meErr
	}
	if token == "" || token == "stale" {
		return data.User{}, data.ErrUnauthorized
	}
	return data.User{ID: "u1", Email: token[len("tok:"):]}, nil
}

func (f *fakeBackend) Logout(_ context.Context, token string) error {
	f.logouts = append(f.logouts, token)
	return f.logoutErr
}

func TestLoginSuccessMovesToDashboard(t *testing.T) {
	g := NewGateway(newFake(), nil, nil)
	st := g.Login(context.Background(), Landing(true), DemoEmail, DemoPassword)

	assert.Equal(t, ScreenDashboard, st.Screen)
	require.NotNil(t, st.User)
	assert.Equal(t, DemoEmail, st.User.Email)
	assert.Equal(t, "tok:"+DemoEmail, st.Token)
	assert.Empty(t, st.Alert)
	assert.True(t, st.SignedIn())
}

func TestLoginFailureKeepsStateAndAlerts(t *testing.T) {
	f := newFake()
	g := NewGateway(f, nil, nil)
	before := Landing(true)

	st := g.Login(context.Background(), before, DemoEmail, "wrong")
	assert.Equal(t, AlertLoginFailed, st.Alert)
	assert.Equal(t, ScreenLanding, st.Screen)
	assert.Nil(t, st.User)
	assert.Equal(t, 1, f.logins, "no retry")
	assert.Empty(t, before.Alert, "input state untouched")

	msg, cleared := st.TakeAlert()
	assert.Equal(t, AlertLoginFailed, msg)
	assert.Empty(t, cleared.Alert)
}

func TestLoginFailsWhenMeFails(t *testing.T) {
	f := newFake()
	f.meErr = data.ErrUnavailable
	st := NewGateway(f, nil, nil).Login(context.Background(), Landing(true), DemoEmail, DemoPassword)
	assert.Equal(t, AlertLoginFailed, st.Alert)
	assert.False(t, st.SignedIn())
}

func TestSignupThenLogin(t *testing.T) {
	g := NewGateway(newFake(), nil, nil)
	st := g.Signup(context.Background(), Landing(true), "Ann", "ann@x.io", "pw")
	assert.Equal(t, ScreenDashboard, st.Screen)
	assert.Equal(t, "ann@x.io", st.User.Email)

	st = g.Signup(context.Background(), Landing(true), "Ann", "ann@x.io", "pw")
	assert.Equal(t, AlertSignupFailed, st.Alert)
	assert.Equal(t, ScreenLanding, st.Screen)
}

func TestSignupCreatedButLoginFailed(t *testing.T) {
	f := newFake()
	f.meErr = errors.New("boom")
	st := NewGateway(f, nil, nil).Signup(context.Background(), Landing(true), "Ann", "ann@x.io", "pw")
	assert.Equal(t, AlertLoginFailed, st.Alert)
}

func TestLogoutAlwaysLands(t *testing.T) {
	f := newFake()
	f.logoutErr = errors.New("remote down")
	g := NewGateway(f, nil, nil)
	st := g.Login(context.Background(), Landing(true), DemoEmail, DemoPassword)
	require.True(t, st.SignedIn())

	out := g.Logout(context.Background(), st)
	assert.Equal(t, Landing(true), out)
	assert.Equal(t, []string{"tok:" + DemoEmail}, f.logouts)
}

func TestStartAndResume(t *testing.T) {
	f := newFake()
	g := NewGateway(f, nil, nil)
	ctx := context.Background()

	assert.Equal(t, Landing(true), g.Start(ctx))
	assert.Equal(t, Landing(true), g.Resume(ctx, "stale"))

	st := g.Resume(ctx, "tok:"+DemoEmail)
	assert.Equal(t, ScreenDashboard, st.Screen)

	f.pingErr = data.ErrUnavailable
	st = g.Resume(ctx, "tok:"+DemoEmail)
	assert.Equal(t, Landing(false), st)
}

func TestThrottleShortCircuitsLogin(t *testing.T) {
	f := newFake()
	g := NewGateway(f, NewThrottle(0.001, 2), nil)
	ctx := WithClient(context.Background(), "10.0.0.1")

	for i := 0; i < 2; i++ {
		st := g.Login(ctx, Landing(true), DemoEmail, "wrong")
		assert.Equal(t, AlertLoginFailed, st.Alert)
	}
	st := g.Login(ctx, Landing(true), DemoEmail, DemoPassword)
	assert.Equal(t, AlertThrottled, st.Alert)
	assert.Equal(t, 2, f.logins)

	// another client is unaffected
	st = g.Login(WithClient(context.Background(), "10.0.0.2"), Landing(true), DemoEmail, DemoPassword)
	assert.True(t, st.SignedIn())
}

func TestThrottleSweep(t *testing.T) {
	th := NewThrottle(1, 1)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	assert.True(t, th.Allow("a"))
	assert.False(t, th.Allow("a"))

	now = now.Add(time.Hour)
	assert.Equal(t, 1, th.Sweep(time.Minute))
	assert.True(t, th.Allow("a"))

	var disabled *Throttle
	assert.True(t, disabled.Allow("x"))
}
