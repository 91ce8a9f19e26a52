package metrics

import (
	"context"
	"errors"
	"time"

	"flavorfind/internal/data"
)

// Backend wraps a driver so every call is counted and timed.
func (m *Metrics) Backend(b data.Backend, driver string) data.Backend {
	return &instrumented{next: b, driver: driver, m: m}
}

type instrumented struct {
	next   data.Backend
	driver string
	m      *Metrics
}

func (i *instrumented) observe(op string, kind data.Kind, start time.Time, err error) {
	i.m.backendCalls.WithLabelValues(i.driver, op, string(kind), result(err)).Inc()
	i.m.backendDuration.WithLabelValues(i.driver, op).Observe(time.Since(start).Seconds())
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, data.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, data.ErrNotFound):
		return "not_found"
	case errors.Is(err, data.ErrConflict):
		return "conflict"
	case errors.Is(err, data.ErrInvalid):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

func (i *instrumented) Ping(ctx context.Context) (err error) {
	defer func(start time.Time) { i.observe("ping", "", start, err) }(time.Now())
	return i.next.Ping(ctx)
}

func (i *instrumented) Login(ctx context.Context, email, password string) (token string, err error) {
	defer func(start time.Time) { i.observe("login", data.KindUser, start, err) }(time.Now())
	return i.next.Login(ctx, email, password)
}

func (i *instrumented) Signup(ctx context.Context, name, email, password string) (token string, err error) {
	defer func(start time.Time) { i.observe("signup", data.KindUser, start, err) }(time.Now())
	return i.next.Signup(ctx, name, email, password)
}

func (i *instrumented) Me(ctx context.Context, token string) (u data.User, err error) {
	defer func(start time.Time) { i.observe("me", data.KindUser, start, err) }(time.Now())
	return i.next.Me(ctx, token)
}

func (i *instrumented) Logout(ctx context.Context, token string) (err error) {
	defer func(start time.Time) { i.observe("logout", data.KindUser, start, err) }(time.Now())
	return i.next.Logout(ctx, token)
}

func (i *instrumented) Find(ctx context.Context, token string, kind data.Kind, q data.Query) (recs []data.Record, err error) {
	defer func(start time.Time) { i.observe("find", kind, start, err) }(time.Now())
	return i.next.Find(ctx, token, kind, q)
}

func (i *instrumented) Create(ctx context.Context, token string, kind data.Kind, fields data.Fields) (rec data.Record, err error) {
	defer func(start time.Time) { i.observe("create", kind, start, err) }(time.Now())
	return i.next.Create(ctx, token, kind, fields)
}

func (i *instrumented) Delete(ctx context.Context, token string, kind data.Kind, id string) (err error) {
	defer func(start time.Time) { i.observe("delete", kind, start, err) }(time.Now())
	return i.next.Delete(ctx, token, kind, id)
}
