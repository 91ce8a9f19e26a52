// Package data is the typed facade over the record platform. All filtering,
// sorting and authentication are done by a Backend driver; this package only
// shapes requests and decodes records.
package data

import (
	"context"
	"errors"
	"time"
)

// Kind names a record collection on the platform.
type Kind string

const (
	KindUser       Kind = "User"
	KindRestaurant Kind = "Restaurant"
	KindMenuItem   Kind = "MenuItem"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalid      = errors.New("invalid request")
	ErrUnavailable  = errors.New("backend unavailable")
)

// Fields is the payload of a create call.
type Fields map[string]any

// Record is a stored row as the platform returns it.
type Record struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	Data      map[string]any
}

// Backend is implemented by every platform driver (remote, memory, postgres).
// Record calls carry the session token returned by Login/Signup.
type Backend interface {
	Ping(ctx context.Context) error

	Login(ctx context.Context, email, password string) (token string, err error)
	Signup(ctx context.Context, name, email, password string) (token string, err error)
	Me(ctx context.Context, token string) (User, error)
	Logout(ctx context.Context, token string) error

	Find(ctx context.Context, token string, kind Kind, q Query) ([]Record, error)
	Create(ctx context.Context, token string, kind Kind, fields Fields) (Record, error)
	Delete(ctx context.Context, token string, kind Kind, id string) error
}
