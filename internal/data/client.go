package data

import (
	"context"
	"fmt"
)

// Client binds a Backend to one session token.
type Client struct {
	backend Backend
	token   string
}

func NewClient(b Backend, token string) *Client {
	return &Client{backend: b, token: token}
}

func (c *Client) Restaurants() *Collection[Restaurant] {
	return &Collection[Restaurant]{client: c, kind: KindRestaurant, decode: DecodeRestaurant}
}

func (c *Client) MenuItems() *Collection[MenuItem] {
	return &Collection[MenuItem]{client: c, kind: KindMenuItem, decode: DecodeMenuItem}
}

// Collection is the typed find/create/delete surface of one record kind.
type Collection[T any] struct {
	client *Client
	kind   Kind
	decode func(Record) (T, error)
}

func (col *Collection[T]) Kind() Kind { return col.kind }

// Find returns records in the order the backend produced them.
func (col *Collection[T]) Find(ctx context.Context, q Query) ([]T, error) {
	recs, err := col.client.backend.Find(ctx, col.client.token, col.kind, q)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", col.kind, err)
	}
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		v, err := col.decode(r)
		if err != nil {
			return nil, fmt.Errorf("find %s: %w", col.kind, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (col *Collection[T]) Create(ctx context.Context, fields Fields) (T, error) {
	var zero T
	rec, err := col.client.backend.Create(ctx, col.client.token, col.kind, fields)
	if err != nil {
		return zero, fmt.Errorf("create %s: %w", col.kind, err)
	}
	v, err := col.decode(rec)
	if err != nil {
		return zero, fmt.Errorf("create %s: %w", col.kind, err)
	}
	return v, nil
}

func (col *Collection[T]) Delete(ctx context.Context, id string) error {
	if err := col.client.backend.Delete(ctx, col.client.token, col.kind, id); err != nil {
		return fmt.Errorf("delete %s %s: %w", col.kind, id, err)
	}
	return nil
}
