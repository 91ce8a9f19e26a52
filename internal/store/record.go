package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"flavorfind/internal/data"
)

var ErrNotFound = errors.New("record not found")

// Record is one stored row. Data holds user fields only; system fields live
// on the struct.
type Record struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	Data      map[string]any `json:"data"`
}

func (r *Record) clone() *Record {
	cp := *r
	cp.Data = make(map[string]any, len(r.Data))
	for k, v := range r.Data {
		cp.Data[k] = v
	}
	return &cp
}

// flatten renders a record as a plain object, system fields first; user
// fields never shadow them.
func flatten(rec *Record) map[string]any {
	out := map[string]any{
		"id":        rec.ID,
		"createdAt": rec.CreatedAt.Format(time.RFC3339Nano),
		"updatedAt": rec.UpdatedAt.Format(time.RFC3339Nano),
	}
	for k, v := range rec.Data {
		if _, clash := out[k]; clash {
			continue
		}
		out[k] = v
	}
	return out
}

func toData(rec *Record) data.Record {
	return data.Record{ID: rec.ID, CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt, Data: rec.Data}
}

// Repository persists records. Storage does validation, filtering and
// delete policies on top of it.
type Repository interface {
	Ping(ctx context.Context) error
	Insert(ctx context.Context, rec *Record) error
	Update(ctx context.Context, rec *Record) error
	Get(ctx context.Context, kind, id string) (*Record, error)
	List(ctx context.Context, kind string) ([]*Record, error)
	Delete(ctx context.Context, kind string, ids ...string) error
}

// Atomic is implemented by repositories that can apply several writes as
// one unit. fn sees a Repository bound to the unit; an error from fn
// discards every write it made.
type Atomic interface {
	Atomically(ctx context.Context, fn func(Repository) error) error
}

// MemoryRepository keeps records in process memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	data map[string]map[string]*Record // kind -> id -> record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{data: make(map[string]map[string]*Record)}
}

func (m *MemoryRepository) Ping(context.Context) error { return nil }

func (m *MemoryRepository) Insert(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[rec.Kind] == nil {
		m.data[rec.Kind] = make(map[string]*Record)
	}
	m.data[rec.Kind][rec.ID] = rec.clone()
	return nil
}

func (m *MemoryRepository) Update(_ context.Context, rec *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[rec.Kind][rec.ID]; !ok {
		return ErrNotFound
	}
	m.data[rec.Kind][rec.ID] = rec.clone()
	return nil
}

func (m *MemoryRepository) Get(_ context.Context, kind, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.data[kind][id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.clone(), nil
}

// List returns records in id order; ids are ULIDs, so that is insertion order.
func (m *MemoryRepository) List(_ context.Context, kind string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, 0, len(m.data[kind]))
	for _, rec := range m.data[kind] {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) Delete(_ context.Context, kind string, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.data[kind], id)
	}
	return nil
}

// Atomically runs fn against a staged copy and swaps it in when fn succeeds.
// Stored records are never mutated in place, so copying the maps is enough.
// Callers serialize writers; a write made outside the unit while it runs is
// overwritten by the swap.
func (m *MemoryRepository) Atomically(_ context.Context, fn func(Repository) error) error {
	m.mu.RLock()
	staged := &MemoryRepository{data: make(map[string]map[string]*Record, len(m.data))}
	for kind, recs := range m.data {
		cp := make(map[string]*Record, len(recs))
		for id, rec := range recs {
			cp[id] = rec
		}
		staged.data[kind] = cp
	}
	m.mu.RUnlock()

	if err := fn(staged); err != nil {
		return err
	}
	m.mu.Lock()
	m.data = staged.data
	m.mu.Unlock()
	return nil
}
