// Package store is the embedded record platform behind the memory and
// postgres backend drivers: schema-validated records, password accounts and
// session tokens on top of a Repository.
package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"flavorfind/internal/data"
	"flavorfind/internal/dsl"
	"flavorfind/internal/logging"
	"flavorfind/internal/seed"
)

const userKind = string(data.KindUser)

type Options struct {
	Secret     []byte
	SessionTTL time.Duration
	BcryptCost int
	Now        func() time.Time
	Log        *logrus.Entry
}

// Storage implements data.Backend over a Repository.
type Storage struct {
	schemas  map[string]*dsl.Entity
	repo     Repository
	sessions *sessions
	cost     int
	now      func() time.Time
	log      *logrus.Entry

	idMu    sync.Mutex
	entropy io.Reader

	// serializes writes so unique, ref and delete-policy checks see a stable view
	writeMu sync.Mutex
}

var _ data.Backend = (*Storage)(nil)

func New(repo Repository, schemas map[string]*dsl.Entity, opts Options) (*Storage, error) {
	if issues := SchemaLint(schemas); len(issues) > 0 {
		msgs := make([]string, 0, len(issues))
		for _, i := range issues {
			msgs = append(msgs, i.String())
		}
		return nil, fmt.Errorf("schema: %s", strings.Join(msgs, "; "))
	}
	if _, ok := schemas[userKind]; !ok {
		return nil, errors.New("schema: entity User is required for accounts")
	}
	if len(opts.Secret) == 0 {
		opts.Secret = make([]byte, 32)
		if _, err := rand.Read(opts.Secret); err != nil {
			return nil, fmt.Errorf("session secret: %w", err)
		}
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 12 * time.Hour
	}
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Storage{
		schemas:  schemas,
		repo:     repo,
		sessions: newSessions(opts.Secret, opts.SessionTTL, opts.Now),
		cost:     opts.BcryptCost,
		now:      opts.Now,
		log:      logging.OrDiscard(opts.Log),
		entropy:  ulid.Monotonic(rand.Reader, 0),
	}, nil
}

func (s *Storage) newID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

func (s *Storage) Ping(ctx context.Context) error {
	if err := s.repo.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", data.ErrUnavailable, err)
	}
	return nil
}

func (s *Storage) Signup(ctx context.Context, name, email, password string) (string, error) {
	if password == "" {
		return "", &ValidationError{Kind: userKind, Errors: []FieldError{ferr(ErrRequired, "password", "Field 'password' is required")}}
	}
	hash, err := hashPassword(password, s.cost)
	if err != nil {
		return "", err
	}
	rec, err := s.insert(ctx, s.schemas[userKind], map[string]any{
		"name":     name,
		"email":    strings.ToLower(strings.TrimSpace(email)),
		"password": hash,
	})
	if err != nil {
		return "", err
	}
	s.log.WithField("user", rec.ID).Info("account created")
	return s.sessions.issue(rec.ID, s.newID())
}

func (s *Storage) Login(ctx context.Context, email, password string) (string, error) {
	u, err := s.userByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	hash, _ := u.Data["password"].(string)
	if !checkPassword(hash, password) {
		return "", fmt.Errorf("%w: invalid credentials", data.ErrUnauthorized)
	}
	return s.sessions.issue(u.ID, s.newID())
}

func (s *Storage) userByEmail(ctx context.Context, email string) (*Record, error) {
	want := strings.ToLower(strings.TrimSpace(email))
	users, err := s.repo.List(ctx, userKind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", data.ErrUnavailable, err)
	}
	for _, u := range users {
		if got, _ := u.Data["email"].(string); strings.ToLower(got) == want {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: invalid credentials", data.ErrUnauthorized)
}

func (s *Storage) Me(ctx context.Context, token string) (data.User, error) {
	u, err := s.caller(ctx, token)
	if err != nil {
		return data.User{}, err
	}
	return data.DecodeUser(toData(u))
}

func (s *Storage) Logout(_ context.Context, token string) error {
	return s.sessions.revoke(token)
}

// caller resolves a token to its user record.
func (s *Storage) caller(ctx context.Context, token string) (*Record, error) {
	id, err := s.sessions.verify(token)
	if err != nil {
		return nil, err
	}
	u, err := s.repo.Get(ctx, userKind, id)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: account no longer exists", data.ErrUnauthorized)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", data.ErrUnavailable, err)
	}
	return u, nil
}

func (s *Storage) Find(ctx context.Context, token string, kind data.Kind, q data.Query) ([]data.Record, error) {
	if _, err := s.caller(ctx, token); err != nil {
		return nil, err
	}
	schema, ok := s.schemaFor(string(kind))
	if !ok {
		return nil, fmt.Errorf("%w: unknown kind %q", data.ErrNotFound, kind)
	}
	if err := checkQuery(schema, q); err != nil {
		return nil, err
	}

	all, err := s.repo.List(ctx, schema.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", data.ErrUnavailable, err)
	}
	recs := filterRecords(all, q.Filter)
	sortRecords(recs, q.Sort)

	out := make([]data.Record, 0, len(recs))
	for _, rec := range recs {
		view := rec.clone()
		stripHidden(schema, view.Data)
		for _, name := range q.Include {
			f, _ := schema.Field(name)
			id, _ := view.Data[name].(string)
			if id == "" {
				continue
			}
			target, err := s.repo.Get(ctx, f.RefTarget, id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("%w: %v", data.ErrUnavailable, err)
			}
			obj := flatten(target)
			if ts, ok := s.schemas[f.RefTarget]; ok {
				stripHidden(ts, obj)
			}
			view.Data[name] = obj
		}
		out = append(out, toData(view))
	}
	return out, nil
}

func checkQuery(schema *dsl.Entity, q data.Query) error {
	known := func(name string) bool {
		switch name {
		case fieldID, fieldCreatedAt, fieldUpdatedAt:
			return true
		}
		f, ok := schema.Field(name)
		return ok && !f.Flag("hidden")
	}
	for field := range q.Filter {
		if !known(field) {
			return fmt.Errorf("%w: cannot filter %s on %q", data.ErrInvalid, schema.Name, field)
		}
	}
	if q.Sort.Field != "" && !known(q.Sort.Field) {
		return fmt.Errorf("%w: cannot sort %s on %q", data.ErrInvalid, schema.Name, q.Sort.Field)
	}
	for _, name := range q.Include {
		if f, ok := schema.Field(name); !ok || !f.IsRef() {
			return fmt.Errorf("%w: %s.%s is not a reference", data.ErrInvalid, schema.Name, name)
		}
	}
	return nil
}

func stripHidden(schema *dsl.Entity, obj map[string]any) {
	for _, f := range schema.Fields {
		if f.Flag("hidden") {
			delete(obj, f.Name)
		}
	}
}

// Create stores a record for the caller. A schema "owner" reference to User
// defaults to the caller and may not name anyone else.
func (s *Storage) Create(ctx context.Context, token string, kind data.Kind, fields data.Fields) (data.Record, error) {
	u, err := s.caller(ctx, token)
	if err != nil {
		return data.Record{}, err
	}
	schema, ok := s.schemaFor(string(kind))
	if !ok {
		return data.Record{}, fmt.Errorf("%w: unknown kind %q", data.ErrNotFound, kind)
	}
	if schema.Name == userKind {
		return data.Record{}, fmt.Errorf("%w: accounts are created through signup", data.ErrInvalid)
	}
	obj := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		obj[k] = v
	}
	if f, ok := schema.Field("owner"); ok && f.IsRef() && f.RefTarget == userKind {
		switch owner := obj["owner"].(type) {
		case nil:
			obj["owner"] = u.ID
		case string:
			if owner != u.ID {
				return data.Record{}, fmt.Errorf("%w: cannot create records for another user", data.ErrUnauthorized)
			}
		}
	}

	rec, err := s.insert(ctx, schema, obj)
	if err != nil {
		return data.Record{}, err
	}
	view := rec.clone()
	stripHidden(schema, view.Data)
	return toData(view), nil
}

func (s *Storage) insert(ctx context.Context, schema *dsl.Entity, obj map[string]any) (*Record, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for k := range obj {
		if _, declared := schema.Field(k); !declared {
			switch k {
			case fieldID, fieldCreatedAt, fieldUpdatedAt:
			default:
				delete(obj, k)
			}
		}
	}
	errs, err := s.validate(ctx, schema, obj)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", data.ErrUnavailable, err)
	}
	if len(errs) > 0 {
		return nil, &ValidationError{Kind: schema.Name, Errors: errs}
	}

	now := s.now()
	rec := &Record{ID: s.newID(), Kind: schema.Name, CreatedAt: now, UpdatedAt: now, Data: obj}
	if err := s.repo.Insert(ctx, rec); err != nil {
		if errors.Is(err, data.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", data.ErrUnavailable, err)
	}
	return rec, nil
}

type recordKey struct{ kind, id string }

type nullOp struct {
	key   recordKey
	field string
}

// deletePlan is everything one delete touches, collected before any write.
type deletePlan struct {
	order []recordKey
	seen  map[recordKey]bool
	nulls []nullOp
}

// Delete removes a record owned by the caller together with whatever its
// dependants' on_delete policies require. A restrict hit aborts the whole
// delete before anything is written.
func (s *Storage) Delete(ctx context.Context, token string, kind data.Kind, id string) error {
	u, err := s.caller(ctx, token)
	if err != nil {
		return err
	}
	schema, ok := s.schemaFor(string(kind))
	if !ok {
		return fmt.Errorf("%w: unknown kind %q", data.ErrNotFound, kind)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec, err := s.repo.Get(ctx, schema.Name, id)
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s %s", data.ErrNotFound, schema.Name, id)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", data.ErrUnavailable, err)
	}
	if !s.ownedBy(schema, rec, u.ID) {
		return fmt.Errorf("%w: %s %s belongs to another user", data.ErrUnauthorized, schema.Name, id)
	}

	plan := &deletePlan{seen: make(map[recordKey]bool)}
	if err := s.planDelete(ctx, recordKey{schema.Name, id}, plan); err != nil {
		return err
	}

	now := s.now()
	err = s.atomically(ctx, func(repo Repository) error {
		for _, op := range plan.nulls {
			if plan.seen[op.key] {
				continue
			}
			child, err := repo.Get(ctx, op.key.kind, op.key.id)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			child.Data[op.field] = nil
			child.UpdatedAt = now
			if err := repo.Update(ctx, child); err != nil {
				return err
			}
		}
		// dependants first
		for i := len(plan.order) - 1; i >= 0; i-- {
			k := plan.order[i]
			if err := repo.Delete(ctx, k.kind, k.id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", data.ErrUnavailable, err)
	}
	s.log.WithFields(logrus.Fields{"kind": schema.Name, "id": id, "removed": len(plan.order), "nulled": len(plan.nulls)}).Debug("record deleted")
	return nil
}

// atomically runs fn as one unit when the repository supports it.
func (s *Storage) atomically(ctx context.Context, fn func(Repository) error) error {
	if a, ok := s.repo.(Atomic); ok {
		return a.Atomically(ctx, fn)
	}
	return fn(s.repo)
}

func (s *Storage) planDelete(ctx context.Context, key recordKey, plan *deletePlan) error {
	if plan.seen[key] {
		return nil
	}
	plan.seen[key] = true
	plan.order = append(plan.order, key)

	for _, in := range s.incomingRefs(key.kind) {
		children, err := s.repo.List(ctx, in.kind)
		if err != nil {
			return fmt.Errorf("%w: %v", data.ErrUnavailable, err)
		}
		for _, child := range filterRecords(children, map[string]string{in.field: key.id}) {
			ck := recordKey{in.kind, child.ID}
			if plan.seen[ck] {
				continue
			}
			switch in.policy {
			case "cascade":
				if err := s.planDelete(ctx, ck, plan); err != nil {
					return err
				}
			case "set_null":
				plan.nulls = append(plan.nulls, nullOp{key: ck, field: in.field})
			default:
				return &ValidationError{Kind: key.kind, Errors: []FieldError{
					ferr(ErrInUse, in.field, fmt.Sprintf("record is referenced by %s.%s", in.kind, in.field)),
				}}
			}
		}
	}
	return nil
}

func (s *Storage) ownedBy(schema *dsl.Entity, rec *Record, userID string) bool {
	if schema.Name == userKind {
		return rec.ID == userID
	}
	f, ok := schema.Field("owner")
	if !ok || !f.IsRef() || f.RefTarget != userKind {
		return true
	}
	owner, _ := rec.Data["owner"].(string)
	return owner == userID
}

// Seed loads a catalog. Users whose email already exists are skipped with
// everything nested under them, so seeding is safe on every start.
func (s *Storage) Seed(ctx context.Context, c *seed.Catalog) error {
	for _, k := range []data.Kind{data.KindRestaurant, data.KindMenuItem} {
		if _, ok := s.schemas[string(k)]; !ok {
			return fmt.Errorf("seed %s: schema has no %s entity", c.Name, k)
		}
	}
	var users, restaurants, items int
	for _, su := range c.Users {
		_, err := s.userByEmail(ctx, su.Email)
		if err == nil {
			continue
		}
		if !errors.Is(err, data.ErrUnauthorized) {
			return err
		}

		hash, err := hashPassword(su.Password, s.cost)
		if err != nil {
			return err
		}
		u, err := s.insert(ctx, s.schemas[userKind], map[string]any{
			"name":     su.Name,
			"email":    strings.ToLower(strings.TrimSpace(su.Email)),
			"password": hash,
		})
		if err != nil {
			return fmt.Errorf("seed %s: user %s: %w", c.Name, su.Email, err)
		}
		users++

		for _, sr := range su.Restaurants {
			r, err := s.insert(ctx, s.schemas[string(data.KindRestaurant)], map[string]any{
				"name":        sr.Name,
				"description": sr.Description,
				"owner":       u.ID,
			})
			if err != nil {
				return fmt.Errorf("seed %s: restaurant %s: %w", c.Name, sr.Name, err)
			}
			restaurants++

			for _, mi := range sr.Menu {
				if _, err := s.insert(ctx, s.schemas[string(data.KindMenuItem)], map[string]any{
					"name":        mi.Name,
					"description": mi.Description,
					"price":       mi.Price,
					"restaurant":  r.ID,
					"owner":       u.ID,
				}); err != nil {
					return fmt.Errorf("seed %s: menu item %s: %w", c.Name, mi.Name, err)
				}
				items++
			}
		}
	}
	s.log.WithFields(logrus.Fields{
		"catalog":     c.Name,
		"users":       users,
		"restaurants": restaurants,
		"menuItems":   items,
	}).Info("seed applied")
	return nil
}
