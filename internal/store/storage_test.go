package store

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"flavorfind/internal/data"
	"flavorfind/internal/dsl"
	"flavorfind/internal/seed"
)

// stepClock advances one millisecond per call.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	schemas, err := dsl.Builtin()
	require.NoError(t, err)
	return newStorageWith(t, schemas)
}

func newStorageWith(t *testing.T, schemas map[string]*dsl.Entity) *Storage {
	t.Helper()
	clock := &stepClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s, err := New(NewMemoryRepository(), schemas, Options{
		Secret:     []byte("test-secret"),
		BcryptCost: bcrypt.MinCost,
		Now:        clock.Now,
	})
	require.NoError(t, err)
	return s
}

func parseSchemas(t *testing.T, src string) map[string]*dsl.Entity {
	t.Helper()
	ents, err := dsl.Parse(strings.NewReader(src), "test.dsl")
	require.NoError(t, err)
	out := make(map[string]*dsl.Entity, len(ents))
	for _, e := range ents {
		out[e.Name] = e
	}
	return out
}

func signup(t *testing.T, s *Storage, email string) string {
	t.Helper()
	tok, err := s.Signup(context.Background(), "Someone", email, "secret")
	require.NoError(t, err)
	return tok
}

func TestSignupLoginMeLogout(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)

	tok := signup(t, s, "Chef@Example.com")
	me, err := s.Me(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "chef@example.com", me.Email)
	assert.Equal(t, "Someone", me.Name)

	_, err = s.Login(ctx, "chef@example.com", "wrong")
	assert.ErrorIs(t, err, data.ErrUnauthorized)

	tok2, err := s.Login(ctx, "CHEF@example.com", "secret")
	require.NoError(t, err)
	assert.NotEqual(t, tok, tok2)

	require.NoError(t, s.Logout(ctx, tok2))
	_, err = s.Me(ctx, tok2)
	assert.ErrorIs(t, err, data.ErrUnauthorized)

	// other sessions stay valid
	_, err = s.Me(ctx, tok)
	assert.NoError(t, err)
}

func TestSignupDuplicateEmailConflicts(t *testing.T) {
	s := newTestStorage(t)
	signup(t, s, "a@b.c")

	_, err := s.Signup(context.Background(), "Other", "A@B.C", "pw")
	require.Error(t, err)
	assert.ErrorIs(t, err, data.ErrConflict)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ErrUniqueViolation, ve.Errors[0].Code)
	assert.Equal(t, "email", ve.Errors[0].Field)
}

func TestUnknownTokenIsUnauthorized(t *testing.T) {
	s := newTestStorage(t)
	_, err := s.Find(context.Background(), "garbage", data.KindRestaurant, data.Query{})
	assert.ErrorIs(t, err, data.ErrUnauthorized)

	_, err = s.Find(context.Background(), "", data.KindRestaurant, data.Query{})
	assert.ErrorIs(t, err, data.ErrUnauthorized)
}

func TestCreateDefaultsOwnerAndValidates(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	tok := signup(t, s, "owner@x.io")
	me, _ := s.Me(ctx, tok)

	rec, err := s.Create(ctx, tok, data.KindRestaurant, data.Fields{"name": "Taco Town", "junk": 1})
	require.NoError(t, err)
	assert.Equal(t, me.ID, rec.Data["owner"])
	assert.NotContains(t, rec.Data, "junk")
	assert.Len(t, rec.ID, 26)

	_, err = s.Create(ctx, tok, data.KindRestaurant, data.Fields{"name": "  "})
	assert.ErrorIs(t, err, data.ErrInvalid)

	_, err = s.Create(ctx, tok, data.KindMenuItem, data.Fields{"name": "Nachos", "price": "abc", "restaurant": rec.ID})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ErrTypeMismatch, ve.Errors[0].Code)

	_, err = s.Create(ctx, tok, data.KindMenuItem, data.Fields{"name": "Nachos", "price": 8.5, "restaurant": "nope"})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, ErrRefNotFound, ve.Errors[0].Code)

	item, err := s.Create(ctx, tok, data.KindMenuItem, data.Fields{"name": "Nachos", "price": "8.50", "restaurant": rec.ID})
	require.NoError(t, err)
	assert.Equal(t, 8.5, item.Data["price"])
}

func TestCreateForAnotherUserRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	tok := signup(t, s, "a@x.io")
	other := signup(t, s, "b@x.io")
	them, _ := s.Me(ctx, other)

	_, err := s.Create(ctx, tok, data.KindRestaurant, data.Fields{"name": "Mine", "owner": them.ID})
	assert.ErrorIs(t, err, data.ErrUnauthorized)

	_, err = s.Create(ctx, tok, data.KindUser, data.Fields{"name": "x"})
	assert.ErrorIs(t, err, data.ErrInvalid)
}

func TestFindFiltersSortsAndIncludes(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	tok := signup(t, s, "a@x.io")
	other := signup(t, s, "b@x.io")
	me, _ := s.Me(ctx, tok)

	for _, name := range []string{"first", "second", "third"} {
		_, err := s.Create(ctx, tok, data.KindRestaurant, data.Fields{"name": name})
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, other, data.KindRestaurant, data.Fields{"name": "not mine"})
	require.NoError(t, err)

	q := data.Where("owner", me.ID).OrderBy(data.Desc("createdAt")).With("owner")
	recs, err := s.Find(ctx, tok, data.KindRestaurant, q)
	require.NoError(t, err)
	require.Len(t, recs, 3)

	var names []string
	for _, r := range recs {
		names = append(names, r.Data["name"].(string))
	}
	assert.Equal(t, []string{"third", "second", "first"}, names)

	owner, ok := recs[0].Data["owner"].(map[string]any)
	require.True(t, ok, "owner should be included")
	assert.Equal(t, me.ID, owner["id"])
	assert.Equal(t, "a@x.io", owner["email"])
	assert.NotContains(t, owner, "password")

	r, err := data.DecodeRestaurant(recs[0])
	require.NoError(t, err)
	require.NotNil(t, r.Owner)
	assert.Equal(t, me.ID, r.OwnerID)
}

func TestFindRejectsBadQueries(t *testing.T) {
	s := newTestStorage(t)
	tok := signup(t, s, "a@x.io")
	ctx := context.Background()

	_, err := s.Find(ctx, tok, data.KindUser, data.Where("password", "x"))
	assert.ErrorIs(t, err, data.ErrInvalid)

	_, err = s.Find(ctx, tok, data.KindRestaurant, data.Query{}.With("name"))
	assert.ErrorIs(t, err, data.ErrInvalid)

	_, err = s.Find(ctx, tok, data.Kind("Nope"), data.Query{})
	assert.ErrorIs(t, err, data.ErrNotFound)
}

func TestFindNeverReturnsPasswords(t *testing.T) {
	s := newTestStorage(t)
	tok := signup(t, s, "a@x.io")

	users, err := s.Find(context.Background(), tok, data.KindUser, data.Query{})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.NotContains(t, users[0].Data, "password")
}

func TestDeleteRestaurantCascadesToMenuItems(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	tok := signup(t, s, "a@x.io")

	r1, err := s.Create(ctx, tok, data.KindRestaurant, data.Fields{"name": "A"})
	require.NoError(t, err)
	r2, err := s.Create(ctx, tok, data.KindRestaurant, data.Fields{"name": "B"})
	require.NoError(t, err)
	for _, r := range []data.Record{r1, r1, r2} {
		_, err := s.Create(ctx, tok, data.KindMenuItem, data.Fields{"name": "x", "price": 1, "restaurant": r.ID})
		require.NoError(t, err)
	}

	require.NoError(t, s.Delete(ctx, tok, data.KindRestaurant, r1.ID))

	items, err := s.Find(ctx, tok, data.KindMenuItem, data.Query{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, r2.ID, items[0].Data["restaurant"])

	err = s.Delete(ctx, tok, data.KindRestaurant, r1.ID)
	assert.ErrorIs(t, err, data.ErrNotFound)
}

// failingDeletes fails every Delete of one kind.
type failingDeletes struct {
	Repository
	kind string
}

func (f failingDeletes) Delete(ctx context.Context, kind string, ids ...string) error {
	if kind == f.kind {
		return errors.New("disk full")
	}
	return f.Repository.Delete(ctx, kind, ids...)
}

func (f failingDeletes) Atomically(ctx context.Context, fn func(Repository) error) error {
	return f.Repository.(Atomic).Atomically(ctx, func(tx Repository) error {
		return fn(failingDeletes{Repository: tx, kind: f.kind})
	})
}

func TestDeleteCascadeRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	schemas, err := dsl.Builtin()
	require.NoError(t, err)
	clock := &stepClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s, err := New(failingDeletes{Repository: NewMemoryRepository(), kind: string(data.KindRestaurant)}, schemas, Options{
		Secret:     []byte("test-secret"),
		BcryptCost: bcrypt.MinCost,
		Now:        clock.Now,
	})
	require.NoError(t, err)
	tok := signup(t, s, "a@x.io")

	r, err := s.Create(ctx, tok, data.KindRestaurant, data.Fields{"name": "A"})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err := s.Create(ctx, tok, data.KindMenuItem, data.Fields{"name": "x", "price": 1, "restaurant": r.ID})
		require.NoError(t, err)
	}

	err = s.Delete(ctx, tok, data.KindRestaurant, r.ID)
	require.ErrorIs(t, err, data.ErrUnavailable)

	items, err := s.Find(ctx, tok, data.KindMenuItem, data.Query{})
	require.NoError(t, err)
	assert.Len(t, items, 2)
	rs, err := s.Find(ctx, tok, data.KindRestaurant, data.Query{})
	require.NoError(t, err)
	assert.Len(t, rs, 1)
}

func TestMemoryAtomicallyDiscardsOnError(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRepository()
	require.NoError(t, m.Insert(ctx, &Record{ID: "a", Kind: "K", Data: map[string]any{"n": 1}}))

	err := m.Atomically(ctx, func(tx Repository) error {
		require.NoError(t, tx.Delete(ctx, "K", "a"))
		require.NoError(t, tx.Insert(ctx, &Record{ID: "b", Kind: "K", Data: map[string]any{}}))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	recs, err := m.List(ctx, "K")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "a", recs[0].ID)

	require.NoError(t, m.Atomically(ctx, func(tx Repository) error {
		return tx.Delete(ctx, "K", "a")
	}))
	_, err = m.Get(ctx, "K", "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteOthersRecordRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	tok := signup(t, s, "a@x.io")
	other := signup(t, s, "b@x.io")

	r, err := s.Create(ctx, other, data.KindRestaurant, data.Fields{"name": "theirs"})
	require.NoError(t, err)

	err = s.Delete(ctx, tok, data.KindRestaurant, r.ID)
	assert.ErrorIs(t, err, data.ErrUnauthorized)

	recs, _ := s.Find(ctx, other, data.KindRestaurant, data.Query{})
	assert.Len(t, recs, 1)
}

const policySchema = `
module test
entity User:
  name: string
  email: string required unique
  password: string required hidden

entity Team:
  name: string required
  owner: ref[User] required on_delete=cascade

entity Player:
  name: string required
  team: ref[Team] on_delete=set_null
  owner: ref[User] required on_delete=cascade

entity Contract:
  player: ref[Player] required
  owner: ref[User] required on_delete=cascade
`

func TestDeleteRestrictAbortsWholeDelete(t *testing.T) {
	ctx := context.Background()
	s := newStorageWith(t, parseSchemas(t, policySchema))
	tok := signup(t, s, "a@x.io")

	p, err := s.Create(ctx, tok, "Player", data.Fields{"name": "Ann"})
	require.NoError(t, err)
	_, err = s.Create(ctx, tok, "Contract", data.Fields{"player": p.ID})
	require.NoError(t, err)

	err = s.Delete(ctx, tok, "Player", p.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, data.ErrConflict)

	players, err := s.Find(ctx, tok, "Player", data.Query{})
	require.NoError(t, err)
	assert.Len(t, players, 1)
}

func TestDeleteSetNullClearsReference(t *testing.T) {
	ctx := context.Background()
	s := newStorageWith(t, parseSchemas(t, policySchema))
	tok := signup(t, s, "a@x.io")

	team, err := s.Create(ctx, tok, "Team", data.Fields{"name": "Reds"})
	require.NoError(t, err)
	p, err := s.Create(ctx, tok, "Player", data.Fields{"name": "Ann", "team": team.ID})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, tok, "Team", team.ID))

	players, err := s.Find(ctx, tok, "Player", data.Where("id", p.ID))
	require.NoError(t, err)
	require.Len(t, players, 1)
	assert.Nil(t, players[0].Data["team"])
	assert.True(t, players[0].UpdatedAt.After(players[0].CreatedAt))
}

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t)
	cat, err := seed.Demo()
	require.NoError(t, err)

	require.NoError(t, s.Seed(ctx, cat))
	require.NoError(t, s.Seed(ctx, cat))

	tok, err := s.Login(ctx, "owner@demo.com", "password")
	require.NoError(t, err)
	me, err := s.Me(ctx, tok)
	require.NoError(t, err)

	recs, err := s.Find(ctx, tok, data.KindRestaurant, data.Where("owner", me.ID))
	require.NoError(t, err)
	assert.Len(t, recs, len(cat.Users[0].Restaurants))

	items, err := s.Find(ctx, tok, data.KindMenuItem, data.Where("restaurant", recs[0].ID).OrderBy(data.Asc("createdAt")))
	require.NoError(t, err)
	assert.Len(t, items, len(cat.Users[0].Restaurants[0].Menu))
}

func TestSchemaLintReportsIssues(t *testing.T) {
	issues := SchemaLint(parseSchemas(t, `
module m
entity A:
  b: ref[B] required on_delete=set_null
  c: ref[Missing]
  d: string on_delete=explode
entity B:
  name: string
`))
	codes := map[string]string{}
	for _, i := range issues {
		codes[i.Field] = i.Code
	}
	assert.Equal(t, "required_conflicts_on_delete", codes["b"])
	assert.Equal(t, "ref_target_unknown", codes["c"])
	assert.Equal(t, "on_delete_unknown", codes["d"])

	_, err := New(NewMemoryRepository(), parseSchemas(t, "module m\nentity A:\n  c: ref[Missing]\n"), Options{})
	assert.Error(t, err)
}

func TestSessionExpires(t *testing.T) {
	schemas, err := dsl.Builtin()
	require.NoError(t, err)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	s, err := New(NewMemoryRepository(), schemas, Options{SessionTTL: time.Hour, BcryptCost: bcrypt.MinCost, Now: clock})
	require.NoError(t, err)
	tok := signup(t, s, "a@x.io")

	mu.Lock()
	now = now.Add(2 * time.Hour)
	mu.Unlock()

	_, err = s.Me(context.Background(), tok)
	assert.ErrorIs(t, err, data.ErrUnauthorized)
}
