package dsl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFieldsAndOptions(t *testing.T) {
	src := `
module shop
# comment line
entity Restaurant:
  name: string required   # trailing comment
  owner: ref[User] required, on_delete=cascade
  rating: float default='0'
`
	ents, err := Parse(strings.NewReader(src), "inline")
	require.NoError(t, err)
	require.Len(t, ents, 1)

	e := ents[0]
	assert.Equal(t, "shop.Restaurant", e.FQN())
	require.Len(t, e.Fields, 3)

	name, ok := e.Field("name")
	require.True(t, ok)
	assert.True(t, name.Flag("required"))
	assert.False(t, name.IsRef())

	owner, _ := e.Field("owner")
	assert.True(t, owner.IsRef())
	assert.Equal(t, "User", owner.RefTarget)
	assert.Equal(t, "cascade", owner.OnDelete())

	rating, _ := e.Field("rating")
	assert.Equal(t, "0", rating.Options["default"])
	assert.Equal(t, "restrict", rating.OnDelete())
}

func TestParseRejectsUnknownType(t *testing.T) {
	_, err := Parse(strings.NewReader("module m\nentity A:\n  x: blob\n"), "bad.dsl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.dsl:3")
}

func TestParseRejectsFieldOutsideEntity(t *testing.T) {
	_, err := Parse(strings.NewReader("module m\n  x: string\n"), "bad.dsl")
	assert.Error(t, err)
}

func TestBuiltinSchema(t *testing.T) {
	ents, err := Builtin()
	require.NoError(t, err)
	require.Contains(t, ents, "MenuItem")

	restaurant, ok := ents["MenuItem"].Field("restaurant")
	require.True(t, ok)
	assert.Equal(t, "Restaurant", restaurant.RefTarget)
	assert.Equal(t, "cascade", restaurant.OnDelete())

	pw, _ := ents["User"].Field("password")
	assert.True(t, pw.Flag("hidden"))
}

func TestLoadAllEntitiesDuplicate(t *testing.T) {
	dir := t.TempDir()
	body := []byte("module a\nentity Thing:\n  name: string\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "one.dsl"), body, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "two.dsl"), body, 0o644))

	_, err := LoadAllEntities(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate entity")
}

func TestLoadAllEntitiesRequiresModule(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.dsl"), []byte("entity Thing:\n  name: string\n"), 0o644))

	_, err := LoadAllEntities(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no module")
}
