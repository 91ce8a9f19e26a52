package dsl

import (
	"embed"
	"fmt"
)

//go:embed schema/*.dsl
var builtin embed.FS

// Builtin returns the entities compiled into the binary, keyed by name.
func Builtin() (map[string]*Entity, error) {
	f, err := builtin.Open("schema/core.dsl")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ents, err := Parse(f, "schema/core.dsl")
	if err != nil {
		return nil, err
	}
	out := make(map[string]*Entity, len(ents))
	for _, e := range ents {
		if _, dup := out[e.Name]; dup {
			return nil, fmt.Errorf("duplicate entity %q", e.Name)
		}
		out[e.Name] = e
	}
	return out, nil
}
