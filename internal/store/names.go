package store

import (
	"sort"
	"strings"

	"flavorfind/internal/dsl"
)

// schemaFor resolves a kind name case-insensitively. A "module.Name" form is
// accepted as well.
func (s *Storage) schemaFor(kind string) (*dsl.Entity, bool) {
	name := strings.TrimSpace(kind)
	if e, ok := s.schemas[name]; ok {
		return e, true
	}
	if dot := strings.LastIndexByte(name, '.'); dot >= 0 {
		mod := name[:dot]
		name = name[dot+1:]
		for _, e := range s.schemas {
			if strings.EqualFold(e.Module, mod) && strings.EqualFold(e.Name, name) {
				return e, true
			}
		}
		return nil, false
	}
	for _, e := range s.schemas {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return nil, false
}

type incomingRef struct {
	kind   string
	field  string
	policy string
}

// incomingRefs lists the ref fields of every kind that point at target,
// ordered by kind and field name.
func (s *Storage) incomingRefs(target string) []incomingRef {
	var out []incomingRef
	for _, e := range s.schemas {
		for _, f := range e.Fields {
			if !f.IsRef() {
				continue
			}
			if t, ok := s.schemaFor(f.RefTarget); ok && t.Name == target {
				out = append(out, incomingRef{kind: e.Name, field: f.Name, policy: f.OnDelete()})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].kind != out[j].kind {
			return out[i].kind < out[j].kind
		}
		return out[i].field < out[j].field
	})
	return out
}
