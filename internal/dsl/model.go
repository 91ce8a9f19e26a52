package dsl

import "strings"

// Entity is one record kind declared in a .dsl file.
type Entity struct {
	Module string
	Name   string
	Fields []Field
}

// Field is one attribute of an entity.
type Field struct {
	Name      string
	Type      string            // string, text, int, float, bool, datetime, ref
	RefTarget string            // entity name for ref[...] fields
	Options   map[string]string // required, unique, hidden, on_delete=...
}

func (e *Entity) FQN() string { return e.Module + "." + e.Name }

// Field returns the named field, if declared.
func (e *Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (f Field) Flag(name string) bool {
	return strings.EqualFold(f.Options[name], "true")
}

func (f Field) IsRef() bool { return f.Type == "ref" && f.RefTarget != "" }

// OnDelete is the policy for records that reference a deleted target:
// "restrict" (default), "cascade" or "set_null".
func (f Field) OnDelete() string {
	if p := strings.ToLower(strings.TrimSpace(f.Options["on_delete"])); p != "" {
		return p
	}
	return "restrict"
}
