package dsl

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	moduleRe = regexp.MustCompile(`^module\s+([A-Za-z0-9_.-]+)$`)
	entityRe = regexp.MustCompile(`^entity\s+(\w+)\s*:$`)
	fieldRe  = regexp.MustCompile(`^([\w_]+)\s*:\s*([^\s#]+)(.*)$`)
	refRe    = regexp.MustCompile(`^ref\[([A-Za-z0-9_.]+)\]$`)
)

var knownTypes = map[string]struct{}{
	"string": {}, "text": {}, "int": {}, "float": {}, "bool": {}, "datetime": {}, "ref": {},
}

// Parse reads entity declarations:
//
//	module core
//	entity Restaurant:
//	  name: string required
//	  owner: ref[User] required on_delete=cascade
func Parse(r io.Reader, source string) ([]*Entity, error) {
	var (
		entities []*Entity
		current  *Entity
		module   string
		lineNo   int
	)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line == "" {
			continue
		}

		if m := moduleRe.FindStringSubmatch(line); m != nil {
			module = m[1]
			continue
		}
		if m := entityRe.FindStringSubmatch(line); m != nil {
			if current != nil {
				entities = append(entities, current)
			}
			current = &Entity{Module: module, Name: m[1]}
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("%s:%d: field outside of entity", source, lineNo)
		}

		m := fieldRe.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("%s:%d: cannot parse %q", source, lineNo, line)
		}
		f := Field{Name: m[1], Type: m[2], Options: map[string]string{}}
		if rm := refRe.FindStringSubmatch(f.Type); rm != nil {
			f.Type = "ref"
			f.RefTarget = rm[1]
		}
		if _, ok := knownTypes[f.Type]; !ok {
			return nil, fmt.Errorf("%s:%d: unknown type %q", source, lineNo, f.Type)
		}
		for _, tok := range strings.Fields(strings.ReplaceAll(m[3], ",", " ")) {
			k, v, ok := strings.Cut(tok, "=")
			k = strings.ToLower(k)
			if !ok {
				f.Options[k] = "true"
				continue
			}
			f.Options[k] = strings.Trim(v, `"'`)
		}
		current.Fields = append(current.Fields, f)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if current != nil {
		entities = append(entities, current)
	}
	return entities, nil
}

// LoadEntities parses one .dsl file.
func LoadEntities(path string) ([]*Entity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f, path)
}

// LoadAllEntities walks root for *.dsl files and indexes entities by name.
// Entity names must be unique across modules.
func LoadAllEntities(root string) (map[string]*Entity, error) {
	result := make(map[string]*Entity)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".dsl") {
			return nil
		}
		ents, err := LoadEntities(path)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, e := range ents {
			if e.Module == "" {
				return fmt.Errorf("entity %q in %s has no module, add `module <name>` at the top", e.Name, path)
			}
			if prev, exists := result[e.Name]; exists {
				return fmt.Errorf("duplicate entity %q (%s and %s)", e.Name, prev.FQN(), e.FQN())
			}
			result[e.Name] = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
