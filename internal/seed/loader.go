package seed

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed demo.yaml
var demo []byte

// Demo returns the catalog compiled into the binary.
func Demo() (*Catalog, error) {
	return Parse(demo, "demo.yaml")
}

// Load reads a seed catalog from path. The catalog name defaults to the file name.
func Load(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b, path)
}

func Parse(b []byte, source string) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("seed %s: %w", source, err)
	}
	if c.Name == "" {
		base := filepath.Base(source)
		c.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	seen := make(map[string]struct{}, len(c.Users))
	for i, u := range c.Users {
		email := strings.ToLower(strings.TrimSpace(u.Email))
		if email == "" || u.Password == "" {
			return nil, fmt.Errorf("seed %s: user #%d needs email and password", source, i+1)
		}
		if _, dup := seen[email]; dup {
			return nil, fmt.Errorf("seed %s: duplicate user %s", source, email)
		}
		seen[email] = struct{}{}
	}
	return &c, nil
}
