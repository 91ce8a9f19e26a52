package store

import (
	"fmt"
	"sort"
	"strings"

	"flavorfind/internal/dsl"
)

type SchemaIssue struct {
	Entity  string `json:"entity"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i SchemaIssue) String() string {
	return fmt.Sprintf("%s.%s: %s", i.Entity, i.Field, i.Message)
}

// SchemaLint reports contradictions in the loaded schemas.
func SchemaLint(schemas map[string]*dsl.Entity) []SchemaIssue {
	var issues []SchemaIssue

	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		e := schemas[name]
		for _, f := range e.Fields {
			if od := strings.TrimSpace(strings.ToLower(f.Options["on_delete"])); od != "" {
				switch od {
				case "restrict", "set_null", "cascade":
				default:
					issues = append(issues, SchemaIssue{
						Entity:  name,
						Field:   f.Name,
						Code:    "on_delete_unknown",
						Message: fmt.Sprintf("unknown on_delete policy %q (allowed: restrict|set_null|cascade)", od),
					})
				}
			}

			if f.Type != "ref" {
				continue
			}
			if f.Flag("required") && f.OnDelete() == "set_null" {
				issues = append(issues, SchemaIssue{
					Entity:  name,
					Field:   f.Name,
					Code:    "required_conflicts_on_delete",
					Message: "required ref cannot have on_delete=set_null",
				})
			}
			if strings.TrimSpace(f.RefTarget) == "" {
				issues = append(issues, SchemaIssue{
					Entity:  name,
					Field:   f.Name,
					Code:    "ref_target_empty",
					Message: "ref field has no target",
				})
			} else if _, ok := schemas[f.RefTarget]; !ok {
				issues = append(issues, SchemaIssue{
					Entity:  name,
					Field:   f.Name,
					Code:    "ref_target_unknown",
					Message: fmt.Sprintf("ref target %q is not declared", f.RefTarget),
				})
			}
		}
	}
	return issues
}
