package data

import (
	"fmt"
	"sort"
	"strings"
)

// Sort orders a find by a single field.
type Sort struct {
	Field string
	Desc  bool
}

// Asc and Desc build a Sort.
func Asc(field string) Sort  { return Sort{Field: field} }
func Desc(field string) Sort { return Sort{Field: field, Desc: true} }

// Query is what a find sends to the platform: exact-equality filters, one
// sort key and the reference fields to attach eagerly.
type Query struct {
	Filter  map[string]string
	Sort    Sort
	Include []string
}

// Where starts a query with a single equality filter.
func Where(field, value string) Query {
	return Query{Filter: map[string]string{field: value}}
}

func (q Query) OrderBy(s Sort) Query {
	q.Sort = s
	return q
}

func (q Query) With(fields ...string) Query {
	q.Include = append(append([]string(nil), q.Include...), fields...)
	return q
}

// String renders the query for logs, e.g. "owner=01H.. sort=-createdAt include=owner".
func (q Query) String() string {
	var parts []string
	for k, v := range q.Filter {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	if q.Sort.Field != "" {
		dir := "+"
		if q.Sort.Desc {
			dir = "-"
		}
		parts = append(parts, fmt.Sprintf("sort=%s%s", dir, q.Sort.Field))
	}
	if len(q.Include) > 0 {
		parts = append(parts, "include="+strings.Join(q.Include, ","))
	}
	return strings.Join(parts, " ")
}
