package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"flavorfind/internal/data"
)

// system fields that can be filtered or sorted on besides schema fields
const (
	fieldID        = "id"
	fieldCreatedAt = "createdAt"
	fieldUpdatedAt = "updatedAt"
)

func value(rec *Record, field string) (any, bool) {
	switch field {
	case fieldID:
		return rec.ID, true
	case fieldCreatedAt:
		return rec.CreatedAt, true
	case fieldUpdatedAt:
		return rec.UpdatedAt, true
	}
	v, ok := rec.Data[field]
	return v, ok
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// matches applies exact-equality filters on the string form of each value.
func matches(rec *Record, filter map[string]string) bool {
	for field, want := range filter {
		got, ok := value(rec, field)
		if !ok || got == nil {
			return false
		}
		if toString(got) != want {
			return false
		}
	}
	return true
}

func filterRecords(all []*Record, filter map[string]string) []*Record {
	if len(filter) == 0 {
		return all
	}
	out := make([]*Record, 0, len(all))
	for _, r := range all {
		if matches(r, filter) {
			out = append(out, r)
		}
	}
	return out
}

func isNull(v any, ok bool) bool { return !ok || v == nil }

// cmpByKey compares two records on one key; nulls sort last in either direction.
func cmpByKey(a, b *Record, key string, desc bool) int {
	va, oka := value(a, key)
	vb, okb := value(b, key)

	na, nb := isNull(va, oka), isNull(vb, okb)
	if na && nb {
		return 0
	}
	if na != nb {
		if na {
			return +1
		}
		return -1
	}

	rel := compareValues(va, vb)
	if desc {
		rel = -rel
	}
	return rel
}

func compareValues(a, b any) int {
	switch x := a.(type) {
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	case float64:
		if y, ok := b.(float64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return +1
			}
			return 0
		}
	}
	return strings.Compare(toString(a), toString(b))
}

// sortRecords orders by the query's sort key. Ties keep id order, reversed for
// descending sorts so that equal timestamps still list newest first.
func sortRecords(records []*Record, s data.Sort) {
	if s.Field == "" {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		if c := cmpByKey(records[i], records[j], s.Field, s.Desc); c != 0 {
			return c < 0
		}
		if s.Desc {
			return records[i].ID > records[j].ID
		}
		return records[i].ID < records[j].ID
	})
}
