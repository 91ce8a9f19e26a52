package pg

import (
	"fmt"
	"sort"
	"strings"

	"flavorfind/internal/dsl"
)

const recordsTable = "records"

func sqlIdent(s string) string { return `"` + strings.ReplaceAll(strings.ToLower(s), `"`, `""`) + `"` }

func sqlLiteral(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }

func indexName(kind, field, suffix string) string {
	return sqlIdent(fmt.Sprintf("%s_%s_%s_%s", recordsTable, strings.ToLower(kind), strings.ToLower(field), suffix))
}

// GenerateDDL returns the statements keyed in apply order: the records table
// first, then one step of indexes per kind.
//
// Unique fields get a case-insensitive unique index, references a plain one.
// Delete policies are enforced by the store, not by foreign keys.
func GenerateDDL(entities map[string]*dsl.Entity) (map[string]string, error) {
	out := make(map[string]string, len(entities)+1)
	out["000_records"] = fmt.Sprintf(`create table if not exists %s (
  "kind" text not null,
  "id" text not null,
  "created_at" timestamp with time zone not null,
  "updated_at" timestamp with time zone not null,
  "data" jsonb not null default '{}'::jsonb,
  primary key ("kind", "id")
);`, sqlIdent(recordsTable))

	keys := make([]string, 0, len(entities))
	for k := range entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		e := entities[k]
		var sb strings.Builder
		seen := map[string]struct{}{"id": {}, "createdat": {}, "updatedat": {}}
		for _, f := range e.Fields {
			lower := strings.ToLower(f.Name)
			if _, dup := seen[lower]; dup {
				return nil, fmt.Errorf("%s: field %q duplicates a system or another field", e.Name, f.Name)
			}
			seen[lower] = struct{}{}

			expr := fmt.Sprintf("(%s->>%s)", sqlIdent("data"), sqlLiteral(f.Name))
			where := fmt.Sprintf("where %s = %s", sqlIdent("kind"), sqlLiteral(e.Name))
			switch {
			case f.Flag("unique"):
				fmt.Fprintf(&sb, "create unique index if not exists %s on %s ((lower%s)) %s;\n",
					indexName(e.Name, f.Name, "uq"), sqlIdent(recordsTable), expr, where)
			case f.IsRef():
				fmt.Fprintf(&sb, "create index if not exists %s on %s (%s) %s;\n",
					indexName(e.Name, f.Name, "idx"), sqlIdent(recordsTable), expr, where)
			}
		}
		if sb.Len() > 0 {
			out["100_"+strings.ToLower(e.Name)] = sb.String()
		}
	}
	return out, nil
}
