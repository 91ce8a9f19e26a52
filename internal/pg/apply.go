package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"flavorfind/internal/logging"
)

// ApplyDDL runs the statements of GenerateDDL in key order. Statements are
// idempotent; objects that already exist are skipped.
func ApplyDDL(ctx context.Context, db *sql.DB, ddl map[string]string, log *logrus.Entry) error {
	log = logging.OrDiscard(log)

	keys := make([]string, 0, len(ddl))
	for k := range ddl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	for _, k := range keys {
		sqlText := strings.TrimSpace(ddl[k])
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && (pgErr.Code == "42710" || pgErr.Code == "42P07") {
				log.WithField("step", k).Debugf("DDL skipped, already exists: %s", strings.TrimSpace(pgErr.Message))
				continue
			}
			return fmt.Errorf("DDL %s: %w", k, err)
		}
		log.WithField("step", k).Debug("DDL applied")
	}
	return nil
}
