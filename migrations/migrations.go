// Package migrations embeds the schema and applies it in file order.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"sort"

	"github.com/cockroachdb/errors"
)

//go:embed *.sql
var files embed.FS

// Apply executes every embedded migration. Statements are idempotent.
func Apply(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("migrations: nil db")
	}
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		content, err := files.ReadFile(name)
		if err != nil {
			return errors.Wrapf(err, "read %s", name)
		}
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return errors.Wrapf(err, "apply %s", name)
		}
	}
	return nil
}
