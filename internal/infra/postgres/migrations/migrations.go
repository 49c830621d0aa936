package migrations

import (
	"context"
	"embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed sql/*.sql
var sqlFiles embed.FS

var Migrations = migrate.NewMigrations()

func execFile(ctx context.Context, db *bun.DB, name string) error {
	query, err := sqlFiles.ReadFile("sql/" + name)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(query))
	return err
}
