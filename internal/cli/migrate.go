package cli

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"skillquiz-service/internal/config"
	"skillquiz-service/internal/infra/memory"
	"skillquiz-service/internal/infra/postgres"
	pgmigrations "skillquiz-service/internal/infra/postgres/migrations"
	"skillquiz-service/internal/logger"
)

// NewMigrateCmd applies database migrations and optionally seeds the question bank.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var seedPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log.Mode)
			if err != nil {
				return err
			}
			defer log.Sync()

			if err := runMigrationsWithConfig(cmd.Context(), cfg, log); err != nil {
				return err
			}
			if seedPath != "" {
				return seedQuestionBank(cmd.Context(), cfg, seedPath, log)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&seedPath, "seed", "", "YAML question bank to load into Postgres")
	return cmd
}

func newBunDB(url string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(url)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func runMigrationsWithConfig(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	if cfg.Postgres.URL == "" {
		return fmt.Errorf("postgres url not configured")
	}

	db := newBunDB(cfg.Postgres.URL)
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		return err
	}
	group, err := migrator.Migrate(ctx)
	if err != nil {
		return err
	}
	if group.IsZero() {
		log.Info("no new migrations")
		return nil
	}
	log.Info("migrations applied", "group", group.String())
	return nil
}

func seedQuestionBank(ctx context.Context, cfg config.Config, path string, log *logger.Logger) error {
	banks, err := memory.ReadQuestionBank(path)
	if err != nil {
		return err
	}
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	subjects := make([]string, 0, len(banks))
	for subject := range banks {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)

	loader := postgres.NewQuestionLoader(pool)
	for _, subject := range subjects {
		if err := loader.SeedQuestions(ctx, subject, banks[subject]); err != nil {
			return err
		}
		log.Info("question bank seeded", "subject", subject, "questions", len(banks[subject]))
	}
	return nil
}
