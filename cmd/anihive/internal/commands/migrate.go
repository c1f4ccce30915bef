package commands

import (
	"context"
	"fmt"

	"github.com/anihive/anihive"
	"github.com/anihive/anihive/logger"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

type MigrateCmd struct {
	Database DatabaseFlags `embed:"" prefix:"db-"`
	Rollback bool          `help:"roll back the last migration group instead of migrating"`
}

func (m *MigrateCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	if err := m.Database.Validate(); err != nil {
		return err
	}

	db, err := m.Database.Open()
	if err != nil {
		return err
	}
	defer db.Close()

	migrator, err := newMigrator(ctx, db)
	if err != nil {
		return err
	}

	if m.Rollback {
		group, err := migrator.Rollback(ctx)
		if err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		if group.IsZero() {
			log.Info().Msg("nothing to roll back")
			return nil
		}
		log.Info().Str("group", group.String()).Msg("rolled back")
		return nil
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	if group.IsZero() {
		log.Info().Msg("database is up to date")
		return nil
	}
	log.Info().Str("group", group.String()).Msg("migrated")
	return nil
}

func newMigrator(ctx context.Context, db *bun.DB) (*migrate.Migrator, error) {
	migrations := migrate.NewMigrations()
	if err := migrations.Discover(anihive.GetMigrationsFS()); err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	migrator := migrate.NewMigrator(db, migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to init migrations: %w", err)
	}
	return migrator, nil
}
