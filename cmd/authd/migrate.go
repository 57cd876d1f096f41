package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	auth "github.com/goliatone/go-auth-issuer"

	"github.com/goliatone/go-auth-issuer/persistence"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE:  runMigrateUp,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the last migration group",
		RunE:  runMigrateDown,
	})
	return cmd
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	return withDB(cmd, func(ctx context.Context, db *bun.DB, logger auth.Logger) error {
		group, err := persistence.Migrate(ctx, db, logger)
		if err != nil {
			return err
		}
		if group.IsZero() {
			cmd.Println("database is up to date")
			return nil
		}
		cmd.Printf("migrated to %s\n", group)
		return nil
	})
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	return withDB(cmd, func(ctx context.Context, db *bun.DB, _ auth.Logger) error {
		group, err := persistence.Rollback(ctx, db)
		if err != nil {
			return err
		}
		if group.IsZero() {
			cmd.Println("nothing to roll back")
			return nil
		}
		cmd.Printf("rolled back %s\n", group)
		return nil
	})
}

// withDB opens only the database, so migrations run without the rest of
// the service configured.
func withDB(cmd *cobra.Command, fn func(context.Context, *bun.DB, auth.Logger) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	zl, err := newZapLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = zl.Sync() }()

	ctx := cmd.Context()
	db, err := persistence.Open(ctx, persistence.Config{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		Debug:        cfg.Database.Debug,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(ctx, db, auth.NewZapLogger(zl))
}
