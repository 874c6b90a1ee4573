package main

import (
	"github.com/mohammad-safakhou/wayfarer/config"
	"github.com/mohammad-safakhou/wayfarer/internal/runtime"
	"github.com/spf13/cobra"
)

func migrateCMD(opts *rootOptions) *cobra.Command {
	var migDir string
	var direction string
	var steps int

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres checkpoint schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.Storage.Postgres.Validate(); err != nil {
				return err
			}
			logger := newLogger("MIGRATE")
			logger.Printf("migrating %s from %s", direction, migDir)
			if err := runtime.Migrate(migDir, cfg.Storage.Postgres.DSN(), direction, steps); err != nil {
				return err
			}
			logger.Printf("done")
			return nil
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", runtime.DefaultMigrationsDir, "migrations source")
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	return migrate
}
