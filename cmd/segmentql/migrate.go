package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpattn/segmentql/internal/config"
	"github.com/rpattn/segmentql/internal/db"
)

const migrateHelp = `Applies the embedded schema migrations to the configured Postgres database.

The direction defaults to up. "migrate down" rolls back every migration.`

func migrateCmd(rt *cli) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Run database migrations",
		Long:      migrateHelp,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(db.Up), string(db.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			if rt.cfg.Database.Driver != config.DriverPostgres {
				return fmt.Errorf("migrate requires the %s driver, configured driver is %s", config.DriverPostgres, rt.cfg.Database.Driver)
			}

			direction := db.Up
			if len(args) == 1 {
				d, err := db.ParseDirection(args[0])
				if err != nil {
					return err
				}
				direction = d
			}
			return db.RunMigrations(rt.cfg.Database.DB, direction, rt.logger)
		},
	}
}
