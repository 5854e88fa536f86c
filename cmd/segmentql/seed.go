package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rpattn/segmentql/internal/config"
	"github.com/rpattn/segmentql/internal/db"
	"github.com/rpattn/segmentql/internal/domain"
	"github.com/rpattn/segmentql/internal/repository"
	"github.com/rpattn/segmentql/internal/repository/memory"
)

func seedCmd(rt *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Load custom fields and contacts from a JSON seed file into Postgres",
		Long: `Loads a seed document of the form {"customFields": [...], "records": [...]}.

Custom fields that already exist are kept. Records are upserted by id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rt.cfg.Database.Driver != config.DriverPostgres {
				return fmt.Errorf("seed requires the %s driver; the memory driver reads database.seed_path at startup", config.DriverPostgres)
			}

			seed, err := memory.ReadSeed(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			conn, err := db.NewConnection(ctx, rt.cfg.Database.DB)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer conn.Close()

			contacts := repository.NewContactRepository(conn.Pool)
			created := 0
			for _, def := range seed.CustomFields {
				if _, err := contacts.CreateCustomField(ctx, def); err != nil {
					if errors.Is(err, domain.ErrDuplicateKey) {
						rt.logger.Info("custom field already defined", "key", def.Key)
						continue
					}
					return fmt.Errorf("failed to seed custom field %s: %w", def.Key, err)
				}
				created++
			}

			if err := contacts.Insert(ctx, seed.Records...); err != nil {
				return err
			}

			rt.logger.Info("seed loaded", "customFields", created, "records", len(seed.Records))
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d custom fields and %d records\n", created, len(seed.Records))
			return nil
		},
	}
}
