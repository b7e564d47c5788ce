package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/PrakarshaKondour/ETracking-sub000/internal/config"
	"github.com/PrakarshaKondour/ETracking-sub000/internal/db"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Apply or roll back the database schema",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{string(db.Up), string(db.Down)},
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := db.Up
			if len(args) == 1 {
				parsed, err := db.ParseDirection(args[0])
				if err != nil {
					return err
				}
				dir = parsed
			}

			cfg := config.Load()
			log.Printf("migrate: running %s migrations from %s", dir, cfg.MigrationsPath)
			return db.Migrate(cfg.DatabaseURL, cfg.MigrationsPath, dir)
		},
	}
}
