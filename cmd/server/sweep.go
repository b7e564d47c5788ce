package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/PrakarshaKondour/ETracking-sub000/internal/config"
	"github.com/PrakarshaKondour/ETracking-sub000/internal/db"
	"github.com/PrakarshaKondour/ETracking-sub000/internal/notifications"
	"github.com/PrakarshaKondour/ETracking-sub000/internal/orders"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one delayed-order sweep and exit",
		Long: `sweep escalates every non-terminal order older than DELAY_THRESHOLD that
has no live escalation yet. Use it from an external scheduler instead of the
in-process sweep loop of "serve".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			database, err := db.New(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer database.Close()

			kvClient, err := openKV(ctx, cfg)
			if err != nil {
				return err
			}
			if kvClient == nil {
				return fmt.Errorf("sweep needs REDIS_URL; the in-memory store does not outlive the process")
			}
			defer kvClient.Close()
			store := notifications.NewStore(kvClient)

			orderStore := orders.NewStore(database.Pool)
			producer := notifications.NewProducer(nil, store, nil)
			sweeper := notifications.NewSweeper(orderStore, store, producer, cfg.DelayThreshold, cfg.SweepInterval)

			n, err := sweeper.RunOnce(ctx)
			if err != nil {
				return err
			}
			log.Printf("sweep: escalated %d delayed orders", n)
			return nil
		},
	}
}
