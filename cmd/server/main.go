package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "etracking",
		Short: "Order tracking API and notification pipeline",
		Long: `etracking serves the vendor and customer order API together with the
notification pipeline: event log consumer, delayed-order sweep and live streams.`,
		Version:      version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSweepCmd(),
		newMigrateCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
