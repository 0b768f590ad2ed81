package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "espejo",
	Short: "Local/remote store synchronization",
	Long: `espejo mirrors the local slot store (items, shift history, language,
pie settings) against the hosted document store backend.

Local writes always commit locally first; while signed in they propagate
upstream as merged, idempotent upserts, and remote changes stream back down
as full-state snapshots. Without a backend the local store works standalone.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ./espejo.toml)")
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
