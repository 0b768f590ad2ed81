package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jlucero/espejo/internal/config"
	"github.com/jlucero/espejo/internal/localstore"
	"github.com/jlucero/espejo/internal/migrate"
	"github.com/jlucero/espejo/internal/schema"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import an item list into the local store",
	Long: `Replace the local item list with the contents of a YAML or JSONL file.

The write goes through the normal tracked-write path, so a running daemon
picks it up and propagates it like any other local edit.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _, err := config.Load(cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		items, err := migrate.ReadItemsFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading items: %v\n", err)
			os.Exit(1)
		}

		store, err := localstore.Open(cfg.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening local store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		if err := store.InitSchema(); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing local store: %v\n", err)
			os.Exit(1)
		}

		raw, err := schema.EncodeItems(items)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding items: %v\n", err)
			os.Exit(1)
		}
		if err := store.Put(schema.KeyItems, raw, localstore.OriginUser); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing items: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Imported %d items into %s\n", len(items), cfg.DBPath)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export the local item list to a YAML file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _, err := config.Load(cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		store, err := localstore.Open(cfg.DBPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening local store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		if err := store.InitSchema(); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing local store: %v\n", err)
			os.Exit(1)
		}

		var items []schema.Item
		if raw, ok, err := store.Get(schema.KeyItems); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading items: %v\n", err)
			os.Exit(1)
		} else if ok {
			items, err = schema.DecodeItems(raw)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error decoding items: %v\n", err)
				os.Exit(1)
			}
		}

		if err := migrate.WriteItemsFile(args[0], items); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing export: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Exported %d items to %s\n", len(items), args[0])
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
}
