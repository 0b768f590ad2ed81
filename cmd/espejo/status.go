package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jlucero/espejo/internal/config"
	"github.com/jlucero/espejo/internal/localstore"
	"github.com/jlucero/espejo/internal/schema"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local store status",
	Long: `Display a summary of every tracked slot in the local store:
item and shift counts, the current language, and the pie configuration.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _, err := config.Load(cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		info, err := os.Stat(cfg.DBPath)
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Printf("Local store not initialized (%s)\n", cfg.DBPath)
				fmt.Printf("Run 'espejo run' or 'espejo import' to create it\n")
				return
			}
			fmt.Fprintf(os.Stderr, "Error checking local store: %v\n", err)
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

		fmt.Printf("Store:    %s (%d bytes)\n", cfg.DBPath, info.Size())
		if cfg.StoreID != "" {
			fmt.Printf("Tenant:   %s\n", cfg.StoreID)
		}
		if cfg.RemoteURL != "" {
			fmt.Printf("Backend:  %s\n", cfg.RemoteURL)
		} else {
			fmt.Printf("Backend:  (none, local-only)\n")
		}

		if raw, ok, _ := store.Get(schema.KeyItems); ok {
			if items, err := schema.DecodeItems(raw); err == nil {
				done := 0
				for _, it := range items {
					if it.Done {
						done++
					}
				}
				fmt.Printf("Items:    %d (%d done)\n", len(items), done)
			}
		}
		if raw, ok, _ := store.Get(schema.KeyShifts); ok {
			if shifts, err := schema.DecodeShifts(raw); err == nil {
				fmt.Printf("Shifts:   %d\n", len(shifts))
			}
		}
		lang := schema.DefaultLang
		if raw, ok, _ := store.Get(schema.KeyLang); ok {
			if l, err := schema.DecodeLang(raw); err == nil {
				lang = l
			}
		}
		fmt.Printf("Language: %s\n", lang)
		if raw, ok, _ := store.Get(schema.KeyPieNames); ok {
			if names, err := schema.DecodeStringMap(raw); err == nil {
				fmt.Printf("Pies:     %d configured\n", len(names))
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
