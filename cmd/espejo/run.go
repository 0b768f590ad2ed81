package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jlucero/espejo/internal/config"
	"github.com/jlucero/espejo/internal/engine"
	"github.com/jlucero/espejo/internal/identity"
	"github.com/jlucero/espejo/internal/localstore"
	"github.com/jlucero/espejo/internal/remote"
)

var (
	runOffline bool
	runEmail   string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon",
	Long: `Run the synchronization daemon.

The daemon:
  1. Opens the local slot database
  2. Connects to the document store backend (unless --offline)
  3. Signs in when --email is given (password from ESPEJO_PASSWORD or prompt)
  4. Mirrors remote snapshots locally and propagates local writes upstream
  5. Shuts down cleanly on SIGINT/SIGTERM`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, v, err := config.Load(cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		var logOut io.Writer = os.Stderr
		if cfg.LogFile != "" {
			logOut = &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    10, // MB
				MaxBackups: 3,
				MaxAge:     14, // days
			}
		}
		logger := log.New(logOut, "[espejo] ", log.LstdFlags)

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

		ctx, stop := signal.NotifyContext(context.Background(),
			syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var docs remote.DocStore
		var gate *identity.Gate
		var ws *remote.WSStore
		if !runOffline && cfg.RemoteURL != "" {
			ws, err = remote.Dial(ctx, cfg.RemoteURL, logger)
			if err != nil {
				// Degrade to local-only rather than refusing to start.
				logger.Printf("Backend unreachable, running local-only: %v", err)
			} else {
				defer ws.Close()
				docs = ws
				users := remote.NewAdapters(ws, cfg.StoreID).Users
				gate = identity.NewGate(ws, users, logger)
			}
		}

		eng, err := engine.New(engine.Config{
			Store:    store,
			Remote:   docs,
			Gate:     gate,
			StoreID:  cfg.StoreID,
			Debounce: cfg.Debounce,
			Logger:   logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating engine: %v\n", err)
			os.Exit(1)
		}

		if err := eng.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting engine: %v\n", err)
			os.Exit(1)
		}
		defer eng.Stop()

		config.Watch(v, func(fresh *config.Config) {
			logger.Printf("Config reloaded: debounce=%s", fresh.Debounce)
			eng.SetDebounce(fresh.Debounce)
		})

		if ws != nil && runEmail != "" {
			password, err := readPassword()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading password: %v\n", err)
				os.Exit(1)
			}
			if _, err := ws.SignIn(ctx, runEmail, password); err != nil {
				// Auth failures surface to the user; sync stays off but the
				// local store keeps working.
				fmt.Fprintf(os.Stderr, "Sign-in failed: %v\n", err)
			}
		}

		logger.Printf("Daemon running (store=%s, db=%s)", cfg.StoreID, cfg.DBPath)
		<-ctx.Done()
		logger.Printf("Shutdown signal received")
	},
}

func init() {
	runCmd.Flags().BoolVar(&runOffline, "offline", false, "skip the backend connection")
	runCmd.Flags().StringVar(&runEmail, "email", "", "sign in as this account on startup")
	rootCmd.AddCommand(runCmd)
}
