package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jlucero/espejo/internal/config"
	"github.com/jlucero/espejo/internal/identity"
	"github.com/jlucero/espejo/internal/remote"
)

var loginCmd = &cobra.Command{
	Use:   "login [email]",
	Short: "Verify backend credentials",
	Long: `Sign in against the document store backend and report the resolved
identity and role. Useful for checking an account before handing it to the
daemon.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _, err := config.Load(cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		if cfg.RemoteURL == "" {
			fmt.Fprintf(os.Stderr, "Error: no remote_url configured\n")
			os.Exit(1)
		}

		email := ""
		if len(args) > 0 {
			email = args[0]
		}
		if email == "" {
			fmt.Print("Email: ")
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading email: %v\n", err)
				os.Exit(1)
			}
			email = strings.TrimSpace(line)
		}

		password, err := readPassword()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading password: %v\n", err)
			os.Exit(1)
		}

		ctx := context.Background()
		ws, err := remote.Dial(ctx, cfg.RemoteURL, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to backend: %v\n", err)
			os.Exit(1)
		}
		defer ws.Close()

		users := remote.NewAdapters(ws, cfg.StoreID).Users
		gate := identity.NewGate(ws, users, nil)

		if _, err := ws.SignIn(ctx, email, password); err != nil {
			fmt.Fprintf(os.Stderr, "Sign-in failed: %v\n", err)
			os.Exit(1)
		}

		id := gate.Current()
		if id == nil {
			fmt.Fprintf(os.Stderr, "Sign-in did not produce an identity\n")
			os.Exit(1)
		}
		fmt.Printf("Signed in as %s (role: %s)\n", id.UID, id.Role)
	},
}

// readPassword takes the password from ESPEJO_PASSWORD, or prompts without
// echo when attached to a terminal.
func readPassword() (string, error) {
	if pw := os.Getenv("ESPEJO_PASSWORD"); pw != "" {
		return pw, nil
	}
	fmt.Print("Password: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(raw), nil
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
