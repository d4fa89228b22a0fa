// Package cli implements the land command-line tool: sign in, manage
// projects and tokens, and deploy wasm artifacts from the shell.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/runtime-land/land/internal/cli/api"
)

var (
	serverURL string
	authToken string
	jsonOut   bool
)

var rootCmd = &cobra.Command{
	Use:   "land",
	Short: "Deploy wasm functions to the Runtime.land platform",
	Long: `land is the command-line interface for the Runtime.land control plane.

Sign in once with 'land login', then manage projects and push compiled
wasm artifacts with 'land deploy'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "control plane URL (default $LAND_SERVER_URL or the saved one)")
	rootCmd.PersistentFlags().StringVar(&authToken, "token", "", "bearer token (default $LAND_TOKEN or the saved one)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "print raw JSON instead of tables")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// resolveServer returns the control plane URL from flag, environment, or
// the saved credentials, in that order.
func resolveServer() string {
	if serverURL != "" {
		return serverURL
	}
	if env := os.Getenv("LAND_SERVER_URL"); env != "" {
		return env
	}
	if creds, err := loadCredentials(); err == nil && creds.Server != "" {
		return creds.Server
	}
	return ""
}

func resolveToken() string {
	if authToken != "" {
		return authToken
	}
	if env := os.Getenv("LAND_TOKEN"); env != "" {
		return env
	}
	if creds, err := loadCredentials(); err == nil {
		return creds.Token
	}
	return ""
}

// getClient builds an authenticated API client or fails with a hint to
// run login first.
func getClient() (*api.Client, error) {
	server := resolveServer()
	if server == "" {
		return nil, fmt.Errorf("no server configured; run 'land login --server <url>' or set LAND_SERVER_URL")
	}
	token := resolveToken()
	if token == "" {
		return nil, fmt.Errorf("not signed in; run 'land login' or set LAND_TOKEN")
	}
	return api.NewClient(server, token), nil
}
