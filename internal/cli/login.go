package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runtime-land/land/internal/cli/api"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the control plane",
	Long: `Authenticate against the control plane and save credentials locally.

Either exchange an identity-provider session for a fresh token:

  land login --server https://api.runtime.land --session <session-jwt>

or save an existing cmdline token directly (created in the dashboard or
with 'land tokens create'):

  land login --server https://api.runtime.land --token <token>`,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove saved credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := clearCredentials(); err != nil {
			return err
		}
		fmt.Println("Signed out")
		return nil
	},
}

func init() {
	loginCmd.Flags().String("session", "", "identity-provider session to exchange")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	server := resolveServer()
	if server == "" {
		return fmt.Errorf("no server given; pass --server <url> or set LAND_SERVER_URL")
	}

	ctx := context.Background()
	session, _ := cmd.Flags().GetString("session")

	token := authToken
	var who string
	switch {
	case session != "":
		resp, err := api.NewClient(server, "").Login(ctx, session)
		if err != nil {
			printError(err)
			return err
		}
		token = resp.Token.Value
		who = resp.User.Email
	case token != "":
		// Verify the token before persisting it.
		if _, err := api.NewClient(server, token).ListProjects(ctx); err != nil {
			printError(err)
			return err
		}
	default:
		return fmt.Errorf("pass either --session or --token")
	}

	if err := saveCredentials(&credentials{Server: server, Token: token}); err != nil {
		return err
	}
	if who != "" {
		fmt.Printf("%s Signed in as %s\n", colorGreen("✓"), who)
	} else {
		fmt.Printf("%s Signed in\n", colorGreen("✓"))
	}
	return nil
}
