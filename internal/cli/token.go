package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var tokensCmd = &cobra.Command{
	Use:     "tokens",
	Aliases: []string{"token"},
	Short:   "Manage access tokens",
	Long: `Token management commands.

A token's value is shown once: at creation (or the first listing after).
Worker tokens authenticate fleet agents and require an admin account.

Examples:
  land tokens list
  land tokens create ci-deploy
  land tokens create fleet-eu --usage worker
  land tokens delete 42`,
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your tokens",
	RunE:  runTokensList,
}

var tokensCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new token",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTokensCreate,
}

var tokensDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"remove"},
	Short:   "Expire a token",
	Args:    cobra.ExactArgs(1),
	RunE:    runTokensDelete,
}

func init() {
	tokensListCmd.Flags().String("usage", "cmdline", "token scope to list (cmdline, worker)")
	tokensCreateCmd.Flags().String("usage", "cmdline", "token scope (cmdline, worker)")

	tokensCmd.AddCommand(tokensListCmd)
	tokensCmd.AddCommand(tokensCreateCmd)
	tokensCmd.AddCommand(tokensDeleteCmd)

	rootCmd.AddCommand(tokensCmd)
}

func runTokensList(cmd *cobra.Command, args []string) error {
	client, err := getClient()
	if err != nil {
		return err
	}

	usage, _ := cmd.Flags().GetString("usage")

	ctx := context.Background()
	list, err := client.ListTokens(ctx, usage)
	if err != nil {
		printError(err)
		return err
	}

	if jsonOut {
		return printJSON(list)
	}
	if len(list) == 0 {
		fmt.Println("No tokens found")
		return nil
	}

	w := newTable()
	printTableHeader(w, "ID", "NAME", "USAGE", "VALUE", "EXPIRES", "LAST USED")
	for _, t := range list {
		value := "(hidden)"
		if t.Value != "" {
			value = t.Value
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			t.ID,
			t.Name,
			t.Usage,
			value,
			t.ExpiredAt.Format("2006-01-02"),
			formatAge(t.LatestUsedAt),
		)
	}
	return w.Flush()
}

func runTokensCreate(cmd *cobra.Command, args []string) error {
	client, err := getClient()
	if err != nil {
		return err
	}

	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	usage, _ := cmd.Flags().GetString("usage")

	ctx := context.Background()
	token, err := client.CreateToken(ctx, name, usage)
	if err != nil {
		printError(err)
		return err
	}

	if jsonOut {
		return printJSON(token)
	}
	fmt.Printf("%s Token '%s' created\n\n", colorGreen("✓"), token.Name)
	fmt.Printf("  %s\n\n", token.Value)
	fmt.Printf("%s Store it now. The value will not be shown again.\n", colorYellow("⚠"))
	return nil
}

func runTokensDelete(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid token id %q", args[0])
	}

	client, err := getClient()
	if err != nil {
		return err
	}
	if err := client.DeleteToken(context.Background(), id); err != nil {
		printError(err)
		return err
	}
	fmt.Printf("%s Token %d expired\n", colorGreen("✓"), id)
	return nil
}
