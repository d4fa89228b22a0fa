package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runtime-land/land/internal/cli/api"
)

var projectCmd = &cobra.Command{
	Use:     "projects",
	Aliases: []string{"project"},
	Short:   "Manage projects",
	Long: `Project management commands.

Examples:
  land projects list
  land projects create my-func --language javascript
  land projects get my-func
  land projects rename my-func new-name
  land projects delete my-func`,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your projects",
	RunE:  runProjectList,
}

var projectCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new project",
	Long: `Create a project. With no name the server generates a readable one
(adjective-noun-number) and reserves matching domains.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProjectCreate,
}

var projectGetCmd = &cobra.Command{
	Use:     "get <name>",
	Aliases: []string{"info"},
	Short:   "Show a project and its latest deployment",
	Args:    cobra.ExactArgs(1),
	RunE:    runProjectGet,
}

var projectRenameCmd = &cobra.Command{
	Use:   "rename <name> <new-name>",
	Short: "Rename a project",
	Long: `Rename a project. Its production and preview domains follow the new
name; deployments made under the old name keep their own domains.`,
	Args: cobra.ExactArgs(2),
	RunE: runProjectRename,
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectDelete,
}

func init() {
	projectCreateCmd.Flags().String("language", "", "project language (javascript)")
	projectCreateCmd.Flags().String("description", "", "project description")

	projectDeleteCmd.Flags().BoolP("force", "f", false, "skip confirmation prompt")

	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectGetCmd)
	projectCmd.AddCommand(projectRenameCmd)
	projectCmd.AddCommand(projectDeleteCmd)

	rootCmd.AddCommand(projectCmd)
}

func runProjectList(cmd *cobra.Command, args []string) error {
	client, err := getClient()
	if err != nil {
		return err
	}

	ctx := context.Background()
	list, err := client.ListProjects(ctx)
	if err != nil {
		printError(err)
		return err
	}

	if jsonOut {
		return printJSON(list)
	}
	if len(list) == 0 {
		fmt.Println("No projects yet. Create one with 'land projects create'.")
		return nil
	}

	w := newTable()
	printTableHeader(w, "NAME", "LANGUAGE", "STATUS", "DOMAIN", "UPDATED")
	for _, p := range list {
		status := formatDeployStatus(string(p.DeployStatus))
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.Name,
			p.Language,
			status,
			p.ProdDomain,
			formatAge(p.UpdatedAt),
		)
	}
	return w.Flush()
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	client, err := getClient()
	if err != nil {
		return err
	}

	req := api.CreateProjectRequest{}
	if len(args) == 1 {
		req.Name = args[0]
	}
	req.Language, _ = cmd.Flags().GetString("language")
	req.Description, _ = cmd.Flags().GetString("description")

	ctx := context.Background()
	project, err := client.CreateProject(ctx, req)
	if err != nil {
		printError(err)
		return err
	}

	if jsonOut {
		return printJSON(project)
	}
	fmt.Printf("%s Project '%s' created\n", colorGreen("✓"), project.Name)
	fmt.Printf("  Production: %s\n", project.ProdDomain)
	fmt.Printf("  Preview:    %s\n", project.DevDomain)
	return nil
}

func runProjectGet(cmd *cobra.Command, args []string) error {
	client, err := getClient()
	if err != nil {
		return err
	}

	ctx := context.Background()
	project, err := client.GetProject(ctx, args[0])
	if err != nil {
		printError(err)
		return err
	}

	if jsonOut {
		return printJSON(project)
	}
	fmt.Printf("Name:        %s\n", project.Name)
	fmt.Printf("Language:    %s\n", project.Language)
	fmt.Printf("Status:      %s\n", project.Status)
	fmt.Printf("Production:  %s\n", project.ProdDomain)
	fmt.Printf("Preview:     %s\n", project.DevDomain)
	if project.Description != "" {
		fmt.Printf("Description: %s\n", project.Description)
	}
	if d := project.Deployment; d != nil {
		fmt.Printf("\nLatest deployment:\n")
		fmt.Printf("  ID:      %d\n", d.ID)
		fmt.Printf("  Status:  %s\n", formatDeployStatus(string(d.DeployStatus)))
		if d.DeployMessage != "" && d.DeployMessage != "ok" {
			fmt.Printf("  Message: %s\n", d.DeployMessage)
		}
		fmt.Printf("  Domain:  %s\n", d.Domain)
		fmt.Printf("  Type:    %s\n", d.DeployType)
		fmt.Printf("  Created: %s\n", d.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runProjectRename(cmd *cobra.Command, args []string) error {
	client, err := getClient()
	if err != nil {
		return err
	}

	ctx := context.Background()
	project, err := client.RenameProject(ctx, args[0], args[1])
	if err != nil {
		printError(err)
		return err
	}

	if jsonOut {
		return printJSON(project)
	}
	fmt.Printf("%s Renamed to '%s'\n", colorGreen("✓"), project.Name)
	fmt.Printf("  Production: %s\n", project.ProdDomain)
	fmt.Printf("  Preview:    %s\n", project.DevDomain)
	return nil
}

func runProjectDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	force, _ := cmd.Flags().GetBool("force")
	if !force {
		fmt.Printf("Delete project '%s' and all its deployments? [y/N]: ", name)
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted")
			return nil
		}
	}

	client, err := getClient()
	if err != nil {
		return err
	}
	if err := client.DeleteProject(context.Background(), name); err != nil {
		printError(err)
		return err
	}
	fmt.Printf("%s Project '%s' deleted\n", colorGreen("✓"), name)
	return nil
}
