package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/runtime-land/land/internal/cli/api"
	"github.com/runtime-land/land/internal/models"
)

// deployPollPeriod paces the wait loop after an upload. The control plane
// reviews fan-out once a second, so polling faster buys nothing.
const deployPollPeriod = 2 * time.Second

var deployCmd = &cobra.Command{
	Use:   "deploy <project> <wasm-file>",
	Short: "Deploy a compiled wasm artifact",
	Long: `Upload a compiled wasm artifact and roll it out across the fleet.

The deployment serves on the project's preview domain. Promote it to
production afterwards with 'land publish' or deploy with --production.

Examples:
  land deploy my-func ./dist/my-func.wasm
  land deploy my-func ./dist/my-func.wasm --production --wait`,
	Args: cobra.ExactArgs(2),
	RunE: runDeploy,
}

var publishCmd = &cobra.Command{
	Use:   "publish <project>",
	Short: "Promote the latest successful deployment to production",
	Args:  cobra.ExactArgs(1),
	RunE:  runPublish,
}

func init() {
	deployCmd.Flags().Bool("wait", false, "wait until the rollout succeeds or fails")
	deployCmd.Flags().Bool("production", false, "publish to the production domain once the rollout succeeds")
	deployCmd.Flags().Duration("timeout", 2*time.Minute, "how long --wait waits before giving up")

	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(publishCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	project, file := args[0], args[1]

	wasm, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading %s: %w", file, err)
	}
	if len(wasm) == 0 {
		return fmt.Errorf("%s is empty", file)
	}

	client, err := getClient()
	if err != nil {
		return err
	}

	ctx := context.Background()

	fmt.Printf("Uploading %s (%d bytes)...\n", file, len(wasm))
	deployment, err := client.Deploy(ctx, project, wasm)
	if err != nil {
		printError(err)
		return err
	}

	wait, _ := cmd.Flags().GetBool("wait")
	production, _ := cmd.Flags().GetBool("production")
	if production {
		// Publishing needs a finished rollout, so --production implies --wait.
		wait = true
	}

	if !wait {
		if jsonOut {
			return printJSON(deployment)
		}
		fmt.Printf("%s Deployment %d rolling out\n", colorGreen("✓"), deployment.ID)
		fmt.Printf("  Preview: %s\n", deployment.Domain)
		return nil
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	final, err := waitForDeployment(ctx, client, project, deployment.ID, timeout)
	if err != nil {
		printError(err)
		return err
	}
	if final.DeployStatus != models.DeployStatusSuccess {
		err := fmt.Errorf("deployment failed: %s", final.DeployMessage)
		printError(err)
		return err
	}

	if production {
		promoted, err := client.Publish(ctx, project)
		if err != nil {
			printError(err)
			return err
		}
		if jsonOut {
			return printJSON(promoted)
		}
		fmt.Printf("%s Published to production\n", colorGreen("✓"))
		return nil
	}

	if jsonOut {
		return printJSON(final)
	}
	fmt.Printf("%s Deployment %d live\n", colorGreen("✓"), final.ID)
	fmt.Printf("  Preview: %s\n", final.Domain)
	return nil
}

// waitForDeployment polls the project's latest deployment until it reaches
// a terminal state or the timeout elapses.
func waitForDeployment(ctx context.Context, client *api.Client, project string, id int64, timeout time.Duration) (*models.Deployment, error) {
	deadline := time.Now().Add(timeout)
	for {
		p, err := client.GetProject(ctx, project)
		if err != nil {
			return nil, err
		}
		if d := p.Deployment; d != nil && d.ID == id && d.DeployStatus.Terminal() {
			return d, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out after %s waiting for deployment %d", timeout, id)
		}
		time.Sleep(deployPollPeriod)
	}
}

func runPublish(cmd *cobra.Command, args []string) error {
	client, err := getClient()
	if err != nil {
		return err
	}

	promoted, err := client.Publish(context.Background(), args[0])
	if err != nil {
		printError(err)
		return err
	}

	if jsonOut {
		return printJSON(promoted)
	}
	fmt.Printf("%s Deployment %d published to production\n", colorGreen("✓"), promoted.ID)
	return nil
}
