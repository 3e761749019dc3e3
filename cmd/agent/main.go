// Command agent is the external worker binary for agent-executed runs (spec
// §4.2). It registers itself with an orchestration-core server, then polls
// for leased tasks, evaluates each one against a single locally-configured
// cluster, and reports results back over the bearer-token-authenticated
// agent plane.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	serverURL  string
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "inspector-agent",
		Short:   "Agent worker for the cluster inspection orchestration core",
		Version: version,
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Orchestration server base URL (e.g. https://inspector.example.com)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Path to the agent's local config file")

	rootCmd.AddCommand(
		newRegisterCmd(),
		newRunCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agent binary version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}
