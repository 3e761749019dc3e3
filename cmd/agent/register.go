package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRegisterCmd() *cobra.Command {
	var (
		name           string
		description    string
		kubeconfigFlag string
		dataDirFlag    string
		prometheusURL  string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register this agent with the orchestration server and save local config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL == "" {
				return fmt.Errorf("--server is required")
			}
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			if kubeconfigFlag == "" {
				return fmt.Errorf("--kubeconfig is required")
			}

			out, err := registerAgent(serverURL, name, description, prometheusURL)
			if err != nil {
				return fmt.Errorf("register: %w", err)
			}

			cfg := agentConfig{
				Server:         serverURL,
				AgentID:        out.ID,
				Token:          out.Token,
				KubeconfigPath: kubeconfigFlag,
				DataDir:        dataDirFlag,
			}
			if err := saveAgentConfig(configPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Printf("registered agent %s (id=%s)\n", name, out.ID)
			fmt.Printf("config saved to %s\n", configPath)
			fmt.Println("run 'inspector-agent run' to start polling for work")
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Agent name, shown to operators")
	cmd.Flags().StringVar(&description, "description", "", "Human-readable description")
	cmd.Flags().StringVar(&kubeconfigFlag, "kubeconfig", "", "Path to the kubeconfig this agent evaluates checks against")
	cmd.Flags().StringVar(&dataDirFlag, "data-dir", defaultAgentDataDir(), "Local directory for the agent's own cluster store and kubeconfig copy")
	cmd.Flags().StringVar(&prometheusURL, "prometheus-url", "", "Prometheus base URL reachable from this agent, if any")

	return cmd
}
