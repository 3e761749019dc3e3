package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// agentConfig is the agent's local identity and connection state, persisted
// across `register` and `run` invocations.
type agentConfig struct {
	Server        string `json:"server"`
	AgentID       string `json:"agent_id"`
	Token         string `json:"token"`
	KubeconfigPath string `json:"kubeconfig_path"`
	DataDir       string `json:"data_dir"`
}

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".inspector-agent", "config.json")
}

func saveAgentConfig(path string, cfg agentConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func loadAgentConfig(path string) (agentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return agentConfig{}, fmt.Errorf("not registered (run 'inspector-agent register' first): %w", err)
	}
	var cfg agentConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return agentConfig{}, err
	}
	return cfg, nil
}

func resolveServer(cfg agentConfig) string {
	if serverURL != "" {
		return serverURL
	}
	if s := os.Getenv("INSPECTOR_SERVER"); s != "" {
		return s
	}
	return cfg.Server
}
