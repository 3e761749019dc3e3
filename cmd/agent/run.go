package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/clusterguard/inspector/internal/check"
	"github.com/clusterguard/inspector/internal/cluster"
	"github.com/clusterguard/inspector/internal/db"
	"github.com/clusterguard/inspector/internal/item"
	"github.com/clusterguard/inspector/internal/logging"
	"github.com/clusterguard/inspector/internal/run"
)

const localClusterName = "local"

// createLocalClusterSchema bootstraps just the clusters table this binary
// needs, the same way package tests seed a throwaway sqlite schema rather
// than pulling in the full golang-migrate migration set.
const createLocalClusterSchema = `
CREATE TABLE IF NOT EXISTS clusters (
    id                  TEXT PRIMARY KEY,
    name                TEXT NOT NULL UNIQUE,
    kubeconfig_path     TEXT NOT NULL,
    prometheus_url      TEXT,
    contexts            TEXT NOT NULL,
    connection_status   TEXT NOT NULL,
    connection_message  TEXT,
    kubernetes_version  TEXT,
    node_count          INTEGER,
    last_checked_at     TIMESTAMP,
    execution_mode      TEXT NOT NULL,
    default_agent_id    TEXT,
    created_at          TIMESTAMP NOT NULL,
    updated_at          TIMESTAMP NOT NULL
)`

func defaultAgentDataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".inspector-agent", "data")
}

func newRunCmd() *cobra.Command {
	var pollInterval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll for leased tasks and evaluate checks against the configured cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), pollInterval)
		},
	}

	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 5*time.Second, "Delay between task poll cycles")
	return cmd
}

func runAgent(ctx context.Context, pollInterval time.Duration) error {
	cfg, err := loadAgentConfig(configPath)
	if err != nil {
		return err
	}
	server := resolveServer(cfg)
	if server == "" {
		return fmt.Errorf("--server is required or set INSPECTOR_SERVER")
	}

	logCfg := logging.DefaultConfig()
	if cfg.DataDir != "" {
		logCfg.LogPath = filepath.Join(cfg.DataDir, "logs", "agent.log")
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	localCluster, engine, err := bootstrapLocalCluster(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("bootstrap local cluster: %w", err)
	}

	api := newAPIClient(server, cfg.AgentID, cfg.Token)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("agent starting", zap.String("server", server), zap.String("agent_id", cfg.AgentID))

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("agent stopping")
			return nil
		case <-ticker.C:
			if err := api.Heartbeat(); err != nil {
				logger.Warn("heartbeat failed", zap.Error(err))
			}
			pollOnce(ctx, api, engine, localCluster, logger)
		}
	}
}

// bootstrapLocalCluster ensures exactly one Cluster row exists in this
// agent's own embedded sqlite store, pointed at the kubeconfig it was
// registered with, so internal/check.Engine (which always resolves a
// cluster by looking it up through its *cluster.Manager) can be reused
// unmodified rather than forked for the agent binary.
func bootstrapLocalCluster(ctx context.Context, cfg agentConfig, logger *zap.Logger) (*cluster.Cluster, *check.Engine, error) {
	sqlitePath := filepath.Join(cfg.DataDir, "agent.db")
	database, err := db.New(ctx, "", sqlitePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open local store: %w", err)
	}
	if _, err := database.Exec(ctx, createLocalClusterSchema); err != nil {
		return nil, nil, fmt.Errorf("create local schema: %w", err)
	}

	store := cluster.NewStore(database)
	manager := cluster.NewManager(store, cfg.DataDir, logger)

	existing, err := store.GetClusterByName(ctx, localClusterName)
	if err == nil {
		return existing, check.NewEngine(manager, logger), nil
	}

	kubeconfig, err := os.ReadFile(cfg.KubeconfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read kubeconfig: %w", err)
	}
	c, err := manager.CreateCluster(ctx, localClusterName, kubeconfig, "", cluster.ExecutionModeAgent)
	if err != nil {
		return nil, nil, fmt.Errorf("create local cluster: %w", err)
	}
	return c, check.NewEngine(manager, logger), nil
}

// pollOnce pulls any leased tasks, evaluates each against the local cluster,
// and reports the outcome back. Evaluation errors never abort the loop; the
// next tick simply tries again (spec §4.2, the agent never blocks a run it
// cannot currently service beyond reporting failure).
func pollOnce(ctx context.Context, api *apiClient, engine *check.Engine, c *cluster.Cluster, logger *zap.Logger) {
	tasks, err := api.PullTasks()
	if err != nil {
		logger.Warn("pull tasks failed", zap.Error(err))
		return
	}

	for _, t := range tasks {
		it, err := decodeItemSnapshot(t.ItemSnapshot)
		if err != nil {
			logger.Error("decode item snapshot failed", zap.String("run_id", t.RunID), zap.Error(err))
			if err := api.ReportFailure(t.RunID, "agent could not decode item snapshot"); err != nil {
				logger.Warn("report failure failed", zap.Error(err))
			}
			continue
		}

		result := engine.Evaluate(ctx, c, it)
		status := run.ResultStatus(result.Status)
		if err := api.SubmitResult(t.RunID, t.ItemID, status, result.Detail, result.Suggestion); err != nil {
			logger.Error("submit result failed", zap.String("run_id", t.RunID), zap.String("item_id", t.ItemID), zap.Error(err))
		}
	}
}

// itemSnapshot mirrors item.Item's wire shape with Config left raw, since
// item.Config only implements MarshalJSON and needs CheckType to decode.
type itemSnapshot struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	CheckType   item.CheckType  `json:"check_type"`
	Config      json.RawMessage `json:"config"`
	IsArchived  bool            `json:"is_archived"`
}

func decodeItemSnapshot(raw string) (*item.Item, error) {
	var snap itemSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, err
	}
	cfg, err := item.DecodeConfig(snap.CheckType, snap.Config)
	if err != nil {
		return nil, err
	}
	return &item.Item{
		ID:          snap.ID,
		Name:        snap.Name,
		Description: snap.Description,
		CheckType:   snap.CheckType,
		Config:      cfg,
		IsArchived:  snap.IsArchived,
	}, nil
}
