package cluster

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// ClusterClient bundles the k8s.io/client-go handles built from one
// cluster's kubeconfig.
type ClusterClient struct {
	Clientset  kubernetes.Interface
	DynClient  dynamic.Interface
	RestConfig *rest.Config
}

// Manager owns kubeconfig storage on disk, a cache of built clientsets, and
// the Cluster Probe (spec §4.5). It is the one place that ever reads a
// kubeconfig off disk.
type Manager struct {
	store   *Store
	dataDir string
	log     *zap.Logger

	mu      sync.RWMutex
	clients map[string]*ClusterClient

	probeTimeout time.Duration
}

func NewManager(store *Store, dataDir string, log *zap.Logger) *Manager {
	return &Manager{
		store:        store,
		dataDir:      dataDir,
		log:          log,
		clients:      make(map[string]*ClusterClient),
		probeTimeout: 10 * time.Second,
	}
}

func (m *Manager) configsDir() string { return filepath.Join(m.dataDir, "configs") }

func (m *Manager) kubeconfigPath(id string) string {
	return filepath.Join(m.configsDir(), id+".yaml")
}

// KubeconfigPath returns the on-disk path of a cluster's stored kubeconfig,
// for the Check Engine's command-kind {{kubeconfig}} templating.
func (m *Manager) KubeconfigPath(ctx context.Context, clusterID string) (string, error) {
	c, err := m.store.GetCluster(ctx, clusterID)
	if err != nil {
		return "", err
	}
	return c.KubeconfigPath, nil
}

// GetCluster exposes the underlying store's lookup to callers outside this
// package (the Run Orchestrator's admission check), without handing out the
// store itself.
func (m *Manager) GetCluster(ctx context.Context, id string) (*Cluster, error) {
	return m.store.GetCluster(ctx, id)
}

// CreateCluster writes the kubeconfig blob under DATA_DIR/configs/<id>.yaml
// (mode 0600), inserts the row, and runs an initial Probe best-effort (a
// failed initial probe does not fail cluster creation).
func (m *Manager) CreateCluster(ctx context.Context, name string, kubeconfig []byte, prometheusURL string, mode ExecutionMode) (*Cluster, error) {
	if err := os.MkdirAll(m.configsDir(), 0o700); err != nil {
		return nil, fmt.Errorf("create configs dir: %w", err)
	}

	c, err := m.store.CreateCluster(ctx, name, "", prometheusURL, mode)
	if err != nil {
		return nil, err
	}

	path := m.kubeconfigPath(c.ID)
	if err := os.WriteFile(path, kubeconfig, 0o600); err != nil {
		return c, fmt.Errorf("cluster stored but kubeconfig write failed: %w", err)
	}
	if _, err := m.store.conn.Exec(ctx, `UPDATE clusters SET kubeconfig_path = $2 WHERE id = $1`, c.ID, path); err != nil {
		return c, fmt.Errorf("cluster stored but path update failed: %w", err)
	}
	c.KubeconfigPath = path

	m.Probe(ctx, c.ID) //nolint:errcheck // best-effort; status is persisted regardless
	return m.store.GetCluster(ctx, c.ID)
}

func (m *Manager) DeleteCluster(ctx context.Context, id string, deleteFiles bool) error {
	c, err := m.store.GetCluster(ctx, id)
	if err != nil {
		return err
	}
	if err := m.store.DeleteCluster(ctx, id); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.clients, id)
	m.mu.Unlock()

	if deleteFiles && c.KubeconfigPath != "" {
		_ = os.Remove(c.KubeconfigPath)
	}
	return nil
}

// Probe re-validates a cluster's kubeconfig against its API server,
// persisting connection_status/message/version/node_count (spec §4.5).
func (m *Manager) Probe(ctx context.Context, id string) (*Cluster, error) {
	c, err := m.store.GetCluster(ctx, id)
	if err != nil {
		return nil, err
	}

	status, message, version, nodeCount := m.probe(ctx, c.KubeconfigPath)
	if err := m.store.UpdateProbeResult(ctx, id, status, message, version, nodeCount); err != nil {
		return nil, err
	}
	return m.store.GetCluster(ctx, id)
}

func (m *Manager) probe(ctx context.Context, kubeconfigPath string) (ConnectionStatus, string, string, *int) {
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	client, err := m.buildClient(kubeconfigPath)
	if err != nil {
		return ConnectionFailed, fmt.Sprintf("invalid kubeconfig: %v", err), "", nil
	}

	versionInfo, versionErr := client.Clientset.Discovery().ServerVersion()
	nodes, nodesErr := client.Clientset.CoreV1().Nodes().List(probeCtx, metav1.ListOptions{Limit: 200})

	switch {
	case versionErr != nil:
		return ConnectionFailed, fmt.Sprintf("api server unreachable: %v", versionErr), "", nil
	case nodesErr != nil:
		return ConnectionWarning, fmt.Sprintf("node list failed: %v", nodesErr), versionInfo.GitVersion, nil
	default:
		n := len(nodes.Items)
		return ConnectionConnected, "connected", versionInfo.GitVersion, &n
	}
}

// GetClient returns the cached clientset for a cluster, building and
// caching it on first use.
func (m *Manager) GetClient(ctx context.Context, clusterID string) (*ClusterClient, error) {
	m.mu.RLock()
	client, ok := m.clients[clusterID]
	m.mu.RUnlock()
	if ok {
		return client, nil
	}

	c, err := m.store.GetCluster(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	client, err = m.buildClient(c.KubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("build client for cluster %s: %w", clusterID, err)
	}

	m.mu.Lock()
	m.clients[clusterID] = client
	m.mu.Unlock()
	return client, nil
}

func (m *Manager) buildClient(kubeconfigPath string) (*ClusterClient, error) {
	raw, err := os.ReadFile(kubeconfigPath)
	if err != nil {
		return nil, fmt.Errorf("read kubeconfig: %w", err)
	}
	config, err := clientcmd.RESTConfigFromKubeConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("parse kubeconfig: %w", err)
	}
	config.Timeout = m.probeTimeout

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("build clientset: %w", err)
	}
	dynClient, err := dynamic.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("build dynamic client: %w", err)
	}

	return &ClusterClient{Clientset: clientset, DynClient: dynClient, RestConfig: config}, nil
}

// ProbeAll re-probes every registered cluster; invoked on the 5-minute
// robfig/cron tick described in spec §4.5.
func (m *Manager) ProbeAll(ctx context.Context) {
	clusters, err := m.store.ListClusters(ctx)
	if err != nil {
		m.log.Warn("probe-all: list clusters failed", zap.Error(err))
		return
	}
	for _, c := range clusters {
		if _, err := m.Probe(ctx, c.ID); err != nil {
			m.log.Warn("probe-all: probe failed", zap.String("cluster_id", c.ID), zap.Error(err))
		}
	}
}
