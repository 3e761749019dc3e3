package agentplane

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/clusterguard/inspector/internal/audit"
	"github.com/clusterguard/inspector/internal/metrics"
	"github.com/clusterguard/inspector/internal/run"
)

// Sweeper reclaims runs whose agent lease has expired without a SubmitResult
// or ReportRunFailure call, so a crashed or network-partitioned agent can
// never strand a run in a permanently "running" state.
type Sweeper struct {
	cron    *cron.Cron
	runs    *run.Store
	audit   *audit.Store
	metrics *metrics.Metrics
	log     *zap.Logger
}

func NewSweeper(runs *run.Store, auditStore *audit.Store, m *metrics.Metrics, log *zap.Logger) *Sweeper {
	return &Sweeper{
		cron:    cron.New(),
		runs:    runs,
		audit:   auditStore,
		metrics: m,
		log:     log,
	}
}

// Start schedules the sweep every 30s and runs an initial pass immediately.
func (s *Sweeper) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc("@every 30s", func() { s.sweep(ctx) }); err != nil {
		return err
	}
	s.cron.Start()
	s.sweep(ctx)
	return nil
}

func (s *Sweeper) Stop() {
	s.cron.Stop()
}

// sweep detaches every run whose lease_expires_at is in the past
// (agent_status back to queued, lease_expires_at cleared) so any puller,
// including the agent that dropped it, can pick the run back up with its
// already-submitted results intact (spec §4.2: the sweeper never fails or
// finalises a run itself, it only makes the run available again).
func (s *Sweeper) sweep(ctx context.Context) {
	now := time.Now().UTC()
	expired, err := s.runs.ListExpiredLeases(ctx, now)
	if err != nil {
		s.log.Error("sweeper: list expired leases failed", zap.Error(err))
		return
	}

	for _, r := range expired {
		if err := s.runs.DetachLease(ctx, r.ID); err != nil {
			s.log.Error("sweeper: detach lease failed", zap.String("run_id", r.ID), zap.Error(err))
			continue
		}

		s.metrics.AgentLeaseReclaims.Inc()
		agent := ""
		if r.AgentID != nil {
			agent = *r.AgentID
		}
		_ = s.audit.Record(ctx, "", "agent_lease_expired", r.ID, "agent="+agent)
		s.log.Warn("reclaimed run with expired agent lease", zap.String("run_id", r.ID), zap.String("agent_id", agent))
	}
}
