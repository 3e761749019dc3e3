package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/clusterguard/inspector/internal/agentplane"
	"github.com/clusterguard/inspector/internal/audit"
	"github.com/clusterguard/inspector/internal/check"
	"github.com/clusterguard/inspector/internal/cluster"
	"github.com/clusterguard/inspector/internal/config"
	"github.com/clusterguard/inspector/internal/db"
	"github.com/clusterguard/inspector/internal/item"
	"github.com/clusterguard/inspector/internal/license"
	"github.com/clusterguard/inspector/internal/logging"
	"github.com/clusterguard/inspector/internal/metrics"
	"github.com/clusterguard/inspector/internal/middleware"
	"github.com/clusterguard/inspector/internal/report"
	"github.com/clusterguard/inspector/internal/run"
)

func main() {
	cfg := config.Load()

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	if cfg.DataDir != "" {
		logCfg.LogPath = cfg.DataDir + "/logs/server.log"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	m := metrics.New()

	ctx := context.Background()
	sqlitePath := cfg.DataDir + "/inspector.db"
	database, err := db.New(ctx, cfg.DatabaseURL, sqlitePath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close()

	if err := db.RunMigrations(database.Driver(), migrationDSN(cfg, sqlitePath), cfg.MigrationsPath); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	clusterStore := cluster.NewStore(database)
	clusterMgr := cluster.NewManager(clusterStore, cfg.DataDir, logger)

	itemStore := item.NewStore(database)

	agentStore := agentplane.NewStore(database)
	runStore := run.NewStore(database)

	auditStore, err := audit.NewStore(database, cfg.DataDir, logger)
	if err != nil {
		logger.Fatal("failed to open audit store", zap.Error(err))
	}
	defer auditStore.Close() //nolint:errcheck

	guard := license.NewGuard(cfg.LicenseSecret)
	engine := check.NewEngine(clusterMgr, logger)
	reports := report.NewEmitter(cfg.DataDir)

	coordinator := agentplane.NewCoordinator(agentStore, runStore, itemStore, cfg.LeaseTTL, logger)
	orchestrator := run.NewOrchestrator(runStore, itemStore, clusterMgr, engine, guard, reports, auditStore, agentStore, logger)

	sweeper := agentplane.NewSweeper(runStore, auditStore, m, logger)
	if err := sweeper.Start(ctx); err != nil {
		logger.Fatal("failed to start agent lease sweeper", zap.Error(err))
	}
	defer sweeper.Stop()

	probeCron := cron.New()
	if _, err := probeCron.AddFunc("@every 5m", func() { clusterMgr.ProbeAll(ctx) }); err != nil {
		logger.Fatal("failed to schedule cluster probe", zap.Error(err))
	}
	probeCron.Start()
	defer probeCron.Stop()

	r := mux.NewRouter()
	r.Use(middleware.RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst))
	r.Use(instrumentMiddleware(m))

	r.HandleFunc("/health", handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	cluster.NewHandlers(clusterMgr, guard).RegisterRoutes(r)
	item.NewHandlers(itemStore, guard).RegisterRoutes(r)
	run.NewHandlers(orchestrator, guard).RegisterRoutes(r)
	license.NewHandlers(guard).RegisterRoutes(r)
	agentplane.NewHandlers(coordinator, auditStore).RegisterRoutes(r)
	audit.NewHandlers(auditStore).RegisterRoutes(r)

	srv := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Fatal("server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("starting server", zap.String("addr", cfg.HTTPAddr), zap.String("db_driver", database.Driver()))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server failed to start", zap.Error(err))
	}
	logger.Info("server stopped")
}

// migrationDSN returns the DSN golang-migrate should open, matching
// whichever backend db.New actually picked.
func migrationDSN(cfg *config.Config, sqlitePath string) string {
	if cfg.DatabaseURL != "" {
		return cfg.DatabaseURL
	}
	return sqlitePath
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"}) //nolint:errcheck
}

// instrumentMiddleware records HTTP metrics for every request using the
// matched route's path template (not the raw URL) to keep label cardinality
// bounded.
func instrumentMiddleware(m *metrics.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			m.ObserveHTTP(r.Method, path, strconv.Itoa(sw.status), time.Since(start))
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
