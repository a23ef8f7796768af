// Package app wires every component into a single
// running process: one proxyguard node runs the full stack (HTTP surface,
// cluster heartbeat, certificate engine, NGINX reconciler, certificate
// monitor) rather than splitting API and worker roles across processes,
// since every node in the cluster is symmetric.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ridgeline/proxyguard/internal/config"
	"github.com/ridgeline/proxyguard/internal/httpserver"
	"github.com/ridgeline/proxyguard/internal/platform"
	"github.com/ridgeline/proxyguard/internal/store"
	"github.com/ridgeline/proxyguard/internal/telemetry"
	"github.com/ridgeline/proxyguard/pkg/certificate"
	"github.com/ridgeline/proxyguard/pkg/certmonitor"
	"github.com/ridgeline/proxyguard/pkg/challenge"
	"github.com/ridgeline/proxyguard/pkg/cluster"
	"github.com/ridgeline/proxyguard/pkg/lock"
	"github.com/ridgeline/proxyguard/pkg/reloader"
)

// reloadAdapter satisfies certificate.Reloader by delegating to the
// reconciler's three-phase pass. The reconciler field is set once, right
// after construction, before either collaborator runs: the certificate
// engine and the reconciler each depend on the other, so one side has to
// be wired through an indirection like this.
type reloadAdapter struct {
	reconciler *reloader.Reconciler
}

func (a *reloadAdapter) Reload(ctx context.Context) error {
	return a.reconciler.ReconcileOrError(ctx)
}

// Run is the main application entry point: it reads config, connects to
// infrastructure, and starts the HTTP surface plus every background
// engine. It blocks until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	hostname := cfg.Hostname
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("resolving hostname: %w", err)
		}
		hostname = h
	}

	logger.Info("starting proxyguard", "listen", cfg.ListenAddr(), "hostname", hostname)

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("closing redis", "error", err)
		}
	}()

	if err := platform.RunGlobalMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	metricsReg := telemetry.NewMetricsRegistry()

	db2 := store.New(db)

	instanceID := cluster.NewInstanceID(hostname, time.Now())
	locks := lock.NewManager(db2, logger, instanceID)

	clusterCfg := cluster.DefaultConfig(hostname, localIPAddress(), version())
	clusterCfg.HeartbeatEvery = cfg.HeartbeatInterval
	clusterCfg.CleanupEvery = cfg.CleanupInterval
	clusterCfg.StaleAfter = cfg.StaleAfter
	clusterCfg.DeleteAfter = cfg.DeleteAfter

	clusterSvc := cluster.New(db2, locks, logger, nil, instanceID, clusterCfg)

	fanoutCfg := cluster.DefaultFanoutConfig(cfg.Port)
	tokens := cluster.NewTokenIssuer(fanoutCfg.TokenTTL)
	broadcaster := cluster.NewBroadcaster(clusterSvc, tokens, fanoutCfg)

	challengeSvc := challenge.New(db2, challenge.DefaultTTL)
	challengeHandler := challenge.NewHandler(challengeSvc, logger)

	callbackAddr := fmt.Sprintf("http://127.0.0.1:%d/internal/acme-challenge", cfg.Port)
	acme := certificate.NewExecACMEAdapter(cfg.ACMEClientPath, cfg.CertToolPath, cfg.CertLiveDir, callbackAddr)
	fs := certificate.NewDirFilesystem(cfg.CertLiveDir)
	nginxRunner := reloader.NewExecNGINXRunner(cfg.NginxBin)

	reloaderCfg := reloader.DefaultConfig()
	reloaderCfg.NginxDir = cfg.NginxDir
	reloaderCfg.ConfDDir = cfg.ConfDDir
	reloaderCfg.ReloadInterval = cfg.ReloadInterval

	certCfg := certificate.DefaultConfig()
	certCfg.AdminEmail = cfg.AdminEmail
	certCfg.RenewBeforeDays = cfg.RenewBeforeDays
	certCfg.SelfSignedDays = cfg.SelfSignedDays
	certCfg.CertLiveDir = cfg.CertLiveDir
	certCfg.RenewInterval = cfg.RenewInterval
	certCfg.Development = cfg.Development()
	if !cfg.NonLeaderPollCerts {
		certCfg.NonLeaderPolicy = certificate.NonLeaderSkip
	}

	reloadAdp := &reloadAdapter{}
	certEngine := certificate.New(db2, locks, fs, acme, reloadAdp, logger, certCfg)

	reconciler := reloader.New(db2, certEngine, fs, nginxRunner, logger, reloaderCfg)
	reloadAdp.reconciler = reconciler

	monitorCfg := certmonitor.DefaultConfig()
	monitorCfg.AlertThresholdDays = cfg.AlertThresholdDays
	monitor := certmonitor.New(db2, certmonitor.NewLogAlerter(logger), logger, monitorCfg)

	clusterHandler := cluster.NewHandler(clusterSvc, broadcaster, tokens, reconciler.ReconcileOrError, logger)

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg)
	srv.Router.Get("/status", srv.HandleStatus)
	srv.Router.Mount("/.well-known/acme-challenge", challengeHandler.Routes())
	srv.Router.Mount("/internal/acme-challenge", challengeHandler.PublishRoutes())
	srv.Router.Mount("/cluster", clusterHandler.Routes())

	go func() {
		if err := clusterSvc.Start(ctx); err != nil {
			logger.Error("cluster heartbeat stopped", "error", err)
		}
	}()
	go certEngine.StartRenewalLoop(ctx)
	go certEngine.StartDailyCleanupLoop(ctx, 0, 0)
	go monitor.StartPeriodicScan(ctx, cfg.MonitorInitialDelay)
	go reconciler.StartPeriodicReload(ctx)

	return runHTTPServer(ctx, logger, cfg, srv)
}

func runHTTPServer(ctx context.Context, logger *slog.Logger, cfg *config.Config, handler http.Handler) error {
	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// localIPAddress returns this host's outbound IP address, used as the
// cluster node's advertised IP. Falls back to "127.0.0.1" if none can be
// determined, which is adequate for single-node development.
func localIPAddress() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}

// version is a build-time placeholder; proxyguard doesn't yet stamp a
// version string via ldflags.
func version() string {
	return "dev"
}
