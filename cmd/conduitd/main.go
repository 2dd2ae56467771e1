// Command conduitd is the conduit gateway process: it loads
// config.yaml, launches a DQM Lead per configured database, and serves
// /api/conduit/query over HTTP until SIGINT/SIGTERM, draining every Lead
// before exit. The load-then-launch-then-serve shape mirrors burrowctl's
// server_factory.go (StartServer/CreateAndConfigureServer).
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/acuranzo/conduit/internal/conduit"
	"github.com/acuranzo/conduit/internal/config"
	"github.com/acuranzo/conduit/internal/dqm"
	"github.com/acuranzo/conduit/internal/engine"
	"github.com/acuranzo/conduit/internal/httpapi"
	"github.com/acuranzo/conduit/internal/pending"
	"github.com/acuranzo/conduit/internal/qtc"
	"github.com/acuranzo/conduit/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to conduitd's YAML configuration")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := telemetry.NewLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync()

	registry := telemetry.NewRegistry()
	manager := dqm.NewManager(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, conn := range cfg.Connections {
		if !conn.Enabled {
			continue
		}
		// Each database gets its own pending.Registry: Lead.Shutdown calls
		// registry.Shutdown() unconditionally, and a per-database shutdown
		// (Manager.Shutdown, distinct from ShutdownAll) must only abort that
		// one database's in-flight waiters, never another Lead's.
		pendingRegistry := pending.NewRegistry()
		// Sweep abandoned pending slots once a minute until run returns.
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					pendingRegistry.SweepExpired()
				}
			}
		}()
		if err := launchDatabase(ctx, manager, pendingRegistry, cfg.Databases, conn); err != nil {
			logger.Error("database launch failed", zap.String("name", conn.Name), zap.Error(err))
		}
	}

	core := conduit.NewCore(manager, logger, registry)
	limiter := httpapi.NewLimiter(limiterConfigFrom(cfg.HTTP))
	defer limiter.Stop()

	handler := httpapi.New(core, manager, limiter, logger)

	addr := cfg.HTTP.Addr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{Addr: addr, Handler: handler}

	serveErr := make(chan error, 1)
	go func() {
		logger.Sugar().Infof("conduitd listening on %s", addr)
		serveErr <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case sig := <-sigCh:
		logger.Sugar().Infof("received %s, shutting down", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", zap.Error(err))
	}
	manager.ShutdownAll(shutdownCtx)

	return nil
}

func launchDatabase(ctx context.Context, manager *dqm.Manager, registry *pending.Registry, dbCfg config.DatabasesConfig, conn config.ConnectionConfig) error {
	kind := engine.Kind(conn.Engine)
	eng, err := engine.New(kind)
	if err != nil {
		return err
	}

	launchCfg := dqm.LaunchConfig{
		DatabaseName: conn.Name,
		Engine:       kind,
		Connection: engine.ConnectionConfig{
			Engine:   kind,
			Host:     conn.Host,
			Port:     conn.Port,
			Database: conn.Database,
			User:     conn.User,
			Password: conn.Password,
			FilePath: conn.FilePath,
		},
		BootstrapQuery:           conn.BootstrapQuery,
		HeartbeatIntervalSeconds: dbCfg.HeartbeatIntervalSeconds,
		Bounds: map[dqm.Tag]dqm.TagBounds{
			dqm.TagSlow:   {Min: conn.Queues.Slow.Min, Max: conn.Queues.Slow.Max},
			dqm.TagMedium: {Min: conn.Queues.Medium.Min, Max: conn.Queues.Medium.Max},
			dqm.TagFast:   {Min: conn.Queues.Fast.Min, Max: conn.Queues.Fast.Max},
			dqm.TagCache:  {Min: conn.Queues.Cache.Min, Max: conn.Queues.Cache.Max},
		},
		MaxChildQueues: dbCfg.MaxChildQueues,
		QueueCapacity:  256,
	}

	cache := qtc.New()
	_, err = manager.Launch(ctx, launchCfg, eng, registry, cache, loadBootstrapRows)
	return err
}

func limiterConfigFrom(h config.HTTPConfig) httpapi.LimiterConfig {
	cfg := httpapi.DefaultLimiterConfig()
	if h.RateLimitRequestsPerSec > 0 {
		cfg.RequestsPerSecond = h.RateLimitRequestsPerSec
	}
	if h.RateLimitBurst > 0 {
		cfg.BurstSize = h.RateLimitBurst
	}
	return cfg
}
