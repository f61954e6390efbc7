// Command quillpool runs a standalone MySQL connection pool with an admin
// HTTP surface, for local development and manual testing of the pool
// package.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quillsql/quill/admin"
	"github.com/quillsql/quill/driverapi/mysqldriver"
	"github.com/quillsql/quill/pool"
	"github.com/quillsql/quill/pool/metrics"
	"github.com/quillsql/quill/pool/poolcfg"
	"github.com/quillsql/quill/pool/telemetry"
)

func main() {
	configPath := flag.String("config", "pool.yaml", "path to pool configuration file")
	adminAddr := flag.String("admin-addr", ":9090", "address for the admin HTTP server")
	enableTracing := flag.Bool("tracing", false, "enable OpenTelemetry tracing")
	enablePrometheus := flag.Bool("prometheus", true, "use a Prometheus-backed metrics tracker")
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	flag.Parse()

	cfg, err := poolcfg.Load(*configPath)
	if err != nil {
		log.Fatalf("quillpool: load config: %v", err)
	}

	logLevel := slog.LevelInfo
	if cfg.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	var tracker metrics.Tracker
	if *enablePrometheus {
		tracker = metrics.NewPrometheusTracker("quillpool")
	} else {
		tracker = metrics.NewMemoryTracker()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ds, err := pool.FromConfig(ctx, cfg, mysqldriver.NewFactory(), pool.Options{
		Tracker:   tracker,
		Telemetry: telemetry.New(telemetry.Config{Enabled: *enableTracing}),
		Logger:    logger,
	})
	if err != nil {
		log.Fatalf("quillpool: construct pool: %v", err)
	}

	watcher, err := poolcfg.NewWatcher(*configPath, func(newCfg *poolcfg.Config) {
		logger.Info("configuration changed on disk; restart quillpool to apply it")
		_ = newCfg
	}, logger)
	if err != nil {
		logger.Warn("config hot-reload disabled", "error", err)
	}

	srv := admin.NewServer(*adminAddr, ds, logger)
	srv.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("quillpool: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if watcher != nil {
		watcher.Stop()
	}
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Printf("quillpool: admin server shutdown error: %v", err)
	}
	if err := ds.Close(); err != nil {
		log.Printf("quillpool: pool close error: %v", err)
	}
	cancel()
}
