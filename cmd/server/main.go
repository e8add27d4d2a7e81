package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/me/weaver/internal/config"
	"github.com/me/weaver/internal/cwlengine"
	"github.com/me/weaver/internal/datasource"
	"github.com/me/weaver/internal/hosting"
	"github.com/me/weaver/internal/ioconv"
	"github.com/me/weaver/internal/logging"
	"github.com/me/weaver/internal/opensearch"
	"github.com/me/weaver/internal/orchestrator"
	"github.com/me/weaver/internal/processes"
	"github.com/me/weaver/internal/remote"
	"github.com/me/weaver/internal/scheduler"
	"github.com/me/weaver/internal/server"
	"github.com/me/weaver/internal/store"
	"github.com/me/weaver/internal/tracing"
	"github.com/me/weaver/internal/transport"
)

func main() {
	configFile := flag.String("config", "", "Path to settings file (default ./weaver.yml or ~/.weaver/weaver.yml)")
	addr := flag.String("addr", "", "Listen address (overrides server.addr)")
	dbPath := flag.String("db", "", "Database path (overrides weaver.db)")
	debug := flag.Bool("debug", false, "Shorthand for log.level=debug")
	flag.Parse()

	settings, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load settings: %v\n", err)
		os.Exit(1)
	}
	cfg := settings.Server()
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *debug {
		cfg.LogLevel = "debug"
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	if f := settings.File(); f != "" {
		logger.Info("settings loaded", "file", f)
	}

	// Resolve database path.
	if cfg.DBPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot determine home directory: %v\n", err)
			os.Exit(1)
		}
		dir := filepath.Join(home, ".weaver")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "cannot create %s: %v\n", dir, err)
			os.Exit(1)
		}
		cfg.DBPath = filepath.Join(dir, "weaver.db")
	}

	shutdownTracing, err := tracing.FromSettings(settings, os.Stderr, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configure tracing: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	st, err := store.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
		os.Exit(1)
	}
	logger.Info("database ready", "path", cfg.DBPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	host, err := hosting.FromSettings(ctx, settings, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configure output hosting: %v\n", err)
		os.Exit(1)
	}
	outputDir := settings.String(config.KeyOutputDir)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "create output dir: %v\n", err)
		os.Exit(1)
	}

	requester := transport.FromSettings(settings, logger)
	conv := ioconv.NewConverter(logger, &ioconv.HTTPRefResolver{Requester: requester})
	builtins := cwlengine.NewBuiltins(requester, logger)
	sources := datasource.New(settings)

	procs := processes.NewManager(st, conv, builtins, requester, logger)
	if err := procs.RegisterBuiltins(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "register builtin processes: %v\n", err)
		os.Exit(1)
	}

	orch := orchestrator.New(orchestrator.Config{
		Store:      st,
		Processes:  procs,
		Converter:  conv,
		Engine:     cwlengine.CommandEngineFromSettings(settings, logger),
		Builtins:   builtins,
		Dispatcher: remote.NewDispatcher(requester, host, outputDir, settings.Duration(config.KeyMonitorInterval), logger),
		Requester:  requester,
		Search:     opensearch.NewEngine(requester, sources, logger, settings.Int(config.KeyOpenSearchMaxRecord)),
		Sources:    sources,
		Host:       host,
		OutputDir:  outputDir,
		ESGFAPIKey: settings.String(config.KeyESGFAPIKey),
	}, logger)

	sched := scheduler.NewLoop(st, orch, scheduler.Config{
		PollInterval: cfg.Poll,
		Workers:      cfg.Workers,
	}, logger)

	srv := server.New(cfg, st, procs, orch, conv, logger, server.WithScheduler(sched))

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	srv.StartScheduler(ctx)

	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "workers", cfg.Workers)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Stop scheduler before HTTP server.
	if err := sched.Stop(); err != nil {
		logger.Error("scheduler stop error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
