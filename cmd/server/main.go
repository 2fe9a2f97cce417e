package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/dnscache"

	"github.com/dgallion1/docask/internal/api"
	"github.com/dgallion1/docask/internal/config"
	"github.com/dgallion1/docask/internal/llm"
	"github.com/dgallion1/docask/internal/pathstore"
	"github.com/dgallion1/docask/internal/pipeline"
	"github.com/dgallion1/docask/internal/query"
	"github.com/dgallion1/docask/internal/storage/sqlite"
	"github.com/dgallion1/docask/internal/store"
	"github.com/dgallion1/docask/internal/telemetry"
	"github.com/dgallion1/docask/internal/tokencount"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Telemetry.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)
	if cfg.TracingEndpoint != "" {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.TracingEndpoint, cfg.TracingSampleRate)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = shutdown(sctx)
		}()
	}

	// Local database: invocation log, feedback, quotas and possibly documents.
	db, err := sqlite.New(cfg.SQLitePath, sqlite.WithDefaultQuota(cfg.DefaultQuota))
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer db.Close()

	var backend store.Store
	switch cfg.StoreBackend {
	case "sqlite":
		backend = db
	case "pathstore":
		ps := pathstore.NewClient(cfg.PathstoreURL, cfg.PathstoreAPIKey, nil)
		defer ps.Close()
		backend = pathstore.NewDocumentStore(ps, "docask")
	case "memory":
		backend = store.NewMemory()
	}
	docs, err := store.NewCached(backend, cfg.CacheSize, cfg.CacheTTL, metrics)
	if err != nil {
		return fmt.Errorf("document cache: %w", err)
	}

	// Completion service.
	resolver := &dnscache.Resolver{}
	go llm.RefreshDNS(ctx, resolver, cfg.DNSRefresh)
	client, err := llm.New(llm.Settings{
		Provider: cfg.LLMProvider,
		APIKey:   cfg.LLMAPIKey,
		Model:    cfg.LLMModel,
		BaseURL:  cfg.LLMBaseURL,
		Timeout:  cfg.LLMTimeout,
		Resolver: resolver,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	counter := tokencount.New(cfg.TokenEncoding, cfg.TokenMultiplier, log)
	engine, err := query.New(cfg.Query(), client, counter,
		query.WithLogger(log),
		query.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("query engine: %w", err)
	}

	// Ingestion pipeline.
	orch := pipeline.NewOrchestrator(cfg, docs, log, metrics)
	orch.Start(ctx)

	srv := api.NewServer(api.Deps{
		Orchestrator: orch,
		Engine:       engine,
		Documents:    docs,
		Usage:        db,
		LLM:          client,
		Metrics:      metrics,
		Gatherer:     reg,
	}, log, cfg)

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv,
		ReadTimeout: 30 * time.Second,
		// Streamed answers can run for several completion calls.
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting docask", "port", cfg.Port, "store", cfg.StoreBackend, "model", client.Model())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			orch.Stop()
			return err
		}
	case <-ctx.Done():
		log.Info("shutting down...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "error", err)
	}
	orch.Stop()
	return nil
}
