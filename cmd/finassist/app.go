package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/quantumflow/finassist/internal/agent"
	"github.com/quantumflow/finassist/internal/audit"
	"github.com/quantumflow/finassist/internal/config"
	"github.com/quantumflow/finassist/internal/gold"
	"github.com/quantumflow/finassist/internal/inference"
	"github.com/quantumflow/finassist/internal/policy"
	"github.com/quantumflow/finassist/internal/tools"
)

// app holds everything a question needs
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        *gold.Store
	index        *policy.Index
	cache        *policy.CachedIndex
	client       *inference.Client
	orchestrator *agent.Orchestrator
	audit        *audit.SQLiteLogger
}

// newApp loads the gold tables and the policy index in parallel, then wires the orchestrator
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	client, err := inference.NewClient(cfg.InferenceConfig())
	if errors.Is(err, inference.ErrMissingAPIKey) {
		return nil, fmt.Errorf("%w: set %s", err, cfg.Engine.APIKeyEnv)
	}
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, client: client}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		store, err := loadGold(gctx, cfg)
		if err != nil {
			return err
		}
		a.store = store
		return nil
	})
	g.Go(func() error {
		index, err := policy.Open(gctx, cfg.PolicyConfig())
		if err != nil {
			return fmt.Errorf("failed to open policy index: %w", err)
		}
		a.index = index

		// The memory backend starts empty in every process
		if cfg.Policy.Backend == "memory" && cfg.Policy.DocumentsDir != "" {
			report, err := policy.NewIngestor(index, logger, cfg.Policy.IngestWorkers).IngestDirectory(gctx, cfg.Policy.DocumentsDir)
			if err != nil {
				return err
			}
			logger.Info("policy documents loaded", "files", report.Files, "chunks", report.Chunks)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		a.Close()
		return nil, err
	}

	if a.index.Len() == 0 {
		logger.Warn("policy index is empty; run 'finassist ingest' first", "backend", cfg.Policy.Backend)
	}

	var retriever agent.Retriever = a.index
	if cfg.Policy.CacheTTL > 0 {
		a.cache = policy.NewCachedIndex(a.index, cfg.Policy.CacheTTL)
		retriever = a.cache
	}

	a.orchestrator = agent.NewOrchestrator(
		cfg.OrchestratorConfig(),
		client,
		retriever,
		tools.NewDefaultRegistry(a.store),
		a.store.Summary(),
		logger,
	)

	if cfg.Audit.Enabled {
		auditLog, err := audit.NewSQLiteLogger(cfg.Audit.Path)
		if err != nil {
			logger.Warn("audit log disabled", "path", cfg.Audit.Path, "error", err)
		} else {
			a.audit = auditLog
			a.orchestrator.SetAuditSink(auditLog)
		}
	}

	logger.Debug("application ready",
		"model", client.Model(),
		"policy_chunks", a.index.Len(),
		"customers", len(a.store.Customers()),
		"transactions", len(a.store.Transactions()))

	return a, nil
}

// Close releases the index, cache and audit log
func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.logger.Warn("failed to close policy index", "error", err)
		}
	}
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.Warn("failed to close audit log", "error", err)
		}
	}
}

func loadGold(ctx context.Context, cfg *config.Config) (*gold.Store, error) {
	switch cfg.Gold.Source {
	case "sqlite":
		return gold.LoadSQLite(ctx, cfg.Gold.SQLitePath)
	default:
		return gold.LoadCSV(cfg.Gold.Dir)
	}
}
