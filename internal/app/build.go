package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ent0n29/recruiter/internal/catalog"
	"github.com/ent0n29/recruiter/internal/chat"
	"github.com/ent0n29/recruiter/internal/config"
	"github.com/ent0n29/recruiter/internal/conversation"
	"github.com/ent0n29/recruiter/internal/cooldown"
	"github.com/ent0n29/recruiter/internal/httpapi"
	"github.com/ent0n29/recruiter/internal/intake"
	"github.com/ent0n29/recruiter/internal/observability"
	"github.com/ent0n29/recruiter/internal/resumestore"
	"github.com/ent0n29/recruiter/internal/session"
	"github.com/ent0n29/recruiter/internal/submission"
	"github.com/ent0n29/recruiter/internal/trello"
)

type TransportInfo struct {
	Mode   string
	Detail string
}

type BuildResult struct {
	Config    config.Config
	API       *httpapi.Server
	Sessions  *session.Registry
	Catalog   *catalog.Snapshot
	Intake    *intake.Service
	Transport chat.Transport
	Metrics   *observability.Metrics
	Info      TransportInfo

	// Cleanup should be called on shutdown to release external resources (DB pool).
	Cleanup func() error
}

// Build wires every component from cfg. Nothing is started; the caller
// runs the intake service, the janitor and the HTTP server.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	snapshot, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("catalog load failed: %w", err)
	}
	if snapshot.Len() == 0 {
		logger.Warn("job catalog is empty; applicants will be told there are no openings", "path", cfg.CatalogPath)
	}

	resumes, err := resumestore.NewFileStore(cfg.ResumeDir)
	if err != nil {
		return nil, fmt.Errorf("resume store init failed: %w", err)
	}

	board, err := trello.NewClient(trello.Config{
		BaseURL: cfg.TrelloBaseURL,
		APIKey:  cfg.TrelloAPIKey,
		Token:   cfg.TrelloToken,
	})
	if err != nil {
		return nil, fmt.Errorf("trello client init failed: %w", err)
	}

	cooldownStore, err := cooldown.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("cooldown store init failed: %w", err)
	}

	setup, err := resolveTransport(cfg, logger, metrics)
	if err != nil {
		_ = cooldownStore.Close()
		return nil, err
	}

	sessions := session.NewRegistry(cfg.SessionTTL)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.Count()))
	})

	service := intake.New(intake.Config{
		Sender:      setup.transport,
		SelfID:      setup.transport.SelfID,
		Machine:     conversation.NewMachine(snapshot, cfg.MaxConfirmationAttempts),
		Registry:    sessions,
		Cooldown:    cooldown.NewSupervisor(cooldownStore, cfg.CooldownWindow, logger),
		Submitter:   submission.NewPipeline(board, resumes, cfg.TrelloListID, logger),
		Metrics:     metrics,
		Logger:      logger,
		IdleTimeout: cfg.WorkerIdleTimeout,
	})

	api := httpapi.New(cfg, sessions, snapshot, metrics, setup.ready)

	cleanup := func() error {
		var errs []string
		if err := cooldownStore.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:    cfg,
		API:       api,
		Sessions:  sessions,
		Catalog:   snapshot,
		Intake:    service,
		Transport: setup.transport,
		Metrics:   metrics,
		Info: TransportInfo{
			Mode:   setup.mode,
			Detail: setup.detail,
		},
		Cleanup: cleanup,
	}, nil
}

// JanitorInterval derives the eviction sweep period from the session TTL.
func JanitorInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	interval := ttl / 24
	if interval < time.Minute {
		interval = time.Minute
	}
	return interval
}
