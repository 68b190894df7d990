// Package control assembles the dispatch engine from configuration and
// manages its lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/validly/dispatchd/internal/core/config"
	"github.com/validly/dispatchd/internal/core/domain"
	"github.com/validly/dispatchd/internal/core/tier"
	"github.com/validly/dispatchd/internal/dispatch/health"
	"github.com/validly/dispatchd/internal/dispatch/lock"
	"github.com/validly/dispatchd/internal/dispatch/orchestrator"
	"github.com/validly/dispatchd/internal/infra/identity"
	"github.com/validly/dispatchd/internal/infra/provider"
	redisclient "github.com/validly/dispatchd/internal/infra/redis"
	"github.com/validly/dispatchd/internal/infra/storage"
	"github.com/validly/dispatchd/internal/infra/storage/memory"
	"github.com/validly/dispatchd/internal/infra/storage/postgres"
	"github.com/validly/dispatchd/internal/server"
)

// Service is the assembled dispatch engine: orchestrator, health
// tracker, lock service, storage and the observability server.
type Service struct {
	cfg      config.AppConfig
	orch     *orchestrator.Orchestrator
	tracker  *health.Tracker
	locks    *lock.Service
	registry *provider.Registry
	ledger   storage.Ledger
	archive  storage.BatchArchive
	srv      *server.Server

	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger
	group       *errgroup.Group
}

// NewService wires all dependencies from configuration.
func NewService(cfg config.AppConfig) (*Service, error) {
	// 1. Storage: PostgreSQL when configured, in-process memory
	// otherwise.
	var ledger storage.Ledger
	var archive storage.BatchArchive
	var db *postgres.DB

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		ledger = postgres.NewLedgerRepo(db)
		archive = postgres.NewArchiveRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewStorage()
		ledger = store.Ledger()
		archive = store.Archive()
		slog.Info("Using Memory storage")
	}

	// 2. Lock store: Redis for multi-instance deployments, memory
	// otherwise.
	var lockStore lock.Store
	var redisClient *redisclient.Client

	if cfg.Lock.Store == "redis" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		lockStore = redisclient.NewLockStore(redisClient)
		slog.Info("Using Redis lock store")
	} else {
		lockStore = lock.NewMemoryStore()
		slog.Info("Using Memory lock store")
	}

	// 3. Dispatch components.
	tracker := health.NewTracker(health.Config{
		FailureThreshold: cfg.Health.FailureThreshold,
		CoolDown:         cfg.Health.CoolDown.Std(),
	}, nil)

	locks := lock.NewService(lockStore, cfg.Lock.TTL.Std())

	registry := provider.NewRegistry()
	if err := registry.Build(cfg.Providers); err != nil {
		return nil, fmt.Errorf("failed to build providers: %w", err)
	}

	identities := identity.NewPool(cfg.Identities)
	tiers := tier.NewPolicy(cfg.Tiers)

	orch := orchestrator.New(tracker, locks, registry, identities, tiers, orchestrator.RetryConfig{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialDelay:    cfg.Retry.InitialDelay.Std(),
		MaxDelay:        cfg.Retry.MaxDelay.Std(),
		BackoffMultiple: cfg.Retry.BackoffMultiple,
	})

	srv := server.NewServer(tracker, registry.Names(), ledger, archive, cfg.Server.Port)

	return &Service{
		cfg:         cfg,
		orch:        orch,
		tracker:     tracker,
		locks:       locks,
		registry:    registry,
		ledger:      ledger,
		archive:     archive,
		srv:         srv,
		db:          db,
		redisClient: redisClient,
		log:         slog.Default().With("component", "control"),
	}, nil
}

// Start launches the observability server.
func (s *Service) Start(ctx context.Context) error {
	s.group, _ = errgroup.WithContext(ctx)
	s.group.Go(func() error {
		s.log.Info("observability server listening", "port", s.cfg.Server.Port)
		if err := s.srv.Start(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("observability server: %w", err)
		}
		return nil
	})
	return nil
}

// Stop shuts the service down and waits for background work to finish.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping service...")

	if err := s.srv.Stop(ctx); err != nil {
		s.log.Warn("Failed to stop server", "error", err)
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}

	if s.group != nil {
		return s.group.Wait()
	}
	return nil
}

// RunBatch executes one batch and persists its terminal state: the
// summary goes to the archive and billable outcomes to the ledger.
// Persistence runs after batchComplete so a storage failure never
// blocks the batch itself.
func (s *Service) RunBatch(ctx context.Context, req orchestrator.Request) (*domain.BatchResult, error) {
	res, err := s.orch.Run(ctx, req)
	if err != nil {
		return res, err
	}
	if res.Unavailable {
		// Nothing ran and nothing is billable; refusals are not
		// archived.
		return res, nil
	}

	persistCtx := context.WithoutCancel(ctx)
	if err := s.archive.Save(persistCtx, summarize(req.OwnerID, res)); err != nil {
		s.log.Error("failed to archive batch", "batch", res.BatchID, "error", err)
	}
	if res.Billable > 0 {
		err := s.ledger.Commit(persistCtx, storage.LedgerEntry{
			OwnerID:    req.OwnerID,
			BatchID:    res.BatchID,
			ProviderID: res.ProviderID,
			Billable:   res.Billable,
		})
		if err != nil {
			// The batch already completed; billing must not vanish
			// silently.
			s.log.Error("failed to commit ledger entry", "batch", res.BatchID, "error", err)
			return res, fmt.Errorf("commit ledger entry: %w", err)
		}
	}
	return res, nil
}

// Balance returns the owner's accumulated billable count.
func (s *Service) Balance(ctx context.Context, ownerID string) (int, error) {
	return s.ledger.BalanceFor(ctx, ownerID)
}

// RecentBatches returns the owner's archived batch summaries, newest
// first.
func (s *Service) RecentBatches(ctx context.Context, ownerID string, limit int) ([]storage.BatchSummary, error) {
	return s.archive.RecentForOwner(ctx, ownerID, limit)
}

// summarize flattens a batch result into its archive row.
func summarize(ownerID string, res *domain.BatchResult) storage.BatchSummary {
	seen := make(map[string]struct{})
	var codes []string
	for _, rec := range res.Results {
		if _, ok := seen[rec.Code]; ok {
			continue
		}
		seen[rec.Code] = struct{}{}
		codes = append(codes, rec.Code)
	}
	sort.Strings(codes)

	return storage.BatchSummary{
		BatchID:     res.BatchID,
		OwnerID:     ownerID,
		ProviderID:  res.ProviderID,
		Total:       res.Total,
		Processed:   res.Stats.Processed,
		Approved:    res.Stats.Approved,
		Partial:     res.Stats.Partial,
		Declined:    res.Stats.Declined,
		Errors:      res.Stats.Errors,
		Skipped:     res.Skipped,
		Billable:    res.Billable,
		Aborted:     res.Aborted,
		DurationMs:  int64(res.DurationSec * 1000),
		ResultCodes: codes,
	}
}
