// Package di provides the dependency injection container that wires the
// question-supply services together and manages their lifecycle.
package di

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"triviaapp/internal/config"
	"triviaapp/internal/database"
	"triviaapp/internal/notifications"
	"triviaapp/internal/observability"
	"triviaapp/internal/services"
	contextutils "triviaapp/internal/utils"
	"triviaapp/internal/worker"
)

// ServiceContainer builds and owns the engine's services. Construction order
// matters: the pool needs the registry and generator, the replenishment
// service needs the pool.
type ServiceContainer struct {
	cfg    *config.Config
	logger *observability.Logger

	dbManager *database.Manager
	db        *sql.DB

	questionService      *services.QuestionService
	jobRegistry          services.JobRegistry
	generationService    *services.GenerationService
	varietyService       *services.VarietyService
	replenishmentService *services.ReplenishmentService
	metricsService       *services.MetricsService
	cleanupService       *services.CleanupService
	hub                  *notifications.Hub
	pool                 *worker.Pool

	mu            sync.Mutex
	poolCancel    context.CancelFunc
	shutdownFuncs []func(context.Context) error
}

// ContainerOptions selects optional wiring variants
type ContainerOptions struct {
	// DurableJobs switches the job registry to the Postgres implementation
	DurableJobs bool
}

// NewServiceContainer creates an empty container; call Initialize to build services
func NewServiceContainer(cfg *config.Config, logger *observability.Logger) *ServiceContainer {
	return &ServiceContainer{cfg: cfg, logger: logger}
}

// Initialize connects the database and constructs every service
func (sc *ServiceContainer) Initialize(ctx context.Context, opts ContainerOptions) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.dbManager = database.NewManager(sc.logger)
	db, err := sc.dbManager.InitDBWithConfig(sc.cfg.Database)
	if err != nil {
		return contextutils.WrapError(err, "failed to initialize database")
	}
	sc.db = db
	sc.shutdownFuncs = append(sc.shutdownFuncs, func(context.Context) error {
		return db.Close()
	})

	sc.questionService = services.NewQuestionService(db, sc.logger)
	if opts.DurableJobs {
		sc.jobRegistry = services.NewPostgresJobRegistry(db, sc.logger)
	} else {
		sc.jobRegistry = services.NewMemoryJobRegistry(sc.logger)
	}

	sc.varietyService = services.NewVarietyService(sc.cfg.Variety, sc.logger, time.Now().UnixNano())
	sc.generationService, err = services.NewGenerationService(&sc.cfg.Generation, sc.varietyService, sc.logger)
	if err != nil {
		_ = sc.cleanup(ctx)
		return contextutils.WrapError(err, "failed to initialize generation service")
	}

	sc.metricsService = services.NewMetricsService()
	sc.hub = notifications.NewHub(sc.logger)
	sc.pool = worker.NewPool(
		&sc.cfg.Generation,
		sc.jobRegistry,
		sc.questionService,
		sc.generationService,
		sc.hub,
		sc.metricsService,
		sc.logger,
	)
	sc.replenishmentService = services.NewReplenishmentService(
		sc.cfg.Generation.MinBatch,
		sc.cfg.Generation.MaxActiveJobsPerUser,
		sc.jobRegistry,
		sc.pool,
		sc.metricsService,
		sc.logger,
	)
	sc.cleanupService = services.NewCleanupService(
		sc.cfg.Generation.CleanupInterval,
		sc.cfg.Generation.JobRetention,
		sc.jobRegistry,
		sc.logger,
	)

	return nil
}

// Start launches the background components: worker pool and cleanup loop
func (sc *ServiceContainer) Start(ctx context.Context) {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	poolCtx, cancel := context.WithCancel(context.Background())
	sc.poolCancel = cancel
	sc.pool.Start(poolCtx)
	sc.cleanupService.Start(ctx)

	sc.shutdownFuncs = append(sc.shutdownFuncs,
		func(shutdownCtx context.Context) error {
			sc.cleanupService.Stop()
			return nil
		},
		func(shutdownCtx context.Context) error {
			err := sc.pool.Stop(shutdownCtx)
			cancel()
			sc.hub.Close()
			return err
		},
	)
}

// Shutdown stops services in reverse construction order
func (sc *ServiceContainer) Shutdown(ctx context.Context) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.cleanup(ctx)
}

func (sc *ServiceContainer) cleanup(ctx context.Context) error {
	var firstErr error
	for i := len(sc.shutdownFuncs) - 1; i >= 0; i-- {
		if err := sc.shutdownFuncs[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	sc.shutdownFuncs = nil
	return firstErr
}

// GetDatabase returns the database handle
func (sc *ServiceContainer) GetDatabase() *sql.DB { return sc.db }

// GetConfig returns the application config
func (sc *ServiceContainer) GetConfig() *config.Config { return sc.cfg }

// GetLogger returns the observability logger
func (sc *ServiceContainer) GetLogger() *observability.Logger { return sc.logger }

// GetQuestionService returns the question store
func (sc *ServiceContainer) GetQuestionService() services.QuestionServiceInterface {
	return sc.questionService
}

// GetJobRegistry returns the job registry
func (sc *ServiceContainer) GetJobRegistry() services.JobRegistry { return sc.jobRegistry }

// GetReplenishmentService returns the job admission service
func (sc *ServiceContainer) GetReplenishmentService() *services.ReplenishmentService {
	return sc.replenishmentService
}

// GetMetricsService returns the metrics aggregator
func (sc *ServiceContainer) GetMetricsService() *services.MetricsService { return sc.metricsService }

// GetCleanupService returns the cleanup service
func (sc *ServiceContainer) GetCleanupService() *services.CleanupService { return sc.cleanupService }

// GetHub returns the notification hub
func (sc *ServiceContainer) GetHub() *notifications.Hub { return sc.hub }

// GetPool returns the generation worker pool
func (sc *ServiceContainer) GetPool() *worker.Pool { return sc.pool }
