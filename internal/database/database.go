// Package database provides database connection and migration functionality.
package database

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"triviaapp/internal/config"
	"triviaapp/internal/observability"
	contextutils "triviaapp/internal/utils"

	// Import PostgreSQL driver for database/sql
	_ "github.com/lib/pq"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // required for golang-migrate postgres driver
	_ "github.com/golang-migrate/migrate/v4/source/file"       // required for golang-migrate file source

	// OpenTelemetry SQL instrumentation
	"go.nhat.io/otelsql"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Manager handles database operations with proper logging
type Manager struct {
	logger *observability.Logger
}

var (
	otelDriverNameCache string
	otelDriverOnce      sync.Once
	otelDriverErr       error
)

// NewManager creates a new database manager with the provided logger
func NewManager(logger *observability.Logger) *Manager {
	return &Manager{
		logger: logger,
	}
}

// InitDBWithConfig initializes a database connection, applies pool settings,
// and runs migrations.
func (dm *Manager) InitDBWithConfig(cfg config.DatabaseConfig) (result0 *sql.DB, err error) {
	ctx, span := observability.TraceDatabaseFunction(context.Background(), "InitDBWithConfig",
		attribute.String("db.name", extractDatabaseName(cfg.URL)),
		attribute.String("db.system", "postgresql"),
		attribute.Int("db.max_open_conns", cfg.MaxOpenConns),
		attribute.Int("db.max_idle_conns", cfg.MaxIdleConns),
	)
	defer observability.FinishSpan(span, &err)

	db, err := dm.openDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := dm.RunMigrations(ctx, cfg); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// InitDBWithoutMigrations opens and pings the database without touching the schema
func (dm *Manager) InitDBWithoutMigrations(cfg config.DatabaseConfig) (result0 *sql.DB, err error) {
	ctx, span := observability.TraceDatabaseFunction(context.Background(), "InitDBWithoutMigrations",
		attribute.String("db.name", extractDatabaseName(cfg.URL)),
	)
	defer observability.FinishSpan(span, &err)
	return dm.openDB(ctx, cfg)
}

func (dm *Manager) openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	driverName, err := otelDriverName()
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to register otelsql driver")
	}

	db, err := sql.Open(driverName, cfg.URL)
	if err != nil {
		return nil, contextutils.NewAppErrorWithCause(
			contextutils.ErrorCodeDatabaseConnection,
			contextutils.SeverityError,
			"failed to open database",
			"",
			err,
		)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, contextutils.NewAppErrorWithCause(
			contextutils.ErrorCodeDatabaseConnection,
			contextutils.SeverityError,
			"failed to ping database",
			"",
			err,
		)
	}

	dm.logger.Info(ctx, "Database connection established", map[string]interface{}{
		"db_name":        extractDatabaseName(cfg.URL),
		"max_open_conns": cfg.MaxOpenConns,
	})

	return db, nil
}

// RunMigrations applies all pending migrations from the configured directory
func (dm *Manager) RunMigrations(ctx context.Context, cfg config.DatabaseConfig) (err error) {
	ctx, span := observability.TraceDatabaseFunction(ctx, "RunMigrations",
		attribute.String("migrations.path", cfg.MigrationsPath),
	)
	defer observability.FinishSpan(span, &err)

	migrationsPath, err := filepath.Abs(cfg.MigrationsPath)
	if err != nil {
		return contextutils.WrapError(err, "failed to resolve migrations path")
	}

	// Use file:// scheme with absolute path for golang-migrate
	migrationSourceURL := "file://" + filepath.ToSlash(migrationsPath)

	m, err := migrate.New(migrationSourceURL, cfg.URL)
	if err != nil {
		return contextutils.WrapError(err, "failed to create migrator")
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			dm.logger.Warn(ctx, "Failed to close migration source", map[string]interface{}{"error": sourceErr.Error()})
		}
		if dbErr != nil {
			dm.logger.Warn(ctx, "Failed to close migration database", map[string]interface{}{"error": dbErr.Error()})
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return contextutils.WrapError(err, "failed to run migrations")
	}

	dm.logger.Info(ctx, "Migrations applied", map[string]interface{}{"path": migrationsPath})
	return nil
}

// otelDriverName registers the instrumented postgres driver once and caches the name
func otelDriverName() (string, error) {
	otelDriverOnce.Do(func() {
		otelDriverNameCache, otelDriverErr = otelsql.Register("postgres",
			otelsql.TraceQueryWithoutArgs(),
			otelsql.WithSystem(semconv.DBSystemPostgreSQL),
		)
	})
	return otelDriverNameCache, otelDriverErr
}

// extractDatabaseName pulls the database name out of a connection URL for logging
func extractDatabaseName(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "unknown"
	}
	return strings.TrimPrefix(u.Path, "/")
}
