// Package server wires the bhopmaps components together and runs them:
// the metadata database, the object store, the orphan janitor and the
// HTTP API, with graceful shutdown on signals.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrijs2005/bhopmaps/internal/logging"
	"github.com/dmitrijs2005/bhopmaps/internal/server/config"
	"github.com/dmitrijs2005/bhopmaps/internal/server/httpapi"
	"github.com/dmitrijs2005/bhopmaps/internal/server/janitor"
	"github.com/dmitrijs2005/bhopmaps/internal/server/objectstore"
	"github.com/dmitrijs2005/bhopmaps/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/bhopmaps/internal/server/services"
)

var (
	openDB = func(dsn string) (*sql.DB, error) {
		return sql.Open("pgx", dsn)
	}
	newRepositoryManager = repomanager.NewPostgresRepositoryManager
	newObjectStore       = func(ctx context.Context, cfg *config.Config) (objectstore.Store, error) {
		return objectstore.NewS3Store(ctx, cfg)
	}
	connectRedis = janitor.Connect
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	redis      *redis.Client
	janitor    *janitor.Janitor
	reconciler *services.Reconciler
	server     *httpapi.Server
}

// NewApp opens every backing service and builds the object graph.
// Whatever was opened before a failure is closed again.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (_ *App, err error) {
	app := &App{config: c, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	app.db, err = openDB(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := newRepositoryManager()
	if err = rm.RunMigrations(ctx, app.db); err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	store, err := newObjectStore(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("object store init error: %w", err)
	}

	checks := map[string]httpapi.HealthCheck{
		"postgres": app.db.PingContext,
	}

	var queue janitor.Queue = janitor.NewMemoryQueue()
	if c.RedisAddr != "" {
		app.redis, err = connectRedis(ctx, janitor.RedisConfig{Addr: c.RedisAddr, DB: c.RedisDB})
		if err != nil {
			return nil, fmt.Errorf("redis init error: %w", err)
		}
		queue = janitor.NewRedisQueue(app.redis)
		client := app.redis
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	} else {
		logger.Warn(ctx, "No redis address configured, orphan queue is kept in memory")
	}

	app.janitor = janitor.New(store, queue, logger, c.JanitorInterval, c.JanitorBatch)

	users := services.NewUserService(app.db, rm, c, logger)
	gate := services.NewOwnershipGate(app.db, rm, users)
	maps := services.NewMapService(app.db, rm, users, gate, store, app.janitor, c, logger)
	app.reconciler = services.NewReconciler(app.db, rm, store, c.ReconcileGrace, logger)

	router := httpapi.NewRouter(httpapi.Deps{
		Users:  users,
		Maps:   maps,
		Checks: checks,
		Config: c,
		Logger: logger,
	})
	app.server = httpapi.NewServer(c.EndpointAddrHTTP, router, logger)

	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.server.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// Run blocks until a signal arrives or the HTTP server fails. Orphans still
// queued at shutdown get one last cleanup pass.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.janitor.Run(ctx)
	}()

	wg.Wait()

	drainCtx := context.WithoutCancel(ctx)
	if n, err := app.janitor.Drain(drainCtx); err != nil {
		app.logger.Error(drainCtx, "Final orphan cleanup failed", "error", err)
	} else if n > 0 {
		app.logger.Info(drainCtx, "Final orphan cleanup", "removed", n)
	}

	if err := app.Close(); err != nil {
		app.logger.Error(drainCtx, "Close failed", "error", err)
	}
	app.logger.Info(drainCtx, "App stopped")
}

// Repair runs one reconciliation between the metadata store and the bucket.
func (app *App) Repair(ctx context.Context, dryRun bool) (*services.Report, error) {
	return app.reconciler.Reconcile(ctx, dryRun)
}

// Close releases the database and Redis connections.
func (app *App) Close() error {
	var errs []error
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
		app.redis = nil
	}
	if app.db != nil {
		errs = append(errs, app.db.Close())
		app.db = nil
	}
	return errors.Join(errs...)
}
