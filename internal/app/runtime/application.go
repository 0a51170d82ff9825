// Package runtime wires configuration, storage and the HTTP server into a
// runnable process.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	app "github.com/R3E-Network/fosterhub/internal/app"
	"github.com/R3E-Network/fosterhub/internal/app/httpapi"
	"github.com/R3E-Network/fosterhub/internal/app/lock"
	"github.com/R3E-Network/fosterhub/internal/app/metrics"
	"github.com/R3E-Network/fosterhub/internal/app/storage/sqlstore"
	"github.com/R3E-Network/fosterhub/internal/config"
	"github.com/R3E-Network/fosterhub/internal/middleware"
	"github.com/R3E-Network/fosterhub/internal/platform/migrations"
	"github.com/R3E-Network/fosterhub/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	app        *app.Application
	httpServer *http.Server
	limiter    *middleware.RateLimiter
	db         *sqlx.DB
	redis      *redis.Client
}

// NewApplication constructs the process from the environment.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewApplicationWithConfig(ctx, cfg)
}

// NewApplicationWithConfig constructs the process from an explicit config.
func NewApplicationWithConfig(ctx context.Context, cfg *config.Config) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	loc, err := cfg.Sprites.Location()
	if err != nil {
		return nil, fmt.Errorf("sprite time zone: %w", err)
	}

	a := &Application{cfg: cfg, log: log}

	stores, err := a.buildStores(ctx)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	settings := app.Settings{
		Location:          loc,
		FeedCost:          cfg.Sprites.FeedCost,
		FeedBoost:         cfg.Sprites.FeedBoost,
		SweepSchedule:     cfg.Sprites.SweepSchedule,
		TokensPerPurchase: cfg.Payments.TokensPerPurchase,
		SweepLocker:       a.buildLocker(ctx),
	}
	application, err := app.New(stores, settings, log)
	if err != nil {
		a.closeResources()
		return nil, fmt.Errorf("build application: %w", err)
	}
	a.app = application

	if cfg.RateLimit.FeedPerSecond > 0 {
		a.limiter = middleware.NewRateLimiter(cfg.RateLimit.FeedPerSecond, cfg.RateLimit.FeedBurst, log)
	}

	a.httpServer = &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      a.buildHandler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return a, nil
}

// Handler exposes the fully wrapped HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.httpServer.Handler
}

func (a *Application) buildHandler() http.Handler {
	api := httpapi.NewHandler(a.app, httpapi.Options{
		StreamInterval: a.cfg.Sprites.StreamInterval,
		FeedLimiter:    a.limiter,
		Log:            a.log,
	})
	handler := metrics.InstrumentHandler(api)
	handler = middleware.NewTracingMiddleware(a.log).Handler(handler)
	// Identity sits outside tracing so request logs carry the user.
	handler = middleware.UserIdentity(handler)
	handler = middleware.NewCORSMiddleware(a.cfg.CORS.AllowedOrigins).Handler(handler)
	return handler
}

func (a *Application) buildStores(ctx context.Context) (app.Stores, error) {
	if !a.cfg.Database.UsesSQL() {
		a.log.Warn("no database configured; sprites and wallets are kept in memory")
		return app.Stores{}, nil
	}

	db, err := openDatabase(ctx, a.cfg.Database)
	if err != nil {
		return app.Stores{}, err
	}
	a.db = db

	if a.cfg.Database.AutoMigrate {
		if err := migrations.Up(ctx, db.DB, a.cfg.Database.Driver); err != nil {
			return app.Stores{}, fmt.Errorf("apply migrations: %w", err)
		}
		if version, dirty, err := migrations.Version(ctx, db.DB); err == nil {
			a.log.WithFields(map[string]interface{}{
				"version": version,
				"dirty":   dirty,
			}).Info("database schema ready")
		}
	}

	store := sqlstore.New(db)
	return app.Stores{Sprites: store, Wallets: store}, nil
}

// buildLocker returns the shared sweep lock, or nil when Redis is not
// configured or unreachable.
func (a *Application) buildLocker(ctx context.Context) lock.Locker {
	if a.cfg.Redis.Addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		a.log.WithError(err).Warn("redis unreachable; sweeps run without a shared lock")
		_ = client.Close()
		return nil
	}
	a.redis = client
	return lock.NewRedis(client, "fosterhub", a.cfg.Redis.LockTTL)
}

// Run starts the services and the HTTP server and blocks until the context
// is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}
	if a.limiter != nil {
		a.limiter.StartCleanup(ctx, time.Minute)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server and services, then releases
// connections.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var errs []error
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := a.app.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	a.closeResources()
	return errors.Join(errs...)
}

func (a *Application) closeResources() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
		a.db = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.WithError(err).Warn("error closing redis client")
		}
		a.redis = nil
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sqlstore.Open(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 && cfg.Driver != sqlstore.DriverSQLite {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}
	return db, nil
}
