// Package runtime assembles the full server process: configuration, storage
// backend selection, the HTTP listener and graceful shutdown.
package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"

	"github.com/greencycle-id/rewards-core/internal/app"
	"github.com/greencycle-id/rewards-core/internal/app/domain/exchange"
	"github.com/greencycle-id/rewards-core/internal/app/httpapi"
	"github.com/greencycle-id/rewards-core/internal/app/storage/docstore"
	"github.com/greencycle-id/rewards-core/internal/app/storage/postgres"
	"github.com/greencycle-id/rewards-core/internal/config"
	"github.com/greencycle-id/rewards-core/internal/platform/migrations"
	"github.com/greencycle-id/rewards-core/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	core       *app.Application
	httpServer *http.Server
	db         *sql.DB
}

// NewApplication constructs a new application instance with default wiring.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	stores, db, err := buildStores(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	core, err := app.New(stores, app.Options{
		Catalog: exchange.StaticCatalog(cfg.Methods),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("assemble application: %w", err)
	}

	auth := httpapi.NewAuthenticator([]byte(cfg.Auth.JWTSecret))
	handler := httpapi.NewHandler(httpapi.Services{
		Ledger:   core.Ledger,
		Deposits: core.Deposits,
		Missions: core.Missions,
		Exchange: core.Exchange,
	}, auth, log)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Application{
		cfg:        cfg,
		log:        log,
		core:       core,
		httpServer: srv,
		db:         db,
	}, nil
}

// Run starts the services and the HTTP server, blocking until the context is
// cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.core.Start(ctx); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s:%d", a.cfg.Server.Host, a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

// Shutdown gracefully shuts down the HTTP server and the services.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if err := a.core.Stop(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error stopping services")
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.WithError(err).Warn("error closing database connection")
		}
	}
	return nil
}

func buildStores(cfg *config.Config, log *logger.Logger) (app.Stores, *sql.DB, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := openDatabase(cfg.Database)
		if err != nil {
			return app.Stores{}, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := migrations.Apply(ctx, db); err != nil {
			db.Close()
			return app.Stores{}, nil, fmt.Errorf("apply migrations: %w", err)
		}
		store := postgres.New(db)
		return app.Stores{Ledger: store, Collections: store, Missions: store, Exchange: store}, db, nil

	case "docstore":
		store, err := docstore.New(docstore.Config{
			URL:            cfg.DocumentStore.URL,
			ServiceKey:     cfg.DocumentStore.ServiceKey,
			TimeoutSeconds: cfg.DocumentStore.TimeoutSeconds,
		})
		if err != nil {
			return app.Stores{}, nil, err
		}
		return app.Stores{Ledger: store, Collections: store, Missions: store, Exchange: store}, nil, nil

	case "":
		log.Warn("no database driver configured; using in-memory stores")
		return app.Stores{}, nil, nil

	default:
		return app.Stores{}, nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
