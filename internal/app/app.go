// Package app wires configuration into the store, object storage, ingestion,
// export and HTTP components.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"gemini/internal/adapters/export"
	"gemini/internal/api"
	"gemini/internal/blob"
	"gemini/internal/config"
	"gemini/internal/infra/persistence/postgres"
	"gemini/internal/infra/persistence/sqlite"
	"gemini/internal/logging"
	"gemini/internal/model"
	"gemini/internal/objectstore"
	"gemini/internal/observability"
	"gemini/internal/persistence"
	"gemini/internal/records"
	"gemini/internal/schema"
)

// App holds every long-lived component of a process.
type App struct {
	Config   *config.Config
	Log      *slog.Logger
	DB       *persistence.DB
	Metrics  *observability.Metrics
	Catalog  *schema.Catalog
	Objects  *objectstore.Client
	Recorder *records.Recorder
	Exports  *export.Worker
}

// OpenDB opens the relational store selected by cfg.Driver.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*persistence.DB, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.DSN, cfg.Pool())
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DSN, cfg.Pool())
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// New builds the component graph. Log output goes to w (stderr when nil).
// The export worker is created but not started.
func New(ctx context.Context, cfg *config.Config, w io.Writer) (*App, error) {
	log, err := logging.New(cfg.Logging, w)
	if err != nil {
		return nil, err
	}
	metrics, err := observability.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	db, err := OpenDB(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	bcfg, err := cfg.Storage.Blob()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store, err := blob.Open(ctx, bcfg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open object storage: %w", err)
	}
	objects := objectstore.New(store, objectstore.Options{
		PresignExpiry: cfg.Storage.PresignExpiry,
		Logger:        logging.Module(log, "objectstore"),
		Observer:      metrics,
	})

	catalog := schema.NewCatalog(db, model.Options{
		Strict:        cfg.Model.StrictFields,
		PartitionSize: cfg.Model.PartitionSize,
		Logger:        logging.Module(log, "model"),
		Observer:      metrics,
	})
	rec := records.New(catalog, objects, records.Options{
		UploadConcurrency: cfg.Records.UploadConcurrency,
		URLExpiry:         cfg.Records.URLExpiry,
		Logger:            logging.Module(log, "records"),
	})
	exports := export.NewWorker(rec, objects, export.Options{
		Workers:   cfg.Export.Workers,
		QueueSize: cfg.Export.QueueSize,
		Prefix:    cfg.Export.Prefix,
		Logger:    logging.Module(log, "export"),
		Observer:  metrics,
	})

	log.Info("components ready",
		"database", cfg.Database.Driver,
		"storage", bcfg.Driver,
		"strict_fields", cfg.Model.StrictFields)
	return &App{
		Config:   cfg,
		Log:      log,
		DB:       db,
		Metrics:  metrics,
		Catalog:  catalog,
		Objects:  objects,
		Recorder: rec,
		Exports:  exports,
	}, nil
}

// Migrate applies the DDL bundle and seeds the taxonomies. It returns the
// number of taxonomy rows created.
func (a *App) Migrate(ctx context.Context) (int, error) {
	if err := a.DB.Migrate(ctx); err != nil {
		return 0, fmt.Errorf("migrate: %w", err)
	}
	n, err := schema.Seed(ctx, a.Catalog)
	if err != nil {
		return n, err
	}
	a.Log.Info("schema migrated", "dialect", a.DB.Dialect.Name(), "seeded", n)
	return n, nil
}

// Server builds the HTTP controller over the app's components.
func (a *App) Server() *api.Controller {
	opts := api.Options{
		Logger:  logging.Module(a.Log, "api"),
		Exports: a.Exports,
	}
	if a.Config.Metrics.Enabled {
		opts.Metrics = a.Metrics.Handler()
		opts.MetricsPath = a.Config.Metrics.Path
	}
	return api.New(a.Catalog, a.Recorder, opts)
}

// Serve runs the export worker and the HTTP server until ctx ends, then
// shuts both down within the configured timeout.
func (a *App) Serve(ctx context.Context) error {
	srv := a.Server()
	a.Exports.Start()

	errc := make(chan error, 1)
	go func() { errc <- srv.Start(a.Config.Server.Addr) }()
	a.Log.Info("serving", "addr", a.Config.Server.Addr)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}

	sctx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	err := errors.Join(serveErr, srv.Shutdown(sctx), a.Exports.Stop(sctx))
	a.Log.Info("server stopped")
	return err
}

// Close releases the store handle.
func (a *App) Close() error {
	return a.DB.Close()
}
