// Package app builds the import components shared by the API server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/option"

	"github.com/dvloznov/finance-import/internal/blob"
	"github.com/dvloznov/finance-import/internal/config"
	bq "github.com/dvloznov/finance-import/internal/infra/bigquery"
	"github.com/dvloznov/finance-import/internal/jobs"
	"github.com/dvloznov/finance-import/internal/pipeline"
	"github.com/dvloznov/finance-import/internal/processor"
	"github.com/dvloznov/finance-import/internal/store/sqlite"
)

// App holds the long-lived dependencies built from a Config.
type App struct {
	Config   *config.Config
	Store    *sqlite.Store
	Blobs    blob.Store
	Factory  *processor.Factory
	Exporter *bq.Exporter // nil unless bigquery.enabled

	closers []func() error
}

// New opens the database, the blob backend and, when enabled, the BigQuery mirror.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	store, err := sqlite.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)
	a.Factory = processor.NewDefaultFactory(store)

	blobs, closeBlobs, err := OpenBlobStore(ctx, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Blobs = blobs
	if closeBlobs != nil {
		a.closers = append(a.closers, closeBlobs)
	}

	if cfg.BigQuery.Enabled {
		exporter, err := bq.NewExporter(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset, cfg.BigQuery.Table)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Exporter = exporter
		a.closers = append(a.closers, exporter.Close)
	}

	return a, nil
}

// OpenBlobStore creates the configured blob backend. The returned close
// function is nil for backends without resources to release.
func OpenBlobStore(ctx context.Context, cfg config.StorageConfig) (blob.Store, func() error, error) {
	switch cfg.Backend {
	case config.StorageLocal:
		s, err := blob.NewLocalStore(cfg.LocalDir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening local storage: %w", err)
		}
		return s, nil, nil
	case config.StorageGCS:
		var opts []option.ClientOption
		if cfg.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.Endpoint))
			if cfg.CredentialsFile == "" {
				opts = append(opts, option.WithoutAuthentication())
			}
		}
		if cfg.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		}
		s, err := blob.NewGCSStore(ctx, cfg.Bucket, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("opening gcs storage: %w", err)
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// Runner returns an import runner, mirrored to BigQuery when enabled.
func (a *App) Runner() *pipeline.Runner {
	var opts []pipeline.RunnerOption
	if a.Exporter != nil {
		opts = append(opts, pipeline.WithMirror(a.Exporter))
	}
	return pipeline.NewRunner(a.Store, a.Blobs, a.Factory, a.Store, opts...)
}

// Service returns the registration and trigger service publishing to pub.
func (a *App) Service(pub jobs.Publisher) *pipeline.Service {
	return pipeline.NewService(a.Store, a.Blobs, a.Factory, pub)
}

// Reaper returns the stale-job reaper using worker.max_processing.
func (a *App) Reaper() *pipeline.Reaper {
	return pipeline.NewReaper(a.Store, a.Blobs, a.Config.Worker.MaxProcessing)
}

// Close releases everything New opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
