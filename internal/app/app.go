// Package app assembles the ingestion stack from configuration. The HTTP
// server and the CLI share it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/JonMunkholm/healthingest/internal/config"
	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/core/schemas"
	"github.com/JonMunkholm/healthingest/internal/metrics"
	"github.com/JonMunkholm/healthingest/internal/pipeline"
	"github.com/JonMunkholm/healthingest/internal/publish"
	"github.com/JonMunkholm/healthingest/internal/security"
	"github.com/JonMunkholm/healthingest/internal/storage/memory"
	"github.com/JonMunkholm/healthingest/internal/storage/postgres"
)

// App holds the wired components.
type App struct {
	Config  *config.Config
	Schemas *core.SchemaSet
	Store   core.Store
	Metrics *metrics.Collector
	Service *pipeline.Service

	// Postgres is set when DATABASE_URL is configured.
	Postgres *postgres.Store

	closers []func()
}

// New connects the configured backends and builds the service. Call Close
// when done.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	set, err := loadSchemas(cfg.Ingest.SchemaFile)
	if err != nil {
		return nil, err
	}
	a.Schemas = set
	slog.Info("schemas loaded", "count", set.Len(), "file", cfg.Ingest.SchemaFile)

	if cfg.Database.URL != "" {
		pg, err := postgres.Open(ctx, cfg.Database.URL, postgres.PoolOptions{
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		})
		if err != nil {
			return nil, err
		}
		a.Postgres = pg
		a.Store = pg
		a.closers = append(a.closers, pg.Close)
		slog.Info("connected to database", "name", databaseName(cfg.Database.URL))
	} else {
		a.Store = memory.New()
		slog.Warn("DATABASE_URL not set, records are kept in memory")
	}

	var pub core.Publisher = publish.Nop{}
	if cfg.Redis.URL != "" {
		r, err := publish.NewRedis(ctx, cfg.Redis.URL, cfg.Redis.Stream, cfg.Redis.MaxLen)
		if err != nil {
			a.Close()
			return nil, err
		}
		pub = r
		a.closers = append(a.closers, func() { r.Close() })
		slog.Info("publishing reports", "stream", cfg.Redis.Stream)
	}

	a.Metrics = metrics.New()
	p, err := pipeline.New(pipeline.Config{
		Schemas:   set,
		Encodings: cfg.Ingest.Encodings,
		Security: security.Options{
			MaxFileSize:    cfg.Ingest.MaxFileSize,
			ExtraMIMETypes: cfg.Security.ExtraMIMETypes,
		},
		Lookup:   a.Store,
		Observer: a.Metrics,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Service = pipeline.NewService(p, a.Store, pub, pipeline.ServiceConfig{
		MaxConcurrent: cfg.Ingest.MaxConcurrent,
		MaxWait:       cfg.Ingest.MaxWaitTime,
		Timeout:       cfg.Ingest.Timeout,
		RetryAttempts: cfg.Ingest.RetryAttempts,
		RetryBackoff:  cfg.Ingest.RetryBackoff,
		BatchTTL:      cfg.Ingest.BatchTTL,
	})
	lim := a.Service.Limiter()
	a.Metrics.TrackLimiter(func() (int, int) { return lim.ActiveCount(), lim.MaxConcurrent() })
	return a, nil
}

// Options returns the configured default ingest options.
func (a *App) Options() pipeline.Options {
	return pipeline.Options{
		Strict:          a.Config.Ingest.Strict,
		AllowQuarantine: a.Config.Ingest.AllowQuarantine,
		DeepScan:        a.Config.Ingest.DeepScan,
	}
}

// Close releases backends in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func loadSchemas(path string) (*core.SchemaSet, error) {
	set, err := schemas.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}
	return set, nil
}

// databaseName returns the database path of a connection URL without
// credentials.
func databaseName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(u.Path, "/")
}
