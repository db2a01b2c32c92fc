package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/surfcast/internal/cache"
	"github.com/lox/surfcast/internal/config"
	"github.com/lox/surfcast/internal/features"
	"github.com/lox/surfcast/internal/ingest"
	"github.com/lox/surfcast/internal/logging"
	"github.com/lox/surfcast/internal/meteo"
	"github.com/lox/surfcast/internal/predict"
	"github.com/lox/surfcast/internal/publish"
	"github.com/lox/surfcast/internal/store"
)

// app holds what every command needs: logger, database and provider.
type app struct {
	cfg      *config.Globals
	logger   *slog.Logger
	loc      *time.Location
	db       *sql.DB
	store    *store.Store
	cache    *cache.Store
	acquirer *ingest.Acquirer
}

func newApp(g *config.Globals) (*app, error) {
	logger, err := logging.New(os.Stderr, g.LogLevel, g.LogFormat)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	loc, err := g.Location()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(g.DB), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", g.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db, loc, logger)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	c, err := cache.New(g.CacheDir, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	client := meteo.NewClient(g.ProviderConfig(), logger)
	acq := ingest.NewAcquirer(client, g.Model, logger, ingest.WithCache(c), ingest.WithAudit(st))

	return &app{
		cfg:      g,
		logger:   logger,
		loc:      loc,
		db:       db,
		store:    st,
		cache:    c,
		acquirer: acq,
	}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// scheduler loads the model bundles and wires the refresh pipeline. The
// returned closer releases the optional sinks.
func (a *app) scheduler() (*ingest.Scheduler, func(), error) {
	bundles, transform, err := predict.LoadBundles(a.cfg.ModelsDir)
	if err != nil {
		return nil, nil, err
	}
	if len(bundles) == 0 {
		return nil, nil, fmt.Errorf("no model bundles in %s", a.cfg.ModelsDir)
	}
	names := make([]string, len(bundles))
	for i, b := range bundles {
		names[i] = b.Name
	}
	a.logger.Info("models loaded", "bundles", names, "transform", transform != nil)

	fc, sc := a.cfg.PipelineConfig()
	proc := features.NewProcessor(fc, a.acquirer, a.logger)
	engine := predict.NewEngine(transform, a.loc, a.logger)

	s := ingest.NewScheduler(sc, a.store, a.acquirer, proc, engine, bundles, a.logger)
	s.SetArtifact(publish.NewCSVWriter(a.cfg.Output, a.loc))

	closer := func() {}
	if ftpCfg, ok := a.cfg.FTPConfig(); ok {
		s.AddSink(publish.NewFTPUploader(ftpCfg, a.loc))
		a.logger.Info("ftp upload enabled", "addr", ftpCfg.Addr, "dir", ftpCfg.Dir)
	}
	if len(a.cfg.KafkaBrokers) > 0 {
		k := publish.NewKafkaSink(a.cfg.KafkaBrokers, a.cfg.KafkaTopic, a.logger)
		s.AddSink(k)
		closer = func() {
			if err := k.Close(); err != nil {
				a.logger.Warn("kafka writer close", "error", err)
			}
		}
		a.logger.Info("kafka publishing enabled", "brokers", a.cfg.KafkaBrokers, "topic", a.cfg.KafkaTopic)
	}
	return s, closer, nil
}
