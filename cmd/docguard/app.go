package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/raaihank/docguard/internal/config"
	"github.com/raaihank/docguard/internal/convert"
	"github.com/raaihank/docguard/internal/keylock"
	"github.com/raaihank/docguard/internal/knowledge"
	"github.com/raaihank/docguard/internal/ledger"
	"github.com/raaihank/docguard/internal/logger"
	"github.com/raaihank/docguard/internal/openwebui"
	"github.com/raaihank/docguard/internal/pipeline"
	"github.com/raaihank/docguard/internal/poller"
	"github.com/raaihank/docguard/internal/privacy"
	"github.com/raaihank/docguard/internal/secrets"
	"github.com/raaihank/docguard/internal/server"
	"github.com/raaihank/docguard/internal/storage"
	"github.com/raaihank/docguard/internal/websocket"
	"go.uber.org/zap"
)

// app holds every long-lived component of a docguard process
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	store    storage.Store
	source   *privacy.Source
	locks    keylock.Locker
	ledger   ledger.Ledger
	hub      *websocket.Hub
	pipeline *pipeline.Pipeline
	driver   *poller.Driver
	server   *server.Server
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}
	return logger.New(loggerConfig)
}

// buildApp wires the pipeline from configuration. Any error here is a
// startup failure and polling never begins.
func buildApp(cfg *config.Config, log *logger.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.store, err = storage.Open(cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	catalog, err := privacy.CatalogFromConfig(cfg.Privacy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
	}
	var store privacy.SecretStore
	if cfg.Vault.Token != "" {
		store = secrets.NewVault(cfg.Vault, log)
	} else {
		log.Warn("No secret store token configured, using default PII patterns")
	}
	a.source = privacy.NewSource(store, catalog, log)
	guard := privacy.NewGuard(a.source, privacy.NewProtector(), log)

	a.locks, err = keylock.New(cfg.Lock, log)
	if err != nil {
		return nil, fmt.Errorf("create key lock: %w", err)
	}

	a.ledger, err = ledger.Open(cfg.Ledger, log)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	indexer := openwebui.NewClient(cfg.Indexer, log)
	router := knowledge.NewRouter(indexer, a.locks, cfg.Indexer.KnowledgeNameSuffix, log)

	var converter convert.Converter
	if cfg.Converter.URL != "" {
		converter = convert.NewClient(cfg.Converter, log)
	}

	a.hub = websocket.NewHub(cfg.WebSocket, log)

	a.pipeline, err = pipeline.New(pipeline.Deps{
		Store: a.store,
		Containers: pipeline.Containers{
			Intake:     cfg.Storage.IntakeContainer,
			Processed:  cfg.Storage.ProcessedContainer,
			Quarantine: cfg.Storage.QuarantineContainer,
		},
		Converter: converter,
		Guard:     guard,
		Router:    router,
		Indexer:   indexer,
		Ledger:    a.ledger,
		Sink:      a.hub,
		Logger:    log,
	}, pipeline.Options{
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		DedupeByHash: cfg.Pipeline.DedupeByHash,
	})
	if err != nil {
		return nil, err
	}

	a.driver, err = poller.NewDriver(poller.Config{
		Container: cfg.Storage.IntakeContainer,
		Interval:  cfg.Pipeline.Interval,
		Workers:   cfg.Pipeline.Workers,
	}, a.store, a.pipeline, a.hub, log)
	if err != nil {
		return nil, err
	}

	a.server = server.New(cfg.Server, version, a.pipeline, a.source, a.hub, log)
	return a, nil
}

// watchConfig reloads the PII class catalog when the config file changes
func (a *app) watchConfig() {
	config.Watch(func(next *config.Config) {
		catalog, err := privacy.CatalogFromConfig(next.Privacy)
		if err != nil {
			a.log.Error("Rejected reloaded PII classes", zap.Error(err))
			return
		}
		a.source.SetCatalog(catalog)
	}, func(err error) {
		a.log.Error("Configuration reload failed", zap.Error(err))
	})
}

func (a *app) close() {
	if a.driver != nil {
		a.driver.Release()
	}
	var errs []error
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
	}
	if c, ok := a.locks.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Error("Shutdown cleanup failed", zap.Error(err))
	}
}

// probeSecretStore reports secret store reachability at startup
func (a *app) probeSecretStore(ctx context.Context) {
	if a.source.IsAvailable(ctx) {
		a.log.Info("Secret store reachable, remote PII patterns enabled")
		return
	}
	a.log.Warn("Secret store unreachable, default PII patterns will be used until it recovers")
}
