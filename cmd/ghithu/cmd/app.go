package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"ghithu-reconciliation-service/cmd/ghithu/config"
	"ghithu-reconciliation-service/internal/cache"
	"ghithu-reconciliation-service/internal/export"
	"ghithu-reconciliation-service/internal/gateway"
	"ghithu-reconciliation-service/internal/sheets"
	"ghithu-reconciliation-service/internal/sources"
	"ghithu-reconciliation-service/pkg/errors"
	"ghithu-reconciliation-service/pkg/logger"
	"ghithu-reconciliation-service/pkg/metrics"

	"github.com/redis/go-redis/v9"
)

// cacheKeyPrefix namespaces the shared gateway cache in Redis.
const cacheKeyPrefix = "ghithu:cache:"

// app is everything one command run needs, wired from the configuration.
type app struct {
	cfg     *config.AppConfig
	log     logger.Logger
	metrics *metrics.Metrics
	exec    gateway.Executor
	sources *sources.Sources
	ledger  sheets.Store
	rdb     *redis.Client
	closers []func() error
}

// newApp wires the gateway, the cache and, when withSheets is set, the
// ledger store. Callers must call close.
func newApp(ctx context.Context, command string, withSheets bool) (*app, error) {
	cfg := appConfig
	a := &app{
		cfg:     cfg,
		log:     logger.GetGlobalLogger().WithComponent(command),
		metrics: metrics.New(metrics.Config{Command: command, Environment: cfg.Environment}),
	}

	if cfg.Redis.Enabled() {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, a.rdb.Close)
		if err := a.rdb.Ping(ctx).Err(); err != nil {
			a.close()
			return nil, errors.Wrap(err, errors.CategoryGateway, errors.CodeConnectionFailed, "redis is unreachable").
				WithContext("addr", cfg.Redis.Addr).
				WithSuggestion("start Redis or clear redis.addr to run without the shared cache and lock")
		}
	}

	base, err := a.openGateway()
	if err != nil {
		a.close()
		return nil, err
	}
	store, err := a.cacheStore()
	if err != nil {
		a.close()
		return nil, err
	}
	a.exec = cache.Wrap(gateway.Instrument(base, a.metrics), cfg.Cache, store, a.metrics, a.log)

	if withSheets {
		sc, err := config.CreateSheetsConfig(cfg)
		if err != nil {
			a.close()
			return nil, err
		}
		a.ledger, err = sheets.Open(ctx, sc, a.locker(), a.log)
		if err != nil {
			a.close()
			return nil, err
		}
	}
	a.sources = sources.New(a.exec, a.ledger, a.log)

	a.log.WithFields(logger.Fields{
		"gateway": cfg.Gateway.Mode,
		"cache":   cfg.Cache.Backend,
		"sheets":  withSheets,
		"redis":   cfg.Redis.Enabled(),
	}).Debug("Application wired")
	return a, nil
}

func (a *app) openGateway() (gateway.Executor, error) {
	switch a.cfg.Gateway.Mode {
	case "sql":
		sc, err := config.CreateSQLConfig(a.cfg)
		if err != nil {
			return nil, err
		}
		exec, err := gateway.OpenSQLExecutor(sc, a.log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, exec.Close)
		return exec, nil
	default:
		sc, err := config.CreateSOAPConfig(a.cfg)
		if err != nil {
			return nil, err
		}
		return gateway.NewSOAPExecutor(sc, nil, a.log), nil
	}
}

func (a *app) cacheStore() (cache.Store, error) {
	switch a.cfg.Cache.Backend {
	case "memory":
		return cache.NewMemoryStore(a.cfg.Cache.Size, a.cfg.Cache.TTL), nil
	case "redis":
		if a.rdb == nil {
			return nil, errors.ConfigurationError(errors.CodeMissingConfig, "redis.addr", "", nil).
				WithSuggestion("cache.backend=redis needs redis.addr")
		}
		return cache.NewRedisStore(a.rdb, cacheKeyPrefix), nil
	default:
		return nil, nil
	}
}

// locker serializes ledger appends across processes when Redis is
// configured.
func (a *app) locker() sheets.Locker {
	if a.rdb == nil {
		return sheets.NoLocker{}
	}
	return sheets.NewRedisLocker(a.rdb, a.cfg.Redis.LockTTL)
}

// observe times fn and records it under operation.
func (a *app) observe(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	a.metrics.ObserveRun(operation, time.Since(start), err)
	return err
}

// close writes the metrics textfile and releases every connection.
func (a *app) close() {
	if path := a.cfg.Metrics.File; path != "" {
		if err := a.metrics.WriteToTextfile(path); err != nil {
			a.log.WithError(err).Warn("Could not write metrics")
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.WithError(err).Debug("Close failed")
		}
	}
	a.closers = nil
}

// render writes doc in the --format chosen, to --output or stdout.
func (a *app) render(doc export.Document) error {
	ec, err := config.CreateExportConfig(a.cfg, outputFormat)
	if err != nil {
		return err
	}
	gen, err := export.NewGenerator(ec, a.log)
	if err != nil {
		return err
	}
	w, err := openOutput(ec.Format, outputFile)
	if err != nil {
		return err
	}
	if err := gen.Write(w, doc); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return errors.ExportError(errors.CodeWriteFailed, string(ec.Format), outputFile, err)
	}
	if outputFile != "" {
		a.log.WithField("path", outputFile).Info("Output written")
	}
	return nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func openOutput(format export.OutputFormat, path string) (io.WriteCloser, error) {
	if path == "" {
		if format.Binary() {
			return nil, errors.ValidationError(errors.CodeMissingField, "output", "", nil).
				WithSuggestion("xlsx and pdf need --output, e.g. --output report" + format.Extension())
		}
		return nopCloser{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.ExportError(errors.CodeWriteFailed, string(format), path, err)
	}
	return f, nil
}

// validateOutput checks the output flags before any remote call is made.
func validateOutput() error {
	f, err := export.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	if outputFile == "" {
		if f.Binary() {
			return errors.ValidationError(errors.CodeMissingField, "output", "", nil).
				WithSuggestion("xlsx and pdf need --output, e.g. --output report" + f.Extension())
		}
		return nil
	}
	dir := filepath.Dir(outputFile)
	if dir != "." {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return errors.ValidationError(errors.CodeInvalidData, "output", outputFile, err).
				WithSuggestion("create the output directory first")
		}
	}
	return nil
}
