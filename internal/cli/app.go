package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-offline-kit/connectivity"
	prommetrics "github.com/c0deZ3R0/go-offline-kit/metrics/prometheus"
	"github.com/c0deZ3R0/go-offline-kit/storage/postgres"
	"github.com/c0deZ3R0/go-offline-kit/storage/sqlite"
	"github.com/c0deZ3R0/go-offline-kit/synckit"
	"github.com/c0deZ3R0/go-offline-kit/transport/httptransport"
)

// app is one engine session: opened at the start of a command, flushed and
// closed at the end.
type app struct {
	settings *Settings
	logger   *slog.Logger
	engine   *synckit.Engine
	executor *httptransport.Executor
	monitor  *connectivity.Monitor
	metrics  *prommetrics.Collector
	server   *http.Server
}

func openStore(s *Settings, logger *slog.Logger) (synckit.PersistentStore, error) {
	if s.PostgresDSN != "" {
		return postgres.New(&postgres.Config{
			ConnectionString: s.PostgresDSN,
			TableName:        s.TableName,
			Logger:           logger,
		})
	}
	if dir := filepath.Dir(s.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	config := sqlite.DefaultConfig(s.DBPath)
	config.TableName = s.TableName
	config.Logger = logger
	return sqlite.New(config)
}

func openApp(cmd *cobra.Command, opts *RootOptions, extra ...synckit.EngineOption) (*app, error) {
	settings, err := loadSettings(cmd, opts)
	if err != nil {
		return nil, err
	}
	logger := opts.logger(cmd)

	executor, err := httptransport.NewExecutor(settings.APIURL,
		httptransport.WithToken(settings.Token),
		httptransport.WithLogger(logger),
		httptransport.WithClientOptions(httptransport.WithClientTimeout(settings.Timeout)),
	)
	if err != nil {
		return nil, err
	}

	store, err := openStore(settings, logger)
	if err != nil {
		return nil, fmt.Errorf("open engine state: %w", err)
	}

	collector := prommetrics.NewCollector()
	monitorConfig := connectivity.DefaultMonitorConfig()
	monitorConfig.Interval = settings.ProbeInterval
	monitor := connectivity.NewMonitor(executor,
		connectivity.WithConfig(monitorConfig),
		connectivity.WithLogger(logger),
	)

	engineOpts := []synckit.EngineOption{
		synckit.WithStore(store),
		synckit.WithExecutor(synckit.NewObservableExecutor(executor,
			synckit.WithMetricsCollector(collector),
			synckit.WithObservableLogger(logger),
		)),
		synckit.WithConnectivity(monitor),
		synckit.WithMetrics(collector),
		synckit.WithLogger(logger),
	}
	if settings.EngineConfig != "" {
		engineOpts = append([]synckit.EngineOption{
			synckit.WithConfigFile(settings.EngineConfig, synckit.WithConfigLogger(logger)),
		}, engineOpts...)
	} else {
		engineOpts = append(engineOpts, synckit.WithRequestTimeout(settings.Timeout))
	}
	engineOpts = append(engineOpts, extra...)

	engine, err := synckit.NewEngine(engineOpts...)
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := engine.Load(cmd.Context()); err != nil {
		engine.Close()
		return nil, fmt.Errorf("load engine state: %w", err)
	}

	a := &app{
		settings: settings,
		logger:   logger,
		engine:   engine,
		executor: executor,
		monitor:  monitor,
		metrics:  collector,
	}
	if settings.MetricsAddr != "" {
		if err := a.serveMetrics(settings.MetricsAddr); err != nil {
			a.close()
			return nil, err
		}
	}
	return a, nil
}

// online probes the API once and reports the result.
func (a *app) online(ctx context.Context) bool {
	return a.monitor.Check(ctx)
}

func (a *app) serveMetrics(addr string) error {
	r := chi.NewRouter()
	r.Handle("/metrics", a.metrics.Handler())
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(a.engine.Status())
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	a.server = &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			a.logger.Error("Metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("Serving metrics", "addr", ln.Addr().String())
	return nil
}

func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}
	a.monitor.Stop()
	if err := a.engine.Flush(ctx); err != nil {
		a.logger.Warn("Flushing engine state failed", "error", err)
	}
	return a.engine.Close()
}

// withApp opens an app for the duration of fn.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(*app, *printer) error) (err error) {
	a, err := openApp(cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.close(); err == nil {
			err = cerr
		}
	}()
	return fn(a, newPrinter(cmd, opts))
}
