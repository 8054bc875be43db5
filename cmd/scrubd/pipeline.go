package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scrub-io/scrub/internal/columnar"
	"github.com/scrub-io/scrub/internal/columnar/sqlite"
	"github.com/scrub-io/scrub/internal/config"
	"github.com/scrub-io/scrub/internal/deletion"
	"github.com/scrub-io/scrub/internal/logging"
	"github.com/scrub-io/scrub/internal/metrics"
	"github.com/scrub-io/scrub/internal/requeststore/postgres"
	"github.com/scrub-io/scrub/internal/scheduler"
)

// App wires the request store, the columnar executor, the processors, and
// the coordinator together for one scrubd invocation.
type App struct {
	Coordinator *deletion.Coordinator
	Sched       *scheduler.Scheduler

	cfg      *config.Config
	logger   *logging.Logger
	store    *postgres.Store
	executor columnar.Executor
	scanner  *metrics.BacklogScanner
	srv      *http.Server
	closers  []func()
}

// buildApp constructs the pipeline from configuration.
func buildApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}

	store, err := postgres.Connect(ctx, cfg.RequestStore.DSN)
	if err != nil {
		return nil, err
	}
	app.store = store
	app.closers = append(app.closers, store.Close)

	if err := store.EnsureSchema(ctx); err != nil {
		app.Close()
		return nil, err
	}

	executor, err := buildExecutor(cfg, app)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.executor = executor

	pipelineMetrics := metrics.NewPipelineMetrics()

	processors := map[deletion.Type]deletion.Processor{}
	events := deletion.NewEventsProcessor(executor, logger, pipelineMetrics, deletion.EventsProcessorConfig{
		EventsTable:     cfg.Pipeline.EventsTable,
		SatelliteTables: cfg.Pipeline.SatelliteTables,
	})
	processors[deletion.TypeTeam] = events
	processors[deletion.TypePerson] = events
	processors[deletion.TypeGroup] = events

	cohorts := deletion.NewCohortProcessor(executor, logger, pipelineMetrics, deletion.CohortProcessorConfig{
		CohortTable: cfg.Pipeline.CohortTable,
	})
	processors[deletion.TypeCohortFull] = cohorts
	processors[deletion.TypeCohortStale] = cohorts

	processors[deletion.TypeCustom] = deletion.NewCustomProcessor(executor, logger, pipelineMetrics, deletion.CustomProcessorConfig{
		EventsTable:   cfg.Pipeline.EventsTable,
		VerifyTimeout: time.Duration(cfg.Pipeline.CustomVerifyTimeoutSeconds) * time.Second,
	})

	app.Coordinator = deletion.NewCoordinator(store, processors, logger, pipelineMetrics, deletion.CoordinatorConfig{
		MarkBatchSize: cfg.Pipeline.MarkBatchSize,
	})

	app.Sched = scheduler.New(app.Coordinator, logger, scheduler.Config{
		ProcessSpec: cfg.Scheduler.ProcessSpec,
		VerifySpec:  cfg.Scheduler.VerifySpec,
	})

	app.scanner = metrics.NewBacklogScanner(
		pipelineMetrics,
		store,
		logger,
		time.Duration(cfg.Scheduler.BacklogScanIntervalMs)*time.Millisecond,
	)

	return app, nil
}

func buildExecutor(cfg *config.Config, app *App) (columnar.Executor, error) {
	switch cfg.Columnar.Driver {
	case "sqlite":
		store, err := sqlite.Open(cfg.Columnar.Path)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() { _ = store.Close() })
		return store, nil
	default:
		return nil, fmt.Errorf("unknown columnar driver %q", cfg.Columnar.Driver)
	}
}

// Start begins scheduled operation: cron passes, backlog scanning, and the
// metrics endpoint.
func (a *App) Start() error {
	if err := a.Sched.Start(); err != nil {
		return err
	}
	a.scanner.Start()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	a.srv = &http.Server{Addr: a.cfg.Observability.MetricsAddr, Handler: mux}
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Errorf("metrics server failed", map[string]any{"error": err.Error()})
		}
	}()

	a.logger.Infof("pipeline started", map[string]any{
		"metricsAddr": a.cfg.Observability.MetricsAddr,
	})
	return nil
}

// Stop halts scheduled operation gracefully.
func (a *App) Stop() {
	if a.srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.srv.Shutdown(shutdownCtx)
	}
	if a.scanner != nil {
		a.scanner.Stop()
	}
	a.Sched.Stop()
}

// Close releases connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
