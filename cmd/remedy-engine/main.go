// remedy-engine is the incident response orchestrator daemon. It runs the
// detect, classify, plan, execute, notify control loop against configured
// metrics providers and exposes Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/remedystack/remedy-orchestrator/internal/classifier"
	"github.com/remedystack/remedy-orchestrator/internal/config"
	"github.com/remedystack/remedy-orchestrator/internal/detector"
	"github.com/remedystack/remedy-orchestrator/internal/engine"
	"github.com/remedystack/remedy-orchestrator/internal/executor"
	"github.com/remedystack/remedy-orchestrator/internal/gateway"
	"github.com/remedystack/remedy-orchestrator/internal/metrics"
	"github.com/remedystack/remedy-orchestrator/internal/notify"
	"github.com/remedystack/remedy-orchestrator/internal/planner"
	"github.com/remedystack/remedy-orchestrator/internal/repo"
	"github.com/remedystack/remedy-orchestrator/internal/router"
	"github.com/remedystack/remedy-orchestrator/internal/store"
	"github.com/remedystack/remedy-orchestrator/internal/utils"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults to $REMEDY_CONFIG)")
	flag.Parse()

	if err := run(*configPath); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "remedy-engine: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)
	logger.Info("starting remedy-engine",
		slog.String("metrics_address", cfg.Metrics.Address),
		slog.Duration("loop_interval", cfg.Loop.Interval.Std()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	st, err := store.Open(store.Config{
		Path:       cfg.Store.Path,
		InMemory:   cfg.Store.InMemory,
		SyncWrites: cfg.Store.SyncWrites,
		GCInterval: cfg.Store.GCInterval.Std(),
		Logger:     logger.With(slog.String("component", "store")),
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			logger.Error("store close failed", slog.Any("error", cerr))
		}
	}()

	providers, cleanup := buildProviders(cfg, logger)
	defer cleanup()
	if len(providers) == 0 {
		logger.Warn("no metrics providers configured, detection will run degraded")
	}
	gw := gateway.New(logger.With(slog.String("component", "gateway")), providers)

	streams := buildStreams(cfg.Detector.Streams)
	det := detector.New(logger.With(slog.String("component", "detector")), gw, detector.Config{
		CoalesceWindow: cfg.Detector.CoalesceWindow.Std(),
		BaselineWindow: cfg.Detector.BaselineWindow.Std(),
		SigmaThreshold: cfg.Detector.SigmaThreshold,
	}, streams)

	cls := classifier.New(logger.With(slog.String("component", "classifier")), st, classifier.Config{
		HistoryLimit:            cfg.Classifier.HistoryLimit,
		CohortAgreement:         cfg.Classifier.CohortAgreement,
		ResourceEscalationCount: cfg.Classifier.ResourceEscalationCount,
	})

	pln, err := planner.New(logger.With(slog.String("component", "planner")), cfg.Planner.CatalogPath)
	if err != nil {
		return fmt.Errorf("load recovery catalog: %w", err)
	}
	if cfg.Planner.WatchCatalog && cfg.Planner.CatalogPath != "" {
		go func() {
			if werr := pln.Watch(ctx, cfg.Planner.CatalogPath); werr != nil && !errors.Is(werr, context.Canceled) {
				logger.Warn("catalog watcher stopped", slog.Any("error", werr))
			}
		}()
	}

	platform := repo.NewDryRunPlatform(logger.With(slog.String("component", "platform")))
	exe := executor.New(logger.With(slog.String("component", "executor")), platform, gw, st, st, executor.Config{
		OpPollInterval:       cfg.Executor.PollInterval.Std(),
		ApprovalPollInterval: cfg.Executor.ApprovalPollInterval.Std(),
	})

	rtr := router.New(logger.With(slog.String("component", "router")), st, buildChannels(cfg, logger), cfg.Router.GroupWindow.Std())

	loop := engine.New(logger.With(slog.String("component", "loop")), engine.Config{
		Interval:        cfg.Loop.Interval.Std(),
		DetectionWindow: cfg.Loop.DetectionWindow.Std(),
		MaxWorkers:      cfg.Loop.MaxWorkers,
	}, det, cls, pln, exe, rtr, st, streams)

	metricsSrv := &http.Server{
		Addr:         cfg.Metrics.Address,
		Handler:      metricsHandler(registry),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("metrics endpoint listening", slog.String("address", cfg.Metrics.Address))
		if serr := metricsSrv.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.Any("error", serr))
		}
	}()

	err = loop.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Loop.GracefulTimeout.Std())
	defer cancel()
	if serr := metricsSrv.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("metrics server shutdown", slog.Any("error", serr))
	}

	logger.Info("remedy-engine stopped")
	return err
}

func metricsHandler(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func buildProviders(cfg *config.Config, logger *slog.Logger) (map[string]gateway.MetricsProvider, func()) {
	providers := make(map[string]gateway.MetricsProvider)
	var closers []func()

	if cfg.Providers.Influx.URL != "" {
		influx := repo.NewInfluxProvider(
			cfg.Providers.Influx.URL,
			cfg.Providers.Influx.Token,
			cfg.Providers.Influx.Org,
			cfg.Providers.Influx.Bucket,
			cfg.Providers.Influx.Timeout.Std(),
		)
		providers["influx"] = influx
		closers = append(closers, influx.Close)
		logger.Info("influx metrics provider enabled", slog.String("url", cfg.Providers.Influx.URL))
	}

	if cfg.Providers.HTTP.BaseURL != "" {
		providers["http"] = repo.NewHTTPProvider(
			cfg.Providers.HTTP.BaseURL,
			cfg.Providers.HTTP.QueryPath,
			cfg.Providers.HTTP.Timeout.Std(),
		)
		logger.Info("http metrics provider enabled", slog.String("base_url", cfg.Providers.HTTP.BaseURL))
	}

	return providers, func() {
		for _, c := range closers {
			c()
		}
	}
}

func buildChannels(cfg *config.Config, logger *slog.Logger) []router.NotificationChannel {
	var channels []router.NotificationChannel
	for _, wh := range cfg.Notify.Webhooks {
		channels = append(channels, notify.NewWebhookChannel(wh.Name, wh.URL, wh.Secret, notify.Format(wh.Format), wh.Timeout.Std()))
		logger.Info("webhook channel enabled", slog.String("name", wh.Name), slog.String("format", wh.Format))
	}
	if cfg.Notify.LogChannel || len(channels) == 0 {
		channels = append(channels, notify.NewLogChannel(logger.With(slog.String("component", "notify"))))
	}
	return channels
}

func buildStreams(rules []config.StreamRule) []detector.Stream {
	streams := make([]detector.Stream, 0, len(rules))
	for _, r := range rules {
		streams = append(streams, detector.Stream{
			Namespace: r.Namespace,
			Metric:    r.Metric,
			Service:   r.Service,
			Type:      r.Type,
			Warning:   r.Warning,
			Critical:  r.Critical,
		})
	}
	return streams
}
