// Package gateway normalizes time-series samples pulled from one or more
// external monitoring backends into the single metric schema the detector
// consumes.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/remedystack/remedy-orchestrator/internal/models"
	"github.com/remedystack/remedy-orchestrator/internal/utils"
)

// MetricsProvider is the capability interface for a monitoring backend.
type MetricsProvider interface {
	Query(ctx context.Context, namespace string, metricNames []string, dimensions map[string]string, tr models.TimeRange) ([]models.MetricSample, error)
}

// Gateway fans in over named providers and normalizes their samples.
type Gateway struct {
	logger     *slog.Logger
	providers  map[string]MetricsProvider
	maxRetries uint64
}

// New constructs a gateway over the supplied providers.
func New(logger *slog.Logger, providers map[string]MetricsProvider) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		logger:     logger,
		providers:  providers,
		maxRetries: 3,
	}
}

// Collect queries every provider for the requested streams, retrying
// transient failures with bounded exponential backoff. Samples from
// reachable providers are returned even when others fail; when no provider
// delivers, the error is classified transient so callers degrade instead of
// aborting the detection cycle.
func (g *Gateway) Collect(ctx context.Context, namespace string, metricNames []string, dimensions map[string]string, tr models.TimeRange) ([]models.MetricSample, error) {
	if len(g.providers) == 0 {
		return nil, utils.E(utils.KindTransient, "gateway.Collect", "no metrics providers configured", nil)
	}

	collected := make([]models.MetricSample, 0)
	failures := 0
	for name, provider := range g.providers {
		samples, err := g.queryWithRetry(ctx, name, provider, namespace, metricNames, dimensions, tr)
		if err != nil {
			failures++
			g.logger.Warn("metrics provider unreachable",
				slog.String("provider", name),
				slog.Any("error", err),
			)
			continue
		}
		collected = append(collected, g.normalize(name, samples, tr)...)
	}

	if failures == len(g.providers) {
		return nil, utils.E(utils.KindTransient, "gateway.Collect", "all metrics providers unreachable", nil)
	}

	sort.SliceStable(collected, func(i, j int) bool {
		return collected[i].Timestamp.Before(collected[j].Timestamp)
	})
	return collected, nil
}

// Latest returns the most recent sample for a single stream within the
// trailing lookback window. The executor post-check uses this to re-query
// the metric that originally triggered detection.
func (g *Gateway) Latest(ctx context.Context, namespace, metricName string, dimensions map[string]string, lookback time.Duration) (models.MetricSample, error) {
	if lookback <= 0 {
		lookback = 5 * time.Minute
	}
	now := time.Now().UTC()
	samples, err := g.Collect(ctx, namespace, []string{metricName}, dimensions, models.TimeRange{
		Start: now.Add(-lookback),
		End:   now,
	})
	if err != nil {
		return models.MetricSample{}, err
	}
	if len(samples) == 0 {
		return models.MetricSample{}, utils.E(utils.KindTransient, "gateway.Latest",
			fmt.Sprintf("no samples for %s/%s in last %s", namespace, metricName, lookback), nil)
	}
	return samples[len(samples)-1], nil
}

func (g *Gateway) queryWithRetry(ctx context.Context, name string, provider MetricsProvider, namespace string, metricNames []string, dimensions map[string]string, tr models.TimeRange) ([]models.MetricSample, error) {
	var samples []models.MetricSample
	operation := func() error {
		var err error
		samples, err = provider.Query(ctx, namespace, metricNames, dimensions, tr)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), g.maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	return samples, nil
}

func (g *Gateway) normalize(source string, samples []models.MetricSample, tr models.TimeRange) []models.MetricSample {
	normalized := make([]models.MetricSample, 0, len(samples))
	for _, s := range samples {
		if s.Source == "" {
			s.Source = source
		}
		if s.Timestamp.IsZero() || !tr.Contains(s.Timestamp) {
			continue
		}
		if s.Dimensions == nil {
			s.Dimensions = map[string]string{}
		}
		normalized = append(normalized, s)
	}
	return normalized
}
