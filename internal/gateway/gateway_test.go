package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/remedystack/remedy-orchestrator/internal/models"
	"github.com/remedystack/remedy-orchestrator/internal/utils"
)

type fakeProvider struct {
	samples   []models.MetricSample
	failFirst int // number of leading calls that fail
	calls     int
}

func (f *fakeProvider) Query(ctx context.Context, namespace string, metricNames []string, dimensions map[string]string, tr models.TimeRange) ([]models.MetricSample, error) {
	f.calls++
	if f.calls <= f.failFirst {
		return nil, errors.New("connection refused")
	}
	return f.samples, nil
}

func window(end time.Time) models.TimeRange {
	return models.TimeRange{Start: end.Add(-15 * time.Minute), End: end}
}

func TestCollectNormalizesAndSorts(t *testing.T) {
	now := time.Now().UTC()
	provider := &fakeProvider{samples: []models.MetricSample{
		{Name: "error_rate", Value: 2, Timestamp: now.Add(-2 * time.Minute)},
		{Name: "error_rate", Value: 1, Timestamp: now.Add(-10 * time.Minute)},
		{Name: "error_rate", Value: 9, Timestamp: now.Add(-time.Hour)}, // outside window, dropped
		{Name: "error_rate", Value: 9},                                 // zero timestamp, dropped
	}}
	g := New(nil, map[string]MetricsProvider{"primary": provider})

	samples, err := g.Collect(context.Background(), "application", []string{"error_rate"}, nil, window(now))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("expected 2 in-window samples, got %d", len(samples))
	}
	if !samples[0].Timestamp.Before(samples[1].Timestamp) {
		t.Fatalf("samples not sorted by timestamp")
	}
	for _, s := range samples {
		if s.Source != "primary" {
			t.Fatalf("expected source filled from provider name, got %q", s.Source)
		}
		if s.Dimensions == nil {
			t.Fatalf("dimensions must never be nil after normalization")
		}
	}
}

func TestCollectRetriesTransientProviderFailures(t *testing.T) {
	now := time.Now().UTC()
	provider := &fakeProvider{
		failFirst: 1,
		samples:   []models.MetricSample{{Name: "error_rate", Value: 2, Timestamp: now.Add(-time.Minute)}},
	}
	g := New(nil, map[string]MetricsProvider{"flaky": provider})
	g.maxRetries = 2

	samples, err := g.Collect(context.Background(), "application", []string{"error_rate"}, nil, window(now))
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("expected samples after retry, got %d", len(samples))
	}
	if provider.calls < 2 {
		t.Fatalf("expected at least one retry, got %d calls", provider.calls)
	}
}

func TestCollectAllProvidersDownIsTransient(t *testing.T) {
	g := New(nil, map[string]MetricsProvider{
		"a": &fakeProvider{failFirst: 100},
		"b": &fakeProvider{failFirst: 100},
	})
	g.maxRetries = 0

	_, err := g.Collect(context.Background(), "application", []string{"error_rate"}, nil, window(time.Now().UTC()))
	if !utils.IsTransient(err) {
		t.Fatalf("expected transient-kinded error, got %v", err)
	}
}

func TestCollectPartialProviderFailureStillReturnsSamples(t *testing.T) {
	now := time.Now().UTC()
	g := New(nil, map[string]MetricsProvider{
		"down": &fakeProvider{failFirst: 100},
		"up": &fakeProvider{samples: []models.MetricSample{
			{Name: "error_rate", Value: 3, Timestamp: now.Add(-time.Minute)},
		}},
	})
	g.maxRetries = 0

	samples, err := g.Collect(context.Background(), "application", []string{"error_rate"}, nil, window(now))
	if err != nil {
		t.Fatalf("one healthy provider means no error, got %v", err)
	}
	if len(samples) != 1 {
		t.Fatalf("expected samples from healthy provider, got %d", len(samples))
	}
}

func TestCollectNoProvidersIsTransient(t *testing.T) {
	g := New(nil, nil)
	_, err := g.Collect(context.Background(), "application", []string{"error_rate"}, nil, window(time.Now().UTC()))
	if !utils.IsTransient(err) {
		t.Fatalf("expected transient-kinded error, got %v", err)
	}
}

func TestLatestReturnsNewestSample(t *testing.T) {
	now := time.Now().UTC()
	provider := &fakeProvider{samples: []models.MetricSample{
		{Name: "error_rate", Value: 1, Timestamp: now.Add(-4 * time.Minute)},
		{Name: "error_rate", Value: 7, Timestamp: now.Add(-time.Minute)},
	}}
	g := New(nil, map[string]MetricsProvider{"primary": provider})

	sample, err := g.Latest(context.Background(), "application", "error_rate", nil, 5*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sample.Value != 7 {
		t.Fatalf("expected newest sample, got value %v", sample.Value)
	}
}

func TestLatestNoSamplesIsTransient(t *testing.T) {
	g := New(nil, map[string]MetricsProvider{"primary": &fakeProvider{}})
	_, err := g.Latest(context.Background(), "application", "error_rate", nil, 5*time.Minute)
	if !utils.IsTransient(err) {
		t.Fatalf("expected transient-kinded error, got %v", err)
	}
}
