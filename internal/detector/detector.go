// Package detector evaluates normalized metric samples against static
// thresholds and rolling statistical baselines and emits incident records.
package detector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/remedystack/remedy-orchestrator/internal/models"
	"github.com/remedystack/remedy-orchestrator/internal/utils"
)

// Gateway is the metric source consumed by the detector.
type Gateway interface {
	Collect(ctx context.Context, namespace string, metricNames []string, dimensions map[string]string, tr models.TimeRange) ([]models.MetricSample, error)
}

// Stream binds a monitored metric to a service, an incident type, and its
// static thresholds.
type Stream struct {
	Namespace string
	Metric    string
	Service   string
	Type      models.IncidentType
	Warning   float64
	Critical  float64
}

// Config tunes detection behaviour.
type Config struct {
	// CoalesceWindow suppresses duplicate incidents for the same
	// (service, type) pair.
	CoalesceWindow time.Duration
	// BaselineWindow is the trailing window for rolling mean/stddev.
	BaselineWindow time.Duration
	// SigmaThreshold is the deviation multiple that flags a baseline anomaly.
	SigmaThreshold float64
	// MinBaselineSamples gates the sigma rule until enough history exists.
	MinBaselineSamples int
}

const maxBaselinePoints = 20000

type baselinePoint struct {
	t time.Time
	v float64
}

// baseline keeps the trailing sample history for one (namespace, metric) stream.
type baseline struct {
	points []baselinePoint
}

func (b *baseline) observe(t time.Time, v float64, window time.Duration) {
	b.points = append(b.points, baselinePoint{t: t, v: v})
	cutoff := t.Add(-window)
	trimmed := b.points[:0]
	for _, p := range b.points {
		if p.t.After(cutoff) {
			trimmed = append(trimmed, p)
		}
	}
	b.points = trimmed
	if len(b.points) > maxBaselinePoints {
		b.points = b.points[len(b.points)-maxBaselinePoints:]
	}
}

func (b *baseline) stats() (mean, stddev float64, n int) {
	n = len(b.points)
	if n == 0 {
		return 0, 0, 0
	}
	for _, p := range b.points {
		mean += p.v
	}
	mean /= float64(n)
	var variance float64
	for _, p := range b.points {
		variance += math.Pow(p.v-mean, 2)
	}
	variance /= float64(n)
	stddev = math.Sqrt(variance)
	return mean, stddev, n
}

// Detector turns metric windows into incident records.
type Detector struct {
	logger    *slog.Logger
	gateway   Gateway
	cfg       Config
	streams   []Stream
	baselines map[string]*baseline
	lastEmit  map[string]time.Time
}

// New constructs a detector over the configured streams.
func New(logger *slog.Logger, gw Gateway, cfg Config, streams []Stream) *Detector {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CoalesceWindow <= 0 {
		cfg.CoalesceWindow = 5 * time.Minute
	}
	if cfg.BaselineWindow <= 0 {
		cfg.BaselineWindow = 14 * 24 * time.Hour
	}
	if cfg.SigmaThreshold <= 0 {
		cfg.SigmaThreshold = 3
	}
	if cfg.MinBaselineSamples <= 0 {
		cfg.MinBaselineSamples = 10
	}
	return &Detector{
		logger:    logger,
		gateway:   gw,
		cfg:       cfg,
		streams:   streams,
		baselines: make(map[string]*baseline),
		lastEmit:  make(map[string]time.Time),
	}
}

// Detect evaluates all configured streams within the window. Detection is
// best-effort: an unreachable gateway yields an empty result and a
// degraded-mode warning, never an error, so the next cycle can self-heal.
func (d *Detector) Detect(ctx context.Context, window models.TimeRange) ([]models.Incident, error) {
	incidents := make([]models.Incident, 0)

	for _, stream := range d.streams {
		samples, err := d.gateway.Collect(ctx, stream.Namespace, []string{stream.Metric}, map[string]string{"service": stream.Service}, window)
		if err != nil {
			if utils.IsTransient(err) {
				d.logger.Warn("detection degraded, metrics gateway unreachable",
					slog.String("namespace", stream.Namespace),
					slog.String("metric", stream.Metric),
					slog.Any("error", err),
				)
				continue
			}
			return nil, err
		}

		for _, sample := range samples {
			if inc, ok := d.evaluate(stream, sample); ok {
				incidents = append(incidents, inc)
			}
		}
	}

	sort.SliceStable(incidents, func(i, j int) bool {
		return incidents[i].Timestamp.Before(incidents[j].Timestamp)
	})
	return incidents, nil
}

// evaluate applies the threshold rule and the three-sigma baseline rule to a
// single sample, then coalesces duplicates per (service, type).
func (d *Detector) evaluate(stream Stream, sample models.MetricSample) (models.Incident, bool) {
	key := stream.Namespace + "/" + stream.Metric
	bl, ok := d.baselines[key]
	if !ok {
		bl = &baseline{}
		d.baselines[key] = bl
	}
	mean, stddev, n := bl.stats()
	// Record the sample after computing stats so a spike cannot mask itself.
	bl.observe(sample.Timestamp, sample.Value, d.cfg.BaselineWindow)

	var (
		severity models.Severity
		reason   string
	)

	switch {
	case stream.Critical > 0 && sample.Value > stream.Critical:
		severity = models.SeverityCritical
		reason = fmt.Sprintf("%s=%.2f above critical threshold %.2f", stream.Metric, sample.Value, stream.Critical)
	case stream.Warning > 0 && sample.Value > stream.Warning:
		severity = models.SeverityHigh
		reason = fmt.Sprintf("%s=%.2f above warning threshold %.2f", stream.Metric, sample.Value, stream.Warning)
	}

	if severity == "" && n >= d.cfg.MinBaselineSamples {
		sigma := stddev
		if sigma == 0 {
			sigma = 0.01
		}
		score := math.Abs(sample.Value-mean) / sigma
		if score > d.cfg.SigmaThreshold {
			severity = models.SeverityHigh
			reason = fmt.Sprintf("%s=%.2f deviates %.1f sigma from baseline mean %.2f", stream.Metric, sample.Value, score, mean)
		}
	}

	if severity == "" {
		return models.Incident{}, false
	}

	dedupKey := strings.ToLower(stream.Service) + "/" + string(stream.Type)
	if last, seen := d.lastEmit[dedupKey]; seen && sample.Timestamp.Sub(last) < d.cfg.CoalesceWindow {
		return models.Incident{}, false
	}
	d.lastEmit[dedupKey] = sample.Timestamp

	return models.Incident{
		ID:          uuid.NewString(),
		Timestamp:   sample.Timestamp,
		Type:        stream.Type,
		Severity:    severity,
		Service:     stream.Service,
		Namespace:   stream.Namespace,
		Description: reason,
		Metrics: map[string]float64{
			stream.Metric: sample.Value,
			"mean":        mean,
			"stddev":      stddev,
		},
		AffectedResources: []string{stream.Service},
		Status:            models.IncidentDetected,
	}, true
}
