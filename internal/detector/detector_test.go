package detector

import (
	"context"
	"testing"
	"time"

	"github.com/remedystack/remedy-orchestrator/internal/models"
	"github.com/remedystack/remedy-orchestrator/internal/utils"
)

type fakeGateway struct {
	samples []models.MetricSample
	err     error
}

func (f *fakeGateway) Collect(ctx context.Context, namespace string, metricNames []string, dimensions map[string]string, tr models.TimeRange) ([]models.MetricSample, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.samples, nil
}

func testStream() Stream {
	return Stream{
		Namespace: "application",
		Metric:    "error_rate",
		Service:   "checkout",
		Type:      models.IncidentHighErrorRate,
		Warning:   5,
		Critical:  15,
	}
}

func testWindow(end time.Time) models.TimeRange {
	return models.TimeRange{Start: end.Add(-15 * time.Minute), End: end}
}

func sample(value float64, at time.Time) models.MetricSample {
	return models.MetricSample{
		Source:    "test",
		Namespace: "application",
		Name:      "error_rate",
		Value:     value,
		Timestamp: at,
	}
}

func TestDetectThresholdSeverities(t *testing.T) {
	now := time.Now().UTC()
	cases := []struct {
		name     string
		value    float64
		severity models.Severity
		want     bool
	}{
		{"below warning", 3, "", false},
		{"above warning", 8, models.SeverityHigh, true},
		{"above critical", 20, models.SeverityCritical, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw := &fakeGateway{samples: []models.MetricSample{sample(tc.value, now)}}
			d := New(nil, gw, Config{}, []Stream{testStream()})

			incidents, err := d.Detect(context.Background(), testWindow(now))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.want && len(incidents) != 1 {
				t.Fatalf("expected one incident, got %d", len(incidents))
			}
			if !tc.want {
				if len(incidents) != 0 {
					t.Fatalf("expected no incidents, got %d", len(incidents))
				}
				return
			}
			inc := incidents[0]
			if inc.Severity != tc.severity {
				t.Fatalf("expected severity %s, got %s", tc.severity, inc.Severity)
			}
			if inc.Type != models.IncidentHighErrorRate {
				t.Fatalf("unexpected type %s", inc.Type)
			}
			if inc.Service != "checkout" || inc.Namespace != "application" {
				t.Fatalf("incident lost stream identity: %+v", inc)
			}
		})
	}
}

func TestDetectCoalescesDuplicatesWithinWindow(t *testing.T) {
	now := time.Now().UTC()
	gw := &fakeGateway{samples: []models.MetricSample{
		sample(20, now.Add(-4*time.Minute)),
		sample(22, now.Add(-2*time.Minute)), // inside coalesce window, suppressed
		sample(25, now.Add(2*time.Minute)),  // beyond the window, emitted again
	}}
	d := New(nil, gw, Config{CoalesceWindow: 5 * time.Minute}, []Stream{testStream()})

	incidents, err := d.Detect(context.Background(), models.TimeRange{Start: now.Add(-15 * time.Minute), End: now.Add(5 * time.Minute)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(incidents) != 2 {
		t.Fatalf("expected 2 incidents after coalescing, got %d", len(incidents))
	}
}

func TestDetectSigmaRuleNeedsBaseline(t *testing.T) {
	now := time.Now().UTC()
	stream := testStream()
	stream.Warning = 0
	stream.Critical = 0 // force the baseline rule

	// Eleven steady samples build the baseline, then a spike.
	var steady []models.MetricSample
	for i := 0; i < 11; i++ {
		steady = append(steady, sample(10, now.Add(time.Duration(i)*time.Minute)))
	}

	gw := &fakeGateway{samples: steady}
	d := New(nil, gw, Config{MinBaselineSamples: 10}, []Stream{stream})

	window := models.TimeRange{Start: now.Add(-time.Hour), End: now.Add(time.Hour)}
	incidents, err := d.Detect(context.Background(), window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(incidents) != 0 {
		t.Fatalf("steady baseline must not fire, got %d incidents", len(incidents))
	}

	gw.samples = []models.MetricSample{sample(100, now.Add(20 * time.Minute))}
	incidents, err = d.Detect(context.Background(), window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(incidents) != 1 {
		t.Fatalf("expected sigma rule to flag the spike, got %d", len(incidents))
	}
	if incidents[0].Severity != models.SeverityHigh {
		t.Fatalf("expected high severity from sigma rule, got %s", incidents[0].Severity)
	}
}

func TestDetectSigmaRuleGatedBeforeEnoughHistory(t *testing.T) {
	now := time.Now().UTC()
	stream := testStream()
	stream.Warning = 0
	stream.Critical = 0

	gw := &fakeGateway{samples: []models.MetricSample{
		sample(10, now.Add(-2*time.Minute)),
		sample(100, now.Add(-1*time.Minute)), // only one prior sample, rule gated
	}}
	d := New(nil, gw, Config{MinBaselineSamples: 10}, []Stream{stream})

	incidents, err := d.Detect(context.Background(), testWindow(now))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(incidents) != 0 {
		t.Fatalf("sigma rule must stay gated without history, got %d", len(incidents))
	}
}

func TestDetectDegradedModeOnTransientGatewayError(t *testing.T) {
	gw := &fakeGateway{err: utils.E(utils.KindTransient, "gateway.Collect", "all providers down", nil)}
	d := New(nil, gw, Config{}, []Stream{testStream()})

	incidents, err := d.Detect(context.Background(), testWindow(time.Now().UTC()))
	if err != nil {
		t.Fatalf("transient gateway error must degrade, not fail: %v", err)
	}
	if len(incidents) != 0 {
		t.Fatalf("expected no incidents in degraded mode, got %d", len(incidents))
	}
}
