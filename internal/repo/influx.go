package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxapi "github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/remedystack/remedy-orchestrator/internal/models"
)

// InfluxProvider sources metric samples from an InfluxDB 2.x bucket.
// Measurements map to namespaces and fields to metric names.
type InfluxProvider struct {
	client   influxdb2.Client
	queryAPI influxapi.QueryAPI
	bucket   string
}

// NewInfluxProvider constructs a provider against the configured InfluxDB instance.
func NewInfluxProvider(url, token, org, bucket string, timeout time.Duration) *InfluxProvider {
	options := influxdb2.DefaultOptions()
	if timeout > 0 {
		options = options.SetHTTPRequestTimeout(uint(timeout / time.Second))
	}
	client := influxdb2.NewClientWithOptions(url, token, options)
	return &InfluxProvider{
		client:   client,
		queryAPI: client.QueryAPI(org),
		bucket:   bucket,
	}
}

// Query fetches samples for the requested metric names within the time range.
func (p *InfluxProvider) Query(ctx context.Context, namespace string, metricNames []string, dimensions map[string]string, tr models.TimeRange) ([]models.MetricSample, error) {
	if p.queryAPI == nil {
		return nil, fmt.Errorf("influx provider not initialised")
	}

	var b strings.Builder
	fmt.Fprintf(&b, `from(bucket: %q)`, p.bucket)
	fmt.Fprintf(&b, ` |> range(start: %s, stop: %s)`, tr.Start.UTC().Format(time.RFC3339), tr.End.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, ` |> filter(fn: (r) => r._measurement == %q)`, namespace)
	if len(metricNames) > 0 {
		clauses := make([]string, 0, len(metricNames))
		for _, name := range metricNames {
			clauses = append(clauses, fmt.Sprintf("r._field == %q", name))
		}
		fmt.Fprintf(&b, ` |> filter(fn: (r) => %s)`, strings.Join(clauses, " or "))
	}
	for key, value := range dimensions {
		fmt.Fprintf(&b, ` |> filter(fn: (r) => r[%q] == %q)`, key, value)
	}

	result, err := p.queryAPI.Query(ctx, b.String())
	if err != nil {
		return nil, fmt.Errorf("influx query failed: %w", err)
	}

	samples := make([]models.MetricSample, 0)
	for result.Next() {
		record := result.Record()
		value, ok := toFloat(record.Value())
		if !ok {
			continue
		}
		dims := make(map[string]string, len(dimensions))
		for key := range dimensions {
			if tag, found := record.Values()[key]; found {
				if s, isString := tag.(string); isString {
					dims[key] = s
				}
			}
		}
		unit := ""
		if u, isString := record.ValueByKey("unit").(string); isString {
			unit = u
		}
		samples = append(samples, models.MetricSample{
			Source:     "influx",
			Namespace:  record.Measurement(),
			Name:       record.Field(),
			Value:      value,
			Unit:       unit,
			Dimensions: dims,
			Timestamp:  record.Time(),
		})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("influx result error: %w", result.Err())
	}
	return samples, nil
}

// Close releases the underlying HTTP client.
func (p *InfluxProvider) Close() {
	if p.client != nil {
		p.client.Close()
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}
