package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/remedystack/remedy-orchestrator/internal/models"
)

// HTTPProvider sources metric samples from a JSON-over-HTTP monitoring API,
// for backends without a native client library.
type HTTPProvider struct {
	baseURL    string
	queryPath  string
	httpClient *http.Client
}

// NewHTTPProvider constructs a provider targeting the configured monitoring backend.
func NewHTTPProvider(baseURL, queryPath string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		queryPath: queryPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Query posts a metrics query and decodes the returned samples.
func (p *HTTPProvider) Query(ctx context.Context, namespace string, metricNames []string, dimensions map[string]string, tr models.TimeRange) ([]models.MetricSample, error) {
	if p == nil || p.baseURL == "" {
		return nil, fmt.Errorf("metrics backend base URL not configured")
	}

	payload := map[string]interface{}{
		"namespace":  namespace,
		"metrics":    metricNames,
		"dimensions": dimensions,
		"start":      tr.Start.Format(time.RFC3339),
		"end":        tr.End.Format(time.RFC3339),
	}

	var response struct {
		Samples []struct {
			Namespace  string            `json:"namespace"`
			Name       string            `json:"name"`
			Value      float64           `json:"value"`
			Unit       string            `json:"unit"`
			Dimensions map[string]string `json:"dimensions"`
			Timestamp  time.Time         `json:"timestamp"`
		} `json:"samples"`
	}

	if err := p.postJSON(ctx, p.queryURL(), payload, &response); err != nil {
		return nil, fmt.Errorf("metrics backend query failed: %w", err)
	}

	samples := make([]models.MetricSample, 0, len(response.Samples))
	for _, s := range response.Samples {
		namespaceValue := s.Namespace
		if namespaceValue == "" {
			namespaceValue = namespace
		}
		samples = append(samples, models.MetricSample{
			Source:     "http",
			Namespace:  namespaceValue,
			Name:       s.Name,
			Value:      s.Value,
			Unit:       s.Unit,
			Dimensions: s.Dimensions,
			Timestamp:  s.Timestamp,
		})
	}
	return samples, nil
}

func (p *HTTPProvider) queryURL() string {
	if p.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p.queryPath, "/")
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return p.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (p *HTTPProvider) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("metrics backend returned %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
