// mock-metrics is a local development stand-in for a monitoring backend. It
// serves the JSON query API the orchestrator's HTTP metrics provider speaks,
// emitting a synthetic error-rate spike so the full detect-to-recover cycle
// can be exercised without real infrastructure.
package main

import (
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"time"
)

type querySpec struct {
	Namespace  string            `json:"namespace"`
	Metrics    []string          `json:"metrics"`
	Dimensions map[string]string `json:"dimensions"`
	Start      string            `json:"start"`
	End        string            `json:"end"`
}

type metricSample struct {
	Namespace  string            `json:"namespace"`
	Name       string            `json:"name"`
	Value      float64           `json:"value"`
	Unit       string            `json:"unit"`
	Dimensions map[string]string `json:"dimensions"`
	Timestamp  time.Time         `json:"timestamp"`
}

var bootTime = time.Now()

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/metrics/query", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST required", http.StatusMethodNotAllowed)
			return
		}
		var spec querySpec
		if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		var samples []metricSample
		now := time.Now()
		for _, name := range spec.Metrics {
			for i := 4; i >= 0; i-- {
				samples = append(samples, metricSample{
					Namespace:  spec.Namespace,
					Name:       name,
					Value:      valueFor(name, now),
					Unit:       unitFor(name),
					Dimensions: spec.Dimensions,
					Timestamp:  now.Add(-time.Duration(i) * time.Minute),
				})
			}
		}
		writeJSON(w, map[string]any{"samples": samples})
	})

	log.Println("mock-metrics listening on :9808")
	log.Fatal(http.ListenAndServe(":9808", mux))
}

// valueFor keeps metrics healthy for the first two minutes, then spikes the
// error rate so a detection cycle fires.
func valueFor(name string, now time.Time) float64 {
	spiking := now.Sub(bootTime) > 2*time.Minute
	switch name {
	case "error_rate":
		if spiking {
			return 20 + rand.Float64()*5
		}
		return 1 + rand.Float64()
	case "memory_used_percent":
		return 55 + rand.Float64()*10
	case "packet_loss_percent":
		return rand.Float64()
	default:
		return rand.Float64() * 10
	}
}

func unitFor(name string) string {
	switch name {
	case "error_rate", "memory_used_percent", "packet_loss_percent":
		return "percent"
	default:
		return ""
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}
