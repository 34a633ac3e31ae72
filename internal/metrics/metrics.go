package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels ticks and deliveries that completed cleanly.
	OutcomeSuccess = "success"
	// OutcomeError labels failed ticks and deliveries.
	OutcomeError = "error"
)

var (
	incidentsDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedy",
			Name:      "incidents_detected_total",
			Help:      "Incidents emitted by the anomaly detector, partitioned by type and severity.",
		},
		[]string{"type", "severity"},
	)

	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedy",
			Name:      "recovery_executions_total",
			Help:      "Recovery executions, partitioned by terminal status.",
		},
		[]string{"status"},
	)

	rollbackStepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "remedy",
			Name:      "rollback_steps_total",
			Help:      "Individual step rollbacks attempted.",
		},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "remedy",
			Name:      "notifications_total",
			Help:      "Notification attempts, partitioned by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	activeAlertGroups = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "remedy",
			Name:      "alert_groups_active",
			Help:      "Alert groups currently in active state.",
		},
	)

	tickDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "remedy",
			Name:      "tick_seconds",
			Help:      "Control loop tick latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"outcome"},
	)

	executionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "remedy",
			Name:      "execution_seconds",
			Help:      "Recovery execution wall time in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)
)

// Register attaches orchestrator collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		incidentsDetectedTotal,
		executionsTotal,
		rollbackStepsTotal,
		notificationsTotal,
		activeAlertGroups,
		tickDurationSeconds,
		executionDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveIncident counts a newly detected incident.
func ObserveIncident(incidentType, severity string) {
	incidentsDetectedTotal.WithLabelValues(incidentType, severity).Inc()
}

// ObserveExecution records a terminal execution status and duration.
func ObserveExecution(status string, duration time.Duration) {
	executionsTotal.WithLabelValues(status).Inc()
	if duration < 0 {
		duration = 0
	}
	executionDurationSeconds.Observe(duration.Seconds())
}

// ObserveRollbackStep counts one attempted step rollback.
func ObserveRollbackStep() {
	rollbackStepsTotal.Inc()
}

// ObserveNotification records a channel delivery attempt.
func ObserveNotification(channel string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	notificationsTotal.WithLabelValues(channel, outcome).Inc()
}

// SetActiveAlertGroups publishes the current active group count.
func SetActiveAlertGroups(n int) {
	activeAlertGroups.Set(float64(n))
}

// ObserveTick records a control loop tick duration and outcome label.
func ObserveTick(duration time.Duration, outcome string) {
	if outcome != OutcomeError {
		outcome = OutcomeSuccess
	}
	if duration < 0 {
		duration = 0
	}
	tickDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}
