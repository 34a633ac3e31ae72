package models

import "time"

// IncidentType enumerates the anomaly categories the detector can emit.
type IncidentType string

const (
	IncidentServiceDown        IncidentType = "service_down"
	IncidentHighErrorRate      IncidentType = "high_error_rate"
	IncidentResourceExhaustion IncidentType = "resource_exhaustion"
	IncidentDataCorruption     IncidentType = "data_corruption"
	IncidentNetwork            IncidentType = "network"
)

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Weight returns the triage weight used in priority computation.
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

// Escalate returns the next severity level up, capped at critical.
func (s Severity) Escalate() Severity {
	switch s {
	case SeverityLow:
		return SeverityMedium
	case SeverityMedium:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// IncidentStatus tracks an incident through the recovery lifecycle.
type IncidentStatus string

const (
	IncidentDetected      IncidentStatus = "detected"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentMitigating    IncidentStatus = "mitigating"
	IncidentResolved      IncidentStatus = "resolved"
)

// Incident is a detected operational anomaly requiring evaluation.
// Status is mutated only by the control loop; everything else is
// write-once at detection time.
type Incident struct {
	ID                string            `json:"id"`
	Timestamp         time.Time         `json:"timestamp"`
	Type              IncidentType      `json:"type"`
	Severity          Severity          `json:"severity"`
	Service           string            `json:"service"`
	Namespace         string            `json:"namespace,omitempty"`
	Description       string            `json:"description"`
	Metrics           map[string]float64 `json:"metrics,omitempty"`
	AffectedResources []string          `json:"affected_resources,omitempty"`
	Status            IncidentStatus    `json:"status"`
	ResolvedAt        *time.Time        `json:"resolved_at,omitempty"`
}

// Classification enriches an incident with cause, impact, and triage priority.
// Records are write-once; re-classification appends a new record linked to
// the same incident for audit purposes.
type Classification struct {
	ID                      string        `json:"id"`
	IncidentID              string        `json:"incident_id"`
	Category                string        `json:"category"`
	RootCause               string        `json:"root_cause"`
	ImpactLevel             Severity      `json:"impact_level"`
	RequiredActions         []string      `json:"required_actions,omitempty"`
	Priority                int           `json:"priority"`
	EstimatedResolutionTime time.Duration `json:"estimated_resolution_time"`
	CreatedAt               time.Time     `json:"created_at"`
}
