package models

import "time"

// Alert is a single routed notification about an incident state transition.
type Alert struct {
	ID        string            `json:"id"`
	Type      IncidentType      `json:"type"`
	Source    string            `json:"source"`
	Severity  Severity          `json:"severity"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// AlertGroupStatus marks a group as still accumulating or quiesced.
type AlertGroupStatus string

const (
	AlertGroupActive   AlertGroupStatus = "active"
	AlertGroupResolved AlertGroupStatus = "resolved"
)

// AlertGroup is a deduplicated cluster of alerts sharing (type, source).
// Groups are mutated only by the aggregator.
type AlertGroup struct {
	ID              string           `json:"id"`
	Type            IncidentType     `json:"type"`
	Source          string           `json:"source"`
	Count           int              `json:"count"`
	FirstOccurrence time.Time        `json:"first_occurrence"`
	LastOccurrence  time.Time        `json:"last_occurrence"`
	Status          AlertGroupStatus `json:"status"`
	AlertIDs        []string         `json:"alert_ids"`
}
