// Package classifier enriches incidents with category, root cause, impact,
// and triage priority using the historical incident cohort.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/remedystack/remedy-orchestrator/internal/models"
	"github.com/remedystack/remedy-orchestrator/internal/store"
)

// RootCauseUnknown is the label used when no historical cohort agrees.
const RootCauseUnknown = "unknown — requires investigation"

// History provides access to prior incidents and their classifications.
type History interface {
	RecentIncidents(ctx context.Context, service string, incidentType models.IncidentType, limit int) ([]models.Incident, error)
	LatestClassification(ctx context.Context, incidentID string) (models.Classification, error)
}

// Config tunes cohort behaviour.
type Config struct {
	// HistoryLimit is the cohort size N of most recent same-type incidents.
	HistoryLimit int
	// CohortAgreement is the share of the cohort that must overlap on an
	// affected resource before a prior root cause is adopted.
	CohortAgreement float64
	// ResourceEscalationCount escalates impact one level when at least this
	// many resources are affected.
	ResourceEscalationCount int
}

// Classifier derives classifications from incident history.
type Classifier struct {
	logger  *slog.Logger
	history History
	cfg     Config
}

// New constructs a classifier.
func New(logger *slog.Logger, history History, cfg Config) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.CohortAgreement <= 0 {
		cfg.CohortAgreement = 0.6
	}
	if cfg.ResourceEscalationCount <= 0 {
		cfg.ResourceEscalationCount = 3
	}
	return &Classifier{logger: logger, history: history, cfg: cfg}
}

// Classify produces a new write-once classification record for the incident.
func (c *Classifier) Classify(ctx context.Context, incident models.Incident) (models.Classification, error) {
	cohort, err := c.cohort(ctx, incident)
	if err != nil {
		return models.Classification{}, fmt.Errorf("fetch incident cohort: %w", err)
	}

	rootCause := c.rootCauseFromCohort(ctx, incident, cohort)
	impact := impactLevel(incident, c.cfg.ResourceEscalationCount)
	ert := c.estimatedResolution(incident.Type, cohort)

	return models.Classification{
		ID:                      uuid.NewString(),
		IncidentID:              incident.ID,
		Category:                string(incident.Type),
		RootCause:               rootCause,
		ImpactLevel:             impact,
		RequiredActions:         requiredActions(incident.Type),
		Priority:                incident.Severity.Weight()*10 + impact.Weight(),
		EstimatedResolutionTime: ert,
		CreatedAt:               time.Now().UTC(),
	}, nil
}

// cohort returns the most recent same-(service, type) incidents, excluding
// the incident under classification.
func (c *Classifier) cohort(ctx context.Context, incident models.Incident) ([]models.Incident, error) {
	recent, err := c.history.RecentIncidents(ctx, incident.Service, incident.Type, c.cfg.HistoryLimit+1)
	if err != nil {
		return nil, err
	}
	cohort := make([]models.Incident, 0, len(recent))
	for _, prior := range recent {
		if prior.ID == incident.ID {
			continue
		}
		cohort = append(cohort, prior)
		if len(cohort) >= c.cfg.HistoryLimit {
			break
		}
	}
	return cohort, nil
}

// rootCauseFromCohort adopts the majority prior root-cause label when at
// least the configured share of the cohort overlaps on an affected resource.
func (c *Classifier) rootCauseFromCohort(ctx context.Context, incident models.Incident, cohort []models.Incident) string {
	if len(cohort) == 0 {
		return RootCauseUnknown
	}

	overlapping := make([]models.Incident, 0, len(cohort))
	for _, prior := range cohort {
		if resourcesOverlap(incident.AffectedResources, prior.AffectedResources) {
			overlapping = append(overlapping, prior)
		}
	}

	share := float64(len(overlapping)) / float64(len(cohort))
	if share < c.cfg.CohortAgreement {
		return RootCauseUnknown
	}

	labels := make(map[string]int)
	for _, prior := range overlapping {
		cls, err := c.history.LatestClassification(ctx, prior.ID)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				c.logger.Warn("prior classification lookup failed",
					slog.String("incident_id", prior.ID),
					slog.Any("error", err),
				)
			}
			continue
		}
		if cls.RootCause != "" && cls.RootCause != RootCauseUnknown {
			labels[cls.RootCause]++
		}
	}

	best, bestCount := RootCauseUnknown, 0
	for label, count := range labels {
		if count > bestCount {
			best, bestCount = label, count
		}
	}
	return best
}

// estimatedResolution returns the mean resolution duration of the cohort, or
// a type-specific default when no resolved history exists.
func (c *Classifier) estimatedResolution(incidentType models.IncidentType, cohort []models.Incident) time.Duration {
	var total time.Duration
	resolved := 0
	for _, prior := range cohort {
		if prior.ResolvedAt == nil || prior.ResolvedAt.Before(prior.Timestamp) {
			continue
		}
		total += prior.ResolvedAt.Sub(prior.Timestamp)
		resolved++
	}
	if resolved > 0 {
		return total / time.Duration(resolved)
	}
	return defaultResolutionTime(incidentType)
}

func defaultResolutionTime(incidentType models.IncidentType) time.Duration {
	switch incidentType {
	case models.IncidentServiceDown:
		return 15 * time.Minute
	case models.IncidentHighErrorRate:
		return 10 * time.Minute
	case models.IncidentResourceExhaustion:
		return 20 * time.Minute
	case models.IncidentDataCorruption:
		return 60 * time.Minute
	case models.IncidentNetwork:
		return 30 * time.Minute
	default:
		return 15 * time.Minute
	}
}

// impactLevel derives impact from severity, escalated one level when the
// blast radius is wide, capped at critical.
func impactLevel(incident models.Incident, escalationCount int) models.Severity {
	impact := incident.Severity
	if len(incident.AffectedResources) >= escalationCount {
		impact = impact.Escalate()
	}
	return impact
}

func requiredActions(incidentType models.IncidentType) []string {
	switch incidentType {
	case models.IncidentServiceDown:
		return []string{"health_check", "service_restart"}
	case models.IncidentHighErrorRate:
		return []string{"scale_out"}
	case models.IncidentResourceExhaustion:
		return []string{"scale_out", "clear_pressure"}
	case models.IncidentDataCorruption:
		return []string{"restore_backup"}
	case models.IncidentNetwork:
		return []string{"redirect_traffic"}
	default:
		return nil
	}
}

func resourcesOverlap(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, r := range a {
		set[r] = struct{}{}
	}
	for _, r := range b {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}
