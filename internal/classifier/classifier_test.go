package classifier

import (
	"context"
	"testing"
	"time"

	"github.com/remedystack/remedy-orchestrator/internal/models"
	"github.com/remedystack/remedy-orchestrator/internal/store"
)

type fakeHistory struct {
	incidents       []models.Incident
	classifications map[string]models.Classification
}

func (f *fakeHistory) RecentIncidents(ctx context.Context, service string, incidentType models.IncidentType, limit int) ([]models.Incident, error) {
	if limit > 0 && len(f.incidents) > limit {
		return f.incidents[:limit], nil
	}
	return f.incidents, nil
}

func (f *fakeHistory) LatestClassification(ctx context.Context, incidentID string) (models.Classification, error) {
	if c, ok := f.classifications[incidentID]; ok {
		return c, nil
	}
	return models.Classification{}, store.ErrNotFound
}

func priorIncident(id string, resources []string, resolvedAfter time.Duration) models.Incident {
	ts := time.Now().Add(-24 * time.Hour)
	inc := models.Incident{
		ID:                id,
		Timestamp:         ts,
		Type:              models.IncidentServiceDown,
		Severity:          models.SeverityHigh,
		Service:           "checkout",
		AffectedResources: resources,
		Status:            models.IncidentResolved,
	}
	if resolvedAfter > 0 {
		resolved := ts.Add(resolvedAfter)
		inc.ResolvedAt = &resolved
	}
	return inc
}

func TestClassifyAdoptsCohortRootCause(t *testing.T) {
	history := &fakeHistory{
		incidents: []models.Incident{
			priorIncident("p1", []string{"checkout"}, 10*time.Minute),
			priorIncident("p2", []string{"checkout"}, 20*time.Minute),
			priorIncident("p3", []string{"unrelated"}, 0),
		},
		classifications: map[string]models.Classification{
			"p1": {IncidentID: "p1", RootCause: "expired tls certificate"},
			"p2": {IncidentID: "p2", RootCause: "expired tls certificate"},
		},
	}
	c := New(nil, history, Config{CohortAgreement: 0.6})

	incident := models.Incident{
		ID:                "inc-1",
		Timestamp:         time.Now(),
		Type:              models.IncidentServiceDown,
		Severity:          models.SeverityHigh,
		Service:           "checkout",
		AffectedResources: []string{"checkout"},
	}

	cls, err := c.Classify(context.Background(), incident)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cls.RootCause != "expired tls certificate" {
		t.Fatalf("expected cohort root cause, got %q", cls.RootCause)
	}
	if cls.IncidentID != "inc-1" {
		t.Fatalf("classification not linked to incident: %q", cls.IncidentID)
	}
	if cls.Category != string(models.IncidentServiceDown) {
		t.Fatalf("unexpected category %q", cls.Category)
	}

	// ERT is the mean of the resolved cohort: (10m + 20m) / 2.
	if cls.EstimatedResolutionTime != 15*time.Minute {
		t.Fatalf("expected 15m ERT from cohort, got %s", cls.EstimatedResolutionTime)
	}
}

func TestClassifyUnknownRootCauseWithoutAgreement(t *testing.T) {
	history := &fakeHistory{
		incidents: []models.Incident{
			priorIncident("p1", []string{"other-a"}, 0),
			priorIncident("p2", []string{"other-b"}, 0),
			priorIncident("p3", []string{"other-c"}, 0),
		},
	}
	c := New(nil, history, Config{CohortAgreement: 0.6})

	incident := models.Incident{
		ID:                "inc-2",
		Type:              models.IncidentServiceDown,
		Severity:          models.SeverityMedium,
		Service:           "checkout",
		AffectedResources: []string{"checkout"},
	}

	cls, err := c.Classify(context.Background(), incident)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cls.RootCause != RootCauseUnknown {
		t.Fatalf("expected unknown root cause, got %q", cls.RootCause)
	}
	if cls.EstimatedResolutionTime != 15*time.Minute {
		t.Fatalf("expected service_down default ERT, got %s", cls.EstimatedResolutionTime)
	}
}

func TestClassifyExcludesIncidentFromItsOwnCohort(t *testing.T) {
	self := models.Incident{
		ID:                "inc-3",
		Type:              models.IncidentServiceDown,
		Severity:          models.SeverityLow,
		Service:           "checkout",
		AffectedResources: []string{"checkout"},
	}
	history := &fakeHistory{incidents: []models.Incident{self}}
	c := New(nil, history, Config{})

	cls, err := c.Classify(context.Background(), self)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cls.RootCause != RootCauseUnknown {
		t.Fatalf("an incident must not classify itself, got %q", cls.RootCause)
	}
}

func TestClassifyImpactEscalatesWithBlastRadius(t *testing.T) {
	c := New(nil, &fakeHistory{}, Config{ResourceEscalationCount: 3})

	incident := models.Incident{
		ID:                "inc-4",
		Type:              models.IncidentNetwork,
		Severity:          models.SeverityMedium,
		Service:           "edge-gateway",
		AffectedResources: []string{"edge-gateway", "checkout", "search"},
	}

	cls, err := c.Classify(context.Background(), incident)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cls.ImpactLevel != models.SeverityHigh {
		t.Fatalf("expected impact escalated to high, got %s", cls.ImpactLevel)
	}
	// Priority = severity weight * 10 + impact weight.
	if cls.Priority != 2*10+3 {
		t.Fatalf("unexpected priority %d", cls.Priority)
	}
}

func TestClassifyRequiredActionsMatchType(t *testing.T) {
	c := New(nil, &fakeHistory{}, Config{})

	cls, err := c.Classify(context.Background(), models.Incident{
		ID:       "inc-5",
		Type:     models.IncidentResourceExhaustion,
		Severity: models.SeverityHigh,
		Service:  "checkout",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cls.RequiredActions) != 2 || cls.RequiredActions[0] != "scale_out" || cls.RequiredActions[1] != "clear_pressure" {
		t.Fatalf("unexpected required actions %v", cls.RequiredActions)
	}
}
