package planner

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/remedystack/remedy-orchestrator/internal/models"
	"github.com/remedystack/remedy-orchestrator/internal/utils"
)

func testClassification() models.Classification {
	return models.Classification{ID: "cls-1", IncidentID: "inc-1"}
}

func TestPlanOrdersStepsAndSumsDuration(t *testing.T) {
	p, err := New(nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	incident := models.Incident{
		ID:       "inc-1",
		Type:     models.IncidentServiceDown,
		Severity: models.SeverityMedium,
		Service:  "checkout",
	}

	plan, err := p.Plan(context.Background(), incident, testClassification())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.IncidentID != "inc-1" {
		t.Fatalf("plan not linked to incident: %q", plan.IncidentID)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps for service_down, got %d", len(plan.Steps))
	}
	for i, step := range plan.Steps {
		if step.Order != i+1 {
			t.Fatalf("expected order %d, got %d", i+1, step.Order)
		}
		if step.Status != models.StepPending {
			t.Fatalf("steps must start pending, got %s", step.Status)
		}
	}
	want := 30*time.Second + 2*time.Minute
	if plan.EstimatedTotalDuration != want {
		t.Fatalf("expected total duration %s, got %s", want, plan.EstimatedTotalDuration)
	}
	if len(plan.RequiredApprovals) != 0 {
		t.Fatalf("medium severity must not require approval, got %v", plan.RequiredApprovals)
	}
}

func TestPlanRequiresApprovalForHighSeverity(t *testing.T) {
	p, err := New(nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.SetApprovers([]string{"sre-oncall", "platform-lead"})

	for _, severity := range []models.Severity{models.SeverityHigh, models.SeverityCritical} {
		plan, err := p.Plan(context.Background(), models.Incident{
			ID:       "inc-1",
			Type:     models.IncidentDataCorruption,
			Severity: severity,
			Service:  "orders-db",
		}, testClassification())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(plan.RequiredApprovals) != 2 {
			t.Fatalf("%s severity must carry approvers, got %v", severity, plan.RequiredApprovals)
		}
	}
}

func TestPlanFallsBackToManualStepForUnknownType(t *testing.T) {
	p, err := New(nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	plan, err := p.Plan(context.Background(), models.Incident{
		ID:       "inc-1",
		Type:     models.IncidentType("solar_flare"),
		Severity: models.SeverityLow,
		Service:  "checkout",
	}, testClassification())
	if !utils.IsPlanning(err) {
		t.Fatalf("expected planning-kinded error, got %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Action != "manual_intervention" {
		t.Fatalf("expected single manual step, got %+v", plan.Steps)
	}
	if plan.Steps[0].Validation.Type != models.ValidationManual {
		t.Fatalf("fallback step must require manual validation")
	}
	if plan.ID == "" || plan.IncidentID != "inc-1" {
		t.Fatalf("fallback plan must still be a valid plan: %+v", plan)
	}
}

func TestLoadCatalogFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	content := `
plans:
  service_down:
    risks:
      - restart drops connections
    steps:
      - action: service_restart
        description: bounce it
        estimatedDuration: 45s
        validation:
          type: log
          criteria: ensure_service_running
        rollbackProcedure: redirect_traffic
        params:
          target: standby
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	catalog, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, ok := catalog.Entry(models.IncidentServiceDown)
	if !ok {
		t.Fatalf("expected service_down entry")
	}
	if len(entry.Steps) != 1 {
		t.Fatalf("expected one step, got %d", len(entry.Steps))
	}
	step := entry.Steps[0]
	if step.EstimatedDuration != 45*time.Second {
		t.Fatalf("expected 45s duration, got %s", step.EstimatedDuration)
	}
	if step.Params["target"] != "standby" {
		t.Fatalf("params lost in conversion: %v", step.Params)
	}
	if step.Validation.Type != models.ValidationLog {
		t.Fatalf("unexpected validation type %s", step.Validation.Type)
	}
}

func TestLoadCatalogRejectsUnknownValidationType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	content := `
plans:
  network:
    steps:
      - action: redirect_traffic
        validation:
          type: astrology
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	if _, err := LoadCatalog(path); err == nil {
		t.Fatalf("expected validation type error")
	}
}

func TestLoadCatalogMissingFileFallsBackToDefaults(t *testing.T) {
	catalog, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(catalog.Types()) != 5 {
		t.Fatalf("expected built-in catalog with 5 types, got %d", len(catalog.Types()))
	}
}

func TestSwapCatalogTakesEffect(t *testing.T) {
	p, err := New(nil, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	replacement := &Catalog{entries: map[models.IncidentType]CatalogEntry{
		models.IncidentNetwork: {Steps: []models.RecoveryStep{{Action: "redirect_traffic"}}},
	}}
	p.swapCatalog(replacement)

	if _, err := p.Plan(context.Background(), models.Incident{
		ID: "inc-1", Type: models.IncidentServiceDown, Severity: models.SeverityLow, Service: "checkout",
	}, testClassification()); !utils.IsPlanning(err) {
		t.Fatalf("swapped catalog should miss service_down, got %v", err)
	}

	plan, err := p.Plan(context.Background(), models.Incident{
		ID: "inc-2", Type: models.IncidentNetwork, Severity: models.SeverityLow, Service: "edge",
	}, testClassification())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Steps) != 1 || plan.Steps[0].Action != "redirect_traffic" {
		t.Fatalf("swapped catalog not in effect: %+v", plan.Steps)
	}
}
