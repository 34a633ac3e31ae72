package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/remedystack/remedy-orchestrator/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return s
}

func TestIncidentRoundtripAndNotFound(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.GetIncident(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	inc := models.Incident{
		ID:        "inc-1",
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
		Type:      models.IncidentServiceDown,
		Severity:  models.SeverityCritical,
		Service:   "checkout",
		Status:    models.IncidentDetected,
	}
	if err := s.PutIncident(ctx, inc); err != nil {
		t.Fatalf("put incident: %v", err)
	}

	got, err := s.GetIncident(ctx, "inc-1")
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	if got.Service != "checkout" || got.Severity != models.SeverityCritical {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}

	// Status update overwrites in place.
	inc.Status = models.IncidentResolved
	if err := s.PutIncident(ctx, inc); err != nil {
		t.Fatalf("update incident: %v", err)
	}
	got, _ = s.GetIncident(ctx, "inc-1")
	if got.Status != models.IncidentResolved {
		t.Fatalf("expected resolved, got %s", got.Status)
	}
}

func TestRecentIncidentsFiltersAndLimits(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC()

	seed := []models.Incident{
		{ID: "a", Timestamp: base.Add(-3 * time.Hour), Type: models.IncidentServiceDown, Service: "checkout"},
		{ID: "b", Timestamp: base.Add(-2 * time.Hour), Type: models.IncidentServiceDown, Service: "Checkout"},
		{ID: "c", Timestamp: base.Add(-1 * time.Hour), Type: models.IncidentHighErrorRate, Service: "checkout"},
		{ID: "d", Timestamp: base, Type: models.IncidentServiceDown, Service: "search"},
	}
	for _, inc := range seed {
		if err := s.PutIncident(ctx, inc); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	got, err := s.RecentIncidents(ctx, "checkout", models.IncidentServiceDown, 10)
	if err != nil {
		t.Fatalf("recent incidents: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 matches (case-insensitive service), got %d", len(got))
	}
	if got[0].ID != "b" {
		t.Fatalf("expected newest first, got %s", got[0].ID)
	}

	got, _ = s.RecentIncidents(ctx, "checkout", models.IncidentServiceDown, 1)
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("limit not honored: %+v", got)
	}
}

func TestClassificationsAppendAndLatest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.LatestClassification(ctx, "inc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	first := models.Classification{ID: "c1", IncidentID: "inc-1", RootCause: "unknown", CreatedAt: time.Now().Add(-time.Hour)}
	second := models.Classification{ID: "c2", IncidentID: "inc-1", RootCause: "bad deploy", CreatedAt: time.Now()}
	for _, c := range []models.Classification{first, second} {
		if err := s.PutClassification(ctx, c); err != nil {
			t.Fatalf("put classification: %v", err)
		}
	}

	all, err := s.ClassificationsForIncident(ctx, "inc-1")
	if err != nil {
		t.Fatalf("list classifications: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("re-classification must append, got %d records", len(all))
	}

	latest, err := s.LatestClassification(ctx, "inc-1")
	if err != nil {
		t.Fatalf("latest classification: %v", err)
	}
	if latest.RootCause != "bad deploy" {
		t.Fatalf("expected newest record, got %q", latest.RootCause)
	}
}

func TestActiveExecutions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	done := now
	execs := []models.RecoveryExecution{
		{ID: "e1", PlanID: "p1", IncidentID: "i1", StartTime: now.Add(-time.Hour), Status: models.ExecutionCompleted, EndTime: &done},
		{ID: "e2", PlanID: "p2", IncidentID: "i2", StartTime: now, Status: models.ExecutionInProgress},
	}
	for _, e := range execs {
		if err := s.PutExecution(ctx, e); err != nil {
			t.Fatalf("put execution: %v", err)
		}
	}

	active, err := s.ActiveExecutions(ctx)
	if err != nil {
		t.Fatalf("active executions: %v", err)
	}
	if len(active) != 1 || active[0].ID != "e2" {
		t.Fatalf("expected only in-progress execution, got %+v", active)
	}
}

func TestAlertGroupsActiveFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	groups := []models.AlertGroup{
		{ID: "g1", Type: models.IncidentNetwork, Source: "edge", Status: models.AlertGroupActive, FirstOccurrence: now, LastOccurrence: now},
		{ID: "g2", Type: models.IncidentNetwork, Source: "edge", Status: models.AlertGroupResolved, FirstOccurrence: now, LastOccurrence: now},
	}
	for _, g := range groups {
		if err := s.PutAlertGroup(ctx, g); err != nil {
			t.Fatalf("put group: %v", err)
		}
	}

	active, err := s.ActiveAlertGroups(ctx)
	if err != nil {
		t.Fatalf("active groups: %v", err)
	}
	if len(active) != 1 || active[0].ID != "g1" {
		t.Fatalf("expected only active group, got %+v", active)
	}
}

func TestApprovalRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.ApprovalFor(ctx, "plan-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before decision, got %v", err)
	}

	approval := models.Approval{
		PlanID:    "plan-1",
		Approver:  "sre-oncall",
		Approved:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.RecordApproval(ctx, approval); err != nil {
		t.Fatalf("record approval: %v", err)
	}

	got, err := s.ApprovalFor(ctx, "plan-1")
	if err != nil {
		t.Fatalf("approval lookup: %v", err)
	}
	if !got.Approved || got.Approver != "sre-oncall" {
		t.Fatalf("approval mismatch: %+v", got)
	}
}

func TestPlanRoundtrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	plan := models.RecoveryPlan{
		ID:         "plan-1",
		IncidentID: "inc-1",
		Steps: []models.RecoveryStep{
			{Order: 1, Action: "scale_out", Params: map[string]string{"desiredCount": "4"}, Status: models.StepPending},
		},
		EstimatedTotalDuration: 3 * time.Minute,
		CreatedAt:              time.Now().UTC(),
	}
	if err := s.PutPlan(ctx, plan); err != nil {
		t.Fatalf("put plan: %v", err)
	}

	got, err := s.GetPlan(ctx, "plan-1")
	if err != nil {
		t.Fatalf("get plan: %v", err)
	}
	if len(got.Steps) != 1 || got.Steps[0].Params["desiredCount"] != "4" {
		t.Fatalf("plan roundtrip mismatch: %+v", got)
	}
}
