// Package planner maps classified incidents to ordered recovery plans using
// a static step catalog. Catalog selection is a lookup, not inference, so
// every generated plan is deterministic and auditable.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/remedystack/remedy-orchestrator/internal/models"
	"github.com/remedystack/remedy-orchestrator/internal/utils"
)

// DefaultApprovers receive approval requests when severity demands sign-off.
var DefaultApprovers = []string{"sre-oncall"}

// Planner builds recovery plans from the loaded catalog.
type Planner struct {
	logger    *slog.Logger
	approvers []string

	mu      sync.RWMutex
	catalog *Catalog
}

// New constructs a planner. An empty catalogPath loads the built-in catalog.
func New(logger *slog.Logger, catalogPath string) (*Planner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	catalog, err := LoadCatalog(catalogPath)
	if err != nil {
		return nil, err
	}
	return &Planner{
		logger:    logger,
		approvers: DefaultApprovers,
		catalog:   catalog,
	}, nil
}

// SetApprovers overrides the approval recipients for high-severity plans.
func (p *Planner) SetApprovers(approvers []string) {
	if len(approvers) == 0 {
		return
	}
	p.mu.Lock()
	p.approvers = approvers
	p.mu.Unlock()
}

// swapCatalog installs a freshly loaded catalog; used by the watcher.
func (p *Planner) swapCatalog(catalog *Catalog) {
	p.mu.Lock()
	p.catalog = catalog
	p.mu.Unlock()
}

// Plan maps an incident to an ordered recovery plan. When the catalog has no
// entry for the incident type, a single-step manual plan is returned along
// with a planning-kinded error; the plan is still valid and must be routed
// to a human rather than dropped.
func (p *Planner) Plan(ctx context.Context, incident models.Incident, classification models.Classification) (models.RecoveryPlan, error) {
	if err := ctx.Err(); err != nil {
		return models.RecoveryPlan{}, err
	}

	p.mu.RLock()
	entry, ok := p.catalog.Entry(incident.Type)
	approvers := p.approvers
	p.mu.RUnlock()

	plan := models.RecoveryPlan{
		ID:         uuid.NewString(),
		IncidentID: incident.ID,
		CreatedAt:  time.Now().UTC(),
	}

	var planErr error
	if !ok || len(entry.Steps) == 0 {
		plan.Steps = []models.RecoveryStep{manualFallbackStep(incident)}
		plan.Risks = []string{"no catalog entry for incident type; operator action required"}
		planErr = utils.E(utils.KindPlanning, "planner.Plan",
			fmt.Sprintf("no catalog entry for incident type %q", incident.Type), nil)
		p.logger.Warn("planning fallback to manual plan",
			slog.String("incident_id", incident.ID),
			slog.String("type", string(incident.Type)),
		)
	} else {
		plan.Steps = cloneSteps(entry.Steps)
		plan.Risks = append([]string(nil), entry.Risks...)
	}

	for i := range plan.Steps {
		plan.Steps[i].Order = i + 1
		plan.Steps[i].Status = models.StepPending
		plan.EstimatedTotalDuration += plan.Steps[i].EstimatedDuration
	}

	// Destructive plans for high-severity incidents must not run before a
	// recorded approval exists.
	if incident.Severity == models.SeverityHigh || incident.Severity == models.SeverityCritical {
		plan.RequiredApprovals = append([]string(nil), approvers...)
	}

	return plan, planErr
}

func manualFallbackStep(incident models.Incident) models.RecoveryStep {
	return models.RecoveryStep{
		Action:            "manual_intervention",
		Description:       fmt.Sprintf("no automated remediation for %s on %s; operator action required", incident.Type, incident.Service),
		EstimatedDuration: 30 * time.Minute,
		Validation: models.StepValidation{
			Type:     models.ValidationManual,
			Criteria: "operator confirms the incident is remediated",
		},
	}
}

func cloneSteps(steps []models.RecoveryStep) []models.RecoveryStep {
	out := make([]models.RecoveryStep, len(steps))
	copy(out, steps)
	for i := range out {
		out[i].RequiredResources = append([]string(nil), steps[i].RequiredResources...)
		if steps[i].Params != nil {
			params := make(map[string]string, len(steps[i].Params))
			for k, v := range steps[i].Params {
				params[k] = v
			}
			out[i].Params = params
		}
	}
	return out
}
