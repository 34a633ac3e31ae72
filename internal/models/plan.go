package models

import "time"

// ValidationType selects how a recovery step outcome is verified.
type ValidationType string

const (
	ValidationMetric ValidationType = "metric"
	ValidationLog    ValidationType = "log"
	ValidationManual ValidationType = "manual"
)

// StepValidation describes the machine-checkable (or manual) criteria for a step.
type StepValidation struct {
	Type     ValidationType `json:"type"`
	Criteria string         `json:"criteria"`
}

// StepStatus tracks an individual step through execution.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
)

// RecoveryStep is one idempotent remediation action inside a plan.
// Step status is mutated only by the executor, strictly in Order sequence.
type RecoveryStep struct {
	Order             int               `json:"order"`
	Action            string            `json:"action"`
	Description       string            `json:"description"`
	EstimatedDuration time.Duration     `json:"estimated_duration"`
	RequiredResources []string          `json:"required_resources,omitempty"`
	Params            map[string]string `json:"params,omitempty"`
	RollbackProcedure string            `json:"rollback_procedure,omitempty"`
	Validation        StepValidation    `json:"validation"`
	Status            StepStatus        `json:"status"`
}

// RecoveryPlan is an ordered, idempotent remediation procedure. Plans are
// immutable once created; an irrecoverable execution failure produces a new
// plan rather than mutating the old one.
type RecoveryPlan struct {
	ID                     string         `json:"id"`
	IncidentID             string         `json:"incident_id"`
	Steps                  []RecoveryStep `json:"steps"`
	EstimatedTotalDuration time.Duration  `json:"estimated_total_duration"`
	RequiredApprovals      []string       `json:"required_approvals,omitempty"`
	Risks                  []string       `json:"risks,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
}

// ExecutionStatus tracks a plan invocation outcome.
type ExecutionStatus string

const (
	ExecutionInProgress ExecutionStatus = "in_progress"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionRolledBack ExecutionStatus = "rolled_back"
	ExecutionCancelled  ExecutionStatus = "cancelled"
)

// Terminal reports whether the execution reached a final state.
func (s ExecutionStatus) Terminal() bool {
	return s != ExecutionInProgress
}

// StepExecutionRecord is the per-step audit entry inside an execution.
type StepExecutionRecord struct {
	Order             int        `json:"order"`
	Action            string     `json:"action"`
	Status            StepStatus `json:"status"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	Error             string     `json:"error,omitempty"`
	RollbackAttempted bool       `json:"rollback_attempted"`
	RollbackError     string     `json:"rollback_error,omitempty"`
}

// Approval records an operator decision for a plan that requires sign-off.
// Rejection is treated as a step failure by the executor.
type Approval struct {
	PlanID    string    `json:"plan_id"`
	Approver  string    `json:"approver"`
	Approved  bool      `json:"approved"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// RecoveryExecution is one concrete run of a plan. Executions are
// append-only audit entries, never deleted; a plan retried across cycles
// produces a fresh execution record each time.
type RecoveryExecution struct {
	ID         string                `json:"id"`
	PlanID     string                `json:"plan_id"`
	IncidentID string                `json:"incident_id"`
	StartTime  time.Time             `json:"start_time"`
	EndTime    *time.Time            `json:"end_time,omitempty"`
	Status     ExecutionStatus       `json:"status"`
	Steps      []StepExecutionRecord `json:"steps"`
	Metrics    map[string]float64    `json:"metrics,omitempty"`
}
