// Package executor runs recovery plans against a runtime platform, enforcing
// approval gates, per-step timeouts, reverse-order rollback, and a post-check
// that re-queries the metric that triggered detection.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/remedystack/remedy-orchestrator/internal/metrics"
	"github.com/remedystack/remedy-orchestrator/internal/models"
	"github.com/remedystack/remedy-orchestrator/internal/store"
	"github.com/remedystack/remedy-orchestrator/internal/utils"
)

// OpState is the lifecycle state of an asynchronous platform operation.
type OpState string

const (
	OpPending   OpState = "pending"
	OpRunning   OpState = "running"
	OpSucceeded OpState = "succeeded"
	OpFailed    OpState = "failed"
)

// Operation is the platform's view of one started state change.
type Operation struct {
	ID      string
	State   OpState
	Message string
}

// RuntimePlatform is the capability interface for applying state changes to
// the infrastructure under recovery. Calls start an operation and return an
// operation ID; GetStatus reports progress.
type RuntimePlatform interface {
	EnsureServiceRunning(ctx context.Context, service string) (string, error)
	ScaleService(ctx context.Context, service string, desiredCount int) (string, error)
	UpdateTrafficRouting(ctx context.Context, service, target string) (string, error)
	RestoreFromBackup(ctx context.Context, resourceRef string) (string, error)
	GetStatus(ctx context.Context, opID string) (Operation, error)
}

// MetricReader re-queries a single metric stream; the post-check uses it to
// verify that remediation actually moved the triggering signal.
type MetricReader interface {
	Latest(ctx context.Context, namespace, metricName string, dimensions map[string]string, lookback time.Duration) (models.MetricSample, error)
}

// ApprovalStore reads operator decisions. store.ErrNotFound means no
// operator has acted yet.
type ApprovalStore interface {
	ApprovalFor(ctx context.Context, planID string) (models.Approval, error)
}

// Recorder persists execution audit records after every state transition.
type Recorder interface {
	PutExecution(ctx context.Context, exec models.RecoveryExecution) error
}

// PostCheck names the metric stream whose value must be back at or below
// MaxValue for the execution to count as successful.
type PostCheck struct {
	Namespace  string
	Metric     string
	Dimensions map[string]string
	MaxValue   float64
}

// Config tunes execution pacing.
type Config struct {
	// StepTimeoutFactor multiplies a step's EstimatedDuration to produce its
	// hard deadline.
	StepTimeoutFactor float64
	// DefaultStepTimeout applies when a step carries no estimate.
	DefaultStepTimeout time.Duration
	// OpPollInterval paces GetStatus polling on asynchronous operations.
	OpPollInterval time.Duration
	// ApprovalPollInterval paces approval-gate polling. Approval waits carry
	// no deadline; a pending plan blocks until an operator acts.
	ApprovalPollInterval time.Duration
	// PostCheckLookback is the trailing window for the post-check query.
	PostCheckLookback time.Duration
}

// Executor drives recovery plans to a terminal state.
type Executor struct {
	logger    *slog.Logger
	platform  RuntimePlatform
	reader    MetricReader
	approvals ApprovalStore
	recorder  Recorder
	cfg       Config
}

// New constructs an executor. reader, approvals, and recorder may be nil;
// the corresponding checks degrade to conservative defaults.
func New(logger *slog.Logger, platform RuntimePlatform, reader MetricReader, approvals ApprovalStore, recorder Recorder, cfg Config) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StepTimeoutFactor <= 0 {
		cfg.StepTimeoutFactor = 2
	}
	if cfg.DefaultStepTimeout <= 0 {
		cfg.DefaultStepTimeout = 5 * time.Minute
	}
	if cfg.OpPollInterval <= 0 {
		cfg.OpPollInterval = 2 * time.Second
	}
	if cfg.ApprovalPollInterval <= 0 {
		cfg.ApprovalPollInterval = 10 * time.Second
	}
	if cfg.PostCheckLookback <= 0 {
		cfg.PostCheckLookback = 5 * time.Minute
	}
	return &Executor{
		logger:    logger,
		platform:  platform,
		reader:    reader,
		approvals: approvals,
		recorder:  recorder,
		cfg:       cfg,
	}
}

// Execute runs a plan to a terminal execution record. The returned execution
// is always valid even when err is non-nil; err carries the failure taxonomy
// (step-kinded for remediation failures, transient for infra trouble).
//
// Rollback runs in reverse order over completed steps only, at most once per
// step, and proceeds through individual rollback failures. Cancellation mid
// plan rolls back completed work on a detached context before returning.
func (e *Executor) Execute(ctx context.Context, plan models.RecoveryPlan, incident models.Incident, check *PostCheck) (models.RecoveryExecution, error) {
	exec := models.RecoveryExecution{
		ID:         uuid.NewString(),
		PlanID:     plan.ID,
		IncidentID: incident.ID,
		StartTime:  time.Now().UTC(),
		Status:     models.ExecutionInProgress,
		Steps:      make([]models.StepExecutionRecord, 0, len(plan.Steps)),
		Metrics:    make(map[string]float64),
	}
	e.persist(ctx, &exec)

	if len(plan.RequiredApprovals) > 0 {
		if err := e.awaitApproval(ctx, plan.ID); err != nil {
			status := models.ExecutionFailed
			if ctx.Err() != nil {
				status = models.ExecutionCancelled
			}
			return e.finish(ctx, &exec, status, err)
		}
	}

	for i := range plan.Steps {
		step := plan.Steps[i]
		record := models.StepExecutionRecord{
			Order:     step.Order,
			Action:    step.Action,
			Status:    models.StepInProgress,
			StartedAt: time.Now().UTC(),
		}
		exec.Steps = append(exec.Steps, record)
		e.persist(ctx, &exec)

		err := e.runStep(ctx, plan.ID, incident, step)
		now := time.Now().UTC()
		rec := &exec.Steps[len(exec.Steps)-1]
		rec.FinishedAt = &now

		if err != nil {
			rec.Status = models.StepFailed
			rec.Error = err.Error()
			e.persist(ctx, &exec)

			if ctx.Err() != nil {
				// Cancellation: unwind completed work on a detached context
				// so the rollback itself is not cancelled mid-flight.
				e.rollback(context.WithoutCancel(ctx), &exec, plan, incident)
				return e.finish(ctx, &exec, models.ExecutionCancelled,
					utils.E(utils.KindStep, "executor.Execute", fmt.Sprintf("step %d (%s) cancelled", step.Order, step.Action), ctx.Err()))
			}

			status := models.ExecutionFailed
			if e.rollback(ctx, &exec, plan, incident) {
				status = models.ExecutionRolledBack
			}
			return e.finish(ctx, &exec, status,
				utils.E(utils.KindStep, "executor.Execute", fmt.Sprintf("step %d (%s) failed", step.Order, step.Action), err))
		}

		rec.Status = models.StepCompleted
		e.persist(ctx, &exec)
	}

	// The post-check runs after every fully completed plan: a remediation
	// that did not move the triggering metric is a failure, not a success.
	// Every step reported green, so all of them are unwound; the execution
	// still ends failed because the anomaly persisted.
	if err := e.postCheck(ctx, &exec, check); err != nil {
		e.rollback(ctx, &exec, plan, incident)
		return e.finish(ctx, &exec, models.ExecutionFailed, err)
	}

	return e.finish(ctx, &exec, models.ExecutionCompleted, nil)
}

// awaitApproval polls until an operator decision exists. There is no
// deadline: the plan stays pending until a human acts or the execution is
// cancelled. Rejection fails the plan before any step runs.
func (e *Executor) awaitApproval(ctx context.Context, planID string) error {
	if e.approvals == nil {
		return utils.E(utils.KindStep, "executor.awaitApproval", "plan requires approval but no approval store is configured", nil)
	}

	ticker := time.NewTicker(e.cfg.ApprovalPollInterval)
	defer ticker.Stop()

	for {
		approval, err := e.approvals.ApprovalFor(ctx, planID)
		switch {
		case err == nil:
			if !approval.Approved {
				return utils.E(utils.KindStep, "executor.awaitApproval",
					fmt.Sprintf("plan rejected by %s: %s", approval.Approver, approval.Comment), nil)
			}
			e.logger.Info("plan approved",
				slog.String("plan_id", planID),
				slog.String("approver", approval.Approver),
			)
			return nil
		case errors.Is(err, store.ErrNotFound):
			// keep polling
		default:
			return utils.E(utils.KindTransient, "executor.awaitApproval", "approval lookup failed", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// runStep executes one step under its hard deadline, then applies the step's
// validation.
func (e *Executor) runStep(ctx context.Context, planID string, incident models.Incident, step models.RecoveryStep) error {
	timeout := time.Duration(float64(step.EstimatedDuration) * e.cfg.StepTimeoutFactor)
	if timeout <= 0 {
		timeout = e.cfg.DefaultStepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.performAction(stepCtx, step.Action, incident, step.Params); err != nil {
		return err
	}
	return e.validate(stepCtx, planID, incident, step)
}

// performAction maps a catalog action name onto a platform call and waits
// for the started operation to finish. Manual actions make no platform call;
// an action the executor does not know is a step failure, never a silent
// success.
func (e *Executor) performAction(ctx context.Context, action string, incident models.Incident, params map[string]string) error {
	var (
		opID string
		err  error
	)

	switch action {
	case "health_check", "service_restart", "ensure_running", "clear_pressure":
		opID, err = e.platform.EnsureServiceRunning(ctx, incident.Service)
	case "scale_out":
		opID, err = e.platform.ScaleService(ctx, incident.Service, intParam(params, "desiredCount", 2))
	case "scale_in":
		opID, err = e.platform.ScaleService(ctx, incident.Service, intParam(params, "previousCount", 1))
	case "redirect_traffic":
		target := params["target"]
		if target == "" {
			target = "failover"
		}
		opID, err = e.platform.UpdateTrafficRouting(ctx, incident.Service, target)
	case "restore_traffic":
		target := params["primaryTarget"]
		if target == "" {
			target = "primary"
		}
		opID, err = e.platform.UpdateTrafficRouting(ctx, incident.Service, target)
	case "restore_backup":
		resource := params["resource"]
		if resource == "" {
			resource = incident.Service
		}
		opID, err = e.platform.RestoreFromBackup(ctx, resource)
	case "manual", "manual_intervention":
		e.logger.Info("action requires operator work, no platform call",
			slog.String("action", action),
			slog.String("service", incident.Service),
		)
		return nil
	default:
		return fmt.Errorf("unknown action %q", action)
	}

	if err != nil {
		return fmt.Errorf("start %s: %w", action, err)
	}
	return e.awaitOperation(ctx, action, opID)
}

// awaitOperation polls GetStatus until the operation reaches a terminal state.
func (e *Executor) awaitOperation(ctx context.Context, action, opID string) error {
	ticker := time.NewTicker(e.cfg.OpPollInterval)
	defer ticker.Stop()

	for {
		op, err := e.platform.GetStatus(ctx, opID)
		if err != nil {
			return fmt.Errorf("poll %s operation %s: %w", action, opID, err)
		}
		switch op.State {
		case OpSucceeded:
			return nil
		case OpFailed:
			return fmt.Errorf("%s operation %s failed: %s", action, opID, op.Message)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// validate applies the step's post-condition. Metric validation re-reads the
// triggering metric stream; manual validation waits for an operator decision
// keyed by planID/step-N, where rejection counts as step failure.
func (e *Executor) validate(ctx context.Context, planID string, incident models.Incident, step models.RecoveryStep) error {
	switch step.Validation.Type {
	case models.ValidationManual:
		return e.awaitStepApproval(ctx, fmt.Sprintf("%s/step-%d", planID, step.Order))
	case models.ValidationMetric:
		if e.reader == nil {
			return errors.New("metric validation configured but no metric reader available")
		}
		sample, err := e.reader.Latest(ctx, incident.Namespace, step.Validation.Criteria,
			map[string]string{"service": incident.Service}, e.cfg.PostCheckLookback)
		if err != nil {
			return fmt.Errorf("metric validation query: %w", err)
		}
		e.logger.Info("metric validation sample",
			slog.String("metric", step.Validation.Criteria),
			slog.Float64("value", sample.Value),
		)
		return nil
	default:
		// Log-style validation is satisfied by the completed platform
		// operation itself.
		return nil
	}
}

func (e *Executor) awaitStepApproval(ctx context.Context, key string) error {
	if e.approvals == nil {
		return errors.New("manual validation configured but no approval store available")
	}

	ticker := time.NewTicker(e.cfg.ApprovalPollInterval)
	defer ticker.Stop()

	for {
		approval, err := e.approvals.ApprovalFor(ctx, key)
		switch {
		case err == nil:
			if !approval.Approved {
				return fmt.Errorf("manual validation rejected by %s: %s", approval.Approver, approval.Comment)
			}
			return nil
		case errors.Is(err, store.ErrNotFound):
			// keep polling
		default:
			return fmt.Errorf("manual validation lookup: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// rollback unwinds completed steps in reverse order. Each rollback is
// attempted at most once and isolated: a panic or error in one rollback is
// recorded on its step record and the remaining rollbacks still run. Returns
// true when at least one rollback was attempted.
func (e *Executor) rollback(ctx context.Context, exec *models.RecoveryExecution, plan models.RecoveryPlan, incident models.Incident) bool {
	attempted := false
	for i := len(exec.Steps) - 1; i >= 0; i-- {
		rec := &exec.Steps[i]
		if rec.Status != models.StepCompleted || rec.RollbackAttempted {
			continue
		}
		step := stepByOrder(plan, rec.Order)
		if step == nil || step.RollbackProcedure == "" {
			continue
		}

		rec.RollbackAttempted = true
		attempted = true
		metrics.ObserveRollbackStep()

		if err := e.runRollback(ctx, incident, *step); err != nil {
			rec.RollbackError = err.Error()
			e.logger.Error("step rollback failed",
				slog.Int("order", rec.Order),
				slog.String("action", rec.Action),
				slog.Any("error", err),
			)
			continue
		}
		e.logger.Info("step rolled back",
			slog.Int("order", rec.Order),
			slog.String("action", rec.Action),
			slog.String("procedure", step.RollbackProcedure),
		)
	}
	e.persist(ctx, exec)
	return attempted
}

func (e *Executor) runRollback(ctx context.Context, incident models.Incident, step models.RecoveryStep) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rollback panic: %v", r)
		}
	}()

	return e.performAction(ctx, step.RollbackProcedure, incident, step.Params)
}

// postCheck re-queries the triggering metric stream. A reading still above
// MaxValue, or an unreadable stream, fails the execution: success must be
// proven, not assumed.
func (e *Executor) postCheck(ctx context.Context, exec *models.RecoveryExecution, check *PostCheck) error {
	if check == nil {
		return nil
	}
	if e.reader == nil {
		return utils.E(utils.KindStep, "executor.postCheck", "post-check configured but no metric reader available", nil)
	}

	sample, err := e.reader.Latest(ctx, check.Namespace, check.Metric, check.Dimensions, e.cfg.PostCheckLookback)
	if err != nil {
		return utils.E(utils.KindStep, "executor.postCheck", "triggering metric unreadable after remediation", err)
	}

	exec.Metrics["post_check_"+check.Metric] = sample.Value
	if sample.Value > check.MaxValue {
		return utils.E(utils.KindStep, "executor.postCheck",
			fmt.Sprintf("%s=%.2f still above %.2f after remediation", check.Metric, sample.Value, check.MaxValue), nil)
	}
	return nil
}

// finish stamps the terminal state, publishes metrics, and persists the
// final audit record.
func (e *Executor) finish(ctx context.Context, exec *models.RecoveryExecution, status models.ExecutionStatus, err error) (models.RecoveryExecution, error) {
	now := time.Now().UTC()
	exec.EndTime = &now
	exec.Status = status
	exec.Metrics["duration_seconds"] = now.Sub(exec.StartTime).Seconds()
	metrics.ObserveExecution(string(status), now.Sub(exec.StartTime))

	// Persist on a detached context so a cancelled execution still leaves a
	// terminal audit record behind.
	e.persist(context.WithoutCancel(ctx), exec)

	level := slog.LevelInfo
	if status != models.ExecutionCompleted {
		level = slog.LevelWarn
	}
	e.logger.Log(ctx, level, "execution finished",
		slog.String("execution_id", exec.ID),
		slog.String("plan_id", exec.PlanID),
		slog.String("status", string(status)),
	)
	return *exec, err
}

func (e *Executor) persist(ctx context.Context, exec *models.RecoveryExecution) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.PutExecution(ctx, *exec); err != nil {
		e.logger.Error("persist execution record",
			slog.String("execution_id", exec.ID),
			slog.Any("error", err),
		)
	}
}

func intParam(params map[string]string, key string, fallback int) int {
	if raw, ok := params[key]; ok {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func stepByOrder(plan models.RecoveryPlan, order int) *models.RecoveryStep {
	for i := range plan.Steps {
		if plan.Steps[i].Order == order {
			return &plan.Steps[i]
		}
	}
	return nil
}
