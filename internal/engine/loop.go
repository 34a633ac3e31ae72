// Package engine hosts the periodic control loop that drives the detect,
// classify, plan, execute, notify pipeline.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/remedystack/remedy-orchestrator/internal/detector"
	"github.com/remedystack/remedy-orchestrator/internal/executor"
	"github.com/remedystack/remedy-orchestrator/internal/metrics"
	"github.com/remedystack/remedy-orchestrator/internal/models"
	"github.com/remedystack/remedy-orchestrator/internal/utils"
)

// Detector finds anomalies inside a detection window.
type Detector interface {
	Detect(ctx context.Context, window models.TimeRange) ([]models.Incident, error)
}

// Classifier enriches an incident with cause and priority.
type Classifier interface {
	Classify(ctx context.Context, incident models.Incident) (models.Classification, error)
}

// Planner maps a classified incident to a recovery plan.
type Planner interface {
	Plan(ctx context.Context, incident models.Incident, classification models.Classification) (models.RecoveryPlan, error)
}

// Executor drives a plan to a terminal execution record.
type Executor interface {
	Execute(ctx context.Context, plan models.RecoveryPlan, incident models.Incident, check *executor.PostCheck) (models.RecoveryExecution, error)
}

// Router delivers alerts and manages alert groups.
type Router interface {
	Route(ctx context.Context, alert models.Alert) error
	Sweep(ctx context.Context, now time.Time) []models.AlertGroup
	Hydrate(ctx context.Context) error
}

// Store is the persistence surface the loop needs.
type Store interface {
	PutIncident(ctx context.Context, inc models.Incident) error
	ListIncidents(ctx context.Context) ([]models.Incident, error)
	PutClassification(ctx context.Context, c models.Classification) error
	PutPlan(ctx context.Context, plan models.RecoveryPlan) error
	PutExecution(ctx context.Context, exec models.RecoveryExecution) error
	ActiveExecutions(ctx context.Context) ([]models.RecoveryExecution, error)
}

// Config tunes the control loop.
type Config struct {
	Interval        time.Duration
	DetectionWindow time.Duration
	MaxWorkers      int
}

// Loop owns the orchestration cycle. Incident status transitions happen only
// here; downstream stages receive incidents by value and never write them.
type Loop struct {
	logger     *slog.Logger
	cfg        Config
	detector   Detector
	classifier Classifier
	planner    Planner
	executor   Executor
	router     Router
	store      Store
	streams    []detector.Stream
	latency    *utils.LatencyTracker

	mu   sync.Mutex
	busy map[string]bool
}

// New constructs the control loop.
func New(logger *slog.Logger, cfg Config, det Detector, cls Classifier, pln Planner, exe Executor, rtr Router, st Store, streams []detector.Stream) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Minute
	}
	if cfg.DetectionWindow <= 0 {
		cfg.DetectionWindow = 15 * time.Minute
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	return &Loop{
		logger:     logger,
		cfg:        cfg,
		detector:   det,
		classifier: cls,
		planner:    pln,
		executor:   exe,
		router:     rtr,
		store:      st,
		streams:    streams,
		latency:    utils.NewLatencyTracker(256),
		busy:       make(map[string]bool),
	}
}

// Run executes ticks until ctx is cancelled. The first tick fires
// immediately; subsequent ticks follow the configured interval. Ticks never
// overlap: a long tick delays the next one rather than racing it.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.router.Hydrate(ctx); err != nil {
		l.logger.Warn("alert group hydration failed", slog.Any("error", err))
	}
	l.failOrphanedExecutions(ctx)

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("control loop stopping")
			return ctx.Err()
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// failOrphanedExecutions closes out executions that were in flight when the
// process last stopped. Their true platform state is unknowable, so they are
// stamped failed and the next cycle re-detects and starts a fresh recovery.
func (l *Loop) failOrphanedExecutions(ctx context.Context) {
	active, err := l.store.ActiveExecutions(ctx)
	if err != nil {
		l.logger.Warn("active execution hydration failed", slog.Any("error", err))
		return
	}
	for _, exec := range active {
		now := time.Now().UTC()
		exec.Status = models.ExecutionFailed
		exec.EndTime = &now
		if err := l.store.PutExecution(ctx, exec); err != nil {
			l.logger.Warn("orphaned execution update failed",
				slog.String("execution_id", exec.ID),
				slog.Any("error", err),
			)
			continue
		}
		l.logger.Warn("execution was in flight at last shutdown, marked failed",
			slog.String("execution_id", exec.ID),
			slog.String("incident_id", exec.IncidentID),
		)
	}
}

// tick runs one full orchestration cycle. A panic anywhere in the cycle is
// contained to the tick so the loop itself keeps running.
func (l *Loop) tick(ctx context.Context) {
	start := time.Now()
	outcome := metrics.OutcomeSuccess

	defer func() {
		if r := recover(); r != nil {
			outcome = metrics.OutcomeError
			l.logger.Error("tick panic recovered", slog.Any("panic", r))
		}
		elapsed := time.Since(start)
		l.latency.Observe(elapsed)
		metrics.ObserveTick(elapsed, outcome)
		l.logger.Info("tick finished",
			slog.Duration("elapsed", elapsed),
			slog.Duration("avg", l.latency.Average()),
			slog.Duration("p95", l.latency.Percentile(95)),
			slog.String("outcome", outcome),
		)
	}()

	now := time.Now().UTC()
	resolvedGroups := l.router.Sweep(ctx, now)
	l.resolveFromGroups(ctx, resolvedGroups)

	window := models.TimeRange{Start: now.Add(-l.cfg.DetectionWindow), End: now}
	incidents, err := l.detector.Detect(ctx, window)
	if err != nil {
		outcome = metrics.OutcomeError
		l.logger.Error("detection failed", slog.Any("error", err))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.MaxWorkers)

	for _, incident := range incidents {
		key := busyKey(incident.Service, incident.Type)
		if !l.acquire(key) {
			l.logger.Debug("recovery already in flight, coalescing",
				slog.String("service", incident.Service),
				slog.String("type", string(incident.Type)),
			)
			continue
		}

		inc := incident
		g.Go(func() error {
			defer l.release(key)
			if err := l.process(gctx, inc); err != nil {
				l.logger.Error("incident pipeline failed",
					slog.String("incident_id", inc.ID),
					slog.Any("error", err),
				)
			}
			// Pipeline failures are per-incident; never abort sibling work.
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		outcome = metrics.OutcomeError
	}
}

// process runs one incident through classify, plan, execute, notify.
func (l *Loop) process(ctx context.Context, incident models.Incident) error {
	metrics.ObserveIncident(string(incident.Type), string(incident.Severity))

	incident.Status = models.IncidentDetected
	if err := l.store.PutIncident(ctx, incident); err != nil {
		return fmt.Errorf("persist incident: %w", err)
	}
	l.notify(ctx, incident, incident.Severity, "incident detected", incident.Description)

	incident.Status = models.IncidentInvestigating
	if err := l.store.PutIncident(ctx, incident); err != nil {
		return fmt.Errorf("mark investigating: %w", err)
	}

	classification, err := l.classifier.Classify(ctx, incident)
	if err != nil {
		return fmt.Errorf("classify: %w", err)
	}
	if err := l.store.PutClassification(ctx, classification); err != nil {
		return fmt.Errorf("persist classification: %w", err)
	}

	plan, planErr := l.planner.Plan(ctx, incident, classification)
	if err := l.store.PutPlan(ctx, plan); err != nil {
		return fmt.Errorf("persist plan: %w", err)
	}
	if planErr != nil {
		if !utils.IsPlanning(planErr) {
			return fmt.Errorf("plan: %w", planErr)
		}
		// A manual fallback plan is routed to operators, never executed.
		l.notify(ctx, incident, incident.Severity, "manual intervention required",
			fmt.Sprintf("no automated remediation for %s on %s (plan %s)", incident.Type, incident.Service, plan.ID))
		return nil
	}

	incident.Status = models.IncidentMitigating
	if err := l.store.PutIncident(ctx, incident); err != nil {
		return fmt.Errorf("mark mitigating: %w", err)
	}

	exec, execErr := l.executor.Execute(ctx, plan, incident, l.postCheckFor(incident))
	if exec.Status == models.ExecutionCompleted {
		now := time.Now().UTC()
		incident.Status = models.IncidentResolved
		incident.ResolvedAt = &now
		if err := l.store.PutIncident(ctx, incident); err != nil {
			return fmt.Errorf("mark resolved: %w", err)
		}
		l.notify(ctx, incident, incident.Severity, "incident resolved",
			fmt.Sprintf("recovery plan %s completed in %.0fs", plan.ID, exec.Metrics["duration_seconds"]))
		return nil
	}

	// A failed or rolled-back recovery always escalates at critical severity
	// regardless of how the incident itself was rated.
	l.notify(ctx, incident, models.SeverityCritical, "recovery "+string(exec.Status),
		fmt.Sprintf("execution %s for plan %s ended %s", exec.ID, plan.ID, exec.Status))
	if execErr != nil {
		return fmt.Errorf("execute: %w", execErr)
	}
	return nil
}

// postCheckFor derives the execution post-check from the stream rule that
// monitors this incident's (service, type). The remediated metric must be
// back at or below the warning threshold.
func (l *Loop) postCheckFor(incident models.Incident) *executor.PostCheck {
	for _, stream := range l.streams {
		if !strings.EqualFold(stream.Service, incident.Service) || stream.Type != incident.Type {
			continue
		}
		max := stream.Warning
		if max <= 0 {
			max = stream.Critical
		}
		if max <= 0 {
			return nil
		}
		return &executor.PostCheck{
			Namespace:  stream.Namespace,
			Metric:     stream.Metric,
			Dimensions: map[string]string{"service": stream.Service},
			MaxValue:   max,
		}
	}
	return nil
}

// resolveFromGroups closes out incidents whose alert group quiesced: the
// signal went silent long enough that the aggregator resolved the group.
func (l *Loop) resolveFromGroups(ctx context.Context, groups []models.AlertGroup) {
	if len(groups) == 0 {
		return
	}
	incidents, err := l.store.ListIncidents(ctx)
	if err != nil {
		l.logger.Warn("incident sweep listing failed", slog.Any("error", err))
		return
	}

	for _, group := range groups {
		for _, inc := range incidents {
			if inc.Status == models.IncidentResolved {
				continue
			}
			if !strings.EqualFold(inc.Service, group.Source) || inc.Type != group.Type {
				continue
			}
			now := time.Now().UTC()
			inc.Status = models.IncidentResolved
			inc.ResolvedAt = &now
			if err := l.store.PutIncident(ctx, inc); err != nil {
				l.logger.Warn("sweep resolution failed",
					slog.String("incident_id", inc.ID),
					slog.Any("error", err),
				)
				continue
			}
			l.logger.Info("incident resolved by alert group quiescence",
				slog.String("incident_id", inc.ID),
				slog.String("group_id", group.ID),
			)
		}
	}
}

// notify builds and routes an alert; delivery failures are logged by the
// router and never fail the pipeline.
func (l *Loop) notify(ctx context.Context, incident models.Incident, severity models.Severity, title, body string) {
	alert := models.Alert{
		Type:     incident.Type,
		Source:   incident.Service,
		Severity: severity,
		Title:    title,
		Body:     body,
		Metadata: map[string]string{
			"incident_id": incident.ID,
			"status":      string(incident.Status),
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := l.router.Route(ctx, alert); err != nil {
		l.logger.Warn("alert routing failed",
			slog.String("incident_id", incident.ID),
			slog.Any("error", err),
		)
	}
}

func (l *Loop) acquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy[key] {
		return false
	}
	l.busy[key] = true
	return true
}

func (l *Loop) release(key string) {
	l.mu.Lock()
	delete(l.busy, key)
	l.mu.Unlock()
}

func busyKey(service string, t models.IncidentType) string {
	return strings.ToLower(service) + "/" + string(t)
}
