package repo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/remedystack/remedy-orchestrator/internal/executor"
)

// DryRunPlatform implements the runtime platform capability by logging the
// requested state changes without touching any real infrastructure. It is
// the default platform until a production integration is injected, and it
// preserves the asynchronous call-then-poll contract.
type DryRunPlatform struct {
	logger *slog.Logger

	mu  sync.Mutex
	ops map[string]executor.Operation

	// Desired state bookkeeping. Every action records a target state rather
	// than an increment, so repeating a call leaves the state unchanged.
	running  map[string]bool
	replicas map[string]int
	routes   map[string]string
	restored map[string]bool
}

// NewDryRunPlatform constructs a logging-only platform.
func NewDryRunPlatform(logger *slog.Logger) *DryRunPlatform {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunPlatform{
		logger:   logger,
		ops:      make(map[string]executor.Operation),
		running:  make(map[string]bool),
		replicas: make(map[string]int),
		routes:   make(map[string]string),
		restored: make(map[string]bool),
	}
}

func (p *DryRunPlatform) start(action, detail string) string {
	opID := uuid.NewString()
	p.mu.Lock()
	p.ops[opID] = executor.Operation{
		ID:      opID,
		State:   executor.OpSucceeded,
		Message: fmt.Sprintf("%s: %s (dry-run)", action, detail),
	}
	p.mu.Unlock()
	p.logger.Info("dry-run platform call",
		slog.String("action", action),
		slog.String("detail", detail),
		slog.String("op_id", opID),
	)
	return opID
}

// EnsureServiceRunning records the desired running state for a service.
func (p *DryRunPlatform) EnsureServiceRunning(ctx context.Context, service string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	p.running[service] = true
	p.mu.Unlock()
	return p.start("ensure_service_running", service), nil
}

// ScaleService records the desired replica count for a service.
func (p *DryRunPlatform) ScaleService(ctx context.Context, service string, desiredCount int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	p.replicas[service] = desiredCount
	p.mu.Unlock()
	return p.start("scale_service", fmt.Sprintf("%s -> %d replicas", service, desiredCount)), nil
}

// UpdateTrafficRouting records the desired routing target for a service.
func (p *DryRunPlatform) UpdateTrafficRouting(ctx context.Context, service, target string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	p.routes[service] = target
	p.mu.Unlock()
	return p.start("update_traffic_routing", fmt.Sprintf("%s -> %s", service, target)), nil
}

// RestoreFromBackup records a restore request for a resource.
func (p *DryRunPlatform) RestoreFromBackup(ctx context.Context, resourceRef string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	p.restored[resourceRef] = true
	p.mu.Unlock()
	return p.start("restore_from_backup", resourceRef), nil
}

// GetStatus returns the state of a previously started operation.
func (p *DryRunPlatform) GetStatus(ctx context.Context, opID string) (executor.Operation, error) {
	if err := ctx.Err(); err != nil {
		return executor.Operation{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	op, ok := p.ops[opID]
	if !ok {
		return executor.Operation{}, fmt.Errorf("unknown operation %s", opID)
	}
	return op, nil
}
