package repo

import (
	"context"
	"reflect"
	"testing"

	"github.com/remedystack/remedy-orchestrator/internal/executor"
)

// platformState is a copy of the dry-run platform's desired-state maps for
// comparison in tests.
type platformState struct {
	Running  map[string]bool
	Replicas map[string]int
	Routes   map[string]string
	Restored map[string]bool
}

func (p *DryRunPlatform) stateSnapshot() platformState {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := platformState{
		Running:  make(map[string]bool, len(p.running)),
		Replicas: make(map[string]int, len(p.replicas)),
		Routes:   make(map[string]string, len(p.routes)),
		Restored: make(map[string]bool, len(p.restored)),
	}
	for k, v := range p.running {
		s.Running[k] = v
	}
	for k, v := range p.replicas {
		s.Replicas[k] = v
	}
	for k, v := range p.routes {
		s.Routes[k] = v
	}
	for k, v := range p.restored {
		s.Restored[k] = v
	}
	return s
}

func TestDryRunPlatformOperationLifecycle(t *testing.T) {
	p := NewDryRunPlatform(nil)
	ctx := context.Background()

	opID, err := p.EnsureServiceRunning(ctx, "checkout")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opID == "" {
		t.Fatalf("expected operation id")
	}

	op, err := p.GetStatus(ctx, opID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if op.State != executor.OpSucceeded {
		t.Fatalf("dry-run operations succeed immediately, got %s", op.State)
	}
}

func TestDryRunPlatformUnknownOperation(t *testing.T) {
	p := NewDryRunPlatform(nil)
	if _, err := p.GetStatus(context.Background(), "no-such-op"); err == nil {
		t.Fatalf("expected error for unknown operation")
	}
}

func TestDryRunPlatformRecordsDesiredState(t *testing.T) {
	p := NewDryRunPlatform(nil)
	ctx := context.Background()

	if _, err := p.ScaleService(ctx, "checkout", 6); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.UpdateTrafficRouting(ctx, "checkout", "failover"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.RestoreFromBackup(ctx, "orders-db"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.replicas["checkout"] != 6 {
		t.Fatalf("replica count not recorded: %v", p.replicas)
	}
	if p.routes["checkout"] != "failover" {
		t.Fatalf("route not recorded: %v", p.routes)
	}
	if !p.restored["orders-db"] {
		t.Fatalf("restore not recorded: %v", p.restored)
	}
}

func TestDryRunPlatformActionsAreIdempotent(t *testing.T) {
	p := NewDryRunPlatform(nil)
	ctx := context.Background()

	apply := func() {
		if _, err := p.EnsureServiceRunning(ctx, "checkout"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := p.ScaleService(ctx, "checkout", 4); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := p.UpdateTrafficRouting(ctx, "checkout", "failover"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := p.RestoreFromBackup(ctx, "orders-db"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	apply()
	first := p.stateSnapshot()
	apply()
	second := p.stateSnapshot()

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeating identical actions changed platform state:\nfirst:  %v\nsecond: %v", first, second)
	}
	if second.Replicas["checkout"] != 4 || second.Routes["checkout"] != "failover" {
		t.Fatalf("unexpected desired state: %v", second)
	}
}
