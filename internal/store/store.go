// Package store persists orchestrator state in an embedded Badger database.
// The three primary tables (incidents, recovery_executions, alert_groups)
// are append-mostly: incidents mutate only their status, executions are
// never deleted, and alert groups are rewritten only by the aggregator.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/remedystack/remedy-orchestrator/internal/models"
)

const (
	prefixIncident       = "incident/"
	prefixClassification = "classification/"
	prefixPlan           = "plan/"
	prefixExecution      = "execution/"
	prefixAlertGroup     = "alertgroup/"
	prefixApproval       = "approval/"
)

// ErrNotFound signals that the requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// Config holds Badger settings for the state store.
type Config struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	GCInterval time.Duration
	Logger     *slog.Logger
}

// Store wraps a Badger instance with entity-level operations.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
	stopGC chan struct{}
	doneGC chan struct{}
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open creates and opens the state store with the given configuration.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store: path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	s := &Store{db: db, logger: cfg.Logger}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.runGC(cfg.GCInterval)
	}
	return s, nil
}

// OpenInMemory opens an ephemeral store for tests.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

// Close stops background GC and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
		s.stopGC = nil
	}
	return s.db.Close()
}

func (s *Store) runGC(interval time.Duration) {
	defer close(s.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("store value log GC", slog.Any("error", err))
			}
		}
	}
}

func (s *Store) put(ctx context.Context, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *Store) get(ctx context.Context, key string, out any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
}

func (s *Store) scan(ctx context.Context, prefix string, fn func(val []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				return fn(val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutIncident writes an incident record (insert or status update).
func (s *Store) PutIncident(ctx context.Context, inc models.Incident) error {
	return s.put(ctx, prefixIncident+inc.ID, inc)
}

// GetIncident loads one incident by ID.
func (s *Store) GetIncident(ctx context.Context, id string) (models.Incident, error) {
	var inc models.Incident
	err := s.get(ctx, prefixIncident+id, &inc)
	return inc, err
}

// ListIncidents returns all stored incidents, newest first.
func (s *Store) ListIncidents(ctx context.Context) ([]models.Incident, error) {
	var incidents []models.Incident
	err := s.scan(ctx, prefixIncident, func(val []byte) error {
		var inc models.Incident
		if err := json.Unmarshal(val, &inc); err != nil {
			return err
		}
		incidents = append(incidents, inc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(incidents, func(i, j int) bool {
		return incidents[i].Timestamp.After(incidents[j].Timestamp)
	})
	return incidents, nil
}

// RecentIncidents returns up to limit incidents for (service, type),
// newest first. The classifier uses this as its historical cohort.
func (s *Store) RecentIncidents(ctx context.Context, service string, incidentType models.IncidentType, limit int) ([]models.Incident, error) {
	all, err := s.ListIncidents(ctx)
	if err != nil {
		return nil, err
	}
	matched := make([]models.Incident, 0, limit)
	for _, inc := range all {
		if !strings.EqualFold(inc.Service, service) || inc.Type != incidentType {
			continue
		}
		matched = append(matched, inc)
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	return matched, nil
}

// PutClassification appends a classification record. Classifications are
// write-once; re-classification stores a new record for the same incident.
func (s *Store) PutClassification(ctx context.Context, c models.Classification) error {
	return s.put(ctx, prefixClassification+c.IncidentID+"/"+c.ID, c)
}

// ClassificationsForIncident lists classification records for an incident,
// oldest first.
func (s *Store) ClassificationsForIncident(ctx context.Context, incidentID string) ([]models.Classification, error) {
	var out []models.Classification
	err := s.scan(ctx, prefixClassification+incidentID+"/", func(val []byte) error {
		var c models.Classification
		if err := json.Unmarshal(val, &c); err != nil {
			return err
		}
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// LatestClassification returns the newest classification for an incident.
func (s *Store) LatestClassification(ctx context.Context, incidentID string) (models.Classification, error) {
	all, err := s.ClassificationsForIncident(ctx, incidentID)
	if err != nil {
		return models.Classification{}, err
	}
	if len(all) == 0 {
		return models.Classification{}, ErrNotFound
	}
	return all[len(all)-1], nil
}

// PutPlan stores an immutable recovery plan.
func (s *Store) PutPlan(ctx context.Context, plan models.RecoveryPlan) error {
	return s.put(ctx, prefixPlan+plan.ID, plan)
}

// GetPlan loads one plan by ID.
func (s *Store) GetPlan(ctx context.Context, id string) (models.RecoveryPlan, error) {
	var plan models.RecoveryPlan
	err := s.get(ctx, prefixPlan+id, &plan)
	return plan, err
}

// PutExecution writes an execution audit record.
func (s *Store) PutExecution(ctx context.Context, exec models.RecoveryExecution) error {
	return s.put(ctx, prefixExecution+exec.ID, exec)
}

// GetExecution loads one execution by ID.
func (s *Store) GetExecution(ctx context.Context, id string) (models.RecoveryExecution, error) {
	var exec models.RecoveryExecution
	err := s.get(ctx, prefixExecution+id, &exec)
	return exec, err
}

// ListExecutions returns all execution records, newest first.
func (s *Store) ListExecutions(ctx context.Context) ([]models.RecoveryExecution, error) {
	var execs []models.RecoveryExecution
	err := s.scan(ctx, prefixExecution, func(val []byte) error {
		var exec models.RecoveryExecution
		if err := json.Unmarshal(val, &exec); err != nil {
			return err
		}
		execs = append(execs, exec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(execs, func(i, j int) bool { return execs[i].StartTime.After(execs[j].StartTime) })
	return execs, nil
}

// ActiveExecutions returns executions still in progress; the control loop
// rebuilds its mutual-exclusion table from these after a restart.
func (s *Store) ActiveExecutions(ctx context.Context) ([]models.RecoveryExecution, error) {
	all, err := s.ListExecutions(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, exec := range all {
		if !exec.Status.Terminal() {
			active = append(active, exec)
		}
	}
	return active, nil
}

// PutAlertGroup writes an alert group; only the aggregator calls this.
func (s *Store) PutAlertGroup(ctx context.Context, group models.AlertGroup) error {
	return s.put(ctx, prefixAlertGroup+group.ID, group)
}

// AlertGroups returns all stored groups.
func (s *Store) AlertGroups(ctx context.Context) ([]models.AlertGroup, error) {
	var groups []models.AlertGroup
	err := s.scan(ctx, prefixAlertGroup, func(val []byte) error {
		var g models.AlertGroup
		if err := json.Unmarshal(val, &g); err != nil {
			return err
		}
		groups = append(groups, g)
		return nil
	})
	return groups, err
}

// ActiveAlertGroups returns groups still accumulating alerts.
func (s *Store) ActiveAlertGroups(ctx context.Context) ([]models.AlertGroup, error) {
	groups, err := s.AlertGroups(ctx)
	if err != nil {
		return nil, err
	}
	active := groups[:0]
	for _, g := range groups {
		if g.Status == models.AlertGroupActive {
			active = append(active, g)
		}
	}
	return active, nil
}

// RecordApproval stores an operator decision for a plan.
func (s *Store) RecordApproval(ctx context.Context, approval models.Approval) error {
	return s.put(ctx, prefixApproval+approval.PlanID, approval)
}

// ApprovalFor returns the recorded decision for a plan, or ErrNotFound when
// no operator has acted yet.
func (s *Store) ApprovalFor(ctx context.Context, planID string) (models.Approval, error) {
	var approval models.Approval
	err := s.get(ctx, prefixApproval+planID, &approval)
	return approval, err
}
