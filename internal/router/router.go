// Package router fans alert notifications out to delivery channels and
// aggregates repeats of the same (type, source) pair into alert groups so a
// flapping signal produces one group, not a notification storm.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/remedystack/remedy-orchestrator/internal/metrics"
	"github.com/remedystack/remedy-orchestrator/internal/models"
	"github.com/remedystack/remedy-orchestrator/internal/utils"
)

// NotificationChannel is the capability interface for one delivery target.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, target, severity, title, body string, metadata map[string]string) error
}

// GroupStore persists alert groups across restarts.
type GroupStore interface {
	PutAlertGroup(ctx context.Context, group models.AlertGroup) error
	ActiveAlertGroups(ctx context.Context) ([]models.AlertGroup, error)
}

// Router aggregates alerts into groups and delivers notifications.
type Router struct {
	logger      *slog.Logger
	channels    []NotificationChannel
	store       GroupStore
	groupWindow time.Duration

	mu     sync.Mutex
	groups map[string]*models.AlertGroup
}

// New constructs a router over the supplied channels.
func New(logger *slog.Logger, store GroupStore, channels []NotificationChannel, groupWindow time.Duration) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if groupWindow <= 0 {
		groupWindow = 15 * time.Minute
	}
	return &Router{
		logger:      logger,
		channels:    channels,
		store:       store,
		groupWindow: groupWindow,
		groups:      make(map[string]*models.AlertGroup),
	}
}

// Hydrate reloads active alert groups from the store so grouping state
// survives a process restart.
func (r *Router) Hydrate(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	active, err := r.store.ActiveAlertGroups(ctx)
	if err != nil {
		return fmt.Errorf("load active alert groups: %w", err)
	}

	r.mu.Lock()
	for i := range active {
		g := active[i]
		r.groups[groupKey(g.Type, g.Source)] = &g
	}
	n := len(r.groups)
	r.mu.Unlock()

	metrics.SetActiveAlertGroups(n)
	if n > 0 {
		r.logger.Info("alert groups rehydrated", slog.Int("active", n))
	}
	return nil
}

// Route folds an alert into its (type, source) group and, for the first
// alert of a new group, fans the notification out to every channel. Channel
// deliveries are isolated: one failing channel never blocks the others.
// Repeat alerts inside an active group only bump the group counters.
func (r *Router) Route(ctx context.Context, alert models.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	group, created := r.aggregate(alert)
	r.persistGroup(ctx, group)

	if !created {
		r.logger.Debug("alert folded into existing group",
			slog.String("group_id", group.ID),
			slog.Int("count", group.Count),
		)
		return nil
	}

	var failed []string
	for _, ch := range r.channels {
		err := r.deliver(ctx, ch, alert)
		metrics.ObserveNotification(ch.Name(), err)
		if err != nil {
			failed = append(failed, ch.Name())
			r.logger.Warn("notification delivery failed",
				slog.String("channel", ch.Name()),
				slog.String("alert_id", alert.ID),
				slog.Any("error", err),
			)
		}
	}

	if len(failed) > 0 && len(failed) == len(r.channels) {
		return utils.E(utils.KindNotification, "router.Route",
			fmt.Sprintf("all channels failed: %s", strings.Join(failed, ", ")), nil)
	}
	return nil
}

// deliver isolates a single channel call so a panicking channel
// implementation cannot take down the fan-out.
func (r *Router) deliver(ctx context.Context, ch NotificationChannel, alert models.Alert) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("channel panic: %v", rec)
		}
	}()
	return ch.Send(ctx, alert.Source, string(alert.Severity), alert.Title, alert.Body, alert.Metadata)
}

// aggregate returns the alert's group and whether it was newly created.
func (r *Router) aggregate(alert models.Alert) (models.AlertGroup, bool) {
	key := groupKey(alert.Type, alert.Source)

	r.mu.Lock()
	defer r.mu.Unlock()

	if group, ok := r.groups[key]; ok && group.Status == models.AlertGroupActive {
		group.Count++
		group.LastOccurrence = alert.CreatedAt
		group.AlertIDs = append(group.AlertIDs, alert.ID)
		return *group, false
	}

	group := &models.AlertGroup{
		ID:              uuid.NewString(),
		Type:            alert.Type,
		Source:          alert.Source,
		Count:           1,
		FirstOccurrence: alert.CreatedAt,
		LastOccurrence:  alert.CreatedAt,
		Status:          models.AlertGroupActive,
		AlertIDs:        []string{alert.ID},
	}
	r.groups[key] = group
	metrics.SetActiveAlertGroups(len(r.groups))
	return *group, true
}

// Sweep resolves groups whose last occurrence is older than the group
// window and returns them so the control loop can close out the matching
// incidents.
func (r *Router) Sweep(ctx context.Context, now time.Time) []models.AlertGroup {
	r.mu.Lock()
	var resolved []models.AlertGroup
	for key, group := range r.groups {
		if now.Sub(group.LastOccurrence) < r.groupWindow {
			continue
		}
		group.Status = models.AlertGroupResolved
		resolved = append(resolved, *group)
		delete(r.groups, key)
	}
	remaining := len(r.groups)
	r.mu.Unlock()

	metrics.SetActiveAlertGroups(remaining)
	for i := range resolved {
		r.persistGroup(ctx, resolved[i])
		r.logger.Info("alert group resolved",
			slog.String("group_id", resolved[i].ID),
			slog.String("source", resolved[i].Source),
			slog.String("type", string(resolved[i].Type)),
			slog.Int("count", resolved[i].Count),
		)
	}
	return resolved
}

// ActiveGroups snapshots the in-memory active groups.
func (r *Router) ActiveGroups() []models.AlertGroup {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.AlertGroup, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, *g)
	}
	return out
}

func (r *Router) persistGroup(ctx context.Context, group models.AlertGroup) {
	if r.store == nil {
		return
	}
	if err := r.store.PutAlertGroup(ctx, group); err != nil {
		r.logger.Error("persist alert group",
			slog.String("group_id", group.ID),
			slog.Any("error", err),
		)
	}
}

func groupKey(t models.IncidentType, source string) string {
	return string(t) + "/" + strings.ToLower(source)
}
