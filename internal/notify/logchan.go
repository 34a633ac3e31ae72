package notify

import (
	"context"
	"log/slog"
)

// LogChannel writes notifications to the structured log. It exists so
// air-gapped deployments still have a delivery target.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel constructs a log-backed channel.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogChannel{logger: logger}
}

// Name identifies the channel in logs and metrics.
func (c *LogChannel) Name() string { return "log" }

// Send writes the notification as a structured log record.
func (c *LogChannel) Send(ctx context.Context, target, severity, title, body string, metadata map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	attrs := []any{
		slog.String("target", target),
		slog.String("severity", severity),
		slog.String("title", title),
		slog.String("body", body),
	}
	for k, v := range metadata {
		attrs = append(attrs, slog.String("meta_"+k, v))
	}
	c.logger.Info("alert", attrs...)
	return nil
}
