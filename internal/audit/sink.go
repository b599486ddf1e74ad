// Package audit records authentication decisions to a capped access log.
// Writes are best-effort: an audit failure is logged but never blocks or
// fails the request being audited.
package audit

import (
	"context"
	"log/slog"
	"time"

	"trustgate/internal/models"
	"trustgate/internal/storage"
)

// Sink appends access log entries to storage.
type Sink struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewSink creates a sink over the given store.
func NewSink(store storage.Store, logger *slog.Logger) *Sink {
	return &Sink{store: store, logger: logger, now: time.Now}
}

// Record appends one entry. Errors are swallowed after logging so that
// audit trouble cannot take down the request path.
func (s *Sink) Record(ctx context.Context, agentID, endpoint string, status int, clientIP string) {
	entry := &models.AccessLogEntry{
		AgentID:   agentID,
		Endpoint:  endpoint,
		Status:    status,
		Timestamp: s.now().UTC(),
		ClientIP:  clientIP,
	}

	if err := s.store.AppendAccessLog(ctx, entry); err != nil {
		s.logger.Warn("failed to append access log entry",
			slog.String("agent_id", agentID),
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
	}
}

// Recent returns the most recent entries, newest first.
func (s *Sink) Recent(ctx context.Context, limit int) ([]*models.AccessLogEntry, error) {
	return s.store.AccessLogs(ctx, limit)
}
