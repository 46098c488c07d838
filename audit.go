package secretariat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AuditLevel represents the severity recorded in the audit table.
type AuditLevel string

const (
	AuditLevelInfo  AuditLevel = "info"
	AuditLevelWarn  AuditLevel = "warn"
	AuditLevelError AuditLevel = "error"
)

var (
	auditRepoMu sync.RWMutex
	auditRepo   AuditRepository
)

// SetAuditRepository installs the repository that will store audit events.
func SetAuditRepository(repo AuditRepository) {
	auditRepoMu.Lock()
	defer auditRepoMu.Unlock()
	auditRepo = repo
}

// RecordAudit persists a structured audit log and mirrors it to the logger.
// Wizard submissions, review saves and session lifecycle events go through here.
func RecordAudit(ctx context.Context, level AuditLevel, component, action, message string, fields map[string]any) {
	auditRepoMu.RLock()
	repo := auditRepo
	auditRepoMu.RUnlock()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, reqID := WithRequestID(ctx)
	Logger().Info("audit",
		zap.String("component", component),
		zap.String("action", action),
		zap.String("level", string(level)),
		zap.String("message", message),
		zap.String("request_id", reqID),
		zap.Any("fields", fields))
	if repo == nil {
		return
	}

	payload := ""
	if len(fields) > 0 {
		if data, err := json.Marshal(fields); err == nil {
			payload = string(data)
		}
	}
	entry := &AuditLog{
		Component:  component,
		Action:     action,
		Level:      string(level),
		Message:    message,
		Payload:    payload,
		RequestID:  reqID,
		OccurredAt: time.Now().UTC(),
	}
	if actorID, ok := GetUserIDFromContext(ctx); ok {
		entry.ActorID = &actorID
	}
	if err := repo.AppendAudit(entry); err != nil {
		Logger().Warn("audit_append_failed", zap.Error(err), zap.String("component", component), zap.String("action", action))
	}
}
