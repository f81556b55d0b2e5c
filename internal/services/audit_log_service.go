package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/daigou-ops/backoffice/internal/domain"
	"github.com/daigou-ops/backoffice/internal/repositories"
)

// AuditLogServiceDeps bundles collaborators for the audit writer.
type AuditLogServiceDeps struct {
	EventLogs   repositories.EventLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type auditLogService struct {
	eventLogs repositories.EventLogRepository
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewAuditLogService constructs the append-only audit trail writer.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.EventLogs == nil {
		return nil, errors.New("audit log service: event log repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &auditLogService{
		eventLogs: deps.EventLogs,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Record appends one trail entry. Failures are logged and swallowed so a
// business operation never fails on its audit write.
func (s *auditLogService) Record(ctx context.Context, record AuditRecord) {
	action := strings.TrimSpace(record.Action)
	if action == "" {
		s.logger(ctx, "audit.record_skipped", map[string]any{"reason": "empty action"})
		return
	}

	occurredAt := record.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.clock()
	}

	entry := domain.EventLogEntry{
		ID:         s.newID(),
		Actor:      strings.TrimSpace(record.Actor),
		Action:     action,
		RefType:    strings.TrimSpace(record.RefType),
		RefID:      strings.TrimSpace(record.RefID),
		FromStatus: record.FromStatus,
		ToStatus:   record.ToStatus,
		Note:       strings.TrimSpace(record.Note),
		CreatedAt:  occurredAt.UTC(),
	}

	if err := s.eventLogs.Append(ctx, entry); err != nil {
		s.logger(ctx, "audit.append_failed", map[string]any{
			"action": action,
			"refId":  entry.RefID,
			"error":  err.Error(),
		})
	}
}

func (s *auditLogService) ListByRef(ctx context.Context, refType, refID string, pager Pagination) (domain.CursorPage[EventLogEntry], error) {
	return s.eventLogs.ListByRef(ctx, refType, refID, pager)
}
