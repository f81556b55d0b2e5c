package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/daigou-ops/backoffice/internal/domain"
	pfirestore "github.com/daigou-ops/backoffice/internal/platform/firestore"
	"github.com/daigou-ops/backoffice/internal/platform/pagination"
	domainrepo "github.com/daigou-ops/backoffice/internal/repositories"
)

const eventLogsCollection = "eventLogs"

type EventLogRepository struct {
	provider *pfirestore.Provider
	entries  *pfirestore.BaseRepository[eventLogDocument]
}

func NewEventLogRepository(provider *pfirestore.Provider) (*EventLogRepository, error) {
	if provider == nil {
		return nil, errors.New("event log repository requires firestore provider")
	}
	entries := pfirestore.NewBaseRepository[eventLogDocument](provider, eventLogsCollection, nil, nil)
	return &EventLogRepository{provider: provider, entries: entries}, nil
}

func (r *EventLogRepository) Append(ctx context.Context, entry domain.EventLogEntry) error {
	if r == nil || r.entries == nil {
		return errors.New("event log repository not initialised")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("event log append: id is required")
	}

	_, err := r.entries.Create(ctx, entry.ID, newEventLogDocument(entry))
	return err
}

// ListByRef returns the audit trail for one record, newest first.
func (r *EventLogRepository) ListByRef(ctx context.Context, refType, refID string, pager domain.Pagination) (domain.CursorPage[domain.EventLogEntry], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.EventLogEntry]{}, errors.New("event log repository not initialised")
	}
	refType = strings.TrimSpace(refType)
	refID = strings.TrimSpace(refID)
	if refType == "" || refID == "" {
		return domain.CursorPage[domain.EventLogEntry]{}, errors.New("event log list: ref type and id are required")
	}

	pageSize := normalisePageSize(pager.PageSize)
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.EventLogEntry]{}, pfirestore.WrapError("eventLogs.listByRef", err)
	}

	query := client.Collection(eventLogsCollection).
		Where("refType", "==", refType).
		Where("refId", "==", refID).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.EventLogEntry]{}, pfirestore.WrapError("eventLogs.listByRef", err)
		}
		if startAfter, err := cursorTimes(cursor.StartAfter); err != nil {
			return domain.CursorPage[domain.EventLogEntry]{}, pfirestore.WrapError("eventLogs.listByRef", err)
		} else if len(startAfter) > 0 {
			query = query.StartAfter(startAfter...)
		}
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var entries []domain.EventLogEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.EventLogEntry]{}, pfirestore.WrapError("eventLogs.listByRef", err)
		}
		var doc eventLogDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.EventLogEntry]{}, fmt.Errorf("decode event log %s: %w", snap.Ref.ID, err)
		}
		entries = append(entries, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(entries) > pageSize
	if hasMore {
		entries = entries[:pageSize]
	}
	var nextToken string
	if hasMore && len(entries) > 0 {
		last := entries[len(entries)-1]
		nextToken, err = pagination.EncodeToken(pagination.Cursor{StartAfter: []any{last.CreatedAt.Format(time.RFC3339Nano), last.ID}})
		if err != nil {
			return domain.CursorPage[domain.EventLogEntry]{}, pfirestore.WrapError("eventLogs.listByRef", err)
		}
	}

	return domain.CursorPage[domain.EventLogEntry]{Items: entries, NextPageToken: nextToken}, nil
}

var _ domainrepo.EventLogRepository = (*EventLogRepository)(nil)

// Document types ------------------------------------------------------------

type eventLogDocument struct {
	Actor      string    `firestore:"actor"`
	Action     string    `firestore:"action"`
	RefType    string    `firestore:"refType"`
	RefID      string    `firestore:"refId"`
	FromStatus string    `firestore:"fromStatus,omitempty"`
	ToStatus   string    `firestore:"toStatus,omitempty"`
	Note       string    `firestore:"note,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

func newEventLogDocument(entry domain.EventLogEntry) eventLogDocument {
	return eventLogDocument{
		Actor:      strings.TrimSpace(entry.Actor),
		Action:     strings.TrimSpace(entry.Action),
		RefType:    strings.TrimSpace(entry.RefType),
		RefID:      strings.TrimSpace(entry.RefID),
		FromStatus: entry.FromStatus,
		ToStatus:   entry.ToStatus,
		Note:       strings.TrimSpace(entry.Note),
		CreatedAt:  entry.CreatedAt.UTC(),
	}
}

func (d eventLogDocument) toDomain(id string) domain.EventLogEntry {
	return domain.EventLogEntry{
		ID:         id,
		Actor:      d.Actor,
		Action:     d.Action,
		RefType:    d.RefType,
		RefID:      d.RefID,
		FromStatus: d.FromStatus,
		ToStatus:   d.ToStatus,
		Note:       d.Note,
		CreatedAt:  d.CreatedAt,
	}
}
