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
	"github.com/daigou-ops/backoffice/internal/repositories"
)

const cashbookCollection = "cashbookEntries"

type CashbookRepository struct {
	provider *pfirestore.Provider
	entries  *pfirestore.BaseRepository[cashbookDocument]
}

func NewCashbookRepository(provider *pfirestore.Provider) (*CashbookRepository, error) {
	if provider == nil {
		return nil, errors.New("cashbook repository requires firestore provider")
	}
	entries := pfirestore.NewBaseRepository[cashbookDocument](provider, cashbookCollection, nil, nil)
	return &CashbookRepository{provider: provider, entries: entries}, nil
}

// Append writes one immutable ledger row. Reusing an entry id surfaces as
// CashbookErrorDuplicateEntry; entries are never updated or deleted.
func (r *CashbookRepository) Append(ctx context.Context, entry domain.CashbookEntry) error {
	if r == nil || r.entries == nil {
		return errors.New("cashbook repository not initialised")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("cashbook append: id is required")
	}

	_, err := r.entries.Create(ctx, entry.ID, newCashbookDocument(entry))
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			return repositories.NewCashbookError(repositories.CashbookErrorDuplicateEntry, fmt.Sprintf("cashbook entry %s already exists", entry.ID), err)
		}
		return wrapCashbook("cashbook.append", err)
	}
	return nil
}

func (r *CashbookRepository) FindByID(ctx context.Context, entryID string) (domain.CashbookEntry, error) {
	if r == nil || r.entries == nil {
		return domain.CashbookEntry{}, errors.New("cashbook repository not initialised")
	}

	doc, err := r.entries.Get(ctx, entryID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.CashbookEntry{}, repositories.NewCashbookError(repositories.CashbookErrorEntryNotFound, fmt.Sprintf("cashbook entry %s not found", entryID), err)
		}
		return domain.CashbookEntry{}, wrapCashbook("cashbook.get", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *CashbookRepository) ListByDateRange(ctx context.Context, filter repositories.EntryListFilter) (domain.CursorPage[domain.CashbookEntry], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.CashbookEntry]{}, errors.New("cashbook repository not initialised")
	}

	pageSize := normalisePageSize(filter.Pager.PageSize)
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.CashbookEntry]{}, wrapCashbook("cashbook.list", err)
	}

	query := client.Collection(cashbookCollection).
		OrderBy("date", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(pageSize + 1)
	if filter.Type != "" {
		query = query.Where("type", "==", string(filter.Type))
	}
	if filter.From != nil {
		query = query.Where("date", ">=", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("date", "<", filter.To.UTC())
	}

	if token := strings.TrimSpace(filter.Pager.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.CashbookEntry]{}, wrapCashbook("cashbook.list", err)
		}
		if startAfter, err := cursorTimes(cursor.StartAfter); err != nil {
			return domain.CursorPage[domain.CashbookEntry]{}, wrapCashbook("cashbook.list", err)
		} else if len(startAfter) > 0 {
			query = query.StartAfter(startAfter...)
		}
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var entries []domain.CashbookEntry
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.CashbookEntry]{}, wrapCashbook("cashbook.list", err)
		}
		var doc cashbookDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.CashbookEntry]{}, fmt.Errorf("decode cashbook entry %s: %w", snap.Ref.ID, err)
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
		nextToken, err = pagination.EncodeToken(pagination.Cursor{StartAfter: []any{last.Date.Format(time.RFC3339Nano), last.ID}})
		if err != nil {
			return domain.CursorPage[domain.CashbookEntry]{}, wrapCashbook("cashbook.list", err)
		}
	}

	return domain.CursorPage[domain.CashbookEntry]{Items: entries, NextPageToken: nextToken}, nil
}

// ListByRef returns the ledger rows created for one source record, oldest first.
func (r *CashbookRepository) ListByRef(ctx context.Context, refType, refID string) ([]domain.CashbookEntry, error) {
	if r == nil || r.entries == nil {
		return nil, errors.New("cashbook repository not initialised")
	}
	refType = strings.TrimSpace(refType)
	refID = strings.TrimSpace(refID)
	if refType == "" || refID == "" {
		return nil, errors.New("cashbook list by ref: ref type and id are required")
	}

	docs, err := r.entries.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("refType", "==", refType).
			Where("refId", "==", refID).
			OrderBy("createdAt", firestore.Asc)
	})
	if err != nil {
		return nil, wrapCashbook("cashbook.listByRef", err)
	}

	entries := make([]domain.CashbookEntry, 0, len(docs))
	for _, doc := range docs {
		entries = append(entries, doc.Data.toDomain(doc.ID))
	}
	return entries, nil
}

// SumByCurrency folds every signed amount into a per-currency balance.
func (r *CashbookRepository) SumByCurrency(ctx context.Context) (map[domain.Currency]float64, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("cashbook repository not initialised")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, wrapCashbook("cashbook.sum", err)
	}

	iter := client.Collection(cashbookCollection).
		Select("amount", "currency").
		Documents(ctx)
	defer iter.Stop()

	sums := map[domain.Currency]float64{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, wrapCashbook("cashbook.sum", err)
		}
		var doc cashbookDocument
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode cashbook entry %s: %w", snap.Ref.ID, err)
		}
		sums[domain.Currency(doc.Currency)] += doc.Amount
	}
	return sums, nil
}

// Document types ------------------------------------------------------------

type cashbookDocument struct {
	Type       string    `firestore:"type"`
	Amount     float64   `firestore:"amount"`
	Currency   string    `firestore:"currency"`
	FxRate     float64   `firestore:"fxRate"`
	AmountHome int64     `firestore:"amountHome"`
	RefType    string    `firestore:"refType,omitempty"`
	RefID      string    `firestore:"refId,omitempty"`
	Note       string    `firestore:"note,omitempty"`
	Date       time.Time `firestore:"date"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

func newCashbookDocument(entry domain.CashbookEntry) cashbookDocument {
	return cashbookDocument{
		Type:       string(entry.Type),
		Amount:     entry.Amount,
		Currency:   string(entry.Currency),
		FxRate:     entry.FxRate,
		AmountHome: entry.AmountHome,
		RefType:    strings.TrimSpace(entry.RefType),
		RefID:      strings.TrimSpace(entry.RefID),
		Note:       strings.TrimSpace(entry.Note),
		Date:       entry.Date.UTC(),
		CreatedAt:  entry.CreatedAt.UTC(),
	}
}

func (d cashbookDocument) toDomain(id string) domain.CashbookEntry {
	return domain.CashbookEntry{
		ID:         id,
		Type:       domain.EntryType(d.Type),
		Amount:     d.Amount,
		Currency:   domain.Currency(d.Currency),
		FxRate:     d.FxRate,
		AmountHome: d.AmountHome,
		RefType:    d.RefType,
		RefID:      d.RefID,
		Note:       d.Note,
		Date:       d.Date,
		CreatedAt:  d.CreatedAt,
	}
}

func wrapCashbook(op string, err error) error {
	if err == nil {
		return nil
	}
	var cbErr *repositories.CashbookError
	if errors.As(err, &cbErr) {
		if cbErr.Op == "" {
			cbErr.Op = op
		}
		return cbErr
	}
	return pfirestore.WrapError(op, err)
}
