package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	domain "github.com/daigou-ops/backoffice/internal/domain"
	"github.com/daigou-ops/backoffice/internal/repositories"
)

var (
	// ErrCashbookInvalidInput signals the caller provided invalid ledger data.
	ErrCashbookInvalidInput = errors.New("cashbook: invalid input")
	// ErrCashbookEntryNotFound indicates the ledger entry could not be located.
	ErrCashbookEntryNotFound = errors.New("cashbook: entry not found")
)

// CashbookServiceDeps bundles the collaborators for a cashbook service instance.
type CashbookServiceDeps struct {
	Entries      repositories.CashbookRepository
	HomeCurrency Currency
	// CnyKrwRate is the fixed CNY→KRW rate applied at record time. A live
	// rate provider would replace this.
	CnyKrwRate  float64
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type cashbookService struct {
	entries repositories.CashbookRepository
	home    Currency
	cnyKrw  float64
	clock   func() time.Time
	newID   func() string
	logger  func(context.Context, string, map[string]any)
	printer *message.Printer
}

// NewCashbookService wires dependencies into a concrete CashbookService implementation.
func NewCashbookService(deps CashbookServiceDeps) (CashbookService, error) {
	if deps.Entries == nil {
		return nil, errors.New("cashbook service: entry repository is required")
	}
	home := deps.HomeCurrency
	if home == "" {
		home = domain.CurrencyKRW
	}
	if _, err := currency.ParseISO(string(home)); err != nil {
		return nil, fmt.Errorf("cashbook service: invalid home currency %q: %w", home, err)
	}
	if deps.CnyKrwRate <= 0 {
		return nil, errors.New("cashbook service: cny/krw rate must be positive")
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

	return &cashbookService{
		entries: deps.Entries,
		home:    home,
		cnyKrw:  deps.CnyKrwRate,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:   idGen,
		logger:  logger,
		printer: message.NewPrinter(language.Korean),
	}, nil
}

// ExchangeRate returns the fixed conversion rate between the two supported
// currencies. The CNY→KRW and KRW→CNY rates are exact reciprocals.
func (s *cashbookService) ExchangeRate(from, to Currency) float64 {
	switch {
	case from == to:
		return 1
	case from == domain.CurrencyCNY && to == domain.CurrencyKRW:
		return s.cnyKrw
	case from == domain.CurrencyKRW && to == domain.CurrencyCNY:
		return 1 / s.cnyKrw
	default:
		return 0
	}
}

// RecordTransaction appends one immutable entry, computing the home-currency
// amount at the rate in effect now. Entries are never mutated afterwards.
func (s *cashbookService) RecordTransaction(ctx context.Context, cmd RecordEntryCommand) (RecordEntryResult, error) {
	entry, err := s.buildEntry(cmd)
	if err != nil {
		return RecordEntryResult{}, err
	}

	if err := s.entries.Append(ctx, entry); err != nil {
		var cbErr *repositories.CashbookError
		if errors.As(err, &cbErr) {
			return RecordEntryResult{Message: cbErr.Message}, nil
		}
		return RecordEntryResult{Message: err.Error()}, nil
	}

	s.logger(ctx, "cashbook.entry_recorded", map[string]any{
		"entryId":    entry.ID,
		"type":       string(entry.Type),
		"amountHome": s.FormatHome(entry.AmountHome),
	})
	return RecordEntryResult{Success: true, Entry: entry}, nil
}

func (s *cashbookService) RecordSale(ctx context.Context, cmd RecordSaleCommand) (RecordEntryResult, error) {
	if cmd.Amount <= 0 {
		return RecordEntryResult{}, fmt.Errorf("%w: sale amount must be positive", ErrCashbookInvalidInput)
	}
	return s.RecordTransaction(ctx, RecordEntryCommand{
		Type:     domain.EntrySale,
		Amount:   cmd.Amount,
		Currency: cmd.Currency,
		RefType:  "order",
		RefID:    cmd.OrderID,
		Note:     cmd.Note,
		Date:     cmd.Date,
	})
}

func (s *cashbookService) RecordInbound(ctx context.Context, cmd RecordExpenseCommand) (RecordEntryResult, error) {
	return s.recordExpense(ctx, domain.EntryInbound, cmd)
}

func (s *cashbookService) RecordShipping(ctx context.Context, cmd RecordExpenseCommand) (RecordEntryResult, error) {
	return s.recordExpense(ctx, domain.EntryShipping, cmd)
}

func (s *cashbookService) RecordRefund(ctx context.Context, cmd RecordExpenseCommand) (RecordEntryResult, error) {
	return s.recordExpense(ctx, domain.EntryRefund, cmd)
}

// RecordAdjustment passes the caller's sign through untouched.
func (s *cashbookService) RecordAdjustment(ctx context.Context, cmd RecordEntryCommand) (RecordEntryResult, error) {
	cmd.Type = domain.EntryAdjustment
	return s.RecordTransaction(ctx, cmd)
}

// GetDailySummary replays the entries of one KST calendar day. Query failures
// degrade to a zero-valued summary; reporting favours availability.
func (s *cashbookService) GetDailySummary(ctx context.Context, date time.Time) DailySummary {
	dayStart := time.Date(date.In(kst).Year(), date.In(kst).Month(), date.In(kst).Day(), 0, 0, 0, 0, kst)
	dayEnd := dayStart.AddDate(0, 0, 1)

	summary := DailySummary{Date: dayStart}
	entries, err := s.collectEntries(ctx, dayStart, dayEnd)
	if err != nil {
		s.logger(ctx, "cashbook.daily_summary_degraded", map[string]any{
			"date":  dayStart.Format("2006-01-02"),
			"error": err.Error(),
		})
		return summary
	}

	summary.Transactions = entries
	for _, entry := range entries {
		if entry.Type == domain.EntrySale {
			summary.Sales += entry.AmountHome
		}
		if entry.AmountHome < 0 {
			summary.Expenses += -entry.AmountHome
		}
	}
	summary.NetIncome = summary.Sales - summary.Expenses
	return summary
}

// GetMonthlySummary replays one KST calendar month, additionally grouping by
// entry type. Degrades to zero values on query failure.
func (s *cashbookService) GetMonthlySummary(ctx context.Context, year int, month time.Month) MonthlySummary {
	monthStart := time.Date(year, month, 1, 0, 0, 0, 0, kst)
	monthEnd := monthStart.AddDate(0, 1, 0)

	summary := MonthlySummary{Year: year, Month: month, ByType: map[EntryType]TypeSummary{}}
	entries, err := s.collectEntries(ctx, monthStart, monthEnd)
	if err != nil {
		s.logger(ctx, "cashbook.monthly_summary_degraded", map[string]any{
			"year":  year,
			"month": int(month),
			"error": err.Error(),
		})
		return summary
	}

	for _, entry := range entries {
		if entry.Type == domain.EntrySale {
			summary.TotalSales += entry.AmountHome
		}
		if entry.AmountHome < 0 {
			summary.TotalExpenses += -entry.AmountHome
		}
		group := summary.ByType[entry.Type]
		group.Count++
		group.Total += entry.AmountHome
		summary.ByType[entry.Type] = group
	}
	summary.NetIncome = summary.TotalSales - summary.TotalExpenses
	return summary
}

// GetBalance folds the whole ledger: raw CNY flow plus the home-currency
// total across every entry. Degrades to zero values on query failure.
func (s *cashbookService) GetBalance(ctx context.Context, until *time.Time) Balance {
	var balance Balance

	if until == nil {
		sums, err := s.entries.SumByCurrency(ctx)
		if err != nil {
			s.logger(ctx, "cashbook.balance_degraded", map[string]any{"error": err.Error()})
			return balance
		}
		balance.BalanceCny = sums[domain.CurrencyCNY]
		// Home-currency total still needs the per-entry conversions, so fold
		// over entries rather than the raw sums.
		entries, err := s.collectEntries(ctx, time.Time{}, time.Time{})
		if err != nil {
			s.logger(ctx, "cashbook.balance_degraded", map[string]any{"error": err.Error()})
			return Balance{}
		}
		for _, entry := range entries {
			balance.BalanceKrw += float64(entry.AmountHome)
		}
		return balance
	}

	end := until.Add(time.Millisecond)
	entries, err := s.collectEntries(ctx, time.Time{}, end)
	if err != nil {
		s.logger(ctx, "cashbook.balance_degraded", map[string]any{"error": err.Error()})
		return Balance{}
	}
	for _, entry := range entries {
		if entry.Currency == domain.CurrencyCNY {
			balance.BalanceCny += entry.Amount
		}
		balance.BalanceKrw += float64(entry.AmountHome)
	}
	return balance
}

func (s *cashbookService) ListEntries(ctx context.Context, filter repositories.EntryListFilter) (domain.CursorPage[CashbookEntry], error) {
	return s.entries.ListByDateRange(ctx, filter)
}

func (s *cashbookService) GetEntry(ctx context.Context, entryID string) (CashbookEntry, error) {
	entryID = strings.TrimSpace(entryID)
	if entryID == "" {
		return CashbookEntry{}, fmt.Errorf("%w: entry id is required", ErrCashbookInvalidInput)
	}

	entry, err := s.entries.FindByID(ctx, entryID)
	if err != nil {
		var cbErr *repositories.CashbookError
		if errors.As(err, &cbErr) && cbErr.Code == repositories.CashbookErrorEntryNotFound {
			return CashbookEntry{}, fmt.Errorf("%w: %s", ErrCashbookEntryNotFound, entryID)
		}
		return CashbookEntry{}, err
	}
	return entry, nil
}

// ListEntriesByRef returns the ledger rows written for one source record,
// oldest first, e.g. the sale and refund entries of an order.
func (s *cashbookService) ListEntriesByRef(ctx context.Context, refType, refID string) ([]CashbookEntry, error) {
	refType = strings.TrimSpace(refType)
	refID = strings.TrimSpace(refID)
	if refType == "" || refID == "" {
		return nil, fmt.Errorf("%w: ref type and id are required", ErrCashbookInvalidInput)
	}
	return s.entries.ListByRef(ctx, refType, refID)
}

// FormatHome renders a home-currency amount with Korean digit grouping, for
// ledger log lines and report messages.
func (s *cashbookService) FormatHome(amount int64) string {
	return s.printer.Sprintf("%d %s", amount, string(s.home))
}

func (s *cashbookService) recordExpense(ctx context.Context, entryType EntryType, cmd RecordExpenseCommand) (RecordEntryResult, error) {
	if cmd.Amount <= 0 {
		return RecordEntryResult{}, fmt.Errorf("%w: %s amount must be a positive magnitude", ErrCashbookInvalidInput, entryType)
	}
	return s.RecordTransaction(ctx, RecordEntryCommand{
		Type:     entryType,
		Amount:   -cmd.Amount,
		Currency: cmd.Currency,
		RefType:  cmd.RefType,
		RefID:    cmd.RefID,
		Note:     cmd.Note,
		Date:     cmd.Date,
	})
}

func (s *cashbookService) buildEntry(cmd RecordEntryCommand) (CashbookEntry, error) {
	switch cmd.Type {
	case domain.EntrySale, domain.EntryInbound, domain.EntryShipping, domain.EntryAdjustment, domain.EntryRefund:
	default:
		return CashbookEntry{}, fmt.Errorf("%w: unknown entry type %q", ErrCashbookInvalidInput, cmd.Type)
	}
	switch cmd.Currency {
	case domain.CurrencyCNY, domain.CurrencyKRW:
	default:
		return CashbookEntry{}, fmt.Errorf("%w: unsupported currency %q", ErrCashbookInvalidInput, cmd.Currency)
	}
	if cmd.Amount == 0 {
		return CashbookEntry{}, fmt.Errorf("%w: amount must be non-zero", ErrCashbookInvalidInput)
	}

	now := s.clock()
	date := cmd.Date
	if date.IsZero() {
		date = now
	}

	rate := s.ExchangeRate(cmd.Currency, s.home)
	amountHome := int64(math.Round(cmd.Amount * rate))

	return CashbookEntry{
		ID:         s.newID(),
		Type:       cmd.Type,
		Amount:     cmd.Amount,
		Currency:   cmd.Currency,
		FxRate:     rate,
		AmountHome: amountHome,
		RefType:    strings.TrimSpace(cmd.RefType),
		RefID:      strings.TrimSpace(cmd.RefID),
		Note:       strings.TrimSpace(cmd.Note),
		Date:       date.UTC(),
		CreatedAt:  now,
	}, nil
}

// collectEntries pages through the ledger for a date window. Zero bounds are
// treated as open ends.
func (s *cashbookService) collectEntries(ctx context.Context, from, to time.Time) ([]CashbookEntry, error) {
	filter := repositories.EntryListFilter{
		Pager: Pagination{PageSize: 200},
	}
	if !from.IsZero() {
		f := from
		filter.From = &f
	}
	if !to.IsZero() {
		t := to
		filter.To = &t
	}

	var all []CashbookEntry
	for {
		page, err := s.entries.ListByDateRange(ctx, filter)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.NextPageToken == "" {
			return all, nil
		}
		filter.Pager.PageToken = page.NextPageToken
	}
}
