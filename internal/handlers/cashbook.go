package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/daigou-ops/backoffice/internal/domain"
	"github.com/daigou-ops/backoffice/internal/platform/httpx"
	"github.com/daigou-ops/backoffice/internal/repositories"
	"github.com/daigou-ops/backoffice/internal/services"
)

const (
	defaultEntryPageSize = 50
	maxEntryPageSize     = 200

	dateOnlyLayout = "2006-01-02"
)

var validEntryTypes = map[domain.EntryType]struct{}{
	domain.EntrySale:       {},
	domain.EntryInbound:    {},
	domain.EntryShipping:   {},
	domain.EntryAdjustment: {},
	domain.EntryRefund:     {},
}

type recordEntryRequest struct {
	Type     string  `json:"type"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
	RefType  string  `json:"ref_type"`
	RefID    string  `json:"ref_id"`
	Note     string  `json:"note"`
	Date     string  `json:"date"`
}

// CashbookHandlers exposes ledger endpoints for back-office staff.
type CashbookHandlers struct {
	cashbook services.CashbookService
}

// NewCashbookHandlers constructs a new CashbookHandlers instance.
func NewCashbookHandlers(cashbook services.CashbookService) *CashbookHandlers {
	return &CashbookHandlers{cashbook: cashbook}
}

// Routes registers the /cashbook endpoints.
func (h *CashbookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/entries", h.recordEntry)
	r.Get("/entries", h.listEntries)
	r.Get("/entries/by-ref/{refType}/{refID}", h.listEntriesByRef)
	r.Get("/entries/{entryID}", h.getEntry)
	r.Get("/summary/daily", h.dailySummary)
	r.Get("/summary/monthly", h.monthlySummary)
	r.Get("/balance", h.balance)
}

func (h *CashbookHandlers) recordEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cashbook == nil {
		writeServiceUnavailable(ctx, w, "cashbook")
		return
	}

	var req recordEntryRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	entryType := domain.EntryType(strings.ToLower(strings.TrimSpace(req.Type)))
	if _, ok := validEntryTypes[entryType]; !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown entry type %q", req.Type), http.StatusBadRequest))
		return
	}

	var date time.Time
	if raw := strings.TrimSpace(req.Date); raw != "" {
		ts, err := parseDateParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "date must be RFC3339 or YYYY-MM-DD", http.StatusBadRequest))
			return
		}
		date = ts
	}

	result, err := h.cashbook.RecordTransaction(ctx, services.RecordEntryCommand{
		Type:     entryType,
		Amount:   req.Amount,
		Currency: domain.Currency(strings.ToUpper(strings.TrimSpace(req.Currency))),
		RefType:  strings.TrimSpace(req.RefType),
		RefID:    strings.TrimSpace(req.RefID),
		Note:     strings.TrimSpace(req.Note),
		Date:     date,
	})
	if err != nil {
		writeCashbookError(ctx, w, err)
		return
	}
	if !result.Success {
		httpx.WriteError(ctx, w, httpx.NewError("entry_not_recorded", firstNonEmpty(result.Message, "entry was not recorded"), http.StatusInternalServerError))
		return
	}
	writeJSONResponse(w, http.StatusCreated, entryResponse{Entry: buildEntryPayload(result.Entry)})
}

func (h *CashbookHandlers) listEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cashbook == nil {
		writeServiceUnavailable(ctx, w, "cashbook")
		return
	}

	query := r.URL.Query()
	filter := repositories.EntryListFilter{}

	if raw := strings.ToLower(strings.TrimSpace(query.Get("type"))); raw != "" {
		entryType := domain.EntryType(raw)
		if _, ok := validEntryTypes[entryType]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown entry type %q", raw), http.StatusBadRequest))
			return
		}
		filter.Type = entryType
	}
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		ts, err := parseDateParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "from must be RFC3339 or YYYY-MM-DD", http.StatusBadRequest))
			return
		}
		filter.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		ts, err := parseDateParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "to must be RFC3339 or YYYY-MM-DD", http.StatusBadRequest))
			return
		}
		filter.To = &ts
	}

	pageSize, err := parsePageSize(query.Get("page_size"), defaultEntryPageSize, maxEntryPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.Pager = domain.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}

	page, err := h.cashbook.ListEntries(ctx, filter)
	if err != nil {
		writeCashbookError(ctx, w, err)
		return
	}

	items := make([]entryPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, buildEntryPayload(entry))
	}
	writeJSONResponse(w, http.StatusOK, entryListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func (h *CashbookHandlers) getEntry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cashbook == nil {
		writeServiceUnavailable(ctx, w, "cashbook")
		return
	}

	entryID := strings.TrimSpace(chi.URLParam(r, "entryID"))
	if entryID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "entry id is required", http.StatusBadRequest))
		return
	}

	entry, err := h.cashbook.GetEntry(ctx, entryID)
	if err != nil {
		writeCashbookError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, entryResponse{Entry: buildEntryPayload(entry)})
}

func (h *CashbookHandlers) listEntriesByRef(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cashbook == nil {
		writeServiceUnavailable(ctx, w, "cashbook")
		return
	}

	refType := strings.TrimSpace(chi.URLParam(r, "refType"))
	refID := strings.TrimSpace(chi.URLParam(r, "refID"))
	if refType == "" || refID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "ref type and id are required", http.StatusBadRequest))
		return
	}

	entries, err := h.cashbook.ListEntriesByRef(ctx, refType, refID)
	if err != nil {
		writeCashbookError(ctx, w, err)
		return
	}

	items := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		items = append(items, buildEntryPayload(entry))
	}
	writeJSONResponse(w, http.StatusOK, entryListResponse{Items: items})
}

func (h *CashbookHandlers) dailySummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cashbook == nil {
		writeServiceUnavailable(ctx, w, "cashbook")
		return
	}

	date := time.Now().UTC()
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		ts, err := parseDateParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "date must be RFC3339 or YYYY-MM-DD", http.StatusBadRequest))
			return
		}
		date = ts
	}

	summary := h.cashbook.GetDailySummary(ctx, date)

	transactions := make([]entryPayload, 0, len(summary.Transactions))
	for _, entry := range summary.Transactions {
		transactions = append(transactions, buildEntryPayload(entry))
	}
	writeJSONResponse(w, http.StatusOK, dailySummaryResponse{
		Date:         summary.Date.Format(dateOnlyLayout),
		Sales:        summary.Sales,
		Expenses:     summary.Expenses,
		NetIncome:    summary.NetIncome,
		Transactions: transactions,
	})
}

func (h *CashbookHandlers) monthlySummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cashbook == nil {
		writeServiceUnavailable(ctx, w, "cashbook")
		return
	}

	query := r.URL.Query()
	now := time.Now().UTC()
	year, month := now.Year(), now.Month()

	if raw := strings.TrimSpace(query.Get("year")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 2000 || parsed > 2200 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "year must be a four-digit year", http.StatusBadRequest))
			return
		}
		year = parsed
	}
	if raw := strings.TrimSpace(query.Get("month")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 12 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "month must be between 1 and 12", http.StatusBadRequest))
			return
		}
		month = time.Month(parsed)
	}

	summary := h.cashbook.GetMonthlySummary(ctx, year, month)

	byType := make(map[string]typeSummaryPayload, len(summary.ByType))
	for entryType, slice := range summary.ByType {
		byType[string(entryType)] = typeSummaryPayload{Count: slice.Count, Total: slice.Total}
	}
	writeJSONResponse(w, http.StatusOK, monthlySummaryResponse{
		Year:          summary.Year,
		Month:         int(summary.Month),
		TotalSales:    summary.TotalSales,
		TotalExpenses: summary.TotalExpenses,
		NetIncome:     summary.NetIncome,
		ByType:        byType,
	})
}

func (h *CashbookHandlers) balance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cashbook == nil {
		writeServiceUnavailable(ctx, w, "cashbook")
		return
	}

	var until *time.Time
	if raw := strings.TrimSpace(r.URL.Query().Get("until")); raw != "" {
		ts, err := parseDateParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "until must be RFC3339 or YYYY-MM-DD", http.StatusBadRequest))
			return
		}
		until = &ts
	}

	balance := h.cashbook.GetBalance(ctx, until)
	writeJSONResponse(w, http.StatusOK, balanceResponse{
		BalanceCny: balance.BalanceCny,
		BalanceKrw: balance.BalanceKrw,
	})
}

type entryPayload struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
	FxRate     float64 `json:"fx_rate"`
	AmountHome int64   `json:"amount_home"`
	RefType    string  `json:"ref_type,omitempty"`
	RefID      string  `json:"ref_id,omitempty"`
	Note       string  `json:"note,omitempty"`
	Date       string  `json:"date"`
	CreatedAt  string  `json:"created_at"`
}

type entryResponse struct {
	Entry entryPayload `json:"entry"`
}

type entryListResponse struct {
	Items         []entryPayload `json:"items"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type dailySummaryResponse struct {
	Date         string         `json:"date"`
	Sales        int64          `json:"sales"`
	Expenses     int64          `json:"expenses"`
	NetIncome    int64          `json:"net_income"`
	Transactions []entryPayload `json:"transactions"`
}

type typeSummaryPayload struct {
	Count int   `json:"count"`
	Total int64 `json:"total"`
}

type monthlySummaryResponse struct {
	Year          int                           `json:"year"`
	Month         int                           `json:"month"`
	TotalSales    int64                         `json:"total_sales"`
	TotalExpenses int64                         `json:"total_expenses"`
	NetIncome     int64                         `json:"net_income"`
	ByType        map[string]typeSummaryPayload `json:"by_type"`
}

type balanceResponse struct {
	BalanceCny float64 `json:"balance_cny"`
	BalanceKrw float64 `json:"balance_krw"`
}

func buildEntryPayload(entry domain.CashbookEntry) entryPayload {
	return entryPayload{
		ID:         entry.ID,
		Type:       string(entry.Type),
		Amount:     entry.Amount,
		Currency:   string(entry.Currency),
		FxRate:     entry.FxRate,
		AmountHome: entry.AmountHome,
		RefType:    entry.RefType,
		RefID:      entry.RefID,
		Note:       entry.Note,
		Date:       formatTime(entry.Date),
		CreatedAt:  formatTime(entry.CreatedAt),
	}
}

func parseDateParam(value string) (time.Time, error) {
	if ts, err := parseTimeParam(value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(dateOnlyLayout, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, errors.New("must be RFC3339 timestamp or YYYY-MM-DD date")
}

func writeCashbookError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCashbookInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCashbookEntryNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("entry_not_found", "cashbook entry not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cashbook_error", "failed to process cashbook request", http.StatusInternalServerError))
	}
}
