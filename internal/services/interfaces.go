package services

import (
	"context"
	"time"

	domain "github.com/daigou-ops/backoffice/internal/domain"
	"github.com/daigou-ops/backoffice/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination        = domain.Pagination
	Currency          = domain.Currency
	Order             = domain.Order
	OrderItem         = domain.OrderItem
	OrderStatus       = domain.OrderStatus
	Customer          = domain.Customer
	Product           = domain.Product
	InventoryMovement = domain.InventoryMovement
	MovementType      = domain.MovementType
	CashbookEntry     = domain.CashbookEntry
	EntryType         = domain.EntryType
	EventLogEntry     = domain.EventLogEntry
)

// OrderNumberService allocates and validates daily-sequenced order numbers.
// Allocation is purely computational; persistence-level uniqueness is the
// order repository's concern and callers retry allocation on a conflict.
type OrderNumberService interface {
	// Allocate returns the next number for today (KST), reconciling against
	// numbers the caller already knows to be claimed for today. It fails
	// with ErrOrderNumberExhausted once the day's sequence space is spent.
	Allocate(existingToday []string) (string, error)
	// Validate reports whether the value is a well-formed order number with a
	// real calendar date.
	Validate(number string) bool
	// Parse decomposes a valid number into its date (KST midnight) and sequence.
	Parse(number string) (OrderNumberParts, bool)
	// DayKey renders the YYMMDD key for the given instant in KST.
	DayKey(at time.Time) string
	// Reset clears all in-memory counters.
	Reset()
}

// OrderNumberParts is the decomposed form of an order number.
type OrderNumberParts struct {
	Prefix   string
	Date     time.Time
	Sequence int
}

// InventoryService centralises stock reads, deduction, restoration, and
// adjustment plus the low-stock alerting that follows decreases.
type InventoryService interface {
	CheckStock(ctx context.Context, productID string, required int) (StockCheckResult, error)
	ValidateStock(ctx context.Context, items []StockLine) (StockValidationResult, error)
	DeductStock(ctx context.Context, cmd StockDeductCommand) (StockDeductResult, error)
	RestoreStock(ctx context.Context, cmd StockRestoreCommand) error
	AdjustStock(ctx context.Context, cmd StockAdjustCommand) (StockAdjustResult, error)
	ReceiveStock(ctx context.Context, cmd StockReceiveCommand) (StockAdjustResult, error)
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	GetProductBySKU(ctx context.Context, sku string) (Product, error)
	ListProducts(ctx context.Context, pager Pagination) (domain.CursorPage[Product], error)
	ListLowStock(ctx context.Context, pager Pagination) (domain.CursorPage[Product], error)
	ListMovements(ctx context.Context, productID string, filter repositories.MovementListFilter) (domain.CursorPage[InventoryMovement], error)
}

// CashbookService appends signed ledger entries with home-currency conversion
// and answers summary questions by replaying entries.
type CashbookService interface {
	RecordTransaction(ctx context.Context, cmd RecordEntryCommand) (RecordEntryResult, error)
	RecordSale(ctx context.Context, cmd RecordSaleCommand) (RecordEntryResult, error)
	RecordInbound(ctx context.Context, cmd RecordExpenseCommand) (RecordEntryResult, error)
	RecordShipping(ctx context.Context, cmd RecordExpenseCommand) (RecordEntryResult, error)
	RecordRefund(ctx context.Context, cmd RecordExpenseCommand) (RecordEntryResult, error)
	RecordAdjustment(ctx context.Context, cmd RecordEntryCommand) (RecordEntryResult, error)
	ExchangeRate(from, to Currency) float64
	// FormatHome renders a home-currency amount for human-facing messages.
	FormatHome(amount int64) string
	GetDailySummary(ctx context.Context, date time.Time) DailySummary
	GetMonthlySummary(ctx context.Context, year int, month time.Month) MonthlySummary
	GetBalance(ctx context.Context, until *time.Time) Balance
	ListEntries(ctx context.Context, filter repositories.EntryListFilter) (domain.CursorPage[CashbookEntry], error)
	GetEntry(ctx context.Context, entryID string) (CashbookEntry, error)
	ListEntriesByRef(ctx context.Context, refType, refID string) ([]CashbookEntry, error)
}

// OrderService drives the order lifecycle, composing the allocator, the
// inventory ledger, and the cashbook.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	Get(ctx context.Context, orderID string) (Order, error)
	GetByNumber(ctx context.Context, number string) (Order, error)
	List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[Order], error)
	Ship(ctx context.Context, cmd ShipOrderCommand) (Order, error)
	Complete(ctx context.Context, cmd CompleteOrderCommand) (Order, error)
	Refund(ctx context.Context, cmd RefundOrderCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	History(ctx context.Context, orderID string, pager Pagination) (domain.CursorPage[EventLogEntry], error)
}

// AuditLogService records lifecycle events. Record failures are swallowed and
// logged so business operations never fail on the audit trail.
type AuditLogService interface {
	Record(ctx context.Context, record AuditRecord)
	ListByRef(ctx context.Context, refType, refID string, pager Pagination) (domain.CursorPage[EventLogEntry], error)
}

// OrderEventPublisher publishes order lifecycle notifications for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, message OrderEventMessage) (string, error)
}

// LowStockAlertPublisher publishes low-stock threshold breaches.
type LowStockAlertPublisher interface {
	PublishLowStockAlert(ctx context.Context, message LowStockAlertMessage) (string, error)
}

// OrderEventMessage is the payload published on every order lifecycle transition.
type OrderEventMessage struct {
	EventID     string    `json:"eventId"`
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	FromStatus  string    `json:"fromStatus,omitempty"`
	ToStatus    string    `json:"toStatus"`
	Actor       string    `json:"actor,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// LowStockAlertMessage is the payload published when a decrease leaves a
// product at or below its threshold.
type LowStockAlertMessage struct {
	ProductID  string    `json:"productId"`
	SKU        string    `json:"sku"`
	Name       string    `json:"name"`
	OnHand     int       `json:"onHand"`
	Threshold  int       `json:"threshold"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Command and result definitions ---------------------------------------------

// StockLine pairs a product with a quantity for multi-item stock operations.
type StockLine struct {
	ProductID string
	Quantity  int
}

// StockCheckResult answers a single-product availability question.
type StockCheckResult struct {
	Available    bool
	CurrentStock int
	Message      string
}

// StockLineError names one failed line in a multi-item validation.
type StockLineError struct {
	ProductID string
	Requested int
	OnHand    int
	Message   string
}

// StockValidationResult aggregates per-line checks; Valid is true when no line failed.
type StockValidationResult struct {
	Valid   bool
	Errors  []StockLineError
	Details []StockCheckResult
}

type StockDeductCommand struct {
	Lines   []StockLine
	RefType string
	RefID   string
	Actor   string
}

// StockDeductResult reports the balances after a successful deduction, or a
// message describing why nothing was deducted.
type StockDeductResult struct {
	Success bool
	Updated []repositories.StockChangeResult
	Message string
}

type StockRestoreCommand struct {
	Lines   []StockLine
	RefType string
	RefID   string
	Note    string
	Actor   string
}

type StockAdjustCommand struct {
	ProductID string
	Delta     int
	Reason    string
	Actor     string
}

type StockReceiveCommand struct {
	ProductID string
	Quantity  int
	RefID     string
	Note      string
	Actor     string
}

// StockAdjustResult reports the before/after balances of a manual mutation.
type StockAdjustResult struct {
	Success       bool
	PreviousStock int
	NewStock      int
}

type CreateProductCommand struct {
	SKU               string
	Name              string
	InitialStock      int
	LowStockThreshold *int
	Actor             string
}

type UpdateProductCommand struct {
	ProductID         string
	Name              *string
	LowStockThreshold *int
	Active            *bool
	Actor             string
}

type RecordEntryCommand struct {
	Type     EntryType
	Amount   float64
	Currency Currency
	RefType  string
	RefID    string
	Note     string
	Date     time.Time
}

type RecordSaleCommand struct {
	Amount   float64
	Currency Currency
	OrderID  string
	Note     string
	Date     time.Time
}

// RecordExpenseCommand carries a positive magnitude; the service applies the
// negative sign for inbound/shipping/refund entries.
type RecordExpenseCommand struct {
	Amount   float64
	Currency Currency
	RefType  string
	RefID    string
	Note     string
	Date     time.Time
}

// RecordEntryResult reports the appended entry, or a message on failure.
type RecordEntryResult struct {
	Success bool
	Entry   CashbookEntry
	Message string
}

// DailySummary aggregates one calendar day of ledger activity in the home currency.
type DailySummary struct {
	Date         time.Time
	Sales        int64
	Expenses     int64
	NetIncome    int64
	Transactions []CashbookEntry
}

// TypeSummary is the per-type slice of a monthly summary.
type TypeSummary struct {
	Count int
	Total int64
}

// MonthlySummary aggregates one calendar month in the home currency.
type MonthlySummary struct {
	Year          int
	Month         time.Month
	TotalSales    int64
	TotalExpenses int64
	NetIncome     int64
	ByType        map[EntryType]TypeSummary
}

// Balance reports cumulative ledger positions: raw CNY flow and the
// home-currency total across every entry.
type Balance struct {
	BalanceCny float64
	BalanceKrw float64
}

type CreateOrderItemInput struct {
	ProductID string
	Quantity  int
	UnitPrice int64
}

type CreateOrderCommand struct {
	Items       []CreateOrderItemInput
	ShippingFee int64
	Customer    Customer
	Actor       string
}

type ShipOrderCommand struct {
	OrderID        string
	CourierCompany string
	TrackingNumber string
	Actor          string
}

type CompleteOrderCommand struct {
	OrderID string
	Actor   string
}

type RefundOrderCommand struct {
	OrderID string
	Reason  string
	Actor   string
}

type CancelOrderCommand struct {
	OrderID string
	Reason  string
	Actor   string
}

// AuditRecord is the payload accepted by the audit writer.
type AuditRecord struct {
	Actor      string
	Action     string
	RefType    string
	RefID      string
	FromStatus string
	ToStatus   string
	Note       string
	OccurredAt time.Time
}
