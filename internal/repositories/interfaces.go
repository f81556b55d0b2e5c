package repositories

import (
	"context"
	"time"

	domain "github.com/daigou-ops/backoffice/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Orders() OrderRepository
	Cashbook() CashbookRepository
	EventLogs() EventLogRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// StockChange describes a single stock mutation applied together with its
// ledger movement. BalanceBefore/BalanceAfter on the movement are filled in
// by the repository from the state observed inside the transaction.
type StockChange struct {
	ProductID string
	Delta     int
	Movement  domain.InventoryMovement
	// ClampAtZero forces the resulting balance to zero instead of failing
	// when the delta would drive it negative.
	ClampAtZero bool
}

// StockChangeResult reports the balances surrounding an applied change.
type StockChangeResult struct {
	ProductID     string
	BalanceBefore int
	BalanceAfter  int
	LowOnStock    bool
}

// MovementListFilter narrows movement ledger queries.
type MovementListFilter struct {
	Pager domain.Pagination
	Type  domain.MovementType
	From  *time.Time
	To    *time.Time
}

// ProductRepository manages product catalogue entries, stock balances, and the movement ledger.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindBySKU(ctx context.Context, sku string) (domain.Product, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error)
	// ApplyStockChange mutates the balance and appends the movement in one transaction.
	ApplyStockChange(ctx context.Context, change StockChange) (StockChangeResult, error)
	ListLowStock(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error)
	ListMovements(ctx context.Context, productID string, filter MovementListFilter) (domain.CursorPage[domain.InventoryMovement], error)
}

// OrderListFilter narrows order list queries.
type OrderListFilter struct {
	Pager  domain.Pagination
	Status domain.OrderStatus
	From   *time.Time
	To     *time.Time
}

// OrderStatusUpdate carries the fields mutated during a lifecycle transition.
type OrderStatusUpdate struct {
	Status         domain.OrderStatus
	ExpectedStatus domain.OrderStatus
	PaidAt         *time.Time
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	RefundedAt     *time.Time
	CancelledAt    *time.Time
	CourierCompany *string
	TrackingNumber *string
	RefundReason   *string
	CancelReason   *string
	UpdatedAt      time.Time
}

// OrderRepository persists orders and enforces order-number uniqueness.
type OrderRepository interface {
	// Insert stores the order and claims its number atomically. A taken
	// number surfaces as OrderErrorNumberTaken.
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	// UpdateStatus applies the transition only when the stored status still
	// matches ExpectedStatus; otherwise OrderErrorStaleStatus is returned.
	UpdateStatus(ctx context.Context, orderID string, update OrderStatusUpdate) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// ListNumbersForDay returns every order number claimed for the given
	// KST day key (YYMMDD), used to rebuild the sequence state after restart.
	ListNumbersForDay(ctx context.Context, dayKey string) ([]string, error)
}

// EntryListFilter narrows cashbook ledger queries.
type EntryListFilter struct {
	Pager domain.Pagination
	Type  domain.EntryType
	From  *time.Time
	To    *time.Time
}

// CashbookRepository appends to and reads the append-only cashbook ledger.
type CashbookRepository interface {
	Append(ctx context.Context, entry domain.CashbookEntry) error
	FindByID(ctx context.Context, entryID string) (domain.CashbookEntry, error)
	ListByDateRange(ctx context.Context, filter EntryListFilter) (domain.CursorPage[domain.CashbookEntry], error)
	ListByRef(ctx context.Context, refType, refID string) ([]domain.CashbookEntry, error)
	// SumByCurrency aggregates signed amounts per currency over the whole ledger.
	SumByCurrency(ctx context.Context) (map[domain.Currency]float64, error)
}

// EventLogRepository appends audit trail entries for order lifecycle changes.
type EventLogRepository interface {
	Append(ctx context.Context, entry domain.EventLogEntry) error
	ListByRef(ctx context.Context, refType, refID string, pager domain.Pagination) (domain.CursorPage[domain.EventLogEntry], error)
}

// HealthRepository evaluates downstream connectivity for readiness probes.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
