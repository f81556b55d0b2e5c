package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Currency enumerates the currencies the cashbook accepts.
type Currency string

const (
	// CurrencyCNY is the purchasing currency (Chinese yuan).
	CurrencyCNY Currency = "CNY"
	// CurrencyKRW is the home currency (Korean won); all aggregates resolve to it.
	CurrencyKRW Currency = "KRW"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order exists but payment has not been confirmed.
	// New orders are created directly in paid status; pending only appears on imported rows.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates payment is confirmed and stock has been deducted.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped indicates the parcel has been handed to a courier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the parcel reached the customer.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusRefunded indicates the order was refunded. Terminal.
	OrderStatusRefunded OrderStatus = "refunded"
	// OrderStatusCancelled indicates the order was cancelled before shipment. Terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Customer captures the buyer fields required on cross-border parcels.
type Customer struct {
	Name  string
	Phone string
	// PCCC is the Korean personal customs clearance code (P + 11 digits).
	PCCC string
}

// OrderItem is a single line of an order. Subtotal is UnitPrice * Quantity in KRW.
type OrderItem struct {
	ProductID string
	SKU       string
	Name      string
	Quantity  int
	UnitPrice int64
	Subtotal  int64
}

// Order is the aggregate root for a customer order. The order exclusively owns
// its items; products are referenced by id only.
type Order struct {
	ID             string
	OrderNumber    string
	Status         OrderStatus
	Items          []OrderItem
	TotalAmount    int64
	ShippingFee    int64
	Customer       Customer
	CourierCompany string
	TrackingNumber string
	RefundReason   string
	CancelReason   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PaidAt         *time.Time
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
	RefundedAt     *time.Time
	CancelledAt    *time.Time
}

// TotalItems returns the summed quantity across all lines.
func (o Order) TotalItems() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}

// Terminal reports whether the order can no longer transition.
func (o Order) Terminal() bool {
	return o.Status == OrderStatusRefunded || o.Status == OrderStatusCancelled
}

// Product is a sellable item with its stock level and alert threshold.
type Product struct {
	ID                string
	SKU               string
	Name              string
	OnHand            int
	LowStockThreshold int
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// LowOnStock reports whether the product sits at or below its alert threshold.
func (p Product) LowOnStock() bool {
	return p.OnHand <= p.LowStockThreshold
}

// MovementType enumerates the causes of a stock change.
type MovementType string

const (
	// MovementInbound records stock arriving from a supplier.
	MovementInbound MovementType = "inbound"
	// MovementSale records stock leaving for a customer order.
	MovementSale MovementType = "sale"
	// MovementAdjustment records a manual correction.
	MovementAdjustment MovementType = "adjustment"
	// MovementDisposal records damaged or lost stock written off.
	MovementDisposal MovementType = "disposal"
	// MovementReturn records stock coming back from a refund or cancellation.
	MovementReturn MovementType = "return"
)

// InventoryMovement is an append-only audit record of one stock change.
// Replaying all movements for a product in creation order reconstructs OnHand.
type InventoryMovement struct {
	ID            string
	ProductID     string
	Type          MovementType
	Quantity      int
	BalanceBefore int
	BalanceAfter  int
	RefType       string
	RefID         string
	Note          string
	CreatedAt     time.Time
}

// EntryType enumerates cashbook entry categories.
type EntryType string

const (
	// EntrySale is revenue from a customer order. Positive.
	EntrySale EntryType = "sale"
	// EntryInbound is a purchase of goods from a supplier. Negative.
	EntryInbound EntryType = "inbound"
	// EntryShipping is a courier or freight expense. Negative.
	EntryShipping EntryType = "shipping"
	// EntryAdjustment is a manual correction, sign chosen by the caller.
	EntryAdjustment EntryType = "adjustment"
	// EntryRefund is money returned to a customer. Negative.
	EntryRefund EntryType = "refund"
)

// CashbookEntry is one immutable ledger row. Amount carries the sign
// (income positive, expense negative) in the entry's own currency;
// AmountHome is the KRW equivalent at the rate recorded at write time.
type CashbookEntry struct {
	ID         string
	Type       EntryType
	Amount     float64
	Currency   Currency
	FxRate     float64
	AmountHome int64
	RefType    string
	RefID      string
	Note       string
	Date       time.Time
	CreatedAt  time.Time
}

// HealthStatus grades a dependency probe result.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// SystemHealthCheck reports the outcome of a single dependency probe.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates every probe into one readiness verdict.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}

// EventLogEntry is one append-only audit trail row for a lifecycle transition
// or ledger mutation. Failures writing these are logged and never surfaced.
type EventLogEntry struct {
	ID         string
	Actor      string
	Action     string
	RefType    string
	RefID      string
	FromStatus string
	ToStatus   string
	Note       string
	CreatedAt  time.Time
}
