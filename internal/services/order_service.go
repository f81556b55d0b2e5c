package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/daigou-ops/backoffice/internal/domain"
	"github.com/daigou-ops/backoffice/internal/repositories"
)

const (
	orderEventCreated   = "order.created"
	orderEventShipped   = "order.shipped"
	orderEventCompleted = "order.completed"
	orderEventRefunded  = "order.refunded"
	orderEventCancelled = "order.cancelled"

	// allocateAttempts bounds retries when a concurrently claimed number
	// collides in the repository's uniqueness index.
	allocateAttempts = 5
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderInsufficientStock indicates stock validation blocked order creation.
	ErrOrderInsufficientStock = errors.New("order: insufficient stock")
	// ErrOrderNumberExhausted indicates allocation kept colliding with
	// concurrently claimed numbers.
	ErrOrderNumberExhausted = errors.New("order: could not allocate a unique order number")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:   {domain.OrderStatusPaid, domain.OrderStatusCancelled},
	domain.OrderStatusPaid:      {domain.OrderStatusShipped, domain.OrderStatusRefunded, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:   {domain.OrderStatusDelivered, domain.OrderStatusRefunded},
	domain.OrderStatusDelivered: {domain.OrderStatusRefunded},
	domain.OrderStatusRefunded:  {},
	domain.OrderStatusCancelled: {},
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Numbers     OrderNumberService
	Inventory   InventoryService
	Cashbook    CashbookService
	Audit       AuditLogService
	Events      OrderEventPublisher
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders    repositories.OrderRepository
	numbers   OrderNumberService
	inventory InventoryService
	cashbook  CashbookService
	audit     AuditLogService
	events    OrderEventPublisher
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Numbers == nil {
		return nil, errors.New("order service: order number service is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Cashbook == nil {
		return nil, errors.New("order service: cashbook service is required")
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

	return &orderService{
		orders:    deps.Orders,
		numbers:   deps.Numbers,
		inventory: deps.Inventory,
		cashbook:  deps.Cashbook,
		audit:     deps.Audit,
		events:    deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// Create allocates a number, deducts stock, records the sale, and persists
// the order directly in paid status. Stock validation failing means no side
// effect at all; a persistence failure after deduction restores the stock.
func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	items, total, err := buildOrderItems(cmd.Items)
	if err != nil {
		return Order{}, err
	}
	if err := validateCustomer(cmd.Customer); err != nil {
		return Order{}, err
	}
	if cmd.ShippingFee < 0 {
		return Order{}, fmt.Errorf("%w: shipping fee must be >= 0", ErrOrderInvalidInput)
	}

	now := s.clock()
	// The ID is minted up front so every inventory movement the deduction
	// writes references the order it was deducted for.
	orderID := s.newID()
	lines := stockLinesFor(items)

	deduction, err := s.inventory.DeductStock(ctx, StockDeductCommand{
		Lines:   lines,
		RefType: "order",
		RefID:   orderID,
		Actor:   cmd.Actor,
	})
	if err != nil {
		return Order{}, err
	}
	if !deduction.Success {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderInsufficientStock, deduction.Message)
	}

	// Denormalise SKU and name onto the line so the order stays readable
	// after the product changes.
	for i := range items {
		if product, perr := s.inventory.GetProduct(ctx, items[i].ProductID); perr == nil {
			items[i].SKU = product.SKU
			items[i].Name = product.Name
		}
	}

	order := Order{
		ID:          orderID,
		Status:      domain.OrderStatusPaid,
		Items:       items,
		TotalAmount: total + cmd.ShippingFee,
		ShippingFee: cmd.ShippingFee,
		Customer:    cmd.Customer,
		CreatedAt:   now,
		UpdatedAt:   now,
		PaidAt:      &now,
	}

	if err := s.insertWithUniqueNumber(ctx, &order); err != nil {
		s.restoreAfterFailure(ctx, lines, order.ID, "order creation failed", cmd.Actor)
		return Order{}, err
	}

	s.recordSaleEntry(ctx, order, now)

	s.recordAudit(ctx, AuditRecord{
		Actor:      cmd.Actor,
		Action:     orderEventCreated,
		RefType:    "order",
		RefID:      order.ID,
		ToStatus:   string(order.Status),
		OccurredAt: now,
	})
	s.publishEvent(ctx, order, "", cmd.Actor, now)

	return order, nil
}

func (s *orderService) Get(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) GetByNumber(ctx context.Context, number string) (Order, error) {
	number = strings.TrimSpace(number)
	if !s.numbers.Validate(number) {
		return Order{}, fmt.Errorf("%w: malformed order number %q", ErrOrderInvalidInput, number)
	}

	order, err := s.orders.FindByNumber(ctx, number)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) Ship(ctx context.Context, cmd ShipOrderCommand) (Order, error) {
	courier := strings.TrimSpace(cmd.CourierCompany)
	tracking := strings.TrimSpace(cmd.TrackingNumber)
	if courier == "" {
		return Order{}, fmt.Errorf("%w: courier company is required", ErrOrderInvalidInput)
	}
	if tracking == "" {
		return Order{}, fmt.Errorf("%w: tracking number is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	return s.transition(ctx, cmd.OrderID, domain.OrderStatusShipped, cmd.Actor, orderEventShipped, func(current Order) (repositories.OrderStatusUpdate, error) {
		return repositories.OrderStatusUpdate{
			Status:         domain.OrderStatusShipped,
			ExpectedStatus: current.Status,
			ShippedAt:      &now,
			CourierCompany: &courier,
			TrackingNumber: &tracking,
			UpdatedAt:      now,
		}, nil
	})
}

func (s *orderService) Complete(ctx context.Context, cmd CompleteOrderCommand) (Order, error) {
	now := s.clock()
	return s.transition(ctx, cmd.OrderID, domain.OrderStatusDelivered, cmd.Actor, orderEventCompleted, func(current Order) (repositories.OrderStatusUpdate, error) {
		return repositories.OrderStatusUpdate{
			Status:         domain.OrderStatusDelivered,
			ExpectedStatus: current.Status,
			DeliveredAt:    &now,
			UpdatedAt:      now,
		}, nil
	})
}

// Refund transitions to refunded, appends a negative refund ledger entry, and
// restores stock only when the goods had not yet shipped.
func (s *orderService) Refund(ctx context.Context, cmd RefundOrderCommand) (Order, error) {
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: refund reason is required", ErrOrderInvalidInput)
	}

	now := s.clock()
	var wasPaid bool
	order, err := s.transition(ctx, cmd.OrderID, domain.OrderStatusRefunded, cmd.Actor, orderEventRefunded, func(current Order) (repositories.OrderStatusUpdate, error) {
		wasPaid = current.Status == domain.OrderStatusPaid
		return repositories.OrderStatusUpdate{
			Status:         domain.OrderStatusRefunded,
			ExpectedStatus: current.Status,
			RefundedAt:     &now,
			RefundReason:   &reason,
			UpdatedAt:      now,
		}, nil
	})
	if err != nil {
		return Order{}, err
	}

	// Goods already left the warehouse once shipped; only paid-but-unshipped
	// refunds return stock.
	if wasPaid {
		if err := s.inventory.RestoreStock(ctx, StockRestoreCommand{
			Lines:   stockLinesFor(order.Items),
			RefType: "order",
			RefID:   order.ID,
			Note:    "refund",
			Actor:   cmd.Actor,
		}); err != nil {
			s.logger(ctx, "order.refund_restore_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
		}
	}

	result, rerr := s.cashbook.RecordRefund(ctx, RecordExpenseCommand{
		Amount:   float64(order.TotalAmount),
		Currency: domain.CurrencyKRW,
		RefType:  "order",
		RefID:    order.ID,
		Note:     reason,
		Date:     now,
	})
	if rerr != nil || !result.Success {
		s.logger(ctx, "order.refund_entry_failed", map[string]any{
			"orderId": order.ID,
			"message": result.Message,
		})
	}

	return order, nil
}

// Cancel transitions to cancelled and restores any deducted stock
// unconditionally.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	reason := strings.TrimSpace(cmd.Reason)
	now := s.clock()

	order, err := s.transition(ctx, cmd.OrderID, domain.OrderStatusCancelled, cmd.Actor, orderEventCancelled, func(current Order) (repositories.OrderStatusUpdate, error) {
		update := repositories.OrderStatusUpdate{
			Status:         domain.OrderStatusCancelled,
			ExpectedStatus: current.Status,
			CancelledAt:    &now,
			UpdatedAt:      now,
		}
		if reason != "" {
			update.CancelReason = &reason
		}
		return update, nil
	})
	if err != nil {
		return Order{}, err
	}

	if err := s.inventory.RestoreStock(ctx, StockRestoreCommand{
		Lines:   stockLinesFor(order.Items),
		RefType: "order",
		RefID:   order.ID,
		Note:    "cancellation",
		Actor:   cmd.Actor,
	}); err != nil {
		s.logger(ctx, "order.cancel_restore_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}

	return order, nil
}

func (s *orderService) History(ctx context.Context, orderID string, pager Pagination) (domain.CursorPage[EventLogEntry], error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.CursorPage[EventLogEntry]{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if s.audit == nil {
		return domain.CursorPage[EventLogEntry]{}, nil
	}
	return s.audit.ListByRef(ctx, "order", orderID, pager)
}

// transition loads the order, checks the state machine, and applies the
// update with the loaded status as precondition so a concurrent transition
// surfaces as a conflict instead of silently winning.
func (s *orderService) transition(ctx context.Context, orderID string, target domain.OrderStatus, actor, event string, build func(current Order) (repositories.OrderStatusUpdate, error)) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	current, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if !transitionAllowed(current.Status, target) {
		return Order{}, fmt.Errorf("%w: cannot move order %s from %s to %s", ErrOrderInvalidState, orderID, current.Status, target)
	}

	update, err := build(current)
	if err != nil {
		return Order{}, err
	}

	updated, err := s.orders.UpdateStatus(ctx, orderID, update)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.recordAudit(ctx, AuditRecord{
		Actor:      actor,
		Action:     event,
		RefType:    "order",
		RefID:      orderID,
		FromStatus: string(current.Status),
		ToStatus:   string(target),
		OccurredAt: update.UpdatedAt,
	})
	s.publishEvent(ctx, updated, string(current.Status), actor, update.UpdatedAt)

	return updated, nil
}

// insertWithUniqueNumber allocates against the repository's view of today's
// claimed numbers and retries on an index collision from a concurrent writer.
func (s *orderService) insertWithUniqueNumber(ctx context.Context, order *Order) error {
	dayKey := s.numbers.DayKey(s.clock())

	for attempt := 0; attempt < allocateAttempts; attempt++ {
		existing, err := s.orders.ListNumbersForDay(ctx, dayKey)
		if err != nil {
			return s.mapRepositoryError(err)
		}

		number, err := s.numbers.Allocate(existing)
		if err != nil {
			return err
		}
		order.OrderNumber = number

		err = s.orders.Insert(ctx, *order)
		if err == nil {
			return nil
		}

		var orderErr *repositories.OrderError
		if errors.As(err, &orderErr) && orderErr.Code == repositories.OrderErrorNumberTaken {
			s.logger(ctx, "order.number_collision", map[string]any{
				"orderNumber": order.OrderNumber,
				"attempt":     attempt + 1,
			})
			continue
		}
		return s.mapRepositoryError(err)
	}
	return ErrOrderNumberExhausted
}

func (s *orderService) restoreAfterFailure(ctx context.Context, lines []StockLine, orderID, note, actor string) {
	if err := s.inventory.RestoreStock(ctx, StockRestoreCommand{
		Lines:   lines,
		RefType: "order",
		RefID:   orderID,
		Note:    note,
		Actor:   actor,
	}); err != nil {
		s.logger(ctx, "order.create_compensation_failed", map[string]any{
			"orderId": orderID,
			"error":   err.Error(),
		})
	}
}

// recordSaleEntry appends the sale row for a created order. A ledger failure
// is logged, not surfaced; the order's persisted status is the source of
// truth and the ledger can be reconciled from it.
func (s *orderService) recordSaleEntry(ctx context.Context, order Order, now time.Time) {
	result, err := s.cashbook.RecordSale(ctx, RecordSaleCommand{
		Amount:   float64(order.TotalAmount),
		Currency: domain.CurrencyKRW,
		OrderID:  order.ID,
		Note:     order.OrderNumber,
		Date:     now,
	})
	if err != nil || !result.Success {
		s.logger(ctx, "order.sale_entry_failed", map[string]any{
			"orderId": order.ID,
			"message": result.Message,
		})
	}
}

func (s *orderService) recordAudit(ctx context.Context, record AuditRecord) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, record)
}

func (s *orderService) publishEvent(ctx context.Context, order Order, fromStatus, actor string, occurredAt time.Time) {
	if s.events == nil {
		return
	}
	if _, err := s.events.PublishOrderEvent(ctx, OrderEventMessage{
		EventID:     s.newID(),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		FromStatus:  fromStatus,
		ToStatus:    string(order.Status),
		Actor:       actor,
		OccurredAt:  occurredAt,
	}); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		switch orderErr.Code {
		case repositories.OrderErrorNotFound:
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderErr.Message)
		case repositories.OrderErrorStaleStatus:
			return fmt.Errorf("%w: %s", ErrOrderInvalidState, orderErr.Message)
		}
	}
	return err
}

func transitionAllowed(from, to domain.OrderStatus) bool {
	for _, allowed := range orderStateTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func buildOrderItems(inputs []CreateOrderItemInput) ([]OrderItem, int64, error) {
	if len(inputs) == 0 {
		return nil, 0, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}

	items := make([]OrderItem, 0, len(inputs))
	var total int64
	for _, input := range inputs {
		productID := strings.TrimSpace(input.ProductID)
		if productID == "" {
			return nil, 0, fmt.Errorf("%w: item product id is required", ErrOrderInvalidInput)
		}
		if input.Quantity <= 0 {
			return nil, 0, fmt.Errorf("%w: quantity for %s must be positive", ErrOrderInvalidInput, productID)
		}
		if input.UnitPrice < 0 {
			return nil, 0, fmt.Errorf("%w: unit price for %s must be >= 0", ErrOrderInvalidInput, productID)
		}

		subtotal := input.UnitPrice * int64(input.Quantity)
		items = append(items, OrderItem{
			ProductID: productID,
			Quantity:  input.Quantity,
			UnitPrice: input.UnitPrice,
			Subtotal:  subtotal,
		})
		total += subtotal
	}
	return items, total, nil
}

func validateCustomer(customer Customer) error {
	if strings.TrimSpace(customer.Name) == "" {
		return fmt.Errorf("%w: customer name is required", ErrOrderInvalidInput)
	}
	return nil
}

func stockLinesFor(items []OrderItem) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, StockLine{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}
