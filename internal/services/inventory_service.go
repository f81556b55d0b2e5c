package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/daigou-ops/backoffice/internal/domain"
	"github.com/daigou-ops/backoffice/internal/repositories"
)

const defaultLowStockThreshold = 5

var (
	// ErrInventoryInvalidInput signals the caller provided invalid arguments.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInventoryProductNotFound indicates the product could not be located.
	ErrInventoryProductNotFound = errors.New("inventory: product not found")
	// ErrInventoryDuplicateSKU indicates the SKU is already claimed.
	ErrInventoryDuplicateSKU = errors.New("inventory: duplicate sku")
)

// InventoryServiceDeps bundles the collaborators required to construct an inventory service.
type InventoryServiceDeps struct {
	Products          repositories.ProductRepository
	Alerts            LowStockAlertPublisher
	LowStockThreshold int
	Clock             func() time.Time
	IDGenerator       func() string
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	products  repositories.ProductRepository
	alerts    LowStockAlertPublisher
	threshold int
	clock     func() time.Time
	newID     func() string
	logger    func(context.Context, string, map[string]any)
}

// NewInventoryService wires dependencies into a concrete InventoryService implementation.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Products == nil {
		return nil, errors.New("inventory service: product repository is required")
	}

	threshold := deps.LowStockThreshold
	if threshold < 0 {
		return nil, errors.New("inventory service: low stock threshold must be >= 0")
	}
	if threshold == 0 {
		threshold = defaultLowStockThreshold
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

	return &inventoryService{
		products:  deps.Products,
		alerts:    deps.Alerts,
		threshold: threshold,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *inventoryService) CheckStock(ctx context.Context, productID string, required int) (StockCheckResult, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return StockCheckResult{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if required <= 0 {
		return StockCheckResult{}, fmt.Errorf("%w: required quantity must be positive", ErrInventoryInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isProductNotFound(err) {
			return StockCheckResult{Message: fmt.Sprintf("product %s not found", productID)}, nil
		}
		return StockCheckResult{}, err
	}

	result := StockCheckResult{
		Available:    product.OnHand >= required,
		CurrentStock: product.OnHand,
	}
	if !result.Available {
		result.Message = fmt.Sprintf("insufficient stock for %s: requested %d, on hand %d", product.Name, required, product.OnHand)
	}
	return result, nil
}

// ValidateStock checks every line independently and aggregates; it never
// stops at the first failure so the caller can report all shortfalls at once.
func (s *inventoryService) ValidateStock(ctx context.Context, items []StockLine) (StockValidationResult, error) {
	if len(items) == 0 {
		return StockValidationResult{}, fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}

	result := StockValidationResult{Valid: true}
	for _, item := range items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return StockValidationResult{}, fmt.Errorf("%w: line product id is required", ErrInventoryInvalidInput)
		}
		if item.Quantity <= 0 {
			return StockValidationResult{}, fmt.Errorf("%w: quantity for %s must be positive", ErrInventoryInvalidInput, productID)
		}

		check, err := s.CheckStock(ctx, productID, item.Quantity)
		if err != nil {
			return StockValidationResult{}, err
		}
		result.Details = append(result.Details, check)
		if !check.Available {
			result.Valid = false
			result.Errors = append(result.Errors, StockLineError{
				ProductID: productID,
				Requested: item.Quantity,
				OnHand:    check.CurrentStock,
				Message:   check.Message,
			})
		}
	}
	return result, nil
}

// DeductStock validates every line up front, then applies deductions
// sequentially in input order. A mid-batch persistence failure triggers a
// best-effort compensating restore of the lines already deducted before the
// failure is surfaced; the compensation is optimistic, not transactional.
func (s *inventoryService) DeductStock(ctx context.Context, cmd StockDeductCommand) (StockDeductResult, error) {
	validation, err := s.ValidateStock(ctx, cmd.Lines)
	if err != nil {
		return StockDeductResult{}, err
	}
	if !validation.Valid {
		messages := make([]string, 0, len(validation.Errors))
		for _, lineErr := range validation.Errors {
			messages = append(messages, lineErr.Message)
		}
		return StockDeductResult{Message: strings.Join(messages, "; ")}, nil
	}

	now := s.clock()
	applied := make([]repositories.StockChangeResult, 0, len(cmd.Lines))
	for _, line := range cmd.Lines {
		change := repositories.StockChange{
			ProductID: line.ProductID,
			Delta:     -line.Quantity,
			Movement: domain.InventoryMovement{
				ID:        s.newID(),
				Type:      domain.MovementSale,
				Quantity:  -line.Quantity,
				RefType:   strings.TrimSpace(cmd.RefType),
				RefID:     strings.TrimSpace(cmd.RefID),
				CreatedAt: now,
			},
		}

		result, err := s.products.ApplyStockChange(ctx, change)
		if err != nil {
			s.compensateDeduction(ctx, applied, cmd)
			return StockDeductResult{}, fmt.Errorf("deduct stock for %s: %w", line.ProductID, err)
		}
		applied = append(applied, result)

		if result.LowOnStock {
			s.emitLowStockAlert(ctx, line.ProductID, result.BalanceAfter, now)
		}
	}

	return StockDeductResult{Success: true, Updated: applied}, nil
}

// RestoreStock adds quantities back for refund and cancellation flows.
// Restoration is always legal; no pre-flight validation is performed.
func (s *inventoryService) RestoreStock(ctx context.Context, cmd StockRestoreCommand) error {
	if len(cmd.Lines) == 0 {
		return fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}

	now := s.clock()
	for _, line := range cmd.Lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return fmt.Errorf("%w: line product id is required", ErrInventoryInvalidInput)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: quantity for %s must be positive", ErrInventoryInvalidInput, productID)
		}

		change := repositories.StockChange{
			ProductID: productID,
			Delta:     line.Quantity,
			Movement: domain.InventoryMovement{
				ID:        s.newID(),
				Type:      domain.MovementReturn,
				Quantity:  line.Quantity,
				RefType:   strings.TrimSpace(cmd.RefType),
				RefID:     strings.TrimSpace(cmd.RefID),
				Note:      strings.TrimSpace(cmd.Note),
				CreatedAt: now,
			},
		}
		if _, err := s.products.ApplyStockChange(ctx, change); err != nil {
			return fmt.Errorf("restore stock for %s: %w", productID, err)
		}
	}
	return nil
}

// AdjustStock applies a signed manual correction, clamping the result at
// zero. An adjustment can never drive stock negative, however large the
// negative delta.
func (s *inventoryService) AdjustStock(ctx context.Context, cmd StockAdjustCommand) (StockAdjustResult, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return StockAdjustResult{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if cmd.Delta == 0 {
		return StockAdjustResult{}, fmt.Errorf("%w: delta must be non-zero", ErrInventoryInvalidInput)
	}

	now := s.clock()
	change := repositories.StockChange{
		ProductID:   productID,
		Delta:       cmd.Delta,
		ClampAtZero: true,
		Movement: domain.InventoryMovement{
			ID:        s.newID(),
			Type:      domain.MovementAdjustment,
			Quantity:  cmd.Delta,
			RefType:   "adjustment",
			Note:      strings.TrimSpace(cmd.Reason),
			CreatedAt: now,
		},
	}

	result, err := s.products.ApplyStockChange(ctx, change)
	if err != nil {
		if isProductNotFound(err) {
			return StockAdjustResult{}, fmt.Errorf("%w: %s", ErrInventoryProductNotFound, productID)
		}
		return StockAdjustResult{}, err
	}

	if cmd.Delta < 0 && result.LowOnStock {
		s.emitLowStockAlert(ctx, productID, result.BalanceAfter, now)
	}

	return StockAdjustResult{
		Success:       true,
		PreviousStock: result.BalanceBefore,
		NewStock:      result.BalanceAfter,
	}, nil
}

// ReceiveStock records an inbound delivery from a supplier.
func (s *inventoryService) ReceiveStock(ctx context.Context, cmd StockReceiveCommand) (StockAdjustResult, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return StockAdjustResult{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return StockAdjustResult{}, fmt.Errorf("%w: quantity must be positive", ErrInventoryInvalidInput)
	}

	change := repositories.StockChange{
		ProductID: productID,
		Delta:     cmd.Quantity,
		Movement: domain.InventoryMovement{
			ID:        s.newID(),
			Type:      domain.MovementInbound,
			Quantity:  cmd.Quantity,
			RefType:   "inbound",
			RefID:     strings.TrimSpace(cmd.RefID),
			Note:      strings.TrimSpace(cmd.Note),
			CreatedAt: s.clock(),
		},
	}

	result, err := s.products.ApplyStockChange(ctx, change)
	if err != nil {
		if isProductNotFound(err) {
			return StockAdjustResult{}, fmt.Errorf("%w: %s", ErrInventoryProductNotFound, productID)
		}
		return StockAdjustResult{}, err
	}

	return StockAdjustResult{
		Success:       true,
		PreviousStock: result.BalanceBefore,
		NewStock:      result.BalanceAfter,
	}, nil
}

func (s *inventoryService) CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error) {
	sku := strings.TrimSpace(cmd.SKU)
	if sku == "" {
		return Product{}, fmt.Errorf("%w: sku is required", ErrInventoryInvalidInput)
	}
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return Product{}, fmt.Errorf("%w: name is required", ErrInventoryInvalidInput)
	}
	if cmd.InitialStock < 0 {
		return Product{}, fmt.Errorf("%w: initial stock must be >= 0", ErrInventoryInvalidInput)
	}

	threshold := s.threshold
	if cmd.LowStockThreshold != nil {
		if *cmd.LowStockThreshold < 0 {
			return Product{}, fmt.Errorf("%w: low stock threshold must be >= 0", ErrInventoryInvalidInput)
		}
		threshold = *cmd.LowStockThreshold
	}

	now := s.clock()
	product := Product{
		ID:                s.newID(),
		SKU:               sku,
		Name:              name,
		LowStockThreshold: threshold,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.products.Insert(ctx, product); err != nil {
		var invErr *repositories.InventoryError
		if errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorDuplicateSKU {
			return Product{}, fmt.Errorf("%w: %s", ErrInventoryDuplicateSKU, sku)
		}
		return Product{}, err
	}

	// The opening balance goes through the ledger so that replaying the
	// movement trail reconstructs OnHand from zero.
	if cmd.InitialStock > 0 {
		change := repositories.StockChange{
			ProductID: product.ID,
			Delta:     cmd.InitialStock,
			Movement: domain.InventoryMovement{
				ID:        s.newID(),
				Type:      domain.MovementInbound,
				Quantity:  cmd.InitialStock,
				RefType:   "product",
				RefID:     product.ID,
				Note:      "initial stock",
				CreatedAt: now,
			},
		}
		result, err := s.products.ApplyStockChange(ctx, change)
		if err != nil {
			return Product{}, fmt.Errorf("record initial stock for %s: %w", product.ID, err)
		}
		product.OnHand = result.BalanceAfter
	}

	return product, nil
}

func (s *inventoryService) UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isProductNotFound(err) {
			return Product{}, fmt.Errorf("%w: %s", ErrInventoryProductNotFound, productID)
		}
		return Product{}, err
	}

	if cmd.Name != nil {
		name := strings.TrimSpace(*cmd.Name)
		if name == "" {
			return Product{}, fmt.Errorf("%w: name cannot be empty", ErrInventoryInvalidInput)
		}
		product.Name = name
	}
	if cmd.LowStockThreshold != nil {
		if *cmd.LowStockThreshold < 0 {
			return Product{}, fmt.Errorf("%w: low stock threshold must be >= 0", ErrInventoryInvalidInput)
		}
		product.LowStockThreshold = *cmd.LowStockThreshold
	}
	if cmd.Active != nil {
		product.Active = *cmd.Active
	}
	product.UpdatedAt = s.clock()

	if err := s.products.Update(ctx, product); err != nil {
		if isProductNotFound(err) {
			return Product{}, fmt.Errorf("%w: %s", ErrInventoryProductNotFound, productID)
		}
		return Product{}, err
	}
	return product, nil
}

func (s *inventoryService) GetProduct(ctx context.Context, productID string) (Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return Product{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		if isProductNotFound(err) {
			return Product{}, fmt.Errorf("%w: %s", ErrInventoryProductNotFound, productID)
		}
		return Product{}, err
	}
	return product, nil
}

func (s *inventoryService) GetProductBySKU(ctx context.Context, sku string) (Product, error) {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return Product{}, fmt.Errorf("%w: sku is required", ErrInventoryInvalidInput)
	}

	product, err := s.products.FindBySKU(ctx, sku)
	if err != nil {
		if isProductNotFound(err) {
			return Product{}, fmt.Errorf("%w: sku %s", ErrInventoryProductNotFound, sku)
		}
		return Product{}, err
	}
	return product, nil
}

func (s *inventoryService) ListProducts(ctx context.Context, pager Pagination) (domain.CursorPage[Product], error) {
	return s.products.List(ctx, pager)
}

func (s *inventoryService) ListLowStock(ctx context.Context, pager Pagination) (domain.CursorPage[Product], error) {
	page, err := s.products.ListLowStock(ctx, pager)
	if err != nil {
		return page, err
	}
	// The store orders by depletion depth to satisfy its inequality-first
	// index; callers are promised ascending on-hand.
	sort.SliceStable(page.Items, func(i, j int) bool {
		return page.Items[i].OnHand < page.Items[j].OnHand
	})
	return page, nil
}

func (s *inventoryService) ListMovements(ctx context.Context, productID string, filter repositories.MovementListFilter) (domain.CursorPage[InventoryMovement], error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[InventoryMovement]{}, fmt.Errorf("%w: product id is required", ErrInventoryInvalidInput)
	}
	return s.products.ListMovements(ctx, productID, filter)
}

// compensateDeduction writes back the quantities of lines deducted before a
// mid-batch failure. Failures here are logged and swallowed; the original
// error is what the caller sees.
func (s *inventoryService) compensateDeduction(ctx context.Context, applied []repositories.StockChangeResult, cmd StockDeductCommand) {
	now := s.clock()
	for _, change := range applied {
		restored := change.BalanceBefore - change.BalanceAfter
		if restored <= 0 {
			continue
		}
		compensation := repositories.StockChange{
			ProductID: change.ProductID,
			Delta:     restored,
			Movement: domain.InventoryMovement{
				ID:        s.newID(),
				Type:      domain.MovementReturn,
				Quantity:  restored,
				RefType:   strings.TrimSpace(cmd.RefType),
				RefID:     strings.TrimSpace(cmd.RefID),
				Note:      "compensation for failed deduction",
				CreatedAt: now,
			},
		}
		if _, err := s.products.ApplyStockChange(ctx, compensation); err != nil {
			s.logger(ctx, "inventory.compensation_failed", map[string]any{
				"productId": change.ProductID,
				"quantity":  restored,
				"error":     err.Error(),
			})
		}
	}
}

// emitLowStockAlert publishes a threshold breach. Publish failures are logged
// and never surfaced to the mutation path.
func (s *inventoryService) emitLowStockAlert(ctx context.Context, productID string, onHand int, occurredAt time.Time) {
	if s.alerts == nil {
		return
	}

	message := LowStockAlertMessage{
		ProductID:  productID,
		OnHand:     onHand,
		OccurredAt: occurredAt,
	}
	if product, err := s.products.FindByID(ctx, productID); err == nil {
		message.SKU = product.SKU
		message.Name = product.Name
		message.Threshold = product.LowStockThreshold
	}

	if _, err := s.alerts.PublishLowStockAlert(ctx, message); err != nil {
		s.logger(ctx, "inventory.low_stock_alert_failed", map[string]any{
			"productId": productID,
			"onHand":    onHand,
			"error":     err.Error(),
		})
	}
}

func isProductNotFound(err error) bool {
	var invErr *repositories.InventoryError
	return errors.As(err, &invErr) && invErr.Code == repositories.InventoryErrorProductNotFound
}
