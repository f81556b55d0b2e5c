package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/daigou-ops/backoffice/internal/domain"
	"github.com/daigou-ops/backoffice/internal/repositories"
)

type stubProductRepository struct {
	mu            sync.Mutex
	products      map[string]domain.Product
	applyFn       func(repositories.StockChange) (repositories.StockChangeResult, error)
	applyCalls    []repositories.StockChange
	movements     []domain.InventoryMovement
	insertCalls   []domain.Product
	insertErr     error
	lowStockPage  domain.CursorPage[domain.Product]
	movementsPage domain.CursorPage[domain.InventoryMovement]
}

func newStubProductRepository(products ...domain.Product) *stubProductRepository {
	stub := &stubProductRepository{products: map[string]domain.Product{}}
	for _, product := range products {
		stub.products[product.ID] = product
	}
	return stub
}

func (s *stubProductRepository) Insert(ctx context.Context, product domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls = append(s.insertCalls, product)
	if s.insertErr != nil {
		return s.insertErr
	}
	s.products[product.ID] = product
	return nil
}

func (s *stubProductRepository) Update(ctx context.Context, product domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[product.ID]; !ok {
		return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, "missing", nil)
	}
	s.products[product.ID] = product
	return nil
}

func (s *stubProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", productID), nil)
	}
	return product, nil
}

func (s *stubProductRepository) FindBySKU(ctx context.Context, sku string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, product := range s.products {
		if product.SKU == sku {
			return product, nil
		}
	}
	return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, "sku not found", nil)
}

func (s *stubProductRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	return domain.CursorPage[domain.Product]{}, nil
}

func (s *stubProductRepository) ApplyStockChange(ctx context.Context, change repositories.StockChange) (repositories.StockChangeResult, error) {
	s.mu.Lock()
	s.applyCalls = append(s.applyCalls, change)
	applyFn := s.applyFn
	s.mu.Unlock()

	if applyFn != nil {
		return applyFn(change)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[change.ProductID]
	if !ok {
		return repositories.StockChangeResult{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, "missing", nil)
	}
	before := product.OnHand
	after := before + change.Delta
	if after < 0 {
		if !change.ClampAtZero {
			return repositories.StockChangeResult{}, repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, "insufficient", nil)
		}
		after = 0
	}
	product.OnHand = after
	s.products[change.ProductID] = product

	movement := change.Movement
	movement.ProductID = change.ProductID
	movement.BalanceBefore = before
	movement.BalanceAfter = after
	s.movements = append(s.movements, movement)

	return repositories.StockChangeResult{
		ProductID:     change.ProductID,
		BalanceBefore: before,
		BalanceAfter:  after,
		LowOnStock:    after <= product.LowStockThreshold,
	}, nil
}

func (s *stubProductRepository) ListLowStock(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	return s.lowStockPage, nil
}

func (s *stubProductRepository) ListMovements(ctx context.Context, productID string, filter repositories.MovementListFilter) (domain.CursorPage[domain.InventoryMovement], error) {
	return s.movementsPage, nil
}

func (s *stubProductRepository) onHand(productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[productID].OnHand
}

type stubAlertPublisher struct {
	mu       sync.Mutex
	messages []LowStockAlertMessage
}

func (s *stubAlertPublisher) PublishLowStockAlert(ctx context.Context, message LowStockAlertMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	return "msg-1", nil
}

func newTestInventoryService(t *testing.T, repo repositories.ProductRepository, alerts LowStockAlertPublisher) InventoryService {
	t.Helper()
	ids := 0
	svc, err := NewInventoryService(InventoryServiceDeps{
		Products: repo,
		Alerts:   alerts,
		Clock:    fixedClock(time.Date(2024, 8, 24, 10, 0, 0, 0, time.UTC)),
		IDGenerator: func() string {
			ids++
			return fmt.Sprintf("mov-%03d", ids)
		},
	})
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}
	return svc
}

func TestCheckStockReportsInsufficiency(t *testing.T) {
	repo := newStubProductRepository(domain.Product{ID: "p1", SKU: "TEE-BLK-M", Name: "Black Tee", OnHand: 3, LowStockThreshold: 2, Active: true})
	svc := newTestInventoryService(t, repo, nil)

	result, err := svc.CheckStock(context.Background(), "p1", 5)
	if err != nil {
		t.Fatalf("check stock: %v", err)
	}
	if result.Available {
		t.Fatalf("expected insufficiency")
	}
	if result.CurrentStock != 3 {
		t.Fatalf("expected current stock 3, got %d", result.CurrentStock)
	}
	if !strings.Contains(result.Message, "Black Tee") || !strings.Contains(result.Message, "5") || !strings.Contains(result.Message, "3") {
		t.Fatalf("message must name product and both quantities, got %q", result.Message)
	}
}

func TestCheckStockUnknownProductIsResultNotError(t *testing.T) {
	svc := newTestInventoryService(t, newStubProductRepository(), nil)

	result, err := svc.CheckStock(context.Background(), "ghost", 1)
	if err != nil {
		t.Fatalf("expected failure result, got error %v", err)
	}
	if result.Available {
		t.Fatalf("expected unavailable")
	}
	if !strings.Contains(result.Message, "ghost") {
		t.Fatalf("message must identify the product, got %q", result.Message)
	}
}

func TestValidateStockAggregatesAllFailures(t *testing.T) {
	repo := newStubProductRepository(
		domain.Product{ID: "p1", Name: "A", OnHand: 1, Active: true},
		domain.Product{ID: "p2", Name: "B", OnHand: 10, Active: true},
		domain.Product{ID: "p3", Name: "C", OnHand: 0, Active: true},
	)
	svc := newTestInventoryService(t, repo, nil)

	result, err := svc.ValidateStock(context.Background(), []StockLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 5},
		{ProductID: "p3", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("validate stock: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected invalid result")
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected both failing lines reported, got %d", len(result.Errors))
	}
	if len(result.Details) != 3 {
		t.Fatalf("expected a detail per line, got %d", len(result.Details))
	}
}

func TestDeductStockPreFlightBlocksAllMutation(t *testing.T) {
	repo := newStubProductRepository(
		domain.Product{ID: "a", Name: "A", OnHand: 10, Active: true},
		domain.Product{ID: "b", Name: "B", OnHand: 1, Active: true},
	)
	svc := newTestInventoryService(t, repo, nil)

	result, err := svc.DeductStock(context.Background(), StockDeductCommand{
		Lines: []StockLine{{ProductID: "a", Quantity: 2}, {ProductID: "b", Quantity: 5}},
	})
	if err != nil {
		t.Fatalf("deduct stock: %v", err)
	}
	if result.Success {
		t.Fatalf("expected failure result")
	}
	if repo.onHand("a") != 10 || repo.onHand("b") != 1 {
		t.Fatalf("expected no mutation, got a=%d b=%d", repo.onHand("a"), repo.onHand("b"))
	}
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.applyCalls) != 0 {
		t.Fatalf("expected zero stock changes, got %d", len(repo.applyCalls))
	}
}

func TestDeductStockCompensatesOnMidBatchFailure(t *testing.T) {
	repo := newStubProductRepository(
		domain.Product{ID: "a", Name: "A", OnHand: 10, Active: true},
		domain.Product{ID: "b", Name: "B", OnHand: 10, Active: true},
	)
	failures := 0
	repo.applyFn = func(change repositories.StockChange) (repositories.StockChangeResult, error) {
		if change.ProductID == "b" && change.Delta < 0 {
			failures++
			return repositories.StockChangeResult{}, errors.New("backend down")
		}
		return repositories.StockChangeResult{
			ProductID:     change.ProductID,
			BalanceBefore: 10,
			BalanceAfter:  10 + change.Delta,
		}, nil
	}
	svc := newTestInventoryService(t, repo, nil)

	_, err := svc.DeductStock(context.Background(), StockDeductCommand{
		Lines:   []StockLine{{ProductID: "a", Quantity: 4}, {ProductID: "b", Quantity: 2}},
		RefType: "order",
		RefID:   "o1",
	})
	if err == nil {
		t.Fatalf("expected the failure to surface")
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	var compensations []repositories.StockChange
	for _, call := range repo.applyCalls {
		if call.Movement.Type == domain.MovementReturn {
			compensations = append(compensations, call)
		}
	}
	if len(compensations) != 1 {
		t.Fatalf("expected one compensating change, got %d", len(compensations))
	}
	if compensations[0].ProductID != "a" || compensations[0].Delta != 4 {
		t.Fatalf("expected product a restored by 4, got %+v", compensations[0])
	}
}

func TestDeductStockEmitsLowStockAlert(t *testing.T) {
	repo := newStubProductRepository(domain.Product{ID: "p1", SKU: "TEE-BLK-M", Name: "Black Tee", OnHand: 6, LowStockThreshold: 5, Active: true})
	alerts := &stubAlertPublisher{}
	svc := newTestInventoryService(t, repo, alerts)

	result, err := svc.DeductStock(context.Background(), StockDeductCommand{
		Lines: []StockLine{{ProductID: "p1", Quantity: 2}},
	})
	if err != nil || !result.Success {
		t.Fatalf("deduct stock: err=%v result=%+v", err, result)
	}

	alerts.mu.Lock()
	defer alerts.mu.Unlock()
	if len(alerts.messages) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerts.messages))
	}
	if alerts.messages[0].OnHand != 4 || alerts.messages[0].SKU != "TEE-BLK-M" {
		t.Fatalf("unexpected alert payload %+v", alerts.messages[0])
	}
}

func TestAdjustStockClampsAtZero(t *testing.T) {
	repo := newStubProductRepository(domain.Product{ID: "p1", Name: "A", OnHand: 3, Active: true})
	svc := newTestInventoryService(t, repo, nil)

	result, err := svc.AdjustStock(context.Background(), StockAdjustCommand{ProductID: "p1", Delta: -100, Reason: "stocktake"})
	if err != nil {
		t.Fatalf("adjust stock: %v", err)
	}
	if !result.Success || result.PreviousStock != 3 || result.NewStock != 0 {
		t.Fatalf("expected clamp to zero, got %+v", result)
	}
	if repo.onHand("p1") != 0 {
		t.Fatalf("expected on hand 0, got %d", repo.onHand("p1"))
	}
}

func TestAdjustStockUnknownProduct(t *testing.T) {
	svc := newTestInventoryService(t, newStubProductRepository(), nil)

	_, err := svc.AdjustStock(context.Background(), StockAdjustCommand{ProductID: "ghost", Delta: 1})
	if !errors.Is(err, ErrInventoryProductNotFound) {
		t.Fatalf("expected product not found, got %v", err)
	}
}

func TestRestoreStockAddsBackQuantities(t *testing.T) {
	repo := newStubProductRepository(domain.Product{ID: "p1", Name: "A", OnHand: 2, Active: true})
	svc := newTestInventoryService(t, repo, nil)

	err := svc.RestoreStock(context.Background(), StockRestoreCommand{
		Lines:   []StockLine{{ProductID: "p1", Quantity: 3}},
		RefType: "order",
		RefID:   "o1",
		Note:    "refund",
	})
	if err != nil {
		t.Fatalf("restore stock: %v", err)
	}
	if repo.onHand("p1") != 5 {
		t.Fatalf("expected on hand 5, got %d", repo.onHand("p1"))
	}
}

func TestListLowStockOrdersByOnHand(t *testing.T) {
	repo := newStubProductRepository()
	repo.lowStockPage = domain.CursorPage[domain.Product]{
		// Store order: most depleted relative to threshold first.
		Items: []domain.Product{
			{ID: "deep", OnHand: 1, LowStockThreshold: 10},
			{ID: "empty", OnHand: 0, LowStockThreshold: 0},
			{ID: "edge", OnHand: 2, LowStockThreshold: 2},
		},
		NextPageToken: "tok",
	}
	svc := newTestInventoryService(t, repo, nil)

	page, err := svc.ListLowStock(context.Background(), Pagination{PageSize: 10})
	if err != nil {
		t.Fatalf("list low stock: %v", err)
	}
	if page.NextPageToken != "tok" {
		t.Fatalf("expected page token to pass through, got %q", page.NextPageToken)
	}
	got := []string{page.Items[0].ID, page.Items[1].ID, page.Items[2].ID}
	want := []string{"empty", "deep", "edge"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected ascending on-hand order %v, got %v", want, got)
		}
	}
}

func TestMovementLedgerReplayMatchesOnHand(t *testing.T) {
	repo := newStubProductRepository(domain.Product{ID: "p1", SKU: "TEE-BLK-M", Name: "Black Tee", OnHand: 5, Active: true})
	svc := newTestInventoryService(t, repo, nil)
	ctx := context.Background()

	if _, err := svc.ReceiveStock(ctx, StockReceiveCommand{ProductID: "p1", Quantity: 10, RefID: "po-1"}); err != nil {
		t.Fatalf("receive stock: %v", err)
	}
	if result, err := svc.DeductStock(ctx, StockDeductCommand{Lines: []StockLine{{ProductID: "p1", Quantity: 4}}, RefType: "order", RefID: "o1"}); err != nil || !result.Success {
		t.Fatalf("deduct stock: err=%v result=%+v", err, result)
	}
	if _, err := svc.AdjustStock(ctx, StockAdjustCommand{ProductID: "p1", Delta: -3, Reason: "damaged"}); err != nil {
		t.Fatalf("adjust stock: %v", err)
	}
	if err := svc.RestoreStock(ctx, StockRestoreCommand{Lines: []StockLine{{ProductID: "p1", Quantity: 2}}, RefType: "order", RefID: "o1"}); err != nil {
		t.Fatalf("restore stock: %v", err)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	balance := 5
	for i, movement := range repo.movements {
		if movement.BalanceBefore != balance {
			t.Fatalf("movement %d: balance before %d, want %d", i, movement.BalanceBefore, balance)
		}
		balance += movement.Quantity
		if movement.BalanceAfter != balance {
			t.Fatalf("movement %d: balance after %d, want %d", i, movement.BalanceAfter, balance)
		}
	}
	if onHand := repo.products["p1"].OnHand; balance != onHand || balance != 10 {
		t.Fatalf("replayed balance %d, on hand %d", balance, onHand)
	}
}

func TestCreateProductRecordsOpeningMovement(t *testing.T) {
	repo := newStubProductRepository()
	svc := newTestInventoryService(t, repo, nil)

	product, err := svc.CreateProduct(context.Background(), CreateProductCommand{
		SKU:          "TEE-BLK-M-NKE-A1B2C",
		Name:         "Black Tee",
		InitialStock: 7,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if product.OnHand != 7 {
		t.Fatalf("expected on hand 7, got %d", product.OnHand)
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.applyCalls) != 1 {
		t.Fatalf("expected one opening movement, got %d", len(repo.applyCalls))
	}
	if repo.applyCalls[0].Movement.Type != domain.MovementInbound || repo.applyCalls[0].Delta != 7 {
		t.Fatalf("unexpected opening movement %+v", repo.applyCalls[0])
	}
}

func TestCreateProductDuplicateSKU(t *testing.T) {
	repo := newStubProductRepository()
	repo.insertErr = repositories.NewInventoryError(repositories.InventoryErrorDuplicateSKU, "claimed", nil)
	svc := newTestInventoryService(t, repo, nil)

	_, err := svc.CreateProduct(context.Background(), CreateProductCommand{SKU: "TEE-BLK-M", Name: "Tee"})
	if !errors.Is(err, ErrInventoryDuplicateSKU) {
		t.Fatalf("expected duplicate sku error, got %v", err)
	}
}
