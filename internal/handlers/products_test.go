package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/daigou-ops/backoffice/internal/domain"
	"github.com/daigou-ops/backoffice/internal/repositories"
	"github.com/daigou-ops/backoffice/internal/services"
)

type stubInventoryService struct {
	services.InventoryService

	createFn    func(ctx context.Context, cmd services.CreateProductCommand) (domain.Product, error)
	bySKUFn     func(ctx context.Context, sku string) (domain.Product, error)
	adjustFn    func(ctx context.Context, cmd services.StockAdjustCommand) (services.StockAdjustResult, error)
	lowStockFn  func(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error)
	movementsFn func(ctx context.Context, productID string, filter repositories.MovementListFilter) (domain.CursorPage[domain.InventoryMovement], error)
}

func (s *stubInventoryService) CreateProduct(ctx context.Context, cmd services.CreateProductCommand) (domain.Product, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return domain.Product{}, nil
}

func (s *stubInventoryService) GetProductBySKU(ctx context.Context, sku string) (domain.Product, error) {
	if s.bySKUFn != nil {
		return s.bySKUFn(ctx, sku)
	}
	return domain.Product{}, nil
}

func (s *stubInventoryService) AdjustStock(ctx context.Context, cmd services.StockAdjustCommand) (services.StockAdjustResult, error) {
	if s.adjustFn != nil {
		return s.adjustFn(ctx, cmd)
	}
	return services.StockAdjustResult{}, nil
}

func (s *stubInventoryService) ListLowStock(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	if s.lowStockFn != nil {
		return s.lowStockFn(ctx, pager)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

func (s *stubInventoryService) ListMovements(ctx context.Context, productID string, filter repositories.MovementListFilter) (domain.CursorPage[domain.InventoryMovement], error) {
	if s.movementsFn != nil {
		return s.movementsFn(ctx, productID, filter)
	}
	return domain.CursorPage[domain.InventoryMovement]{}, nil
}

func newProductTestRouter(svc services.InventoryService) http.Handler {
	r := chi.NewRouter()
	r.Route("/products", NewProductHandlers(svc).Routes)
	return r
}

func TestCreateProductEndpoint(t *testing.T) {
	svc := &stubInventoryService{
		createFn: func(ctx context.Context, cmd services.CreateProductCommand) (domain.Product, error) {
			if cmd.SKU != "TEE-BLK-M" || cmd.InitialStock != 10 {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return domain.Product{ID: "p1", SKU: cmd.SKU, Name: cmd.Name, OnHand: 10, LowStockThreshold: 5, Active: true}, nil
		},
	}
	router := newProductTestRouter(svc)

	body := `{"sku":"TEE-BLK-M","name":"Black Tee","initial_stock":10}`
	req := httptest.NewRequest(http.MethodPost, "/products/", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload productResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload.Product.SKU != "TEE-BLK-M" || payload.Product.OnHand != 10 {
		t.Fatalf("unexpected payload %+v", payload.Product)
	}
}

func TestCreateProductDuplicateSKU(t *testing.T) {
	svc := &stubInventoryService{
		createFn: func(ctx context.Context, cmd services.CreateProductCommand) (domain.Product, error) {
			return domain.Product{}, fmt.Errorf("%w: %s", services.ErrInventoryDuplicateSKU, cmd.SKU)
		},
	}
	router := newProductTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/products/", strings.NewReader(`{"sku":"TEE-BLK-M","name":"Black Tee"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "duplicate_sku") {
		t.Fatalf("expected duplicate_sku code, got %s", rr.Body.String())
	}
}

func TestGetProductBySKUEndpoint(t *testing.T) {
	svc := &stubInventoryService{
		bySKUFn: func(ctx context.Context, sku string) (domain.Product, error) {
			if sku != "TEE-BLK-M" {
				t.Fatalf("unexpected sku %q", sku)
			}
			return domain.Product{ID: "p1", SKU: sku, Name: "Black Tee", OnHand: 4, LowStockThreshold: 5, Active: true}, nil
		},
	}
	router := newProductTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/products/by-sku/TEE-BLK-M", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload productResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload.Product.ID != "p1" || !payload.Product.LowOnStock {
		t.Fatalf("unexpected payload %+v", payload.Product)
	}
}

func TestGetProductBySKUNotFound(t *testing.T) {
	svc := &stubInventoryService{
		bySKUFn: func(ctx context.Context, sku string) (domain.Product, error) {
			return domain.Product{}, fmt.Errorf("%w: sku %s", services.ErrInventoryProductNotFound, sku)
		},
	}
	router := newProductTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/products/by-sku/GHOST-SKU", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "product_not_found") {
		t.Fatalf("expected product_not_found code, got %s", rr.Body.String())
	}
}

func TestAdjustStockEndpoint(t *testing.T) {
	svc := &stubInventoryService{
		adjustFn: func(ctx context.Context, cmd services.StockAdjustCommand) (services.StockAdjustResult, error) {
			if cmd.ProductID != "p1" || cmd.Delta != -3 || cmd.Reason != "damaged" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return services.StockAdjustResult{Success: true, PreviousStock: 10, NewStock: 7}, nil
		},
	}
	router := newProductTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/products/p1:adjust", strings.NewReader(`{"delta":-3,"reason":"damaged"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload stockAdjustResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !payload.Success || payload.PreviousStock != 10 || payload.NewStock != 7 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestAdjustStockUnknownProduct(t *testing.T) {
	svc := &stubInventoryService{
		adjustFn: func(ctx context.Context, cmd services.StockAdjustCommand) (services.StockAdjustResult, error) {
			return services.StockAdjustResult{}, fmt.Errorf("%w: %s", services.ErrInventoryProductNotFound, cmd.ProductID)
		},
	}
	router := newProductTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/products/ghost:adjust", strings.NewReader(`{"delta":1}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestListLowStockEndpoint(t *testing.T) {
	svc := &stubInventoryService{
		lowStockFn: func(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
			return domain.CursorPage[domain.Product]{Items: []domain.Product{
				{ID: "p1", SKU: "TEE-BLK-M", OnHand: 2, LowStockThreshold: 5, Active: true},
			}}, nil
		},
	}
	router := newProductTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/products/low-stock", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload productListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(payload.Items) != 1 || !payload.Items[0].LowOnStock {
		t.Fatalf("expected low-stock flag set, got %+v", payload.Items)
	}
}

func TestListMovementsRejectsUnknownType(t *testing.T) {
	router := newProductTestRouter(&stubInventoryService{})

	req := httptest.NewRequest(http.MethodGet, "/products/p1/movements?type=teleport", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestListMovementsPassesFilterThrough(t *testing.T) {
	var captured repositories.MovementListFilter
	svc := &stubInventoryService{
		movementsFn: func(ctx context.Context, productID string, filter repositories.MovementListFilter) (domain.CursorPage[domain.InventoryMovement], error) {
			if productID != "p1" {
				t.Fatalf("unexpected product id %q", productID)
			}
			captured = filter
			return domain.CursorPage[domain.InventoryMovement]{Items: []domain.InventoryMovement{
				{ID: "m1", ProductID: "p1", Type: domain.MovementSale, Quantity: -2, BalanceBefore: 10, BalanceAfter: 8},
			}}, nil
		},
	}
	router := newProductTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/products/p1/movements?type=sale&page_size=10", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Type != domain.MovementSale || captured.Pager.PageSize != 10 {
		t.Fatalf("unexpected filter %+v", captured)
	}
	var payload movementListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].BalanceAfter != 8 {
		t.Fatalf("unexpected payload %+v", payload.Items)
	}
}
