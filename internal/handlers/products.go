package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/daigou-ops/backoffice/internal/domain"
	"github.com/daigou-ops/backoffice/internal/platform/httpx"
	"github.com/daigou-ops/backoffice/internal/repositories"
	"github.com/daigou-ops/backoffice/internal/services"
)

const (
	defaultProductPageSize = 50
	maxProductPageSize     = 200
)

var validMovementTypes = map[domain.MovementType]struct{}{
	domain.MovementInbound:    {},
	domain.MovementSale:       {},
	domain.MovementAdjustment: {},
	domain.MovementDisposal:   {},
	domain.MovementReturn:     {},
}

type createProductRequest struct {
	SKU               string `json:"sku"`
	Name              string `json:"name"`
	InitialStock      int    `json:"initial_stock"`
	LowStockThreshold *int   `json:"low_stock_threshold"`
}

type updateProductRequest struct {
	Name              *string `json:"name"`
	LowStockThreshold *int    `json:"low_stock_threshold"`
	Active            *bool   `json:"active"`
}

type adjustStockRequest struct {
	Delta  int    `json:"delta"`
	Reason string `json:"reason"`
}

type receiveStockRequest struct {
	Quantity int    `json:"quantity"`
	RefID    string `json:"ref_id"`
	Note     string `json:"note"`
}

// ProductHandlers exposes catalogue and stock endpoints for back-office staff.
type ProductHandlers struct {
	inventory services.InventoryService
}

// NewProductHandlers constructs a new ProductHandlers instance.
func NewProductHandlers(inventory services.InventoryService) *ProductHandlers {
	return &ProductHandlers{inventory: inventory}
}

// Routes registers the /products endpoints.
func (h *ProductHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/", h.createProduct)
	r.Get("/", h.listProducts)
	r.Get("/low-stock", h.listLowStock)
	r.Get("/by-sku/{sku}", h.getProductBySKU)
	r.Get("/{productID}", h.getProduct)
	r.Patch("/{productID}", h.updateProduct)
	r.Post("/{productID}:adjust", h.adjustStock)
	r.Post("/{productID}:receive", h.receiveStock)
	r.Get("/{productID}/movements", h.listMovements)
}

func (h *ProductHandlers) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeServiceUnavailable(ctx, w, "inventory")
		return
	}

	var req createProductRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	product, err := h.inventory.CreateProduct(ctx, services.CreateProductCommand{
		SKU:               strings.TrimSpace(req.SKU),
		Name:              strings.TrimSpace(req.Name),
		InitialStock:      req.InitialStock,
		LowStockThreshold: req.LowStockThreshold,
		Actor:             requestActor(r),
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeServiceUnavailable(ctx, w, "inventory")
		return
	}

	pager, err := parseProductPager(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.inventory.ListProducts(ctx, pager)
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeProductPage(w, page)
}

func (h *ProductHandlers) listLowStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeServiceUnavailable(ctx, w, "inventory")
		return
	}

	pager, err := parseProductPager(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.inventory.ListLowStock(ctx, pager)
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeProductPage(w, page)
}

func (h *ProductHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeServiceUnavailable(ctx, w, "inventory")
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	product, err := h.inventory.GetProduct(ctx, productID)
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) getProductBySKU(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeServiceUnavailable(ctx, w, "inventory")
		return
	}

	sku := strings.TrimSpace(chi.URLParam(r, "sku"))
	if sku == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sku is required", http.StatusBadRequest))
		return
	}

	product, err := h.inventory.GetProductBySKU(ctx, sku)
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) updateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeServiceUnavailable(ctx, w, "inventory")
		return
	}

	var req updateProductRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	product, err := h.inventory.UpdateProduct(ctx, services.UpdateProductCommand{
		ProductID:         strings.TrimSpace(chi.URLParam(r, "productID")),
		Name:              req.Name,
		LowStockThreshold: req.LowStockThreshold,
		Active:            req.Active,
		Actor:             requestActor(r),
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *ProductHandlers) adjustStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeServiceUnavailable(ctx, w, "inventory")
		return
	}

	var req adjustStockRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.inventory.AdjustStock(ctx, services.StockAdjustCommand{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		Delta:     req.Delta,
		Reason:    strings.TrimSpace(req.Reason),
		Actor:     requestActor(r),
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, stockAdjustResponse{
		Success:       result.Success,
		PreviousStock: result.PreviousStock,
		NewStock:      result.NewStock,
	})
}

func (h *ProductHandlers) receiveStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeServiceUnavailable(ctx, w, "inventory")
		return
	}

	var req receiveStockRequest
	if err := decodeJSONBody(r, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	result, err := h.inventory.ReceiveStock(ctx, services.StockReceiveCommand{
		ProductID: strings.TrimSpace(chi.URLParam(r, "productID")),
		Quantity:  req.Quantity,
		RefID:     strings.TrimSpace(req.RefID),
		Note:      strings.TrimSpace(req.Note),
		Actor:     requestActor(r),
	})
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, stockAdjustResponse{
		Success:       result.Success,
		PreviousStock: result.PreviousStock,
		NewStock:      result.NewStock,
	})
}

func (h *ProductHandlers) listMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.inventory == nil {
		writeServiceUnavailable(ctx, w, "inventory")
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	query := r.URL.Query()
	filter := repositories.MovementListFilter{}

	if raw := strings.ToLower(strings.TrimSpace(query.Get("type"))); raw != "" {
		movementType := domain.MovementType(raw)
		if _, ok := validMovementTypes[movementType]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("unknown movement type %q", raw), http.StatusBadRequest))
			return
		}
		filter.Type = movementType
	}
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.To = &ts
	}

	pageSize, err := parsePageSize(query.Get("page_size"), defaultProductPageSize, maxProductPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.Pager = domain.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}

	page, err := h.inventory.ListMovements(ctx, productID, filter)
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	items := make([]movementPayload, 0, len(page.Items))
	for _, movement := range page.Items {
		items = append(items, movementPayload{
			ID:            movement.ID,
			ProductID:     movement.ProductID,
			Type:          string(movement.Type),
			Quantity:      movement.Quantity,
			BalanceBefore: movement.BalanceBefore,
			BalanceAfter:  movement.BalanceAfter,
			RefType:       movement.RefType,
			RefID:         movement.RefID,
			Note:          movement.Note,
			CreatedAt:     formatTime(movement.CreatedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, movementListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

type productPayload struct {
	ID                string `json:"id"`
	SKU               string `json:"sku"`
	Name              string `json:"name"`
	OnHand            int    `json:"on_hand"`
	LowStockThreshold int    `json:"low_stock_threshold"`
	LowOnStock        bool   `json:"low_on_stock"`
	Active            bool   `json:"active"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productListResponse struct {
	Items         []productPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type stockAdjustResponse struct {
	Success       bool `json:"success"`
	PreviousStock int  `json:"previous_stock"`
	NewStock      int  `json:"new_stock"`
}

type movementPayload struct {
	ID            string `json:"id"`
	ProductID     string `json:"product_id"`
	Type          string `json:"type"`
	Quantity      int    `json:"quantity"`
	BalanceBefore int    `json:"balance_before"`
	BalanceAfter  int    `json:"balance_after"`
	RefType       string `json:"ref_type,omitempty"`
	RefID         string `json:"ref_id,omitempty"`
	Note          string `json:"note,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type movementListResponse struct {
	Items         []movementPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

func buildProductPayload(product domain.Product) productPayload {
	return productPayload{
		ID:                product.ID,
		SKU:               product.SKU,
		Name:              product.Name,
		OnHand:            product.OnHand,
		LowStockThreshold: product.LowStockThreshold,
		LowOnStock:        product.LowOnStock(),
		Active:            product.Active,
		CreatedAt:         formatTime(product.CreatedAt),
		UpdatedAt:         formatTime(product.UpdatedAt),
	}
}

func writeProductPage(w http.ResponseWriter, page domain.CursorPage[domain.Product]) {
	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{
		Items:         items,
		NextPageToken: strings.TrimSpace(page.NextPageToken),
	})
}

func parseProductPager(r *http.Request) (domain.Pagination, error) {
	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultProductPageSize, maxProductPageSize)
	if err != nil {
		return domain.Pagination{}, err
	}
	return domain.Pagination{
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	}, nil
}

func writeInventoryError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrInventoryInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrInventoryProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, services.ErrInventoryDuplicateSKU):
		httpx.WriteError(ctx, w, httpx.NewError("duplicate_sku", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("inventory_error", "failed to process inventory request", http.StatusInternalServerError))
	}
}
