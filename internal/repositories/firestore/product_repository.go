package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/daigou-ops/backoffice/internal/domain"
	pfirestore "github.com/daigou-ops/backoffice/internal/platform/firestore"
	"github.com/daigou-ops/backoffice/internal/platform/pagination"
	"github.com/daigou-ops/backoffice/internal/repositories"
)

const (
	productsCollection    = "products"
	productSkusCollection = "productSkus"
	movementsCollection   = "movements"
)

type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.BaseRepository[productDocument]
}

func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	products := pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil, nil)
	return &ProductRepository{provider: provider, products: products}, nil
}

// Insert stores the product and claims its SKU. SKUs are immutable once claimed.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product insert: id is required")
	}
	sku := strings.TrimSpace(product.SKU)
	if sku == "" {
		return repositories.NewInventoryError(repositories.InventoryErrorUnknown, "product insert: sku is required", nil)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return wrapInventory("products.insert", err)
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		productRef := client.Collection(productsCollection).Doc(product.ID)
		skuRef := client.Collection(productSkusCollection).Doc(sku)

		if err := tx.Create(skuRef, map[string]any{
			"productId": product.ID,
			"createdAt": product.CreatedAt.UTC(),
		}); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewInventoryError(repositories.InventoryErrorDuplicateSKU, fmt.Sprintf("sku %s already claimed", sku), err)
			}
			return err
		}

		doc := newProductDocument(product)
		doc.recalculate()
		return tx.Create(productRef, doc)
	})
	return wrapInventory("products.insert", err)
}

// Update persists mutable product fields. Stock changes go through ApplyStockChange.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.provider == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product update: id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		productRef, err := r.products.DocumentRef(ctx, product.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(productRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", product.ID), err)
			}
			return err
		}
		var stored productDocument
		if err := snap.DataTo(&stored); err != nil {
			return fmt.Errorf("decode product %s: %w", product.ID, err)
		}

		stored.Name = strings.TrimSpace(product.Name)
		stored.LowStockThreshold = product.LowStockThreshold
		stored.Active = product.Active
		stored.UpdatedAt = product.UpdatedAt.UTC()
		stored.recalculate()
		return tx.Set(productRef, stored)
	})
	return wrapInventory("products.update", err)
}

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}

	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
		}
		return domain.Product{}, wrapInventory("products.get", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *ProductRepository) FindBySKU(ctx context.Context, sku string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return domain.Product{}, errors.New("product find by sku: sku is required")
	}

	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("sku", "==", sku).Limit(1)
	})
	if err != nil {
		return domain.Product{}, wrapInventory("products.findBySku", err)
	}
	if len(docs) == 0 {
		return domain.Product{}, repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("sku %s not found", sku), nil)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

func (r *ProductRepository) List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := normalisePageSize(pager.PageSize)
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, wrapInventory("products.list", err)
	}

	query := client.Collection(productsCollection).
		OrderBy("sku", firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, wrapInventory("products.list", err)
		}
		if len(cursor.StartAfter) > 0 {
			query = query.StartAfter(cursor.StartAfter...)
		}
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, wrapInventory("products.list", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(products) > pageSize
	if hasMore {
		products = products[:pageSize]
	}
	var nextToken string
	if hasMore && len(products) > 0 {
		last := products[len(products)-1]
		nextToken, err = pagination.EncodeToken(pagination.Cursor{StartAfter: []any{last.SKU}})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, wrapInventory("products.list", err)
		}
	}

	return domain.CursorPage[domain.Product]{Items: products, NextPageToken: nextToken}, nil
}

// ApplyStockChange mutates the balance and appends its movement in one
// transaction so the ledger always replays to the stored balance.
func (r *ProductRepository) ApplyStockChange(ctx context.Context, change repositories.StockChange) (repositories.StockChangeResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockChangeResult{}, errors.New("product repository not initialised")
	}
	if strings.TrimSpace(change.ProductID) == "" {
		return repositories.StockChangeResult{}, errors.New("product stock change: product id is required")
	}
	if strings.TrimSpace(change.Movement.ID) == "" {
		return repositories.StockChangeResult{}, errors.New("product stock change: movement id is required")
	}

	var result repositories.StockChangeResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		productRef, err := r.products.DocumentRef(ctx, change.ProductID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(productRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", change.ProductID), err)
			}
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", change.ProductID, err)
		}

		before := doc.OnHand
		after := before + change.Delta
		if after < 0 {
			if !change.ClampAtZero {
				return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, fmt.Sprintf("insufficient stock for product %s", change.ProductID), nil)
			}
			after = 0
		}

		movement := change.Movement
		movement.ProductID = change.ProductID
		movement.BalanceBefore = before
		movement.BalanceAfter = after
		movement.CreatedAt = movement.CreatedAt.UTC()

		doc.OnHand = after
		doc.UpdatedAt = movement.CreatedAt
		doc.recalculate()
		if err := tx.Set(productRef, doc); err != nil {
			return err
		}

		movementRef := productRef.Collection(movementsCollection).Doc(movement.ID)
		if err := tx.Create(movementRef, newMovementDocument(movement)); err != nil {
			return err
		}

		result = repositories.StockChangeResult{
			ProductID:     change.ProductID,
			BalanceBefore: before,
			BalanceAfter:  after,
			LowOnStock:    after <= doc.LowStockThreshold,
		}
		return nil
	})
	if err != nil {
		return repositories.StockChangeResult{}, wrapInventory("products.applyStockChange", err)
	}
	return result, nil
}

// ListLowStock returns active products sitting at or below their threshold,
// most depleted first.
func (r *ProductRepository) ListLowStock(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := normalisePageSize(pager.PageSize)
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, wrapInventory("products.lowStock", err)
	}

	query := client.Collection(productsCollection).
		Where("active", "==", true).
		Where("stockDelta", "<=", 0).
		OrderBy("stockDelta", firestore.Asc).
		OrderBy("onHand", firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, wrapInventory("products.lowStock", err)
		}
		if len(cursor.StartAfter) > 0 {
			query = query.StartAfter(cursor.StartAfter...)
		}
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var products []domain.Product
	var deltas []int
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Product]{}, wrapInventory("products.lowStock", err)
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Product]{}, fmt.Errorf("decode product %s: %w", snap.Ref.ID, err)
		}
		products = append(products, doc.toDomain(snap.Ref.ID))
		deltas = append(deltas, doc.StockDelta)
	}

	hasMore := len(products) > pageSize
	if hasMore {
		products = products[:pageSize]
		deltas = deltas[:pageSize]
	}
	var nextToken string
	if hasMore && len(products) > 0 {
		last := products[len(products)-1]
		nextToken, err = pagination.EncodeToken(pagination.Cursor{StartAfter: []any{deltas[len(deltas)-1], last.OnHand}})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, wrapInventory("products.lowStock", err)
		}
	}

	return domain.CursorPage[domain.Product]{Items: products, NextPageToken: nextToken}, nil
}

func (r *ProductRepository) ListMovements(ctx context.Context, productID string, filter repositories.MovementListFilter) (domain.CursorPage[domain.InventoryMovement], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.InventoryMovement]{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.CursorPage[domain.InventoryMovement]{}, errors.New("product movements: product id is required")
	}

	pageSize := normalisePageSize(filter.Pager.PageSize)
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.InventoryMovement]{}, wrapInventory("products.movements", err)
	}

	query := client.Collection(productsCollection).Doc(productID).Collection(movementsCollection).
		OrderBy("createdAt", firestore.Desc).
		Limit(pageSize + 1)
	if filter.Type != "" {
		query = query.Where("type", "==", string(filter.Type))
	}
	if filter.From != nil {
		query = query.Where("createdAt", ">=", filter.From.UTC())
	}
	if filter.To != nil {
		query = query.Where("createdAt", "<", filter.To.UTC())
	}

	if token := strings.TrimSpace(filter.Pager.PageToken); token != "" {
		cursor, err := pagination.DecodeToken(token)
		if err != nil {
			return domain.CursorPage[domain.InventoryMovement]{}, wrapInventory("products.movements", err)
		}
		if startAfter, err := cursorTimes(cursor.StartAfter); err != nil {
			return domain.CursorPage[domain.InventoryMovement]{}, wrapInventory("products.movements", err)
		} else if len(startAfter) > 0 {
			query = query.StartAfter(startAfter...)
		}
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var movements []domain.InventoryMovement
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.InventoryMovement]{}, wrapInventory("products.movements", err)
		}
		var doc movementDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.InventoryMovement]{}, fmt.Errorf("decode movement %s: %w", snap.Ref.ID, err)
		}
		movements = append(movements, doc.toDomain(snap.Ref.ID, productID))
	}

	hasMore := len(movements) > pageSize
	if hasMore {
		movements = movements[:pageSize]
	}
	var nextToken string
	if hasMore && len(movements) > 0 {
		last := movements[len(movements)-1]
		nextToken, err = pagination.EncodeToken(pagination.Cursor{StartAfter: []any{last.CreatedAt.Format(time.RFC3339Nano)}})
		if err != nil {
			return domain.CursorPage[domain.InventoryMovement]{}, wrapInventory("products.movements", err)
		}
	}

	return domain.CursorPage[domain.InventoryMovement]{Items: movements, NextPageToken: nextToken}, nil
}

// Document types ------------------------------------------------------------

type productDocument struct {
	SKU               string    `firestore:"sku"`
	Name              string    `firestore:"name"`
	OnHand            int       `firestore:"onHand"`
	LowStockThreshold int       `firestore:"lowStockThreshold"`
	StockDelta        int       `firestore:"stockDelta"`
	Active            bool      `firestore:"active"`
	CreatedAt         time.Time `firestore:"createdAt"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
}

func (d *productDocument) recalculate() {
	d.StockDelta = d.OnHand - d.LowStockThreshold
}

func newProductDocument(p domain.Product) productDocument {
	return productDocument{
		SKU:               strings.TrimSpace(p.SKU),
		Name:              strings.TrimSpace(p.Name),
		OnHand:            p.OnHand,
		LowStockThreshold: p.LowStockThreshold,
		Active:            p.Active,
		CreatedAt:         p.CreatedAt.UTC(),
		UpdatedAt:         p.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:                id,
		SKU:               d.SKU,
		Name:              d.Name,
		OnHand:            d.OnHand,
		LowStockThreshold: d.LowStockThreshold,
		Active:            d.Active,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

type movementDocument struct {
	Type          string    `firestore:"type"`
	Quantity      int       `firestore:"quantity"`
	BalanceBefore int       `firestore:"balanceBefore"`
	BalanceAfter  int       `firestore:"balanceAfter"`
	RefType       string    `firestore:"refType,omitempty"`
	RefID         string    `firestore:"refId,omitempty"`
	Note          string    `firestore:"note,omitempty"`
	CreatedAt     time.Time `firestore:"createdAt"`
}

func newMovementDocument(m domain.InventoryMovement) movementDocument {
	return movementDocument{
		Type:          string(m.Type),
		Quantity:      m.Quantity,
		BalanceBefore: m.BalanceBefore,
		BalanceAfter:  m.BalanceAfter,
		RefType:       strings.TrimSpace(m.RefType),
		RefID:         strings.TrimSpace(m.RefID),
		Note:          strings.TrimSpace(m.Note),
		CreatedAt:     m.CreatedAt.UTC(),
	}
}

func (d movementDocument) toDomain(id, productID string) domain.InventoryMovement {
	return domain.InventoryMovement{
		ID:            id,
		ProductID:     productID,
		Type:          domain.MovementType(d.Type),
		Quantity:      d.Quantity,
		BalanceBefore: d.BalanceBefore,
		BalanceAfter:  d.BalanceAfter,
		RefType:       d.RefType,
		RefID:         d.RefID,
		Note:          d.Note,
		CreatedAt:     d.CreatedAt,
	}
}

// Helpers -------------------------------------------------------------------

func normalisePageSize(size int) int {
	if size <= 0 {
		return 50
	}
	if size > 200 {
		return 200
	}
	return size
}

// cursorTimes converts RFC3339 strings in a decoded cursor back into
// time.Time values so Firestore compares them against timestamp fields.
func cursorTimes(values []any) ([]any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]any, len(values))
	for i, value := range values {
		if raw, ok := value.(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
				out[i] = ts
				continue
			}
		}
		out[i] = value
	}
	return out, nil
}

func wrapInventory(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
