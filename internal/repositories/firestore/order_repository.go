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
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"
)

type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.BaseRepository[orderDocument]
}

func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	orders := pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil)
	return &OrderRepository{provider: provider, orders: orders}, nil
}

// Insert stores the order and claims its number in the same transaction.
// A number already claimed by a concurrent writer surfaces as
// OrderErrorNumberTaken so the caller can allocate the next one and retry.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order insert: id is required")
	}
	number := strings.TrimSpace(order.OrderNumber)
	if number == "" {
		return errors.New("order insert: order number is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return wrapOrder("orders.insert", err)
	}

	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		numberRef := client.Collection(orderNumbersCollection).Doc(number)
		if err := tx.Create(numberRef, map[string]any{
			"orderId":   order.ID,
			"dayKey":    orderNumberDayKey(number),
			"createdAt": order.CreatedAt.UTC(),
		}); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewOrderError(repositories.OrderErrorNumberTaken, fmt.Sprintf("order number %s already claimed", number), err)
			}
			return err
		}

		orderRef := client.Collection(ordersCollection).Doc(order.ID)
		return tx.Create(orderRef, newOrderDocument(order))
	})
	return wrapOrder("orders.insert", err)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}

	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
		}
		return domain.Order{}, wrapOrder("orders.get", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OrderRepository) FindByNumber(ctx context.Context, number string) (domain.Order, error) {
	if r == nil || r.orders == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	number = strings.TrimSpace(number)
	if number == "" {
		return domain.Order{}, errors.New("order find by number: number is required")
	}

	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderNumber", "==", number).Limit(1)
	})
	if err != nil {
		return domain.Order{}, wrapOrder("orders.findByNumber", err)
	}
	if len(docs) == 0 {
		return domain.Order{}, repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", number), nil)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// UpdateStatus applies a lifecycle transition. When the update carries an
// expected current status, a mismatch surfaces as OrderErrorStaleStatus.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, errors.New("order status update: id is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.Order{}, wrapOrder("orders.updateStatus", err)
	}

	var updated domain.Order
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		orderRef := client.Collection(ordersCollection).Doc(orderID)
		snap, err := tx.Get(orderRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewOrderError(repositories.OrderErrorNotFound, fmt.Sprintf("order %s not found", orderID), err)
			}
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode order %s: %w", orderID, err)
		}

		if update.ExpectedStatus != "" && doc.Status != string(update.ExpectedStatus) {
			return repositories.NewOrderError(repositories.OrderErrorStaleStatus, fmt.Sprintf("order %s is %s, expected %s", orderID, doc.Status, update.ExpectedStatus), nil)
		}

		doc.Status = string(update.Status)
		doc.UpdatedAt = update.UpdatedAt.UTC()
		applyTimestamp(&doc.PaidAt, update.PaidAt)
		applyTimestamp(&doc.ShippedAt, update.ShippedAt)
		applyTimestamp(&doc.DeliveredAt, update.DeliveredAt)
		applyTimestamp(&doc.RefundedAt, update.RefundedAt)
		applyTimestamp(&doc.CancelledAt, update.CancelledAt)
		if update.CourierCompany != nil {
			doc.CourierCompany = strings.TrimSpace(*update.CourierCompany)
		}
		if update.TrackingNumber != nil {
			doc.TrackingNumber = strings.TrimSpace(*update.TrackingNumber)
		}
		if update.RefundReason != nil {
			doc.RefundReason = strings.TrimSpace(*update.RefundReason)
		}
		if update.CancelReason != nil {
			doc.CancelReason = strings.TrimSpace(*update.CancelReason)
		}

		if err := tx.Set(orderRef, doc); err != nil {
			return err
		}
		updated = doc.toDomain(orderID)
		return nil
	})
	if err != nil {
		return domain.Order{}, wrapOrder("orders.updateStatus", err)
	}
	return updated, nil
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := normalisePageSize(filter.Pager.PageSize)
	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapOrder("orders.list", err)
	}

	query := client.Collection(ordersCollection).
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Desc).
		Limit(pageSize + 1)
	if filter.Status != "" {
		query = query.Where("status", "==", string(filter.Status))
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
			return domain.CursorPage[domain.Order]{}, wrapOrder("orders.list", err)
		}
		if startAfter, err := cursorTimes(cursor.StartAfter); err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrder("orders.list", err)
		} else if len(startAfter) > 0 {
			query = query.StartAfter(startAfter...)
		}
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var orders []domain.Order
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrder("orders.list", err)
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("decode order %s: %w", snap.Ref.ID, err)
		}
		orders = append(orders, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(orders) > pageSize
	if hasMore {
		orders = orders[:pageSize]
	}
	var nextToken string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextToken, err = pagination.EncodeToken(pagination.Cursor{StartAfter: []any{last.CreatedAt.Format(time.RFC3339Nano), last.ID}})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapOrder("orders.list", err)
		}
	}

	return domain.CursorPage[domain.Order]{Items: orders, NextPageToken: nextToken}, nil
}

// ListNumbersForDay returns every claimed order number for a business day,
// keyed by the YYMMDD segment embedded in the number.
func (r *OrderRepository) ListNumbersForDay(ctx context.Context, dayKey string) ([]string, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("order repository not initialised")
	}
	dayKey = strings.TrimSpace(dayKey)
	if dayKey == "" {
		return nil, errors.New("order numbers: day key is required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, wrapOrder("orders.numbersForDay", err)
	}

	iter := client.Collection(orderNumbersCollection).
		Where("dayKey", "==", dayKey).
		Documents(ctx)
	defer iter.Stop()

	var numbers []string
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, wrapOrder("orders.numbersForDay", err)
		}
		numbers = append(numbers, snap.Ref.ID)
	}
	return numbers, nil
}

// Document types ------------------------------------------------------------

type orderItemDocument struct {
	ProductID string `firestore:"productId"`
	SKU       string `firestore:"sku"`
	Name      string `firestore:"name"`
	Quantity  int    `firestore:"quantity"`
	UnitPrice int64  `firestore:"unitPrice"`
	Subtotal  int64  `firestore:"subtotal"`
}

type orderDocument struct {
	OrderNumber    string              `firestore:"orderNumber"`
	Status         string              `firestore:"status"`
	CustomerName   string              `firestore:"customerName"`
	CustomerPhone  string              `firestore:"customerPhone,omitempty"`
	CustomerPCCC   string              `firestore:"customerPccc,omitempty"`
	Items          []orderItemDocument `firestore:"items"`
	TotalAmount    int64               `firestore:"totalAmount"`
	ShippingFee    int64               `firestore:"shippingFee"`
	CourierCompany string              `firestore:"courierCompany,omitempty"`
	TrackingNumber string              `firestore:"trackingNumber,omitempty"`
	RefundReason   string              `firestore:"refundReason,omitempty"`
	CancelReason   string              `firestore:"cancelReason,omitempty"`
	CreatedAt      time.Time           `firestore:"createdAt"`
	UpdatedAt      time.Time           `firestore:"updatedAt"`
	PaidAt         *time.Time          `firestore:"paidAt,omitempty"`
	ShippedAt      *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt    *time.Time          `firestore:"deliveredAt,omitempty"`
	RefundedAt     *time.Time          `firestore:"refundedAt,omitempty"`
	CancelledAt    *time.Time          `firestore:"cancelledAt,omitempty"`
}

func newOrderDocument(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
		})
	}
	return orderDocument{
		OrderNumber:    order.OrderNumber,
		Status:         string(order.Status),
		CustomerName:   order.Customer.Name,
		CustomerPhone:  order.Customer.Phone,
		CustomerPCCC:   order.Customer.PCCC,
		Items:          items,
		TotalAmount:    order.TotalAmount,
		ShippingFee:    order.ShippingFee,
		CourierCompany: order.CourierCompany,
		TrackingNumber: order.TrackingNumber,
		RefundReason:   order.RefundReason,
		CancelReason:   order.CancelReason,
		CreatedAt:      order.CreatedAt.UTC(),
		UpdatedAt:      order.UpdatedAt.UTC(),
		PaidAt:         timeOrNil(order.PaidAt),
		ShippedAt:      timeOrNil(order.ShippedAt),
		DeliveredAt:    timeOrNil(order.DeliveredAt),
		RefundedAt:     timeOrNil(order.RefundedAt),
		CancelledAt:    timeOrNil(order.CancelledAt),
	}
}

func (d orderDocument) toDomain(id string) domain.Order {
	items := make([]domain.OrderItem, 0, len(d.Items))
	for _, item := range d.Items {
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Subtotal:  item.Subtotal,
		})
	}
	return domain.Order{
		ID:          id,
		OrderNumber: d.OrderNumber,
		Status:      domain.OrderStatus(d.Status),
		Customer: domain.Customer{
			Name:  d.CustomerName,
			Phone: d.CustomerPhone,
			PCCC:  d.CustomerPCCC,
		},
		Items:          items,
		TotalAmount:    d.TotalAmount,
		ShippingFee:    d.ShippingFee,
		CourierCompany: d.CourierCompany,
		TrackingNumber: d.TrackingNumber,
		RefundReason:   d.RefundReason,
		CancelReason:   d.CancelReason,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		PaidAt:         d.PaidAt,
		ShippedAt:      d.ShippedAt,
		DeliveredAt:    d.DeliveredAt,
		RefundedAt:     d.RefundedAt,
		CancelledAt:    d.CancelledAt,
	}
}

// Helpers -------------------------------------------------------------------

// orderNumberDayKey extracts the YYMMDD segment from PREFIX-YYMMDD-SEQ.
func orderNumberDayKey(number string) string {
	parts := strings.Split(number, "-")
	if len(parts) < 3 {
		return ""
	}
	return parts[len(parts)-2]
}

func applyTimestamp(dst **time.Time, src *time.Time) {
	if src == nil {
		return
	}
	utc := src.UTC()
	*dst = &utc
}

func timeOrNil(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}

func wrapOrder(op string, err error) error {
	if err == nil {
		return nil
	}
	var orderErr *repositories.OrderError
	if errors.As(err, &orderErr) {
		if orderErr.Op == "" {
			orderErr.Op = op
		}
		return orderErr
	}
	return pfirestore.WrapError(op, err)
}
