package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/daigou-ops/backoffice/internal/domain"
	"github.com/daigou-ops/backoffice/internal/repositories"
	"github.com/daigou-ops/backoffice/internal/services"
)

type stubOrderService struct {
	createFn func(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error)
	getFn    func(ctx context.Context, orderID string) (domain.Order, error)
	listFn   func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	shipFn   func(ctx context.Context, cmd services.ShipOrderCommand) (domain.Order, error)
	refundFn func(ctx context.Context, cmd services.RefundOrderCommand) (domain.Order, error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) Get(ctx context.Context, orderID string) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) GetByNumber(ctx context.Context, number string) (domain.Order, error) {
	return domain.Order{OrderNumber: number}, nil
}

func (s *stubOrderService) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderService) Ship(ctx context.Context, cmd services.ShipOrderCommand) (domain.Order, error) {
	if s.shipFn != nil {
		return s.shipFn(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) Complete(ctx context.Context, cmd services.CompleteOrderCommand) (domain.Order, error) {
	return domain.Order{ID: cmd.OrderID, Status: domain.OrderStatusDelivered}, nil
}

func (s *stubOrderService) Refund(ctx context.Context, cmd services.RefundOrderCommand) (domain.Order, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, cmd)
	}
	return domain.Order{}, nil
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
	return domain.Order{ID: cmd.OrderID, Status: domain.OrderStatusCancelled, CancelReason: cmd.Reason}, nil
}

func (s *stubOrderService) History(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.EventLogEntry], error) {
	return domain.CursorPage[domain.EventLogEntry]{Items: []domain.EventLogEntry{
		{ID: "log-1", Action: "order.created", RefID: orderID},
	}}, nil
}

func newOrderTestRouter(svc services.OrderService, opts ...OrderHandlerOption) http.Handler {
	r := chi.NewRouter()
	r.Route("/orders", NewOrderHandlers(svc, opts...).Routes)
	return r
}

func TestCreateOrderEndpoint(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
			if cmd.Actor != "hana" {
				t.Fatalf("expected actor from header, got %q", cmd.Actor)
			}
			if len(cmd.Items) != 1 || cmd.Items[0].Quantity != 2 {
				t.Fatalf("unexpected items %+v", cmd.Items)
			}
			return domain.Order{ID: "o1", OrderNumber: "ORD-241225-001", Status: domain.OrderStatusPaid, TotalAmount: 10000}, nil
		},
	}
	router := newOrderTestRouter(svc)

	body := `{"items":[{"product_id":"p1","quantity":2,"unit_price":5000}],"customer_name":"김민수","customer_pccc":"P12345678901"}`
	req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(body))
	req.Header.Set(actorHeader, "hana")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload.Order.OrderNumber != "ORD-241225-001" || payload.Order.Status != "paid" {
		t.Fatalf("unexpected payload %+v", payload.Order)
	}
}

func TestCreateOrderRejectsMalformedCustomsCode(t *testing.T) {
	router := newOrderTestRouter(&stubOrderService{})

	body := `{"items":[{"product_id":"p1","quantity":1,"unit_price":100}],"customer_name":"김민수","customer_pccc":"X123"}`
	req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid_pccc") {
		t.Fatalf("expected invalid_pccc code, got %s", rr.Body.String())
	}
}

func TestCreateOrderMapsInsufficientStockToConflict(t *testing.T) {
	svc := &stubOrderService{
		createFn: func(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
			return domain.Order{}, fmt.Errorf("%w: insufficient stock for Black Tee", services.ErrOrderInsufficientStock)
		},
	}
	router := newOrderTestRouter(svc)

	body := `{"items":[{"product_id":"p1","quantity":99,"unit_price":100}],"customer_name":"김민수"}`
	req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestCreateOrderRateLimited(t *testing.T) {
	svc := &stubOrderService{}
	now := time.Date(2024, 12, 25, 3, 0, 0, 0, time.UTC)
	router := newOrderTestRouter(svc, WithOrderCreateRateLimit(1, time.Minute, func() time.Time { return now }))

	body := `{"items":[{"product_id":"p1","quantity":1,"unit_price":100}],"customer_name":"김민수"}`
	for i, want := range []int{http.StatusCreated, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(body))
		req.Header.Set(actorHeader, "hana")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("request %d: expected status %d, got %d", i, want, rr.Code)
		}
	}
}

func TestGetOrderNotFound(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(ctx context.Context, orderID string) (domain.Order, error) {
			return domain.Order{}, fmt.Errorf("%w: %s", services.ErrOrderNotFound, orderID)
		},
	}
	router := newOrderTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/orders/ghost", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestListOrdersRejectsUnknownStatus(t *testing.T) {
	router := newOrderTestRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/orders/?status=teleported", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestListOrdersPassesFilterThrough(t *testing.T) {
	var captured repositories.OrderListFilter
	svc := &stubOrderService{
		listFn: func(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			captured = filter
			return domain.CursorPage[domain.Order]{
				Items:         []domain.Order{{ID: "o1", Status: domain.OrderStatusPaid}},
				NextPageToken: "tok",
			}, nil
		},
	}
	router := newOrderTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/orders/?status=paid&page_size=5&page_token=abc", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Status != domain.OrderStatusPaid || captured.Pager.PageSize != 5 || captured.Pager.PageToken != "abc" {
		t.Fatalf("unexpected filter %+v", captured)
	}
	var payload orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload.NextPageToken != "tok" || len(payload.Items) != 1 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestShipOrderMapsInvalidState(t *testing.T) {
	svc := &stubOrderService{
		shipFn: func(ctx context.Context, cmd services.ShipOrderCommand) (domain.Order, error) {
			return domain.Order{}, fmt.Errorf("%w: cannot move order o1 from delivered to shipped", services.ErrOrderInvalidState)
		},
	}
	router := newOrderTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/orders/o1:ship", strings.NewReader(`{"courier_company":"CJ","tracking_number":"TRK1"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestOrderHistoryEndpoint(t *testing.T) {
	router := newOrderTestRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodGet, "/orders/o1/history", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var payload eventLogListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].Action != "order.created" {
		t.Fatalf("unexpected payload %+v", payload.Items)
	}
}
