package orders

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

type fakeOrderStore struct {
	created   []*domain.Order
	byID      map[string]*domain.Order
	createErr error
}

func (f *fakeOrderStore) Create(_ context.Context, order *domain.Order) error {
	if f.createErr != nil {
		return f.createErr
	}
	order.ID = "order-1"
	f.created = append(f.created, order)
	return nil
}

func (f *fakeOrderStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	return f.byID[id], nil
}

func (f *fakeOrderStore) GetByTransactionUUID(_ context.Context, transactionUUID string) (*domain.Order, error) {
	for _, o := range f.byID {
		if o.TransactionUUID == transactionUUID {
			return o, nil
		}
	}
	return nil, nil
}

func (f *fakeOrderStore) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range f.byID {
		if o.CustomerID == customerID && len(out) < limit {
			out = append(out, *o)
		}
	}
	return out, nil
}

type fakeCatalog map[string]*domain.Product

func (c fakeCatalog) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	return c[id], nil
}

func newTestHandler(store *fakeOrderStore) *Handler {
	catalog := fakeCatalog{
		"ITEM-001": {ID: "ITEM-001", Price: 1000, Quantity: 10},
		"ITEM-002": {ID: "ITEM-002", Price: 250, Quantity: 10},
	}
	return NewHandler(store, catalog, Pricing{ShippingFee: 100, TaxBasisPoints: 1000}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandler_HandleCreate(t *testing.T) {
	t.Run("creates pending order with snapshot prices", func(t *testing.T) {
		store := &fakeOrderStore{}
		handler := newTestHandler(store)

		body := `{"customer_id":"cust-1","transaction_uuid":"abc-123","items":[{"product_id":"ITEM-001","quantity":2},{"product_id":"ITEM-002","quantity":2}]}`
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()

		handler.HandleCreate(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
		}

		var order domain.Order
		if err := json.NewDecoder(rec.Body).Decode(&order); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if order.Status != domain.OrderStatusPending {
			t.Errorf("expected PENDING, got %s", order.Status)
		}
		if order.TransactionUUID != "abc-123" {
			t.Errorf("expected transaction_uuid abc-123, got %s", order.TransactionUUID)
		}
		if order.Subtotal != 2500 || order.Shipping != 100 || order.Tax != 250 || order.TotalAmount != 2850 {
			t.Errorf("unexpected amounts: %+v", order)
		}
		if order.Items[0].UnitPrice != 1000 {
			t.Errorf("expected unit price snapshot 1000, got %d", order.Items[0].UnitPrice)
		}
	})

	t.Run("generates transaction uuid when absent", func(t *testing.T) {
		store := &fakeOrderStore{}
		handler := newTestHandler(store)

		body := `{"customer_id":"cust-1","items":[{"product_id":"ITEM-001","quantity":1}]}`
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()

		handler.HandleCreate(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d", rec.Code)
		}
		if store.created[0].TransactionUUID == "" {
			t.Error("expected generated transaction uuid")
		}
	})

	t.Run("rejects bad input", func(t *testing.T) {
		cases := map[string]string{
			"invalid json":      `{`,
			"missing customer":  `{"items":[{"product_id":"ITEM-001","quantity":1}]}`,
			"no items":          `{"customer_id":"cust-1","items":[]}`,
			"zero quantity":     `{"customer_id":"cust-1","items":[{"product_id":"ITEM-001","quantity":0}]}`,
			"unknown product":   `{"customer_id":"cust-1","items":[{"product_id":"NOPE","quantity":1}]}`,
			"quantity overflow": `{"customer_id":"cust-1","items":[{"product_id":"ITEM-001","quantity":2147483648}]}`,
		}
		for name, body := range cases {
			t.Run(name, func(t *testing.T) {
				store := &fakeOrderStore{}
				handler := newTestHandler(store)

				req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
				rec := httptest.NewRecorder()
				handler.HandleCreate(rec, req)

				if rec.Code != http.StatusBadRequest {
					t.Errorf("expected status 400, got %d", rec.Code)
				}
				if len(store.created) != 0 {
					t.Error("expected no order to be created")
				}
			})
		}
	})

	t.Run("returns 409 on duplicate transaction uuid", func(t *testing.T) {
		handler := newTestHandler(&fakeOrderStore{createErr: ErrDuplicateTransaction})

		body := `{"customer_id":"cust-1","transaction_uuid":"abc-123","items":[{"product_id":"ITEM-001","quantity":1}]}`
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.HandleCreate(rec, req)

		if rec.Code != http.StatusConflict {
			t.Errorf("expected status 409, got %d", rec.Code)
		}
	})

	t.Run("returns 500 on store failure", func(t *testing.T) {
		handler := newTestHandler(&fakeOrderStore{createErr: errors.New("connection refused")})

		body := `{"customer_id":"cust-1","items":[{"product_id":"ITEM-001","quantity":1}]}`
		req := httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.HandleCreate(rec, req)

		if rec.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleGetByTransaction(t *testing.T) {
	store := &fakeOrderStore{byID: map[string]*domain.Order{
		"order-1": {ID: "order-1", TransactionUUID: "abc-123", Status: domain.OrderStatusPending},
	}}
	handler := newTestHandler(store)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /orders/by-transaction/{transactionUUID}", handler.HandleGetByTransaction)
	mux.HandleFunc("GET /orders/{id}", handler.HandleGet)

	t.Run("found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/by-transaction/abc-123", nil))

		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}
		var order domain.Order
		if err := json.NewDecoder(rec.Body).Decode(&order); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if order.Status != domain.OrderStatusPending {
			t.Errorf("expected PENDING, got %s", order.Status)
		}
	})

	t.Run("not found", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/by-transaction/missing", nil))

		if rec.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rec.Code)
		}
	})

	t.Run("by id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/order-1", nil))

		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rec.Code)
		}
	})
}

func TestHandler_HandleList(t *testing.T) {
	store := &fakeOrderStore{byID: map[string]*domain.Order{
		"order-1": {ID: "order-1", CustomerID: "cust-1"},
		"order-2": {ID: "order-2", CustomerID: "cust-2"},
	}}
	handler := newTestHandler(store)

	t.Run("requires customer id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.HandleList(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("rejects invalid limit", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.HandleList(rec, httptest.NewRequest(http.MethodGet, "/orders?customer_id=cust-1&limit=-1", nil))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rec.Code)
		}
	})

	t.Run("lists customer orders", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.HandleList(rec, httptest.NewRequest(http.MethodGet, "/orders?customer_id=cust-1", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rec.Code)
		}

		var orders []domain.Order
		if err := json.NewDecoder(rec.Body).Decode(&orders); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(orders) != 1 || orders[0].ID != "order-1" {
			t.Errorf("unexpected orders: %+v", orders)
		}
	})
}
