package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

type orderStore interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByTransactionUUID(ctx context.Context, transactionUUID string) (*domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error)
}

// ProductCatalog resolves current unit prices at checkout.
type ProductCatalog interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

type Handler struct {
	repo    orderStore
	catalog ProductCatalog
	pricing Pricing
	logger  *slog.Logger
}

func NewHandler(repo orderStore, catalog ProductCatalog, pricing Pricing, logger *slog.Logger) *Handler {
	return &Handler{
		repo:    repo,
		catalog: catalog,
		pricing: pricing,
		logger:  logger,
	}
}

type createOrderRequest struct {
	CustomerID      string `json:"customer_id"`
	TransactionUUID string `json:"transaction_uuid"`
	Items           []struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	} `json:"items"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.CustomerID == "" {
		h.writeError(w, http.StatusBadRequest, "missing customer_id")
		return
	}
	if len(req.Items) == 0 {
		h.writeError(w, http.StatusBadRequest, "order has no items")
		return
	}

	order := &domain.Order{
		CustomerID:      req.CustomerID,
		TransactionUUID: req.TransactionUUID,
		Status:          domain.OrderStatusPending,
		CreatedAt:       time.Now().UTC(),
	}
	if order.TransactionUUID == "" {
		order.TransactionUUID = uuid.New().String()
	}

	for _, line := range req.Items {
		if line.Quantity < 1 {
			h.writeError(w, http.StatusBadRequest, "quantity must be at least 1")
			return
		}
		if line.Quantity > math.MaxInt32 {
			h.writeError(w, http.StatusBadRequest, "quantity out of range")
			return
		}

		product, err := h.catalog.GetProduct(r.Context(), line.ProductID)
		if err != nil {
			h.logger.Error("failed to load product", "error", err, "product_id", line.ProductID)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		if product == nil {
			h.writeError(w, http.StatusBadRequest, "unknown product: "+line.ProductID)
			return
		}

		order.Items = append(order.Items, domain.OrderItem{
			ProductID: product.ID,
			Quantity:  line.Quantity,
			UnitPrice: product.Price,
		})
	}

	h.pricing.Apply(order)

	if err := h.repo.Create(r.Context(), order); err != nil {
		if errors.Is(err, ErrDuplicateTransaction) {
			h.writeError(w, http.StatusConflict, "transaction_uuid already used")
			return
		}
		h.logger.Error("failed to create order", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("order created",
		"order_id", order.ID,
		"transaction_uuid", order.TransactionUUID,
		"total_amount", order.TotalAmount,
	)
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.repo.GetByID(r.Context(), id)
	h.respondOrder(w, order, err, "id", id)
}

// HandleGetByTransaction serves the payer-facing status poll. A PENDING order
// means the payment is still being verified.
func (h *Handler) HandleGetByTransaction(w http.ResponseWriter, r *http.Request) {
	transactionUUID := r.PathValue("transactionUUID")
	if transactionUUID == "" {
		h.writeError(w, http.StatusBadRequest, "missing transaction uuid")
		return
	}

	order, err := h.repo.GetByTransactionUUID(r.Context(), transactionUUID)
	h.respondOrder(w, order, err, "transaction_uuid", transactionUUID)
}

func (h *Handler) respondOrder(w http.ResponseWriter, order *domain.Order, err error, key, value string) {
	if err != nil {
		h.logger.Error("failed to get order", "error", err, key, value)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		h.writeError(w, http.StatusBadRequest, "missing customer_id")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxListLimit)
	}

	orders, err := h.repo.ListByCustomer(r.Context(), customerID, limit)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("orders listed", "customer_id", customerID, "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
