package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/storefront-payments/internal/database"
	"github.com/joao-fontenele/storefront-payments/internal/domain"
	"github.com/joao-fontenele/storefront-payments/internal/fulfillment"
)

type Processor interface {
	Process(ctx context.Context, n domain.PaymentNotification) (fulfillment.Result, error)
}

type RejectionRecorder interface {
	RecordRejection(ctx context.Context, reason string)
}

type Handler struct {
	guard     *Guard
	processor Processor
	metrics   RejectionRecorder
	logger    *slog.Logger
}

func NewHandler(guard *Guard, processor Processor, metrics RejectionRecorder, logger *slog.Logger) *Handler {
	return &Handler{
		guard:     guard,
		processor: processor,
		metrics:   metrics,
		logger:    logger,
	}
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientIP := h.guard.ClientIP(r)

	if err := h.guard.CheckOrigin(clientIP); err != nil {
		h.rejected(w, r, clientIP.String(), "", err)
		return
	}

	n, err := DecodeNotification(r)
	if err != nil {
		h.logger.Warn("malformed payment notification", "error", err, "client_ip", clientIP.String())
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := h.guard.Admit(r, n); err != nil {
		h.rejected(w, r, clientIP.String(), n.TransactionUUID, err)
		return
	}

	result, err := h.processor.Process(r.Context(), n)
	if err != nil {
		h.processingFailed(w, n, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) rejected(w http.ResponseWriter, r *http.Request, clientIP, transactionUUID string, err error) {
	var rejection *Rejection
	if !errors.As(err, &rejection) {
		h.logger.Error("unexpected admission error", "error", err, "client_ip", clientIP)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	if h.metrics != nil {
		h.metrics.RecordRejection(r.Context(), string(rejection.Reason))
	}
	h.logger.Warn("payment notification rejected",
		"reason", string(rejection.Reason),
		"detail", rejection.Detail,
		"client_ip", clientIP,
		"transaction_uuid", transactionUUID,
	)
	h.writeJSON(w, rejection.StatusCode(), errorResponse{Error: "notification rejected", Reason: string(rejection.Reason)})
}

func (h *Handler) processingFailed(w http.ResponseWriter, n domain.PaymentNotification, err error) {
	var mismatch *fulfillment.AmountMismatchError
	var insufficient *fulfillment.InsufficientStockError

	switch {
	case errors.As(err, &mismatch):
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Reason: fulfillment.ReasonAmountMismatch})
	case errors.As(err, &insufficient):
		h.writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Reason: fulfillment.ReasonInsufficientStock})
	case errors.Is(err, fulfillment.ErrOrderNotFound):
		h.logger.Warn("notification for unknown order", "transaction_uuid", n.TransactionUUID)
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "order not found", Reason: "ORDER_NOT_FOUND"})
	case errors.Is(err, fulfillment.ErrInvalidAmount), errors.Is(err, fulfillment.ErrUnknownStatus):
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case database.IsTransient(err):
		h.logger.Error("store unavailable during fulfillment", "error", err, "transaction_uuid", n.TransactionUUID)
		w.Header().Set("Retry-After", "5")
		h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "temporarily unavailable"})
	default:
		h.logger.Error("fulfillment failed", "error", err, "transaction_uuid", n.TransactionUUID)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
