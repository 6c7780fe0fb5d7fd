// Package email is a stand-in mail service that records each message once
// per Idempotency-Key.
package email

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type Message struct {
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

type Handler struct {
	logger *slog.Logger

	mu   sync.Mutex
	sent map[string]Message
	log  []Message
}

func NewHandler(logger *slog.Logger) *Handler {
	return &Handler{
		logger: logger,
		sent:   make(map[string]Message),
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.To == "" || req.Subject == "" {
		h.writeError(w, http.StatusBadRequest, "missing to or subject")
		return
	}

	key := r.Header.Get(IdempotencyKeyHeader)

	h.mu.Lock()
	if _, dup := h.sent[key]; key != "" && dup {
		h.mu.Unlock()
		h.logger.Info("duplicate email suppressed", "idempotency_key", key, "to", req.To)
		h.writeJSON(w, http.StatusOK, sendResponse{Status: "duplicate"})
		return
	}
	msg := Message{To: req.To, Subject: req.Subject, Body: req.Body, SentAt: time.Now().UTC()}
	if key != "" {
		h.sent[key] = msg
	}
	h.log = append(h.log, msg)
	h.mu.Unlock()

	h.logger.Info("email sent", "to", req.To, "subject", req.Subject, "idempotency_key", key)

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent"})
}

// HandleList returns every message sent so far, oldest first.
func (h *Handler) HandleList(w http.ResponseWriter, _ *http.Request) {
	h.mu.Lock()
	messages := make([]Message, len(h.log))
	copy(messages, h.log)
	h.mu.Unlock()

	h.writeJSON(w, http.StatusOK, messages)
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
