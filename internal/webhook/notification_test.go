package webhook

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

func TestDecodeNotification(t *testing.T) {
	t.Run("json with string amount", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(
			`{"transaction_uuid":"abc-123","total_amount":"100","product_code":"EPAYTEST","transaction_code":"REF1","status":"COMPLETE","signature":"sig","timestamp":"2026-01-01T10:00:00Z"}`))
		req.Header.Set("Content-Type", "application/json")

		n, err := DecodeNotification(req)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentNotification{
			TransactionUUID: "abc-123",
			TotalAmount:     "100",
			ProductCode:     "EPAYTEST",
			TransactionCode: "REF1",
			Status:          domain.GatewayStatusComplete,
			Signature:       "sig",
			Timestamp:       "2026-01-01T10:00:00Z",
		}, n)
	})

	t.Run("json with numeric amount keeps its text", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(
			`{"transaction_uuid":"abc-123","total_amount":2500.0,"status":"complete","ref_id":"R-9"}`))
		req.Header.Set("Content-Type", "application/json; charset=utf-8")

		n, err := DecodeNotification(req)
		require.NoError(t, err)
		assert.Equal(t, "2500.0", n.TotalAmount)
		assert.Equal(t, domain.GatewayStatusComplete, n.Status)
		assert.Equal(t, "R-9", n.TransactionCode)
	})

	t.Run("form encoded", func(t *testing.T) {
		form := url.Values{
			"transaction_uuid": {"abc-123"},
			"total_amount":     {"100"},
			"product_code":     {"EPAYTEST"},
			"status":           {"FAILED"},
			"signature":        {"sig"},
		}
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		n, err := DecodeNotification(req)
		require.NoError(t, err)
		assert.Equal(t, "abc-123", n.TransactionUUID)
		assert.Equal(t, "100", n.TotalAmount)
		assert.Equal(t, domain.GatewayStatusFailed, n.Status)
	})

	t.Run("base64 data field in query", func(t *testing.T) {
		payload := base64.StdEncoding.EncodeToString([]byte(
			`{"transaction_uuid":"abc-123","total_amount":"100.0","product_code":"EPAYTEST","transaction_code":"000AWEO","status":"COMPLETE","signature":"sig","signed_field_names":"total_amount,transaction_uuid,product_code"}`))
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment?data="+url.QueryEscape(payload), nil)

		n, err := DecodeNotification(req)
		require.NoError(t, err)
		assert.Equal(t, "abc-123", n.TransactionUUID)
		assert.Equal(t, "100.0", n.TotalAmount)
		assert.Equal(t, "000AWEO", n.TransactionCode)
	})

	t.Run("base64 data field in form", func(t *testing.T) {
		payload := base64.StdEncoding.EncodeToString([]byte(`{"transaction_uuid":"abc-123","total_amount":"100","status":"COMPLETE"}`))
		req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(url.Values{"data": {payload}}.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		n, err := DecodeNotification(req)
		require.NoError(t, err)
		assert.Equal(t, "abc-123", n.TransactionUUID)
	})

	malformed := []struct {
		name        string
		contentType string
		body        string
	}{
		{name: "invalid json", contentType: "application/json", body: `{"transaction_uuid":`},
		{name: "missing transaction_uuid", contentType: "application/json", body: `{"total_amount":"100","status":"COMPLETE"}`},
		{name: "missing total_amount", contentType: "application/json", body: `{"transaction_uuid":"abc","status":"COMPLETE"}`},
		{name: "missing status", contentType: "application/json", body: `{"transaction_uuid":"abc","total_amount":"100"}`},
		{name: "boolean amount", contentType: "application/json", body: `{"transaction_uuid":"abc","total_amount":true,"status":"COMPLETE"}`},
		{name: "data not base64", contentType: "application/x-www-form-urlencoded", body: "data=%%%"},
		{name: "empty form", contentType: "application/x-www-form-urlencoded", body: ""},
	}

	for _, tt := range malformed {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)

			_, err := DecodeNotification(req)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}
