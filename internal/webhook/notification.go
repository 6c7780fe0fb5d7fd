package webhook

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

const maxBodyBytes = 64 << 10

// ErrMalformed marks a notification that cannot be parsed or lacks a
// required field.
var ErrMalformed = errors.New("malformed notification")

type rawNotification struct {
	TransactionUUID string          `json:"transaction_uuid"`
	TotalAmount     json.RawMessage `json:"total_amount"`
	ProductCode     string          `json:"product_code"`
	TransactionCode string          `json:"transaction_code"`
	RefID           string          `json:"ref_id"`
	Status          string          `json:"status"`
	Signature       string          `json:"signature"`
	Timestamp       string          `json:"timestamp"`
	Data            string          `json:"data"`
}

// DecodeNotification reads a notification posted as JSON, as a form, or as
// a single base64 "data" field carrying JSON in either the form or the
// query string.
func DecodeNotification(r *http.Request) (domain.PaymentNotification, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return domain.PaymentNotification{}, fmt.Errorf("%w: read body: %v", ErrMalformed, err)
	}
	if len(body) > maxBodyBytes {
		return domain.PaymentNotification{}, fmt.Errorf("%w: body too large", ErrMalformed)
	}

	var raw rawNotification
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch {
	case mediaType == "application/json" || (mediaType == "" && bytes.HasPrefix(bytes.TrimSpace(body), []byte("{"))):
		if err := json.Unmarshal(body, &raw); err != nil {
			return domain.PaymentNotification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
	default:
		r.Body = io.NopCloser(bytes.NewReader(body))
		if err := r.ParseForm(); err != nil {
			return domain.PaymentNotification{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		raw = rawNotification{
			TransactionUUID: r.Form.Get("transaction_uuid"),
			ProductCode:     r.Form.Get("product_code"),
			TransactionCode: r.Form.Get("transaction_code"),
			RefID:           r.Form.Get("ref_id"),
			Status:          r.Form.Get("status"),
			Signature:       r.Form.Get("signature"),
			Timestamp:       r.Form.Get("timestamp"),
			Data:            r.Form.Get("data"),
		}
		if amount := r.Form.Get("total_amount"); amount != "" {
			raw.TotalAmount, _ = json.Marshal(amount)
		}
	}

	if raw.Data != "" && raw.TransactionUUID == "" {
		decoded, err := decodeData(raw.Data)
		if err != nil {
			return domain.PaymentNotification{}, err
		}
		raw = decoded
	}

	return raw.notification()
}

func decodeData(data string) (rawNotification, error) {
	payload, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		payload, err = base64.URLEncoding.DecodeString(data)
	}
	if err != nil {
		return rawNotification{}, fmt.Errorf("%w: data is not base64", ErrMalformed)
	}

	var raw rawNotification
	if err := json.Unmarshal(payload, &raw); err != nil {
		return rawNotification{}, fmt.Errorf("%w: data is not JSON: %v", ErrMalformed, err)
	}
	return raw, nil
}

func (raw rawNotification) notification() (domain.PaymentNotification, error) {
	amount, err := amountText(raw.TotalAmount)
	if err != nil {
		return domain.PaymentNotification{}, err
	}

	n := domain.PaymentNotification{
		TransactionUUID: strings.TrimSpace(raw.TransactionUUID),
		TotalAmount:     amount,
		ProductCode:     strings.TrimSpace(raw.ProductCode),
		TransactionCode: strings.TrimSpace(raw.TransactionCode),
		Status:          domain.GatewayStatus(strings.ToUpper(strings.TrimSpace(raw.Status))),
		Signature:       strings.TrimSpace(raw.Signature),
		Timestamp:       strings.TrimSpace(raw.Timestamp),
	}
	if n.TransactionCode == "" {
		n.TransactionCode = strings.TrimSpace(raw.RefID)
	}

	switch {
	case n.TransactionUUID == "":
		return n, fmt.Errorf("%w: missing transaction_uuid", ErrMalformed)
	case n.TotalAmount == "":
		return n, fmt.Errorf("%w: missing total_amount", ErrMalformed)
	case n.Status == "":
		return n, fmt.Errorf("%w: missing status", ErrMalformed)
	}

	return n, nil
}

// amountText returns total_amount exactly as the gateway wrote it, whether
// it arrived as a JSON string or a JSON number.
func amountText(v json.RawMessage) (string, error) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return "", nil
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", fmt.Errorf("%w: total_amount: %v", ErrMalformed, err)
		}
		return strings.TrimSpace(s), nil
	}

	var n json.Number
	if err := json.Unmarshal(v, &n); err != nil {
		return "", fmt.Errorf("%w: total_amount must be a string or number", ErrMalformed)
	}
	return n.String(), nil
}
