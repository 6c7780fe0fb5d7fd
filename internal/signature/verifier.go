// Package signature signs and verifies gateway payment notifications with
// HMAC-SHA256 over a fixed, comma separated field list.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Fields is the canonical signed field set. The order of the fields in the
// signed message is total_amount, transaction_uuid, product_code.
type Fields struct {
	TotalAmount     string
	TransactionUUID string
	ProductCode     string
}

func (f Fields) complete() bool {
	return f.TotalAmount != "" && f.TransactionUUID != "" && f.ProductCode != ""
}

// Message returns the exact string that is signed.
func (f Fields) Message() string {
	var b strings.Builder
	b.WriteString("total_amount=")
	b.WriteString(f.TotalAmount)
	b.WriteString(",transaction_uuid=")
	b.WriteString(f.TransactionUUID)
	b.WriteString(",product_code=")
	b.WriteString(f.ProductCode)
	return b.String()
}

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign returns the standard base64 encoding of the MAC over f.Message().
func (v *Verifier) Sign(f Fields) string {
	return base64.StdEncoding.EncodeToString(v.mac(f.Message()))
}

// Verify reports whether provided is a valid signature for f. It returns
// false for incomplete fields, undecodable signatures and mismatches.
func (v *Verifier) Verify(f Fields, provided string) bool {
	if !f.complete() || provided == "" {
		return false
	}

	got, err := base64.StdEncoding.DecodeString(provided)
	if err != nil {
		return false
	}

	return hmac.Equal(got, v.mac(f.Message()))
}

func (v *Verifier) mac(message string) []byte {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(message))
	return h.Sum(nil)
}
