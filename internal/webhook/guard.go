// Package webhook admits payment gateway notifications and hands them to
// fulfillment.
package webhook

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/joao-fontenele/storefront-payments/internal/config"
	"github.com/joao-fontenele/storefront-payments/internal/domain"
	"github.com/joao-fontenele/storefront-payments/internal/signature"
)

type Reason string

const (
	ReasonOriginDenied     Reason = "ORIGIN_DENIED"
	ReasonTimestampInvalid Reason = "TIMESTAMP_INVALID"
	ReasonSignatureMissing Reason = "SIGNATURE_MISSING"
	ReasonSignatureInvalid Reason = "SIGNATURE_INVALID"
)

const TimestampHeader = "X-Webhook-Timestamp"

// Rejection is an admission failure. It never carries the signature or the
// shared secret.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

func (r *Rejection) StatusCode() int {
	if r.Reason == ReasonTimestampInvalid {
		return http.StatusBadRequest
	}
	return http.StatusForbidden
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

type Guard struct {
	verifier       *signature.Verifier
	productCode    string
	origins        []netip.Prefix
	trustedProxies []netip.Prefix
	originBypass   bool
	freshness      bool
	replayWindow   time.Duration
	policy         config.VerificationPolicy
	logger         *slog.Logger
	now            func() time.Time
}

func NewGuard(cfg config.WebhookConfig, verifier *signature.Verifier, logger *slog.Logger) (*Guard, error) {
	origins, err := parsePrefixes(cfg.AllowedOrigins)
	if err != nil {
		return nil, fmt.Errorf("allowed origins: %w", err)
	}
	proxies, err := parsePrefixes(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	return &Guard{
		verifier:       verifier,
		productCode:    cfg.ProductCode,
		origins:        origins,
		trustedProxies: proxies,
		originBypass:   cfg.OriginCheckBypass,
		freshness:      cfg.FreshnessCheck,
		replayWindow:   cfg.ReplayWindow,
		policy:         cfg.Policy,
		logger:         logger,
		now:            time.Now,
	}, nil
}

// parsePrefixes accepts CIDR ranges and bare addresses.
func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, err
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func contains(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the TCP peer address, or, when the peer is a trusted
// proxy, the first untrusted address found walking X-Forwarded-For from the
// right.
func (g *Guard) ClientIP(r *http.Request) netip.Addr {
	peer := peerAddr(r.RemoteAddr)
	if !peer.IsValid() || !contains(g.trustedProxies, peer) {
		return peer
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	client := peer
	for i := len(hops) - 1; i >= 0; i-- {
		addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			break
		}
		client = addr.Unmap()
		if !contains(g.trustedProxies, client) {
			break
		}
	}
	return client
}

func peerAddr(remoteAddr string) netip.Addr {
	if ap, err := netip.ParseAddrPort(remoteAddr); err == nil {
		return ap.Addr().Unmap()
	}
	if addr, err := netip.ParseAddr(remoteAddr); err == nil {
		return addr.Unmap()
	}
	return netip.Addr{}
}

func (g *Guard) CheckOrigin(addr netip.Addr) error {
	if g.originBypass {
		return nil
	}
	if !addr.IsValid() {
		return reject(ReasonOriginDenied, "client address unknown")
	}
	if !contains(g.origins, addr) {
		return reject(ReasonOriginDenied, "%s is not an allowed origin", addr)
	}
	return nil
}

// CheckFreshness rejects timestamps outside the replay window. The header
// takes precedence over the body field.
func (g *Guard) CheckFreshness(r *http.Request, n domain.PaymentNotification) error {
	if !g.freshness {
		return nil
	}

	raw := strings.TrimSpace(r.Header.Get(TimestampHeader))
	if raw == "" {
		raw = n.Timestamp
	}
	if raw == "" {
		return reject(ReasonTimestampInvalid, "missing timestamp")
	}

	ts, ok := parseTimestamp(raw)
	if !ok {
		return reject(ReasonTimestampInvalid, "unparseable timestamp %q", raw)
	}

	skew := g.now().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > g.replayWindow {
		return reject(ReasonTimestampInvalid, "timestamp outside %s window", g.replayWindow)
	}
	return nil
}

// timestampLayouts are the ISO-8601 forms gateways send. A value without a
// zone is read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(raw string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// CheckSignature verifies the HMAC over the canonical fields. A notification
// naming a different product code than the configured one fails
// verification. Under the lenient policy a missing signature is logged and
// admitted; a wrong one never is.
func (g *Guard) CheckSignature(n domain.PaymentNotification) error {
	productCode := n.ProductCode
	if productCode == "" {
		productCode = g.productCode
	}
	if productCode != g.productCode {
		return reject(ReasonSignatureInvalid, "unexpected product_code %q", productCode)
	}

	if n.Signature == "" {
		if g.policy == config.PolicyLenient {
			g.logger.Warn("admitting unsigned notification under lenient policy", "transaction_uuid", n.TransactionUUID)
			return nil
		}
		return reject(ReasonSignatureMissing, "missing signature")
	}

	fields := signature.Fields{
		TotalAmount:     n.TotalAmount,
		TransactionUUID: n.TransactionUUID,
		ProductCode:     productCode,
	}
	if !g.verifier.Verify(fields, n.Signature) {
		return reject(ReasonSignatureInvalid, "signature does not match")
	}
	return nil
}

// Admit runs the freshness and signature checks. The origin is checked
// before the body is read.
func (g *Guard) Admit(r *http.Request, n domain.PaymentNotification) error {
	if err := g.CheckFreshness(r, n); err != nil {
		return err
	}
	return g.CheckSignature(n)
}
