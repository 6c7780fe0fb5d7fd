package gateway

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// forwardedRequestHeaders are copied from the inbound request verbatim.
var forwardedRequestHeaders = []string{
	"Content-Type",
	"Accept",
	"X-Webhook-Timestamp",
}

type ServiceProxy struct {
	baseURL string
	client  *http.Client
}

func NewServiceProxy(baseURL string, client *http.Client) *ServiceProxy {
	return &ServiceProxy{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

// ForwardRequest replays r against the upstream at path, keeping the query
// string and appending the caller's address to X-Forwarded-For.
func (p *ServiceProxy) ForwardRequest(ctx context.Context, r *http.Request, path string) (*http.Response, error) {
	target := p.baseURL + path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		return nil, err
	}

	for _, name := range forwardedRequestHeaders {
		if v := r.Header.Get(name); v != "" {
			req.Header.Set(name, v)
		}
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		forwarded := host
		if prior := r.Header.Values("X-Forwarded-For"); len(prior) > 0 {
			forwarded = strings.Join(prior, ", ") + ", " + host
		}
		req.Header.Set("X-Forwarded-For", forwarded)
	}

	return p.client.Do(req)
}
