package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Request is a vendor-agnostic outbound API request.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// Response is the raw result of a transport send.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Transport sends one request and returns the raw response. The engine makes
// no assumptions about TLS or HTTP specifics beyond status-code-based
// classification; any request/response carrier can implement this.
//
// Implementations must honour ctx cancellation and return an error only for
// network-level failures. HTTP-level failures (4xx/5xx) are returned as a
// Response and classified by the caller.
type Transport interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// maxResponseBody caps response reads to guard against a misbehaving endpoint.
const maxResponseBody = 4 << 20

// HTTPTransport implements Transport over net/http.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTransport creates a transport rooted at baseURL.
//
// The per-call timeout is enforced by callers through ctx; the http.Client
// timeout here is a hard outer bound against leaked requests.
func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout + 5*time.Second,
		},
	}
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req Request) (Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, t.baseURL+req.Path, body)
	if err != nil {
		return Response{}, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return Response{}, fmt.Errorf("%w: reading body: %w", ErrNetwork, err)
	}

	return Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       data,
	}, nil
}
