package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	mcperrors "github.com/meshmcp/meshmcp/pkg/errors"
	"github.com/meshmcp/meshmcp/pkg/registry"
)

// HTTPTransport submits JSON-RPC requests to a single HTTP backend over a
// pooled *http.Client (spec.md ยง4.1 HTTP adapter).
type HTTPTransport struct {
	url        string
	headers    map[string]string
	client     *http.Client
	maxRetries int
}

// NewHTTPTransport constructs a transport for spec. maxConns/maxIdleAge
// bound the connection pool; maxRetries bounds the exponential-backoff
// retry loop (0 selects the spec default of 3).
func NewHTTPTransport(spec *registry.HTTPSpec, maxConns int, maxIdleAge time.Duration, maxRetries int) *HTTPTransport {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	transport := &http.Transport{
		MaxConnsPerHost:     maxConns,
		MaxIdleConnsPerHost: maxConns,
		IdleConnTimeout:     maxIdleAge,
	}
	return &HTTPTransport{
		url:        spec.URL,
		headers:    spec.Headers,
		client:     &http.Client{Transport: transport},
		maxRetries: maxRetries,
	}
}

// Submit POSTs request as JSON to the backend, retrying transport-level
// failures (connect, timeout, network) with exponential backoff starting
// at 100ms; well-formed HTTP errors >=400 are never retried (spec.md §4.1).
func (t *HTTPTransport) Submit(ctx context.Context, request []byte) ([]byte, error) {
	op := func() ([]byte, error) {
		resp, err := t.doOnce(ctx, request)
		if err != nil {
			if mcperrors.IsTransportTerminal(err) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return resp, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.Multiplier = 2

	result, err := backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(uint(t.maxRetries)))
	if err != nil {
		return nil, mcperrors.NewTransportError("http: submit failed after retries", err)
	}
	return result, nil
}

func (t *HTTPTransport) doOnce(ctx context.Context, request []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(request))
	if err != nil {
		return nil, mcperrors.NewTransportTerminalError("http: build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, mcperrors.NewTransportError("http: request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mcperrors.NewTransportError("http: read body failed", err)
	}

	if resp.StatusCode >= 400 {
		return nil, mcperrors.NewTransportTerminalError(fmt.Sprintf("http: backend returned %d", resp.StatusCode), nil)
	}
	return body, nil
}

// Precheck implements registry.Prechecker: GET <url>/health with a 5s
// budget, accepting any 2xx or 404 (many MCP servers lack /health).
func (t *HTTPTransport) Precheck(ctx context.Context, _ *registry.Descriptor) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return nil
	}
	return fmt.Errorf("http precheck: unexpected status %d", resp.StatusCode)
}

// Probe implements health.Prober: an HTTP POST <url>/health carrying an MCP
// health/check body (spec.md ยง4.2).
func (t *HTTPTransport) Probe(ctx context.Context, _ *registry.Descriptor) error {
	body := []byte(`{"jsonrpc":"2.0","id":0,"method":"health/check"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url+"/health", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return classifyHTTPStatus(resp.StatusCode)
}

// Close releases pooled idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
