package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	mcperrors "github.com/meshmcp/meshmcp/pkg/errors"
	"github.com/meshmcp/meshmcp/pkg/registry"
)

// SSETransport POSTs JSON-RPC requests and parses the Server-Sent-Events
// response body (spec.md ยง4.1 SSE adapter).
type SSETransport struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewSSETransport constructs a transport for spec.
func NewSSETransport(spec *registry.SSESpec) *SSETransport {
	return &SSETransport{url: spec.URL, headers: spec.Headers, client: &http.Client{}}
}

// Submit POSTs request and parses the SSE response, concatenating every
// `data:` line (lines beginning with `event:`, `id:`, `retry:`, or anything
// else are ignored) into a single JSON-RPC response body.
func (t *SSETransport) Submit(ctx context.Context, request []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(request))
	if err != nil {
		return nil, mcperrors.NewTransportTerminalError("sse: build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, mcperrors.NewTransportError("sse: request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mcperrors.NewTransportTerminalError(fmt.Sprintf("sse: backend returned %d", resp.StatusCode), nil)
	}

	data, err := parseSSE(resp.Body)
	if err != nil {
		return nil, mcperrors.NewTransportError("sse: parse failed", err)
	}
	return data, nil
}

// parseSSE collects every `data:` line's content, stripped of the prefix
// and surrounding whitespace, concatenated in order.
func parseSSE(body io.Reader) ([]byte, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameBytes)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			data.WriteString(strings.TrimSpace(rest))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if data.Len() == 0 {
		return nil, fmt.Errorf("sse: empty data")
	}
	return []byte(data.String()), nil
}

// Close releases the pooled *http.Client's idle connections; SSETransport
// holds no other long-lived connection state.
func (t *SSETransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// transportKey identifies an SSE transport instance by endpoint
// and the sorted set of header keys, so different auth realms never share
// cached state (spec.md ยง4.1 "transports are cached by (endpoint, sorted
// header keys)").
func transportKey(endpoint string, headers map[string]string) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return endpoint + "|" + strings.Join(keys, ",")
}

// sseCache caches SSETransport instances by transportKey.
type sseCache struct {
	mu    sync.Mutex
	byKey map[string]*SSETransport
}

func newSSECache() *sseCache { return &sseCache{byKey: make(map[string]*SSETransport)} }

func (c *sseCache) get(spec *registry.SSESpec) *SSETransport {
	k := transportKey(spec.URL, spec.Headers)
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.byKey[k]; ok {
		return t
	}
	t := NewSSETransport(spec)
	c.byKey[k] = t
	return t
}
