package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"sync"
	"sync/atomic"

	mcperrors "github.com/meshmcp/meshmcp/pkg/errors"
	"github.com/meshmcp/meshmcp/pkg/registry"
)

const sessionHeader = "mcp-session-id"

// StreamableTransport speaks Streamable-HTTP to a single `/mcp` endpoint,
// transparently initializing on first use and carrying the session id it
// is handed back (spec.md ยง4.1 Streamable-HTTP adapter).
type StreamableTransport struct {
	url     string
	headers map[string]string
	client  *http.Client
	nextID  atomic.Int64

	mu        sync.Mutex
	sessionID string
}

// NewStreamableTransport constructs a transport for spec.
func NewStreamableTransport(spec *registry.StreamableSpec) *StreamableTransport {
	client := &http.Client{}
	if spec.Timeout > 0 {
		client.Timeout = spec.Timeout
	}
	return &StreamableTransport{url: spec.URL, headers: spec.Headers, client: client}
}

// Submit sends request, transparently initializing first if no session is
// yet established and request is not itself an initialize call. A 400/401
// response clears the stored session so the next call re-initializes.
func (t *StreamableTransport) Submit(ctx context.Context, request []byte) ([]byte, error) {
	if t.currentSession() == "" && !isInitializeRequest(request) {
		if err := t.initialize(ctx); err != nil {
			return nil, mcperrors.NewTransportError("streamable: initialize failed", err)
		}
	}
	return t.post(ctx, request)
}

func (t *StreamableTransport) initialize(ctx context.Context) error {
	id := int(t.nextID.Add(1))
	_, err := t.post(ctx, initializeRequest(id))
	return err
}

func isInitializeRequest(request []byte) bool {
	var r struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(request, &r); err != nil {
		return false
	}
	return r.Method == "initialize"
}

func (t *StreamableTransport) post(ctx context.Context, request []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(request))
	if err != nil {
		return nil, mcperrors.NewTransportTerminalError("streamable: build request failed", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	if sid := t.currentSession(); sid != "" {
		req.Header.Set(sessionHeader, sid)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, mcperrors.NewTransportError("streamable: request failed", err)
	}
	defer resp.Body.Close()

	if sid := resp.Header.Get(sessionHeader); sid != "" {
		t.setSession(sid)
	}

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		t.setSession("")
		return nil, mcperrors.NewTransportTerminalError(fmt.Sprintf("streamable: backend returned %d, session cleared", resp.StatusCode), nil)
	}
	if resp.StatusCode >= 400 {
		return nil, mcperrors.NewTransportTerminalError(fmt.Sprintf("streamable: backend returned %d", resp.StatusCode), nil)
	}

	contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch contentType {
	case "text/event-stream":
		return parseSSE(resp.Body)
	default:
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(resp.Body); err != nil {
			return nil, mcperrors.NewTransportError("streamable: read body failed", err)
		}
		return buf.Bytes(), nil
	}
}

func (t *StreamableTransport) currentSession() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

func (t *StreamableTransport) setSession(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessionID = id
}

// Close releases pooled idle connections.
func (t *StreamableTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// streamableCache pools StreamableTransport instances by endpoint URL so a
// session survives across calls (spec.md ยง4.1 "transport instances are
// pooled by endpoint URL").
type streamableCache struct {
	mu    sync.Mutex
	byURL map[string]*StreamableTransport
}

func newStreamableCache() *streamableCache {
	return &streamableCache{byURL: make(map[string]*StreamableTransport)}
}

func (c *streamableCache) get(spec *registry.StreamableSpec) *StreamableTransport {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.byURL[spec.URL]; ok {
		return t
	}
	t := NewStreamableTransport(spec)
	c.byURL[spec.URL] = t
	return t
}
