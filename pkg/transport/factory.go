package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	mcperrors "github.com/meshmcp/meshmcp/pkg/errors"
	"github.com/meshmcp/meshmcp/pkg/registry"
)

// Factory builds and caches one Transport per backend descriptor, and
// doubles as the registry.Prechecker and health.Prober implementations so
// neither of those packages needs to import this one.
type Factory struct {
	mu    sync.Mutex
	byID  map[string]Transport
	sse   *sseCache
	strm  *streamableCache

	httpMaxConns   int
	httpMaxIdleAge time.Duration
	httpMaxRetries int
}

// NewFactory constructs a Factory. The HTTP pool parameters apply to every
// HTTP-transport backend it builds (spec.md ยง4.1 HTTP adapter defaults).
func NewFactory(httpMaxConns int, httpMaxIdleAge time.Duration, httpMaxRetries int) *Factory {
	return &Factory{
		byID:           make(map[string]Transport),
		sse:            newSSECache(),
		strm:           newStreamableCache(),
		httpMaxConns:   httpMaxConns,
		httpMaxIdleAge: httpMaxIdleAge,
		httpMaxRetries: httpMaxRetries,
	}
}

// For returns the cached Transport for d, building one on first use.
func (f *Factory) For(d *registry.Descriptor) (Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if t, ok := f.byID[d.ID]; ok {
		return t, nil
	}

	t, err := f.build(d)
	if err != nil {
		return nil, err
	}
	f.byID[d.ID] = t
	return t, nil
}

func (f *Factory) build(d *registry.Descriptor) (Transport, error) {
	switch d.Transport {
	case registry.TransportStdio:
		if d.Stdio == nil {
			return nil, fmt.Errorf("backend %s: transport stdio missing StdioSpec", d.ID)
		}
		timeout := time.Duration(d.HealthCheck.TimeoutSeconds) * time.Second
		return NewStdioTransport(d.Stdio, timeout), nil
	case registry.TransportHTTP:
		if d.HTTP == nil {
			return nil, fmt.Errorf("backend %s: transport http missing HTTPSpec", d.ID)
		}
		return NewHTTPTransport(d.HTTP, f.httpMaxConns, f.httpMaxIdleAge, f.httpMaxRetries), nil
	case registry.TransportSSE:
		if d.SSE == nil {
			return nil, fmt.Errorf("backend %s: transport sse missing SSESpec", d.ID)
		}
		return f.sse.get(d.SSE), nil
	case registry.TransportStreamable:
		if d.Streamable == nil {
			return nil, fmt.Errorf("backend %s: transport streamable missing StreamableSpec", d.ID)
		}
		return f.strm.get(d.Streamable), nil
	default:
		return nil, fmt.Errorf("backend %s: unknown transport kind %q", d.ID, d.Transport)
	}
}

// Release closes and forgets the transport for backend id, used by the
// registry's release hook when a backend is dropped from a new snapshot
// (spec.md ยง4.5 grace-period reclamation).
func (f *Factory) Release(id string) {
	f.mu.Lock()
	t, ok := f.byID[id]
	if ok {
		delete(f.byID, id)
	}
	f.mu.Unlock()
	if ok {
		_ = t.Close()
	}
}

// Precheck implements registry.Prechecker (spec.md ยง4.5): HTTP backends get
// a real GET <url>/health probe; STDIO backends only need their command to
// resolve; SSE/Streamable backends are accepted outright since their first
// real submission performs the MCP handshake.
func (f *Factory) Precheck(ctx context.Context, d *registry.Descriptor) error {
	switch d.Transport {
	case registry.TransportHTTP:
		t, err := f.For(d)
		if err != nil {
			return err
		}
		hp, ok := t.(*HTTPTransport)
		if !ok {
			return mcperrors.NewInternalError("http transport precheck: unexpected type", nil)
		}
		return hp.Precheck(ctx, d)
	case registry.TransportStdio:
		return resolveCommand(d.Stdio.Command)
	default:
		return nil
	}
}

// Probe implements health.Prober (spec.md ยง4.2).
func (f *Factory) Probe(ctx context.Context, d *registry.Descriptor) error {
	switch d.Transport {
	case registry.TransportHTTP:
		t, err := f.For(d)
		if err != nil {
			return err
		}
		hp, ok := t.(*HTTPTransport)
		if !ok {
			return mcperrors.NewInternalError("http transport probe: unexpected type", nil)
		}
		return hp.Probe(ctx, d)
	case registry.TransportStdio:
		return probeStdio(ctx, d.Stdio)
	default:
		// SSE/Streamable backends are probed by a lightweight initialize
		// round-trip through the pooled transport itself.
		t, err := f.For(d)
		if err != nil {
			return err
		}
		_, err = t.Submit(ctx, initializeRequest(0))
		return err
	}
}
