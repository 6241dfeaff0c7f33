package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meshmcp/meshmcp/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPTransport_Submit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(&registry.HTTPSpec{URL: srv.URL}, 4, time.Minute, 3)
	out, err := tr.Submit(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, string(out))
}

func TestHTTPTransport_Submit_RetriesTransportFailureNotClientError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(&registry.HTTPSpec{URL: srv.URL}, 4, time.Minute, 3)
	_, err := tr.Submit(context.Background(), []byte(`{}`))
	require.Error(t, err)
	assert.EqualValues(t, 1, calls.Load(), "a well-formed 4xx must not be retried")
}

func TestHTTPTransport_Precheck_Accepts404(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(&registry.HTTPSpec{URL: srv.URL}, 4, time.Minute, 3)
	assert.NoError(t, tr.Precheck(context.Background(), &registry.Descriptor{}))
}

func TestHTTPTransport_Precheck_RejectsServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(&registry.HTTPSpec{URL: srv.URL}, 4, time.Minute, 3)
	assert.Error(t, tr.Precheck(context.Background(), &registry.Descriptor{}))
}

func TestHTTPTransport_Probe(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(&registry.HTTPSpec{URL: srv.URL}, 4, time.Minute, 3)
	assert.NoError(t, tr.Probe(context.Background(), &registry.Descriptor{}))
}
