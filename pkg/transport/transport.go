// Package transport implements the four backend wire adapters described in
// spec.md ยง4.1: STDIO, HTTP, SSE, and Streamable-HTTP. Every adapter
// exposes the same Transport interface so the handler and router never need
// to know which wire style a given backend speaks.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	mcperrors "github.com/meshmcp/meshmcp/pkg/errors"
)

// Transport submits one JSON-RPC request to a backend and returns its raw
// response bytes.
type Transport interface {
	Submit(ctx context.Context, request []byte) ([]byte, error)
	Close() error
}

// MaxFrameBytes is the hard inbound frame-size limit shared by every
// adapter that frames its own messages (spec.md ยง4.1 STDIO: "reject any
// inbound frame whose length exceeds 10 MB").
const MaxFrameBytes = 10 * 1024 * 1024

// ProtocolVersion is the MCP protocol version advertised in the
// initialize handshake (spec.md ยง4.1).
const ProtocolVersion = "2024-11-05"

// ClientName/ClientVersion identify this proxy to backends during
// initialize.
const (
	ClientName    = "meshmcp"
	ClientVersion = "0.1.0"
)

// initializeRequest builds the MCP initialize request body every adapter
// that owns a session sends before any other traffic.
func initializeRequest(id int) []byte {
	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"method":  "initialize",
		"params": map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities":    map[string]any{},
			"clientInfo": map[string]any{
				"name":    ClientName,
				"version": ClientVersion,
			},
		},
	}
	b, _ := json.Marshal(req)
	return b
}

// Retryable reports whether err represents a transport-level failure the
// handler should retry (network timeout, connection error, generic
// transport error), as opposed to a terminal failure (auth denial, parse
// error, well-formed error response) that must propagate immediately
// (spec.md ยง4.6 "per-request failure and retry").
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if mcperrors.IsTransportTerminal(err) {
		return false
	}
	if mcperrors.IsTransport(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

func classifyHTTPStatus(status int) error {
	if status >= 200 && status < 300 {
		return nil
	}
	return mcperrors.NewTransportTerminalError(fmt.Sprintf("backend returned HTTP %d", status), nil)
}
