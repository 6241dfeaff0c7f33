package transport

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	mcperrors "github.com/meshmcp/meshmcp/pkg/errors"
	"github.com/meshmcp/meshmcp/pkg/registry"
	"golang.org/x/sys/unix"
)

// StdioTransport owns one long-lived child process, respawning it whenever
// it is found dead (spec.md ยง4.1 STDIO adapter).
type StdioTransport struct {
	spec    *registry.StdioSpec
	timeout time.Duration

	mu      sync.Mutex // guards cmd/stdin/stdout lifecycle (spawn/respawn)
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	writeMu sync.Mutex // serializes stdin frame writes
	readMu  sync.Mutex // serializes stdout frame reads

	nextID atomic.Int64
}

// NewStdioTransport constructs a transport for spec. The child is spawned
// lazily on first Submit.
func NewStdioTransport(spec *registry.StdioSpec, timeout time.Duration) *StdioTransport {
	return &StdioTransport{spec: spec, timeout: timeout}
}

// Submit writes a length-prefixed frame to the child's stdin and reads one
// length-prefixed frame back from stdout, (re)spawning the child first if
// it is not currently alive.
func (t *StdioTransport) Submit(ctx context.Context, request []byte) ([]byte, error) {
	if err := t.ensureAlive(ctx); err != nil {
		return nil, mcperrors.NewTransportError("stdio: spawn failed", err)
	}

	deadline := t.timeout
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type result struct {
		resp []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if err := t.writeFrame(request); err != nil {
			done <- result{nil, mcperrors.NewTransportError("stdio: write failed", err)}
			return
		}
		resp, err := t.readFrame()
		if err != nil {
			done <- result{nil, mcperrors.NewTransportError("stdio: read failed", err)}
			return
		}
		done <- result{resp, nil}
	}()

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, mcperrors.NewTransportError("stdio: submit timed out", ctx.Err())
	}
}

// ensureAlive (re)spawns the child and performs the MCP initialize
// handshake if no process is currently running.
func (t *StdioTransport) ensureAlive(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cmd != nil && t.cmd.Process != nil && !processExited(t.cmd) {
		return nil
	}

	cmd := buildCommand(context.WithoutCancel(ctx), t.spec)
	cmd.Dir = t.spec.Cwd
	cmd.Env = os.Environ()
	for k, v := range t.spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Stderr = os.Stderr
	if os.Getuid() == 0 && t.spec.Sandbox {
		cmd.SysProcAttr = &syscall.SysProcAttr{Credential: &syscall.Credential{Uid: 1000, Gid: 1000}}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = bufio.NewReader(stdout)

	id := int(t.nextID.Add(1))
	if err := t.writeFrame(initializeRequest(id)); err != nil {
		return fmt.Errorf("stdio: initialize write failed: %w", err)
	}
	if _, err := t.readFrame(); err != nil {
		return fmt.Errorf("stdio: initialize handshake failed: %w", err)
	}
	return nil
}

func (t *StdioTransport) writeFrame(payload []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := t.stdin.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := t.stdin.Write(payload)
	return err
}

func (t *StdioTransport) readFrame() ([]byte, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	var lenBuf [4]byte
	if _, err := io.ReadFull(t.stdout, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameBytes {
		return nil, fmt.Errorf("stdio: frame of %d bytes exceeds %d byte limit", n, MaxFrameBytes)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.stdout, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close terminates the child process, if running.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}
	return t.cmd.Process.Kill()
}

func processExited(cmd *exec.Cmd) bool {
	if cmd.ProcessState != nil {
		return true
	}
	// A non-blocking liveness probe: signal 0 reports whether the process
	// still exists without affecting it.
	return unix.Kill(cmd.Process.Pid, 0) != nil
}

// resolveCommand reports whether command can be found on PATH (or exists
// directly, if it names a path), the "which <command> existence" half of
// the STDIO health probe (spec.md ยง4.2).
func resolveCommand(command string) error {
	_, err := exec.LookPath(command)
	return err
}

// probeStdio implements the STDIO health probe: command resolution plus an
// optional `--version` spawn whose success is defined as process-exit
// regardless of status code (spec.md ยง4.2).
func probeStdio(ctx context.Context, spec *registry.StdioSpec) error {
	if err := resolveCommand(spec.Command); err != nil {
		return fmt.Errorf("stdio probe: %w", err)
	}

	cmd := exec.CommandContext(ctx, spec.Command, "--version")
	_ = cmd.Run() // exit code is deliberately ignored; only process-exit matters
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// buildCommand constructs the exec.Cmd for spec. When Sandbox is set, the
// command is wrapped in a shell that applies RLIMIT_CPU/RLIMIT_AS/
// RLIMIT_NPROC via `ulimit` before exec'ing the real command — Go's
// os/exec gives no hook to call setrlimit in the child between fork and
// exec, so the shell is the limit-setting step itself (spec.md ยง4.1 "before
// exec the child sets RLIMIT_CPU ... RLIMIT_AS ... RLIMIT_NPROC=10").
func buildCommand(ctx context.Context, spec *registry.StdioSpec) *exec.Cmd {
	if !spec.Sandbox {
		return exec.CommandContext(ctx, spec.Command, spec.Args...)
	}

	cpuSeconds := 100
	if spec.MaxCPUPercent > 0 {
		cpuSeconds = spec.MaxCPUPercent
	}
	memKB := 512 * 1024
	if spec.MaxMemoryMB > 0 {
		memKB = spec.MaxMemoryMB * 1024
	}

	script := fmt.Sprintf(
		`ulimit -t %d -v %d -u 10 && exec "$0" "$@"`,
		cpuSeconds, memKB,
	)
	args := append([]string{script, spec.Command}, spec.Args...)
	return exec.CommandContext(ctx, "/bin/sh", append([]string{"-c"}, args...)...)
}
