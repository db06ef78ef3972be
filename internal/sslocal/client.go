// Package sslocal launches the external Shadowsocks proxy client (ss-local).
//
// This package is responsible for launching processes only. It does NOT speak
// the Shadowsocks protocol; the proxy client does. Arguments are passed through
// exec's argv, never through a shell, so passwords and hostnames containing
// shell metacharacters are safe.
package sslocal

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/treykane/proxypal/internal/model"
	"github.com/treykane/proxypal/internal/util"
)

// Process is a running proxy client.
//
// The caller (internal/session) owns its lifecycle: it must call Cmd.Wait
// exactly once to reap the process, and it signals Cmd.Process to stop it.
// Stderr accumulates everything the client wrote to stderr and is safe to read
// at any time; it is complete once Cmd.Wait has returned.
type Process struct {
	Cmd    *exec.Cmd
	Stderr *Buffer
}

// PID returns the OS process id, or 0 if the process never started.
func (p *Process) PID() int {
	if p == nil || p.Cmd == nil || p.Cmd.Process == nil {
		return 0
	}
	return p.Cmd.Process.Pid
}

// Buffer is a bytes.Buffer guarded by a mutex. exec copies stderr into it from
// its own goroutine while the session may read it.
type Buffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Client starts proxy client processes. It is stateless and safe for
// concurrent use.
type Client struct {
	binary string
}

// New creates a client that runs the given binary (name on PATH or a path).
func New(binary string) *Client {
	return &Client{binary: util.DefaultString(binary, "ss-local")}
}

// Binary returns the configured executable.
func (c *Client) Binary() string { return c.binary }

// EnsureBinary checks that the proxy client binary can be found.
func (c *Client) EnsureBinary() error {
	if _, err := exec.LookPath(c.binary); err != nil {
		return fmt.Errorf("%s binary not found in PATH", c.binary)
	}
	return nil
}

// BuildArgs constructs the proxy client arguments without starting a process.
//
// Example output: ["-s", "1.2.3.4", "-p", "8388", "-b", "127.0.0.1", "-l", "1080", "-k", "secret", "-m", "chacha20-ietf-poly1305"]
func (c *Client) BuildArgs(cfg model.ServerConfig, localPort uint16) []string {
	return []string{
		"-s", cfg.Server,
		"-p", strconv.Itoa(int(cfg.ServerPort)),
		"-b", util.LoopbackHost,
		"-l", strconv.Itoa(int(localPort)),
		"-k", cfg.Password,
		"-m", cfg.Method,
	}
}

// Start launches the proxy client in the background bound to localPort.
//
// The process has no stdin and its stdout is discarded. Start returns once the
// process exists; whether it survives is the caller's concern.
func (c *Client) Start(cfg model.ServerConfig, localPort uint16) (*Process, error) {
	cmd := exec.Command(c.binary, c.BuildArgs(cfg, localPort)...)
	stderr := &Buffer{}
	cmd.Stderr = stderr
	cmd.Stdout = io.Discard
	cmd.Stdin = nil
	// Bound Wait if a grandchild keeps the stderr pipe open after the client dies.
	cmd.WaitDelay = time.Second
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &Process{Cmd: cmd, Stderr: stderr}, nil
}
