// Package session supervises one proxy-client process for one server
// configuration: spawn, settle, health check, and teardown.
//
// A Session moves through starting → running → health_checking and ends in
// healthy or failed. Stop moves it to stopped from any state. The workflow runs
// on its own goroutine and posts exactly one model.Result on Result().
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/treykane/proxypal/internal/model"
	"github.com/treykane/proxypal/internal/security"
	"github.com/treykane/proxypal/internal/sslocal"
	"github.com/treykane/proxypal/internal/util"
)

// Launcher abstracts proxy-client process creation for testing.
type Launcher interface {
	Start(cfg model.ServerConfig, localPort uint16) (*sslocal.Process, error)
}

// Verifier confirms traffic flows through the local port.
type Verifier interface {
	Verify(ctx context.Context, localPort uint16) error
}

// PortAllocator picks the local port to bind.
type PortAllocator interface {
	Allocate(start uint16) (uint16, error)
}

// Options tunes timings. Zero values fall back to the util defaults.
type Options struct {
	StartPort   uint16
	SettleDelay time.Duration
	StopTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.StartPort == 0 {
		o.StartPort = util.DefaultStartPort
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = util.SettleDelay
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = util.StopTimeout
	}
	return o
}

// Deps groups the collaborators a session needs.
type Deps struct {
	Launcher Launcher
	Verifier Verifier
	Ports    PortAllocator
}

const userFailure = "connection failed, check server details"

var errStopped = errors.New("session stopped")

// SpawnError reports a proxy client that failed to start or exited inside the
// settle window.
type SpawnError struct {
	Stderr string
	Err    error
	Exited bool
}

func (e *SpawnError) Error() string {
	if s := strings.TrimSpace(e.Stderr); s != "" {
		return s
	}
	if !e.Exited && e.Err != nil {
		return e.Err.Error()
	}
	return "process terminated unexpectedly"
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Session is one attempt to bring up a tunnel. It exclusively owns its process.
type Session struct {
	id   string
	cfg  model.ServerConfig
	opts Options
	deps Deps

	mu        sync.Mutex
	state     model.SessionState
	port      uint16
	proc      *sslocal.Process
	exitErr   error
	procGone  bool
	lastErr   string
	stopped   bool
	started   bool
	startedAt time.Time

	// stopMu serializes process teardown between Stop and the failure path.
	stopMu     sync.Mutex
	exited     chan struct{}
	exitedOnce sync.Once
	result     chan model.Result
}

// New creates a session in the starting state. Nothing runs until Start.
func New(cfg model.ServerConfig, deps Deps, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		id:     uuid.NewString(),
		cfg:    cfg,
		opts:   opts,
		deps:   deps,
		state:  model.SessionStarting,
		port:   opts.StartPort,
		exited: make(chan struct{}),
		result: make(chan model.Result, 1),
	}
}

func (s *Session) ID() string                 { return s.id }
func (s *Session) Config() model.ServerConfig { return s.cfg }

// Result delivers the terminal outcome exactly once.
func (s *Session) Result() <-chan model.Result { return s.result }

// Exited is closed once the session's process is gone, or once the session
// ends without ever having spawned one.
func (s *Session) Exited() <-chan struct{} { return s.exited }

func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a snapshot for display and persistence.
func (s *Session) Info() model.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := model.SessionInfo{
		SessionID:  s.id,
		ServerID:   s.cfg.ID,
		ServerRef:  s.cfg.Ref(),
		ServerName: s.cfg.DisplayName(),
		Port:       s.port,
		PID:        s.proc.PID(),
		State:      s.state,
		StartedAt:  s.startedAt,
		LastError:  s.lastErr,
	}
	if !s.startedAt.IsZero() {
		info.UptimeSec = int64(time.Since(s.startedAt).Seconds())
	}
	return info
}

// Start runs the session workflow in the background. Calling it twice is a no-op.
func (s *Session) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	go func() {
		s.result <- s.run()
	}()
}

func (s *Session) run() model.Result {
	port, err := s.deps.Ports.Allocate(s.opts.StartPort)
	if err != nil {
		return s.fail(model.FailurePortExhausted, "connection failed: no free local port", err)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return s.fail(model.FailureStopped, "", errStopped)
	}
	s.port = port
	// Launch under the lock so a concurrent Stop either sees the process or
	// prevents it from being spawned.
	proc, err := s.deps.Launcher.Start(s.cfg, port)
	if err != nil {
		s.mu.Unlock()
		return s.fail(model.FailureSpawn, userFailure, &SpawnError{Err: err})
	}
	s.proc = proc
	s.mu.Unlock()
	go s.reap(proc)

	slog.Debug("proxy client spawned", "session", s.id, "server", s.cfg.Endpoint(), "port", port, "pid", proc.PID())

	settle := time.NewTimer(s.opts.SettleDelay)
	select {
	case <-s.exited:
		settle.Stop()
		s.mu.Lock()
		exitErr := s.exitErr
		s.mu.Unlock()
		return s.fail(model.FailureSpawn, userFailure, &SpawnError{Stderr: proc.Stderr.String(), Err: exitErr, Exited: true})
	case <-settle.C:
	}

	if !s.transition(model.SessionRunning) || !s.transition(model.SessionHealthChecking) {
		return s.fail(model.FailureStopped, "", errStopped)
	}

	// No cancellation: Stop only acts on the process. A superseded check is
	// allowed to finish and its outcome is reported as stopped.
	verifyErr := s.deps.Verifier.Verify(context.Background(), port)
	if verifyErr != nil {
		return s.fail(model.FailureHealthCheck, userFailure, verifyErr)
	}
	// The exit check and the move to healthy happen under one lock so reap
	// either sees healthy or is seen here.
	s.mu.Lock()
	switch {
	case s.stopped:
		s.mu.Unlock()
		return s.fail(model.FailureStopped, "", errStopped)
	case s.procGone:
		exitErr := s.exitErr
		s.mu.Unlock()
		return s.fail(model.FailureSpawn, userFailure, &SpawnError{Stderr: proc.Stderr.String(), Err: exitErr, Exited: true})
	}
	s.state = model.SessionHealthy
	s.mu.Unlock()

	slog.Info("tunnel healthy", "session", s.id, "server", s.cfg.Endpoint(), "port", port)
	return model.Result{
		Success:   true,
		Message:   fmt.Sprintf("connected on port %d", port),
		Port:      port,
		ServerID:  s.cfg.ID,
		SessionID: s.id,
	}
}

// transition moves to next unless the session has been stopped.
func (s *Session) transition(next model.SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.state = next
	return true
}

// fail records a terminal failure, force-stops the process and builds the result.
// A stopped session always reports FailureStopped regardless of what went wrong.
func (s *Session) fail(kind model.FailureKind, userSafe string, cause error) model.Result {
	s.mu.Lock()
	if s.stopped {
		kind = model.FailureStopped
		cause = errStopped
	}
	if kind == model.FailureStopped {
		userSafe = "connection cancelled: session stopped"
	} else {
		s.state = model.SessionFailed
	}
	s.lastErr = cause.Error()
	port := s.port
	hasProc := s.proc != nil
	s.mu.Unlock()

	if hasProc {
		s.terminate()
	} else {
		s.closeExited()
	}

	msg := userSafe
	if kind != model.FailureStopped {
		msg = fmt.Sprintf("%s: %s", userSafe, cause.Error())
		slog.Warn("connect attempt failed", "session", s.id, "server", s.cfg.Endpoint(), "kind", kind, "error", cause)
	}
	return model.Result{
		Success:   false,
		Message:   msg,
		Port:      port,
		ServerID:  s.cfg.ID,
		SessionID: s.id,
		Kind:      kind,
		Err:       security.Classify(msg, cause),
	}
}

// Stop terminates the process (SIGTERM, then SIGKILL after the stop timeout)
// and waits until it is gone. It is idempotent and safe to call concurrently
// with the workflow.
func (s *Session) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.state = model.SessionStopped
	hasProc := s.proc != nil
	s.mu.Unlock()

	if !hasProc {
		// Either never spawned or the launch is blocked on s.mu; the workflow
		// observes stopped and finishes on its own.
		return
	}
	s.terminate()
}

func (s *Session) terminate() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil || proc.Cmd.Process == nil {
		return
	}
	select {
	case <-s.exited:
		return
	default:
	}

	if err := proc.Cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Debug("SIGTERM failed", "session", s.id, "pid", proc.PID(), "error", err)
	}
	grace := time.NewTimer(s.opts.StopTimeout)
	defer grace.Stop()
	select {
	case <-s.exited:
		return
	case <-grace.C:
	}

	slog.Warn("proxy client ignored SIGTERM, killing", "session", s.id, "pid", proc.PID(), "timeout", s.opts.StopTimeout)
	if err := proc.Cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		slog.Debug("SIGKILL failed", "session", s.id, "pid", proc.PID(), "error", err)
	}
	<-s.exited
}

// reap waits for the process exactly once. A healthy session whose process
// dies on its own becomes failed.
func (s *Session) reap(proc *sslocal.Process) {
	err := proc.Cmd.Wait()
	s.mu.Lock()
	s.exitErr = err
	s.procGone = true
	if s.state == model.SessionHealthy && !s.stopped {
		s.state = model.SessionFailed
		detail := strings.TrimSpace(proc.Stderr.String())
		if detail == "" && err != nil {
			detail = err.Error()
		}
		s.lastErr = "proxy client exited unexpectedly: " + util.DefaultString(detail, "no output")
	}
	s.mu.Unlock()
	s.closeExited()
}

func (s *Session) closeExited() {
	s.exitedOnce.Do(func() { close(s.exited) })
}
