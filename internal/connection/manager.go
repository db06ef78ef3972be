// Package connection owns the single active tunnel and mediates between UI
// requests and session lifecycles.
package connection

import (
	"context"
	"log/slog"
	"sync"

	"github.com/treykane/proxypal/internal/events"
	"github.com/treykane/proxypal/internal/model"
	"github.com/treykane/proxypal/internal/reaper"
	"github.com/treykane/proxypal/internal/session"
)

// Callback receives the outcome of a Connect call exactly once. It runs on the
// manager's dispatcher goroutine, never on the caller's.
type Callback func(model.Result)

// Sweeper terminates stray proxy-client processes.
type Sweeper interface {
	Sweep(ctx context.Context) reaper.Report
}

// Journal records lifecycle events. *events.Store satisfies it.
type Journal interface {
	Append(evt events.Event) error
}

// Config wires a Manager. Journal, Touch and PersistRuntime are optional.
type Config struct {
	Deps    session.Deps
	Sweeper Sweeper
	Options session.Options

	Journal Journal
	// Touch records a successful connect, keyed by server ref.
	Touch          func(ref string) error
	PersistRuntime bool
}

// Manager holds at most one active session.
type Manager struct {
	cfg Config

	// opMu serializes Connect and Disconnect.
	opMu sync.Mutex
	// mu guards active.
	mu     sync.Mutex
	active *session.Session
	// persistMu orders runtime.json writes.
	persistMu sync.Mutex
}

// NewManager creates a manager with no active session.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg}
}

// Connect tears down any existing session, then starts a new one for cfg and
// returns its session id without waiting for the outcome.
func (m *Manager) Connect(cfg model.ServerConfig, onResult Callback) string {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.disconnectLocked()

	s := session.New(cfg, m.cfg.Deps, m.cfg.Options)
	m.mu.Lock()
	m.active = s
	m.mu.Unlock()

	m.record(events.Event{
		SessionID:  s.ID(),
		ServerRef:  cfg.Ref(),
		ServerName: cfg.DisplayName(),
		EventType:  events.ConnectRequested,
		State:      model.SessionStarting,
	})
	m.persist()

	s.Start()
	go m.dispatch(s, onResult)
	return s.ID()
}

func (m *Manager) dispatch(s *session.Session, onResult Callback) {
	res := <-s.Result()

	m.mu.Lock()
	current := m.active == s
	// A stopped session was superseded or disconnected; whoever stopped it
	// owns the slot.
	if current && !res.Success && res.Kind != model.FailureStopped {
		m.active = nil
	}
	m.mu.Unlock()

	info := s.Info()
	evt := events.Event{
		SessionID:  res.SessionID,
		ServerRef:  info.ServerRef,
		ServerName: info.ServerName,
		State:      info.State,
		Port:       res.Port,
		PID:        info.PID,
		Message:    res.Message,
	}
	if res.Success {
		evt.EventType = events.ConnectSucceeded
	} else {
		evt.EventType = events.ConnectFailed
		evt.Kind = res.Kind
	}
	m.record(evt)
	if current {
		m.persist()
	}
	if current && res.Success && m.cfg.Touch != nil {
		if err := m.cfg.Touch(info.ServerRef); err != nil {
			slog.Warn("failed to record connection history", "error", err)
		}
	}

	if onResult != nil {
		onResult(res)
	}

	if current && res.Success {
		m.watch(s)
	}
}

// watch clears the slot if a healthy session's process dies on its own.
func (m *Manager) watch(s *session.Session) {
	<-s.Exited()
	if s.State() != model.SessionFailed {
		return
	}
	m.mu.Lock()
	current := m.active == s
	if current {
		m.active = nil
	}
	m.mu.Unlock()
	if !current {
		return
	}

	info := s.Info()
	slog.Warn("proxy client exited while connected", "session", info.SessionID, "pid", info.PID, "error", info.LastError)
	m.record(events.Event{
		SessionID:  info.SessionID,
		ServerRef:  info.ServerRef,
		ServerName: info.ServerName,
		EventType:  events.ProcessExited,
		State:      info.State,
		Port:       info.Port,
		PID:        info.PID,
		Message:    info.LastError,
	})
	m.persist()
}

// Disconnect stops the active session, if any, and sweeps orphaned proxy
// clients. It is safe to call at any time and never fails.
func (m *Manager) Disconnect() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.disconnectLocked()
}

func (m *Manager) disconnectLocked() {
	m.mu.Lock()
	s := m.active
	m.mu.Unlock()

	if s != nil {
		s.Stop()
		info := s.Info()
		m.record(events.Event{
			SessionID:  info.SessionID,
			ServerRef:  info.ServerRef,
			ServerName: info.ServerName,
			EventType:  events.Disconnected,
			State:      info.State,
			Port:       info.Port,
		})
	}

	if m.cfg.Sweeper != nil {
		rep := m.cfg.Sweeper.Sweep(context.Background())
		if rep.Matched > 0 {
			m.record(events.Event{
				EventType: events.OrphansSwept,
				Message:   rep.String(),
			})
		}
	}

	m.mu.Lock()
	m.active = nil
	m.mu.Unlock()
	m.persist()
}

// Active returns a snapshot of the active session.
func (m *Manager) Active() (model.SessionInfo, bool) {
	m.mu.Lock()
	s := m.active
	m.mu.Unlock()
	if s == nil {
		return model.SessionInfo{}, false
	}
	return s.Info(), true
}

// Status reports whether a healthy tunnel is up.
func (m *Manager) Status() model.ConnectionStatus {
	info, ok := m.Active()
	if !ok {
		return model.ConnectionStatus{}
	}
	return model.ConnectionStatus{
		Connected: info.State == model.SessionHealthy,
		Session:   &info,
	}
}

func (m *Manager) record(evt events.Event) {
	if m.cfg.Journal == nil {
		return
	}
	if err := m.cfg.Journal.Append(evt); err != nil {
		slog.Warn("failed to append connection event", "event", evt.EventType, "error", err)
	}
}

func (m *Manager) persist() {
	if !m.cfg.PersistRuntime {
		return
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if err := saveRuntime(m.Status()); err != nil {
		slog.Warn("failed to persist runtime state", "error", err)
	}
}
