package model

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strconv"
	"time"
)

// ServerConfig is one Shadowsocks server the user can connect to.
// ID is the raw access key and uniquely identifies the configuration.
type ServerConfig struct {
	ID         string `json:"id"`
	Server     string `json:"server"`
	ServerPort uint16 `json:"server_port"`
	Password   string `json:"password"`
	Method     string `json:"method"`
	Name       string `json:"name"`
}

func (c ServerConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Server
}

// Ref is a short identifier derived from ID. Unlike ID it carries no
// credentials, so it is what gets printed, logged and journaled.
func (c ServerConfig) Ref() string {
	sum := sha256.Sum256([]byte(c.ID))
	return hex.EncodeToString(sum[:6])
}

func (c ServerConfig) Endpoint() string {
	return net.JoinHostPort(c.Server, strconv.Itoa(int(c.ServerPort)))
}

type SessionState string

const (
	SessionStarting       SessionState = "starting"
	SessionRunning        SessionState = "running"
	SessionHealthChecking SessionState = "health_checking"
	SessionHealthy        SessionState = "healthy"
	SessionFailed         SessionState = "failed"
	SessionStopped        SessionState = "stopped"
)

// Terminal reports whether no further transitions are possible except Stop.
func (s SessionState) Terminal() bool {
	return s == SessionHealthy || s == SessionFailed || s == SessionStopped
}

// FailureKind classifies why a session did not become healthy.
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailurePortExhausted FailureKind = "port_exhausted"
	FailureSpawn         FailureKind = "spawn"
	FailureHealthCheck   FailureKind = "health_check"
	FailureStopped       FailureKind = "stopped"
)

// Result is the single terminal outcome of a connect attempt.
type Result struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message"`
	Port      uint16      `json:"port"`
	ServerID  string      `json:"server_id"`
	SessionID string      `json:"session_id"`
	Kind      FailureKind `json:"kind,omitempty"`
	Err       error       `json:"-"`
}

// SessionInfo is a read-only view of a session, also persisted to runtime.json.
type SessionInfo struct {
	SessionID  string       `json:"session_id"`
	ServerID   string       `json:"-"`
	ServerRef  string       `json:"server_ref"`
	ServerName string       `json:"server_name"`
	Port       uint16       `json:"port"`
	PID        int          `json:"pid,omitempty"`
	State      SessionState `json:"state"`
	StartedAt  time.Time    `json:"started_at"`
	UptimeSec  int64        `json:"uptime_seconds"`
	LastError  string       `json:"last_error,omitempty"`
}

// ConnectionStatus summarises the manager for display.
type ConnectionStatus struct {
	Connected bool         `json:"connected"`
	Session   *SessionInfo `json:"session,omitempty"`
}
