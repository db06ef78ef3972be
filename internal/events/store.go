package events

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/treykane/proxypal/internal/appconfig"
	"github.com/treykane/proxypal/internal/model"
)

// Event types written by the connection manager.
const (
	ConnectRequested = "connect_requested"
	ConnectSucceeded = "connect_succeeded"
	ConnectFailed    = "connect_failed"
	Disconnected     = "disconnected"
	ProcessExited    = "process_exited"
	OrphansSwept     = "orphans_swept"
)

// Event is one connection lifecycle record persisted to events.jsonl.
// Servers are identified by ServerRef, never by their access key.
type Event struct {
	Timestamp  time.Time          `json:"timestamp"`
	SessionID  string             `json:"session_id,omitempty"`
	ServerRef  string             `json:"server_ref,omitempty"`
	ServerName string             `json:"server_name,omitempty"`
	EventType  string             `json:"event_type"`
	State      model.SessionState `json:"state,omitempty"`
	Kind       model.FailureKind  `json:"kind,omitempty"`
	Port       uint16             `json:"port,omitempty"`
	PID        int                `json:"pid,omitempty"`
	Message    string             `json:"message,omitempty"`
}

// Query controls event filtering and bounded reads.
type Query struct {
	ServerRef string
	SessionID string
	EventType string
	Since     time.Time
	Limit     int
}

// Store provides append/read access to the local event journal.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

func filePath() (string, error) {
	dir, err := appconfig.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "events.jsonl"), nil
}

// Append writes a single event as one JSON line.
func (s *Store) Append(evt Event) error {
	path, err := filePath()
	if err != nil {
		return err
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		return err
	}
	return nil
}

// Read returns events in append order, filtered by query, keeping only the
// newest Limit entries when Limit is set.
func (s *Store) Read(q Query) ([]Event, error) {
	path, err := filePath()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			continue
		}
		if !matches(evt, q) {
			continue
		}
		out = append(out, evt)
		if q.Limit > 0 && len(out) > q.Limit {
			out = out[len(out)-q.Limit:]
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return out, nil
}

func matches(evt Event, q Query) bool {
	if strings.TrimSpace(q.ServerRef) != "" && evt.ServerRef != q.ServerRef {
		return false
	}
	if strings.TrimSpace(q.SessionID) != "" && evt.SessionID != q.SessionID {
		return false
	}
	if strings.TrimSpace(q.EventType) != "" && evt.EventType != q.EventType {
		return false
	}
	if !q.Since.IsZero() && evt.Timestamp.Before(q.Since) {
		return false
	}
	return true
}
