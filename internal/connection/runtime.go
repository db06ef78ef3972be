package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/treykane/proxypal/internal/appconfig"
	"github.com/treykane/proxypal/internal/model"
)

// runtimeFile is the on-disk shape of runtime.json.
type runtimeFile struct {
	UpdatedAt time.Time          `json:"updated_at"`
	Session   *model.SessionInfo `json:"session,omitempty"`
}

// LoadRuntime reads the last persisted status, possibly written by another
// proxypal process. A session whose process is gone is reported as stopped.
func LoadRuntime() (model.ConnectionStatus, error) {
	path, err := appconfig.RuntimeFilePath()
	if err != nil {
		return model.ConnectionStatus{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.ConnectionStatus{}, nil
		}
		return model.ConnectionStatus{}, err
	}
	var rf runtimeFile
	if err := json.Unmarshal(b, &rf); err != nil {
		return model.ConnectionStatus{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if rf.Session == nil {
		return model.ConnectionStatus{}, nil
	}
	info := *rf.Session
	if info.PID <= 0 || !processAlive(info.PID) {
		info.State = model.SessionStopped
		info.PID = 0
		return model.ConnectionStatus{Session: &info}, nil
	}
	if !info.StartedAt.IsZero() {
		info.UptimeSec = int64(time.Since(info.StartedAt).Seconds())
	}
	return model.ConnectionStatus{Connected: info.State == model.SessionHealthy, Session: &info}, nil
}

// ClearRuntime records that no session is active.
func ClearRuntime() error {
	return saveRuntime(model.ConnectionStatus{})
}

func saveRuntime(st model.ConnectionStatus) error {
	path, err := appconfig.RuntimeFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(runtimeFile{UpdatedAt: time.Now().UTC(), Session: st.Session}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
