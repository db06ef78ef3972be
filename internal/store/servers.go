// Package store persists saved server configurations and user feedback.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/treykane/proxypal/internal/appconfig"
	"github.com/treykane/proxypal/internal/model"
)

var (
	ErrDuplicate = errors.New("server already saved")
	ErrNotFound  = errors.New("server not found")
)

// Load returns saved servers in insertion order. A missing or corrupt file
// yields an empty list.
func Load() ([]model.ServerConfig, error) {
	path, err := appconfig.ServersFilePath()
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []model.ServerConfig{}, nil
		}
		return nil, err
	}
	var servers []model.ServerConfig
	if err := json.Unmarshal(b, &servers); err != nil {
		slog.Warn("ignoring unreadable servers file", "path", path, "error", err)
		return []model.ServerConfig{}, nil
	}
	return servers, nil
}

// Save replaces the whole server list.
func Save(servers []model.ServerConfig) error {
	path, err := appconfig.ServersFilePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if servers == nil {
		servers = []model.ServerConfig{}
	}
	b, err := json.MarshalIndent(servers, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// Add appends cfg unless a server with the same ID is already saved.
func Add(cfg model.ServerConfig) error {
	servers, err := Load()
	if err != nil {
		return err
	}
	for _, s := range servers {
		if s.ID == cfg.ID {
			return fmt.Errorf("%w: %s", ErrDuplicate, s.DisplayName())
		}
	}
	return Save(append(servers, cfg))
}

// Replace discards every saved server and keeps only cfg.
func Replace(cfg model.ServerConfig) error {
	return Save([]model.ServerConfig{cfg})
}

// Delete removes the server with the given ID.
func Delete(id string) error {
	servers, err := Load()
	if err != nil {
		return err
	}
	kept := servers[:0]
	found := false
	for _, s := range servers {
		if s.ID == id {
			found = true
			continue
		}
		kept = append(kept, s)
	}
	if !found {
		return ErrNotFound
	}
	return Save(kept)
}

// Rename sets the display name of the server with the given ID.
func Rename(id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("server name cannot be empty")
	}
	servers, err := Load()
	if err != nil {
		return err
	}
	for i := range servers {
		if servers[i].ID == id {
			servers[i].Name = name
			return Save(servers)
		}
	}
	return ErrNotFound
}

// Get fetches one server by ID.
func Get(id string) (model.ServerConfig, error) {
	servers, err := Load()
	if err != nil {
		return model.ServerConfig{}, err
	}
	for _, s := range servers {
		if s.ID == id {
			return s, nil
		}
	}
	return model.ServerConfig{}, ErrNotFound
}

// Find resolves a CLI selector against servers: a 1-based index, a server
// ref, or an exact access key.
func Find(servers []model.ServerConfig, selector string) (model.ServerConfig, error) {
	selector = strings.TrimSpace(selector)
	if n, err := strconv.Atoi(selector); err == nil {
		if n < 1 || n > len(servers) {
			return model.ServerConfig{}, fmt.Errorf("%w: index %d out of range (1-%d)", ErrNotFound, n, len(servers))
		}
		return servers[n-1], nil
	}
	for _, s := range servers {
		if s.Ref() == selector || s.ID == selector {
			return s, nil
		}
	}
	return model.ServerConfig{}, fmt.Errorf("%w: %s", ErrNotFound, selector)
}

type feedbackEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// SaveFeedback appends one feedback message to feedback.jsonl.
func SaveFeedback(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("feedback cannot be empty")
	}
	dir, err := appconfig.ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, "feedback.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(feedbackEntry{Timestamp: time.Now().UTC(), Text: text})
	if err != nil {
		return err
	}
	_, err = f.Write(append(b, '\n'))
	return err
}
