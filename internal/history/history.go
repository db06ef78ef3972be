package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/treykane/proxypal/internal/appconfig"
	"github.com/treykane/proxypal/internal/model"
)

type store struct {
	LastUsed map[string]int64 `json:"last_used"`
}

func filePath() (string, error) {
	dir, err := appconfig.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.json"), nil
}

// Touch records a successful connect for a server ref.
func Touch(ref string) error {
	st, err := load()
	if err != nil {
		return err
	}
	st.LastUsed[ref] = time.Now().Unix()
	return save(st)
}

// Forget drops a server from history, e.g. after it is deleted.
func Forget(ref string) error {
	st, err := load()
	if err != nil {
		return err
	}
	if _, ok := st.LastUsed[ref]; !ok {
		return nil
	}
	delete(st.LastUsed, ref)
	return save(st)
}

// LastUsed returns last successful connect timestamps by server ref.
func LastUsed() (map[string]int64, error) {
	st, err := load()
	if err != nil {
		return nil, err
	}
	return st.LastUsed, nil
}

// SortServersRecent returns a new slice sorted by recent use (desc), then name.
func SortServersRecent(servers []model.ServerConfig, lastUsed map[string]int64) []model.ServerConfig {
	out := append([]model.ServerConfig(nil), servers...)
	sort.SliceStable(out, func(i, j int) bool {
		ti := lastUsed[out[i].Ref()]
		tj := lastUsed[out[j].Ref()]
		if ti != tj {
			return ti > tj
		}
		return out[i].DisplayName() < out[j].DisplayName()
	})
	return out
}

func load() (store, error) {
	path, err := filePath()
	if err != nil {
		return store{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store{LastUsed: map[string]int64{}}, nil
		}
		return store{}, err
	}
	var st store
	if err := json.Unmarshal(b, &st); err != nil {
		return store{LastUsed: map[string]int64{}}, nil
	}
	if st.LastUsed == nil {
		st.LastUsed = map[string]int64{}
	}
	return st, nil
}

func save(st store) error {
	path, err := filePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
