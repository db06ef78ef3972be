// Package appconfig manages application configuration and runtime file paths.
package appconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/treykane/proxypal/internal/util"
)

const appName = "proxypal"

// ProxyClientConfig describes the external proxy client binary.
type ProxyClientConfig struct {
	Binary      string `yaml:"binary"`
	ProcessName string `yaml:"process_name"`
}

// ConnectionConfig tunes the session lifecycle.
type ConnectionConfig struct {
	StartPort                   int    `yaml:"start_port"`
	SettleDelayMS               int    `yaml:"settle_delay_ms"`
	StopTimeoutSeconds          int    `yaml:"stop_timeout_seconds"`
	SweepTimeoutSeconds         int    `yaml:"sweep_timeout_seconds"`
	HealthURL                   string `yaml:"health_url"`
	HealthConnectTimeoutSeconds int    `yaml:"health_connect_timeout_seconds"`
}

func (c ConnectionConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMS) * time.Millisecond
}

func (c ConnectionConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}

func (c ConnectionConfig) SweepTimeout() time.Duration {
	return time.Duration(c.SweepTimeoutSeconds) * time.Second
}

func (c ConnectionConfig) HealthConnectTimeout() time.Duration {
	return time.Duration(c.HealthConnectTimeoutSeconds) * time.Second
}

// SystemProxyConfig controls the OS-level SOCKS proxy toggle.
type SystemProxyConfig struct {
	NetworkService string `yaml:"network_service"`
	AutoEnable     bool   `yaml:"auto_enable"`
}

// SecurityConfig contains user-visible error handling settings.
type SecurityConfig struct {
	RedactErrors bool `yaml:"redact_errors"`
}

// UIConfig contains dashboard display settings.
type UIConfig struct {
	RefreshSeconds int `yaml:"refresh_seconds"`
}

// Config holds application-level configuration.
type Config struct {
	ProxyClient ProxyClientConfig `yaml:"proxy_client"`
	Connection  ConnectionConfig  `yaml:"connection"`
	SystemProxy SystemProxyConfig `yaml:"system_proxy"`
	Security    SecurityConfig    `yaml:"security"`
	UI          UIConfig          `yaml:"ui"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		ProxyClient: ProxyClientConfig{
			Binary:      "ss-local",
			ProcessName: "ss-local",
		},
		Connection: ConnectionConfig{
			StartPort:                   util.DefaultStartPort,
			SettleDelayMS:               int(util.SettleDelay / time.Millisecond),
			StopTimeoutSeconds:          int(util.StopTimeout / time.Second),
			SweepTimeoutSeconds:         int(util.SweepTimeout / time.Second),
			HealthURL:                   util.DefaultHealthURL,
			HealthConnectTimeoutSeconds: int(util.HealthConnectTimeout / time.Second),
		},
		SystemProxy: SystemProxyConfig{NetworkService: "Wi-Fi"},
		Security:    SecurityConfig{RedactErrors: true},
		UI:          UIConfig{RefreshSeconds: util.DefaultRefreshSeconds},
	}
}

// ConfigDir returns the application config directory path.
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config/proxypal.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home: %w", err)
	}
	return filepath.Join(home, ".config", appName), nil
}

func fileInConfigDir(name string) (string, error) {
	d, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(d, name), nil
}

// RuntimeFilePath returns the full path to runtime.json.
func RuntimeFilePath() (string, error) { return fileInConfigDir("runtime.json") }

// ServersFilePath returns the full path to servers.json.
func ServersFilePath() (string, error) { return fileInConfigDir("servers.json") }

// LogFilePath returns the debug log written while the dashboard owns the terminal.
func LogFilePath() (string, error) { return fileInConfigDir("debug.log") }

// Load reads config.yaml from the config directory.
// If the file doesn't exist, creates it with defaults.
func Load() (Config, error) {
	d, err := ConfigDir()
	if err != nil {
		return Config{}, err
	}
	if err := os.MkdirAll(d, 0o700); err != nil {
		return Config{}, err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			if err := Save(cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	normalize(&cfg)
	return cfg, nil
}

func normalize(cfg *Config) {
	def := Default()
	if strings.TrimSpace(cfg.ProxyClient.Binary) == "" {
		cfg.ProxyClient.Binary = def.ProxyClient.Binary
	}
	if strings.TrimSpace(cfg.ProxyClient.ProcessName) == "" {
		cfg.ProxyClient.ProcessName = filepath.Base(cfg.ProxyClient.Binary)
	}
	if util.ValidateStartPort(cfg.Connection.StartPort) != nil {
		cfg.Connection.StartPort = def.Connection.StartPort
	}
	if cfg.Connection.SettleDelayMS <= 0 {
		cfg.Connection.SettleDelayMS = def.Connection.SettleDelayMS
	}
	if cfg.Connection.StopTimeoutSeconds <= 0 {
		cfg.Connection.StopTimeoutSeconds = def.Connection.StopTimeoutSeconds
	}
	if cfg.Connection.SweepTimeoutSeconds <= 0 {
		cfg.Connection.SweepTimeoutSeconds = def.Connection.SweepTimeoutSeconds
	}
	if strings.TrimSpace(cfg.Connection.HealthURL) == "" {
		cfg.Connection.HealthURL = def.Connection.HealthURL
	}
	if cfg.Connection.HealthConnectTimeoutSeconds <= 0 {
		cfg.Connection.HealthConnectTimeoutSeconds = def.Connection.HealthConnectTimeoutSeconds
	}
	cfg.SystemProxy.NetworkService = util.DefaultString(cfg.SystemProxy.NetworkService, def.SystemProxy.NetworkService)
	if cfg.UI.RefreshSeconds <= 0 {
		cfg.UI.RefreshSeconds = def.UI.RefreshSeconds
	}
}

// Save writes config to config.yaml.
func Save(cfg Config) error {
	d, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(d, 0o700); err != nil {
		return err
	}
	path := filepath.Join(d, "config.yaml")
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}
