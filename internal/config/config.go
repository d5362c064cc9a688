// Package config loads the mount-time configuration: the upstream
// connection, the set of workspaces to sync, cache and sync tuning, the
// durable store path, and mount/log options, from a YAML file at an
// XDG-resolved path, overridden by environment variables and loaded
// through an injectable getenv for testability.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full mount-time configuration.
type Config struct {
	Upstream   UpstreamConfig    `yaml:"upstream"`
	Workspaces []WorkspaceConfig `yaml:"workspaces"`
	Cache      CacheConfig       `yaml:"cache"`
	Sync       SyncConfig        `yaml:"sync"`
	Store      StoreConfig       `yaml:"store"`
	Mount      MountConfig       `yaml:"mount"`
	Log        LogConfig         `yaml:"log"`
}

// UpstreamConfig addresses the issue-tracker client.
type UpstreamConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIToken string `yaml:"api_token"`
}

// WorkspaceConfig names one synced workspace and the JQL-like query that
// selects its issues.
type WorkspaceConfig struct {
	Name  string `yaml:"name"`
	Query string `yaml:"query"`
}

// CacheConfig tunes the two hot-tier TTLs independently.
type CacheConfig struct {
	ProjectTTL time.Duration `yaml:"project_ttl"`
	IssueTTL   time.Duration `yaml:"issue_ttl"`
}

// SyncConfig tunes the background sync engine.
type SyncConfig struct {
	Interval          time.Duration `yaml:"interval"`
	Budget            int           `yaml:"budget"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// StoreConfig locates the durable SQLite file.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// MountConfig supplies the default mountpoint when none is given on the
// command line. AllowOther is loaded from the config file but is not
// passed to the mount; the tree's access does not depend on it.
type MountConfig struct {
	DefaultPath string `yaml:"default_path"`
	AllowOther  bool   `yaml:"allow_other"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			ProjectTTL: 60 * time.Second,
			IssueTTL:   60 * time.Second,
		},
		Sync: SyncConfig{
			Interval:          5 * time.Minute,
			Budget:            500,
			RequestsPerSecond: 2,
		},
		Mount: MountConfig{
			DefaultPath: "",
			AllowOther:  false,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration using the real environment.
func Load() (*Config, error) {
	return LoadWithEnv(os.Getenv)
}

// LoadWithEnv loads configuration using the provided environment lookup
// function. This allows tests to provide isolated environment values.
func LoadWithEnv(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	configPath := getConfigPathWithEnv(getenv)
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	// Environment variables override the config file.
	if token := getenv("TICKETFS_API_TOKEN"); token != "" {
		cfg.Upstream.APIToken = token
	}
	if path := getenv("TICKETFS_STORE_PATH"); path != "" {
		cfg.Store.Path = path
	}

	return cfg, nil
}

func getConfigPath() string {
	return getConfigPathWithEnv(os.Getenv)
}

func getConfigPathWithEnv(getenv func(string) string) string {
	if xdgConfig := getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ticketfs", "config.yaml")
	}

	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "ticketfs", "config.yaml")
}
