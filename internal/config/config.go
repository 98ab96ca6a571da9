// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	GitHubToken    string
	GitHubUsername string

	DBPath     string
	MirrorDir  string
	SocketPath string
	LogPath    string

	SyncInterval  time.Duration
	HouseInterval time.Duration
	PruneAge      time.Duration
	Backoff       time.Duration
}

// Load reads configuration from environment variables and returns a
// validated Config. REVIEWD_GITHUB_TOKEN and REVIEWD_GITHUB_USERNAME are
// required. Paths default under REVIEWD_DATA_DIR (default
// ~/.local/share/reviewd); intervals accept Go duration strings:
// REVIEWD_SYNC_INTERVAL (60s), REVIEWD_HOUSEKEEPING_INTERVAL (1h),
// REVIEWD_PRUNE_AGE (720h), REVIEWD_OFFLINE_BACKOFF (30s).
func Load() (*Config, error) {
	token := os.Getenv("REVIEWD_GITHUB_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("REVIEWD_GITHUB_TOKEN is required")
	}
	username := os.Getenv("REVIEWD_GITHUB_USERNAME")
	if username == "" {
		return nil, fmt.Errorf("REVIEWD_GITHUB_USERNAME is required")
	}

	dataDir := os.Getenv("REVIEWD_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share", "reviewd")
	}

	cfg := &Config{
		GitHubToken:    token,
		GitHubUsername: username,
		DBPath:         envOr("REVIEWD_DB_PATH", filepath.Join(dataDir, "reviewd.db")),
		MirrorDir:      envOr("REVIEWD_MIRROR_DIR", filepath.Join(dataDir, "mirror.git")),
		SocketPath:     envOr("REVIEWD_SOCKET_PATH", filepath.Join(dataDir, "control.sock")),
		LogPath:        envOr("REVIEWD_LOG_PATH", filepath.Join(dataDir, "reviewd.log")),
	}

	var err error
	if cfg.SyncInterval, err = durationOr("REVIEWD_SYNC_INTERVAL", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.HouseInterval, err = durationOr("REVIEWD_HOUSEKEEPING_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.PruneAge, err = durationOr("REVIEWD_PRUNE_AGE", 720*time.Hour); err != nil {
		return nil, err
	}
	if cfg.Backoff, err = durationOr("REVIEWD_OFFLINE_BACKOFF", 30*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", key, v)
	}
	return parsed, nil
}
