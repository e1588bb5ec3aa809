package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveLogDir returns the absolute log directory with ~ expanded.
func ResolveLogDir(cfg *Config) string {
	dir := ""
	if cfg != nil {
		dir = expandHomeDir(cfg.Logging.Dir)
	}
	if dir == "" {
		dir = defaultLogDir()
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

// ResolveCacheDSN expands ~ in a sqlite cache path. Other backends are returned unchanged.
func ResolveCacheDSN(cfg *Config) string {
	if cfg == nil {
		return ""
	}
	if !strings.EqualFold(cfg.Cache.Backend, CacheBackendSQLite) {
		return cfg.Cache.DSN
	}
	return expandHomeDir(cfg.Cache.DSN)
}

func expandHomeDir(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if path == "~" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return home
		}
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
