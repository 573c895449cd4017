// Package config loads process-wide engine defaults (GC thresholds, feed
// timeouts, attachment limits) the same way bd's own internal/config does:
// a single viper.Viper instance, a config-file search that walks up from
// the working directory, then environment variables, then built-in
// defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var v *viper.Viper

// Initialize sets up the viper configuration singleton. Should be called
// once at process startup before any Get* call.
func Initialize() error {
	v = viper.New()
	v.SetConfigType("yaml")

	configFileSet := false

	// 1. Walk up from CWD looking for ./.vinedb/config.yaml
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			configPath := filepath.Join(dir, ".vinedb", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
				break
			}
		}
	}

	// 2. XDG-style user config directory
	if !configFileSet {
		if configDir, err := os.UserConfigDir(); err == nil {
			configPath := filepath.Join(configDir, "vinedb", "config.yaml")
			if _, err := os.Stat(configPath); err == nil {
				v.SetConfigFile(configPath)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("VINEDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Backing store / transaction defaults.
	v.SetDefault("store.busy-timeout", "5s")
	v.SetDefault("store.wal", true)

	// Attachment defaults (§4.7 encoding contract thresholds).
	v.SetDefault("attachments.inline-max-bytes", 16384)

	// Change feed defaults (§4.8).
	v.SetDefault("changes.longpoll-timeout", "60s")
	v.SetDefault("changes.observer-queue-limit", 1000)

	// Compaction defaults (§4.9 / §9 compact semantics).
	v.SetDefault("compact.gc-keep-days", 0)

	// Map index defaults (§4.9 background update concurrency).
	v.SetDefault("query.max-concurrent-index-updates", 4)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// GetString retrieves a string configuration value.
func GetString(key string) string {
	if v == nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool retrieves a boolean configuration value.
func GetBool(key string) bool {
	if v == nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt retrieves an integer configuration value.
func GetInt(key string) int {
	if v == nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration retrieves a duration configuration value.
func GetDuration(key string) time.Duration {
	if v == nil {
		return 0
	}
	return v.GetDuration(key)
}

// Set overrides a configuration value at runtime (tests, CLI flags).
func Set(key string, value interface{}) {
	if v != nil {
		v.Set(key, value)
	}
}
