// Package config provides configuration management for the backlight tools.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration values shared by the backlight binaries.
type Config struct {
	// Paths
	ConfigDir    string // directory holding the profile store and lock files
	ProfilePath  string // the committed profile document
	ApplyLogPath string // durable record of apply outcomes

	// Locking
	LockTimeout time.Duration // bound on waiting for the store write lock

	// Device apply
	ApplyAttempts   int           // bounded retries against a late-enumerating device
	ApplyRetryDelay time.Duration // delay between attempts
	Simulate        bool          // skip the real device, log what would run

	// Power monitoring
	PollInterval    time.Duration // sysfs poll cadence
	RediscoverEvery int           // poll iterations between supply rediscovery
	DBusEnabled     bool          // subscribe to UPower/logind when available

	// Change watching
	Debounce time.Duration // quiet period before a change notification settles

	// Apply log rotation
	LogMaxBytes  int64 // rotation trigger
	LogKeepBytes int64 // most recent bytes preserved on rotation

	// Desktop notifications
	NotifyEnabled bool
}

// Load loads configuration from environment variables with sensible defaults.
func Load() *Config {
	configDir := getEnv("BACKLIGHT_CONFIG_DIR", defaultConfigDir())
	return &Config{
		ConfigDir:    configDir,
		ProfilePath:  getEnv("BACKLIGHT_PROFILE_FILE", filepath.Join(configDir, "profile.json")),
		ApplyLogPath: getEnv("BACKLIGHT_APPLY_LOG", filepath.Join(configDir, "restore.log")),

		LockTimeout: getEnvDuration("BACKLIGHT_LOCK_TIMEOUT", 2*time.Second),

		ApplyAttempts:   getEnvInt("BACKLIGHT_APPLY_ATTEMPTS", 3),
		ApplyRetryDelay: getEnvDuration("BACKLIGHT_APPLY_RETRY_DELAY", 600*time.Millisecond),
		Simulate:        getEnvBool("BACKLIGHT_SIMULATE", false),

		PollInterval:    getEnvDuration("BACKLIGHT_POLL_INTERVAL", 3*time.Second),
		RediscoverEvery: getEnvInt("BACKLIGHT_REDISCOVER_EVERY", 20),
		DBusEnabled:     getEnvBool("BACKLIGHT_DBUS_ENABLED", true),

		Debounce: getEnvDuration("BACKLIGHT_DEBOUNCE", 250*time.Millisecond),

		LogMaxBytes:  int64(getEnvInt("BACKLIGHT_LOG_MAX_BYTES", 256*1024)),
		LogKeepBytes: int64(getEnvInt("BACKLIGHT_LOG_KEEP_BYTES", 128*1024)),

		NotifyEnabled: getEnvBool("BACKLIGHT_NOTIFY", false),
	}
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "backlight-linux")
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the integer value of an environment variable or a default value.
func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool returns the boolean value of an environment variable or a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvDuration returns the duration value of an environment variable or a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
