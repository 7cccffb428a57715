package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config represents the bridge server's full configuration, covering both
// the ambient stack (logging, storage backend selection, HTTP/WS ingress,
// auth) and the device-fleet knobs.
type Config struct {
	// Storage backend: exactly one of DatabaseURL or SQLitePath is used.
	DatabaseURL  string `mapstructure:"database_url"`
	SQLitePath   string `mapstructure:"database_sqlite_path"`

	// Outbound event relay.
	RedisAddr string `mapstructure:"redis_addr"`

	// HTTP/WS ingress.
	HTTPAddr      string `mapstructure:"http_addr"`
	JWTSigningKey string `mapstructure:"jwt_signing_key"`

	// Template-at-rest seal key (32 bytes, base64 in config/env).
	SealKeyBase64 string `mapstructure:"seal_key_base64"`

	// Logging.
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	// Control loop cadence.
	HealthInterval              int `mapstructure:"health_interval_seconds"`
	InfoSyncInterval            int `mapstructure:"info_sync_interval_seconds"`
	AttendancePollInterval      int `mapstructure:"attendance_poll_interval_seconds"`
	AttendancePollConcurrency   int `mapstructure:"attendance_poll_concurrency"`
	AttendanceDuplicateWindow   int `mapstructure:"attendance_duplicate_window_minutes"`
	AttendanceTimezone          string `mapstructure:"attendance_timezone"`
	DefaultDeviceTimeoutSeconds int `mapstructure:"default_device_timeout_seconds"`
	ProcessedKeysMaxPerDevice   int `mapstructure:"processed_keys_max_per_device"`

	// SimulationMode runs every configured device against the in-memory
	// stub instead of opening real sockets.
	SimulationMode bool `mapstructure:"simulation_mode"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		SQLitePath:                  "./bridge.db",
		RedisAddr:                   "localhost:6379",
		HTTPAddr:                    ":8080",
		LogLevel:                    "info",
		HealthInterval:              30,
		InfoSyncInterval:            60,
		AttendancePollInterval:      15,
		AttendancePollConcurrency:   4,
		AttendanceDuplicateWindow:   5,
		AttendanceTimezone:          "Africa/Nairobi",
		DefaultDeviceTimeoutSeconds: 5,
		ProcessedKeysMaxPerDevice:   5000,
		SimulationMode:              false,
	}
}

// Load loads configuration from file and environment variables. Missing
// config files are fine; defaults plus BRIDGE_* env vars are enough to run.
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/school-attendance-bridge")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".school-attendance-bridge"))
		}
	}

	v.SetEnvPrefix("BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("database_sqlite_path", cfg.SQLitePath)
	v.SetDefault("redis_addr", cfg.RedisAddr)
	v.SetDefault("http_addr", cfg.HTTPAddr)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("health_interval_seconds", cfg.HealthInterval)
	v.SetDefault("info_sync_interval_seconds", cfg.InfoSyncInterval)
	v.SetDefault("attendance_poll_interval_seconds", cfg.AttendancePollInterval)
	v.SetDefault("attendance_poll_concurrency", cfg.AttendancePollConcurrency)
	v.SetDefault("attendance_duplicate_window_minutes", cfg.AttendanceDuplicateWindow)
	v.SetDefault("attendance_timezone", cfg.AttendanceTimezone)
	v.SetDefault("default_device_timeout_seconds", cfg.DefaultDeviceTimeoutSeconds)
	v.SetDefault("processed_keys_max_per_device", cfg.ProcessedKeysMaxPerDevice)
	v.SetDefault("simulation_mode", cfg.SimulationMode)
}

// Validate checks that required fields are present and interval knobs are
// sane before anything gets wired.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return fmt.Errorf("one of database_url or database_sqlite_path is required")
	}

	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}

	if !c.SimulationMode && c.JWTSigningKey == "" {
		return fmt.Errorf("jwt_signing_key is required outside simulation_mode")
	}

	if c.HealthInterval <= 0 {
		return fmt.Errorf("health_interval_seconds must be positive")
	}
	if c.InfoSyncInterval <= 0 {
		return fmt.Errorf("info_sync_interval_seconds must be positive")
	}
	if c.AttendancePollInterval <= 0 {
		return fmt.Errorf("attendance_poll_interval_seconds must be positive")
	}
	if c.AttendancePollConcurrency <= 0 {
		return fmt.Errorf("attendance_poll_concurrency must be positive")
	}
	if c.AttendanceDuplicateWindow <= 0 {
		return fmt.Errorf("attendance_duplicate_window_minutes must be positive")
	}
	if c.ProcessedKeysMaxPerDevice <= 0 {
		return fmt.Errorf("processed_keys_max_per_device must be positive")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}

	return nil
}

// UsesPostgres reports whether the configured storage backend is Postgres
// rather than the local SQLite fallback.
func (c *Config) UsesPostgres() bool {
	return c.DatabaseURL != ""
}
