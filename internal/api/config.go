package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces the server's environment variables
// (NAVSYNC_SERVER_LISTEN_ADDR, NAVSYNC_SERVER_DB_PATH, ...).
const EnvPrefix = "NAVSYNC_SERVER"

// Config holds the server configuration.
type Config struct {
	ListenAddr      string
	DBPath          string
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
	LogFormat       string // "json" (default) or "text"
	LogLevel        string // "debug", "info" (default), "warn", "error"
	LogFile         string // optional rotated log file

	RateLimitRead  int // queries, fetches and subscriptions per API key per minute (default: 600)
	RateLimitWrite int // batches per API key per minute (default: 120)

	// Version is reported by /healthz. It is set by the binary, not loaded.
	Version string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("db_path", "./data/server.db")
	v.SetDefault("shutdown_timeout", 30*time.Second)
	v.SetDefault("max_body_bytes", 10<<20)
	v.SetDefault("log_format", "json")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("rate_limit_read", 600)
	v.SetDefault("rate_limit_write", 120)
}

// LoadConfig reads configuration from an optional JSON file, overridden by
// NAVSYNC_SERVER_* environment variables, falling back to defaults.
func LoadConfig(configFile string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		configFile = v.GetString("config")
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := Config{
		ListenAddr:      v.GetString("listen_addr"),
		DBPath:          v.GetString("db_path"),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
		MaxBodyBytes:    v.GetInt64("max_body_bytes"),
		LogFormat:       v.GetString("log_format"),
		LogLevel:        v.GetString("log_level"),
		LogFile:         v.GetString("log_file"),
		RateLimitRead:   v.GetInt("rate_limit_read"),
		RateLimitWrite:  v.GetInt("rate_limit_write"),
	}
	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown_timeout must be positive, got %s", cfg.ShutdownTimeout)
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("max_body_bytes must be positive, got %d", cfg.MaxBodyBytes)
	}
	return cfg, nil
}
