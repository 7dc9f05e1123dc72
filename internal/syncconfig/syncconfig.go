// Package syncconfig loads the navsync client configuration. Values come from
// command-line flags, NAVSYNC_* environment variables,
// ~/.config/navsync/config.json and built-in defaults, in that order.
package syncconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides (NAVSYNC_SERVER_URL, ...).
const EnvPrefix = "NAVSYNC"

const (
	defaultServerURL         = "http://localhost:8080"
	defaultBatchLimit        = 400
	defaultPageSize          = 500
	defaultReconcileInterval = 5 * time.Minute
	defaultPushInterval      = 30 * time.Second
)

// LogConfig controls client logging.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level,omitempty"`
	Format string `mapstructure:"format" json:"format,omitempty"`
	File   string `mapstructure:"file" json:"file,omitempty"`
}

// Config is the resolved client configuration.
type Config struct {
	ServerURL         string        `mapstructure:"server_url"`
	APIKey            string        `mapstructure:"api_key"`
	DeviceID          string        `mapstructure:"device_id"`
	BatchLimit        int           `mapstructure:"batch_limit"`
	PageSize          int           `mapstructure:"page_size"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	PushInterval      time.Duration `mapstructure:"push_interval"`
	Compress          bool          `mapstructure:"compress"`
	AutoSync          bool          `mapstructure:"auto_sync"`
	Log               LogConfig     `mapstructure:"log"`
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"server":     "server_url",
	"api-key":    "api_key",
	"device-id":  "device_id",
	"log-level":  "log.level",
	"log-format": "log.format",
	"log-file":   "log.file",
}

// keys lists every settable config key.
var keys = []string{
	"server_url", "api_key", "device_id", "batch_limit", "page_size",
	"reconcile_interval", "push_interval", "compress", "auto_sync",
	"log.level", "log.format", "log.file",
}

// Keys returns the settable config keys.
func Keys() []string {
	return slices.Clone(keys)
}

// ConfigDir returns ~/.config/navsync, creating it if necessary.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	dir := filepath.Join(home, ".config", "navsync")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create config dir: %w", err)
	}
	return dir, nil
}

// ConfigPath returns the config file location.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// BindFlags registers the persistent flags that override config values.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("server", "", "sync server URL")
	fs.String("api-key", "", "API key for the sync server")
	fs.String("device-id", "", "device identifier sent with every request")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("log-format", "", "log format (text, json)")
	fs.String("log-file", "", "also write logs to this file (rotated)")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("server_url", defaultServerURL)
	v.SetDefault("api_key", "")
	v.SetDefault("device_id", "")
	v.SetDefault("batch_limit", defaultBatchLimit)
	v.SetDefault("page_size", defaultPageSize)
	v.SetDefault("reconcile_interval", defaultReconcileInterval)
	v.SetDefault("push_interval", defaultPushInterval)
	v.SetDefault("compress", false)
	// Push after every mutating command once an API key is configured.
	v.SetDefault("auto_sync", true)
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	return v
}

// Load resolves the configuration. fs may be nil; only flags the user
// actually set override lower layers.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := newViper()

	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the engine cannot work with.
func (c *Config) Validate() error {
	if c.BatchLimit <= 0 || c.BatchLimit > defaultBatchLimit {
		return fmt.Errorf("batch_limit must be between 1 and %d, got %d", defaultBatchLimit, c.BatchLimit)
	}
	if c.PageSize <= 0 || c.PageSize > defaultPageSize {
		return fmt.Errorf("page_size must be between 1 and %d, got %d", defaultPageSize, c.PageSize)
	}
	if c.ReconcileInterval < 0 || c.PushInterval < 0 {
		return errors.New("intervals must not be negative")
	}
	return nil
}

// EnsureDeviceID assigns and persists a device id when none is configured.
func EnsureDeviceID(cfg *Config) error {
	if cfg.DeviceID != "" {
		return nil
	}
	id := uuid.NewString()
	if err := Set("device_id", id); err != nil {
		return fmt.Errorf("persist device id: %w", err)
	}
	cfg.DeviceID = id
	return nil
}

// readFile returns the raw config file contents as a nested map.
func readFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

// Set writes one key to the config file, keeping the others.
func Set(key, value string) error {
	if !slices.Contains(keys, key) {
		return fmt.Errorf("unknown config key %q", key)
	}
	typed, err := coerce(key, value)
	if err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}
	m, err := readFile(path)
	if err != nil {
		return err
	}
	if section, field, nested := strings.Cut(key, "."); nested {
		sub, _ := m[section].(map[string]any)
		if sub == nil {
			sub = map[string]any{}
		}
		sub[field] = typed
		m[section] = sub
	} else {
		m[key] = typed
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	// The file can hold an API key.
	return os.WriteFile(path, data, 0600)
}

// Get returns one resolved value as a string.
func Get(fs *pflag.FlagSet, key string) (string, error) {
	if !slices.Contains(keys, key) {
		return "", fmt.Errorf("unknown config key %q", key)
	}
	cfg, err := Load(fs)
	if err != nil {
		return "", err
	}
	return cfg.value(key), nil
}

func (c *Config) value(key string) string {
	switch key {
	case "server_url":
		return c.ServerURL
	case "api_key":
		return c.APIKey
	case "device_id":
		return c.DeviceID
	case "batch_limit":
		return strconv.Itoa(c.BatchLimit)
	case "page_size":
		return strconv.Itoa(c.PageSize)
	case "reconcile_interval":
		return c.ReconcileInterval.String()
	case "push_interval":
		return c.PushInterval.String()
	case "compress":
		return strconv.FormatBool(c.Compress)
	case "auto_sync":
		return strconv.FormatBool(c.AutoSync)
	case "log.level":
		return c.Log.Level
	case "log.format":
		return c.Log.Format
	case "log.file":
		return c.Log.File
	}
	return ""
}

// Values returns every key with its resolved value, in Keys order. The API
// key is masked.
func (c *Config) Values() [][2]string {
	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		v := c.value(k)
		if k == "api_key" && len(v) > 12 {
			v = v[:12] + "..."
		}
		out = append(out, [2]string{k, v})
	}
	return out
}

func coerce(key, value string) (any, error) {
	switch key {
	case "batch_limit", "page_size":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return n, nil
	case "reconcile_interval", "push_interval":
		if _, err := time.ParseDuration(value); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return value, nil
	case "compress", "auto_sync":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return b, nil
	}
	return value, nil
}
