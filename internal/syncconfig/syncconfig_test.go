package syncconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// withHome points HOME at a temp dir and returns the config file path.
func withHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	return filepath.Join(tmpDir, ".config", "navsync", "config.json")
}

func writeConfig(t *testing.T, path string, m map[string]any) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDefaults(t *testing.T) {
	withHome(t)
	cfg, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerURL != defaultServerURL {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.BatchLimit != 400 || cfg.PageSize != 500 {
		t.Errorf("limits = %d/%d, want 400/500", cfg.BatchLimit, cfg.PageSize)
	}
	if cfg.ReconcileInterval != 5*time.Minute {
		t.Errorf("ReconcileInterval = %v", cfg.ReconcileInterval)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if !cfg.AutoSync {
		t.Error("AutoSync should default to true")
	}
}

func TestAutoSyncToggle(t *testing.T) {
	withHome(t)
	if err := Set("auto_sync", "false"); err != nil {
		t.Fatal(err)
	}
	if got, _ := Get(nil, "auto_sync"); got != "false" {
		t.Errorf("auto_sync from file = %q, want false", got)
	}
	t.Setenv("NAVSYNC_AUTO_SYNC", "true")
	cfg, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.AutoSync {
		t.Error("NAVSYNC_AUTO_SYNC should override the file")
	}
	if err := Set("auto_sync", "sometimes"); err == nil {
		t.Error("expected error for non-boolean auto_sync")
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := withHome(t)
	writeConfig(t, path, map[string]any{
		"server_url":    "http://file:1",
		"api_key":       "nav_live_fromfile",
		"push_interval": "10s",
		"log":           map[string]any{"level": "info"},
	})
	t.Setenv("NAVSYNC_SERVER_URL", "http://env:2")
	t.Setenv("NAVSYNC_LOG_LEVEL", "debug")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs)
	if err := fs.Parse([]string{"--log-level", "error"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(fs)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerURL != "http://env:2" {
		t.Errorf("ServerURL = %q, want env value", cfg.ServerURL)
	}
	if cfg.APIKey != "nav_live_fromfile" {
		t.Errorf("APIKey = %q, want file value", cfg.APIKey)
	}
	if cfg.PushInterval != 10*time.Second {
		t.Errorf("PushInterval = %v, want 10s", cfg.PushInterval)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("Log.Level = %q, want flag value", cfg.Log.Level)
	}
}

func TestLoadRejectsBadLimits(t *testing.T) {
	withHome(t)
	t.Setenv("NAVSYNC_BATCH_LIMIT", "1000")
	if _, err := Load(nil); err == nil {
		t.Fatal("expected error for batch limit above 400")
	}
}

func TestSetAndGet(t *testing.T) {
	path := withHome(t)

	if err := Set("server_url", "http://saved:3"); err != nil {
		t.Fatal(err)
	}
	if err := Set("log.format", "json"); err != nil {
		t.Fatal(err)
	}
	if err := Set("batch_limit", "200"); err != nil {
		t.Fatal(err)
	}
	if err := Set("batch_limit", "lots"); err == nil {
		t.Error("expected error for non-numeric batch_limit")
	}
	if err := Set("colour", "blue"); err == nil {
		t.Error("expected error for unknown key")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config perms = %v, want 0600", info.Mode().Perm())
	}

	for key, want := range map[string]string{
		"server_url":  "http://saved:3",
		"log.format":  "json",
		"batch_limit": "200",
	} {
		got, err := Get(nil, key)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("Get(%s) = %q, want %q", key, got, want)
		}
	}
}

func TestEnsureDeviceIDPersists(t *testing.T) {
	withHome(t)
	cfg, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := EnsureDeviceID(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.DeviceID == "" {
		t.Fatal("device id not assigned")
	}

	again, err := Load(nil)
	if err != nil {
		t.Fatal(err)
	}
	if again.DeviceID != cfg.DeviceID {
		t.Fatalf("device id = %q after reload, want %q", again.DeviceID, cfg.DeviceID)
	}
}

func TestValuesMasksAPIKey(t *testing.T) {
	cfg := &Config{APIKey: "nav_live_abcdefghijklmnop"}
	for _, kv := range cfg.Values() {
		if kv[0] == "api_key" && kv[1] != "nav_live_abc..." {
			t.Errorf("api_key shown as %q", kv[1])
		}
	}
}
