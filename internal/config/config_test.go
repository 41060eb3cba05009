package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
default_target: 192.0.2.1
check_interval_sec: 30
ping_timeout_ms: 800
retry_count: 2
retry_backoff_ms: 250
targets:
  - name: Gateway
    address: 192.0.2.1
    timeout_ms: 400
  - name: Web
    address: 192.0.2.10
    port: 443
    retry_count: 5
recovery_actions:
  - name: restart-iface
    command: ip link set eth0 down && ip link set eth0 up
    wait_after_ms: 3000
notification_enabled: true
notification_command: notify-send netmend recovered
dashboard:
  enabled: true
  listen_addr: 127.0.0.1:9999
`

func TestLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "netmend.yaml")

	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(ctx, path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.DefaultTarget != "192.0.2.1" {
		t.Fatalf("unexpected default target: %s", cfg.DefaultTarget)
	}
	if cfg.CheckInterval() != 30*time.Second {
		t.Fatalf("unexpected interval: %s", cfg.CheckInterval())
	}
	if len(cfg.Targets) != 2 || cfg.Targets[1].Port != 443 {
		t.Fatalf("unexpected targets: %#v", cfg.Targets)
	}
	if !cfg.Dashboard.Enabled || cfg.Dashboard.ListenAddr != "127.0.0.1:9999" {
		t.Fatalf("unexpected dashboard config: %#v", cfg.Dashboard)
	}
}

func TestLoadGeneratesDefaultWhenAbsent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "netmend.yaml")

	cfg, err := Load(ctx, path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("expected default config, got %#v", cfg)
	}

	// The generated file must round-trip to the exact same config.
	reloaded, err := Load(ctx, path)
	if err != nil {
		t.Fatalf("reload returned error: %v", err)
	}
	if !reflect.DeepEqual(reloaded, Default()) {
		t.Fatalf("round-trip diverged from default:\n got %#v\nwant %#v", reloaded, Default())
	}
}

func TestLoadFromEnv(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "netmend.yaml")

	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(envConfigPath, path)

	cfg, err := LoadFromEnv(ctx)
	if err != nil {
		t.Fatalf("LoadFromEnv returned error: %v", err)
	}
	if cfg.RetryBackoff() != 250*time.Millisecond {
		t.Fatalf("unexpected backoff: %s", cfg.RetryBackoff())
	}
}

func TestLoadRejectsMalformed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "netmend.yaml")

	if err := os.WriteFile(path, []byte("targets: [not: {valid"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(ctx, path); err == nil {
		t.Fatalf("expected parse error for malformed config")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing default target", func(c *Config) { c.DefaultTarget = "" }, "default_target"},
		{"zero interval", func(c *Config) { c.CheckIntervalSec = 0 }, "check_interval_sec"},
		{"duplicate target name", func(c *Config) {
			c.Targets = append(c.Targets, Target{Name: "Google DNS", Address: "8.8.4.4"})
		}, "duplicate target name"},
		{"target without address", func(c *Config) {
			c.Targets = []Target{{Name: "Broken"}}
		}, "has no address"},
		{"action without command", func(c *Config) {
			c.RecoveryActions = []RecoveryAction{{Name: "noop"}}
		}, "has no command"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestTargetOverrides(t *testing.T) {
	cfg := Default()
	cfg.PingTimeoutMS = 1000
	cfg.RetryCount = 3

	plain := Target{Name: "plain", Address: "192.0.2.2"}
	if cfg.TargetTimeout(plain) != time.Second {
		t.Fatalf("expected global timeout for plain target, got %s", cfg.TargetTimeout(plain))
	}
	if cfg.TargetRetries(plain) != 3 {
		t.Fatalf("expected global retry count, got %d", cfg.TargetRetries(plain))
	}

	tuned := Target{Name: "tuned", Address: "192.0.2.3", TimeoutMS: 200, RetryCount: 7}
	if cfg.TargetTimeout(tuned) != 200*time.Millisecond {
		t.Fatalf("expected override timeout, got %s", cfg.TargetTimeout(tuned))
	}
	if cfg.TargetRetries(tuned) != 7 {
		t.Fatalf("expected override retries, got %d", cfg.TargetRetries(tuned))
	}
}

func TestSaveAtomicOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "netmend.yaml")

	cfg := Default()
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	cfg.CheckIntervalSec = 15
	if err := Save(cfg, path); err != nil {
		t.Fatalf("second Save returned error: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	loaded, err := Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded.CheckIntervalSec != 15 {
		t.Fatalf("expected overwritten interval, got %d", loaded.CheckIntervalSec)
	}
}
