package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/good-yellow-bee/blazetrack/internal/api/auth"
	"github.com/good-yellow-bee/blazetrack/internal/models"
	"github.com/good-yellow-bee/blazetrack/internal/notifier"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "server.yaml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(jwtSecretEnv, "")
	path := writeConfig(t, `
server:
  http_address: ":9000"
  metrics_address: ":9100"
  token_ttl: 2h
tracker:
  spike_window: 10m
  spike_factor: 3
escalation:
  default_delay: 5m
notifications:
  default_channel: webhook
  channels:
    - type: webhook
      webhook:
        url: https://hooks.example.com/ops
        secret: s3cret
  templates:
    - id: alert
      subject: "[{{severity}}] {{title}}"
      body: "{{message}}"
eventbus:
  subscriber_buffer: 2048
schedule:
  analytics: "off"
  cleanup: "@every 2h"
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.HTTPAddress != ":9000" || cfg.Server.TokenTTL.Std() != 2*time.Hour {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.RateLimitPerMinute != 600 {
		t.Errorf("rate limit default = %d, want 600", cfg.Server.RateLimitPerMinute)
	}
	if cfg.Tracker.SpikeWindow.Std() != 10*time.Minute {
		t.Errorf("spike window = %v", cfg.Tracker.SpikeWindow)
	}
	if len(cfg.Notifications.Channels) != 1 || cfg.Notifications.Channels[0].Webhook.Secret != "s3cret" {
		t.Errorf("channels = %+v", cfg.Notifications.Channels)
	}
	if cfg.Schedule.EscalationSweep != "@every 60s" {
		t.Errorf("escalation sweep default = %q", cfg.Schedule.EscalationSweep)
	}

	ac := cfg.toApp()
	if ac.API.Address != ":9000" || ac.MetricsAddress != ":9100" {
		t.Errorf("addresses = %q %q", ac.API.Address, ac.MetricsAddress)
	}
	if len(ac.API.JWTSecret) != 0 {
		t.Error("auth should be disabled without a secret")
	}
	if ac.Escalation.DefaultDelay != 5*time.Minute {
		t.Errorf("default delay = %v", ac.Escalation.DefaultDelay)
	}
	if ac.Notifications.DefaultChannel != models.ChannelWebhook || len(ac.Notifications.Templates) != 1 || ac.Notifications.QueueSize != 2048 {
		t.Errorf("notifications = %+v", ac.Notifications)
	}
	if ac.Schedule.Analytics != "" || ac.Schedule.Cleanup != "@every 2h" {
		t.Errorf("schedule = %+v", ac.Schedule)
	}
	if ac.DatabasePath != "./data/blazetrack.db" || ac.ClickHouse != nil {
		t.Errorf("stores = %q %v", ac.DatabasePath, ac.ClickHouse)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := LoadConfig(writeConfig(t, "server: [")); err == nil {
		t.Error("expected error for malformed yaml")
	}
	if _, err := LoadConfig(writeConfig(t, "tracker:\n  retention: soon\n")); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestConfigValidate(t *testing.T) {
	t.Setenv(jwtSecretEnv, "")
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"secret", func(c *Config) { c.Server.JWTSecret = testSecret }, ""},
		{"short secret", func(c *Config) { c.Server.JWTSecret = "short" }, "jwt_secret"},
		{"metrics on api address", func(c *Config) { c.Server.MetricsAddress = c.Server.HTTPAddress }, "metrics_address"},
		{"tls without cert", func(c *Config) { c.Server.TLS.Enabled = true }, "cert_file"},
		{"clickhouse without addresses", func(c *Config) { c.ClickHouse.Enabled = true }, "clickhouse.addresses"},
		{"negative spike factor", func(c *Config) { c.Tracker.SpikeFactor = -1 }, "spike_factor"},
		{"negative workers", func(c *Config) { c.Notifications.Workers = -2 }, "workers"},
		{"invalid channel", func(c *Config) {
			c.Notifications.Channels = []notifier.ChannelConfig{{Type: models.ChannelSMS}}
		}, "channels[0]"},
		{"template without id", func(c *Config) {
			c.Notifications.Templates = []notifier.Template{{Subject: "x"}}
		}, "templates[0]"},
		{"bad schedule", func(c *Config) { c.Schedule.AlertSweep = "every now and then" }, "alert_sweep"},
		{"schedule off", func(c *Config) { c.Schedule.AlertSweep = "off" }, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("Validate() error = %v, want it to mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestJWTSecretFromEnv(t *testing.T) {
	t.Setenv(jwtSecretEnv, testSecret)
	cfg, err := LoadConfig(writeConfig(t, "server:\n  jwt_secret: overridden\n"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Server.JWTSecret != testSecret {
		t.Errorf("secret = %q, want env value", cfg.Server.JWTSecret)
	}
}

func TestToApp_Stores(t *testing.T) {
	t.Setenv(jwtSecretEnv, "")
	cfg := DefaultConfig()
	cfg.Database.Path = "memory"
	cfg.ClickHouse = ClickHouseConfig{
		Enabled:       true,
		Addresses:     []string{"ch:9000"},
		Database:      "errors",
		BatchSize:     100,
		FlushInterval: models.Duration(time.Second),
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	ac := cfg.toApp()
	if ac.DatabasePath != "" {
		t.Errorf("memory database path = %q, want empty", ac.DatabasePath)
	}
	if ac.ClickHouse == nil || ac.ClickHouse.Database != "errors" || ac.ClickHouse.Addresses[0] != "ch:9000" {
		t.Fatalf("clickhouse = %+v", ac.ClickHouse)
	}
	if ac.EventBuffer.BatchSize != 100 || ac.EventBuffer.FlushInterval != time.Second {
		t.Errorf("event buffer = %+v", ac.EventBuffer)
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv(jwtSecretEnv, testSecret)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs([]string{"token", "ci-pipeline", "--role", "admin", "--ttl", "1h"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		tokenRole = string(auth.RoleOperator)
		tokenTTL = 0
	})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("token command error = %v (%s)", err, out.String())
	}

	claims, err := auth.NewJWTService([]byte(testSecret), time.Hour).ValidateToken(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if claims.Subject != "ci-pipeline" || claims.Role != auth.RoleAdmin {
		t.Errorf("claims = %+v", claims)
	}
}
