// Package main provides the BlazeTrack server CLI.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/blazetrack/internal/api"
	"github.com/good-yellow-bee/blazetrack/internal/app"
	"github.com/good-yellow-bee/blazetrack/internal/logging"
	"github.com/good-yellow-bee/blazetrack/internal/models"
	"github.com/good-yellow-bee/blazetrack/internal/notifier"
	"github.com/good-yellow-bee/blazetrack/internal/storage"
	"github.com/good-yellow-bee/blazetrack/pkg/config"
)

// jwtSecretEnv overrides server.jwt_secret.
const jwtSecretEnv = "BLAZETRACK_JWT_SECRET"

// Config represents the server configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           logging.Config      `yaml:"log"`
	Database      DatabaseConfig      `yaml:"database"`
	ClickHouse    ClickHouseConfig    `yaml:"clickhouse"`
	Tracker       TrackerConfig       `yaml:"tracker"`
	Alerting      AlertingConfig      `yaml:"alerting"`
	Escalation    EscalationConfig    `yaml:"escalation"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Schedule      ScheduleConfig      `yaml:"schedule"`
	EventBus      EventBusConfig      `yaml:"eventbus"`
	Verbose       bool                `yaml:"-"` // set via CLI flag
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	HTTPAddress        string          `yaml:"http_address"`    // API listen address (default: :8080)
	MetricsAddress     string          `yaml:"metrics_address"` // Prometheus listen address, empty disables
	JWTSecret          string          `yaml:"jwt_secret"`      // empty disables auth
	TokenTTL           models.Duration `yaml:"token_ttl"`
	RateLimitPerMinute int             `yaml:"rate_limit_per_minute"` // capture requests per client
	AllowedOrigins     []string        `yaml:"allowed_origins"`       // websocket origins
	ReadTimeout        models.Duration `yaml:"read_timeout"`
	TLS                TLSConfig       `yaml:"tls"`
}

// TLSConfig contains TLS settings for the API listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DatabaseConfig contains SQLite settings.
type DatabaseConfig struct {
	// Path is the SQLite file. "memory" keeps all state in process.
	Path string `yaml:"path"`
}

// ClickHouseConfig contains the optional error event store settings.
type ClickHouseConfig struct {
	Enabled       bool            `yaml:"enabled"`
	Addresses     []string        `yaml:"addresses"`
	Database      string          `yaml:"database"`
	Username      string          `yaml:"username"`
	Password      string          `yaml:"password"`
	MaxOpenConns  int             `yaml:"max_open_conns"`
	DialTimeout   models.Duration `yaml:"dial_timeout"`
	Compression   bool            `yaml:"compression"`
	RetentionDays int             `yaml:"retention_days"`
	BatchSize     int             `yaml:"batch_size"`
	FlushInterval models.Duration `yaml:"flush_interval"`
	MaxBuffer     int             `yaml:"max_buffer"`
}

// TrackerConfig contains error tracker settings.
type TrackerConfig struct {
	RecentCapacity int             `yaml:"recent_capacity"`
	Retention      models.Duration `yaml:"retention"`
	SpikeWindow    models.Duration `yaml:"spike_window"`
	SpikeFactor    float64         `yaml:"spike_factor"`
	DisableAlerts  bool            `yaml:"disable_alerts"`
}

// AlertingConfig contains alert manager settings.
type AlertingConfig struct {
	RulesFile          string            `yaml:"rules_file"`
	Watch              bool              `yaml:"watch"`
	DefaultRecipients  models.Recipients `yaml:"default_recipients"`
	MaxEscalationLevel int               `yaml:"max_escalation_level"`
	ScriptTimeout      models.Duration   `yaml:"script_timeout"`
	QueueSize          int               `yaml:"queue_size"`
}

// EscalationConfig contains escalation engine settings.
type EscalationConfig struct {
	RulesFile    string          `yaml:"rules_file"`
	Watch        bool            `yaml:"watch"`
	DefaultDelay models.Duration `yaml:"default_delay"`
	MaxLevel     int             `yaml:"max_level"`
}

// NotificationsConfig contains notifier settings.
type NotificationsConfig struct {
	DefaultChannel models.ChannelType       `yaml:"default_channel"`
	Workers        int                      `yaml:"workers"`
	OutboundRate   float64                  `yaml:"outbound_rate"` // requests per second across HTTP channels
	OutboundBurst  int                      `yaml:"outbound_burst"`
	SendTimeout    models.Duration          `yaml:"send_timeout"`
	QueueSize      int                      `yaml:"queue_size"`
	Channels       []notifier.ChannelConfig `yaml:"channels"`
	Templates      []notifier.Template      `yaml:"templates"`
}

// EventBusConfig contains event bus settings.
type EventBusConfig struct {
	// SubscriberBuffer sizes the notifier and alert manager subscriptions
	// when their queue_size is unset.
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// ScheduleConfig holds cron specs for maintenance jobs. "off" disables a job.
type ScheduleConfig struct {
	EscalationSweep   string `yaml:"escalation_sweep"`
	NotificationSweep string `yaml:"notification_sweep"`
	AlertSweep        string `yaml:"alert_sweep"`
	Cleanup           string `yaml:"cleanup"`
	Analytics         string `yaml:"analytics"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = ":8080"
	}
	if c.Server.TokenTTL == 0 {
		c.Server.TokenTTL = models.Duration(24 * time.Hour)
	}
	if c.Server.RateLimitPerMinute == 0 {
		c.Server.RateLimitPerMinute = 600
	}
	if s := os.Getenv(jwtSecretEnv); s != "" {
		c.Server.JWTSecret = s
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stderr"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/blazetrack.db"
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Database == "" {
		c.ClickHouse.Database = "blazetrack"
	}
	if c.Notifications.QueueSize == 0 {
		c.Notifications.QueueSize = c.EventBus.SubscriberBuffer
	}
	if c.Alerting.QueueSize == 0 {
		c.Alerting.QueueSize = c.EventBus.SubscriberBuffer
	}
	if c.Notifications.DefaultChannel == "" {
		c.Notifications.DefaultChannel = models.ChannelEmail
	}

	def := app.DefaultSchedule()
	fill := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	fill(&c.Schedule.EscalationSweep, def.EscalationSweep)
	fill(&c.Schedule.NotificationSweep, def.NotificationSweep)
	fill(&c.Schedule.AlertSweep, def.AlertSweep)
	fill(&c.Schedule.Cleanup, def.Cleanup)
	fill(&c.Schedule.Analytics, def.Analytics)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.HTTPAddress == "" {
		return fmt.Errorf("server.http_address is required")
	}
	if c.Server.MetricsAddress != "" && c.Server.MetricsAddress == c.Server.HTTPAddress {
		return fmt.Errorf("server.metrics_address must differ from server.http_address")
	}
	if c.Server.JWTSecret != "" && len(c.Server.JWTSecret) < 32 {
		return fmt.Errorf("server.jwt_secret must be at least 32 bytes")
	}
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when TLS is enabled")
		}
	}
	if c.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("server.rate_limit_per_minute must not be negative")
	}
	if c.ClickHouse.Enabled && len(c.ClickHouse.Addresses) == 0 {
		return fmt.Errorf("clickhouse.addresses is required when clickhouse is enabled")
	}
	if c.Tracker.SpikeFactor < 0 {
		return fmt.Errorf("tracker.spike_factor must not be negative")
	}
	if c.Tracker.Retention < 0 || c.Tracker.SpikeWindow < 0 {
		return fmt.Errorf("tracker durations must not be negative")
	}
	if c.Escalation.DefaultDelay < 0 {
		return fmt.Errorf("escalation.default_delay must not be negative")
	}
	if c.Alerting.QueueSize < 0 {
		return fmt.Errorf("alerting.queue_size must not be negative")
	}
	if c.Notifications.QueueSize < 0 {
		return fmt.Errorf("notifications.queue_size must not be negative")
	}
	if c.Notifications.Workers < 0 {
		return fmt.Errorf("notifications.workers must not be negative")
	}
	for i := range c.Notifications.Channels {
		if err := c.Notifications.Channels[i].Validate(); err != nil {
			return fmt.Errorf("notifications.channels[%d]: %w", i, err)
		}
	}
	for i, t := range c.Notifications.Templates {
		if t.ID == "" {
			return fmt.Errorf("notifications.templates[%d]: id is required", i)
		}
	}
	return app.ValidateSchedule(c.schedule())
}

// schedule maps "off" to the empty spec that disables a job.
func (c *Config) schedule() app.ScheduleConfig {
	off := func(s string) string {
		if s == "off" {
			return ""
		}
		return s
	}
	return app.ScheduleConfig{
		EscalationSweep:   off(c.Schedule.EscalationSweep),
		NotificationSweep: off(c.Schedule.NotificationSweep),
		AlertSweep:        off(c.Schedule.AlertSweep),
		Cleanup:           off(c.Schedule.Cleanup),
		Analytics:         off(c.Schedule.Analytics),
	}
}

// toApp resolves the file configuration into the runtime configuration.
func (c *Config) toApp() app.Config {
	out := app.Config{
		API: api.Config{
			Address:            c.Server.HTTPAddress,
			JWTSecret:          []byte(c.Server.JWTSecret),
			TokenTTL:           c.Server.TokenTTL.Std(),
			RateLimitPerMinute: c.Server.RateLimitPerMinute,
			AllowedOrigins:     c.Server.AllowedOrigins,
			TLSEnabled:         c.Server.TLS.Enabled,
			TLSCertFile:        c.Server.TLS.CertFile,
			TLSKeyFile:         c.Server.TLS.KeyFile,
			ReadTimeout:        c.Server.ReadTimeout.Std(),
			Verbose:            c.Verbose,
		},
		MetricsAddress: c.Server.MetricsAddress,
		Tracker: app.TrackerConfig{
			RecentCapacity: c.Tracker.RecentCapacity,
			Retention:      c.Tracker.Retention.Std(),
			SpikeWindow:    c.Tracker.SpikeWindow.Std(),
			SpikeFactor:    c.Tracker.SpikeFactor,
			DisableAlerts:  c.Tracker.DisableAlerts,
		},
		Alerting: app.AlertingConfig{
			RulesFile:          c.Alerting.RulesFile,
			WatchRules:         c.Alerting.Watch,
			DefaultRecipients:  c.Alerting.DefaultRecipients,
			MaxEscalationLevel: c.Alerting.MaxEscalationLevel,
			ScriptTimeout:      c.Alerting.ScriptTimeout.Std(),
			QueueSize:          c.Alerting.QueueSize,
		},
		Escalation: app.EscalationConfig{
			RulesFile:    c.Escalation.RulesFile,
			WatchRules:   c.Escalation.Watch,
			DefaultDelay: c.Escalation.DefaultDelay.Std(),
			MaxLevel:     c.Escalation.MaxLevel,
		},
		Notifications: app.NotificationsConfig{
			DefaultChannel: c.Notifications.DefaultChannel,
			Channels:       c.Notifications.Channels,
			Templates:      c.Notifications.Templates,
			Workers:        c.Notifications.Workers,
			OutboundRate:   c.Notifications.OutboundRate,
			OutboundBurst:  c.Notifications.OutboundBurst,
			SendTimeout:    c.Notifications.SendTimeout.Std(),
			QueueSize:      c.Notifications.QueueSize,
		},
		Schedule: c.schedule(),
		Version:  config.Version,
	}
	if c.Database.Path != "memory" {
		out.DatabasePath = c.Database.Path
	}
	if c.ClickHouse.Enabled {
		out.ClickHouse = &storage.ClickHouseConfig{
			Addresses:     c.ClickHouse.Addresses,
			Database:      c.ClickHouse.Database,
			Username:      c.ClickHouse.Username,
			Password:      c.ClickHouse.Password,
			MaxOpenConns:  c.ClickHouse.MaxOpenConns,
			DialTimeout:   c.ClickHouse.DialTimeout.Std(),
			Compression:   c.ClickHouse.Compression,
			RetentionDays: c.ClickHouse.RetentionDays,
		}
		out.EventBuffer = storage.EventBufferConfig{
			BatchSize:     c.ClickHouse.BatchSize,
			FlushInterval: c.ClickHouse.FlushInterval.Std(),
			MaxSize:       c.ClickHouse.MaxBuffer,
		}
	}
	return out
}
