// Package config loads service settings and platform credentials from a YAML
// file with environment overrides.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig              `yaml:"server"`
	Log       LogConfig                 `yaml:"log"`
	Store     StoreConfig               `yaml:"store"`
	Sink      SinkConfig                `yaml:"sink"`
	Sync      SyncConfig                `yaml:"sync"`
	Platforms map[string]PlatformConfig `yaml:"platforms"`
}

type ServerConfig struct {
	Port         int      `yaml:"port"`
	AllowOrigins []string `yaml:"allow_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text, json
}

type StoreConfig struct {
	Driver      string `yaml:"driver"` // memory, redis, sqlite, postgres
	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
}

type SinkConfig struct {
	Driver        string   `yaml:"driver"` // memory, redis, kafka, webhook, none
	RedisURL      string   `yaml:"redis_url"`
	Stream        string   `yaml:"stream"`
	KafkaBrokers  []string `yaml:"kafka_brokers"`
	KafkaTopic    string   `yaml:"kafka_topic"`
	WebhookURL    string   `yaml:"webhook_url"`
	WebhookSecret string   `yaml:"webhook_secret"`
	MaxAttempts   int      `yaml:"max_attempts"`
}

type SyncConfig struct {
	MailboxSize     int           `yaml:"mailbox_size"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	MaxOrderAge     time.Duration `yaml:"max_order_age"`
	SendBuffer      int           `yaml:"send_buffer"`
}

// PlatformConfig is the credential contract handed to an adapter.
type PlatformConfig struct {
	Enabled           bool          `yaml:"enabled"`
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"api_key"`
	APISecret         string        `yaml:"api_secret"`
	PartnerID         string        `yaml:"partner_id"`
	Environment       string        `yaml:"environment"`
	Timeout           time.Duration `yaml:"timeout"`
	RetryAttempts     int           `yaml:"retry_attempts"`
	RateLimitBuffer   int           `yaml:"rate_limit_buffer"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	WebhookSecret     string        `yaml:"webhook_secret"`
	RestaurantID      string        `yaml:"restaurant_id"`
}

// env holds the ORDERHUB_* overrides.
type env struct {
	Port         int      `envconfig:"PORT"`
	LogLevel     string   `envconfig:"LOG_LEVEL"`
	LogFormat    string   `envconfig:"LOG_FORMAT"`
	StoreDriver  string   `envconfig:"STORE_DRIVER"`
	RedisURL     string   `envconfig:"REDIS_URL"`
	DatabaseURL  string   `envconfig:"DATABASE_URL"`
	SinkDriver   string   `envconfig:"SINK_DRIVER"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	SinkWebhook  string   `envconfig:"SINK_WEBHOOK_URL"`
	AllowOrigins []string `envconfig:"ALLOW_ORIGINS"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Log:    LogConfig{Level: "info", Format: "text"},
		Store:  StoreConfig{Driver: "memory", SQLitePath: "orderhub.db"},
		Sink: SinkConfig{
			Driver:      "none",
			Stream:      "orderhub:events",
			KafkaTopic:  "order-status-changes",
			MaxAttempts: 3,
		},
		Sync: SyncConfig{
			MailboxSize:     64,
			CleanupInterval: 10 * time.Minute,
			MaxOrderAge:     24 * time.Hour,
			SendBuffer:      32,
		},
		Platforms: map[string]PlatformConfig{},
	}
}

// Load reads path (optional) over the defaults, then applies ORDERHUB_* env.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyPlatformDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	var e env
	if err := envconfig.Process("orderhub", &e); err != nil {
		return fmt.Errorf("env config: %w", err)
	}
	if e.Port != 0 {
		c.Server.Port = e.Port
	}
	if e.LogLevel != "" {
		c.Log.Level = e.LogLevel
	}
	if e.LogFormat != "" {
		c.Log.Format = e.LogFormat
	}
	if e.StoreDriver != "" {
		c.Store.Driver = e.StoreDriver
	}
	if e.RedisURL != "" {
		c.Store.RedisURL = e.RedisURL
		if c.Sink.RedisURL == "" {
			c.Sink.RedisURL = e.RedisURL
		}
	}
	if e.DatabaseURL != "" {
		c.Store.DatabaseURL = e.DatabaseURL
	}
	if e.SinkDriver != "" {
		c.Sink.Driver = e.SinkDriver
	}
	if len(e.KafkaBrokers) > 0 {
		c.Sink.KafkaBrokers = e.KafkaBrokers
	}
	if e.SinkWebhook != "" {
		c.Sink.WebhookURL = e.SinkWebhook
	}
	if len(e.AllowOrigins) > 0 {
		c.Server.AllowOrigins = e.AllowOrigins
	}
	return nil
}

func (c *Config) applyPlatformDefaults() {
	for name, p := range c.Platforms {
		if p.Timeout <= 0 {
			p.Timeout = 30 * time.Second
		}
		if p.RetryAttempts <= 0 {
			p.RetryAttempts = 3
		}
		if p.Environment == "" {
			p.Environment = "production"
		}
		if p.WebhookSecret == "" {
			p.WebhookSecret = p.APISecret
		}
		c.Platforms[name] = p
	}
}

// Validate rejects enabled platforms with incomplete credentials and unknown drivers.
func (c *Config) Validate() error {
	var problems []string
	for _, name := range c.EnabledPlatforms() {
		p := c.Platforms[name]
		if p.BaseURL == "" {
			problems = append(problems, name+": base_url required")
		}
		if p.APIKey == "" || p.APISecret == "" {
			problems = append(problems, name+": api_key and api_secret required")
		}
	}
	switch c.Store.Driver {
	case "memory", "sqlite":
	case "redis":
		if c.Store.RedisURL == "" {
			problems = append(problems, "store: redis_url required")
		}
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store: database_url required")
		}
	default:
		problems = append(problems, "store: unknown driver "+c.Store.Driver)
	}
	switch c.Sink.Driver {
	case "none", "memory":
	case "redis":
		if c.Sink.RedisURL == "" {
			problems = append(problems, "sink: redis_url required")
		}
	case "kafka":
		if len(c.Sink.KafkaBrokers) == 0 {
			problems = append(problems, "sink: kafka_brokers required")
		}
	case "webhook":
		if c.Sink.WebhookURL == "" {
			problems = append(problems, "sink: webhook_url required")
		}
	default:
		problems = append(problems, "sink: unknown driver "+c.Sink.Driver)
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// EnabledPlatforms returns enabled platform names in sorted order.
func (c *Config) EnabledPlatforms() []string {
	var out []string
	for name, p := range c.Platforms {
		if p.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
