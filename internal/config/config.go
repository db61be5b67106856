package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models summit.yml.
type Config struct {
	Cache struct {
		TTLSeconds int `yaml:"ttl_seconds"`
		Capacity   int `yaml:"capacity"`
	} `yaml:"cache"`
	Habit struct {
		TargetDays    int      `yaml:"target_days"`
		CreditPercent int      `yaml:"credit_percent"`
		Keywords      []string `yaml:"keywords"`
	} `yaml:"habit"`
	Hooks struct {
		AutoUpdate bool `yaml:"auto_update"`
	} `yaml:"hooks"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes one outbound event delivery target. An empty
// Events list subscribes to everything.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// TTL returns the cache entry lifetime.
func (c *Config) TTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("config.cache.ttl_seconds must be positive")
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("config.cache.capacity must be positive")
	}
	if c.Habit.TargetDays < 1 || c.Habit.TargetDays > 365 {
		return fmt.Errorf("config.habit.target_days must be in 1..365")
	}
	if c.Habit.CreditPercent < 1 || c.Habit.CreditPercent > 100 {
		return fmt.Errorf("config.habit.credit_percent must be in 1..100")
	}
	if len(c.Habit.Keywords) == 0 {
		return fmt.Errorf("config.habit.keywords is required")
	}
	for _, k := range c.Habit.Keywords {
		if k == "" {
			return fmt.Errorf("config.habit.keywords contains an empty keyword")
		}
	}
	for i, w := range c.Webhooks {
		if strings.TrimSpace(w.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if w.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "summit.yml")
}

// Default returns the built-in engine configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// DefaultYAML returns the default config as a YAML document, suitable for
// seeding a workspace's summit.yml.
func DefaultYAML() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the workspace has no summit.yml.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `cache:
  ttl_seconds: 300
  capacity: 1000

habit:
  target_days: 30
  credit_percent: 80
  keywords:
    - habit
    - daily
    - every day
    - each day
    - routine
    - streak
    - keep up
    - continuously

hooks:
  auto_update: true
`
