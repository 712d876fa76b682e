package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models rentline.yml.
type Config struct {
	Org struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"org"`
	Enforcement struct {
		EscalationDelayDays int `yaml:"escalation_delay_days"`
		CurePeriodDays      int `yaml:"cure_period_days"`
		Defaults            struct {
			RentDueDay      int   `yaml:"rent_due_day"`
			GracePeriodDays int   `yaml:"grace_period_days"`
			LateFeeCents    int64 `yaml:"late_fee_cents"`
		} `yaml:"defaults"`
	} `yaml:"enforcement"`
	Queue struct {
		PollIntervalSeconds int `yaml:"poll_interval_seconds"`
		JobTimeoutSeconds   int `yaml:"job_timeout_seconds"`
		MaxAttempts         int `yaml:"max_attempts"`
		RetryDelaySeconds   int `yaml:"retry_delay_seconds"`
	} `yaml:"queue"`
	Notify struct {
		Webhook struct {
			URL            string `yaml:"url"`
			Secret         string `yaml:"secret"`
			TimeoutSeconds int    `yaml:"timeout_seconds"`
		} `yaml:"webhook"`
	} `yaml:"notify"`
	Server struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Org.ID == "" {
		return fmt.Errorf("config.org.id is required")
	}
	if c.Enforcement.EscalationDelayDays <= 0 {
		return fmt.Errorf("config.enforcement.escalation_delay_days must be positive")
	}
	if c.Enforcement.CurePeriodDays <= 0 {
		return fmt.Errorf("config.enforcement.cure_period_days must be positive")
	}
	d := c.Enforcement.Defaults
	if d.RentDueDay < 1 || d.RentDueDay > 28 {
		return fmt.Errorf("config.enforcement.defaults.rent_due_day must be between 1 and 28")
	}
	if d.GracePeriodDays < 0 {
		return fmt.Errorf("config.enforcement.defaults.grace_period_days must not be negative")
	}
	if d.LateFeeCents < 0 {
		return fmt.Errorf("config.enforcement.defaults.late_fee_cents must not be negative")
	}
	if c.Queue.PollIntervalSeconds <= 0 {
		return fmt.Errorf("config.queue.poll_interval_seconds must be positive")
	}
	if c.Queue.JobTimeoutSeconds <= 0 {
		return fmt.Errorf("config.queue.job_timeout_seconds must be positive")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("config.queue.max_attempts must be positive")
	}
	if c.Queue.RetryDelaySeconds <= 0 {
		return fmt.Errorf("config.queue.retry_delay_seconds must be positive")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "rentline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run rl init to create it", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for an org.
func Default(orgID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, orgID))).Decode(&cfg)
	cfg.Org.ID = orgID
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(orgID string) string {
	return fmt.Sprintf(defaultTemplate, orgID)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `org:
  id: %s
  name: ""

enforcement:
  # Days an unresolved late notice waits before escalating to a
  # lease-violation notice.
  escalation_delay_days: 10
  # Cure window written into violation and eviction-warning notices.
  cure_period_days: 10
  # Fallbacks when a lease carries no matching clause.
  defaults:
    rent_due_day: 1
    grace_period_days: 5
    late_fee_cents: 5000

queue:
  poll_interval_seconds: 5
  job_timeout_seconds: 30
  max_attempts: 5
  retry_delay_seconds: 60

notify:
  webhook:
    url: ""
    secret: ""
    timeout_seconds: 5

server:
  jwt_secret: ""
`
