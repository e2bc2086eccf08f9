package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "studioflow.yml"

// Config models studioflow.yml.
type Config struct {
	Workflow struct {
		DefaultMaxRevisions int    `yaml:"default_max_revisions"`
		DefaultCurrency     string `yaml:"default_currency"`
		Retry               struct {
			Attempts          int `yaml:"attempts"`
			InitialIntervalMS int `yaml:"initial_interval_ms"`
		} `yaml:"retry"`
	} `yaml:"workflow"`
	Gateway       GatewayConfig       `yaml:"gateway"`
	Server        ServerConfig        `yaml:"server"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Webhooks      []WebhookConfig     `yaml:"webhooks"`
}

type GatewayConfig struct {
	Mode           string `yaml:"mode"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Retries        *int   `yaml:"retries"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
	// RequestsPerMinute limits each client address; zero disables limiting.
	RequestsPerMinute      int  `yaml:"requests_per_minute"`
	Burst                  int  `yaml:"burst"`
	AllowLegacyActorHeader bool `yaml:"allow_legacy_actor_header"`
}

type NotificationsConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	QueueSize     int     `yaml:"queue_size"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

const (
	GatewaySandbox = "sandbox"
	GatewayHTTP    = "http"
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sf config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workflow.DefaultMaxRevisions < 0 {
		return fmt.Errorf("workflow.default_max_revisions must not be negative")
	}
	if len(c.Workflow.DefaultCurrency) != 3 {
		return fmt.Errorf("workflow.default_currency must be a three-letter ISO code")
	}
	if c.Workflow.Retry.Attempts < 1 {
		return fmt.Errorf("workflow.retry.attempts must be at least 1")
	}
	if c.Workflow.Retry.InitialIntervalMS < 0 {
		return fmt.Errorf("workflow.retry.initial_interval_ms must not be negative")
	}
	switch c.Gateway.Mode {
	case GatewaySandbox:
	case GatewayHTTP:
		if strings.TrimSpace(c.Gateway.BaseURL) == "" {
			return fmt.Errorf("gateway.base_url is required in http mode")
		}
	default:
		return fmt.Errorf("gateway.mode must be 'sandbox' or 'http'")
	}
	if c.Gateway.TimeoutSeconds < 0 {
		return fmt.Errorf("gateway.timeout_seconds must not be negative")
	}
	if c.Gateway.Retries != nil && *c.Gateway.Retries < 0 {
		return fmt.Errorf("gateway.retries must not be negative")
	}
	if c.Server.RequestsPerMinute < 0 || c.Server.Burst < 0 {
		return fmt.Errorf("server rate limit values must not be negative")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with /")
	}
	if c.Notifications.RatePerSecond < 0 || c.Notifications.Burst < 0 || c.Notifications.QueueSize < 0 {
		return fmt.Errorf("notifications values must not be negative")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
		for _, evt := range hook.Events {
			if strings.TrimSpace(evt) == "" {
				return fmt.Errorf("webhooks[%d] has an empty event filter", i)
			}
		}
	}
	return nil
}

// RetryInterval is the first backoff interval for concurrent-modification retries.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.Workflow.Retry.InitialIntervalMS) * time.Millisecond
}

// GatewayTimeout is the per-call gateway deadline.
func (c *Config) GatewayTimeout() time.Duration {
	if c.Gateway.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Gateway.TimeoutSeconds) * time.Second
}

// GatewayRetries is the number of extra attempts after a transient gateway failure.
func (c *Config) GatewayRetries() int {
	if c.Gateway.Retries == nil {
		return 1
	}
	return *c.Gateway.Retries
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
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

// Default returns the default Config.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing values
// take their defaults.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
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

func (c *Config) applyDefaults() {
	if c.Workflow.DefaultCurrency == "" {
		c.Workflow.DefaultCurrency = "USD"
	}
	c.Workflow.DefaultCurrency = strings.ToUpper(c.Workflow.DefaultCurrency)
	if c.Workflow.Retry.Attempts == 0 {
		c.Workflow.Retry.Attempts = 3
	}
	if c.Gateway.Mode == "" {
		c.Gateway.Mode = GatewaySandbox
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v1"
	}
	if c.Notifications.QueueSize == 0 {
		c.Notifications.QueueSize = 256
	}
}

const defaultTemplate = `workflow:
  default_max_revisions: 3
  default_currency: USD
  retry:
    attempts: 3
    initial_interval_ms: 20

gateway:
  mode: sandbox
  timeout_seconds: 10
  retries: 1

server:
  addr: ":8080"
  base_path: /v1
  requests_per_minute: 600
  burst: 60
  allow_legacy_actor_header: false

notifications:
  rate_per_second: 5
  burst: 10
  queue_size: 256

webhooks: []
`
