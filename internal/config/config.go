package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"deploymetrics/internal/security"
	"deploymetrics/internal/store"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHost             = "127.0.0.1"
	DefaultPort             = 5000
	DefaultRateLimit        = 10.0
	DefaultRateBurst        = 20
	DefaultIngestRateLimit  = 1.0
	DefaultIngestRateBurst  = 5
	DefaultRequestTimeout   = 30
	DefaultSQLitePath       = "./deploymetrics.db"
	DefaultHierarchyTimeout = 10
	DefaultGitHubTokenEnv   = "GITHUB_TOKEN"
	DefaultFileName         = "deploymetrics.yaml"
)

// Hierarchy providers
const (
	ProviderNone    = "none"
	ProviderStatic  = "static"
	ProviderHTTP    = "http"
	ProviderCommand = "command"
)

// Config represents the root configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Hierarchy HierarchyConfig `yaml:"hierarchy"`
	GitHub    GitHubConfig    `yaml:"github"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Host            string  `yaml:"host"`
	Port            int     `yaml:"port"`
	RateLimit       float64 `yaml:"rate_limit"`
	RateBurst       int     `yaml:"rate_burst"`
	IngestRateLimit float64 `yaml:"ingest_rate_limit"`
	IngestRateBurst int     `yaml:"ingest_rate_burst"`
	RequestTimeout  int     `yaml:"request_timeout"`
	IngestSecret    string  `yaml:"ingest_secret"`
}

// StorageConfig selects the deployment store
type StorageConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
}

// HierarchyConfig selects how application descendants are resolved
type HierarchyConfig struct {
	Provider string `yaml:"provider"`
	File     string `yaml:"file"`
	BaseURL  string `yaml:"base_url"`
	Command  string `yaml:"command"`
	Timeout  int    `yaml:"timeout"`
}

// GitHubConfig configures webhook ingest and the deployments importer
type GitHubConfig struct {
	TokenEnv      string `yaml:"token_env"`
	WebhookSecret string `yaml:"webhook_secret"`
	BaseURL       string `yaml:"base_url"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads, defaults and validates the configuration at configPath
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse defaults and validates YAML configuration bytes
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	cfg.ApplyDefaults()

	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration:\n%s", strings.Join(problems, "\n"))
	}

	return &cfg, nil
}

// ApplyDefaults fills zero values
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = DefaultRateLimit
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = DefaultRateBurst
	}
	if c.Server.IngestRateLimit == 0 {
		c.Server.IngestRateLimit = DefaultIngestRateLimit
	}
	if c.Server.IngestRateBurst == 0 {
		c.Server.IngestRateBurst = DefaultIngestRateBurst
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = DefaultRequestTimeout
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = string(store.DialectSQLite)
	}
	if c.Storage.Driver == string(store.DialectSQLite) && c.Storage.Path == "" {
		c.Storage.Path = DefaultSQLitePath
	}

	if c.Hierarchy.Provider == "" {
		c.Hierarchy.Provider = ProviderNone
	}
	if c.Hierarchy.Timeout == 0 {
		c.Hierarchy.Timeout = DefaultHierarchyTimeout
	}

	if c.GitHub.TokenEnv == "" {
		c.GitHub.TokenEnv = DefaultGitHubTokenEnv
	}
}

// Validate returns every problem with the configuration
func (c *Config) Validate() []string {
	var errors []string

	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errors = append(errors, fmt.Sprintf("  - server: port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 || c.Server.IngestRateLimit < 0 {
		errors = append(errors, "  - server: rate limits must be positive")
	}
	if c.Server.RateBurst < 0 || c.Server.IngestRateBurst < 0 {
		errors = append(errors, "  - server: rate bursts must be positive")
	}
	if c.Server.RequestTimeout < 0 {
		errors = append(errors, fmt.Sprintf("  - server: request_timeout must be a positive integer, got %d", c.Server.RequestTimeout))
	}
	if c.Server.IngestSecret != "" {
		if err := security.ValidateSecret("ingest secret", c.Server.IngestSecret); err != nil {
			errors = append(errors, fmt.Sprintf("  - server: %v", err))
		}
	}

	// Storage
	if _, err := store.ParseDialect(c.Storage.Driver); err != nil {
		errors = append(errors, fmt.Sprintf("  - storage: %v", err))
	}
	if c.Storage.Driver == string(store.DialectPostgres) && c.Storage.DSN == "" {
		errors = append(errors, "  - storage: missing required 'dsn' field for postgres driver")
	}

	// Hierarchy
	switch c.Hierarchy.Provider {
	case ProviderNone:
	case ProviderStatic:
		if c.Hierarchy.File == "" {
			errors = append(errors, "  - hierarchy: missing required 'file' field for static provider")
		}
	case ProviderHTTP:
		if c.Hierarchy.BaseURL == "" {
			errors = append(errors, "  - hierarchy: missing required 'base_url' field for http provider")
		} else if u, err := url.Parse(c.Hierarchy.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errors = append(errors, fmt.Sprintf("  - hierarchy: base_url must be an absolute http(s) URL, got '%s'", c.Hierarchy.BaseURL))
		}
	case ProviderCommand:
		if strings.TrimSpace(c.Hierarchy.Command) == "" {
			errors = append(errors, "  - hierarchy: missing required 'command' field for command provider")
		} else if !strings.Contains(c.Hierarchy.Command, "{id}") {
			errors = append(errors, "  - hierarchy: command must contain the {id} placeholder")
		}
	default:
		errors = append(errors, fmt.Sprintf("  - hierarchy: unknown provider '%s' (expected none, static, http or command)", c.Hierarchy.Provider))
	}
	if c.Hierarchy.Timeout < 0 {
		errors = append(errors, fmt.Sprintf("  - hierarchy: timeout must be a positive integer, got %d", c.Hierarchy.Timeout))
	}

	// GitHub
	if c.GitHub.WebhookSecret != "" {
		if err := security.ValidateSecret("webhook secret", c.GitHub.WebhookSecret); err != nil {
			errors = append(errors, fmt.Sprintf("  - github: %v", err))
		}
	}
	if c.GitHub.BaseURL != "" {
		if u, err := url.Parse(c.GitHub.BaseURL); err != nil || u.Scheme != "https" {
			errors = append(errors, fmt.Sprintf("  - github: base_url must be an https URL, got '%s'", c.GitHub.BaseURL))
		}
	}

	return errors
}

// RequestTimeoutDuration returns the per-request handler timeout
func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.Server.RequestTimeout) * time.Second
}

// HierarchyTimeoutDuration returns the timeout for one hierarchy lookup
func (c *Config) HierarchyTimeoutDuration() time.Duration {
	return time.Duration(c.Hierarchy.Timeout) * time.Second
}

// GitHubToken reads the importer token from the configured environment variable
func (c *Config) GitHubToken() string {
	return os.Getenv(c.GitHub.TokenEnv)
}
