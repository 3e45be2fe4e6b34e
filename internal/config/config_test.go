package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const strongSecret = "kJ8mN2pQ5tR7vX1zB4cE6gH9jL3nP8qS2uW5yA7bD0fG3hK6"

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "deploymetrics.yaml")

	content := `
server:
  host: 0.0.0.0
  port: 8080
  ingest_secret: ` + strongSecret + `
storage:
  driver: postgres
  dsn: postgres://dora@localhost/dora
hierarchy:
  provider: http
  base_url: http://team-service:8080
  timeout: 5
github:
  token_env: DORA_GITHUB_TOKEN
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 8080 {
		t.Errorf("Expected 0.0.0.0:8080, got %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Storage.Driver != "postgres" || cfg.Storage.Path != "" {
		t.Errorf("Expected postgres without a sqlite path, got %+v", cfg.Storage)
	}
	if cfg.HierarchyTimeoutDuration().Seconds() != 5 {
		t.Errorf("Expected 5s hierarchy timeout, got %v", cfg.HierarchyTimeoutDuration())
	}
	if cfg.Server.RateLimit != DefaultRateLimit {
		t.Errorf("Expected default rate limit, got %v", cfg.Server.RateLimit)
	}

	t.Setenv("DORA_GITHUB_TOKEN", "ghp_example")
	if cfg.GitHubToken() != "ghp_example" {
		t.Errorf("Expected token from configured env var, got %q", cfg.GitHubToken())
	}
}

func TestParse_EmptyUsesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("Expected empty config to be valid, got: %v", err)
	}

	if cfg.Server.Host != DefaultHost || cfg.Server.Port != DefaultPort {
		t.Errorf("Expected default bind address, got %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path != DefaultSQLitePath {
		t.Errorf("Expected default sqlite storage, got %+v", cfg.Storage)
	}
	if cfg.Hierarchy.Provider != ProviderNone {
		t.Errorf("Expected provider none, got %s", cfg.Hierarchy.Provider)
	}
	if cfg.GitHub.TokenEnv != DefaultGitHubTokenEnv {
		t.Errorf("Expected token env %s, got %s", DefaultGitHubTokenEnv, cfg.GitHub.TokenEnv)
	}
	if cfg.RequestTimeoutDuration().Seconds() != DefaultRequestTimeout {
		t.Errorf("Expected default request timeout, got %v", cfg.RequestTimeoutDuration())
	}
}

func TestValidate_Problems(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "port must be between"},
		{"weak ingest secret", func(c *Config) { c.Server.IngestSecret = "changeme" }, "ingest secret too short"},
		{"placeholder webhook secret", func(c *Config) {
			c.GitHub.WebhookSecret = "your-webhook-secret-min-32-chars-long"
		}, "webhook secret appears to be a placeholder"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "mysql" }, "unsupported database driver"},
		{"postgres without dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "missing required 'dsn'"},
		{"static without file", func(c *Config) { c.Hierarchy.Provider = ProviderStatic }, "missing required 'file'"},
		{"http without url", func(c *Config) { c.Hierarchy.Provider = ProviderHTTP }, "missing required 'base_url'"},
		{"http relative url", func(c *Config) {
			c.Hierarchy.Provider = ProviderHTTP
			c.Hierarchy.BaseURL = "team-service/api"
		}, "absolute http(s) URL"},
		{"command without placeholder", func(c *Config) {
			c.Hierarchy.Provider = ProviderCommand
			c.Hierarchy.Command = "teamctl children"
		}, "{id} placeholder"},
		{"unknown provider", func(c *Config) { c.Hierarchy.Provider = "ldap" }, "unknown provider 'ldap'"},
		{"negative timeout", func(c *Config) { c.Hierarchy.Timeout = -1 }, "timeout must be a positive integer"},
		{"plain http github", func(c *Config) { c.GitHub.BaseURL = "http://ghe.local/api/v3/" }, "must be an https URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			problems := cfg.Validate()
			found := false
			for _, p := range problems {
				if strings.Contains(p, tt.wantMsg) {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("Expected a problem containing %q, got: %v", tt.wantMsg, problems)
			}
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = -1
	cfg.Storage.Driver = "mysql"
	cfg.Hierarchy.Provider = "ldap"

	if problems := cfg.Validate(); len(problems) != 3 {
		t.Errorf("Expected 3 problems, got %d: %v", len(problems), problems)
	}
}

func TestValidate_CommandProvider(t *testing.T) {
	cfg := Default()
	cfg.Hierarchy.Provider = ProviderCommand
	cfg.Hierarchy.Command = `teamctl children --app "{id}"`

	if problems := cfg.Validate(); len(problems) != 0 {
		t.Errorf("Expected valid command provider, got: %v", problems)
	}
}

func TestLoad_Errors(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := Load(filepath.Join(tmpDir, "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}

	bad := filepath.Join(tmpDir, "bad.yaml")
	os.WriteFile(bad, []byte("server: [unclosed"), 0600)
	if _, err := Load(bad); err == nil || !strings.Contains(err.Error(), "failed to parse YAML") {
		t.Errorf("Expected YAML parse error, got %v", err)
	}

	invalid := filepath.Join(tmpDir, "invalid.yaml")
	os.WriteFile(invalid, []byte("hierarchy:\n  provider: static\n"), 0600)
	if _, err := Load(invalid); err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("Expected validation error, got %v", err)
	}
}
