package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Server.Port != "9000" {
		t.Errorf("expected port 9000, got %s", cfg.Server.Port)
	}
	if cfg.Backend.Kind != "compose" {
		t.Errorf("expected compose backend, got %s", cfg.Backend.Kind)
	}
	if cfg.Compose.PortMin != 49152 || cfg.Compose.PortMax != 65535 {
		t.Errorf("expected ephemeral range [49152,65535], got [%d,%d]", cfg.Compose.PortMin, cfg.Compose.PortMax)
	}
	if cfg.Kubernetes.StorageSize != "1.5Gi" {
		t.Errorf("expected storage size 1.5Gi, got %s", cfg.Kubernetes.StorageSize)
	}
	if cfg.Workload.ContainerPort != 5678 {
		t.Errorf("expected container port 5678, got %d", cfg.Workload.ContainerPort)
	}
}

func TestLoadYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "test.yaml")

	content := `
server:
  port: "9090"
backend:
  kind: kubernetes
kubernetes:
  context: prod-cluster
  storage_size: 5Gi
workload:
  domain: example.com
logging:
  level: "debug"
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err != nil {
		t.Fatal(err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Backend.Kind != "kubernetes" {
		t.Errorf("expected kubernetes backend, got %s", cfg.Backend.Kind)
	}
	if cfg.Kubernetes.Context != "prod-cluster" {
		t.Errorf("expected context prod-cluster, got %s", cfg.Kubernetes.Context)
	}
	if cfg.Kubernetes.StorageSize != "5Gi" {
		t.Errorf("expected storage 5Gi, got %s", cfg.Kubernetes.StorageSize)
	}
	if cfg.Workload.Domain != "example.com" {
		t.Errorf("expected domain example.com, got %s", cfg.Workload.Domain)
	}
	// Unchanged fields keep defaults
	if cfg.Workload.NamePrefix != "n8n" {
		t.Errorf("expected default name prefix, got %s", cfg.Workload.NamePrefix)
	}
}

func TestLoadYAMLMissing(t *testing.T) {
	cfg := Defaults()
	if err := loadYAML(&cfg, "/nonexistent/path.yaml"); err != nil {
		t.Errorf("missing YAML should not error, got %v", err)
	}
}

func TestLoadYAMLInvalid(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(yamlPath, []byte("server: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Defaults()
	if err := loadYAML(&cfg, yamlPath); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverride(t *testing.T) {
	cfg := Defaults()

	t.Setenv("TENANTFORGE_PORT", "7070")
	t.Setenv("DATABASE_URL", "postgres://test:test@db:5432/test")
	t.Setenv("DOMAIN_NAME", "173956.xyz")
	t.Setenv("TENANTFORGE_BACKEND", "kubernetes")
	t.Setenv("TENANTFORGE_PORT_ATTEMPTS", "10")
	t.Setenv("TENANTFORGE_BREAKER_TIMEOUT", "1m")
	t.Setenv("LOGIN_EMAIL", "owner@example.com")

	loadEnv(&cfg)

	if cfg.Server.Port != "7070" {
		t.Errorf("expected port 7070, got %s", cfg.Server.Port)
	}
	if cfg.Postgres.DSN != "postgres://test:test@db:5432/test" {
		t.Errorf("expected test DSN, got %s", cfg.Postgres.DSN)
	}
	if cfg.Workload.Domain != "173956.xyz" {
		t.Errorf("expected domain from DOMAIN_NAME, got %s", cfg.Workload.Domain)
	}
	if cfg.Backend.Kind != "kubernetes" {
		t.Errorf("expected kubernetes backend, got %s", cfg.Backend.Kind)
	}
	if cfg.Compose.PortAttempts != 10 {
		t.Errorf("expected 10 port attempts, got %d", cfg.Compose.PortAttempts)
	}
	if cfg.Breaker.Timeout != time.Minute {
		t.Errorf("expected breaker timeout 1m, got %v", cfg.Breaker.Timeout)
	}
	if cfg.Workload.LoginEmail != "owner@example.com" {
		t.Errorf("expected login email, got %s", cfg.Workload.LoginEmail)
	}
}

func TestEnvOverrideIgnoresMalformed(t *testing.T) {
	cfg := Defaults()
	t.Setenv("TENANTFORGE_PORT_MIN", "not-a-number")
	loadEnv(&cfg)
	if cfg.Compose.PortMin != 49152 {
		t.Errorf("malformed env must not override, got %d", cfg.Compose.PortMin)
	}
}

func validConfig() Config {
	cfg := Defaults()
	cfg.Workload.Domain = "example.com"
	return cfg
}

func TestValidateRequired(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{
			name:   "empty port",
			modify: func(c *Config) { c.Server.Port = "" },
			errMsg: "server.port is required",
		},
		{
			name:   "empty DSN",
			modify: func(c *Config) { c.Postgres.DSN = "" },
			errMsg: "postgres.dsn is required",
		},
		{
			name:   "empty domain",
			modify: func(c *Config) { c.Workload.Domain = "" },
			errMsg: "workload.domain is required (DOMAIN_NAME)",
		},
		{
			name:   "uppercase name prefix",
			modify: func(c *Config) { c.Workload.NamePrefix = "N8N_" },
			errMsg: `workload.name_prefix "N8N_" must match [a-z0-9-] and start and end alphanumeric`,
		},
		{
			name:   "storage prefix with dot",
			modify: func(c *Config) { c.Workload.StoragePrefix = "n8n.data" },
			errMsg: `workload.storage_prefix "n8n.data" must match [a-z0-9-] and start and end alphanumeric`,
		},
		{
			name:   "name prefix trailing dash",
			modify: func(c *Config) { c.Workload.NamePrefix = "n8n-" },
			errMsg: `workload.name_prefix "n8n-" must match [a-z0-9-] and start and end alphanumeric`,
		},
		{
			name:   "unknown backend",
			modify: func(c *Config) { c.Backend.Kind = "nomad" },
			errMsg: `backend.kind must be "compose" or "kubernetes", got "nomad"`,
		},
		{
			name:   "inverted port range",
			modify: func(c *Config) { c.Compose.PortMin, c.Compose.PortMax = 60000, 50000 },
			errMsg: "compose port range [60000,50000] is invalid",
		},
		{
			name:   "zero port attempts",
			modify: func(c *Config) { c.Compose.PortAttempts = 0 },
			errMsg: "compose.port_attempts must be >= 1",
		},
		{
			name:   "zero breaker failures",
			modify: func(c *Config) { c.Breaker.MaxFailures = 0 },
			errMsg: "breaker.max_failures must be >= 1",
		},
		{
			name:   "zero rate burst",
			modify: func(c *Config) { c.Rate.Burst = 0 },
			errMsg: "rate.burst must be >= 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			err := validate(&cfg)
			if err == nil {
				t.Fatalf("expected error %q, got nil", tt.errMsg)
			}
			if err.Error() != tt.errMsg {
				t.Errorf("expected %q, got %q", tt.errMsg, err.Error())
			}
		})
	}
}

func TestValidateDefaultsNeedDomain(t *testing.T) {
	cfg := Defaults()
	if err := validate(&cfg); err == nil || !strings.Contains(err.Error(), "DOMAIN_NAME") {
		t.Errorf("expected missing domain error, got %v", err)
	}
	cfg = validConfig()
	if err := validate(&cfg); err != nil {
		t.Errorf("defaults with a domain should validate, got %v", err)
	}
}

func TestLoadFrom(t *testing.T) {
	t.Setenv("DOMAIN_NAME", "tenants.example.org")
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.Workload.Domain != "tenants.example.org" {
		t.Errorf("expected domain from env, got %s", cfg.Workload.Domain)
	}
}
