package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "tenantforge.yaml"

// prefixPattern keeps workload and storage names valid as container, volume
// and Kubernetes object names once the username is appended.
var prefixPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if p := os.Getenv("TENANTFORGE_CONFIG"); p != "" {
		path = p
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator-supplied
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TENANTFORGE_PORT")
	setString(&cfg.Server.CORSOrigin, "TENANTFORGE_CORS_ORIGIN")

	// Registry
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "TENANTFORGE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "TENANTFORGE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "TENANTFORGE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "TENANTFORGE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "TENANTFORGE_PG_HEALTH_CHECK")

	// Events
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.IdempotencyBucket, "TENANTFORGE_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.NATS.IdempotencyTTL, "TENANTFORGE_IDEMPOTENCY_TTL")

	setString(&cfg.Logging.Level, "TENANTFORGE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TENANTFORGE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TENANTFORGE_LOG_ASYNC")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "TENANTFORGE_OTEL_INSECURE")

	setInt(&cfg.Breaker.MaxFailures, "TENANTFORGE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TENANTFORGE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "TENANTFORGE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "TENANTFORGE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "TENANTFORGE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "TENANTFORGE_RATE_MAX_IDLE_TIME")
	setBool(&cfg.Auth.Enabled, "TENANTFORGE_AUTH_ENABLED")
	setInt64(&cfg.Cache.MaxSizeMB, "TENANTFORGE_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TenantTTL, "TENANTFORGE_CACHE_TENANT_TTL")

	// Backend
	setString(&cfg.Backend.Kind, "TENANTFORGE_BACKEND")
	setInt(&cfg.Backend.MaxConcurrent, "TENANTFORGE_BACKEND_MAX_CONCURRENT")
	setDuration(&cfg.Backend.CommandTimeout, "TENANTFORGE_BACKEND_TIMEOUT")

	setString(&cfg.Compose.Binary, "TENANTFORGE_DOCKER_BINARY")
	setString(&cfg.Compose.Network, "TENANTFORGE_DOCKER_NETWORK")
	setString(&cfg.Compose.TempDir, "TENANTFORGE_COMPOSE_TEMP_DIR")
	setString(&cfg.Compose.BindHost, "TENANTFORGE_PORT_BIND_HOST")
	setInt(&cfg.Compose.PortMin, "TENANTFORGE_PORT_MIN")
	setInt(&cfg.Compose.PortMax, "TENANTFORGE_PORT_MAX")
	setInt(&cfg.Compose.PortAttempts, "TENANTFORGE_PORT_ATTEMPTS")

	setString(&cfg.Kubernetes.Kubeconfig, "KUBECONFIG")
	setString(&cfg.Kubernetes.Context, "TENANTFORGE_KUBE_CONTEXT")
	setString(&cfg.Kubernetes.StorageSize, "TENANTFORGE_KUBE_STORAGE_SIZE")
	setString(&cfg.Kubernetes.StorageClass, "TENANTFORGE_KUBE_STORAGE_CLASS")
	setString(&cfg.Kubernetes.ServiceType, "TENANTFORGE_KUBE_SERVICE_TYPE")
	setString(&cfg.Kubernetes.InitImage, "TENANTFORGE_KUBE_INIT_IMAGE")

	// Workload
	setString(&cfg.Workload.Domain, "DOMAIN_NAME")
	setString(&cfg.Workload.Image, "TENANTFORGE_IMAGE")
	setInt(&cfg.Workload.ContainerPort, "TENANTFORGE_CONTAINER_PORT")
	setString(&cfg.Workload.NamePrefix, "TENANTFORGE_NAME_PREFIX")
	setString(&cfg.Workload.StoragePrefix, "TENANTFORGE_STORAGE_PREFIX")
	setString(&cfg.Workload.Timezone, "GENERIC_TIMEZONE")
	setString(&cfg.Workload.LoginEmail, "LOGIN_EMAIL")
	setString(&cfg.Workload.Entrypoints, "TENANTFORGE_TRAEFIK_ENTRYPOINTS")
	setString(&cfg.Workload.CertResolver, "TENANTFORGE_TRAEFIK_CERT_RESOLVER")
	setString(&cfg.Workload.PullPolicy, "TENANTFORGE_PULL_POLICY")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Workload.Domain == "" {
		return errors.New("workload.domain is required (DOMAIN_NAME)")
	}
	if cfg.Workload.Image == "" {
		return errors.New("workload.image is required")
	}
	if cfg.Workload.NamePrefix == "" || cfg.Workload.StoragePrefix == "" {
		return errors.New("workload.name_prefix and workload.storage_prefix are required")
	}
	if !prefixPattern.MatchString(cfg.Workload.NamePrefix) {
		return fmt.Errorf("workload.name_prefix %q must match [a-z0-9-] and start and end alphanumeric", cfg.Workload.NamePrefix)
	}
	if !prefixPattern.MatchString(cfg.Workload.StoragePrefix) {
		return fmt.Errorf("workload.storage_prefix %q must match [a-z0-9-] and start and end alphanumeric", cfg.Workload.StoragePrefix)
	}
	if cfg.Backend.Kind != "compose" && cfg.Backend.Kind != "kubernetes" {
		return fmt.Errorf("backend.kind must be \"compose\" or \"kubernetes\", got %q", cfg.Backend.Kind)
	}
	if cfg.Backend.MaxConcurrent < 1 {
		return errors.New("backend.max_concurrent must be >= 1")
	}
	if cfg.Compose.PortMin < 1 || cfg.Compose.PortMax > 65535 || cfg.Compose.PortMin > cfg.Compose.PortMax {
		return fmt.Errorf("compose port range [%d,%d] is invalid", cfg.Compose.PortMin, cfg.Compose.PortMax)
	}
	if cfg.Compose.PortAttempts < 1 {
		return errors.New("compose.port_attempts must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
