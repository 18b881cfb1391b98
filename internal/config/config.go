package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the omnisearch API configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Search    SearchConfig    `yaml:"search"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig maps API keys to tenant-scoped principals.
type AuthConfig struct {
	APIKeys map[string]KeyPrincipal `yaml:"api_keys"`
}

// KeyPrincipal is the identity an API key resolves to.
type KeyPrincipal struct {
	TenantID    string   `yaml:"tenant_id"`
	PrincipalID string   `yaml:"principal_id"`
	Tier        string   `yaml:"tier"` // authenticated (default) or premium
	TeamIDs     []string `yaml:"team_ids"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// DatabaseConfig holds Redis connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// PostgresConfig holds entity store connection settings.
type PostgresConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnLifetimeSec int    `yaml:"conn_lifetime_sec"`
}

// SearchConfig holds aggregation, fan-out, and cache settings.
type SearchConfig struct {
	FanoutDeadlineMs  int  `yaml:"fanout_deadline_ms"` // hard wall-clock deadline per query
	MaxConcurrency    int  `yaml:"max_concurrency"`    // worker pool cap
	CacheTTLSec       int  `yaml:"cache_ttl_sec"`
	PerPrincipalCache bool `yaml:"per_principal_cache"` // scope cache keys by principal
	AnalyticsStream   string `yaml:"analytics_stream"`
	AnalyticsMaxLen   int64  `yaml:"analytics_max_len"`
}

// RateLimitConfig holds sliding-window quotas per tier.
type RateLimitConfig struct {
	WindowSec       int                       `yaml:"window_sec"`
	Anonymous       int                       `yaml:"anonymous"`
	Authenticated   int                       `yaml:"authenticated"`
	Premium         int                       `yaml:"premium"`
	TenantOverrides map[string]TenantOverride `yaml:"tenant_overrides"`
}

// TenantOverride is a custom per-tenant quota.
type TenantOverride struct {
	Limit     int `yaml:"limit"`
	WindowSec int `yaml:"window_sec"` // 0 = use the global window
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 10
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	if c.Postgres.MaxOpenConns <= 0 {
		c.Postgres.MaxOpenConns = 16
	}
	if c.Postgres.MaxIdleConns <= 0 {
		c.Postgres.MaxIdleConns = 4
	}
	if c.Postgres.ConnLifetimeSec <= 0 {
		c.Postgres.ConnLifetimeSec = 300
	}
	if c.Search.FanoutDeadlineMs <= 0 {
		c.Search.FanoutDeadlineMs = 5000
	}
	if c.Search.MaxConcurrency <= 0 {
		c.Search.MaxConcurrency = 8
	}
	if c.Search.CacheTTLSec <= 0 {
		c.Search.CacheTTLSec = 300
	}
	if c.Search.AnalyticsStream == "" {
		c.Search.AnalyticsStream = "search_analytics"
	}
	if c.Search.AnalyticsMaxLen <= 0 {
		c.Search.AnalyticsMaxLen = 100000
	}
	if c.RateLimit.WindowSec <= 0 {
		c.RateLimit.WindowSec = 300
	}
	if c.RateLimit.Anonymous <= 0 {
		c.RateLimit.Anonymous = 20
	}
	if c.RateLimit.Authenticated <= 0 {
		c.RateLimit.Authenticated = 100
	}
	if c.RateLimit.Premium <= 0 {
		c.RateLimit.Premium = 500
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required")
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	for key, p := range c.Auth.APIKeys {
		if p.TenantID == "" {
			return fmt.Errorf("auth.api_keys[%s]: tenant_id is required", maskKey(key))
		}
		switch p.Tier {
		case "", "authenticated", "premium":
			// ok
		default:
			return fmt.Errorf(
				"auth.api_keys[%s]: tier must be \"authenticated\" or \"premium\", got %q",
				maskKey(key), p.Tier,
			)
		}
	}
	for tenant, o := range c.RateLimit.TenantOverrides {
		if o.Limit <= 0 {
			return fmt.Errorf("ratelimit.tenant_overrides[%s]: limit must be positive", tenant)
		}
	}
	return nil
}

// maskKey truncates an API key for error messages.
func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
