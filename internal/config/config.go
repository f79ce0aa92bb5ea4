// Package config provides configuration loading and validation for the
// Keepsake claim service. It uses koanf to merge environment variables with
// optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/keepsakehq/keepsake/internal/tenant"
)

// Config holds all configuration values for the claim service.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Redis (session revocation list). Optional; an in-memory list is used
	// when unset.
	RedisAddr string `koanf:"redis_addr"`

	// Session authority
	JWTSecret       string `koanf:"jwt_secret"`
	IdentitySecret  string `koanf:"identity_secret"`
	SessionTTLHours int    `koanf:"session_ttl_hours"`

	// Claim lifecycle
	ClaimTTLHours     int    `koanf:"claim_ttl_hours"`
	MinClaimKeyLength int    `koanf:"min_claim_key_length"`
	SweepHour         int    `koanf:"sweep_hour"`
	SweepTimezone     string `koanf:"sweep_timezone"`

	// Tenant provisioning
	BaseDomain    string                  `koanf:"base_domain"`
	TenantOrigins map[string]tenant.Scope `koanf:"tenant_origins"`

	// Tracing
	TracingEnabled    bool    `koanf:"tracing_enabled"`
	TracingExporter   string  `koanf:"tracing_exporter"`
	OTLPEndpoint      string  `koanf:"otlp_endpoint"`
	TracingSampleRate float64 `koanf:"tracing_sample_rate"`
	TracingInsecure   bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL    = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret      = errors.New("JWT_SECRET is required")
	ErrMissingIdentitySecret = errors.New("IDENTITY_SECRET is required")
	ErrMissingBaseDomain     = errors.New("BASE_DOMAIN is required")
	ErrInvalidPort           = errors.New("PORT must be a valid integer")
	ErrInvalidSweepHour      = errors.New("SWEEP_HOUR must be between 0 and 23")
	ErrInvalidClaimTTL       = errors.New("CLAIM_TTL_HOURS must be > 0")
)

// Default values for non-secret configuration.
const (
	DefaultPort              = 8080
	DefaultEnv               = "development"
	DefaultSessionTTLHours   = 24
	DefaultClaimTTLHours     = 72
	DefaultMinClaimKeyLength = 16
	DefaultSweepHour         = 3
	DefaultSweepTimezone     = "UTC"
	DefaultTracingSampleRate = 0.1
)

// Load reads configuration from environment variables and an optional config
// file. Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefaultMulti([]string{"KEEPSAKE_PORT", "PORT"}, k.Int("port"), DefaultPort, ErrInvalidPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	sessionTTL, ttlErr := getEnvIntOrDefault("SESSION_TTL_HOURS", k.Int("session_ttl_hours"), DefaultSessionTTLHours)
	if ttlErr != nil {
		loadErrs = append(loadErrs, ttlErr)
	}

	claimTTL, claimTTLErr := getEnvIntOrDefault("CLAIM_TTL_HOURS", k.Int("claim_ttl_hours"), DefaultClaimTTLHours)
	if claimTTLErr != nil {
		loadErrs = append(loadErrs, claimTTLErr)
	}

	minKeyLen, keyLenErr := getEnvIntOrDefault("MIN_CLAIM_KEY_LENGTH", k.Int("min_claim_key_length"), DefaultMinClaimKeyLength)
	if keyLenErr != nil {
		loadErrs = append(loadErrs, keyLenErr)
	}

	sweepHour, sweepHourErr := getEnvIntOrDefault("SWEEP_HOUR", k.Int("sweep_hour"), DefaultSweepHour)
	if sweepHourErr != nil {
		loadErrs = append(loadErrs, sweepHourErr)
	}

	sampleRate, sampleErr := getEnvFloatOrDefault("TRACING_SAMPLE_RATE", k.Float64("tracing_sample_rate"), DefaultTracingSampleRate)
	if sampleErr != nil {
		loadErrs = append(loadErrs, sampleErr)
	}

	// Tenant origins are structured mapping data; file-only.
	var tenantOrigins map[string]tenant.Scope
	if k.Exists("tenant_origins") {
		tenantOrigins = make(map[string]tenant.Scope)
		if err := k.Unmarshal("tenant_origins", &tenantOrigins); err != nil {
			loadErrs = append(loadErrs, fmt.Errorf("failed to parse tenant_origins: %w", err))
		}
	}

	cfg := &Config{
		Port:              port,
		Env:               getEnvOrDefaultMulti([]string{"KEEPSAKE_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:       getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisAddr:         getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		JWTSecret:         getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		IdentitySecret:    getEnvOrKoanf("IDENTITY_SECRET", k, "identity_secret"),
		SessionTTLHours:   sessionTTL,
		ClaimTTLHours:     claimTTL,
		MinClaimKeyLength: minKeyLen,
		SweepHour:         sweepHour,
		SweepTimezone:     getEnvOrDefault("SWEEP_TIMEZONE", k.String("sweep_timezone"), DefaultSweepTimezone),
		BaseDomain:        getEnvOrKoanf("BASE_DOMAIN", k, "base_domain"),
		TenantOrigins:     tenantOrigins,
		TracingEnabled:    getEnvBoolOrKoanf("TRACING_ENABLED", k, "tracing_enabled"),
		TracingExporter:   getEnvOrDefault("TRACING_EXPORTER", k.String("tracing_exporter"), "otlp-http"),
		OTLPEndpoint:      getEnvOrKoanf("OTLP_ENDPOINT", k, "otlp_endpoint"),
		TracingSampleRate: sampleRate,
		TracingInsecure:   getEnvBoolOrKoanf("TRACING_INSECURE", k, "tracing_insecure"),
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvBoolOrKoanf returns the environment variable as bool if set, otherwise the koanf value.
func getEnvBoolOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) bool {
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return k.Bool(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set,
// otherwise the koanf value, or default. Returns an error if the environment
// variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, err)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int, parseErr error) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, parseErr)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set,
// otherwise the koanf value, or default.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.IdentitySecret == "" {
		errs = append(errs, ErrMissingIdentitySecret)
	}
	if c.BaseDomain == "" {
		errs = append(errs, ErrMissingBaseDomain)
	}
	if c.SweepHour < 0 || c.SweepHour > 23 {
		errs = append(errs, ErrInvalidSweepHour)
	}
	if c.ClaimTTLHours <= 0 {
		errs = append(errs, ErrInvalidClaimTTL)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                 fmt.Sprintf("%d", c.Port),
		"env":                  c.Env,
		"database_url":         maskDatabaseURL(c.DatabaseURL),
		"redis_addr":           c.RedisAddr,
		"jwt_secret":           maskSecret(c.JWTSecret),
		"identity_secret":      maskSecret(c.IdentitySecret),
		"session_ttl_hours":    fmt.Sprintf("%d", c.SessionTTLHours),
		"claim_ttl_hours":      fmt.Sprintf("%d", c.ClaimTTLHours),
		"min_claim_key_length": fmt.Sprintf("%d", c.MinClaimKeyLength),
		"sweep_hour":           fmt.Sprintf("%d", c.SweepHour),
		"sweep_timezone":       c.SweepTimezone,
		"base_domain":          c.BaseDomain,
		"tenant_origins":       fmt.Sprintf("%d mapped", len(c.TenantOrigins)),
		"tracing_enabled":      fmt.Sprintf("%t", c.TracingEnabled),
		"otlp_endpoint":        c.OTLPEndpoint,
	}
}

// maskSecret masks a secret value, showing only the first 4 characters
// followed by ****. If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
