package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env      string
	HTTPPort string
	LogLevel string

	DatabaseURL string

	// TokenSigningSecret is process-wide, immutable configuration loaded once
	// at startup and injected into the issuer and validator; it is never read
	// from ambient state after this point.
	TokenSigningSecret string
	DefaultMaxUsage    int
	PreferencesTTL     time.Duration
	UnsubscribeTTL     time.Duration
	FeedbackTTL        time.Duration
	MaxTTL             time.Duration
	StoreTimeout       time.Duration

	RedisAddr            string
	RedisPassword        string
	LinkRateLimitPerMin  int
	RateLimitFailureMode string
	TrustedOperatorCIDRs []string

	OTELServiceName          string
	OTELEnvironment          string
	OTELExporterOTLPEndpoint string
	OTELExporterOTLPInsecure bool
	OTELTracingEnabled       bool
	OTELMetricsEnabled       bool
	OTELTraceSamplingRatio   float64
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:                      getEnv("APP_ENV", "development"),
		HTTPPort:                 getEnv("HTTP_PORT", "8080"),
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		TokenSigningSecret:       os.Getenv("TOKEN_SIGNING_SECRET"),
		DefaultMaxUsage:          getEnvInt("TOKEN_DEFAULT_MAX_USAGE", 10),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		LinkRateLimitPerMin:      getEnvInt("LINK_RATE_LIMIT_PER_MIN", 60),
		RateLimitFailureMode:     strings.ToLower(getEnv("RATE_LIMIT_FAILURE_MODE", "fail_closed")),
		TrustedOperatorCIDRs:     splitCSV(os.Getenv("TRUSTED_OPERATOR_CIDRS")),
		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "digest-link-service"),
		OTELEnvironment:          getEnv("OTEL_ENVIRONMENT", "development"),
		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
		OTELExporterOTLPInsecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELTracingEnabled:       getEnvBool("OTEL_TRACING_ENABLED", false),
		OTELMetricsEnabled:       getEnvBool("OTEL_METRICS_ENABLED", false),
		OTELTraceSamplingRatio:   getEnvFloat("OTEL_TRACE_SAMPLING_RATIO", 1.0),
	}

	var err error
	if cfg.PreferencesTTL, err = parseDurationEnv("TOKEN_PREFERENCES_TTL", "24h"); err != nil {
		return nil, err
	}
	if cfg.UnsubscribeTTL, err = parseDurationEnv("TOKEN_UNSUBSCRIBE_TTL", "72h"); err != nil {
		return nil, err
	}
	if cfg.FeedbackTTL, err = parseDurationEnv("TOKEN_FEEDBACK_TTL", "24h"); err != nil {
		return nil, err
	}
	if cfg.MaxTTL, err = parseDurationEnv("TOKEN_MAX_TTL", "720h"); err != nil {
		return nil, err
	}
	if cfg.StoreTimeout, err = parseDurationEnv("STORE_TIMEOUT", "3s"); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}
	if len(c.TokenSigningSecret) < 32 {
		errs = append(errs, "TOKEN_SIGNING_SECRET must be at least 32 chars")
	}
	if c.DefaultMaxUsage <= 0 {
		errs = append(errs, "TOKEN_DEFAULT_MAX_USAGE must be > 0")
	}
	if c.PreferencesTTL <= 0 || c.PreferencesTTL > c.MaxTTL {
		errs = append(errs, "TOKEN_PREFERENCES_TTL must be between 1s and TOKEN_MAX_TTL")
	}
	if c.UnsubscribeTTL <= 0 || c.UnsubscribeTTL > c.MaxTTL {
		errs = append(errs, "TOKEN_UNSUBSCRIBE_TTL must be between 1s and TOKEN_MAX_TTL")
	}
	if c.FeedbackTTL <= 0 || c.FeedbackTTL > c.MaxTTL {
		errs = append(errs, "TOKEN_FEEDBACK_TTL must be between 1s and TOKEN_MAX_TTL")
	}
	if c.StoreTimeout <= 0 || c.StoreTimeout > time.Minute {
		errs = append(errs, "STORE_TIMEOUT must be between 1ms and 1m")
	}
	if c.LinkRateLimitPerMin <= 0 {
		errs = append(errs, "LINK_RATE_LIMIT_PER_MIN must be > 0")
	}
	if c.RateLimitFailureMode != "fail_open" && c.RateLimitFailureMode != "fail_closed" {
		errs = append(errs, "RATE_LIMIT_FAILURE_MODE must be fail_open or fail_closed")
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, "OTEL_TRACE_SAMPLING_RATIO must be between 0 and 1")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) PurposeTTL(purpose string) time.Duration {
	switch purpose {
	case "unsubscribe":
		return c.UnsubscribeTTL
	case "feedback":
		return c.FeedbackTTL
	default:
		return c.PreferencesTTL
	}
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func parseDurationEnv(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, def))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trim := strings.TrimSpace(p)
		if trim != "" {
			out = append(out, trim)
		}
	}
	return out
}
