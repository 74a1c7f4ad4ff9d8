package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	JWTSecret string
	RedisAddr string
	Port      string

	// Optional variables with defaults
	GoEnv         string
	LogLevel      string
	RedisEnabled  bool
	RedisPassword string

	// Auth0 (existing, not validated here)
	Auth0Domain     string
	Auth0Audience   string
	SkipAuth        bool
	DevelopmentMode bool
	AllowedOrigins  string

	// Broker Client (C2) tunables
	BrokerURL                     string
	BrokerTLSEnabled              bool
	BrokerHealthInterval          time.Duration
	BrokerHealthTimeout           time.Duration
	BrokerEnableSubjectValidation bool
	BrokerStrictSubjectValidation bool

	// Retry Policy (C3)
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// Circuit Breaker (C4)
	BreakerFailureThreshold uint32
	BreakerOpenDuration     time.Duration

	// Connection Registry (C7)
	ConnectionOutboundQueueSize int
	ConnectionGracePeriod       time.Duration

	// Health Monitor (C8)
	HealthPingInterval time.Duration
	HealthPongTimeout  time.Duration
	HealthStaleStrikes int

	// Cleaner (C16)
	CleanerInterval time.Duration

	// Rate Limiter (C11)
	RateLimitWindow    time.Duration
	RateLimitMaxEvents int

	// Mute Cache (C12)
	MuteCacheTTL time.Duration

	// Broadcaster (C10) fan-out concurrency cap
	BroadcastFanoutConcurrency int
}

// ValidateEnv validates all required environment variables and returns a Config object
// Returns an error if any required variable is missing or invalid
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: JWT_SECRET (minimum 32 characters)
	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errors = append(errors, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errors = append(errors, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	// Required: PORT (valid port number)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			// Default to localhost:6379 if not specified
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	// Existing variables (not validated here, kept for compatibility)
	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")

	// Broker Client (C2): BROKER_URL falls back to REDIS_ADDR so a single
	// Redis endpoint configuration also serves the broker.
	cfg.BrokerURL = getEnvOrDefault("BROKER_URL", cfg.RedisAddr)
	cfg.BrokerTLSEnabled = os.Getenv("BROKER_TLS_ENABLED") == "true"
	cfg.BrokerHealthInterval = getEnvMsOrDefault("BROKER_HEALTH_INTERVAL_MS", 30*time.Second)
	cfg.BrokerHealthTimeout = getEnvMsOrDefault("BROKER_HEALTH_TIMEOUT_MS", 5*time.Second)
	cfg.BrokerEnableSubjectValidation = getEnvBoolOrDefault("BROKER_ENABLE_SUBJECT_VALIDATION", true)
	cfg.BrokerStrictSubjectValidation = getEnvBoolOrDefault("BROKER_STRICT_SUBJECT_VALIDATION", false)

	// Retry Policy (C3)
	cfg.RetryMaxAttempts = getEnvIntOrDefault("RETRY_MAX_ATTEMPTS", 5, &errors, "RETRY_MAX_ATTEMPTS")
	cfg.RetryBaseDelay = getEnvMsOrDefault("RETRY_BASE_DELAY_MS", 100*time.Millisecond)
	cfg.RetryMaxDelay = getEnvMsOrDefault("RETRY_MAX_DELAY_MS", 5*time.Second)

	// Circuit Breaker (C4)
	cfg.BreakerFailureThreshold = uint32(getEnvIntOrDefault("BREAKER_FAILURE_THRESHOLD", 5, &errors, "BREAKER_FAILURE_THRESHOLD"))
	cfg.BreakerOpenDuration = getEnvMsOrDefault("BREAKER_OPEN_DURATION_MS", 30*time.Second)

	// Connection Registry (C7)
	cfg.ConnectionOutboundQueueSize = getEnvIntOrDefault("CONNECTION_OUTBOUND_QUEUE_SIZE", 256, &errors, "CONNECTION_OUTBOUND_QUEUE_SIZE")
	cfg.ConnectionGracePeriod = getEnvMsOrDefault("CONNECTION_GRACE_PERIOD_MS", 15*time.Second)

	// Health Monitor (C8)
	cfg.HealthPingInterval = getEnvMsOrDefault("HEALTH_PING_INTERVAL_MS", 15*time.Second)
	cfg.HealthPongTimeout = getEnvMsOrDefault("HEALTH_PONG_TIMEOUT_MS", 10*time.Second)
	cfg.HealthStaleStrikes = getEnvIntOrDefault("HEALTH_STALE_STRIKES", 3, &errors, "HEALTH_STALE_STRIKES")

	// Cleaner (C16)
	cfg.CleanerInterval = getEnvMsOrDefault("CLEANER_INTERVAL_MS", time.Minute)

	// Rate Limiter (C11)
	cfg.RateLimitWindow = getEnvMsOrDefault("RATE_LIMIT_WINDOW_MS", time.Minute)
	cfg.RateLimitMaxEvents = getEnvIntOrDefault("RATE_LIMIT_MAX_EVENTS", 20, &errors, "RATE_LIMIT_MAX_EVENTS")

	// Mute Cache (C12)
	cfg.MuteCacheTTL = getEnvMsOrDefault("MUTE_CACHE_TTL_MS", 5*time.Minute)

	// Broadcaster (C10)
	cfg.BroadcastFanoutConcurrency = getEnvIntOrDefault("BROADCAST_FANOUT_CONCURRENCY", 64, &errors, "BROADCAST_FANOUT_CONCURRENCY")

	// If there are validation errors, return them
	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	// Log validated configuration (with secrets redacted)
	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	// Validate port is a number
	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	// Validate host is not empty
	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"port", cfg.Port,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"development_mode", cfg.DevelopmentMode,
		"broker_url", cfg.BrokerURL,
		"retry_max_attempts", cfg.RetryMaxAttempts,
		"breaker_failure_threshold", cfg.BreakerFailureThreshold,
		"health_ping_interval", cfg.HealthPingInterval,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvMsOrDefault reads key as a millisecond count and returns it as a
// Duration, or defaultValue if unset or malformed.
func getEnvMsOrDefault(key string, defaultValue time.Duration) time.Duration {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		slog.Warn("invalid duration env var, using default", "key", key, "value", raw)
		return defaultValue
	}
	return time.Duration(ms) * time.Millisecond
}

// getEnvIntOrDefault reads key as an integer, appending a validation error
// for a present-but-malformed value rather than silently falling back.
func getEnvIntOrDefault(key string, defaultValue int, errs *[]string, label string) int {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer (got '%s')", label, raw))
		return defaultValue
	}
	return n
}

// getEnvBoolOrDefault reads key as "true"/"false", or defaultValue if unset.
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	return raw == "true"
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
