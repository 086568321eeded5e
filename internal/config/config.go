package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// HTTP Server
	Port string

	// External transactions/reports backend
	APIBaseURL string
	APITimeout time.Duration

	// Identity provider
	FirebaseAPIKey      string
	IdentityEndpoint    string
	SecureTokenEndpoint string

	// Google sign-in (optional)
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Visitor sessions
	SessionSecret string
	SessionTTL    time.Duration
	SessionDBPath string
	MaxVisitors   int
	SecureCookies bool

	// Query cache
	QueryStaleTime time.Duration
	QueryWait      time.Duration

	// AMQP (optional)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	RateLimitPerMinute int

	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		Port: getEnv("PORT", "8080"),

		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:5000"),
		APITimeout: getEnvDuration("API_TIMEOUT", 10*time.Second),

		FirebaseAPIKey:      getEnv("FIREBASE_API_KEY", ""),
		IdentityEndpoint:    getEnv("IDENTITY_ENDPOINT", "https://www.googleapis.com/identitytoolkit/v3/relyingparty/"),
		SecureTokenEndpoint: getEnv("SECURE_TOKEN_ENDPOINT", "https://securetoken.googleapis.com/v1/token"),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),

		SessionSecret: getEnv("SESSION_SECRET", ""),
		SessionTTL:    getEnvDuration("SESSION_TTL", 7*24*time.Hour),
		SessionDBPath: getEnv("SESSION_DB_PATH", "./data/sessions.db"),
		MaxVisitors:   getEnvInt("MAX_VISITORS", 10000),
		SecureCookies: getEnvBool("SECURE_COOKIES", false),

		QueryStaleTime: getEnvDuration("QUERY_STALE_TIME", 30*time.Second),
		QueryWait:      getEnvDuration("QUERY_WAIT", 3*time.Second),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "fintrack.transactions"),
		AMQPQueue:    getEnv("AMQP_QUEUE", ""),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// GoogleSignInEnabled reports whether the Google code flow is configured.
func (c *Config) GoogleSignInEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// AMQPEnabled reports whether change events are published and consumed.
func (c *Config) AMQPEnabled() bool {
	return c.AMQPURL != ""
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if u, err := url.Parse(c.APIBaseURL); err != nil || c.APIBaseURL == "" {
		errors = append(errors, fmt.Sprintf("invalid API base URL '%s'", c.APIBaseURL))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid API base URL scheme '%s': must be 'http' or 'https'", u.Scheme))
	}
	if c.APITimeout <= 0 {
		errors = append(errors, fmt.Sprintf("invalid API timeout %v: must be positive", c.APITimeout))
	}

	if c.FirebaseAPIKey == "" {
		errors = append(errors, "FIREBASE_API_KEY is required")
	}
	for name, raw := range map[string]string{
		"identity endpoint":     c.IdentityEndpoint,
		"secure token endpoint": c.SecureTokenEndpoint,
	} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errors = append(errors, fmt.Sprintf("invalid %s '%s'", name, raw))
		}
	}

	// Google sign-in is all or nothing
	google := []string{c.GoogleClientID, c.GoogleClientSecret, c.GoogleRedirectURL}
	set := 0
	for _, v := range google {
		if v != "" {
			set++
		}
	}
	if set > 0 && set < len(google) {
		errors = append(errors, "GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET and GOOGLE_REDIRECT_URL must be set together")
	}

	if len(c.SessionSecret) < 32 {
		errors = append(errors, "SESSION_SECRET must be at least 32 characters")
	}
	if c.SessionTTL < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid session TTL %v: must be at least 1 minute", c.SessionTTL))
	}
	if c.MaxVisitors < 1 {
		errors = append(errors, fmt.Sprintf("invalid max visitors %d: must be at least 1", c.MaxVisitors))
	}
	if c.SessionDBPath == "" {
		errors = append(errors, "session database path cannot be empty")
	} else if dir := filepath.Dir(c.SessionDBPath); dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				errors = append(errors, fmt.Sprintf("cannot create session database directory '%s': %v", dir, err))
			}
		}
	}

	if c.QueryStaleTime < 0 {
		errors = append(errors, fmt.Sprintf("invalid query stale time %v: must not be negative", c.QueryStaleTime))
	}
	if c.QueryWait <= 0 {
		errors = append(errors, fmt.Sprintf("invalid query wait %v: must be positive", c.QueryWait))
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	if c.RateLimitPerMinute < 1 {
		errors = append(errors, fmt.Sprintf("invalid rate limit %d: must be at least 1 per minute", c.RateLimitPerMinute))
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
