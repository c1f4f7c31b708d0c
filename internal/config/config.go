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
	Port           string
	MaxUploadBytes int64

	// Receipts backend
	APIBaseURL string
	APITimeout time.Duration

	// Browser sessions
	SessionSecret       string
	SessionCookieName   string
	SessionCookieSecure bool
	SessionIdleTTL      time.Duration
	SessionMaxAge       time.Duration
	MaxWorkspaces       int

	// Workspace store: memory or sqlite
	StoreBackend string
	SQLiteDBPath string

	// AMQP event bus, optional
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Ledger export: memory or sheets
	LedgerBackend            string
	GoogleSpreadsheetID      string
	GoogleLedgerSheet        string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string

	// Worker
	WorkerHealthPort string

	// Caches and limits
	OverviewCacheTTL   time.Duration
	RateLimitPerMinute int
	RateLimitBurst     int

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_MB", 10)) << 20,

		APIBaseURL: NormalizeBaseURL(getEnv("API_BASE_URL", "http://localhost:8000")),
		APITimeout: getEnvDuration("API_TIMEOUT", 30*time.Second),

		SessionSecret:       getEnv("SESSION_SECRET", ""),
		SessionCookieName:   getEnv("SESSION_COOKIE_NAME", "splithappens_session"),
		SessionCookieSecure: getEnvBool("SESSION_COOKIE_SECURE", false),
		SessionIdleTTL:      getEnvDuration("SESSION_IDLE_TTL", 30*time.Minute),
		SessionMaxAge:       getEnvDuration("SESSION_MAX_AGE", 30*24*time.Hour),
		MaxWorkspaces:       getEnvInt("MAX_WORKSPACES", 1000),

		StoreBackend: getEnv("DATA_BACKEND", "memory"),
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/splithappens.db"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "splithappens"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_export"),

		LedgerBackend:            getEnv("LEDGER_BACKEND", "memory"),
		GoogleSpreadsheetID:      getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleLedgerSheet:        getEnv("GOOGLE_LEDGER_SHEET", "Ledger"),
		GoogleServiceAccountFile: getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		GoogleServiceAccountJSON: getEnv("GOOGLE_SERVICE_ACCOUNT_JSON", ""),

		WorkerHealthPort: getEnv("WORKER_HEALTH_PORT", "8082"),

		OverviewCacheTTL:   getEnvDuration("OVERVIEW_CACHE_TTL", 30*time.Second),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 30),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}
}

// NormalizeBaseURL adds https:// to a bare host and drops trailing slashes.
func NormalizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	return strings.TrimRight(raw, "/")
}

// Validate checks everything the web server needs.
func (c *Config) Validate() error {
	var errs []string
	errs = append(errs, c.validatePort(c.Port, "port")...)
	errs = append(errs, c.validateAPI()...)
	errs = append(errs, c.validateSessions()...)
	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateAMQP(false)...)
	errs = append(errs, c.validateLedger()...)

	if c.MaxUploadBytes <= 0 {
		errs = append(errs, "MAX_UPLOAD_MB must be positive")
	}
	if c.RateLimitPerMinute < 1 {
		errs = append(errs, fmt.Sprintf("invalid rate limit %d: must be at least 1 per minute", c.RateLimitPerMinute))
	}
	if c.OverviewCacheTTL < 0 {
		errs = append(errs, "overview cache TTL cannot be negative")
	}
	return joinErrors(errs)
}

// ValidateWorker checks what the ledger export worker needs. The bus is
// mandatory there.
func (c *Config) ValidateWorker() error {
	var errs []string
	errs = append(errs, c.validatePort(c.WorkerHealthPort, "worker health port")...)
	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateAMQP(true)...)
	errs = append(errs, c.validateLedger()...)
	return joinErrors(errs)
}

// ValidateClient checks what the command line client needs.
func (c *Config) ValidateClient() error {
	return joinErrors(c.validateAPI())
}

func joinErrors(errs []string) error {
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

func (c *Config) validatePort(value, name string) []string {
	port, err := strconv.Atoi(value)
	if err != nil {
		return []string{fmt.Sprintf("invalid %s '%s': must be a number", name, value)}
	}
	if port < 1 || port > 65535 {
		return []string{fmt.Sprintf("invalid %s %d: must be between 1 and 65535", name, port)}
	}
	return nil
}

func (c *Config) validateAPI() []string {
	var errs []string
	if c.APIBaseURL == "" {
		errs = append(errs, "API_BASE_URL is required")
	} else if u, err := url.Parse(c.APIBaseURL); err != nil || u.Host == "" {
		errs = append(errs, fmt.Sprintf("invalid API base URL '%s'", c.APIBaseURL))
	}
	if c.APITimeout < time.Second || c.APITimeout > 5*time.Minute {
		errs = append(errs, fmt.Sprintf("invalid API timeout %v: must be between 1s and 5m", c.APITimeout))
	}
	return errs
}

func (c *Config) validateSessions() []string {
	var errs []string
	if len(c.SessionSecret) < 32 {
		errs = append(errs, "SESSION_SECRET must be at least 32 characters")
	}
	if c.SessionCookieName == "" {
		errs = append(errs, "session cookie name cannot be empty")
	}
	if c.SessionIdleTTL < time.Minute {
		errs = append(errs, fmt.Sprintf("invalid session idle TTL %v: must be at least 1 minute", c.SessionIdleTTL))
	}
	if c.SessionMaxAge < c.SessionIdleTTL {
		errs = append(errs, "session max age must not be shorter than the idle TTL")
	}
	if c.MaxWorkspaces < 1 {
		errs = append(errs, fmt.Sprintf("invalid max workspaces %d: must be at least 1", c.MaxWorkspaces))
	}
	return errs
}

func (c *Config) validateStore() []string {
	switch c.StoreBackend {
	case "memory":
		return nil
	case "sqlite":
		if c.SQLiteDBPath == "" {
			return []string{"SQLite database path cannot be empty when using sqlite backend"}
		}
		if dir := filepath.Dir(c.SQLiteDBPath); dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					return []string{fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err)}
				}
			}
		}
		return nil
	default:
		return []string{fmt.Sprintf("invalid data backend '%s': must be one of [memory sqlite]", c.StoreBackend)}
	}
}

func (c *Config) validateAMQP(required bool) []string {
	if c.AMQPURL == "" {
		if required {
			return []string{"AMQP_URL is required"}
		}
		return nil
	}
	var errs []string
	if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
		errs = append(errs, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
	} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
		errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
	}
	if c.AMQPExchange == "" {
		errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
	}
	if c.AMQPQueue == "" {
		errs = append(errs, "AMQP queue name cannot be empty when AMQP URL is provided")
	}
	return errs
}

func (c *Config) validateLedger() []string {
	switch c.LedgerBackend {
	case "memory":
		return nil
	case "sheets":
		var errs []string
		if c.GoogleSpreadsheetID == "" {
			errs = append(errs, "Google Spreadsheet ID is required when using sheets ledger")
		}
		if c.GoogleLedgerSheet == "" {
			errs = append(errs, "Google ledger sheet name is required when using sheets ledger")
		}
		if c.GoogleServiceAccountFile == "" && c.GoogleServiceAccountJSON == "" {
			errs = append(errs, "either GOOGLE_SERVICE_ACCOUNT_FILE or GOOGLE_SERVICE_ACCOUNT_JSON must be provided for sheets ledger")
		}
		if c.GoogleServiceAccountFile != "" {
			if _, err := os.Stat(c.GoogleServiceAccountFile); os.IsNotExist(err) {
				errs = append(errs, fmt.Sprintf("Google service account file does not exist: %s", c.GoogleServiceAccountFile))
			}
		}
		return errs
	default:
		return []string{fmt.Sprintf("invalid ledger backend '%s': must be one of [memory sheets]", c.LedgerBackend)}
	}
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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
