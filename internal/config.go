package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Payment       PaymentConfig       `mapstructure:"payment"`
	Ledger        LedgerConfig        `mapstructure:"ledger"`
	Treasury      TreasuryConfig      `mapstructure:"treasury"`
	Providers     map[string]ProviderConfig `mapstructure:"providers"`
	Webhook       WebhookConfig       `mapstructure:"webhook"`
	Alerts        AlertsConfig        `mapstructure:"alerts"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

type RedisConfig struct {
	URL        string        `mapstructure:"url"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

type PaymentConfig struct {
	MinAmountCents      int64         `mapstructure:"min_amount_cents"`
	MaxAmountCents      int64         `mapstructure:"max_amount_cents"`
	SupportedCurrencies string        `mapstructure:"supported_currencies"`
	DailyCountLimit     int           `mapstructure:"daily_count_limit"`
	DailyAmountCents    int64         `mapstructure:"daily_amount_cents"`
	MaxAttempts         int           `mapstructure:"max_attempts"`
	ProviderTimeout     time.Duration `mapstructure:"provider_timeout"`
	ExpiryWindow        time.Duration `mapstructure:"expiry_window"`
	RejectionExpiry     time.Duration `mapstructure:"rejection_expiry"`
	MaxWorkers          int           `mapstructure:"max_workers"`
	JobQueueSize        int           `mapstructure:"job_queue_size"`
	WorkerPoolSize      int           `mapstructure:"worker_pool_size"`
	SandboxCallbackURL  string        `mapstructure:"sandbox_callback_url"`
}

type LedgerConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ProviderConfig points at a live provider proxy. Provider types without an
// entry are served by the sandbox integration.
type ProviderConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// TreasuryConfig points at the treasury API that executes return transfers
// for rejected deposits. Disabled means rejections are recorded without a
// refund attempt.
type TreasuryConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// WebhookConfig carries one signing secret per provider; providers without
// an entry fail signature verification.
type WebhookConfig struct {
	Secrets map[string]string `mapstructure:"secrets"`
}

type AlertsConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	Interval             time.Duration `mapstructure:"interval"`
	FailureThreshold     int           `mapstructure:"failure_threshold"`
	StuckPendingDuration time.Duration `mapstructure:"stuck_pending_duration"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ----------------- ENV LOADING -----------------

// LoadConfigFromEnv builds a Config from environment variables only, used for
// container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("SERVER_PORT", 8080),
			BaseURL:           getEnv("SERVER_BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("SERVER_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("SERVER_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DB_SOURCE", ""),
		},
		Redis: RedisConfig{
			URL:        getEnv("REDIS_URL", "redis://localhost:6379/0"),
			DefaultTTL: getEnvAsDuration("REDIS_DEFAULT_TTL", 5*time.Minute),
		},
		Payment: PaymentConfig{
			MinAmountCents:      getEnvAsInt64("PAYMENT_MIN_AMOUNT_CENTS", 100),
			MaxAmountCents:      getEnvAsInt64("PAYMENT_MAX_AMOUNT_CENTS", 5000000),
			SupportedCurrencies: getEnv("PAYMENT_SUPPORTED_CURRENCIES", "USD,EUR,BRL,GBP"),
			DailyCountLimit:     getEnvAsInt("PAYMENT_DAILY_COUNT_LIMIT", 20),
			DailyAmountCents:    getEnvAsInt64("PAYMENT_DAILY_AMOUNT_CENTS", 10000000),
			MaxAttempts:         getEnvAsInt("PAYMENT_MAX_ATTEMPTS", 3),
			ProviderTimeout:     getEnvAsDuration("PAYMENT_PROVIDER_TIMEOUT", 30*time.Second),
			ExpiryWindow:        getEnvAsDuration("PAYMENT_EXPIRY_WINDOW", 24*time.Hour),
			RejectionExpiry:     getEnvAsDuration("PAYMENT_REJECTION_EXPIRY", time.Hour),
			MaxWorkers:          getEnvAsInt("PAYMENT_MAX_WORKERS", 10),
			JobQueueSize:        getEnvAsInt("PAYMENT_JOB_QUEUE_SIZE", 100),
			WorkerPoolSize:      getEnvAsInt("PAYMENT_WORKER_POOL_SIZE", 10),
			SandboxCallbackURL:  getEnv("PAYMENT_SANDBOX_CALLBACK_URL", ""),
		},
		Ledger: LedgerConfig{
			Enabled: getEnv("LEDGER_ENABLED", "false") == "true",
			BaseURL: getEnv("LEDGER_BASE_URL", ""),
			APIKey:  getEnv("LEDGER_API_KEY", ""),
			Timeout: getEnvAsDuration("LEDGER_TIMEOUT", 5*time.Second),
		},
		Treasury: TreasuryConfig{
			Enabled: getEnv("TREASURY_ENABLED", "false") == "true",
			BaseURL: getEnv("TREASURY_BASE_URL", ""),
			APIKey:  getEnv("TREASURY_API_KEY", ""),
			Timeout: getEnvAsDuration("TREASURY_TIMEOUT", 10*time.Second),
		},
		Webhook: WebhookConfig{
			Secrets: parseSecretPairs(getEnv("WEBHOOK_SECRETS", "")),
		},
		Alerts: AlertsConfig{
			Enabled:              getEnv("ALERTS_ENABLED", "true") == "true",
			Interval:             getEnvAsDuration("ALERTS_INTERVAL", 5*time.Minute),
			FailureThreshold:     getEnvAsInt("ALERTS_FAILURE_THRESHOLD", 10),
			StuckPendingDuration: getEnvAsDuration("ALERTS_STUCK_PENDING_DURATION", time.Hour),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// parseSecretPairs parses "provider1:secret1,provider2:secret2".
func parseSecretPairs(raw string) map[string]string {
	secrets := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), ":", 2)
		if len(parts) == 2 && parts[0] != "" {
			secrets[parts[0]] = parts[1]
		}
	}
	return secrets
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Payment.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("payment config: %v", err))
	}

	if err := c.Ledger.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("ledger config: %v", err))
	}

	if err := c.Treasury.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("treasury config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *PaymentConfig) Validate() error {
	if c.MinAmountCents <= 0 {
		return errors.New("min_amount_cents must be positive")
	}
	if c.MaxAmountCents <= c.MinAmountCents {
		return errors.New("max_amount_cents must be greater than min_amount_cents")
	}
	if c.MaxAttempts < 1 {
		return errors.New("max_attempts must be at least 1")
	}
	if c.SupportedCurrencies == "" {
		return errors.New("supported_currencies is required")
	}
	return nil
}

func (c *LedgerConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.BaseURL == "" {
		return errors.New("base_url is required when ledger mirror is enabled")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid ledger base_url: %w", err)
	}
	return nil
}

func (c *TreasuryConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.BaseURL == "" {
		return errors.New("base_url is required when treasury returns are enabled")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid treasury base_url: %w", err)
	}
	return nil
}

// Currencies returns the supported currency set, upper-cased and trimmed.
func (c *PaymentConfig) Currencies() []string {
	parts := strings.Split(c.SupportedCurrencies, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
