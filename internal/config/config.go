package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config is the service configuration. Values come from the YAML file named by
// APP_CONFIG (optional) and are then overridden by environment variables.
type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	Storage         string        `yaml:"storage"`
	DatabaseURL     string        `yaml:"database_url"`
	JWTSecret       string        `yaml:"jwt_secret"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Billing         BillingConfig `yaml:"billing"`
	Notify          NotifyConfig  `yaml:"notify"`
}

// BillingConfig holds billing rules that vary per building.
type BillingConfig struct {
	Currency string `yaml:"currency"`
	// DueDay is the day of the month following the period on which a bill falls due.
	DueDay int `yaml:"due_day"`
	// CategoryAliases maps a lower-cased service name to a category tag. It is
	// consulted only when a configuration author leaves the tag empty.
	CategoryAliases map[string]string `yaml:"category_aliases"`
}

// NotifyConfig configures resident notification channels.
type NotifyConfig struct {
	WebhookURL     string        `yaml:"webhook_url"`
	Timeout        time.Duration `yaml:"timeout"`
	RetryMax       int           `yaml:"retry_max"`
	Cooldown       time.Duration `yaml:"cooldown"`
	SendGridAPIKey string        `yaml:"sendgrid_api_key"`
	FromEmail      string        `yaml:"from_email"`
	FromName       string        `yaml:"from_name"`
	// SendGridSandbox validates mail without delivering it.
	SendGridSandbox bool `yaml:"sendgrid_sandbox"`
}

// DefaultCategoryAliases covers the service names used by the building office.
func DefaultCategoryAliases() map[string]string {
	return map[string]string{
		"điện":        "electric",
		"dien":        "electric",
		"electricity": "electric",
		"nước":        "water",
		"nuoc":        "water",
		"water":       "water",
		"phí quản lý": "service",
		"phi quan ly": "service",
		"dịch vụ":     "service",
		"dich vu":     "service",
		"service":     "service",
		"gửi xe":      "vehicles",
		"gui xe":      "vehicles",
		"xe máy":      "vehicles",
		"ô tô":        "vehicles",
		"parking":     "vehicles",
	}
}

// Load reads .env (if present), the optional YAML file and the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr:        ":8080",
		Storage:         StoragePostgres,
		LogLevel:        "info",
		LogFormat:       "text",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
		Billing: BillingConfig{
			Currency:        "VND",
			DueDay:          10,
			CategoryAliases: DefaultCategoryAliases(),
		},
		Notify: NotifyConfig{
			Timeout:  10 * time.Second,
			RetryMax: 3,
		},
	}

	if path := os.Getenv("APP_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrapf(err, "config: read %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "config: parse %s", path)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks required settings.
func (c Config) Validate() error {
	switch c.Storage {
	case StorageMemory:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL or PG_DSN is required for postgres storage")
		}
	default:
		return errors.Newf("config: unknown storage %q", c.Storage)
	}
	if c.JWTSecret == "" {
		return errors.New("config: AUTH_JWT_SECRET is required")
	}
	if c.Billing.DueDay < 1 || c.Billing.DueDay > 28 {
		return errors.Newf("config: billing due day %d must be within 1..28", c.Billing.DueDay)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", cfg.HTTPAddr)
	cfg.Storage = strings.ToLower(getenvDefault("STORAGE", cfg.Storage))
	cfg.DatabaseURL = getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", cfg.DatabaseURL))
	cfg.JWTSecret = getenvDefault("AUTH_JWT_SECRET", getenvDefault("JWT_SECRET", cfg.JWTSecret))
	cfg.LogLevel = getenvDefault("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenvDefault("LOG_FORMAT", cfg.LogFormat)
	cfg.ReadTimeout = getenvDuration("HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getenvDuration("HTTP_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.ShutdownTimeout = getenvDuration("HTTP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	cfg.Billing.Currency = getenvDefault("BILLING_CURRENCY", cfg.Billing.Currency)
	cfg.Billing.DueDay = getenvIntDefault("BILLING_DUE_DAY", cfg.Billing.DueDay)
	if cfg.Billing.CategoryAliases == nil {
		cfg.Billing.CategoryAliases = DefaultCategoryAliases()
	}

	cfg.Notify.WebhookURL = getenvDefault("NOTIFY_WEBHOOK_URL", cfg.Notify.WebhookURL)
	cfg.Notify.Timeout = getenvDuration("NOTIFY_TIMEOUT", cfg.Notify.Timeout)
	cfg.Notify.RetryMax = getenvIntDefault("NOTIFY_RETRY_MAX", cfg.Notify.RetryMax)
	cfg.Notify.Cooldown = getenvDuration("NOTIFY_COOLDOWN", cfg.Notify.Cooldown)
	cfg.Notify.SendGridAPIKey = getenvDefault("SENDGRID_API_KEY", cfg.Notify.SendGridAPIKey)
	cfg.Notify.FromEmail = getenvDefault("NOTIFY_FROM_EMAIL", cfg.Notify.FromEmail)
	cfg.Notify.FromName = getenvDefault("NOTIFY_FROM_NAME", cfg.Notify.FromName)
	cfg.Notify.SendGridSandbox = getenvBool("SENDGRID_SANDBOX", cfg.Notify.SendGridSandbox)
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
