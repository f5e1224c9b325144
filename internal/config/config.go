package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	HTTPAddr    string `mapstructure:"HTTP_ADDR"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	StripeSecretKey     string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `mapstructure:"STRIPE_WEBHOOK_SECRET"`

	SheetsBaseURL       string `mapstructure:"SHEETS_BASE_URL"`
	SheetsSpreadsheetID string `mapstructure:"SHEETS_SPREADSHEET_ID"`
	SheetsAPIKey        string `mapstructure:"SHEETS_API_KEY"`

	KommoBaseURL  string `mapstructure:"KOMMO_BASE_URL"`
	KommoAPIToken string `mapstructure:"KOMMO_API_TOKEN"`
	KommoStatusID int    `mapstructure:"KOMMO_STATUS_ID"`

	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`

	MailHost string `mapstructure:"MAIL_HOST"`
	MailPort int    `mapstructure:"MAIL_PORT"`
	MailUser string `mapstructure:"MAIL_USER"`
	MailPass string `mapstructure:"MAIL_PASS"`
	MailFrom string `mapstructure:"MAIL_FROM"`

	AdminTokens string `mapstructure:"ADMIN_TOKENS"`
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	ReconcileInterval time.Duration `mapstructure:"RECONCILE_INTERVAL"`
	StuckOrderAfter   time.Duration `mapstructure:"STUCK_ORDER_AFTER"`
}

var keys = []string{
	"HTTP_ADDR", "LOG_LEVEL", "STORE_DRIVER", "DATABASE_URL",
	"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET",
	"SHEETS_BASE_URL", "SHEETS_SPREADSHEET_ID", "SHEETS_API_KEY",
	"KOMMO_BASE_URL", "KOMMO_API_TOKEN", "KOMMO_STATUS_ID",
	"RABBITMQ_URL",
	"MAIL_HOST", "MAIL_PORT", "MAIL_USER", "MAIL_PASS", "MAIL_FROM",
	"ADMIN_TOKENS", "CORS_ORIGINS",
	"RECONCILE_INTERVAL", "STUCK_ORDER_AFTER",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_DRIVER", StorePostgres)
	v.SetDefault("SHEETS_BASE_URL", "https://sheets.googleapis.com/v4")
	v.SetDefault("MAIL_PORT", 587)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("RECONCILE_INTERVAL", 5*time.Minute)
	v.SetDefault("STUCK_ORDER_AFTER", 15*time.Minute)
}

// Load reads .env (if present), then an optional YAML file named by
// LEADMARKET_CONFIG, then the environment. Later sources win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path := os.Getenv("LEADMARKET_CONFIG"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.AutomaticEnv()
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.StoreDriver {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q: want %s or %s", c.StoreDriver, StorePostgres, StoreMemory))
	}
	if c.ReconcileInterval < 0 {
		errs = append(errs, errors.New("RECONCILE_INTERVAL must not be negative"))
	}
	return errors.Join(errs...)
}

func (c *Config) CORSOriginList() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c *Config) MailConfigured() bool {
	return c.MailHost != "" && c.MailFrom != ""
}

func (c *Config) KommoConfigured() bool {
	return c.KommoBaseURL != "" && c.KommoAPIToken != ""
}
