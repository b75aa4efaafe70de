package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"
	BackendMemory    = "memory"

	AuthModeFirebase = "firebase"
	AuthModeHeader   = "header"
)

// Config is built once at process start and passed to the components that
// need it. Business code never reads the environment directly.
type Config struct {
	Port         string `mapstructure:"PORT"`
	StoreBackend string `mapstructure:"STORE_BACKEND"`

	PostgresURL              string `mapstructure:"POSTGRES_URL"`
	FirestoreProjectID       string `mapstructure:"FIRESTORE_PROJECT_ID"`
	FirestoreCredentialsFile string `mapstructure:"FIRESTORE_CREDENTIALS_FILE"`

	RazorpayKeyID         string        `mapstructure:"RAZORPAY_KEY_ID"`
	RazorpayKeySecret     string        `mapstructure:"RAZORPAY_KEY_SECRET"`
	RazorpayWebhookSecret string        `mapstructure:"RAZORPAY_WEBHOOK_SECRET"`
	RazorpayBaseURL       string        `mapstructure:"RAZORPAY_BASE_URL"`
	GatewayTimeout        time.Duration `mapstructure:"GATEWAY_TIMEOUT"`
	RemoteOrderTTL        time.Duration `mapstructure:"REMOTE_ORDER_TTL"`

	Currency      string `mapstructure:"CURRENCY"`
	ShippingMinor int64  `mapstructure:"SHIPPING_MINOR"`

	RedisAddr    string `mapstructure:"REDIS_ADDR"`
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`

	EmailServiceURL     string `mapstructure:"EMAIL_SERVICE_URL"`
	RelayServiceURL     string `mapstructure:"RELAY_SERVICE_URL"`
	InventoryServiceURL string `mapstructure:"INVENTORY_SERVICE_URL"`
	SendGridAPIKey      string `mapstructure:"SENDGRID_API_KEY"`
	MailFrom            string `mapstructure:"MAIL_FROM"`
	AdminEmail          string `mapstructure:"ADMIN_EMAIL"`

	SecretsProjectID string `mapstructure:"SECRETS_PROJECT_ID"`
	AuthMode         string `mapstructure:"AUTH_MODE"`
	AllowedOrigins   string `mapstructure:"ALLOWED_ORIGINS"`

	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

var defaults = map[string]any{
	"PORT":                        "",
	"STORE_BACKEND":               BackendPostgres,
	"POSTGRES_URL":                "",
	"FIRESTORE_PROJECT_ID":        "",
	"FIRESTORE_CREDENTIALS_FILE":  "",
	"RAZORPAY_KEY_ID":             "",
	"RAZORPAY_KEY_SECRET":         "",
	"RAZORPAY_WEBHOOK_SECRET":     "",
	"RAZORPAY_BASE_URL":           "https://api.razorpay.com/v1",
	"GATEWAY_TIMEOUT":             "10s",
	"REMOTE_ORDER_TTL":            "30m",
	"CURRENCY":                    "INR",
	"SHIPPING_MINOR":              0,
	"REDIS_ADDR":                  "",
	"KAFKA_BROKERS":               "",
	"EMAIL_SERVICE_URL":           "",
	"RELAY_SERVICE_URL":           "",
	"INVENTORY_SERVICE_URL":       "",
	"SENDGRID_API_KEY":            "",
	"MAIL_FROM":                   "",
	"ADMIN_EMAIL":                 "",
	"SECRETS_PROJECT_ID":          "",
	"AUTH_MODE":                   AuthModeFirebase,
	"ALLOWED_ORIGINS":             "*",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "localhost:4317",
}

// Load reads defaults, then the optional YAML file at path (or
// STOREFRONT_CONFIG), then the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if path == "" {
		path = os.Getenv("STOREFRONT_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	cfg.AuthMode = strings.ToLower(strings.TrimSpace(cfg.AuthMode))
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendPostgres, BackendFirestore, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of postgres, firestore, memory (got %q)", c.StoreBackend))
	}
	switch c.AuthMode {
	case AuthModeFirebase, AuthModeHeader:
	default:
		errs = append(errs, fmt.Errorf("AUTH_MODE must be firebase or header (got %q)", c.AuthMode))
	}
	if c.ShippingMinor < 0 {
		errs = append(errs, errors.New("SHIPPING_MINOR must not be negative"))
	}
	if c.GatewayTimeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT must be positive"))
	}
	if c.Currency == "" {
		errs = append(errs, errors.New("CURRENCY is required"))
	}

	return errors.Join(errs...)
}

// WebhookSecret falls back to the API key secret when no dedicated webhook
// secret is configured.
func (c *Config) WebhookSecret() string {
	if c.RazorpayWebhookSecret != "" {
		return c.RazorpayWebhookSecret
	}
	return c.RazorpayKeySecret
}

func (c *Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (c *Config) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// PortOr returns the configured port or fallback when none is set.
func (c *Config) PortOr(fallback string) string {
	if c.Port != "" {
		return c.Port
	}
	return fallback
}
