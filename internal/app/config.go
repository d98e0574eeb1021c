package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/reprog-billing/internal/billdoc"
	"github.com/xenking/reprog-billing/internal/gateway/monetico"
	"github.com/xenking/reprog-billing/internal/notify"
)

// Config holds the complete application configuration, loadable from
// environment variables (BILLING_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (BILLING_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	VATRate     string `default:"20" usage:"VAT percentage applied to catalog prices" flag:"vat-rate"`
	Gateway     monetico.Config
	Auth        AuthConfig
	AMQP        notify.AMQPConfig
	Relay       notify.RelayConfig
	Issuer      billdoc.Issuer
	Health      HealthConfig
	Graceful    GracefulConfig
}

// AuthConfig holds the portal token settings.
type AuthConfig struct {
	Secret string `usage:"HS256 secret shared with the portal (BILLING_AUTH_SECRET)"`
	Issuer string `default:"portal" usage:"Expected token issuer; empty accepts any"`
}

// HealthConfig sets probe limits.
type HealthConfig struct {
	Interval       time.Duration `default:"10s" usage:"Probe interval"`
	MaxGoroutines  int           `default:"10000" usage:"Liveness goroutine ceiling"`
	MaxOutboxDepth int64         `default:"10000" usage:"Readiness limit for undelivered notices"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "BILLING",
		Files:     []string{"config.yaml", "/etc/billing/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set BILLING_DATABASE_URL or DATABASE_URL")
	}
	if c.Gateway.Key == "" {
		return errors.New("gateway key is required: set BILLING_GATEWAY_KEY")
	}
	if c.Auth.Secret == "" {
		return errors.New("auth secret is required: set BILLING_AUTH_SECRET")
	}
	rate, err := c.VAT()
	if err != nil {
		return err
	}
	if rate.IsNegative() {
		return errors.Errorf("negative VAT rate %s", rate)
	}
	return nil
}

// VAT returns the configured VAT percentage.
func (c *Config) VAT() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.VATRate)
	if err != nil {
		return decimal.Decimal{}, errors.Wrapf(err, "parse VAT rate %q", c.VATRate)
	}
	return rate, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the BILLING_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.AMQP.URL == "" {
		c.AMQP.URL = os.Getenv("AMQP_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
