package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	cenv "github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/ProUnlock/internal/pkg/env"
)

const (
	VerifyModeStrict     = "strict"
	VerifyModePermissive = "permissive"
)

type Config struct {
	App     AppConfig
	DB      DBConfig
	Cache   CacheConfig
	PayPal  PayPalConfig
	Claims  ClaimsConfig
	Metrics MetricsConfig
}

type AppConfig struct {
	Env      string `env:"APP_ENV" envDefault:"prod"`
	Host     string `env:"APP_HOST" envDefault:"localhost"`
	Port     string `env:"APP_PORT" envDefault:"4000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// BodyLimit caps request bodies, webhooks included.
	BodyLimit int `env:"APP_BODY_LIMIT" envDefault:"1048576"`
}

type DBConfig struct {
	Host         string        `env:"DB_HOST" envDefault:"127.0.0.1"`
	Port         string        `env:"DB_PORT" envDefault:"3306"`
	User         string        `env:"DB_USER" envDefault:"prounlock"`
	Password     string        `env:"DB_PASSWORD"`
	Name         string        `env:"DB_NAME" envDefault:"prounlock_db"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	QueryTimeout time.Duration `env:"DB_QUERY_TIMEOUT" envDefault:"5s"`
	AutoMigrate  bool          `env:"DB_AUTO_MIGRATE" envDefault:"false"`
}

type CacheConfig struct {
	Host     string `env:"CACHE_HOST" envDefault:"localhost"`
	Port     string `env:"CACHE_PORT" envDefault:"6379"`
	Password string `env:"CACHE_PASSWORD"`
	DB       int    `env:"CACHE_DB" envDefault:"0"`
	// SessionDB keeps sessions apart from cache keys.
	SessionDB int `env:"CACHE_SESSION_DB" envDefault:"1"`
}

type PayPalConfig struct {
	ClientID     string        `env:"PAYPAL_CLIENT_ID"`
	ClientSecret string        `env:"PAYPAL_CLIENT_SECRET"`
	WebhookID    string        `env:"PAYPAL_WEBHOOK_ID"`
	BaseURL      string        `env:"PAYPAL_BASE_URL" envDefault:"https://api-m.paypal.com"`
	HTTPTimeout  time.Duration `env:"PAYPAL_HTTP_TIMEOUT" envDefault:"10s"`
	VerifyMode   string        `env:"PAYPAL_WEBHOOK_VERIFY_MODE" envDefault:"strict"`
}

type ClaimsConfig struct {
	MinAmount    decimal.Decimal `env:"CLAIM_MIN_AMOUNT" envDefault:"2.99"`
	Currency     string          `env:"CLAIM_CURRENCY" envDefault:"USD"`
	VerifyWindow time.Duration   `env:"CLAIM_VERIFY_WINDOW" envDefault:"24h"`
	RedeemWindow time.Duration   `env:"CLAIM_REDEEM_WINDOW" envDefault:"48h"`
	Cooldown     time.Duration   `env:"CLAIM_COOLDOWN" envDefault:"1m"`
}

type MetricsConfig struct {
	User     string `env:"METRICS_USER" envDefault:"admin"`
	Password string `env:"METRICS_PASSWORD"`
}

// Load parses the configuration from the loaded .env values and the process
// environment.
func Load() (*Config, error) {
	return Parse(env.Merged())
}

// Parse builds a Config from an explicit environment map.
func Parse(environment map[string]string) (*Config, error) {
	var cfg Config
	if err := cenv.ParseWithOptions(&cfg, cenv.Options{Environment: environment}); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.PayPal.VerifyMode = strings.ToLower(strings.TrimSpace(cfg.PayPal.VerifyMode))
	cfg.PayPal.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.PayPal.BaseURL), "/")
	cfg.Claims.Currency = strings.ToUpper(strings.TrimSpace(cfg.Claims.Currency))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) IsDev() bool {
	return c.App.Env == "dev"
}

// Validate rejects combinations that must never reach a running server.
// Missing PayPal credentials are not rejected here: the webhook endpoint
// reports them per request.
func (c *Config) Validate() error {
	var errs []error
	switch c.PayPal.VerifyMode {
	case VerifyModeStrict:
	case VerifyModePermissive:
		if c.App.Env == "prod" {
			errs = append(errs, errors.New("permissive webhook verification is not allowed in prod"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PAYPAL_WEBHOOK_VERIFY_MODE %q", c.PayPal.VerifyMode))
	}
	if !c.Claims.MinAmount.IsPositive() {
		errs = append(errs, errors.New("CLAIM_MIN_AMOUNT must be positive"))
	}
	if c.Claims.VerifyWindow <= 0 || c.Claims.RedeemWindow <= 0 {
		errs = append(errs, errors.New("claim windows must be positive"))
	}
	if c.Claims.Cooldown < 0 {
		errs = append(errs, errors.New("CLAIM_COOLDOWN must not be negative"))
	}
	if c.PayPal.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("PAYPAL_HTTP_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}
