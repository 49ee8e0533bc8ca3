package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// Config holds the complete application configuration, loadable from
// environment variables (KART_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (KART_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (KART_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Payment      PaymentConfig
	Redis        RedisConfig
	Checkout     CheckoutConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// PaymentConfig describes the merchant account at the payment provider.
type PaymentConfig struct {
	ProviderURL string `usage:"Provider checkout page URL" flag:"payment-provider-url"`
	MerchantID  string `usage:"Merchant id issued by the provider" flag:"payment-merchant-id"`
	Secret      string `usage:"Shared secret used to sign redirects and verify callbacks (KART_PAYMENT_SECRET)" flag:"payment-secret"`
	ReturnURL   string `usage:"URL the provider sends the buyer back to" flag:"payment-return-url"`
	Currency    string `default:"USD" usage:"ISO currency code of order totals"`
}

// RedisConfig enables the callback replay guard. An empty URL disables it.
type RedisConfig struct {
	URL       string        `usage:"Redis URL (KART_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	ReplayTTL time.Duration `default:"24h" usage:"How long applied callbacks are remembered"`
}

// CheckoutConfig bounds retries of conflicting order transactions.
type CheckoutConfig struct {
	MaxAttempts    int           `default:"4" usage:"Attempts per order transaction"`
	InitialBackoff time.Duration `default:"20ms" usage:"First retry delay"`
	MaxBackoff     time.Duration `default:"200ms" usage:"Retry delay cap"`
}

// RateLimitConfig controls the per-client limiter of the payment callback.
type RateLimitConfig struct {
	CallbackRPS   float64 `default:"20" usage:"Sustained callback requests per second per client"`
	CallbackBurst int     `default:"40" usage:"Callback burst size per client"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "KART",
		Files:     []string{"config.yaml", "/etc/kart/config.yaml"},
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
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set KART_DATABASE_URL or DATABASE_URL")
	case c.Payment.Secret == "":
		return errors.New("payment secret is required: set KART_PAYMENT_SECRET")
	case c.APIKeyPepper == "":
		return errors.New("api key pepper is required: set KART_API_KEY_PEPPER")
	case c.Checkout.MaxAttempts < 1:
		return errors.Errorf("checkout max attempts must be positive, got %d", c.Checkout.MaxAttempts)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables that
// use standard names like DATABASE_URL and PORT to the KART_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

// PaymentGateway builds the provider adapter.
func (c *Config) PaymentGateway() (*payment.Gateway, error) {
	return payment.NewGateway(payment.Config{
		ProviderURL: c.Payment.ProviderURL,
		MerchantID:  c.Payment.MerchantID,
		Secret:      []byte(c.Payment.Secret),
		ReturnURL:   c.Payment.ReturnURL,
		Currency:    c.Payment.Currency,
	})
}

// RetryPolicy converts the checkout section into an order retry policy.
func (c *Config) RetryPolicy() order.RetryPolicy {
	return order.RetryPolicy{
		MaxAttempts:     c.Checkout.MaxAttempts,
		InitialInterval: c.Checkout.InitialBackoff,
		MaxInterval:     c.Checkout.MaxBackoff,
	}
}
