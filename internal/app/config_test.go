package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:         "0.0.0.0:8080",
		DatabaseURL:  "postgres://localhost/kart",
		APIKeyPepper: "pepper",
		Payment: PaymentConfig{
			ProviderURL: "https://pay.test/checkout",
			MerchantID:  "m-1",
			Secret:      "s3cret",
			Currency:    "USD",
		},
		Checkout: CheckoutConfig{MaxAttempts: 4, InitialBackoff: 20 * time.Millisecond, MaxBackoff: 200 * time.Millisecond},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"Valid", func(*Config) {}, ""},
		{"NoDatabase", func(c *Config) { c.DatabaseURL = "" }, "database URL"},
		{"NoSecret", func(c *Config) { c.Payment.Secret = "" }, "payment secret"},
		{"NoPepper", func(c *Config) { c.APIKeyPepper = "" }, "pepper"},
		{"NoAttempts", func(c *Config) { c.Checkout.MaxAttempts = 0 }, "max attempts"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://platform:6379/0")
	t.Setenv("PORT", "9090")

	cfg := Config{Addr: "0.0.0.0:8080"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "redis://platform:6379/0", cfg.Redis.URL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)

	explicit := Config{Addr: "127.0.0.1:1", DatabaseURL: "postgres://explicit/db"}
	explicit.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/db", explicit.DatabaseURL)
	assert.Equal(t, "127.0.0.1:1", explicit.Addr)
}

func TestConfigBuilders(t *testing.T) {
	cfg := validConfig()

	gw, err := cfg.PaymentGateway()
	require.NoError(t, err)
	require.NotNil(t, gw)

	p := cfg.RetryPolicy()
	assert.Equal(t, 4, p.MaxAttempts)
	assert.Equal(t, 20*time.Millisecond, p.InitialInterval)
	assert.Equal(t, 200*time.Millisecond, p.MaxInterval)
}
