package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store schema variants.
const (
	VariantBasic       = "basic"
	VariantMultiTenant = "multitenant"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string `env:"APP_ENV" envDefault:"development"`
	HTTPPort    string `env:"PORT" envDefault:"3001"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"hubspot-connector"`

	StoreDriver   string `env:"STORE_DRIVER" envDefault:"postgres"`
	StoreVariant  string `env:"STORE_VARIANT" envDefault:"basic"`
	DatabaseURL   string `env:"DATABASE_URL"`
	SQLitePath    string `env:"SQLITE_PATH" envDefault:"connector.db"`
	SnowflakeNode int64  `env:"SNOWFLAKE_NODE" envDefault:"1"`

	EncryptionSecret string `env:"ENCRYPTION_SECRET,required,notEmpty"`

	HubSpotClientID     string        `env:"HUBSPOT_CLIENT_ID,required,notEmpty"`
	HubSpotClientSecret string        `env:"HUBSPOT_CLIENT_SECRET,required,notEmpty"`
	HubSpotRedirectURI  string        `env:"HUBSPOT_REDIRECT_URI,required,notEmpty"`
	HubSpotScopes       []string      `env:"HUBSPOT_SCOPES" envSeparator:" " envDefault:"oauth crm.objects.contacts.read"`
	HubSpotAPIBaseURL   string        `env:"HUBSPOT_API_BASE_URL" envDefault:"https://api.hubapi.com"`
	HubSpotAuthURL      string        `env:"HUBSPOT_AUTH_URL" envDefault:"https://app.hubspot.com/oauth/authorize"`
	HubSpotTokenURL     string        `env:"HUBSPOT_TOKEN_URL" envDefault:"https://api.hubapi.com/oauth/v1/token"`
	HTTPClientTimeout   time.Duration `env:"HTTP_CLIENT_TIMEOUT" envDefault:"10s"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	TokenCacheTTL time.Duration `env:"TOKEN_CACHE_TTL" envDefault:"5m"`

	TelemetryEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TelemetryInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`

	DebugTokens bool `env:"DEBUG_TOKENS" envDefault:"false"`
}

// Load reads configuration from the environment, after merging a local .env
// file when one exists.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints the struct tags cannot express.
func (c *Config) Validate() error {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	c.StoreVariant = strings.ToLower(strings.TrimSpace(c.StoreVariant))

	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres driver")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q", DriverPostgres, DriverSQLite)
	}

	switch c.StoreVariant {
	case VariantBasic:
	case VariantMultiTenant:
		if c.StoreDriver != DriverPostgres {
			return fmt.Errorf("STORE_VARIANT %q requires the postgres driver", VariantMultiTenant)
		}
	default:
		return fmt.Errorf("STORE_VARIANT must be %q or %q", VariantBasic, VariantMultiTenant)
	}

	if c.SnowflakeNode < 0 || c.SnowflakeNode > 1023 {
		return fmt.Errorf("SNOWFLAKE_NODE must be between 0 and 1023")
	}
	return nil
}

// MultiTenant reports whether identity resolution is enabled.
func (c Config) MultiTenant() bool {
	return c.StoreVariant == VariantMultiTenant
}

// CacheEnabled reports whether a Redis token cache is configured.
func (c Config) CacheEnabled() bool {
	return strings.TrimSpace(c.RedisAddr) != ""
}
