package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port            string   `mapstructure:"PORT"`
	Env             string   `mapstructure:"ENV"`
	DatabaseURL     string   `mapstructure:"DATABASE_URL"`
	DBMaxConns      int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL        string   `mapstructure:"REDIS_URL"`
	SequenceBackend string   `mapstructure:"SEQUENCE_BACKEND"`
	InvoiceIDScheme string   `mapstructure:"INVOICE_ID_SCHEME"`
	BillingTaxRate  string   `mapstructure:"BILLING_TAX_RATE"`
	BillingDueDays  int      `mapstructure:"BILLING_DUE_DAYS"`
	JWTSecret       string   `mapstructure:"JWT_SECRET"`
	AuthIssuer      string   `mapstructure:"AUTH_ISSUER"`
	LogLevel        string   `mapstructure:"LOG_LEVEL"`
	LogFile         string   `mapstructure:"LOG_FILE"`
	MigrationsDir   string   `mapstructure:"MIGRATIONS_DIR"`
	CORSOrigins     []string `mapstructure:"CORS_ORIGINS"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"SEQUENCE_BACKEND", "INVOICE_ID_SCHEME", "BILLING_TAX_RATE", "BILLING_DUE_DAYS",
	"JWT_SECRET", "AUTH_ISSUER", "LOG_LEVEL", "LOG_FILE", "MIGRATIONS_DIR", "CORS_ORIGINS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SEQUENCE_BACKEND", "postgres")
	v.SetDefault("INVOICE_ID_SCHEME", "yearly")
	v.SetDefault("BILLING_TAX_RATE", "0.18")
	v.SetDefault("BILLING_DUE_DAYS", 7)
	v.SetDefault("AUTH_ISSUER", "clinic")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("MIGRATIONS_DIR", "./migrations")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// TaxRate parses BILLING_TAX_RATE. Validate guarantees it is well formed.
func (c *Config) TaxRate() decimal.Decimal {
	rate, err := decimal.NewFromString(c.BillingTaxRate)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

// Validate checks that the configuration is safe to run. Outside development
// a JWT secret is mandatory; the redis sequence backend needs REDIS_URL.
// Production refuses the memory sequence backend, whose counters restart at
// zero and would mint duplicate identifiers.
func (c *Config) Validate() error {
	switch c.SequenceBackend {
	case "postgres", "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SEQUENCE_BACKEND is \"redis\"")
		}
	default:
		return fmt.Errorf("SEQUENCE_BACKEND must be \"postgres\", \"redis\", or \"memory\", got %q", c.SequenceBackend)
	}

	if c.IsProduction() && c.SequenceBackend == "memory" {
		return fmt.Errorf("SEQUENCE_BACKEND \"memory\" is not allowed in production")
	}

	if c.InvoiceIDScheme != "yearly" && c.InvoiceIDScheme != "monthly" {
		return fmt.Errorf("INVOICE_ID_SCHEME must be \"yearly\" or \"monthly\", got %q", c.InvoiceIDScheme)
	}

	rate, err := decimal.NewFromString(c.BillingTaxRate)
	if err != nil {
		return fmt.Errorf("BILLING_TAX_RATE is not a number: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("BILLING_TAX_RATE must be between 0 and 1, got %s", rate)
	}
	if c.BillingDueDays < 0 {
		return fmt.Errorf("BILLING_DUE_DAYS must not be negative, got %d", c.BillingDueDays)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	if !c.IsDev() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes outside development (ENV=%q)", c.Env)
	}

	return nil
}
