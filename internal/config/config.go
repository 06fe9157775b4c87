package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mansoorceksport/paywall/internal/domain"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	MongoDB  MongoDBConfig
	Redis    RedisConfig
	Firebase FirebaseConfig
	Billing  BillingConfig
	Pricing  PricingConfig
	Email    EmailConfig
	Debug    DebugConfig
	OTEL     OTELConfig
	Log      LogConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	AllowedOrigins  string
	IdempotencyTTL  time.Duration
	ShutdownTimeout time.Duration
}

// MongoDBConfig holds MongoDB connection configuration
type MongoDBConfig struct {
	URI      string
	Database string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
}

// FirebaseConfig holds Firebase Admin SDK configuration
type FirebaseConfig struct {
	ProjectID   string
	PrivateKey  string // Base64 encoded
	ClientEmail string
}

// BillingConfig selects the simulator or Paddle and holds Paddle credentials
type BillingConfig struct {
	SimulatorEnabled    bool
	PaddleAPIKey        string
	PaddleWebhookSecret string
	PaddleEnvironment   string // sandbox or production
	PriceIDMonthly      string
	PriceIDAnnual       string
	PortalReturnURL     string
}

// PricingConfig holds plan prices as decimal amounts
type PricingConfig struct {
	MonthlyOriginal   float64
	MonthlyDiscounted float64
	AnnualOriginal    float64
	AnnualDiscounted  float64
}

// EmailConfig holds Postmark configuration
type EmailConfig struct {
	PostmarkServerToken  string
	PostmarkAccountToken string
	From                 string
	ReplyTo              string
	ProductName          string
}

// DebugConfig holds settings for the simulator tooling endpoints
type DebugConfig struct {
	JWTSecret string
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	Enabled      bool
	ServiceName  string
	Version      string
	Environment  string
	OTLPEndpoint string
	OTLPHeaders  map[string]string
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level       string
	Development bool
}

// Load reads configuration from environment variables
// It attempts to load from .env file first, then falls back to system env vars
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			AllowedOrigins:  getEnv("CORS_ALLOWED_ORIGINS", "*"),
			IdempotencyTTL:  time.Duration(getEnvAsInt64("IDEMPOTENCY_TTL_SECONDS", 86400)) * time.Second,
			ShutdownTimeout: time.Duration(getEnvAsInt64("SHUTDOWN_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      getEnv("MONGODB_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGODB_DATABASE", "paywall"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		Firebase: FirebaseConfig{
			ProjectID:   getEnv("FIREBASE_PROJECT_ID", ""),
			PrivateKey:  getEnv("FIREBASE_PRIVATE_KEY", ""),
			ClientEmail: getEnv("FIREBASE_CLIENT_EMAIL", ""),
		},
		Billing: BillingConfig{
			SimulatorEnabled:    getEnvAsBool("BILLING_SIMULATOR_ENABLED", true),
			PaddleAPIKey:        getEnv("PADDLE_API_KEY", ""),
			PaddleWebhookSecret: getEnv("PADDLE_WEBHOOK_SECRET", ""),
			PaddleEnvironment:   getEnv("PADDLE_ENVIRONMENT", "sandbox"),
			PriceIDMonthly:      getEnv("PADDLE_PRICE_ID_MONTHLY", ""),
			PriceIDAnnual:       getEnv("PADDLE_PRICE_ID_ANNUAL", ""),
			PortalReturnURL:     getEnv("BILLING_PORTAL_RETURN_URL", "http://localhost:3000/account"),
		},
		Pricing: PricingConfig{
			MonthlyOriginal:   getEnvAsFloat("PRICE_MONTHLY", 9.99),
			MonthlyDiscounted: getEnvAsFloat("PRICE_MONTHLY_DISCOUNTED", 6.99),
			AnnualOriginal:    getEnvAsFloat("PRICE_ANNUAL", 99.99),
			AnnualDiscounted:  getEnvAsFloat("PRICE_ANNUAL_DISCOUNTED", 69.99),
		},
		Email: EmailConfig{
			PostmarkServerToken:  getEnv("POSTMARK_SERVER_TOKEN", ""),
			PostmarkAccountToken: getEnv("POSTMARK_ACCOUNT_TOKEN", ""),
			From:                 getEnv("EMAIL_FROM", ""),
			ReplyTo:              getEnv("EMAIL_REPLY_TO", ""),
			ProductName:          getEnv("PRODUCT_NAME", "Paywall"),
		},
		Debug: DebugConfig{
			JWTSecret: getEnv("DEBUG_JWT_SECRET", ""),
		},
		OTEL: OTELConfig{
			Enabled:      getEnvAsBool("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "paywall-api"),
			Version:      getEnv("SERVICE_VERSION", "dev"),
			Environment:  getEnv("ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPHeaders:  parseHeaders(getEnv("OTEL_EXPORTER_OTLP_HEADERS", "")),
		},
		Log: LogConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.Firebase.ProjectID == "" {
		return fmt.Errorf("FIREBASE_PROJECT_ID is required")
	}
	if c.Firebase.PrivateKey == "" {
		return fmt.Errorf("FIREBASE_PRIVATE_KEY is required")
	}
	if c.Firebase.ClientEmail == "" {
		return fmt.Errorf("FIREBASE_CLIENT_EMAIL is required")
	}
	if !c.Billing.SimulatorEnabled {
		if c.Billing.PaddleAPIKey == "" {
			return fmt.Errorf("PADDLE_API_KEY is required when the billing simulator is disabled")
		}
		if c.Billing.PaddleWebhookSecret == "" {
			return fmt.Errorf("PADDLE_WEBHOOK_SECRET is required when the billing simulator is disabled")
		}
		if c.Billing.PriceIDMonthly == "" || c.Billing.PriceIDAnnual == "" {
			return fmt.Errorf("PADDLE_PRICE_ID_MONTHLY and PADDLE_PRICE_ID_ANNUAL are required when the billing simulator is disabled")
		}
	}
	if err := c.PriceTable().Validate(); err != nil {
		return fmt.Errorf("invalid pricing: %w", err)
	}
	if c.Email.PostmarkServerToken != "" && c.Email.From == "" {
		return fmt.Errorf("EMAIL_FROM is required when POSTMARK_SERVER_TOKEN is set")
	}
	if c.OTEL.Enabled && c.OTEL.OTLPEndpoint == "" {
		return fmt.Errorf("OTEL_EXPORTER_OTLP_ENDPOINT is required when OTEL_ENABLED is true")
	}
	return nil
}

// PriceTable builds the plan price table from the configured amounts
func (c *Config) PriceTable() domain.PriceTable {
	return domain.NewPriceTable(
		domain.PlanPricing{
			Original:   domain.MoneyFromFloat(c.Pricing.MonthlyOriginal),
			Discounted: domain.MoneyFromFloat(c.Pricing.MonthlyDiscounted),
		},
		domain.PlanPricing{
			Original:   domain.MoneyFromFloat(c.Pricing.AnnualOriginal),
			Discounted: domain.MoneyFromFloat(c.Pricing.AnnualDiscounted),
		},
	)
}

// PriceIDs maps plans to their Paddle price ids
func (b BillingConfig) PriceIDs() map[domain.Plan]string {
	return map[domain.Plan]string{
		domain.PlanMonthly: b.PriceIDMonthly,
		domain.PlanAnnual:  b.PriceIDAnnual,
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt64 retrieves an environment variable as int64 or returns a default value
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// parseHeaders parses "k1=v1,k2=v2" as used by OTEL_EXPORTER_OTLP_HEADERS
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if k = strings.TrimSpace(k); k != "" {
			headers[k] = strings.TrimSpace(v)
		}
	}
	return headers
}
