package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint  string
	Observability ObservabilityConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis     RedisConfig
	RateLimit RateLimitConfig
	Gateway   GatewayConfig
	Credits   CreditsDefaults
	Email     EmailConfig
	WhatsApp  WhatsAppConfig
	Slack     SlackConfig
	Bootstrap BootstrapConfig
	Scheduler SchedulerConfig
}

// ObservabilityConfig carries logging and OpenTelemetry settings. Empty
// values fall back to the app-level settings.
type ObservabilityConfig struct {
	Environment   string
	Version       string
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OtelEndpoint  string
	OtelProtocol  string
	OtelSampling  float64
	TraceProtocol string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis endpoint is configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type RateLimitConfig struct {
	Enabled      bool
	WebhookRate  float64
	WebhookBurst int
	TenantRate   float64
	TenantBurst  int
}

// GatewayConfig configures the Mercado Pago checkout integration.
type GatewayConfig struct {
	Provider        string
	BaseURL         string
	AccessToken     string
	WebhookSecret   string
	NotificationURL string
	SuccessURL      string
	FailureURL      string
	PendingURL      string
	Timeout         time.Duration
}

// CreditsDefaults are fallback values used when no pricing row exists yet.
type CreditsDefaults struct {
	EmailUnitPrice    int64
	WhatsAppUnitPrice int64
	Currency          string
}

type EmailConfig struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
}

type WhatsAppConfig struct {
	BaseURL       string
	PhoneNumberID string
	AccessToken   string
	Timeout       time.Duration
}

type SlackConfig struct {
	WebhookURL string
	ChannelID  string
}

type BootstrapConfig struct {
	OperatorAPIKey string
}

type SchedulerConfig struct {
	Enabled     bool
	Interval    time.Duration
	BatchSize   int
	JobTimeout  time.Duration
	EnabledJobs []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "campaigncredit"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		Observability: ObservabilityConfig{
			Environment:   strings.TrimSpace(os.Getenv("DEPLOYMENT_ENV")),
			Version:       strings.TrimSpace(os.Getenv("SERVICE_VERSION")),
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:   getenvBool("OTEL_ENABLED", true),
			OtelEndpoint:  strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
			OtelProtocol:  strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			OtelSampling:  getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			TraceProtocol: strings.ToLower(strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL"))),
		},

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:      getenvBool("RATE_LIMIT_ENABLED", true),
			WebhookRate:  getenvFloat("RATE_LIMIT_WEBHOOK_RATE", 20),
			WebhookBurst: getenvInt("RATE_LIMIT_WEBHOOK_BURST", 40),
			TenantRate:   getenvFloat("RATE_LIMIT_TENANT_RATE", 10),
			TenantBurst:  getenvInt("RATE_LIMIT_TENANT_BURST", 20),
		},
		Gateway: GatewayConfig{
			Provider:        strings.ToLower(getenv("PAYMENT_GATEWAY", "mercadopago")),
			BaseURL:         strings.TrimRight(getenv("MERCADOPAGO_BASE_URL", "https://api.mercadopago.com"), "/"),
			AccessToken:     strings.TrimSpace(getenv("MERCADOPAGO_ACCESS_TOKEN", "")),
			WebhookSecret:   strings.TrimSpace(getenv("MERCADOPAGO_WEBHOOK_SECRET", "")),
			NotificationURL: strings.TrimSpace(getenv("MERCADOPAGO_NOTIFICATION_URL", "")),
			SuccessURL:      strings.TrimSpace(getenv("CHECKOUT_SUCCESS_URL", "")),
			FailureURL:      strings.TrimSpace(getenv("CHECKOUT_FAILURE_URL", "")),
			PendingURL:      strings.TrimSpace(getenv("CHECKOUT_PENDING_URL", "")),
			Timeout:         clampGatewayTimeout(getenvDuration("MERCADOPAGO_TIMEOUT", 15*time.Second)),
		},
		Credits: CreditsDefaults{
			EmailUnitPrice:    getenvInt64("CREDITS_DEFAULT_EMAIL_PRICE", 10),
			WhatsAppUnitPrice: getenvInt64("CREDITS_DEFAULT_WHATSAPP_PRICE", 50),
			Currency:          strings.ToUpper(getenv("CREDITS_CURRENCY", "MXN")),
		},
		Email: EmailConfig{
			SMTPHost:     getenv("SMTP_HOST", "localhost"),
			SMTPPort:     getenvInt("SMTP_PORT", 1025),
			SMTPUsername: getenv("SMTP_USERNAME", ""),
			SMTPPassword: getenv("SMTP_PASSWORD", ""),
			SMTPFrom:     getenv("SMTP_FROM", "no-reply@campaigncredit.local"),
		},
		WhatsApp: WhatsAppConfig{
			BaseURL:       strings.TrimRight(getenv("WHATSAPP_BASE_URL", "https://graph.facebook.com/v19.0"), "/"),
			PhoneNumberID: strings.TrimSpace(getenv("WHATSAPP_PHONE_NUMBER_ID", "")),
			AccessToken:   strings.TrimSpace(getenv("WHATSAPP_ACCESS_TOKEN", "")),
			Timeout:       getenvDuration("WHATSAPP_TIMEOUT", 10*time.Second),
		},
		Slack: SlackConfig{
			WebhookURL: strings.TrimSpace(getenv("SLACK_WEBHOOK_URL", "")),
			ChannelID:  strings.TrimSpace(getenv("SLACK_OPERATOR_CHANNEL", "")),
		},
		Bootstrap: BootstrapConfig{
			OperatorAPIKey: strings.TrimSpace(getenv("BOOTSTRAP_OPERATOR_API_KEY", "")),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", true),
			Interval:    getenvDuration("SCHEDULER_INTERVAL", time.Minute),
			BatchSize:   getenvInt("SCHEDULER_BATCH_SIZE", 100),
			JobTimeout:  getenvDuration("SCHEDULER_JOB_TIMEOUT", 30*time.Second),
			EnabledJobs: getenvList("SCHEDULER_JOBS"),
		},
	}

	return cfg
}

// IsProduction reports whether the service runs in production mode.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

const (
	minGatewayTimeout = 10 * time.Second
	maxGatewayTimeout = 30 * time.Second
)

func clampGatewayTimeout(d time.Duration) time.Duration {
	if d < minGatewayTimeout {
		return minGatewayTimeout
	}
	if d > maxGatewayTimeout {
		return maxGatewayTimeout
	}
	return d
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvList(key string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
