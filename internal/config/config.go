package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	BrandName     string
	SupportPhone  string
	CodePrefix    string

	DatabaseURL    string
	DBMaxConns     int
	UseMemoryStore bool

	RedisAddr        string
	RedisPassword    string
	RedisTLS         bool
	SettingsCacheTTL time.Duration
	// Comma-separated key=value business settings used with the memory store.
	DevSettings      string

	// Business-local zone used to build calendar days and hourly slots.
	BusinessTimezone string

	EscalationInterval  time.Duration
	EscalationBatchSize int
	SweepToken          string

	ResponseRateLimit  int
	ResponseRateWindow time.Duration

	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioFromNumber    string
	TwilioValidateHooks bool

	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	NotifyQueueURL      string
	NotifyWorkerCount   int
	NotifyMaxReceives   int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		BrandName:     getEnv("BRAND_NAME", "Rejuvenators Mobile Massage"),
		SupportPhone:  getEnv("SUPPORT_PHONE", "1300 302542"),
		CodePrefix:    getEnv("BOOKING_CODE_PREFIX", "RMM"),

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DBMaxConns:     getEnvAsInt("DB_MAX_CONNS", 10),
		UseMemoryStore: getEnvAsBool("USE_MEMORY_STORE", false),

		RedisAddr:        getEnv("REDIS_ADDR", ""),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisTLS:         getEnvAsBool("REDIS_TLS", false),
		SettingsCacheTTL: getEnvAsDuration("SETTINGS_CACHE_TTL", time.Minute),
		DevSettings:      getEnv("DEV_SETTINGS", ""),

		BusinessTimezone: getEnv("BUSINESS_TIMEZONE", "Australia/Sydney"),

		EscalationInterval:  getEnvAsDuration("ESCALATION_INTERVAL", 5*time.Minute),
		EscalationBatchSize: getEnvAsInt("ESCALATION_BATCH_SIZE", 100),
		SweepToken:          getEnv("SWEEP_TOKEN", ""),

		ResponseRateLimit:  getEnvAsInt("RESPONSE_RATE_LIMIT", 30),
		ResponseRateWindow: getEnvAsDuration("RESPONSE_RATE_WINDOW", time.Minute),

		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:    getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioValidateHooks: getEnvAsBool("TWILIO_VALIDATE_WEBHOOKS", true),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Rejuvenators Mobile Massage"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),

		AWSRegion:           getEnv("AWS_REGION", "ap-southeast-2"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		NotifyQueueURL:      getEnv("NOTIFY_QUEUE_URL", ""),
		NotifyWorkerCount:   getEnvAsInt("NOTIFY_WORKER_COUNT", 2),
		NotifyMaxReceives:   getEnvAsInt("NOTIFY_MAX_RECEIVES", 5),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
