package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int
	DatabaseURL    string

	// Conversation state persistence
	StateBackend       string
	StateTTL           time.Duration
	DynamoStateTable   string
	StateLockTTL       time.Duration
	RedisAddr          string
	RedisPassword      string
	RedisTLS           bool
	TenantSettingsTTL  time.Duration
	TurnQueueURL       string
	TurnQueueWaitTime  time.Duration
	TurnQueueBatchSize int

	// Tool contract gateway
	ToolBackendURL       string
	ToolBackendJWTSecret string
	ToolTimeoutDefault   time.Duration
	ToolTimeoutPayment   time.Duration
	ToolRetryBackoff     time.Duration

	// Classification and routing thresholds
	Classifier                  string
	IntentRouteThreshold        float64
	IntentClarifyThreshold      float64
	LanguageConfidenceThreshold float64
	KBMinConfidence             float64
	BedrockModelID              string
	GeminiAPIKey                string
	GeminiModel                 string

	// Service auth
	ServiceJWTSecret  string
	TurnRatePerSecond float64
	TurnBurst         int

	// Tool audit archive
	AuditArchiveBucket string
	OperatorCLIConfig  string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Operator alerts
	OperatorAlertEmail string
	SESFromEmail       string
	SendGridAPIKey     string
	SendGridFromEmail  string
	SendGridFromName   string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 8),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		StateBackend:       strings.ToLower(strings.TrimSpace(getEnv("STATE_BACKEND", "redis"))),
		StateTTL:           getEnvAsDuration("STATE_TTL", 30*24*time.Hour),
		DynamoStateTable:   getEnv("DYNAMODB_STATE_TABLE", "conversation_state"),
		StateLockTTL:       getEnvAsDuration("STATE_LOCK_TTL", 60*time.Second),
		RedisAddr:          getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),
		TenantSettingsTTL:  getEnvAsDuration("TENANT_SETTINGS_TTL", 0),
		TurnQueueURL:       getEnv("TURN_QUEUE_URL", ""),
		TurnQueueWaitTime:  getEnvAsDuration("TURN_QUEUE_WAIT", 20*time.Second),
		TurnQueueBatchSize: getEnvAsInt("TURN_QUEUE_BATCH", 10),

		ToolBackendURL:       getEnv("TOOL_BACKEND_URL", ""),
		ToolBackendJWTSecret: getEnv("TOOL_BACKEND_JWT_SECRET", ""),
		ToolTimeoutDefault:   getEnvAsDuration("TOOL_TIMEOUT_DEFAULT", 4*time.Second),
		ToolTimeoutPayment:   getEnvAsDuration("TOOL_TIMEOUT_PAYMENT", 15*time.Second),
		ToolRetryBackoff:     getEnvAsDuration("TOOL_RETRY_BACKOFF", 250*time.Millisecond),

		Classifier:                  strings.ToLower(strings.TrimSpace(getEnv("CLASSIFIER", "rules"))),
		IntentRouteThreshold:        getEnvAsFloat("INTENT_ROUTE_THRESHOLD", 0.70),
		IntentClarifyThreshold:      getEnvAsFloat("INTENT_CLARIFY_THRESHOLD", 0.50),
		LanguageConfidenceThreshold: getEnvAsFloat("LANGUAGE_CONFIDENCE_THRESHOLD", 0.75),
		KBMinConfidence:             getEnvAsFloat("KB_MIN_CONFIDENCE", 0.55),
		BedrockModelID:              getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:                getEnv("GEMINI_API_KEY", ""),
		GeminiModel:                 getEnv("GEMINI_MODEL", "gemini-2.0-flash"),

		ServiceJWTSecret:  getEnv("SERVICE_JWT_SECRET", ""),
		TurnRatePerSecond: getEnvAsRate("TURN_RATE_PER_SECOND", 5),
		TurnBurst:         getEnvAsInt("TURN_BURST", 20),

		AuditArchiveBucket: getEnv("AUDIT_ARCHIVE_BUCKET", ""),
		OperatorCLIConfig:  getEnv("OPERATOR_CLI_CONFIG", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		OperatorAlertEmail: getEnv("OPERATOR_ALERT_EMAIL", ""),
		SESFromEmail:       getEnv("SES_FROM_EMAIL", ""),
		SendGridAPIKey:     getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail:  getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:   getEnv("SENDGRID_FROM_NAME", "Commerce Concierge"),
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

// getEnvAsFloat accepts only values in [0, 1]; anything else falls back to the default.
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil || value < 0 || value > 1 {
		return defaultValue
	}
	return value
}

func getEnvAsRate(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil || value < 0 {
		return defaultValue
	}
	return value
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
