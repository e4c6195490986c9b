package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	JWTSecret          string
	CORSAllowedOrigins []string

	// Transcript storage
	HistoryBackend string // memory, redis, postgres, sqlite
	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	DatabaseURL    string
	SQLitePath     string

	// Language-understanding provider
	LLMProvider         string // gemini, bedrock
	GeminiAPIKey        string
	GeminiModelID       string
	BedrockModelID      string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	FallbackLLMBaseURL  string
	FallbackLLMAPIKey   string
	FallbackLLMModel    string
	ClassifierTimeout   time.Duration

	// Appointment provider
	BookingProvider    string // memory, gbooking
	BackendTimeout     time.Duration
	GBookingURL        string
	GBookingCracURL    string
	GBookingUser       string
	GBookingToken      string
	GBookingBusinessID string

	// Appointment events
	NATSURL           string
	NATSSubjectPrefix string

	// Per-user chat rate limiting
	ChatRatePerSecond float64
	ChatRateBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),

		HistoryBackend: strings.ToLower(strings.TrimSpace(getEnv("HISTORY_BACKEND", "memory"))),
		RedisAddr:      getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		SQLitePath:     getEnv("SQLITE_PATH", "data/patientpal.db"),

		LLMProvider:         strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "gemini"))),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:       getEnv("GEMINI_MODEL_ID", "gemini-2.0-flash"),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		FallbackLLMBaseURL:  getEnv("FALLBACK_LLM_BASE_URL", ""),
		FallbackLLMAPIKey:   getEnv("FALLBACK_LLM_API_KEY", ""),
		FallbackLLMModel:    getEnv("FALLBACK_LLM_MODEL", ""),
		ClassifierTimeout:   getEnvAsDuration("CLASSIFIER_TIMEOUT", 20*time.Second),

		BookingProvider:    strings.ToLower(strings.TrimSpace(getEnv("BOOKING_PROVIDER", "memory"))),
		BackendTimeout:     getEnvAsDuration("BACKEND_TIMEOUT", 10*time.Second),
		GBookingURL:        getEnv("GBOOKING_URL", "https://api.gbooking.net/json/"),
		GBookingCracURL:    getEnv("GBOOKING_CRAC_URL", "https://crac-prod3.gbooking.ru/rpc"),
		GBookingUser:       getEnv("GBOOKING_USER", ""),
		GBookingToken:      getEnv("GBOOKING_TOKEN", ""),
		GBookingBusinessID: getEnv("GBOOKING_BUSINESS_ID", ""),

		NATSURL:           getEnv("NATS_URL", ""),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "patientpal"),

		ChatRatePerSecond: getEnvAsFloat("CHAT_RATE_PER_SECOND", 1),
		ChatRateBurst:     getEnvAsInt("CHAT_RATE_BURST", 5),
	}
}

// IsProduction reports whether the service runs with ENV=production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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

// getEnvAsList splits a comma-separated variable, dropping empty entries.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
