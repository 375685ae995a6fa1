package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Realtime change feed: "postgres" (LISTEN/NOTIFY) or "redis" (pub/sub).
	RealtimeBackend     string
	RefreshDebounce     time.Duration
	UnreadLookupTimeout time.Duration
	UnreadConcurrency   int

	// Channel registry overrides; the built-in registry is used when both are empty.
	ChannelsJSON        string
	ChannelsFile        string
	DefaultChannelTable string

	WhatsAppWebhookSecret string

	GatewayBaseURL    string
	GatewayAPIKey     string
	GatewayMaxRetries int
	GatewayTimeout    time.Duration

	DashboardJWTSecret string
	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real env vars win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		RealtimeBackend:     strings.ToLower(strings.TrimSpace(getEnv("REALTIME_BACKEND", "postgres"))),
		RefreshDebounce:     getEnvAsDuration("REFRESH_DEBOUNCE", 500*time.Millisecond),
		UnreadLookupTimeout: getEnvAsDuration("UNREAD_LOOKUP_TIMEOUT", 3*time.Second),
		UnreadConcurrency:   getEnvAsInt("UNREAD_CONCURRENCY", 8),

		ChannelsJSON:        getEnv("CHANNELS_JSON", ""),
		ChannelsFile:        getEnv("CHANNELS_FILE", ""),
		DefaultChannelTable: getEnv("DEFAULT_CHANNEL_TABLE", ""),

		WhatsAppWebhookSecret: getEnv("WHATSAPP_WEBHOOK_SECRET", ""),

		GatewayBaseURL:    getEnv("GATEWAY_BASE_URL", ""),
		GatewayAPIKey:     getEnv("GATEWAY_API_KEY", ""),
		GatewayMaxRetries: getEnvAsInt("GATEWAY_MAX_RETRIES", 2),
		GatewayTimeout:    getEnvAsDuration("GATEWAY_TIMEOUT", 10*time.Second),

		DashboardJWTSecret: getEnv("DASHBOARD_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
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

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
