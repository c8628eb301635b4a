package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database: postgres://... or sqlite://path
	DatabaseURL string

	// Redis (optional; speech cache and cross-instance events)
	RedisURL string

	// Text generation
	TextProvider         string
	GeminiAPIKey         string
	GeminiModel          string
	GeminiConcurrentReqs int

	// OpenAI: speech always, text when TextProvider is "openai"
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	// Oracle policy
	OracleTimeout     time.Duration
	OracleMaxAttempts int

	ChatRequestsPerMin int

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "8080"),
		Env:                  getEnvOrDefault("ENV", "development"),
		DatabaseURL:          mustGetEnv("DATABASE_URL"),
		RedisURL:             getEnvOrDefault("REDIS_URL", ""),
		TextProvider:         getEnvOrDefault("TEXT_PROVIDER", ProviderGemini),
		GeminiModel:          getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		OpenAIAPIKey:         mustGetEnv("OPENAI_API_KEY"),
		OpenAIBaseURL:        getEnvOrDefault("OPENAI_BASE_URL", ""),
		OpenAIModel:          getEnvOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		OracleTimeout:        getEnvAsDurationOrDefault("ORACLE_TIMEOUT", 30*time.Second),
		OracleMaxAttempts:    getEnvAsIntOrDefault("ORACLE_MAX_ATTEMPTS", 2),
		ChatRequestsPerMin:   getEnvAsIntOrDefault("CHAT_REQUESTS_PER_MINUTE", 30),
		FrontendURL:          getEnvOrDefault("FRONTEND_URL", "http://localhost:3000"),
	}

	switch cfg.TextProvider {
	case ProviderGemini:
		cfg.GeminiAPIKey = mustGetEnv("GEMINI_API_KEY")
	case ProviderOpenAI:
	default:
		panic(fmt.Sprintf("unknown TEXT_PROVIDER %q (want %q or %q)", cfg.TextProvider, ProviderGemini, ProviderOpenAI))
	}

	return cfg
}

// IsDevelopment reports whether verbose store logging should be on.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
