// Package config loads service configuration from environment variables.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// GateConfig is one admission gate tier.
type GateConfig struct {
	Limit         int
	WindowSeconds int
}

// Config holds everything the service reads from the environment.
type Config struct {
	Port       string
	DBDSN      string
	RedisURL   string
	AMQPURL    string
	GeminiKey  string
	StorageDir string

	CacheTTLHours int
	MinTextLength int

	// Gate tiers: Default guards read endpoints, Strict guards uploads and
	// cache admin, AI guards anything that can reach the scoring backend.
	DefaultGate GateConfig
	StrictGate  GateConfig
	AIGate      GateConfig
}

// Load reads configuration, picking up a local .env file when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:       getEnv("PORT", "8080"),
		DBDSN:      getEnv("DB_DSN", ""),
		RedisURL:   getEnv("REDIS_URL", "redis://localhost:6379/0"),
		AMQPURL:    getEnv("AMQP_URL", ""),
		GeminiKey:  getEnv("GEMINI_API_KEY", ""),
		StorageDir: getEnv("STORAGE_DIR", "./uploads"),

		CacheTTLHours: getEnvAsInt("CACHE_TTL_HOURS", 24),
		MinTextLength: getEnvAsInt("MIN_TEXT_LENGTH", 50),

		DefaultGate: GateConfig{
			Limit:         getEnvAsInt("RATE_DEFAULT_LIMIT", 60),
			WindowSeconds: getEnvAsInt("RATE_DEFAULT_WINDOW", 60),
		},
		StrictGate: GateConfig{
			Limit:         getEnvAsInt("RATE_STRICT_LIMIT", 10),
			WindowSeconds: getEnvAsInt("RATE_STRICT_WINDOW", 60),
		},
		AIGate: GateConfig{
			Limit:         getEnvAsInt("RATE_AI_LIMIT", 20),
			WindowSeconds: getEnvAsInt("RATE_AI_WINDOW", 3600),
		},
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
