package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database. Empty runs on the in-memory store.
	DatabaseURL  string
	StoreTimeout time.Duration

	// Redis. Empty keeps locks, sessions, the worker queue and the feed in process.
	RedisURL string

	// Auth
	JWTSecret       string
	TeacherPassword string

	// Gemini AI (advisor)
	GeminiAPIKey         string
	GeminiModel          string
	GeminiConcurrentReqs int

	// Image generator
	FalKey      string
	FalEndpoint string

	// Interaction aggregation
	PlotMergeWindow    time.Duration
	APICallMergeWindow time.Duration

	// Workers and sessions
	WorkerCount int
	SessionTTL  time.Duration

	// SMTP
	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "8080"),
		Env:                  getEnvOrDefault("ENV", "development"),
		DatabaseURL:          getEnvOrDefault("DATABASE_URL", ""),
		StoreTimeout:         getEnvAsDurationOrDefault("STORE_TIMEOUT", 3*time.Second),
		RedisURL:             getEnvOrDefault("REDIS_URL", ""),
		JWTSecret:            mustGetEnv("JWT_SECRET"),
		TeacherPassword:      mustGetEnv("TEACHER_PASSWORD"),
		GeminiAPIKey:         getEnvOrDefault("GEMINI_API_KEY", ""),
		GeminiModel:          getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		FalKey:               getEnvOrDefault("FAL_KEY", ""),
		FalEndpoint:          getEnvOrDefault("FAL_ENDPOINT", "https://fal.run/fal-ai/nano-banana"),
		PlotMergeWindow:      getEnvAsDurationOrDefault("PLOT_MERGE_WINDOW", 30*time.Second),
		APICallMergeWindow:   getEnvAsDurationOrDefault("APICALL_MERGE_WINDOW", 5*time.Second),
		WorkerCount:          getEnvAsIntOrDefault("WORKER_COUNT", 3),
		SessionTTL:           getEnvAsDurationOrDefault("SESSION_TTL", 12*time.Hour),
		SMTPHost:             getEnvOrDefault("SMTP_HOST", ""),
		SMTPPort:             getEnvOrDefault("SMTP_PORT", "587"),
		SMTPUser:             getEnvOrDefault("SMTP_USER", ""),
		SMTPPass:             getEnvOrDefault("SMTP_PASS", ""),
		SMTPFrom:             getEnvOrDefault("SMTP_FROM", "letters@inkwell.app"),
		FrontendURL:          getEnvOrDefault("FRONTEND_URL", "http://localhost:3000"),
	}

	return cfg
}

// LoadDatabaseURL is used by the admin CLI, which only needs the database.
func LoadDatabaseURL() string {
	godotenv.Load()
	return getEnvOrDefault("DATABASE_URL", "")
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
