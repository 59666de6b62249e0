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

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// Auth
	JWTSecret      string
	AccessTokenTTL time.Duration
	SessionTTL     time.Duration

	// Presence
	PresenceSweepInterval time.Duration

	// Auth endpoints rate limit per client IP
	AuthRateLimit  int
	AuthRateWindow time.Duration

	// Account notice delivery
	NoticeWorkers int

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
		Port:                  getEnvOrDefault("PORT", "8080"),
		Env:                   getEnvOrDefault("ENV", "development"),
		DatabaseURL:           mustGetEnv("DATABASE_URL"),
		RedisURL:              mustGetEnv("REDIS_URL"),
		JWTSecret:             mustGetEnv("JWT_SECRET"),
		AccessTokenTTL:        getEnvAsMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		SessionTTL:            getEnvAsMinutesOrDefault("SESSION_TTL_MINUTES", 30),
		PresenceSweepInterval: time.Duration(getEnvAsIntOrDefault("PRESENCE_SWEEP_SECONDS", 15)) * time.Second,
		AuthRateLimit:         getEnvAsIntOrDefault("AUTH_RATE_LIMIT", 10),
		AuthRateWindow:        time.Minute,
		NoticeWorkers:         getEnvAsIntOrDefault("NOTICE_WORKERS", 2),
		SMTPHost:              getEnvOrDefault("SMTP_HOST", ""),
		SMTPPort:              getEnvOrDefault("SMTP_PORT", "587"),
		SMTPUser:              getEnvOrDefault("SMTP_USER", ""),
		SMTPPass:              getEnvOrDefault("SMTP_PASS", ""),
		SMTPFrom:              getEnvOrDefault("SMTP_FROM", "noreply@collabo.app"),
		FrontendURL:           getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

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

func getEnvAsMinutesOrDefault(key string, defaultMinutes int) time.Duration {
	n := getEnvAsIntOrDefault(key, defaultMinutes)
	if n <= 0 {
		n = defaultMinutes
	}
	return time.Duration(n) * time.Minute
}
