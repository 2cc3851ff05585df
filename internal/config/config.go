package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Environment
	Env string // "development", "production", etc.

	// Server
	ServerAddr string
	BaseURL    string

	// CORS
	CORSOrigins string // Comma-separated allowed origins

	// Rate limiting
	RateLimitMax int // Requests per minute per IP, 0 disables the limiter

	// Store
	StoreBackend string // "file", "postgres" or "redis"
	DataFile     string // JSON document used by the file backend
	DatabaseURL  string
	RedisURL     string
	SeedOnEmpty  bool // Write the YAML seed requests when the store is created

	// SMTP
	SMTPEnabled  bool
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPFromName string
	SMTPTLS      string // "none", "starttls", "tls"

	// Notification dispatch
	EmailSendTimeout  time.Duration
	EmailMaxAttempts  int
	EmailRetryBackoff time.Duration
	EmailWorkers      int
	EmailQueueSize    int

	// Reminders
	ReminderInterval time.Duration // 0 disables the reminder job

	// Branding used in outbound mail
	SiteTitle string // env: SITE_TITLE, default: "Data Desk"
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Env:          getEnv("ENV", "development"),
		ServerAddr:   getEnv("SERVER_ADDR", ":3001"),
		BaseURL:      getEnv("BASE_URL", "http://localhost:5173"),
		CORSOrigins:  getEnv("CORS_ORIGINS", ""),
		RateLimitMax: getEnvInt("RATE_LIMIT_MAX", 100),

		StoreBackend: getEnv("STORE_BACKEND", "file"),
		DataFile:     getEnv("DATA_FILE", "database.json"),
		DatabaseURL:  getEnv("DATABASE_URL", "postgres://localhost:5432/datadesk?sslmode=disable"),
		RedisURL:     getEnv("REDIS_URL", ""),
		SeedOnEmpty:  getEnv("SEED_ON_EMPTY", "true") == "true",

		SMTPEnabled:  getEnv("SMTP_ENABLED", "") != "",
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnvInt("SMTP_PORT", 587),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),
		SMTPFromName: getEnv("SMTP_FROM_NAME", "Data Office"),
		SMTPTLS:      getEnv("SMTP_TLS", "starttls"),

		EmailSendTimeout:  getEnvDuration("EMAIL_SEND_TIMEOUT", 15*time.Second),
		EmailMaxAttempts:  getEnvInt("EMAIL_MAX_ATTEMPTS", 3),
		EmailRetryBackoff: getEnvDuration("EMAIL_RETRY_BACKOFF", 2*time.Second),
		EmailWorkers:      getEnvInt("EMAIL_WORKERS", 2),
		EmailQueueSize:    getEnvInt("EMAIL_QUEUE_SIZE", 100),

		ReminderInterval: getEnvDuration("REMINDER_INTERVAL", time.Hour),

		SiteTitle: getEnv("SITE_TITLE", "Data Desk"),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// IsDev returns true if the environment is set to development.
func (c *Config) IsDev() bool {
	return c.Env == "development" || c.Env == "dev"
}

// IsEmailEnabled returns true if SMTP is switched on and minimally configured.
func (c *Config) IsEmailEnabled() bool {
	return c.SMTPEnabled && c.SMTPHost != "" && c.SMTPFrom != ""
}
