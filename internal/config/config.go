package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string
	PostgresDSN string
	TokenSecret string // signs session and invitation tokens
	BaseURL     string // used to build invite acceptance links
	Environment string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string
}

// Load reads configuration from the environment, with an optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	return &Config{
		Addr:         getEnv("DOCTRAIL_ADDR", ":8080"),
		PostgresDSN:  getEnv("DOCTRAIL_PG_DSN", ""),
		TokenSecret:  getEnv("DOCTRAIL_TOKEN_SECRET", ""),
		BaseURL:      getEnv("DOCTRAIL_BASE_URL", "http://localhost:8080"),
		Environment:  getEnv("DOCTRAIL_ENV", "development"),
		SMTPHost:     getEnv("DOCTRAIL_SMTP_HOST", ""),
		SMTPPort:     getEnvInt("DOCTRAIL_SMTP_PORT", 587),
		SMTPUsername: getEnv("DOCTRAIL_SMTP_USERNAME", ""),
		SMTPPassword: getEnv("DOCTRAIL_SMTP_PASSWORD", ""),
		MailFrom:     getEnv("DOCTRAIL_MAIL_FROM", "no-reply@doctrail.org"),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
