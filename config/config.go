package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

var (
	PORT        string
	DB_URL      string
	JWT_SECRET  string
	CORS_ORIGIN string
	LOG_LEVEL   string

	STRIPE_SECRET_KEY     string
	STRIPE_WEBHOOK_SECRET string
	GATEWAY_TIMEOUT       time.Duration

	TIMEZONE      string
	DEADLINE_CRON string
	BILLING_CRON  string

	RENDERER_URL     string
	RENDERER_TOKEN   string
	RENDERER_TIMEOUT time.Duration

	ASSET_BUCKET string

	MAILJET_PUBLIC_KEY  string
	MAILJET_PRIVATE_KEY string
	NOTIFY_SENDER       string
)

func LoadEnv() {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found. Using system environment variables.")
	}

	PORT = getEnv("PORT", "8080")
	DB_URL = mustEnv("DB_URL")
	JWT_SECRET = mustEnv("JWT_SECRET")
	CORS_ORIGIN = getEnv("CORS_ORIGIN", "http://localhost:5173")
	LOG_LEVEL = getEnv("LOG_LEVEL", "info")

	STRIPE_SECRET_KEY = mustEnv("STRIPE_SECRET_KEY")
	STRIPE_WEBHOOK_SECRET = getEnv("STRIPE_WEBHOOK_SECRET", "")
	GATEWAY_TIMEOUT = getDuration("GATEWAY_TIMEOUT", 10*time.Second)

	TIMEZONE = getEnv("TIMEZONE", "Asia/Seoul")
	DEADLINE_CRON = getEnv("DEADLINE_CRON", "0 1 * * *")
	BILLING_CRON = getEnv("BILLING_CRON", "5 0 * * *")

	RENDERER_URL = mustEnv("RENDERER_URL")
	RENDERER_TOKEN = getEnv("RENDERER_TOKEN", "")
	RENDERER_TIMEOUT = getDuration("RENDERER_TIMEOUT", 15*time.Second)

	ASSET_BUCKET = mustEnv("ASSET_BUCKET")

	// Without mailjet keys notifications are only logged.
	MAILJET_PUBLIC_KEY = getEnv("MAILJET_PUBLIC_KEY", "")
	MAILJET_PRIVATE_KEY = getEnv("MAILJET_PRIVATE_KEY", "")
	NOTIFY_SENDER = getEnv("NOTIFY_SENDER", "news@familybook.app")
}

func mustEnv(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("Missing required environment variable: %s", key)
	}
	return v
}

func getEnv(key string, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// plain integers are seconds
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Printf("Invalid duration for %s=%q, using %s", key, v, fallback)
	return fallback
}
