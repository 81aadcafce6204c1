package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all process configuration, resolved once at startup.
// Secrets come from the environment and are never embedded in source.
type Config struct {
	Port     string
	DataPath string

	// Mail transport credentials.
	SMTPHost       string
	SMTPPort       int
	SenderEmail    string
	SenderPassword string

	// Chat collaborator.
	GroqAPIKey string
	ChatModel  string
	ChatURL    string
}

// Load reads configuration from the environment, with an optional .env
// file for local development.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env file")
	}

	cfg := Config{
		Port:           getEnvOrDefault("PORT", "8080"),
		DataPath:       getEnvOrDefault("DATA_PATH", "Student Performance Sample.csv"),
		SMTPHost:       getEnvOrDefault("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:       getEnvIntOrDefault("SMTP_PORT", 587),
		SenderEmail:    os.Getenv("SENDER_EMAIL"),
		SenderPassword: os.Getenv("SENDER_PASSWORD"),
		GroqAPIKey:     os.Getenv("GROQ_API_KEY"),
		ChatModel:      getEnvOrDefault("CHAT_MODEL", "llama3-8b-8192"),
		ChatURL:        getEnvOrDefault("CHAT_URL", "https://api.groq.com/openai/v1/chat/completions"),
	}

	return cfg
}

// SMTPAddr returns the mail transport host:port.
func (c Config) SMTPAddr() string {
	return fmt.Sprintf("%s:%d", c.SMTPHost, c.SMTPPort)
}

// MailConfigured reports whether mail credentials are present.
func (c Config) MailConfigured() bool {
	return c.SenderEmail != "" && c.SenderPassword != ""
}

// ChatConfigured reports whether the chat collaborator key is present.
func (c Config) ChatConfigured() bool {
	return c.GroqAPIKey != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		slog.Warn("invalid integer in environment, using default", "key", key, "default", defaultValue)
	}
	return defaultValue
}
