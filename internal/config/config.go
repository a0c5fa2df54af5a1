package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all environment configuration values for the chat
// client. These values are loaded from a .env file at startup.
type Config struct {
	// APIURL is the base URL of the chat backend REST API
	APIURL string

	// WSURL is the base URL of the WebSocket gateway (ws:// or wss://)
	WSURL string

	// NATSURL, when set, selects the NATS transport instead of the
	// WebSocket gateway
	NATSURL string

	// Token is the opaque auth token appended to the transport
	// handshake; retrieval and refresh live outside this client
	Token string

	// UserID identifies the local user
	UserID string

	// UserEmail is the local user's display label
	UserEmail string

	// PageSize is the history page size
	PageSize int

	// HTTPTimeout bounds every REST call
	HTTPTimeout time.Duration

	// TypingExpiry is the quiescence window for other users' typing
	TypingExpiry time.Duration

	// TypingStopDelay is the local inactivity window before a
	// stop-typing publish
	TypingStopDelay time.Duration
}

// Load reads environment variables and returns a populated Config.
// It will load from a .env file if present, then read from environment
// variables. Falls back to sensible defaults if values are not set.
func Load() *Config {
	// Attempt to load .env file - not an error if it doesn't exist
	// as we may be running with real environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		APIURL:          getEnv("CHAT_API_URL", "http://localhost:8086"),
		WSURL:           getEnv("CHAT_WS_URL", "ws://localhost:8086"),
		NATSURL:         getEnv("CHAT_NATS_URL", ""),
		Token:           getEnv("CHAT_TOKEN", ""),
		UserID:          getEnv("CHAT_USER_ID", ""),
		UserEmail:       getEnv("CHAT_USER_EMAIL", ""),
		PageSize:        getEnvInt("CHAT_PAGE_SIZE", 50),
		HTTPTimeout:     getEnvDuration("CHAT_HTTP_TIMEOUT", 10*time.Second),
		TypingExpiry:    getEnvDuration("TYPING_EXPIRY", 3*time.Second),
		TypingStopDelay: getEnvDuration("TYPING_STOP_DELAY", time.Second),
	}

	if cfg.UserID == "" {
		log.Println("WARNING: CHAT_USER_ID is not set")
	}
	if cfg.Token == "" {
		log.Println("WARNING: CHAT_TOKEN is not set")
	}

	return cfg
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("WARNING: invalid integer for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		log.Printf("WARNING: invalid duration for %s, using default %v", key, defaultValue)
	}
	return defaultValue
}
