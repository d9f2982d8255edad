package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all relay server configuration
type Config struct {
	Port             int
	RelayName        string        // last path segment of the public relay endpoint
	RedisURL         string
	RedisPassword    string
	MaxSessions      int
	SessionTimeout   time.Duration // idle sessions older than this are closed
	GeminiAPIKey     string
	AllowedOrigins   []string
	KeepAlivePeriod  time.Duration
	MaxPendingFrames int           // client frames buffered before upstream is ready
	StorefrontURL    string        // base URL of the CityPulse REST API for tool calls
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists (doesn't error if missing)
	_ = godotenv.Load()

	config := &Config{
		Port:             8080,
		RelayName:        "voice-relay",
		RedisURL:         "localhost:6379",
		RedisPassword:    "",
		MaxSessions:      100,
		SessionTimeout:   30 * time.Minute,
		AllowedOrigins:   []string{"*"},
		KeepAlivePeriod:  30 * time.Second,
		MaxPendingFrames: 32,
		StorefrontURL:    "",
	}

	// Required: GEMINI_API_KEY
	config.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	if config.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	// Optional: PORT
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		config.Port = p
	}

	// Optional: RELAY_NAME
	if name := os.Getenv("RELAY_NAME"); name != "" {
		if strings.ContainsAny(name, "/ ") {
			return nil, fmt.Errorf("invalid RELAY_NAME: must be a single path segment")
		}
		config.RelayName = name
	}

	// Optional: REDIS_URL
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		config.RedisURL = redisURL
	}

	// Optional: REDIS_PASSWORD
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.RedisPassword = redisPassword
	}

	// Optional: MAX_SESSIONS
	if maxSessions := os.Getenv("MAX_SESSIONS"); maxSessions != "" {
		m, err := strconv.Atoi(maxSessions)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_SESSIONS: %w", err)
		}
		config.MaxSessions = m
	}

	// Optional: SESSION_TIMEOUT (in minutes)
	if timeout := os.Getenv("SESSION_TIMEOUT"); timeout != "" {
		t, err := strconv.Atoi(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		config.SessionTimeout = time.Duration(t) * time.Minute
	}

	// Optional: ALLOWED_ORIGINS (comma-separated)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.AllowedOrigins = strings.Split(origins, ",")
	}

	// Optional: KEEPALIVE_PERIOD (in seconds)
	if keepalive := os.Getenv("KEEPALIVE_PERIOD"); keepalive != "" {
		k, err := strconv.Atoi(keepalive)
		if err != nil {
			return nil, fmt.Errorf("invalid KEEPALIVE_PERIOD: %w", err)
		}
		config.KeepAlivePeriod = time.Duration(k) * time.Second
	}

	// Optional: MAX_PENDING_FRAMES
	if pending := os.Getenv("MAX_PENDING_FRAMES"); pending != "" {
		p, err := strconv.Atoi(pending)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_PENDING_FRAMES: %w", err)
		}
		if p < 1 {
			return nil, fmt.Errorf("invalid MAX_PENDING_FRAMES: must be at least 1")
		}
		config.MaxPendingFrames = p
	}

	// Optional: STOREFRONT_URL (deal/event lookups are disabled when unset)
	if storefront := os.Getenv("STOREFRONT_URL"); storefront != "" {
		config.StorefrontURL = strings.TrimRight(storefront, "/")
	}

	return config, nil
}
