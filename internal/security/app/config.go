package app

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Issuer string // Required: issuer claim for tokens

	Algorithm  string        // Optional: JWT signing algorithm (HS256, EdDSA) (default: HS256)
	JWTSecret  string        // Required for HS256: signing key, at least 32 bytes
	JWTKeyFile string        // Required for EdDSA: path to the private key file
	AccessTTL  time.Duration // Optional: access token lifetime (default: 1h)
	RefreshTTL time.Duration // Optional: refresh token lifetime (default: 720h)

	DatabaseFile string // Optional: path to SQLite database file (default: ./authcore.db)
	PepperFile   string // Optional: path to pepper file for password/OTP hashing (default: ./pepper)
	RedisAddr    string // Optional: Redis address for shared rate limiting (empty: in-memory)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 60s)
}

func LoadConfig() Config {
	// A local .env is a dev convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := Config{
		Issuer:               getEnvOrDefault("AUTHCORE_ISSUER", "authcore"),
		Algorithm:            getEnvOrDefault("AUTHCORE_ALGORITHM", "HS256"),
		JWTSecret:            os.Getenv("AUTHCORE_JWT_SECRET"),
		JWTKeyFile:           os.Getenv("AUTHCORE_JWT_KEY_FILE"),
		AccessTTL:            getEnvDurationOrDefault("AUTHCORE_ACCESS_TTL", 1*time.Hour),
		RefreshTTL:           getEnvDurationOrDefault("AUTHCORE_REFRESH_TTL", 30*24*time.Hour),
		DatabaseFile:         getEnvOrDefault("AUTHCORE_DATABASE_FILE", "authcore.db"),
		PepperFile:           getEnvOrDefault("AUTHCORE_PEPPER_FILE", "pepper"),
		RedisAddr:            os.Getenv("AUTHCORE_REDIS_ADDR"),
		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 60*time.Second),
	}

	return cfg
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
