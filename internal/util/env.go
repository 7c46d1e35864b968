package util

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/latticehq/lattice/backend/pkg/logger"
)

// LoadEnv loads a .env file when one exists next to the binary. Container
// deployments usually set real environment variables instead.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using system environment variables")
	}
}

// GetEnv returns the value of key, or "" when unset.
func GetEnv(key string) string {
	return os.Getenv(key)
}

// GetEnvString returns the value of key, or defaultValue when unset.
func GetEnvString(key string, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

// GetEnvNumeric parses key as a float, falling back to defaultValue when
// the variable is unset or not a number.
func GetEnvNumeric(key string, defaultValue int) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return float64(defaultValue)
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return float64(defaultValue)
	}
	return parsed
}

// GetEnvInt64 parses key as an integer, falling back to defaultValue when
// the variable is unset or malformed.
func GetEnvInt64(key string, defaultValue int64) int64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// GetEnvBool parses key as "true" or "false", falling back to defaultValue
// for anything else.
func GetEnvBool(key string, defaultValue bool) bool {
	switch os.Getenv(key) {
	case "true":
		return true
	case "false":
		return false
	default:
		return defaultValue
	}
}
