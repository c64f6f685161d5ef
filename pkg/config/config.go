package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the flat, environment-variable-driven configuration for
// the validator service. It covers process-level concerns (listen
// addresses, logging, storage/telemetry credentials) that are usually
// injected by the deployment environment rather than checked into a
// YAML file — see ChainConfig for the protocol parameter surface.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string
	HealthAddr  string

	// Storage (Postgres reference adapter)
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime int // seconds
	DatabaseMaxLifetime int // seconds
	DatabaseRequired    bool

	// Telemetry (Firestore reference adapter)
	FirestoreEnabled        bool
	FirebaseProjectID       string
	FirebaseCredentialsFile string

	// Validator identity
	ValidatorID    string
	KeyPath        string
	DataDir        string

	// Logging
	LogLevel string

	// Chain parameter file — loaded separately via LoadChainConfig.
	ChainConfigPath string
}

// Load reads process-level configuration from environment variables.
// Call Validate after Load to ensure required settings are present
// before starting the service.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),
		HealthAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("HEALTH_CHECK_PORT", "8081"),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvInt("DATABASE_MAX_IDLE_TIME", 300),
		DatabaseMaxLifetime: getEnvInt("DATABASE_MAX_LIFETIME", 3600),
		DatabaseRequired:    getEnvBool("DATABASE_REQUIRED", false),

		FirestoreEnabled:        getEnvBool("FIRESTORE_ENABLED", false),
		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		ValidatorID: getEnv("VALIDATOR_ID", "validator-default"),
		KeyPath:     getEnv("VALIDATOR_KEY_PATH", ""),
		DataDir:     getEnv("DATA_DIR", "./data"),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		ChainConfigPath: getEnv("CHAIN_CONFIG_PATH", "./chain.yaml"),
	}

	return cfg, nil
}

// Validate checks that the settings required to run a production
// validator are present.
func (c *Config) Validate() error {
	var errors []string

	if c.ValidatorID == "" {
		errors = append(errors, "VALIDATOR_ID is required but not set")
	}
	if c.KeyPath == "" {
		errors = append(errors, "VALIDATOR_KEY_PATH is required but not set")
	}
	if c.DatabaseRequired && c.DatabaseURL == "" {
		errors = append(errors, "DATABASE_URL is required when DATABASE_REQUIRED is true")
	}
	if c.FirestoreEnabled && c.FirebaseProjectID == "" {
		errors = append(errors, "FIREBASE_PROJECT_ID is required when FIRESTORE_ENABLED is true")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
