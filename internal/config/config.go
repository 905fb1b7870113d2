// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
// Env vars bootstrap the process; tunable advisory parameters live in the
// settings table and are read through the settings service at runtime.
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	LogLevel string
	Port     int
	DevMode  bool

	// Advisory defaults (overridable per request / via settings)
	RiskFreeRate       float64 // Annual risk-free rate for Sharpe calculations
	TargetAnnualReturn float64 // Optimal CAGR used by scoring curves
	MarketAvgPE        float64 // Reference P/E for valuation scoring

	// Seed data loaded into an empty universe on startup (optional)
	SeedFile string

	Backup *BackupConfig
}

// BackupConfig holds database backup wiring. Runtime behaviour
// (toggles, retention) lives in settings; these values only decide
// what gets constructed. S3 upload stays disabled unless a bucket is
// configured. Endpoint points the client at S3 compatible services.
type BackupConfig struct {
	Enabled           bool
	LocalDir          string // Snapshot directory under DataDir
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	// Data directory: STEWARD_DATA_DIR, defaulting to ./data, always absolute
	dataDir := getEnv("STEWARD_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:            absDataDir,
		Port:               getEnvAsInt("STEWARD_PORT", 8010),
		DevMode:            getEnvAsBool("DEV_MODE", false),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RiskFreeRate:       getEnvAsFloat("RISK_FREE_RATE", 0.03),
		TargetAnnualReturn: getEnvAsFloat("TARGET_ANNUAL_RETURN", 0.11),
		MarketAvgPE:        getEnvAsFloat("MARKET_AVG_PE", 22.0),
		SeedFile:           getEnv("STEWARD_SEED_FILE", ""),
		Backup:             loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.RiskFreeRate < 0 || c.RiskFreeRate > 0.5 {
		return fmt.Errorf("risk-free rate out of range: %f", c.RiskFreeRate)
	}
	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// loadBackupConfig loads backup wiring from the environment.
func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Enabled:           getEnvAsBool("BACKUP_ENABLED", true),
		LocalDir:          getEnv("BACKUP_LOCAL_DIR", "backups"),
		S3Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
		S3Region:          getEnv("BACKUP_S3_REGION", "eu-central-1"),
		S3Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
		S3AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
	}
}
