// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Price vendor credentials. Primary is tried first, secondary on failure.
	PrimaryVendorKey   string
	SecondaryVendorKey string

	// Analysis defaults
	AnalysisWindowMonths int     // default lookback for factor regression
	MinRegressionObs     int     // minimum monthly observations per asset
	RiskFreeRate         float64 // annual, used for Sharpe/Sortino
	SmallBaseNAV         float64 // accounts below this NAV are excluded from combined TWR

	// Concurrency and caching
	PriceWorkers   int           // bounded pool for per-symbol price fetches
	ResultCacheTTL time.Duration // TTL for analysis result cache entries
	PriceCacheTTL  time.Duration // TTL for cached price series

	// Trade previews
	PreviewTTL            time.Duration
	PreviewDriftThreshold float64 // re-preview cost drift that triggers drift_warning

	// Rate-factor eligible canonical asset classes (default bond, real_estate)
	RateFactorClasses []string

	Backup *BackupConfig
}

// BackupConfig holds off-site backup configuration. Backup is disabled when
// Bucket is empty.
type BackupConfig struct {
	Endpoint  string // S3-compatible endpoint URL
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string

	RetentionDays int // backups older than this are rotated out; 0 keeps all
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("RISKCORE_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	// Always resolve to absolute path
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}

	// Ensure directory exists
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("RISKCORE_PORT", 8011),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		PrimaryVendorKey:   getEnv("PRICE_VENDOR_API_KEY", ""),
		SecondaryVendorKey: getEnv("PRICE_VENDOR_FALLBACK_API_KEY", ""),

		AnalysisWindowMonths: getEnvAsInt("ANALYSIS_WINDOW_MONTHS", 60),
		MinRegressionObs:     getEnvAsInt("MIN_REGRESSION_OBS", 24),
		RiskFreeRate:         getEnvAsFloat("RISK_FREE_RATE", 0.04),
		SmallBaseNAV:         getEnvAsFloat("SMALL_BASE_NAV_THRESHOLD", 500.0),

		PriceWorkers:   getEnvAsInt("PRICE_WORKERS", 16),
		ResultCacheTTL: getEnvAsDuration("RESULT_CACHE_TTL", 30*time.Minute),
		PriceCacheTTL:  getEnvAsDuration("PRICE_CACHE_TTL", 12*time.Hour),

		PreviewTTL:            getEnvAsDuration("TRADE_PREVIEW_TTL", 15*time.Minute),
		PreviewDriftThreshold: getEnvAsFloat("TRADE_PREVIEW_DRIFT_THRESHOLD", 0.01),

		RateFactorClasses: getEnvAsList("RISK_RATE_FACTOR_CLASSES", []string{"bond", "real_estate"}),

		Backup: loadBackupConfig(),
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
	if c.PriceWorkers <= 0 {
		return fmt.Errorf("invalid price worker count: %d", c.PriceWorkers)
	}
	if c.MinRegressionObs < 2 {
		return fmt.Errorf("minimum regression observations must be at least 2, got %d", c.MinRegressionObs)
	}
	// Vendor keys are optional: the marketdata store works against any
	// configured vendor implementation, including file-backed ones in tests.
	return nil
}

func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Endpoint:  getEnv("BACKUP_S3_ENDPOINT", ""),
		Region:    getEnv("BACKUP_S3_REGION", "auto"),
		Bucket:    getEnv("BACKUP_S3_BUCKET", ""),
		AccessKey: getEnv("BACKUP_S3_ACCESS_KEY", ""),
		SecretKey: getEnv("BACKUP_S3_SECRET_KEY", ""),
		Prefix:    getEnv("BACKUP_S3_PREFIX", "riskcore"),

		RetentionDays: getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
	}
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
