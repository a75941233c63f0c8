// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir             string // Base directory for databases and backups, always absolute
	DatasetPath         string // CSV file with open/high/low/close/volume channels
	EvaluatorServiceURL string // External backtest evaluator; empty selects the builtin backtest
	LogLevel            string
	Port                int
	DevMode             bool

	// Run parameters
	Seed             int64
	PopulationSize   int
	EliteSize        int
	GenerationBudget int
	EvalWorkers      int
	EvalTimeoutSecs  int
	CheckpointKeep   int

	// Immigrant injection; zero fraction disables injection entirely.
	// Candidate files are read from ImmigrantDir when it is set.
	ImmigrantFraction float64
	ImmigrantDir      string

	Backup *BackupConfig
}

// BackupConfig holds checkpoint backup configuration. Backups are disabled
// when the bucket is empty.
type BackupConfig struct {
	Bucket          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Schedule        string // cron expression
	RetentionDays   int
}

// Enabled reports whether backups are configured.
func (b *BackupConfig) Enabled() bool { return b != nil && b.Bucket != "" }

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("DARWIN_DATA_DIR", "")
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
		DataDir:             absDataDir,
		DatasetPath:         getEnv("DARWIN_DATASET", filepath.Join(absDataDir, "dataset.csv")),
		Port:                getEnvAsInt("DARWIN_PORT", 8001),
		DevMode:             getEnvAsBool("DEV_MODE", false),
		EvaluatorServiceURL: getEnv("EVALUATOR_SERVICE_URL", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		Seed:                getEnvAsInt64("DARWIN_SEED", 1),
		PopulationSize:      getEnvAsInt("DARWIN_POPULATION_SIZE", 50),
		EliteSize:           getEnvAsInt("DARWIN_ELITE_SIZE", 5),
		GenerationBudget:    getEnvAsInt("DARWIN_GENERATION_BUDGET", 100),
		EvalWorkers:         getEnvAsInt("DARWIN_EVAL_WORKERS", 4),
		EvalTimeoutSecs:     getEnvAsInt("DARWIN_EVAL_TIMEOUT_SECS", 30),
		CheckpointKeep:      getEnvAsInt("DARWIN_CHECKPOINT_KEEP", 10),
		ImmigrantFraction:   getEnvAsFloat("DARWIN_IMMIGRANT_FRACTION", 0),
		ImmigrantDir:        getEnv("DARWIN_IMMIGRANT_DIR", ""),
		Backup:              loadBackupConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if required configuration is present and consistent.
// Invalid configuration is fatal at startup; there is no safe default to
// fall back to mid-run.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PopulationSize < 4 {
		return fmt.Errorf("population size %d too small, need at least 4", c.PopulationSize)
	}
	if c.EliteSize < 1 || c.EliteSize >= c.PopulationSize {
		return fmt.Errorf("elite size %d must be in [1, population size)", c.EliteSize)
	}
	if c.GenerationBudget < 1 {
		return fmt.Errorf("generation budget %d must be positive", c.GenerationBudget)
	}
	if c.EvalWorkers < 1 {
		return fmt.Errorf("eval workers %d must be positive", c.EvalWorkers)
	}
	if c.EvalTimeoutSecs < 1 {
		return fmt.Errorf("eval timeout %ds must be positive", c.EvalTimeoutSecs)
	}
	if c.ImmigrantFraction < 0 || c.ImmigrantFraction > 1 {
		return fmt.Errorf("immigrant fraction %f must be in [0, 1]", c.ImmigrantFraction)
	}
	if c.Backup.Enabled() && c.Backup.Schedule == "" {
		return fmt.Errorf("backup bucket set but no schedule configured")
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

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
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

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// loadBackupConfig loads checkpoint backup configuration.
func loadBackupConfig() *BackupConfig {
	return &BackupConfig{
		Bucket:          getEnv("BACKUP_S3_BUCKET", ""),
		Endpoint:        getEnv("BACKUP_S3_ENDPOINT", ""),
		AccessKeyID:     getEnv("BACKUP_S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: getEnv("BACKUP_S3_SECRET_ACCESS_KEY", ""),
		Region:          getEnv("BACKUP_S3_REGION", "auto"),
		Schedule:        getEnv("BACKUP_SCHEDULE", "0 3 * * *"),
		RetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 30),
	}
}
