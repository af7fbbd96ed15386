// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. A .env file (optional, loaded into the environment first)
//  2. YAML file (config.yaml), with ${VAR} expansion
//  3. Environment variables (fallback)
//
// Missing YAML values take the defaults from Default. Example usage:
//
//	cfg := config.LoadOrEnv()
//	dbPath := cfg.Storage.DatabasePath
//	window := cfg.Matching.DateWindowDays
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Matching      MatchingConfig      `yaml:"matching"`
	Linking       LinkingConfig       `yaml:"linking"`
	Dedupe        DedupeConfig        `yaml:"dedupe"`
	Audit         AuditConfig         `yaml:"audit"`
	Workers       WorkersConfig       `yaml:"workers"`
	API           APIConfig           `yaml:"api"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// MatchingConfig tunes candidate generation and scoring. Amounts are
// strings so they keep their decimal precision.
type MatchingConfig struct {
	DateWindowDays    int     `yaml:"date_window_days"`
	AmountTolerance   string  `yaml:"amount_tolerance"`
	ExactTolerance    string  `yaml:"exact_tolerance"`
	FuzzyAmountRatio  string  `yaml:"fuzzy_amount_ratio"`
	MinTextSimilarity float64 `yaml:"min_text_similarity"`
	AmountDeltaWeight string  `yaml:"amount_delta_weight"`
	SplitMaxParts     int     `yaml:"split_max_parts"`
}

// LinkingConfig holds link writer settings
type LinkingConfig struct {
	AutoApplyThreshold int    `yaml:"auto_apply_threshold"`
	SplitTolerance     string `yaml:"split_tolerance"`
	Actor              string `yaml:"actor"`
}

// DedupeConfig holds duplicate detection settings
type DedupeConfig struct {
	ReimportThreshold  float64 `yaml:"reimport_threshold"`
	ReversalWindowDays int     `yaml:"reversal_window_days"`
}

// AuditConfig holds balance audit settings
type AuditConfig struct {
	Tolerance string `yaml:"tolerance"`
}

// WorkersConfig bounds how many accounts are reconciled at once
type WorkersConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// APIConfig holds HTTP server settings
type APIConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{DatabasePath: "reconcile.db"},
		Matching: MatchingConfig{
			DateWindowDays:    7,
			AmountTolerance:   "0.02",
			ExactTolerance:    "0.01",
			FuzzyAmountRatio:  "0.10",
			MinTextSimilarity: 0.5,
			AmountDeltaWeight: "100",
			SplitMaxParts:     4,
		},
		Linking: LinkingConfig{
			AutoApplyThreshold: 70,
			SplitTolerance:     "0.01",
			Actor:              "reconcile",
		},
		Dedupe: DedupeConfig{
			ReimportThreshold:  0.95,
			ReversalWindowDays: 3,
		},
		Audit:   AuditConfig{Tolerance: "0.01"},
		Workers: WorkersConfig{Concurrency: 4},
		API: APIConfig{
			Port:           8085,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{Level: "info", Format: "text"},
		},
	}
}

// Load reads and parses the config file on top of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${RECONCILE_DB_PATH})
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	cfg := Default()
	cfg.Storage.DatabasePath = getEnv("RECONCILE_DB_PATH", cfg.Storage.DatabasePath)
	cfg.Matching.DateWindowDays = getEnvInt("RECONCILE_DATE_WINDOW_DAYS", cfg.Matching.DateWindowDays)
	cfg.Matching.AmountTolerance = getEnv("RECONCILE_AMOUNT_TOLERANCE", cfg.Matching.AmountTolerance)
	cfg.Linking.AutoApplyThreshold = getEnvInt("RECONCILE_AUTO_APPLY_THRESHOLD", cfg.Linking.AutoApplyThreshold)
	cfg.Linking.Actor = getEnv("RECONCILE_ACTOR", cfg.Linking.Actor)
	cfg.Audit.Tolerance = getEnv("RECONCILE_AUDIT_TOLERANCE", cfg.Audit.Tolerance)
	cfg.Workers.Concurrency = getEnvInt("RECONCILE_CONCURRENCY", cfg.Workers.Concurrency)
	cfg.API.Port = getEnvInt("RECONCILE_API_PORT", cfg.API.Port)
	cfg.Observability.Logging.Level = getEnv("LOG_LEVEL", cfg.Observability.Logging.Level)
	cfg.Observability.Logging.Format = getEnv("LOG_FORMAT", cfg.Observability.Logging.Format)
	return cfg
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables
func LoadOrEnv() *Config {
	return LoadOrEnv_WithPath("config.yaml")
}

// LoadOrEnv_WithPath loads .env if present, then tries the YAML file at
// path, then falls back to environment variables. An unreadable or invalid
// file also falls back; callers that need the error use Load.
func LoadOrEnv_WithPath(path string) *Config {
	_ = LoadDotEnv(".env")
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	if c.Storage.DatabasePath == "" {
		return errors.New("storage.database_path is required")
	}
	if c.Matching.DateWindowDays < 0 {
		return fmt.Errorf("matching.date_window_days must be >= 0, got %d", c.Matching.DateWindowDays)
	}
	if c.Linking.AutoApplyThreshold < 0 || c.Linking.AutoApplyThreshold > 100 {
		return fmt.Errorf("linking.auto_apply_threshold must be 0-100, got %d", c.Linking.AutoApplyThreshold)
	}
	if c.Dedupe.ReimportThreshold <= 0 || c.Dedupe.ReimportThreshold > 1 {
		return fmt.Errorf("dedupe.reimport_threshold must be in (0, 1], got %v", c.Dedupe.ReimportThreshold)
	}
	if c.Workers.Concurrency < 1 {
		return fmt.Errorf("workers.concurrency must be >= 1, got %d", c.Workers.Concurrency)
	}
	return nil
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if result, err := strconv.Atoi(val); err == nil {
			return result
		}
	}
	return fallback
}
