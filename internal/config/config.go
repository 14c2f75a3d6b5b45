// Package config provides configuration management for atlasmem. Settings
// load from environment variables with the ATLASMEM_ prefix, with sensible
// defaults for every option.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration settings for the atlasmem server.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	LLM     LLMConfig
	Profile ProfileConfig
	Backup  BackupConfig
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port          int           // Server port (default: 7070)
	Host          string        // Server host (default: 127.0.0.1)
	APIToken      string        // Bearer token; empty disables auth
	RateLimit     float64       // Requests per second per server (default: 25)
	RateBurst     int           // Burst size for the rate limiter (default: 50)
	ShutdownGrace time.Duration // Graceful shutdown window (default: 10s)
}

// StorageConfig contains storage backend configuration.
type StorageConfig struct {
	Engine       string // Storage engine: sqlite, postgres, chromem (default: sqlite)
	DataPath     string // Data directory for sqlite and the reset marker (default: ./data)
	PostgresDSN  string // Postgres connection string, used when Engine is postgres
	EmbeddingDim int    // Embedding dimension for the pgvector column (default: 1536)
}

// LLMConfig contains LLM provider configuration.
type LLMConfig struct {
	Provider       string        // LLM provider: ollama, openai (default: ollama)
	BaseURL        string        // Provider base URL; empty uses the provider default
	Model          string        // Completion model for profile generation
	EmbeddingModel string        // Embedding model
	APIKey         string        // API key for hosted providers
	Timeout        time.Duration // Request timeout (default: 30s)
	Temperature    float64       // Completion sampling temperature (default: 0.4)
}

// ProfileConfig contains profile cache and catalog configuration.
type ProfileConfig struct {
	CatalogPath string // Path to the YAML region catalog; empty means no seeds
	CacheSize   int    // LRU capacity for generated profiles (default: 256)
}

// BackupConfig contains snapshot configuration.
type BackupConfig struct {
	Path string // Snapshot directory (default: ./backups)
	Keep int    // Snapshots to retain (default: 5)
}

// Load builds the configuration from environment variables and defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          getEnvInt("ATLASMEM_PORT", 7070),
			Host:          getEnv("ATLASMEM_HOST", "127.0.0.1"),
			APIToken:      getEnv("ATLASMEM_API_TOKEN", ""),
			RateLimit:     getEnvFloat("ATLASMEM_RATE_LIMIT", 25),
			RateBurst:     getEnvInt("ATLASMEM_RATE_BURST", 50),
			ShutdownGrace: getEnvDuration("ATLASMEM_SHUTDOWN_GRACE", 10*time.Second),
		},
		Storage: StorageConfig{
			Engine:       getEnv("ATLASMEM_STORAGE_ENGINE", "sqlite"),
			DataPath:     getEnv("ATLASMEM_DATA_PATH", "./data"),
			PostgresDSN:  getEnv("ATLASMEM_POSTGRES_DSN", ""),
			EmbeddingDim: getEnvInt("ATLASMEM_EMBEDDING_DIM", 1536),
		},
		LLM: LLMConfig{
			Provider:       getEnv("ATLASMEM_LLM_PROVIDER", "ollama"),
			BaseURL:        getEnv("ATLASMEM_LLM_URL", ""),
			Model:          getEnv("ATLASMEM_LLM_MODEL", ""),
			EmbeddingModel: getEnv("ATLASMEM_EMBEDDING_MODEL", ""),
			APIKey:         getEnv("ATLASMEM_LLM_API_KEY", ""),
			Timeout:        getEnvDuration("ATLASMEM_LLM_TIMEOUT", 30*time.Second),
			Temperature:    getEnvFloat("ATLASMEM_LLM_TEMPERATURE", 0.4),
		},
		Profile: ProfileConfig{
			CatalogPath: getEnv("ATLASMEM_REGION_CATALOG", ""),
			CacheSize:   getEnvInt("ATLASMEM_PROFILE_CACHE_SIZE", 256),
		},
		Backup: BackupConfig{
			Path: getEnv("ATLASMEM_BACKUP_PATH", "./backups"),
			Keep: getEnvInt("ATLASMEM_BACKUP_KEEP", 5),
		},
	}
}

// DatabasePath is the SQLite database file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.DataPath, "atlasmem.db")
}

// ResetMarkerPath is the deferred-reset marker file inside the data directory.
func (c *Config) ResetMarkerPath() string {
	return filepath.Join(c.Storage.DataPath, "reset_memory_store.flag")
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable ("30s", "2m") or
// returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
