package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for stacc.
type Config struct {
	BaseDir   string          `toml:"base_dir"`
	LogDir    string          `toml:"log_dir"`
	LogLevel  string          `toml:"log_level"` // debug, info, warn or error
	ActorID   string          `toml:"actor_id"`  // recorded on every ledger entry written by this install
	Database  DatabaseConfig  `toml:"database"`
	BlobStore BlobStoreConfig `toml:"blob_store"`
	Jobs      JobsConfig      `toml:"jobs"`
	Server    ServerConfig    `toml:"server"`
	Export    ExportConfig    `toml:"export"`
}

// DatabaseConfig represents configuration for the ledger database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "memory" or "postgres"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty"`      // only used for type=postgres
}

// BlobStoreConfig represents where blob sizes are read from and uploads go.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type BlobStoreConfig struct {
	Type string `toml:"type"` // "database" (default), "memory", "filesystem" or "s3"

	// FileSystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
}

// JobsConfig controls background materialization and reconciliation.
type JobsConfig struct {
	Workers                int    `toml:"workers"`
	ReconcileSchedule      string `toml:"reconcile_schedule"` // cron expression, e.g. "@daily"
	RetryMaxElapsedSeconds int    `toml:"retry_max_elapsed_seconds"`
	BatchSize              int    `toml:"batch_size"` // record ids per reconciliation query
}

// ServerConfig holds the HTTP read API settings.
type ServerConfig struct {
	Listen string `toml:"listen"`
}

// ExportConfig holds defaults for encrypted ledger exports.
type ExportConfig struct {
	RecipientsFile string `toml:"recipients_file,omitempty"`
}

const (
	DefaultWorkers           = 4
	DefaultReconcileSchedule = "@daily"
	DefaultRetryMaxElapsed   = 60
	DefaultBatchSize         = 1000
	DefaultListen            = "127.0.0.1:8480"
	DefaultLogLevel          = "info"
)

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	cfg := &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		BlobStore: BlobStoreConfig{Type: "database"},
		Export: ExportConfig{
			RecipientsFile: filepath.Join(baseDir, "keys", "export.recipients"),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values left by an older or hand-written config file.
func (c *Config) ApplyDefaults() {
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.BlobStore.Type == "" {
		c.BlobStore.Type = "database"
	}
	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = DefaultWorkers
	}
	if c.Jobs.ReconcileSchedule == "" {
		c.Jobs.ReconcileSchedule = DefaultReconcileSchedule
	}
	if c.Jobs.RetryMaxElapsedSeconds <= 0 {
		c.Jobs.RetryMaxElapsedSeconds = DefaultRetryMaxElapsed
	}
	if c.Jobs.BatchSize <= 0 {
		c.Jobs.BatchSize = DefaultBatchSize
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader and applies defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
