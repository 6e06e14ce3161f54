package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		BaseDir:  "/home/user/.local/share/stacc",
		LogDir:   "/home/user/.local/share/stacc/log",
		LogLevel: "debug",
		ActorID:  "ops@example.com",
		Database: DatabaseConfig{
			Type: "postgres",
			DSN:  "postgres://stacc@localhost/stacc?sslmode=disable",
		},
		BlobStore: BlobStoreConfig{
			Type:       "s3",
			S3Bucket:   "uploads",
			S3Prefix:   "blobs/",
			S3Region:   "eu-west-1",
			S3Endpoint: "http://localhost:9000",
		},
		Jobs: JobsConfig{
			Workers:                8,
			ReconcileSchedule:      "0 3 * * *",
			RetryMaxElapsedSeconds: 120,
			BatchSize:              250,
		},
		Server: ServerConfig{Listen: ":9090"},
		Export: ExportConfig{RecipientsFile: "/etc/stacc/recipients"},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", got.LogLevel, "debug")
	}
	if got.ActorID != original.ActorID {
		t.Errorf("ActorID = %q, want %q", got.ActorID, original.ActorID)
	}
	if got.Database != original.Database {
		t.Errorf("Database = %+v, want %+v", got.Database, original.Database)
	}
	if got.BlobStore != original.BlobStore {
		t.Errorf("BlobStore = %+v, want %+v", got.BlobStore, original.BlobStore)
	}
	if got.Jobs != original.Jobs {
		t.Errorf("Jobs = %+v, want %+v", got.Jobs, original.Jobs)
	}
	if got.Server.Listen != ":9090" {
		t.Errorf("Server.Listen = %q, want %q", got.Server.Listen, ":9090")
	}
	if got.Export.RecipientsFile != original.Export.RecipientsFile {
		t.Errorf("Export.RecipientsFile = %q, want %q", got.Export.RecipientsFile, original.Export.RecipientsFile)
	}
}

func TestManager_Read_AppliesDefaults(t *testing.T) {
	m := &Manager{}
	got, err := m.Read(strings.NewReader(`
base_dir = "/srv/stacc"

[database]
type = "memory"
`))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.LogDir != "/srv/stacc/log" {
		t.Errorf("LogDir = %q, want %q", got.LogDir, "/srv/stacc/log")
	}
	if got.LogLevel != DefaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", got.LogLevel, DefaultLogLevel)
	}
	if got.BlobStore.Type != "database" {
		t.Errorf("BlobStore.Type = %q, want %q", got.BlobStore.Type, "database")
	}
	if got.Jobs.Workers != DefaultWorkers {
		t.Errorf("Jobs.Workers = %d, want %d", got.Jobs.Workers, DefaultWorkers)
	}
	if got.Jobs.BatchSize != DefaultBatchSize {
		t.Errorf("Jobs.BatchSize = %d, want %d", got.Jobs.BatchSize, DefaultBatchSize)
	}
	if got.Jobs.ReconcileSchedule != DefaultReconcileSchedule {
		t.Errorf("Jobs.ReconcileSchedule = %q, want %q", got.Jobs.ReconcileSchedule, DefaultReconcileSchedule)
	}
	if got.Server.Listen != DefaultListen {
		t.Errorf("Server.Listen = %q, want %q", got.Server.Listen, DefaultListen)
	}
}

func TestManager_Read_InvalidTOML(t *testing.T) {
	m := &Manager{}
	if _, err := m.Read(strings.NewReader("base_dir = ")); err == nil {
		t.Error("Read() expected error for invalid TOML, got nil")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/stacc")

	if cfg.BaseDir != "/data/stacc" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/stacc")
	}
	if cfg.LogDir != "/data/stacc/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/stacc/log")
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want %q", cfg.Database.Type, "sqlite")
	}
	if cfg.Database.DataDir != "/data/stacc/db" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/stacc/db")
	}
	if cfg.Export.RecipientsFile != "/data/stacc/keys/export.recipients" {
		t.Errorf("Export.RecipientsFile = %q, want %q", cfg.Export.RecipientsFile, "/data/stacc/keys/export.recipients")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "stacc.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "stacc.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "stacc.toml")
		cfg := NewConfig(dir)
		cfg.ActorID = "read-test"
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.ActorID != "read-test" {
			t.Errorf("ActorID = %q, want %q", got.ActorID, "read-test")
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/stacc.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
