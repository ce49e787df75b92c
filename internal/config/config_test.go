package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		BaseDir: "/home/user/.local/share/gutensync",
		LogDir:  "/home/user/.local/share/gutensync/log",
		Catalog: CatalogConfig{
			URL: "https://example.org/rdf-files.tar.bz2",
		},
		Download: DownloadConfig{
			Workers:    8,
			MirrorsURL: "https://example.org/MIRRORS.ALL",
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			Path: "/home/user/.local/share/gutensync/gutensync.db",
		},
		Backup: BackupConfig{
			Type:        "filesystem",
			FSBackupDir: "/backup/gutensync",
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  "/home/user/.local/share/gutensync/keys/gutensync.pub",
			PrivateKeyPath: "/home/user/.local/share/gutensync/keys/gutensync.key",
		},
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
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if got.Catalog.URL != original.Catalog.URL {
		t.Errorf("Catalog.URL = %q, want %q", got.Catalog.URL, original.Catalog.URL)
	}
	if got.Download.Workers != 8 {
		t.Errorf("Download.Workers = %d, want 8", got.Download.Workers)
	}
	if got.Download.MirrorsURL != original.Download.MirrorsURL {
		t.Errorf("Download.MirrorsURL = %q, want %q", got.Download.MirrorsURL, original.Download.MirrorsURL)
	}
	if got.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want %q", got.Database.Type, "sqlite")
	}
	if got.Database.Path != original.Database.Path {
		t.Errorf("Database.Path = %q, want %q", got.Database.Path, original.Database.Path)
	}
	if got.Backup.Type != "filesystem" {
		t.Errorf("Backup.Type = %q, want %q", got.Backup.Type, "filesystem")
	}
	if got.Backup.FSBackupDir != "/backup/gutensync" {
		t.Errorf("Backup.FSBackupDir = %q, want %q", got.Backup.FSBackupDir, "/backup/gutensync")
	}
	if got.Encryption.Type != "age" {
		t.Errorf("Encryption.Type = %q, want %q", got.Encryption.Type, "age")
	}
	if got.Encryption.PublicKeyPath != original.Encryption.PublicKeyPath {
		t.Errorf("Encryption.PublicKeyPath = %q, want %q", got.Encryption.PublicKeyPath, original.Encryption.PublicKeyPath)
	}
	if got.Encryption.PrivateKeyPath != original.Encryption.PrivateKeyPath {
		t.Errorf("Encryption.PrivateKeyPath = %q, want %q", got.Encryption.PrivateKeyPath, original.Encryption.PrivateKeyPath)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/gutensync")

	if cfg.BaseDir != "/data/gutensync" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/gutensync")
	}
	if cfg.LogDir != "/data/gutensync/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/gutensync/log")
	}
	if cfg.Download.Workers != 4 {
		t.Errorf("Download.Workers = %d, want 4", cfg.Download.Workers)
	}
	if cfg.Database.Type != "sqlite" {
		t.Errorf("Database.Type = %q, want %q", cfg.Database.Type, "sqlite")
	}
	if cfg.Database.Path != "/data/gutensync/gutensync.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/data/gutensync/gutensync.db")
	}
	if cfg.Backup.Type != "none" {
		t.Errorf("Backup.Type = %q, want %q", cfg.Backup.Type, "none")
	}
	if cfg.Encryption.Type != "none" {
		t.Errorf("Encryption.Type = %q, want %q", cfg.Encryption.Type, "none")
	}
	if cfg.Encryption.PublicKeyPath != "/data/gutensync/keys/gutensync.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q, want %q", cfg.Encryption.PublicKeyPath, "/data/gutensync/keys/gutensync.pub")
	}
	if cfg.Encryption.PrivateKeyPath != "/data/gutensync/keys/gutensync.key" {
		t.Errorf("Encryption.PrivateKeyPath = %q, want %q", cfg.Encryption.PrivateKeyPath, "/data/gutensync/keys/gutensync.key")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "gutensync.toml")
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
		path := filepath.Join(dir, "gutensync.toml")
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
		path := filepath.Join(dir, "gutensync.toml")
		cfg := NewConfig(dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
		if got.BaseDir != dir {
			t.Errorf("BaseDir = %q, want %q", got.BaseDir, dir)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/gutensync.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
