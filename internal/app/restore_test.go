package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"gutensync/internal/backup"
	"gutensync/internal/store"
)

func TestRestoreSnapshot_RoundTrip(t *testing.T) {
	cfg := testConfig(t)

	a, err := NewApp(cfg, "Backup", "")
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	if err := a.Backup(); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "restored.db")
	version, err := RestoreSnapshot(cfg, dest, func() (string, error) {
		t.Fatal("passphrase should not be prompted without encryption")
		return "", nil
	})
	if err != nil {
		t.Fatalf("RestoreSnapshot() error = %v", err)
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}

	st, err := store.NewSQLiteStore(dest)
	if err != nil {
		t.Fatalf("opening restored database: %v", err)
	}
	defer st.Close()

	runs, err := st.Runs(10)
	if err != nil {
		t.Fatalf("Runs() error = %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	if runs[0].Operation != "Backup" {
		t.Errorf("Operation = %q, want %q", runs[0].Operation, "Backup")
	}
}

func TestRestoreSnapshot_Encrypted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Encryption.Type = "test"

	a, err := NewApp(cfg, "Backup", "")
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	if err := a.Backup(); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// The stored snapshot must be ciphertext, not a bare SQLite file.
	target, err := backup.NewFileSystemTarget(cfg.Backup.FSBackupDir)
	if err != nil {
		t.Fatalf("opening backup target: %v", err)
	}
	var stored bytes.Buffer
	if err := target.GetSnapshot(backup.SnapshotName, &stored); err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	if bytes.HasPrefix(stored.Bytes(), []byte("SQLite format 3")) {
		t.Error("stored snapshot is not encrypted")
	}

	prompted := false
	dest := filepath.Join(t.TempDir(), "restored.db")
	if _, err := RestoreSnapshot(cfg, dest, func() (string, error) {
		prompted = true
		return "any-passphrase", nil
	}); err != nil {
		t.Fatalf("RestoreSnapshot() error = %v", err)
	}
	if !prompted {
		t.Error("passphrase was not prompted for an encrypted snapshot")
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading restored database: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("SQLite format 3")) {
		t.Error("restored snapshot is not a SQLite database")
	}
}

func TestRestoreSnapshot_RefusesOverwrite(t *testing.T) {
	cfg := testConfig(t)

	a, err := NewApp(cfg, "Backup", "")
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	if err := a.Backup(); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "restored.db")
	if err := os.WriteFile(dest, []byte("precious"), 0644); err != nil {
		t.Fatalf("writing existing file: %v", err)
	}

	if _, err := RestoreSnapshot(cfg, dest, nil); err == nil {
		t.Fatal("RestoreSnapshot() should refuse to overwrite an existing file")
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading existing file: %v", err)
	}
	if string(data) != "precious" {
		t.Errorf("existing file was modified: %q", data)
	}
}

func TestRestoreSnapshot_EmptyTarget(t *testing.T) {
	cfg := testConfig(t)

	_, err := RestoreSnapshot(cfg, filepath.Join(t.TempDir(), "restored.db"), nil)
	if err == nil {
		t.Fatal("RestoreSnapshot() from an empty target should fail")
	}
}

func TestRestoreSnapshot_NoTarget(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backup.Type = "none"

	_, err := RestoreSnapshot(cfg, filepath.Join(t.TempDir(), "restored.db"), nil)
	if err == nil {
		t.Fatal("RestoreSnapshot() without a configured target should fail")
	}
}
