package app

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gutensync/internal/backup"
	"gutensync/internal/config"
	"gutensync/internal/encryption"
)

// RestoreSnapshot downloads the database snapshot from the configured backup
// target and writes it to destPath, decrypting it when snapshot encryption is
// configured. passphrase is consulted only when decryption is needed. The
// live database is never opened, and an existing file at destPath is never
// overwritten. Returns the restored snapshot's version.
func RestoreSnapshot(cfg *config.Config, destPath string, passphrase func() (string, error)) (int64, error) {
	target, err := backup.NewTargetFromConfig(cfg.Backup)
	if err != nil {
		return 0, fmt.Errorf("creating backup target: %w", err)
	}
	if target == nil {
		return 0, fmt.Errorf("no backup target configured")
	}

	version, err := target.SnapshotVersion(backup.SnapshotName)
	if err != nil {
		return 0, fmt.Errorf("checking snapshot version: %w", err)
	}
	if version == 0 {
		return 0, fmt.Errorf("backup target holds no snapshot")
	}

	if _, err := os.Stat(destPath); err == nil {
		return 0, fmt.Errorf("%s already exists, refusing to overwrite", destPath)
	}

	encryptor, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return 0, fmt.Errorf("creating encryptor: %w", err)
	}

	if dir := filepath.Dir(destPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return 0, fmt.Errorf("creating restore directory: %w", err)
		}
	}

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, fmt.Errorf("creating restored database: %w", err)
	}

	if err := fetchSnapshot(target, encryptor, passphrase, out); err != nil {
		out.Close()
		os.Remove(destPath)
		return 0, err
	}
	if err := out.Close(); err != nil {
		os.Remove(destPath)
		return 0, fmt.Errorf("finalizing restored database: %w", err)
	}

	return version, nil
}

// fetchSnapshot writes the stored snapshot to out, plain or decrypted.
func fetchSnapshot(target backup.Target, encryptor backup.Encryptor, passphrase func() (string, error), out io.Writer) error {
	if encryptor == nil {
		if err := target.GetSnapshot(backup.SnapshotName, out); err != nil {
			return fmt.Errorf("downloading snapshot: %w", err)
		}
		return nil
	}

	pass, err := passphrase()
	if err != nil {
		return fmt.Errorf("reading passphrase: %w", err)
	}
	dc, err := encryptor.Unlock(pass)
	if err != nil {
		return fmt.Errorf("unlocking private key: %w", err)
	}

	// Download the ciphertext to a temp file, then decrypt it into place.
	tmp, err := os.CreateTemp("", "gutensync-restore-*.age")
	if err != nil {
		return fmt.Errorf("creating temp file for snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := target.GetSnapshot(backup.SnapshotName, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("downloading snapshot: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		return fmt.Errorf("rewinding snapshot: %w", err)
	}
	if err := dc.Decrypt(tmp, out); err != nil {
		tmp.Close()
		return fmt.Errorf("decrypting snapshot: %w", err)
	}
	return tmp.Close()
}
