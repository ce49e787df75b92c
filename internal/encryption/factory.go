package encryption

import (
	"fmt"

	"gutensync/internal/backup"
	"gutensync/internal/config"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
// Snapshot encryption is optional: a "none" (or empty) type means snapshots are
// shipped as plain SQLite files and a nil Encryptor is returned.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (backup.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "age":
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewTestEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}
