package backup

import (
	"fmt"

	"gutensync/internal/config"
)

// NewTargetFromConfig creates a Target implementation based on the backup
// config type. A "none" target disables snapshots; the caller receives nil.
func NewTargetFromConfig(cfg config.BackupConfig) (Target, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "memory":
		return NewMemoryTarget(), nil
	case "s3":
		return NewS3Target(cfg)
	case "filesystem":
		if cfg.FSBackupDir == "" {
			return nil, fmt.Errorf("filesystem backup requires fs_backup_dir to be set")
		}
		return NewFileSystemTarget(cfg.FSBackupDir)
	default:
		return nil, fmt.Errorf("unknown backup type: %s", cfg.Type)
	}
}
