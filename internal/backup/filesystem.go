package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileSystemTarget stores database snapshots as files in a directory:
//
//	<root>/
//	  <name>          (snapshot bytes)
//	  <name>.version  (decimal version marker)
type FileSystemTarget struct {
	root string
}

// NewFileSystemTarget creates a new filesystem target rooted at the given path.
func NewFileSystemTarget(root string) (*FileSystemTarget, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &FileSystemTarget{root: root}, nil
}

// PutSnapshot stores a snapshot under the given name, replacing any previous one.
func (t *FileSystemTarget) PutSnapshot(name string, r io.Reader, size int64, version int64) error {
	destPath := filepath.Join(t.root, name)
	if err := t.writeFile(destPath, r, size); err != nil {
		return err
	}

	versionPath := filepath.Join(t.root, name+".version")
	versionData := strconv.FormatInt(version, 10)
	return os.WriteFile(versionPath, []byte(versionData), 0644)
}

// GetSnapshot retrieves the named snapshot and writes it to w.
func (t *FileSystemTarget) GetSnapshot(name string, w io.Writer) error {
	srcPath := filepath.Join(t.root, name)
	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("snapshot not found: %s", name)
		}
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return nil
}

// SnapshotVersion returns the stored version for the named snapshot.
// Returns 0 if no version file exists.
func (t *FileSystemTarget) SnapshotVersion(name string) (int64, error) {
	versionPath := filepath.Join(t.root, name+".version")
	data, err := os.ReadFile(versionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup verifies that the backup directory is accessible.
func (t *FileSystemTarget) ValidateSetup() error {
	info, err := os.Stat(t.root)
	if err != nil {
		return fmt.Errorf("backup directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("backup path is not a directory: %s", t.root)
	}
	return nil
}

// writeFile writes data from r to the specified path using atomic write (temp file + rename).
func (t *FileSystemTarget) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	// Create temp file in the same directory to ensure atomic rename works
	dir := filepath.Dir(destPath)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on failure
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// Compile-time check that FileSystemTarget implements the Target interface
var _ Target = (*FileSystemTarget)(nil)
