package backup

import "io"

// Target provides an interface for database snapshot destinations.
// All operations use io.Reader/io.Writer for streaming to support large
// snapshots without loading them entirely into memory.
type Target interface {
	// PutSnapshot stores a snapshot under the given name, replacing any
	// previous snapshot with that name. size is the number of bytes that
	// will be read from r. version is stored alongside the snapshot for
	// consistency checks.
	PutSnapshot(name string, r io.Reader, size int64, version int64) error

	// GetSnapshot retrieves the named snapshot and writes it to w.
	GetSnapshot(name string, w io.Writer) error

	// SnapshotVersion returns the stored version for the named snapshot.
	// Returns 0 if no snapshot has been stored under that name.
	SnapshotVersion(name string) (int64, error)

	// ValidateSetup verifies that the target is accessible and properly configured.
	ValidateSetup() error
}

// SnapshotName is the object name under which the corpus database is stored.
const SnapshotName = "gutensync.db"
