package backup

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// MemoryTarget is an in-memory implementation of the Target interface,
// useful for testing. It is safe for concurrent use.
type MemoryTarget struct {
	snapshots map[string][]byte
	versions  map[string]int64
	mu        sync.RWMutex
}

// NewMemoryTarget creates a new in-memory snapshot target.
func NewMemoryTarget() *MemoryTarget {
	return &MemoryTarget{
		snapshots: make(map[string][]byte),
		versions:  make(map[string]int64),
	}
}

// PutSnapshot stores a snapshot under the given name, replacing any previous one.
func (m *MemoryTarget) PutSnapshot(name string, r io.Reader, size int64, version int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[name] = data
	m.versions[name] = version
	return nil
}

// GetSnapshot retrieves the named snapshot and writes it to w.
func (m *MemoryTarget) GetSnapshot(name string, w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.snapshots[name]
	if !ok {
		return fmt.Errorf("snapshot not found: %s", name)
	}

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// SnapshotVersion returns the stored version for the named snapshot.
// Returns 0 if no snapshot has been stored under that name.
func (m *MemoryTarget) SnapshotVersion(name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.versions[name], nil
}

// ValidateSetup always succeeds for the in-memory target.
func (m *MemoryTarget) ValidateSetup() error {
	return nil
}

// Compile-time check that MemoryTarget implements the Target interface
var _ Target = (*MemoryTarget)(nil)
