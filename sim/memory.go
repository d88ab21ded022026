package sim

import "fmt"

// MemoryStore is the slice of the global address space owned by one host.
// Only that host's Delegate touches it, so there is no locking.
type MemoryStore struct {
	words []int64
}

// NewMemoryStore returns a zeroed store of size words.
func NewMemoryStore(size uint64) *MemoryStore {
	if size == 0 {
		panic("NewMemoryStore: size must be > 0")
	}
	return &MemoryStore{words: make([]int64, size)}
}

// Size returns the number of words.
func (m *MemoryStore) Size() uint64 {
	return uint64(len(m.words))
}

func (m *MemoryStore) check(offset uint64) error {
	if offset >= uint64(len(m.words)) {
		return fmt.Errorf("offset %d of %d: %w", offset, len(m.words), ErrOffsetOutOfRange)
	}
	return nil
}

// Read returns the word at offset.
func (m *MemoryStore) Read(offset uint64) (int64, error) {
	if err := m.check(offset); err != nil {
		return 0, err
	}
	return m.words[offset], nil
}

// FetchInc returns the word at offset and increments it.
func (m *MemoryStore) FetchInc(offset uint64) (int64, error) {
	if err := m.check(offset); err != nil {
		return 0, err
	}
	v := m.words[offset]
	m.words[offset]++
	return v, nil
}

// Write stores v at offset. Used to initialise memory before the Delegate starts.
func (m *MemoryStore) Write(offset uint64, v int64) error {
	if err := m.check(offset); err != nil {
		return err
	}
	m.words[offset] = v
	return nil
}

// Snapshot returns a copy of the store contents.
func (m *MemoryStore) Snapshot() []int64 {
	out := make([]int64, len(m.words))
	copy(out, m.words)
	return out
}
