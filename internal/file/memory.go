package file

import (
	"fmt"
	"io"
	"sync"
)

// MemoryMedium is a Medium backed by a growable byte slice. It never fails with
// I/O errors; reads past the end return io.EOF like a file would.
type MemoryMedium struct {
	lock sync.RWMutex
	name string
	data []byte
}

var _ Medium = &MemoryMedium{}

// NewMemory returns an empty memory medium
func NewMemory(name string) *MemoryMedium {
	return &MemoryMedium{name: name}
}

func (m *MemoryMedium) ReadAt(p []byte, off int64) (int, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	if off < 0 {
		return 0, fmt.Errorf("negative offset %d reading %s", off, m.name)
	}

	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}

	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

func (m *MemoryMedium) WriteAt(p []byte, off int64) (int, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if off < 0 {
		return 0, fmt.Errorf("negative offset %d writing %s", off, m.name)
	}

	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		if end > int64(cap(m.data)) {
			grown := make([]byte, end, 2*end)
			copy(grown, m.data)
			m.data = grown
		} else {
			m.data = m.data[:end]
		}
	}

	return copy(m.data[off:], p), nil
}

func (m *MemoryMedium) Name() string {
	return m.name
}

func (m *MemoryMedium) Size() (int64, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	return int64(len(m.data)), nil
}

func (m *MemoryMedium) Sync() error {
	return nil
}

func (m *MemoryMedium) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.data = nil
	return nil
}

func (m *MemoryMedium) Remove() error {
	return m.Close()
}
