package file

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Medium is the byte store underneath clusters and data segments. File mediums are
// durable, memory mediums vanish on close.
type Medium interface {
	io.ReaderAt
	io.WriterAt

	// Name returns the path of the file or the name of the memory medium
	Name() string

	// Size returns the number of bytes currently held
	Size() (int64, error)

	// Sync flushes pending writes to stable storage
	Sync() error

	// Close releases the medium. It can't be used afterwards.
	Close() error

	// Remove closes the medium and deletes its backing store
	Remove() error
}

// ReadInt64 reads a big endian int64 at offset
func ReadInt64(m Medium, offset int64) (int64, error) {
	buf := make([]byte, 8)
	if _, err := m.ReadAt(buf, offset); err != nil {
		return 0, fmt.Errorf("failed reading header of %s at %d: %w", m.Name(), offset, err)
	}

	return int64(binary.BigEndian.Uint64(buf)), nil
}

// WriteInt64 writes a big endian int64 at offset
func WriteInt64(m Medium, offset int64, value int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(value))

	return write(m, buf, offset)
}

// Write writes all of data at offset or fails
func Write(m Medium, data []byte, offset int64) error {
	return write(m, data, offset)
}

func write(m Medium, data []byte, offset int64) error {
	if n, err := m.WriteAt(data, offset); n != len(data) {
		if err == nil {
			err = io.ErrShortWrite
		}
		return fmt.Errorf("failed to write all bytes to %s. n=%d, expected=%d: %w", m.Name(), n, len(data), err)
	} else if err != nil {
		return fmt.Errorf("failure writing %s: %w", m.Name(), err)
	}

	return nil
}
