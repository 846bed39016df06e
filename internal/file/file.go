package file

import (
	"fmt"
	"os"
	"path"
)

// FileMedium is a Medium backed by a file on disk
type FileMedium struct {
	file *os.File
	path string
}

var _ Medium = &FileMedium{}

// Create creates the file at filePath. Create fails if the file already exists
func Create(filePath string) (*FileMedium, error) {
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		if err != nil {
			return nil, fmt.Errorf("failure checking for %s existence: %w", filePath, err)
		}
		return nil, fmt.Errorf("attempting to create %s but already exists", filePath)
	}

	if err := os.MkdirAll(path.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("could not create directory for %s: %w", filePath, err)
	}

	f, err := os.OpenFile(filePath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("could not create %s file: %w", filePath, err)
	}

	return &FileMedium{file: f, path: filePath}, nil
}

// Open opens an existing file at filePath
func Open(filePath string) (*FileMedium, error) {
	f, err := os.OpenFile(filePath, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("could not open %s file: %w", filePath, err)
	}

	return &FileMedium{file: f, path: filePath}, nil
}

// Exists checks if a file exists at filePath
func Exists(filePath string) (bool, error) {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failure checking to see if %s exists: %w", filePath, err)
	}

	return true, nil
}

func (f *FileMedium) ReadAt(p []byte, off int64) (int, error) {
	return f.file.ReadAt(p, off)
}

func (f *FileMedium) WriteAt(p []byte, off int64) (int, error) {
	return f.file.WriteAt(p, off)
}

func (f *FileMedium) Name() string {
	return f.path
}

func (f *FileMedium) Size() (int64, error) {
	info, err := f.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", f.path, err)
	}

	return info.Size(), nil
}

// Truncate discards everything past size
func (f *FileMedium) Truncate(size int64) error {
	if err := f.file.Truncate(size); err != nil {
		return fmt.Errorf("failed to truncate %s to %d bytes: %w", f.path, size, err)
	}

	return nil
}

func (f *FileMedium) Sync() error {
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("failed syncing %s to disk: %w", f.path, err)
	}

	return nil
}

func (f *FileMedium) Close() error {
	if err := f.file.Close(); err != nil {
		return fmt.Errorf("failed closing %s: %w", f.path, err)
	}

	return nil
}

func (f *FileMedium) Remove() error {
	// Closing twice is harmless here; the file may already be closed by a storage close
	_ = f.file.Close()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed removing %s: %w", f.path, err)
	}

	return nil
}
