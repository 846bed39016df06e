package pkg

import (
	"errors"
	"fmt"

	"github.com/nbroyles/docstore/internal/storage"
)

var (
	ErrConcurrentModification = storage.ErrConcurrentModification
	ErrRecordNotFound         = storage.ErrRecordNotFound
	ErrConfiguration          = storage.ErrConfiguration
	ErrStorage                = storage.ErrStorage
	ErrIllegalState           = storage.ErrIllegalState
	ErrCorruption             = storage.ErrCorruption
	ErrLockTimeout            = storage.ErrLockTimeout
)

type (
	ConcurrentModificationError = storage.ConcurrentModificationError
	CorruptionError             = storage.CorruptionError
)

// storageError wraps err with context, marking it as a storage error unless it
// already belongs to the error taxonomy
func storageError(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)

	for _, known := range []error{ErrStorage, ErrConfiguration, ErrRecordNotFound, ErrConcurrentModification,
		ErrIllegalState} {
		if errors.Is(err, known) {
			return fmt.Errorf("%s: %w", msg, err)
		}
	}

	return fmt.Errorf("%s: %w: %w", msg, ErrStorage, err)
}
