package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrentModification is returned when an update or delete carries a stale version
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrRecordNotFound is returned when a record was deleted or never existed
	ErrRecordNotFound = errors.New("record not found")
	// ErrConfiguration is returned for invalid cluster/segment references and manifest mismatches
	ErrConfiguration = errors.New("configuration error")
	// ErrStorage wraps I/O failures, corruption and lock acquisition failures
	ErrStorage = errors.New("storage error")
	// ErrIllegalState is returned when operating on a storage that is not open
	ErrIllegalState = errors.New("illegal state")
	// ErrCorruption is returned when persisted bytes can't be trusted
	ErrCorruption = errors.New("data corruption")
	// ErrLockTimeout is returned when a record lock could not be acquired in time
	ErrLockTimeout = errors.New("lock timeout")
)

// ConcurrentModificationError reports a version mismatch on update or delete.
// Nothing was modified when it is returned.
type ConcurrentModificationError struct {
	RID      RID
	Op       string
	Current  int32
	Expected int32
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("can't %s record %s because it has been modified by another user (v%d != v%d). "+
		"reload it and retry", e.Op, e.RID, e.Current, e.Expected)
}

func (e *ConcurrentModificationError) Unwrap() error {
	return ErrConcurrentModification
}

// CorruptionError reports unreadable data in a segment
type CorruptionError struct {
	Segment string
	Offset  int64
	Reason  string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupted data in segment %s at offset %d: %s", e.Segment, e.Offset, e.Reason)
}

func (e *CorruptionError) Unwrap() []error {
	return []error{ErrCorruption, ErrStorage}
}
