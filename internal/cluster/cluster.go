package cluster

import (
	"fmt"
	"strings"

	"github.com/nbroyles/docstore/internal/storage"
)

// Kind tells how a cluster stores its position table
type Kind string

const (
	// KindPhysical clusters keep their positions in a file
	KindPhysical Kind = "physical"
	// KindLogical clusters map their positions onto a backing physical cluster
	KindLogical Kind = "logical"
	// KindMemory clusters keep their positions in memory only
	KindMemory Kind = "memory"
)

const (
	// PhysicalExtension is the file extension of physical cluster position tables
	PhysicalExtension = ".ocl"
	// LogicalExtension is the file extension of logical cluster position maps
	LogicalExtension = ".olm"
)

// ParseKind converts a name such as "PHYSICAL" into a Kind
func ParseKind(name string) (Kind, error) {
	switch kind := Kind(strings.ToLower(name)); kind {
	case KindPhysical, KindLogical, KindMemory:
		return kind, nil
	default:
		return "", fmt.Errorf("cluster type '%s' is not supported. supported types are %v: %w",
			name, []Kind{KindPhysical, KindLogical, KindMemory}, storage.ErrConfiguration)
	}
}

// Cluster is an ordered table of physical positions addressed by cluster position.
// Slots are never reused: removed positions stay in the table marked invalid.
type Cluster interface {
	ID() int
	Name() string
	Kind() Kind

	// AllocatePosition appends a new slot and returns its position. The slot
	// starts at version 0.
	AllocatePosition(dataSegmentID int32, dataOffset int64, recordType byte) (int64, error)

	// SetPosition points an existing slot to a new data location
	SetPosition(pos int64, dataSegmentID int32, dataOffset int64, recordType byte) error

	// UpdateVersion stores a new version for the slot
	UpdateVersion(pos int64, version int32) error

	// UpdateRecordType stores a new record type for the slot
	UpdateRecordType(pos int64, recordType byte) error

	// GetPosition returns the slot at pos, or nil if it is out of range or was removed
	GetPosition(pos int64) (*storage.PhysicalPosition, error)

	// RemovePosition marks the slot invalid
	RemovePosition(pos int64) error

	// Entries returns the number of valid slots
	Entries() int64

	// FirstPosition returns the lowest valid position, -1 if there is none
	FirstPosition() int64

	// LastPosition returns the highest valid position, -1 if there is none
	LastPosition() int64

	// Iterator returns the valid positions in [begin, end] in ascending order.
	// end == -1 means up to the last slot.
	Iterator(begin, end int64) *PositionIterator

	// ReverseIterator is Iterator in descending order
	ReverseIterator(begin, end int64) *PositionIterator

	// Lock and Unlock take the whole cluster exclusively, blocking every
	// holder of RLock. Used by browsing to see a frozen cluster.
	Lock()
	Unlock()

	// RLock and RUnlock are taken around every mutation of the cluster
	RLock()
	RUnlock()

	// Size returns the number of bytes used by the position table
	Size() int64

	Sync() error
	Close() error

	// Remove deletes the position table from its medium
	Remove() error

	slotCount() int64
	isValid(pos int64) bool
}

func outOfRange(c Cluster, pos int64) error {
	return fmt.Errorf("position %d is out of range of cluster %s (#%d): %w", pos, c.Name(), c.ID(),
		storage.ErrRecordNotFound)
}
