// Package pkg is an embedded record storage. Records are opaque byte payloads
// addressed by a RID, grouped into clusters and stored in data segments. Updates
// and deletes are checked against the record version so concurrent writers of the
// same record never overwrite each other silently.
package pkg

import (
	"github.com/google/uuid"
	"github.com/nbroyles/docstore/internal/cluster"
	"github.com/nbroyles/docstore/internal/storage"
	"github.com/nbroyles/docstore/internal/tx"
)

type (
	RID              = storage.RID
	RawBuffer        = storage.RawBuffer
	Hole             = storage.Hole
	PhysicalPosition = storage.PhysicalPosition
	ClusterKind      = cluster.Kind
)

const (
	RecordTypeDocument = storage.RecordTypeDocument
	RecordTypeBytes    = storage.RecordTypeBytes
	RecordTypeFlat     = storage.RecordTypeFlat

	ClusterPhysical = cluster.KindPhysical
	ClusterLogical  = cluster.KindLogical
	ClusterMemory   = cluster.KindMemory
)

// Names of the clusters every storage is created with
const (
	ClusterInternal = "internal"
	ClusterIndex    = "index"
	ClusterDefault  = "default"
	// DataSegmentDefault is the data segment every storage is created with
	DataSegmentDefault = "default"
)

// BrowseFunc receives every live record of a browse. Returning false stops the browse.
// It must not call back into the storage being browsed.
type BrowseFunc func(rid RID, record *RawBuffer) bool

// CloseListener is called after a storage is closed. Errors are logged and ignored.
type CloseListener func(s Storage) error

// Storage is the record storage contract shared by durable and volatile storages
type Storage interface {
	Name() string
	// ID identifies this storage instance. It's assigned on create and kept across opens.
	ID() uuid.UUID

	Create() error
	Open() error
	Close(force bool) error
	Delete() error
	Exists() bool
	IsClosed() bool

	AddUser() int
	RemoveUser() int
	Users() int
	AddCloseListener(fn CloseListener)

	Synch() error
	// Version is bumped by every change to a record and every commit
	Version() int64
	Size() int64

	CreateRecord(clusterID int, content []byte, recordType byte) (RID, error)
	ReadRecord(rid RID) (*RawBuffer, error)
	UpdateRecord(rid RID, content []byte, expectedVersion int32, recordType byte) (int32, error)
	DeleteRecord(rid RID, expectedVersion int32) (bool, error)

	Count(clusterID int) (int64, error)
	CountClusters(clusterIDs []int) (int64, error)
	Browse(clusterIDs []int, begin, end *RID, fn BrowseFunc, lockWholeCluster bool) error
	BrowseReverse(clusterIDs []int, begin, end *RID, fn BrowseFunc, lockWholeCluster bool) error
	ClusterDataRange(clusterID int) (first int64, last int64, err error)

	AddCluster(name string, kind ClusterKind, opts ...ClusterOption) (int, error)
	DropCluster(clusterID int) (bool, error)
	AddDataSegment(name string) (int, error)
	AddDataSegmentFile(name, fileName string) (int, error)
	ClusterIDByName(name string) (int, error)
	ClusterNames() []string
	ClusterTypeByName(name string) (ClusterKind, error)
	PhysicalClusterNameByID(clusterID int) (string, error)
	DefaultClusterID() int

	Holes() int
	HoleSize() int64
	HoleList() []Hole

	Commit(t *tx.Transaction) error
	Rollback(t *tx.Transaction) error
}
