package storage

// Record types understood by the document layer. The engine only stores them.
const (
	RecordTypeDocument byte = 'd'
	RecordTypeBytes    byte = 'b'
	RecordTypeFlat     byte = 'f'
)

// PhysicalPosition is the content of a cluster slot: which data segment holds the
// record, where, and the record's current version
type PhysicalPosition struct {
	DataSegmentID int32
	DataOffset    int64
	RecordType    byte
	Version       int32
	Valid         bool
}

// RawBuffer is a record as returned by a read: its bytes, version and type
type RawBuffer struct {
	Buffer     []byte
	Version    int32
	RecordType byte
}

// Hole is a freed range of a data segment available for reuse. Size includes the
// block header.
type Hole struct {
	Offset int64
	Size   int32
}

// BlockHeader precedes every block allocated in a data segment
type BlockHeader struct {
	Capacity        int32
	Length          int32
	ClusterID       int32
	ClusterPosition int64
	Checksum        uint32
}

// HoleOp is the kind of change recorded in a hole journal
type HoleOp int8

const (
	HoleAdded   HoleOp = iota // a block was freed
	HoleRemoved               // a hole was (partially) consumed by an allocation
)

// HoleEvent is one entry of a data segment's hole journal
type HoleEvent struct {
	Op   HoleOp
	Hole Hole
}
