package segment

import (
	"fmt"
	"io"
	"sync"

	"github.com/nbroyles/docstore/internal/file"
	"github.com/nbroyles/docstore/internal/storage"
	log "github.com/sirupsen/logrus"
)

const (
	// headerSize is the space reserved at the start of the medium. Holds filledUpTo.
	headerSize = 16
	// DataExtension is the file extension of durable data segments
	DataExtension = ".oda"
	// HolesExtension is the file extension of the hole journal of durable data segments
	HolesExtension = ".odh"
)

// DataSegment is an append-biased pool of variable length blocks. Freed blocks are kept
// in a hole list and reused first-fit by later allocations. Offsets are relative to the
// payload area of the medium.
type DataSegment struct {
	lock       sync.Mutex
	id         int
	name       string
	medium     file.Medium
	journal    *Journal
	codec      storage.Codec
	filledUpTo int64
	holes      []storage.Hole
}

// Create initializes an empty data segment on medium. journal may be nil, in which case
// holes are only tracked in memory.
func Create(id int, name string, medium file.Medium, journal *Journal) (*DataSegment, error) {
	s := &DataSegment{id: id, name: name, medium: medium, journal: journal}
	if err := file.WriteInt64(medium, 0, 0); err != nil {
		return nil, fmt.Errorf("failed initializing data segment %s: %w", name, err)
	}

	return s, nil
}

// Open loads an existing data segment from medium, restoring its holes from journal
func Open(id int, name string, medium file.Medium, journal *Journal) (*DataSegment, error) {
	filledUpTo, err := file.ReadInt64(medium, 0)
	if err != nil {
		return nil, fmt.Errorf("failed opening data segment %s: %w", name, err)
	}

	size, err := medium.Size()
	if err != nil {
		return nil, fmt.Errorf("failed opening data segment %s: %w", name, err)
	}

	if filledUpTo < 0 || headerSize+filledUpTo > size {
		return nil, &storage.CorruptionError{Segment: name, Offset: filledUpTo,
			Reason: fmt.Sprintf("filled up to exceeds file size %d", size)}
	}

	s := &DataSegment{id: id, name: name, medium: medium, journal: journal, filledUpTo: filledUpTo}
	if journal != nil {
		if s.holes, err = journal.Restore(); err != nil {
			return nil, fmt.Errorf("failed restoring holes of data segment %s: %w", name, err)
		}
	}

	for _, hole := range s.holes {
		if hole.Offset < 0 || hole.Offset+int64(hole.Size) > filledUpTo {
			return nil, &storage.CorruptionError{Segment: name, Offset: hole.Offset, Reason: "hole out of bounds"}
		}
	}

	return s, nil
}

// NewMemory returns a volatile data segment
func NewMemory(id int, name string) *DataSegment {
	s, err := Create(id, name, file.NewMemory(name), nil)
	if err != nil {
		log.Panicf("failed creating memory data segment %s: %v", name, err)
	}

	return s
}

func (s *DataSegment) ID() int {
	return s.id
}

func (s *DataSegment) Name() string {
	return s.name
}

// Add stores content and returns its offset. A hole large enough is reused before
// the segment grows.
func (s *DataSegment) Add(rid storage.RID, content []byte) (int64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.add(rid, content)
}

func (s *DataSegment) add(rid storage.RID, content []byte) (int64, error) {
	need := int64(storage.BlockHeaderSize + len(content))

	if idx := s.firstFit(need); idx >= 0 {
		hole := s.holes[idx]
		capacity := int32(len(content))

		remainder := int64(hole.Size) - need
		if remainder < storage.BlockHeaderSize {
			// Not enough left for another block: hand the whole hole to this one
			capacity = hole.Size - storage.BlockHeaderSize
		}

		if err := s.writeBlock(hole.Offset, capacity, rid, content); err != nil {
			return -1, err
		}

		if err := s.journalWrite(storage.HoleRemoved, hole); err != nil {
			return -1, err
		}

		if remainder < storage.BlockHeaderSize {
			s.holes = append(s.holes[:idx], s.holes[idx+1:]...)
		} else {
			split := storage.Hole{Offset: hole.Offset + need, Size: int32(remainder)}
			s.holes[idx] = split
			if err := s.journalWrite(storage.HoleAdded, split); err != nil {
				return -1, err
			}
		}

		return hole.Offset, nil
	}

	offset := s.filledUpTo
	if err := s.writeBlock(offset, int32(len(content)), rid, content); err != nil {
		return -1, err
	}

	if err := file.WriteInt64(s.medium, 0, offset+need); err != nil {
		return -1, fmt.Errorf("failed updating size of data segment %s: %w", s.name, err)
	}
	s.filledUpTo = offset + need

	return offset, nil
}

// Set replaces the content of the block at offset. The block is overwritten in place
// when content fits, otherwise it is moved and the returned offset differs from the
// one passed in. Callers must update the owning position in that case.
func (s *DataSegment) Set(offset int64, rid storage.RID, content []byte) (int64, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	header, err := s.readHeader(offset)
	if err != nil {
		return -1, err
	}

	if int32(len(content)) <= header.Capacity {
		if err := s.writeBlock(offset, header.Capacity, rid, content); err != nil {
			return -1, err
		}
		return offset, nil
	}

	newOffset, err := s.add(rid, content)
	if err != nil {
		return -1, err
	}

	if err := s.free(offset, header); err != nil {
		return -1, err
	}

	return newOffset, nil
}

// Get returns the content of the block at offset
func (s *DataSegment) Get(offset int64) ([]byte, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	header, err := s.readHeader(offset)
	if err != nil {
		return nil, err
	}

	content := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := s.medium.ReadAt(content, headerSize+offset+storage.BlockHeaderSize); err != nil {
			return nil, fmt.Errorf("failed reading record at %d in data segment %s: %w", offset, s.name, err)
		}
	}

	if actual := s.codec.Checksum(content); actual != header.Checksum {
		return nil, &storage.CorruptionError{Segment: s.name, Offset: offset,
			Reason: fmt.Sprintf("checksum mismatch. expected=%d, actual=%d", header.Checksum, actual)}
	}

	return content, nil
}

// Delete frees the block at offset. Its bytes are left untouched until reused.
func (s *DataSegment) Delete(offset int64) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	header, err := s.readHeader(offset)
	if err != nil {
		return err
	}

	return s.free(offset, header)
}

func (s *DataSegment) free(offset int64, header *storage.BlockHeader) error {
	for _, hole := range s.holes {
		if hole.Offset == offset {
			return &storage.CorruptionError{Segment: s.name, Offset: offset, Reason: "block already freed"}
		}
	}

	hole := storage.Hole{Offset: offset, Size: storage.BlockHeaderSize + header.Capacity}
	if err := s.journalWrite(storage.HoleAdded, hole); err != nil {
		return err
	}
	s.holes = append(s.holes, hole)

	return nil
}

func (s *DataSegment) firstFit(need int64) int {
	for i, hole := range s.holes {
		if int64(hole.Size) >= need {
			return i
		}
	}

	return -1
}

func (s *DataSegment) readHeader(offset int64) (*storage.BlockHeader, error) {
	if offset < 0 || offset+storage.BlockHeaderSize > s.filledUpTo {
		return nil, &storage.CorruptionError{Segment: s.name, Offset: offset,
			Reason: fmt.Sprintf("out of bounds. filled up to %d", s.filledUpTo)}
	}

	buf := make([]byte, storage.BlockHeaderSize)
	if _, err := s.medium.ReadAt(buf, headerSize+offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed reading block header at %d in data segment %s: %w", offset, s.name, err)
	}

	header, err := s.codec.DecodeBlockHeader(buf)
	if err != nil {
		return nil, &storage.CorruptionError{Segment: s.name, Offset: offset, Reason: err.Error()}
	}

	if header.Capacity < 0 || header.Length < 0 || header.Length > header.Capacity ||
		offset+storage.BlockHeaderSize+int64(header.Capacity) > s.filledUpTo {
		return nil, &storage.CorruptionError{Segment: s.name, Offset: offset,
			Reason: fmt.Sprintf("invalid block header capacity=%d length=%d", header.Capacity, header.Length)}
	}

	return header, nil
}

func (s *DataSegment) writeBlock(offset int64, capacity int32, rid storage.RID, content []byte) error {
	header, err := s.codec.EncodeBlockHeader(&storage.BlockHeader{
		Capacity:        capacity,
		Length:          int32(len(content)),
		ClusterID:       int32(rid.ClusterID),
		ClusterPosition: rid.ClusterPosition,
		Checksum:        s.codec.Checksum(content),
	})
	if err != nil {
		return fmt.Errorf("could not encode block header for record %s: %w", rid, err)
	}

	block := make([]byte, 0, len(header)+len(content))
	block = append(block, header...)
	block = append(block, content...)

	if err := file.Write(s.medium, block, headerSize+offset); err != nil {
		return fmt.Errorf("failed writing record %s to data segment %s: %w", rid, s.name, err)
	}

	return nil
}

func (s *DataSegment) journalWrite(op storage.HoleOp, hole storage.Hole) error {
	if s.journal == nil {
		return nil
	}

	if err := s.journal.Write(&storage.HoleEvent{Op: op, Hole: hole}); err != nil {
		return fmt.Errorf("failed journaling hole of data segment %s: %w", s.name, err)
	}

	return nil
}

// FilledUpTo returns the end of the last block ever appended
func (s *DataSegment) FilledUpTo() int64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.filledUpTo
}

// Holes returns the number of holes available for reuse
func (s *DataSegment) Holes() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.holes)
}

// HoleSize returns the total number of bytes held by holes
func (s *DataSegment) HoleSize() int64 {
	s.lock.Lock()
	defer s.lock.Unlock()

	size := int64(0)
	for _, hole := range s.holes {
		size += int64(hole.Size)
	}

	return size
}

// HoleList returns a copy of the holes
func (s *DataSegment) HoleList() []storage.Hole {
	s.lock.Lock()
	defer s.lock.Unlock()

	return append([]storage.Hole(nil), s.holes...)
}

// Size returns the number of bytes used on the medium
func (s *DataSegment) Size() int64 {
	return headerSize + s.FilledUpTo()
}

// Sync flushes the segment and its journal
func (s *DataSegment) Sync() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.journal != nil {
		if err := s.journal.Sync(); err != nil {
			return err
		}
	}

	return s.medium.Sync()
}

// Close compacts the hole journal and releases the medium
func (s *DataSegment) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.journal != nil {
		if err := s.journal.Compact(s.holes); err != nil {
			return fmt.Errorf("failed compacting hole journal of data segment %s: %w", s.name, err)
		}
		if err := s.journal.Close(); err != nil {
			return err
		}
	}

	if err := s.medium.Sync(); err != nil {
		return err
	}

	return s.medium.Close()
}

// Remove deletes the segment's medium and journal
func (s *DataSegment) Remove() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.journal != nil {
		if err := s.journal.Remove(); err != nil {
			return err
		}
	}

	return s.medium.Remove()
}
