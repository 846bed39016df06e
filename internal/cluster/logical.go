package cluster

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/nbroyles/docstore/internal/file"
	"github.com/nbroyles/docstore/internal/storage"
)

// header: mapping count (int64), valid entries (int64). Each mapping is the position
// in the backing cluster, -1 once removed.
const (
	logicalHeaderSize = 16
	mappingSize       = 8
)

// Logical is a cluster without its own physical positions. Each logical position
// maps to a position of a backing physical cluster, which holds the record's
// data location and version.
type Logical struct {
	browse  sync.RWMutex
	lock    sync.RWMutex
	id      int
	name    string
	backing Cluster
	medium  file.Medium
	mapping []int64
	entries int64
}

var _ Cluster = &Logical{}

// CreateLogical initializes an empty logical cluster on top of backing
func CreateLogical(id int, name string, backing Cluster, medium file.Medium) (*Logical, error) {
	if backing.Kind() == KindLogical {
		return nil, fmt.Errorf("logical cluster %s can't be backed by logical cluster %s: %w",
			name, backing.Name(), storage.ErrConfiguration)
	}

	c := &Logical{id: id, name: name, backing: backing, medium: medium}
	if err := c.writeHeader(); err != nil {
		return nil, fmt.Errorf("failed initializing logical cluster %s: %w", name, err)
	}

	return c, nil
}

// OpenLogical loads the position map of an existing logical cluster
func OpenLogical(id int, name string, backing Cluster, medium file.Medium) (*Logical, error) {
	count, err := file.ReadInt64(medium, 0)
	if err != nil {
		return nil, fmt.Errorf("failed opening logical cluster %s: %w", name, err)
	}

	size, err := medium.Size()
	if err != nil {
		return nil, fmt.Errorf("failed opening logical cluster %s: %w", name, err)
	}

	if count < 0 || logicalHeaderSize+count*mappingSize > size {
		return nil, &storage.CorruptionError{Segment: name, Offset: 0,
			Reason: fmt.Sprintf("logical cluster declares %d positions but file holds %d bytes", count, size)}
	}

	c := &Logical{id: id, name: name, backing: backing, medium: medium, mapping: make([]int64, count)}
	if count > 0 {
		buf := make([]byte, count*mappingSize)
		if _, err := medium.ReadAt(buf, logicalHeaderSize); err != nil {
			return nil, fmt.Errorf("failed reading positions of logical cluster %s: %w", name, err)
		}

		for i := range c.mapping {
			c.mapping[i] = int64(binary.BigEndian.Uint64(buf[i*mappingSize:]))
			if c.mapping[i] >= 0 {
				c.entries++
			}
		}
	}

	return c, nil
}

func (c *Logical) ID() int {
	return c.id
}

func (c *Logical) Name() string {
	return c.name
}

func (c *Logical) Kind() Kind {
	return KindLogical
}

// Backing returns the physical cluster holding this cluster's positions
func (c *Logical) Backing() Cluster {
	return c.backing
}

func (c *Logical) AllocatePosition(dataSegmentID int32, dataOffset int64, recordType byte) (int64, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	physical, err := c.backing.AllocatePosition(dataSegmentID, dataOffset, recordType)
	if err != nil {
		return -1, err
	}

	pos := int64(len(c.mapping))
	if err := c.writeMapping(pos, physical); err != nil {
		return -1, err
	}

	c.mapping = append(c.mapping, physical)
	c.entries++

	if err := c.writeHeader(); err != nil {
		return -1, err
	}

	return pos, nil
}

func (c *Logical) SetPosition(pos int64, dataSegmentID int32, dataOffset int64, recordType byte) error {
	physical, err := c.resolve(pos)
	if err != nil {
		return err
	}

	return c.backing.SetPosition(physical, dataSegmentID, dataOffset, recordType)
}

func (c *Logical) UpdateVersion(pos int64, version int32) error {
	physical, err := c.resolve(pos)
	if err != nil {
		return err
	}

	return c.backing.UpdateVersion(physical, version)
}

func (c *Logical) UpdateRecordType(pos int64, recordType byte) error {
	physical, err := c.resolve(pos)
	if err != nil {
		return err
	}

	return c.backing.UpdateRecordType(physical, recordType)
}

func (c *Logical) GetPosition(pos int64) (*storage.PhysicalPosition, error) {
	c.lock.RLock()
	physical := c.lookup(pos)
	c.lock.RUnlock()

	if physical < 0 {
		return nil, nil
	}

	return c.backing.GetPosition(physical)
}

func (c *Logical) RemovePosition(pos int64) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	physical := c.lookup(pos)
	if physical < 0 {
		return outOfRange(c, pos)
	}

	if err := c.backing.RemovePosition(physical); err != nil {
		return err
	}

	if err := c.writeMapping(pos, -1); err != nil {
		return err
	}
	c.mapping[pos] = -1
	c.entries--

	return c.writeHeader()
}

func (c *Logical) resolve(pos int64) (int64, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	physical := c.lookup(pos)
	if physical < 0 {
		return -1, outOfRange(c, pos)
	}

	return physical, nil
}

func (c *Logical) lookup(pos int64) int64 {
	if pos < 0 || pos >= int64(len(c.mapping)) {
		return -1
	}

	return c.mapping[pos]
}

func (c *Logical) Entries() int64 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return c.entries
}

func (c *Logical) FirstPosition() int64 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	for i, physical := range c.mapping {
		if physical >= 0 {
			return int64(i)
		}
	}

	return -1
}

func (c *Logical) LastPosition() int64 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	for i := len(c.mapping) - 1; i >= 0; i-- {
		if c.mapping[i] >= 0 {
			return int64(i)
		}
	}

	return -1
}

func (c *Logical) Iterator(begin, end int64) *PositionIterator {
	return newIterator(c, begin, end, false)
}

func (c *Logical) ReverseIterator(begin, end int64) *PositionIterator {
	return newIterator(c, begin, end, true)
}

func (c *Logical) Lock() {
	c.browse.Lock()
}

func (c *Logical) Unlock() {
	c.browse.Unlock()
}

// RLock also read locks the backing cluster, whose slots every mutation of c writes
func (c *Logical) RLock() {
	c.browse.RLock()
	c.backing.RLock()
}

func (c *Logical) RUnlock() {
	c.backing.RUnlock()
	c.browse.RUnlock()
}

func (c *Logical) Size() int64 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return logicalHeaderSize + int64(len(c.mapping))*mappingSize
}

func (c *Logical) Sync() error {
	return c.medium.Sync()
}

func (c *Logical) Close() error {
	if err := c.medium.Sync(); err != nil {
		return err
	}

	return c.medium.Close()
}

func (c *Logical) Remove() error {
	return c.medium.Remove()
}

func (c *Logical) slotCount() int64 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return int64(len(c.mapping))
}

func (c *Logical) isValid(pos int64) bool {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return c.lookup(pos) >= 0
}

func (c *Logical) writeMapping(pos int64, physical int64) error {
	buf := make([]byte, mappingSize)
	binary.BigEndian.PutUint64(buf, uint64(physical))

	if err := file.Write(c.medium, buf, logicalHeaderSize+pos*mappingSize); err != nil {
		return fmt.Errorf("failed writing position %d of logical cluster %s: %w", pos, c.name, err)
	}

	return nil
}

func (c *Logical) writeHeader() error {
	if err := file.WriteInt64(c.medium, 0, int64(len(c.mapping))); err != nil {
		return err
	}

	return file.WriteInt64(c.medium, 8, c.entries)
}
