package cluster

import (
	"fmt"
	"sync"

	"github.com/nbroyles/docstore/internal/file"
	"github.com/nbroyles/docstore/internal/storage"
	log "github.com/sirupsen/logrus"
)

// header: slot count (int64), valid entries (int64)
const physicalHeaderSize = 16

// Physical is a cluster whose slots live in an arena mirrored to a medium. The
// arena is append-only, removed slots keep their place with Valid set to false.
type Physical struct {
	browse  sync.RWMutex
	lock    sync.RWMutex
	id      int
	name    string
	kind    Kind
	medium  file.Medium
	codec   storage.Codec
	slots   []storage.PhysicalPosition
	entries int64
}

var _ Cluster = &Physical{}

// CreatePhysical initializes an empty physical cluster on medium
func CreatePhysical(id int, name string, medium file.Medium) (*Physical, error) {
	return create(id, name, KindPhysical, medium)
}

// NewMemory returns a cluster whose positions are lost on close
func NewMemory(id int, name string) *Physical {
	c, err := create(id, name, KindMemory, file.NewMemory(name))
	if err != nil {
		log.Panicf("failed creating memory cluster %s: %v", name, err)
	}

	return c
}

func create(id int, name string, kind Kind, medium file.Medium) (*Physical, error) {
	c := &Physical{id: id, name: name, kind: kind, medium: medium}
	if err := c.writeHeader(); err != nil {
		return nil, fmt.Errorf("failed initializing cluster %s: %w", name, err)
	}

	return c, nil
}

// OpenPhysical loads the position table of an existing physical cluster
func OpenPhysical(id int, name string, medium file.Medium) (*Physical, error) {
	count, err := file.ReadInt64(medium, 0)
	if err != nil {
		return nil, fmt.Errorf("failed opening cluster %s: %w", name, err)
	}

	size, err := medium.Size()
	if err != nil {
		return nil, fmt.Errorf("failed opening cluster %s: %w", name, err)
	}

	if count < 0 || physicalHeaderSize+count*storage.SlotSize > size {
		return nil, &storage.CorruptionError{Segment: name, Offset: 0,
			Reason: fmt.Sprintf("cluster declares %d slots but file holds %d bytes", count, size)}
	}

	c := &Physical{id: id, name: name, kind: KindPhysical, medium: medium, slots: make([]storage.PhysicalPosition, count)}

	if count > 0 {
		buf := make([]byte, count*storage.SlotSize)
		if _, err := medium.ReadAt(buf, physicalHeaderSize); err != nil {
			return nil, fmt.Errorf("failed reading positions of cluster %s: %w", name, err)
		}

		for i := int64(0); i < count; i++ {
			ppos, err := c.codec.DecodePosition(buf[i*storage.SlotSize : (i+1)*storage.SlotSize])
			if err != nil {
				return nil, fmt.Errorf("failed decoding position %d of cluster %s: %w", i, name, err)
			}

			c.slots[i] = *ppos
			if ppos.Valid {
				c.entries++
			}
		}
	}

	if stored, err := file.ReadInt64(medium, 8); err != nil {
		return nil, fmt.Errorf("failed opening cluster %s: %w", name, err)
	} else if stored != c.entries {
		log.Warnf("cluster %s declares %d entries but holds %d valid positions. using %d",
			name, stored, c.entries, c.entries)
	}

	return c, nil
}

func (c *Physical) ID() int {
	return c.id
}

func (c *Physical) Name() string {
	return c.name
}

func (c *Physical) Kind() Kind {
	return c.kind
}

func (c *Physical) AllocatePosition(dataSegmentID int32, dataOffset int64, recordType byte) (int64, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	pos := int64(len(c.slots))
	ppos := storage.PhysicalPosition{
		DataSegmentID: dataSegmentID,
		DataOffset:    dataOffset,
		RecordType:    recordType,
		Version:       0,
		Valid:         true,
	}

	if err := c.writeSlot(pos, &ppos); err != nil {
		return -1, err
	}

	c.slots = append(c.slots, ppos)
	c.entries++

	if err := c.writeHeader(); err != nil {
		return -1, err
	}

	return pos, nil
}

func (c *Physical) SetPosition(pos int64, dataSegmentID int32, dataOffset int64, recordType byte) error {
	return c.update(pos, func(ppos *storage.PhysicalPosition) {
		ppos.DataSegmentID = dataSegmentID
		ppos.DataOffset = dataOffset
		ppos.RecordType = recordType
	})
}

func (c *Physical) UpdateVersion(pos int64, version int32) error {
	return c.update(pos, func(ppos *storage.PhysicalPosition) {
		ppos.Version = version
	})
}

func (c *Physical) UpdateRecordType(pos int64, recordType byte) error {
	return c.update(pos, func(ppos *storage.PhysicalPosition) {
		ppos.RecordType = recordType
	})
}

func (c *Physical) update(pos int64, fn func(ppos *storage.PhysicalPosition)) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if pos < 0 || pos >= int64(len(c.slots)) || !c.slots[pos].Valid {
		return outOfRange(c, pos)
	}

	ppos := c.slots[pos]
	fn(&ppos)

	if err := c.writeSlot(pos, &ppos); err != nil {
		return err
	}
	c.slots[pos] = ppos

	return nil
}

func (c *Physical) GetPosition(pos int64) (*storage.PhysicalPosition, error) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	if pos < 0 || pos >= int64(len(c.slots)) || !c.slots[pos].Valid {
		return nil, nil
	}

	ppos := c.slots[pos]
	return &ppos, nil
}

func (c *Physical) RemovePosition(pos int64) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if pos < 0 || pos >= int64(len(c.slots)) || !c.slots[pos].Valid {
		return outOfRange(c, pos)
	}

	ppos := c.slots[pos]
	ppos.Valid = false

	if err := c.writeSlot(pos, &ppos); err != nil {
		return err
	}
	c.slots[pos] = ppos
	c.entries--

	return c.writeHeader()
}

func (c *Physical) Entries() int64 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return c.entries
}

func (c *Physical) FirstPosition() int64 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	for i := range c.slots {
		if c.slots[i].Valid {
			return int64(i)
		}
	}

	return -1
}

func (c *Physical) LastPosition() int64 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	for i := len(c.slots) - 1; i >= 0; i-- {
		if c.slots[i].Valid {
			return int64(i)
		}
	}

	return -1
}

func (c *Physical) Iterator(begin, end int64) *PositionIterator {
	return newIterator(c, begin, end, false)
}

func (c *Physical) ReverseIterator(begin, end int64) *PositionIterator {
	return newIterator(c, begin, end, true)
}

func (c *Physical) Lock() {
	c.browse.Lock()
}

func (c *Physical) Unlock() {
	c.browse.Unlock()
}

func (c *Physical) RLock() {
	c.browse.RLock()
}

func (c *Physical) RUnlock() {
	c.browse.RUnlock()
}

func (c *Physical) Size() int64 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return physicalHeaderSize + int64(len(c.slots))*storage.SlotSize
}

func (c *Physical) Sync() error {
	return c.medium.Sync()
}

func (c *Physical) Close() error {
	if err := c.medium.Sync(); err != nil {
		return err
	}

	return c.medium.Close()
}

func (c *Physical) Remove() error {
	return c.medium.Remove()
}

func (c *Physical) slotCount() int64 {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return int64(len(c.slots))
}

func (c *Physical) isValid(pos int64) bool {
	c.lock.RLock()
	defer c.lock.RUnlock()

	return pos >= 0 && pos < int64(len(c.slots)) && c.slots[pos].Valid
}

func (c *Physical) writeSlot(pos int64, ppos *storage.PhysicalPosition) error {
	data, err := c.codec.EncodePosition(ppos)
	if err != nil {
		return fmt.Errorf("could not encode position %d of cluster %s: %w", pos, c.name, err)
	}

	if err := file.Write(c.medium, data, physicalHeaderSize+pos*storage.SlotSize); err != nil {
		return fmt.Errorf("failed writing position %d of cluster %s: %w", pos, c.name, err)
	}

	return nil
}

func (c *Physical) writeHeader() error {
	if err := file.WriteInt64(c.medium, 0, int64(len(c.slots))); err != nil {
		return err
	}

	return file.WriteInt64(c.medium, 8, c.entries)
}
