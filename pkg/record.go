package pkg

import (
	"fmt"

	"github.com/nbroyles/docstore/internal/cluster"
	"github.com/nbroyles/docstore/internal/lock"
	"github.com/nbroyles/docstore/internal/storage"
)

// CreateRecord stores content in clusterID and returns its RID. The record starts at
// version 0 and can be read as soon as this returns.
func (e *engine) CreateRecord(clusterID int, content []byte, recordType byte) (RID, error) {
	e.lock.RLock()
	defer e.lock.RUnlock()

	if err := e.checkOpen(); err != nil {
		return RID{}, err
	}

	c, err := e.clusterByID(clusterID)
	if err != nil {
		return RID{}, err
	}

	return e.createRecord(c, content, recordType)
}

func (e *engine) createRecord(c cluster.Cluster, content []byte, recordType byte) (RID, error) {
	if content == nil {
		return RID{}, fmt.Errorf("can't create record in cluster %s with nil content: %w", c.Name(), ErrConfiguration)
	}

	c.RLock()
	defer c.RUnlock()

	seg, err := e.segmentFor(c.ID(), content)
	if err != nil {
		return RID{}, err
	}

	offset, err := seg.Add(storage.NewRID(c.ID()), content)
	if err != nil {
		return RID{}, storageError(err, "failed creating record in cluster %s", c.Name())
	}

	pos, err := c.AllocatePosition(int32(seg.ID()), offset, recordType)
	if err != nil {
		if freeErr := seg.Delete(offset); freeErr != nil {
			e.logger.Errorf("failed freeing data of record not created in cluster %s: %v", c.Name(), freeErr)
		}
		return RID{}, storageError(err, "failed creating record in cluster %s", c.Name())
	}

	e.version.Add(1)

	return RID{ClusterID: c.ID(), ClusterPosition: pos}, nil
}

// ReadRecord returns the content of rid, or nil if the record does not exist
func (e *engine) ReadRecord(rid RID) (*RawBuffer, error) {
	c, err := e.resolve(rid.ClusterID)
	if err != nil {
		return nil, err
	}

	return e.readRecord(c, RID{ClusterID: c.ID(), ClusterPosition: rid.ClusterPosition}, true)
}

// readRecord reads rid under its shared record lock. The engine lock is taken too
// when atomic is set; browses holding the whole cluster already hold it.
func (e *engine) readRecord(c cluster.Cluster, rid RID, atomic bool) (*RawBuffer, error) {
	if rid.ClusterPosition < 0 {
		return nil, fmt.Errorf("can't read record %s with a negative position: %w", rid, ErrConfiguration)
	}

	if atomic {
		e.lock.RLock()
		defer e.lock.RUnlock()

		if err := e.checkOpen(); err != nil {
			return nil, err
		}

		if current, err := e.clusterByID(c.ID()); err != nil {
			return nil, err
		} else if current != c {
			return nil, fmt.Errorf("cluster %s was dropped: %w", c.Name(), ErrConfiguration)
		}
	}

	if err := e.locks.Acquire(rid, lock.Shared); err != nil {
		return nil, err
	}
	defer e.locks.Release(rid, lock.Shared)

	ppos, err := c.GetPosition(rid.ClusterPosition)
	if err != nil {
		return nil, storageError(err, "failed reading record %s", rid)
	} else if ppos == nil {
		return nil, nil
	}

	seg, err := e.segment(ppos.DataSegmentID)
	if err != nil {
		return nil, err
	}

	content, err := seg.Get(ppos.DataOffset)
	if err != nil {
		return nil, storageError(err, "failed reading record %s", rid)
	}

	return &RawBuffer{Buffer: content, Version: ppos.Version, RecordType: ppos.RecordType}, nil
}

// UpdateRecord replaces the content of rid and returns its new version. It fails
// with a ConcurrentModificationError when expectedVersion is not -1 and differs from
// the stored version.
func (e *engine) UpdateRecord(rid RID, content []byte, expectedVersion int32, recordType byte) (int32, error) {
	e.lock.RLock()
	defer e.lock.RUnlock()

	if err := e.checkOpen(); err != nil {
		return -1, err
	}

	c, err := e.clusterByID(rid.ClusterID)
	if err != nil {
		return -1, err
	}

	return e.updateRecord(c, RID{ClusterID: c.ID(), ClusterPosition: rid.ClusterPosition}, content,
		expectedVersion, recordType)
}

func (e *engine) updateRecord(c cluster.Cluster, rid RID, content []byte, expectedVersion int32,
	recordType byte) (int32, error) {
	if content == nil {
		return -1, fmt.Errorf("can't update record %s with nil content: %w", rid, ErrConfiguration)
	}

	c.RLock()
	defer c.RUnlock()

	if err := e.locks.Acquire(rid, lock.Exclusive); err != nil {
		return -1, err
	}
	defer e.locks.Release(rid, lock.Exclusive)

	ppos, err := c.GetPosition(rid.ClusterPosition)
	if err != nil {
		return -1, storageError(err, "failed updating record %s", rid)
	} else if ppos == nil {
		return -1, fmt.Errorf("can't update record %s: %w", rid, ErrRecordNotFound)
	}

	if expectedVersion >= 0 && expectedVersion != ppos.Version {
		return -1, &ConcurrentModificationError{RID: rid, Op: "update", Current: ppos.Version,
			Expected: expectedVersion}
	}

	version := ppos.Version + 1

	seg, err := e.segment(ppos.DataSegmentID)
	if err != nil {
		return -1, err
	}

	offset, err := seg.Set(ppos.DataOffset, rid, content)
	if err != nil {
		return -1, storageError(err, "failed updating record %s", rid)
	}

	if offset != ppos.DataOffset || recordType != ppos.RecordType {
		if err := c.SetPosition(rid.ClusterPosition, ppos.DataSegmentID, offset, recordType); err != nil {
			return -1, storageError(err, "failed updating position of record %s", rid)
		}
	}

	if err := c.UpdateVersion(rid.ClusterPosition, version); err != nil {
		return -1, storageError(err, "failed updating version of record %s", rid)
	}

	e.version.Add(1)

	return version, nil
}

// DeleteRecord removes rid and frees its data. Returns false if the record was
// already deleted or never existed.
func (e *engine) DeleteRecord(rid RID, expectedVersion int32) (bool, error) {
	e.lock.RLock()
	defer e.lock.RUnlock()

	if err := e.checkOpen(); err != nil {
		return false, err
	}

	c, err := e.clusterByID(rid.ClusterID)
	if err != nil {
		return false, err
	}

	return e.deleteRecord(c, RID{ClusterID: c.ID(), ClusterPosition: rid.ClusterPosition}, expectedVersion)
}

func (e *engine) deleteRecord(c cluster.Cluster, rid RID, expectedVersion int32) (bool, error) {
	c.RLock()
	defer c.RUnlock()

	if err := e.locks.Acquire(rid, lock.Exclusive); err != nil {
		return false, err
	}
	defer e.locks.Release(rid, lock.Exclusive)

	ppos, err := c.GetPosition(rid.ClusterPosition)
	if err != nil {
		return false, storageError(err, "failed deleting record %s", rid)
	} else if ppos == nil {
		return false, nil
	}

	if expectedVersion >= 0 && expectedVersion != ppos.Version {
		return false, &ConcurrentModificationError{RID: rid, Op: "delete", Current: ppos.Version,
			Expected: expectedVersion}
	}

	seg, err := e.segment(ppos.DataSegmentID)
	if err != nil {
		return false, err
	}

	if err := c.RemovePosition(rid.ClusterPosition); err != nil {
		return false, storageError(err, "failed deleting record %s", rid)
	}

	if err := seg.Delete(ppos.DataOffset); err != nil {
		return false, storageError(err, "failed freeing data of record %s", rid)
	}

	e.version.Add(1)

	return true, nil
}
