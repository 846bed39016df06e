package pkg

import (
	"github.com/nbroyles/docstore/internal/storage"
	"github.com/nbroyles/docstore/internal/tx"
	"golang.org/x/sync/errgroup"
)

// Commit applies the entries of t. There is no atomicity across records: when an
// entry fails the entries before it stay applied and the error is returned.
func (e *engine) Commit(t *tx.Transaction) error {
	if err := e.commit(t); err != nil {
		return err
	}

	if e.opts.TxCommitSync {
		return e.Synch()
	}

	return nil
}

func (e *engine) commit(t *tx.Transaction) error {
	e.lock.RLock()
	defer e.lock.RUnlock()

	if err := e.checkOpen(); err != nil {
		return err
	}

	if err := tx.NewCommitter(committing{e}, e.logger).Commit(t); err != nil {
		return err
	}

	e.version.Add(1)

	return nil
}

// Rollback does nothing: entries are only written on commit
func (e *engine) Rollback(t *tx.Transaction) error {
	e.logger.Debugf("rolled back transaction %d", t.ID())
	return nil
}

// committing runs record operations for a commit, which already holds the engine lock
type committing struct {
	e *engine
}

func (c committing) CreateRecord(clusterID int, content []byte, recordType byte) (storage.RID, error) {
	cl, err := c.e.clusterByID(clusterID)
	if err != nil {
		return storage.RID{}, err
	}

	return c.e.createRecord(cl, content, recordType)
}

func (c committing) UpdateRecord(rid storage.RID, content []byte, expectedVersion int32,
	recordType byte) (int32, error) {
	cl, err := c.e.clusterByID(rid.ClusterID)
	if err != nil {
		return -1, err
	}

	return c.e.updateRecord(cl, storage.RID{ClusterID: cl.ID(), ClusterPosition: rid.ClusterPosition}, content,
		expectedVersion, recordType)
}

func (c committing) DeleteRecord(rid storage.RID, expectedVersion int32) (bool, error) {
	cl, err := c.e.clusterByID(rid.ClusterID)
	if err != nil {
		return false, err
	}

	return c.e.deleteRecord(cl, storage.RID{ClusterID: cl.ID(), ClusterPosition: rid.ClusterPosition},
		expectedVersion)
}

// Synch saves the version and flushes every cluster and data segment
func (e *engine) Synch() error {
	e.lock.Lock()
	defer e.lock.Unlock()

	if err := e.checkOpen(); err != nil {
		return err
	}

	if err := e.manifest.SaveVersion(e.version.Load()); err != nil {
		return storageError(err, "failed saving version of storage %s", e.name)
	}

	g := errgroup.Group{}
	for _, c := range e.clusters {
		if c == nil {
			continue
		}

		g.Go(c.Sync)
	}

	for _, s := range e.segments {
		g.Go(s.Sync)
	}

	if err := g.Wait(); err != nil {
		return storageError(err, "failed synching storage %s", e.name)
	}

	return nil
}
