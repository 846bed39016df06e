package tx

import (
	"fmt"

	"github.com/nbroyles/docstore/internal/storage"
	log "github.com/sirupsen/logrus"
)

// Storage is the set of record operations a transaction is committed through
type Storage interface {
	CreateRecord(clusterID int, content []byte, recordType byte) (storage.RID, error)
	UpdateRecord(rid storage.RID, content []byte, expectedVersion int32, recordType byte) (int32, error)
	DeleteRecord(rid storage.RID, expectedVersion int32) (bool, error)
}

type Committer struct {
	storage Storage
	logger  *log.Entry
}

func NewCommitter(s Storage, logger *log.Entry) *Committer {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	return &Committer{storage: s, logger: logger}
}

// Commit applies every entry of t in order. Entries added to t while it commits
// are applied in further passes until none are left.
func (c *Committer) Commit(t *Transaction) error {
	committed := 0

	for committed < t.Len() {
		batch := t.since(committed)
		for i, entry := range batch {
			if err := c.commitEntry(entry); err != nil {
				return fmt.Errorf("failed committing entry %d of transaction %d: %w", committed+i, t.ID(), err)
			}
		}
		committed += len(batch)
	}

	c.logger.Debugf("committed %d entries of transaction %d", committed, t.ID())

	return nil
}

func (c *Committer) commitEntry(entry *Entry) error {
	if entry.Status == Loaded {
		return nil
	}

	if entry.RID == nil {
		return fmt.Errorf("%s entry has no record id: %w", entry.Status, storage.ErrIllegalState)
	}

	switch entry.Status {
	case Created:
		content, err := entry.Record.Stream()
		if err != nil {
			return fmt.Errorf("failed serializing record %s: %w", entry.RID, err)
		}

		// Serializing can save the record itself through a reference cycle
		if !entry.RID.IsNew() {
			return c.update(entry, content)
		}

		rid, err := c.storage.CreateRecord(entry.RID.ClusterID, content, entry.Record.RecordType())
		if err != nil {
			return err
		}

		*entry.RID = rid
		entry.Record.SetVersion(0)

		return nil

	case Updated:
		content, err := entry.Record.Stream()
		if err != nil {
			return fmt.Errorf("failed serializing record %s: %w", entry.RID, err)
		}

		return c.update(entry, content)

	case Deleted:
		deleted, err := c.storage.DeleteRecord(*entry.RID, entry.Record.Version())
		if err != nil {
			return err
		}

		if !deleted {
			c.logger.Debugf("record %s was already deleted", entry.RID)
		}

		return nil

	default:
		return fmt.Errorf("unknown status %s of record %s: %w", entry.Status, entry.RID, storage.ErrIllegalState)
	}
}

func (c *Committer) update(entry *Entry, content []byte) error {
	version, err := c.storage.UpdateRecord(*entry.RID, content, entry.Record.Version(), entry.Record.RecordType())
	if err != nil {
		return err
	}

	entry.Record.SetVersion(version)

	return nil
}
