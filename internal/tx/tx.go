// Package tx replays the entries of a client transaction against a storage.
// Entries are applied one by one: a failure stops the batch but entries
// applied before it stay applied.
package tx

import (
	"fmt"
	"sync"

	"github.com/nbroyles/docstore/internal/storage"
)

type Status byte

const (
	// Loaded entries were only read and are not written back
	Loaded Status = iota
	Created
	Updated
	Deleted
)

func (s Status) String() string {
	switch s {
	case Loaded:
		return "LOADED"
	case Created:
		return "CREATED"
	case Updated:
		return "UPDATED"
	case Deleted:
		return "DELETED"
	default:
		return fmt.Sprintf("Status(%d)", byte(s))
	}
}

// Record is the client side view of a record taking part in a transaction
type Record interface {
	// Stream serializes the record. Serializing may save other records into the
	// same transaction, and may even assign this record's position.
	Stream() ([]byte, error)
	Version() int32
	SetVersion(version int32)
	RecordType() byte
}

// Entry is a record operation of a transaction. RID is shared with the client so
// that created records see their assigned position.
type Entry struct {
	Status Status
	RID    *storage.RID
	Record Record
}

type Transaction struct {
	lock    sync.Mutex
	id      int
	entries []*Entry
}

func New(id int) *Transaction {
	return &Transaction{id: id}
}

func (t *Transaction) ID() int {
	return t.id
}

// AddEntry appends an entry. It's safe to call while the transaction commits: the
// committer picks the entry up in a later pass.
func (t *Transaction) AddEntry(entry *Entry) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.entries = append(t.entries, entry)
}

// Entries returns the entries added so far
func (t *Transaction) Entries() []*Entry {
	t.lock.Lock()
	defer t.lock.Unlock()

	return append([]*Entry(nil), t.entries...)
}

func (t *Transaction) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()

	return len(t.entries)
}

func (t *Transaction) since(n int) []*Entry {
	t.lock.Lock()
	defer t.lock.Unlock()

	return append([]*Entry(nil), t.entries[n:]...)
}
