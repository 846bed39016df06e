package tx

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nbroyles/docstore/internal/storage"
	"github.com/nbroyles/docstore/internal/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stored struct {
	content []byte
	version int32
}

type fakeStorage struct {
	records   map[storage.RID]*stored
	positions map[int]int64
	failOn    string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{records: make(map[storage.RID]*stored), positions: make(map[int]int64)}
}

func (f *fakeStorage) CreateRecord(clusterID int, content []byte, _ byte) (storage.RID, error) {
	if f.failOn == string(content) {
		return storage.RID{}, fmt.Errorf("disk full: %w", storage.ErrStorage)
	}

	rid := storage.RID{ClusterID: clusterID, ClusterPosition: f.positions[clusterID]}
	f.positions[clusterID]++
	f.records[rid] = &stored{content: content}

	return rid, nil
}

func (f *fakeStorage) UpdateRecord(rid storage.RID, content []byte, expectedVersion int32, _ byte) (int32, error) {
	rec, ok := f.records[rid]
	if !ok {
		return -1, storage.ErrRecordNotFound
	}

	if expectedVersion >= 0 && expectedVersion != rec.version {
		return -1, &storage.ConcurrentModificationError{RID: rid, Op: "update", Current: rec.version,
			Expected: expectedVersion}
	}

	rec.content = content
	rec.version++

	return rec.version, nil
}

func (f *fakeStorage) DeleteRecord(rid storage.RID, expectedVersion int32) (bool, error) {
	rec, ok := f.records[rid]
	if !ok {
		return false, nil
	}

	if expectedVersion >= 0 && expectedVersion != rec.version {
		return false, &storage.ConcurrentModificationError{RID: rid, Op: "delete", Current: rec.version,
			Expected: expectedVersion}
	}

	delete(f.records, rid)
	return true, nil
}

func newRID(clusterID int) *storage.RID {
	rid := storage.NewRID(clusterID)
	return &rid
}

func TestCommitter_AppliesEntries(t *testing.T) {
	s := newFakeStorage()
	existing, _ := s.CreateRecord(3, []byte("old"), storage.RecordTypeDocument)
	doomed, _ := s.CreateRecord(3, []byte("doomed"), storage.RecordTypeDocument)

	created := test.NewRecord("new", storage.RecordTypeDocument)
	updated := test.NewRecord("updated", storage.RecordTypeDocument)
	loaded := test.NewRecord("loaded", storage.RecordTypeDocument)

	createdRID := newRID(3)
	trx := New(1)
	trx.AddEntry(&Entry{Status: Created, RID: createdRID, Record: created})
	trx.AddEntry(&Entry{Status: Updated, RID: &existing, Record: updated})
	trx.AddEntry(&Entry{Status: Deleted, RID: &doomed, Record: test.NewRecord("", storage.RecordTypeDocument)})
	trx.AddEntry(&Entry{Status: Loaded, Record: loaded})

	require.NoError(t, NewCommitter(s, nil).Commit(trx))

	assert.Equal(t, storage.RID{ClusterID: 3, ClusterPosition: 2}, *createdRID)
	assert.Equal(t, int32(0), created.Version())
	assert.Equal(t, []byte("new"), s.records[*createdRID].content)

	assert.Equal(t, int32(1), updated.Version())
	assert.Equal(t, []byte("updated"), s.records[existing].content)

	assert.NotContains(t, s.records, doomed)
	assert.Equal(t, 0, loaded.Streamed)
}

func TestCommitter_CreatedBecomesUpdated(t *testing.T) {
	s := newFakeStorage()
	rid := newRID(3)
	rec := test.NewRecord("cyclic", storage.RecordTypeDocument)

	// Serializing saves the record itself before the committer gets to it
	rec.OnStream = func() error {
		if rid.IsNew() {
			*rid, _ = s.CreateRecord(3, []byte("placeholder"), storage.RecordTypeDocument)
		}
		return nil
	}

	trx := New(1)
	trx.AddEntry(&Entry{Status: Created, RID: rid, Record: rec})

	require.NoError(t, NewCommitter(s, nil).Commit(trx))

	assert.Equal(t, int64(0), rid.ClusterPosition)
	assert.Len(t, s.records, 1)
	assert.Equal(t, []byte("cyclic"), s.records[*rid].content)
	assert.Equal(t, int32(1), rec.Version())
}

func TestCommitter_DrainsEntriesAddedDuringCommit(t *testing.T) {
	s := newFakeStorage()
	trx := New(1)

	child := test.NewRecord("child", storage.RecordTypeDocument)
	childRID := newRID(4)

	parent := test.NewRecord("parent", storage.RecordTypeDocument)
	parent.OnStream = func() error {
		trx.AddEntry(&Entry{Status: Created, RID: childRID, Record: child})
		return nil
	}

	parentRID := newRID(3)
	trx.AddEntry(&Entry{Status: Created, RID: parentRID, Record: parent})

	require.NoError(t, NewCommitter(s, nil).Commit(trx))

	assert.Equal(t, 2, trx.Len())
	assert.False(t, parentRID.IsNew())
	assert.False(t, childRID.IsNew())
	assert.Equal(t, []byte("child"), s.records[*childRID].content)
}

func TestCommitter_PartialApplication(t *testing.T) {
	s := newFakeStorage()
	s.failOn = "second"

	first := newRID(3)
	second := newRID(3)
	third := newRID(3)

	trx := New(7)
	trx.AddEntry(&Entry{Status: Created, RID: first, Record: test.NewRecord("first", storage.RecordTypeDocument)})
	trx.AddEntry(&Entry{Status: Created, RID: second, Record: test.NewRecord("second", storage.RecordTypeDocument)})
	trx.AddEntry(&Entry{Status: Created, RID: third, Record: test.NewRecord("third", storage.RecordTypeDocument)})

	err := NewCommitter(s, nil).Commit(trx)
	assert.True(t, errors.Is(err, storage.ErrStorage))
	assert.Contains(t, err.Error(), "entry 1 of transaction 7")

	assert.False(t, first.IsNew())
	assert.True(t, second.IsNew())
	assert.True(t, third.IsNew())
	assert.Len(t, s.records, 1)
}

func TestCommitter_ConcurrentModification(t *testing.T) {
	s := newFakeStorage()
	rid, _ := s.CreateRecord(3, []byte("abc"), storage.RecordTypeDocument)
	_, err := s.UpdateRecord(rid, []byte("abcd"), 0, storage.RecordTypeDocument)
	require.NoError(t, err)

	stale := test.NewRecord("xyz", storage.RecordTypeDocument)
	trx := New(1)
	trx.AddEntry(&Entry{Status: Updated, RID: &rid, Record: stale})

	err = NewCommitter(s, nil).Commit(trx)

	var cme *storage.ConcurrentModificationError
	assert.True(t, errors.As(err, &cme))
	assert.Equal(t, int32(1), cme.Current)
	assert.Equal(t, []byte("abcd"), s.records[rid].content)
	assert.Equal(t, int32(0), stale.Version())
}

func TestCommitter_Errors(t *testing.T) {
	s := newFakeStorage()

	trx := New(1)
	trx.AddEntry(&Entry{Status: Updated, Record: test.NewRecord("x", storage.RecordTypeDocument)})
	assert.True(t, errors.Is(NewCommitter(s, nil).Commit(trx), storage.ErrIllegalState))

	failing := test.NewRecord("x", storage.RecordTypeDocument)
	failing.OnStream = func() error { return errors.New("cannot serialize") }

	trx = New(2)
	trx.AddEntry(&Entry{Status: Created, RID: newRID(3), Record: failing})
	assert.ErrorContains(t, NewCommitter(s, nil).Commit(trx), "cannot serialize")
	assert.Empty(t, s.records)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "CREATED", Created.String())
	assert.Equal(t, "Status(9)", Status(9).String())
}
