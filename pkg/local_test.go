package pkg

import (
	"errors"
	"os"
	"path"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nbroyles/docstore/internal/manifest"
	"github.com/nbroyles/docstore/internal/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_Create(t *testing.T) {
	dataDir := test.ConfigureDataDir(t, "data")

	s, err := CreateLocal("foo", dataDir, quietOptions())
	require.NoError(t, err)

	assert.True(t, s.Exists())
	assert.NotEqual(t, uuid.Nil, s.ID())
	assert.True(t, test.FileExists(t, path.Join(s.Dir(), lockFile)))
	assert.True(t, test.FileExists(t, path.Join(s.Dir(), "default.0.oda")))
	assert.True(t, test.FileExists(t, path.Join(s.Dir(), "default.0.odh")))
	assert.True(t, test.FileExists(t, path.Join(s.Dir(), "internal.ocl")))
	assert.True(t, test.FileExists(t, path.Join(s.Dir(), "index.ocl")))
	assert.True(t, test.FileExists(t, path.Join(s.Dir(), "default.ocl")))

	_, err = CreateLocal("foo", dataDir, quietOptions())
	assert.True(t, errors.Is(err, ErrConfiguration))

	require.NoError(t, s.Close(true))
	assert.False(t, test.FileExists(t, path.Join(s.Dir(), lockFile)))
}

func TestLocal_OpenNotExist(t *testing.T) {
	_, err := OpenLocal("foo", test.ConfigureDataDir(t, "data"), quietOptions())
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestLocal_OpenOrCreate(t *testing.T) {
	dataDir := test.ConfigureDataDir(t, "data")

	s, err := OpenOrCreateLocal("foo", dataDir, quietOptions())
	require.NoError(t, err)
	id := s.ID()
	require.NoError(t, s.Close(true))

	s, err = OpenOrCreateLocal("foo", dataDir, quietOptions())
	require.NoError(t, err)
	defer s.Close(true)

	assert.Equal(t, id, s.ID())
}

func TestLocal_Reopen(t *testing.T) {
	dataDir := test.ConfigureDataDir(t, "data")

	s, err := CreateLocal("foo", dataDir, quietOptions())
	require.NoError(t, err)
	addClusters(t, s)

	orders, err := s.AddCluster("orders", ClusterLogical)
	require.NoError(t, err)
	_, err = s.AddDataSegmentFile("archive", "archive.data")
	require.NoError(t, err)

	kept := create(t, s, 3, "kept")
	_, err = s.UpdateRecord(kept, []byte("kept twice"), 0, RecordTypeBytes)
	require.NoError(t, err)

	gone := create(t, s, 3, "gone")
	_, err = s.DeleteRecord(gone, 0)
	require.NoError(t, err)

	order := create(t, s, orders, "order")
	create(t, s, 4, "dropped with its cluster")
	_, err = s.DropCluster(4)
	require.NoError(t, err)

	id := s.ID()
	version := s.Version()
	holes := s.HoleList()
	require.NoError(t, s.Close(true))

	s, err = OpenLocal("foo", dataDir, quietOptions())
	require.NoError(t, err)
	defer s.Close(true)

	assert.Equal(t, id, s.ID())
	assert.Equal(t, version, s.Version())
	assert.Equal(t, holes, s.HoleList())
	assert.Equal(t, 2, s.DefaultClusterID())

	record, err := s.ReadRecord(kept)
	require.NoError(t, err)
	assert.Equal(t, []byte("kept twice"), record.Buffer)
	assert.Equal(t, int32(1), record.Version)
	assert.Equal(t, RecordTypeBytes, record.RecordType)

	record, err = s.ReadRecord(gone)
	assert.NoError(t, err)
	assert.Nil(t, record)

	assertRecord(t, s, order, "order", 0)

	kind, err := s.ClusterTypeByName("orders")
	assert.NoError(t, err)
	assert.Equal(t, ClusterLogical, kind)

	_, err = s.ClusterIDByName("places")
	assert.True(t, errors.Is(err, ErrConfiguration))

	count, err := s.Count(3)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// The hole of the deleted record is reused
	reused := create(t, s, 3, "gone")
	assert.Equal(t, len(holes)-1, s.Holes())
	assertRecord(t, s, reused, "gone", 0)

	_, err = s.AddDataSegment("archive")
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestLocal_FormatVersionMismatch(t *testing.T) {
	dataDir := test.ConfigureDataDir(t, "data")

	s, err := CreateLocal("foo", dataDir, quietOptions())
	require.NoError(t, err)
	require.NoError(t, s.Close(true))

	store, err := manifest.NewBadgerStore(path.Join(s.Dir(), manifestDir), nil)
	require.NoError(t, err)

	codec := manifest.Codec{}
	data, err := codec.Encode(&manifest.Config{FormatVersion: manifest.FormatVersion + 1, StorageID: uuid.New()})
	require.NoError(t, err)
	require.NoError(t, store.Save("config", data))
	require.NoError(t, store.Close())

	_, err = OpenLocal("foo", dataDir, quietOptions())
	assert.True(t, errors.Is(err, ErrConfiguration))
	assert.False(t, test.FileExists(t, path.Join(s.Dir(), lockFile)))
}

func TestLocal_Delete(t *testing.T) {
	s, err := CreateLocal("foo", test.ConfigureDataDir(t, "data"), quietOptions())
	require.NoError(t, err)
	s.AddUser()

	create(t, s, 2, "deleted")

	require.NoError(t, s.Delete())
	assert.True(t, s.IsClosed())
	assert.False(t, s.Exists())
	assert.False(t, test.FileExists(t, s.Dir()))
}

func TestLocal_DeleteRetries(t *testing.T) {
	opts := quietOptions().WithDeleteMaxRetries(5).WithDeleteRetryDelay(time.Millisecond)

	s, err := CreateLocal("foo", test.ConfigureDataDir(t, "data"), opts)
	require.NoError(t, err)

	attempts := map[string]int{}
	s.remove = func(filePath string) error {
		attempts[filePath]++
		if attempts[filePath] < 3 {
			return errors.New("file is locked")
		}
		return os.RemoveAll(filePath)
	}

	require.NoError(t, s.Delete())
	assert.Equal(t, 3, attempts[path.Join(s.Dir(), "default.0.oda")])
	assert.False(t, test.FileExists(t, s.Dir()))
}

func TestLocal_DeleteGivesUp(t *testing.T) {
	opts := quietOptions().WithDeleteMaxRetries(3).WithDeleteRetryDelay(time.Millisecond)

	s, err := CreateLocal("foo", test.ConfigureDataDir(t, "data"), opts)
	require.NoError(t, err)

	attempts := 0
	s.remove = func(filePath string) error {
		if path.Base(filePath) == "default.ocl" {
			attempts++
			return errors.New("file is locked")
		}
		return os.RemoveAll(filePath)
	}

	err = s.Delete()
	assert.True(t, errors.Is(err, ErrStorage))
	assert.Contains(t, err.Error(), "default.ocl")
	assert.Equal(t, 3, attempts)
	assert.True(t, test.FileExists(t, path.Join(s.Dir(), "default.ocl")))
}

func TestLocal_LockedByAnotherProcess(t *testing.T) {
	dataDir := test.ConfigureDataDir(t, "data")

	s, err := CreateLocal("foo", dataDir, quietOptions())
	require.NoError(t, err)
	require.NoError(t, s.Close(true))

	require.NoError(t, os.WriteFile(path.Join(s.Dir(), lockFile), []byte("999999999"), 0666))

	_, err = OpenLocal("foo", dataDir, quietOptions())
	assert.True(t, errors.Is(err, ErrIllegalState))
}

func TestLocal_FailedUpdateKeepsPosition(t *testing.T) {
	s, err := CreateLocal("foo", test.ConfigureDataDir(t, "data"), quietOptions())
	require.NoError(t, err)
	defer s.Close(true)
	addClusters(t, s)

	rid := create(t, s, 3, "abc")

	// Break the capacity of the record's block header
	f, err := os.OpenFile(path.Join(s.Dir(), "default.0.oda"), os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xff, 0xff, 0xff, 0xff}, 16)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = s.UpdateRecord(rid, []byte("abcd"), 0, RecordTypeBytes)
	assert.True(t, errors.Is(err, ErrCorruption))

	ppos, err := s.clusters[3].GetPosition(rid.ClusterPosition)
	require.NoError(t, err)
	require.NotNil(t, ppos)
	assert.Equal(t, RecordTypeDocument, ppos.RecordType)
	assert.Equal(t, int32(0), ppos.Version)
	assert.Equal(t, int64(0), ppos.DataOffset)
}

func TestLocal_FailedCreateLeavesNothing(t *testing.T) {
	registry := NewRegistry()
	opts := quietOptions().WithRegistry(registry)

	holder, err := CreateMemory("foo", opts)
	require.NoError(t, err)

	s := NewLocal("foo", test.ConfigureDataDir(t, "data"), opts)
	assert.True(t, errors.Is(s.Create(), ErrConfiguration))
	assert.True(t, s.IsClosed())
	assert.False(t, s.Exists())
	assert.False(t, test.FileExists(t, s.Dir()))

	require.NoError(t, holder.Close(true))

	require.NoError(t, s.Create())
	defer s.Close(true)
	assert.True(t, s.Exists())
}
