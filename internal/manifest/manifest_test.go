package manifest

import (
	"bytes"
	"errors"
	"path"
	"testing"

	"github.com/google/uuid"
	"github.com/nbroyles/docstore/internal/storage"
	log "github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifest_CreateOpen(t *testing.T) {
	store := NewMemStore()
	id := uuid.New()

	man, err := Create(store, id)
	require.NoError(t, err)

	require.NoError(t, man.AddSegment(SegmentEntry{ID: man.NextSegmentID(), Name: "default", File: "default.oda"}))
	for _, name := range []string{"internal", "index", "default"} {
		require.NoError(t, man.AddCluster(ClusterEntry{ID: man.NextClusterID(), Name: name, Kind: "physical",
			File: name + ".ocl", BackingID: NoBacking}))
	}
	require.NoError(t, man.DropCluster(1))
	require.NoError(t, man.SaveVersion(7))

	man, err = Open(store)
	require.NoError(t, err)

	assert.Equal(t, id, man.StorageID())
	assert.Equal(t, int64(7), man.Version())
	assert.Equal(t, []SegmentEntry{{ID: 0, Name: "default", File: "default.oda"}}, man.Segments())

	clusters := man.Clusters()
	assert.Len(t, clusters, 3)
	assert.Equal(t, "internal", clusters[0].Name)
	assert.Nil(t, clusters[1])
	assert.Equal(t, "default", clusters[2].Name)
	assert.Equal(t, int32(3), man.NextClusterID())
}

func TestManifest_Errors(t *testing.T) {
	man, err := Create(NewMemStore(), uuid.New())
	require.NoError(t, err)

	err = man.AddCluster(ClusterEntry{ID: 4, Name: "skipped"})
	assert.True(t, errors.Is(err, storage.ErrConfiguration))

	err = man.DropCluster(0)
	assert.True(t, errors.Is(err, storage.ErrConfiguration))

	err = man.AddSegment(SegmentEntry{ID: 2, Name: "skipped"})
	assert.True(t, errors.Is(err, storage.ErrConfiguration))
}

func TestManifest_OpenMissing(t *testing.T) {
	_, err := Open(NewMemStore())
	assert.True(t, errors.Is(err, storage.ErrConfiguration))
}

func TestManifest_FormatVersionMismatch(t *testing.T) {
	store := NewMemStore()
	codec := Codec{}

	data, err := codec.Encode(&Config{FormatVersion: FormatVersion + 1, StorageID: uuid.New()})
	require.NoError(t, err)
	require.NoError(t, store.Save(configKey, data))

	_, err = Open(store)
	assert.True(t, errors.Is(err, storage.ErrConfiguration))
}

func TestManifest_Badger(t *testing.T) {
	dir := path.Join(t.TempDir(), "manifest")
	id := uuid.New()

	store, err := NewBadgerStore(dir, nil)
	require.NoError(t, err)

	man, err := Create(store, id)
	require.NoError(t, err)
	require.NoError(t, man.AddSegment(SegmentEntry{ID: 0, Name: "default", File: "default.oda"}))
	require.NoError(t, man.SaveVersion(3))
	require.NoError(t, man.Close())

	store, err = NewBadgerStore(dir, nil)
	require.NoError(t, err)

	man, err = Open(store)
	require.NoError(t, err)
	defer man.Close()

	assert.Equal(t, id, man.StorageID())
	assert.Equal(t, int64(3), man.Version())
	assert.Len(t, man.Segments(), 1)

	_, err = store.Load("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestBadgerStore_LargeValues(t *testing.T) {
	dir := path.Join(t.TempDir(), "manifest")
	logger, _ := logtest.NewNullLogger()

	store, err := NewBadgerStore(dir, log.NewEntry(logger))
	require.NoError(t, err)

	// Larger than badger's value threshold, so it lands in the value log
	large := bytes.Repeat([]byte{0xab}, 2<<20)
	require.NoError(t, store.Save("large", large))
	require.NoError(t, store.Close())

	store, err = NewBadgerStore(dir, log.NewEntry(logger))
	require.NoError(t, err)
	defer store.Close()

	data, err := store.Load("large")
	assert.NoError(t, err)
	assert.Equal(t, large, data)
}
