package manifest

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/nbroyles/docstore/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTrip(t *testing.T) {
	config := &Config{
		FormatVersion: FormatVersion,
		StorageID:     uuid.New(),
		Segments: []*SegmentEntry{
			{ID: 0, Name: "default", File: "default.oda"},
		},
		Clusters: []*ClusterEntry{
			{ID: 0, Name: "internal", Kind: "physical", File: "internal.ocl", BackingID: NoBacking},
			nil,
			{ID: 2, Name: "orders", Kind: "logical", File: "orders.olm", BackingID: 0},
		},
	}

	codec := Codec{}

	data, err := codec.Encode(config)
	require.NoError(t, err)

	actual, err := codec.Decode(data)
	assert.NoError(t, err)
	assert.Equal(t, config, actual)
}

func TestCodec_Corrupted(t *testing.T) {
	codec := Codec{}

	data, err := codec.Encode(&Config{FormatVersion: FormatVersion, StorageID: uuid.New()})
	require.NoError(t, err)

	data[2] ^= 0xff
	_, err = codec.Decode(data)
	assert.True(t, errors.Is(err, storage.ErrCorruption))

	_, err = codec.Decode([]byte{1})
	assert.True(t, errors.Is(err, storage.ErrCorruption))
}

func TestCodec_Version(t *testing.T) {
	codec := Codec{}

	version, err := codec.DecodeVersion(codec.EncodeVersion(42))
	assert.NoError(t, err)
	assert.Equal(t, int64(42), version)

	_, err = codec.DecodeVersion([]byte{0, 1})
	assert.True(t, errors.Is(err, storage.ErrCorruption))
}
