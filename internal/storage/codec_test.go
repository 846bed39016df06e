package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTripPosition(t *testing.T) {
	codec := Codec{}
	ppos := &PhysicalPosition{
		DataSegmentID: 2,
		DataOffset:    1 << 40,
		RecordType:    RecordTypeDocument,
		Version:       17,
		Valid:         true,
	}

	data, err := codec.EncodePosition(ppos)
	assert.NoError(t, err)
	assert.Len(t, data, SlotSize)

	actual, err := codec.DecodePosition(data)
	assert.NoError(t, err)
	assert.Equal(t, ppos, actual)
}

func TestCodec_DecodePositionTooShort(t *testing.T) {
	codec := Codec{}

	_, err := codec.DecodePosition(make([]byte, SlotSize-1))
	assert.Error(t, err)
}

func TestCodec_RoundTripBlockHeader(t *testing.T) {
	codec := Codec{}
	header := &BlockHeader{
		Capacity:        64,
		Length:          3,
		ClusterID:       3,
		ClusterPosition: 0,
		Checksum:        codec.Checksum([]byte("abc")),
	}

	data, err := codec.EncodeBlockHeader(header)
	assert.NoError(t, err)
	assert.Len(t, data, BlockHeaderSize)

	actual, err := codec.DecodeBlockHeader(data)
	assert.NoError(t, err)
	assert.Equal(t, header, actual)
}

func TestCodec_RoundTripHoleEvents(t *testing.T) {
	codec := Codec{}
	events := []*HoleEvent{
		{Op: HoleAdded, Hole: Hole{Offset: 0, Size: 27}},
		{Op: HoleRemoved, Hole: Hole{Offset: 0, Size: 27}},
		{Op: HoleAdded, Hole: Hole{Offset: 4096, Size: 100}},
	}

	buf := bytes.Buffer{}
	for _, event := range events {
		data, err := codec.EncodeHoleEvent(event)
		require.NoError(t, err)
		assert.Len(t, data, HoleEventSize)
		buf.Write(data)
	}

	for _, expected := range events {
		actual, err := codec.DecodeHoleEvent(&buf)
		require.NoError(t, err)
		assert.Equal(t, expected, actual)
	}

	_, err := codec.DecodeHoleEvent(&buf)
	assert.Equal(t, io.EOF, err)
}

func TestCodec_HoleEventChecksumFail(t *testing.T) {
	codec := Codec{}
	data, err := codec.EncodeHoleEvent(&HoleEvent{Op: HoleAdded, Hole: Hole{Offset: 10, Size: 30}})
	assert.NoError(t, err)

	csBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(csBytes, uint32(12))

	// Rewrite checksum bytes with wrong value
	csStart := len(data) - 4
	for i := 0; i < 4; i++ {
		data[csStart+i] = csBytes[i]
	}

	_, err = codec.DecodeHoleEvent(bytes.NewReader(data))
	assert.True(t, errors.Is(err, ErrCorruption))
}
