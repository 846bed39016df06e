package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	// SlotSize is the encoded size of a PhysicalPosition
	SlotSize = 4 + 8 + 1 + 4 + 1
	// BlockHeaderSize is the encoded size of a BlockHeader
	BlockHeaderSize = 4 + 4 + 4 + 8 + 4
	// HoleEventSize is the encoded size of a HoleEvent, length prefix included
	HoleEventSize = 4 + 1 + 8 + 4 + crc32.Size
)

// Codec is responsible for encoding and decoding the fixed size structures written
// to clusters, data segments and hole journals
type Codec struct{}

// Slot format:
// - data segment id (int32)
// - data offset (int64)
// - record type (byte)
// - version (int32)
// - valid flag (byte)

// EncodePosition encodes a cluster slot
func (c *Codec) EncodePosition(ppos *PhysicalPosition) ([]byte, error) {
	buf := bytes.Buffer{}
	buf.Grow(SlotSize)

	var valid uint8
	if ppos.Valid {
		valid = 1
	}

	for _, field := range []interface{}{ppos.DataSegmentID, ppos.DataOffset, ppos.RecordType, ppos.Version, valid} {
		if err := binary.Write(&buf, binary.BigEndian, field); err != nil {
			return nil, fmt.Errorf("failed to encode physical position: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// DecodePosition decodes a cluster slot
func (c *Codec) DecodePosition(data []byte) (*PhysicalPosition, error) {
	if len(data) < SlotSize {
		return nil, fmt.Errorf("slot too short. len=%d, expected=%d", len(data), SlotSize)
	}

	return &PhysicalPosition{
		DataSegmentID: int32(binary.BigEndian.Uint32(data[0:4])),
		DataOffset:    int64(binary.BigEndian.Uint64(data[4:12])),
		RecordType:    data[12],
		Version:       int32(binary.BigEndian.Uint32(data[13:17])),
		Valid:         data[17] == 1,
	}, nil
}

// Block header format:
// - capacity (int32)
// - content length (int32)
// - owner cluster id (int32)
// - owner cluster position (int64)
// - content checksum (uint32)

// EncodeBlockHeader encodes the header stored in front of every data segment block
func (c *Codec) EncodeBlockHeader(header *BlockHeader) ([]byte, error) {
	buf := bytes.Buffer{}
	buf.Grow(BlockHeaderSize)

	fields := []interface{}{header.Capacity, header.Length, header.ClusterID, header.ClusterPosition, header.Checksum}
	for _, field := range fields {
		if err := binary.Write(&buf, binary.BigEndian, field); err != nil {
			return nil, fmt.Errorf("failed to encode block header: %w", err)
		}
	}

	return buf.Bytes(), nil
}

// DecodeBlockHeader decodes a data segment block header
func (c *Codec) DecodeBlockHeader(data []byte) (*BlockHeader, error) {
	reader := bytes.NewReader(data)

	header := BlockHeader{}
	fields := []interface{}{&header.Capacity, &header.Length, &header.ClusterID, &header.ClusterPosition, &header.Checksum}
	for _, field := range fields {
		if err := binary.Read(reader, binary.BigEndian, field); err != nil {
			return nil, fmt.Errorf("failed to decode block header: %w", err)
		}
	}

	return &header, nil
}

// Checksum returns the checksum stored in a block header for content
func (c *Codec) Checksum(content []byte) uint32 {
	return crc32.ChecksumIEEE(content)
}

// Hole event format:
// - total event length (uint32)
// - operation (int8)
// - hole offset (int64)
// - hole size (int32)
// - checksum

// EncodeHoleEvent encodes a hole journal entry
func (c *Codec) EncodeHoleEvent(event *HoleEvent) ([]byte, error) {
	buf := bytes.Buffer{}
	buf.Grow(HoleEventSize)

	if err := binary.Write(&buf, binary.BigEndian, uint32(HoleEventSize-4)); err != nil {
		return nil, fmt.Errorf("failed to encode total event length: %w", err)
	}

	for _, field := range []interface{}{int8(event.Op), event.Hole.Offset, event.Hole.Size} {
		if err := binary.Write(&buf, binary.BigEndian, field); err != nil {
			return nil, fmt.Errorf("failed to encode hole event: %w", err)
		}
	}

	checksumData := buf.Bytes()[4:] // Ignore initial 4 bytes containing totalLen
	if err := binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(checksumData)); err != nil {
		return nil, fmt.Errorf("failed to encode checksum: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeHoleEvent reads the next hole event from reader. io.EOF is returned untouched
// when the reader is exhausted on an event boundary.
func (c *Codec) DecodeHoleEvent(reader io.Reader) (*HoleEvent, error) {
	var totalLen uint32
	if err := binary.Read(reader, binary.BigEndian, &totalLen); err != nil {
		return nil, err
	}

	if totalLen != HoleEventSize-4 {
		return nil, fmt.Errorf("unexpected hole event length %d: %w", totalLen, ErrCorruption)
	}

	data := make([]byte, totalLen)
	if _, err := io.ReadFull(reader, data); err == io.EOF {
		return nil, fmt.Errorf("failed to read hole event: %w", io.ErrUnexpectedEOF)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read hole event: %w", err)
	}

	body := data[:totalLen-crc32.Size]
	expectedChecksum := binary.BigEndian.Uint32(data[totalLen-crc32.Size:])
	if actualChecksum := crc32.ChecksumIEEE(body); actualChecksum != expectedChecksum {
		return nil, fmt.Errorf("checksum of hole event does not match. expected=%d, actual=%d: %w",
			expectedChecksum, actualChecksum, ErrCorruption)
	}

	return &HoleEvent{
		Op: HoleOp(int8(body[0])),
		Hole: Hole{
			Offset: int64(binary.BigEndian.Uint64(body[1:9])),
			Size:   int32(binary.BigEndian.Uint32(body[9:13])),
		},
	}, nil
}
