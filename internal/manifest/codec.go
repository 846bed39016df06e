package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/nbroyles/docstore/internal/storage"
)

type Codec struct{}

// Encode writes the configuration as: format version, storage id, segment table,
// cluster table, crc32 of everything before it. Dropped clusters are written as
// an absent marker so ids stay stable.
func (c *Codec) Encode(config *Config) ([]byte, error) {
	buf := bytes.Buffer{}

	if err := binary.Write(&buf, binary.BigEndian, config.FormatVersion); err != nil {
		return nil, fmt.Errorf("failed to encode format version: %w", err)
	}

	if err := binary.Write(&buf, binary.BigEndian, config.StorageID); err != nil {
		return nil, fmt.Errorf("failed to encode storage id: %w", err)
	}

	if err := binary.Write(&buf, binary.BigEndian, uint32(len(config.Segments))); err != nil {
		return nil, fmt.Errorf("failed to encode segment count: %w", err)
	}

	for _, segment := range config.Segments {
		if err := binary.Write(&buf, binary.BigEndian, segment.ID); err != nil {
			return nil, fmt.Errorf("failed to encode id of segment %s: %w", segment.Name, err)
		}

		if err := writeString(&buf, segment.Name); err != nil {
			return nil, fmt.Errorf("failed to encode name of segment %s: %w", segment.Name, err)
		}

		if err := writeString(&buf, segment.File); err != nil {
			return nil, fmt.Errorf("failed to encode file of segment %s: %w", segment.Name, err)
		}
	}

	if err := binary.Write(&buf, binary.BigEndian, uint32(len(config.Clusters))); err != nil {
		return nil, fmt.Errorf("failed to encode cluster count: %w", err)
	}

	for i, cluster := range config.Clusters {
		if err := binary.Write(&buf, binary.BigEndian, cluster != nil); err != nil {
			return nil, fmt.Errorf("failed to encode presence of cluster %d: %w", i, err)
		}

		if cluster == nil {
			continue
		}

		if err := c.encodeCluster(&buf, cluster); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(buf.Bytes())); err != nil {
		return nil, fmt.Errorf("failed to encode configuration checksum: %w", err)
	}

	return buf.Bytes(), nil
}

func (c *Codec) encodeCluster(buf *bytes.Buffer, cluster *ClusterEntry) error {
	if err := binary.Write(buf, binary.BigEndian, cluster.ID); err != nil {
		return fmt.Errorf("failed to encode id of cluster %s: %w", cluster.Name, err)
	}

	for _, s := range []string{cluster.Name, cluster.Kind, cluster.File} {
		if err := writeString(buf, s); err != nil {
			return fmt.Errorf("failed to encode cluster %s: %w", cluster.Name, err)
		}
	}

	if err := binary.Write(buf, binary.BigEndian, cluster.BackingID); err != nil {
		return fmt.Errorf("failed to encode backing cluster of %s: %w", cluster.Name, err)
	}

	return nil
}

func (c *Codec) Decode(data []byte) (*Config, error) {
	if len(data) < 4 {
		return nil, c.corrupted("configuration is too short")
	}

	body := data[:len(data)-4]
	if crc32.ChecksumIEEE(body) != binary.BigEndian.Uint32(data[len(data)-4:]) {
		return nil, c.corrupted("checksum mismatch")
	}

	reader := bytes.NewReader(body)
	config := &Config{}

	if err := binary.Read(reader, binary.BigEndian, &config.FormatVersion); err != nil {
		return nil, fmt.Errorf("failed to decode format version: %w", err)
	}

	if err := binary.Read(reader, binary.BigEndian, &config.StorageID); err != nil {
		return nil, fmt.Errorf("failed to decode storage id: %w", err)
	}

	var segments uint32
	if err := binary.Read(reader, binary.BigEndian, &segments); err != nil {
		return nil, fmt.Errorf("failed to decode segment count: %w", err)
	}

	for i := uint32(0); i < segments; i++ {
		segment := &SegmentEntry{}
		if err := binary.Read(reader, binary.BigEndian, &segment.ID); err != nil {
			return nil, fmt.Errorf("failed to decode id of segment %d: %w", i, err)
		}

		var err error
		if segment.Name, err = readString(reader); err != nil {
			return nil, fmt.Errorf("failed to decode name of segment %d: %w", i, err)
		}

		if segment.File, err = readString(reader); err != nil {
			return nil, fmt.Errorf("failed to decode file of segment %d: %w", i, err)
		}

		config.Segments = append(config.Segments, segment)
	}

	var clusters uint32
	if err := binary.Read(reader, binary.BigEndian, &clusters); err != nil {
		return nil, fmt.Errorf("failed to decode cluster count: %w", err)
	}

	for i := uint32(0); i < clusters; i++ {
		var present bool
		if err := binary.Read(reader, binary.BigEndian, &present); err != nil {
			return nil, fmt.Errorf("failed to decode presence of cluster %d: %w", i, err)
		}

		if !present {
			config.Clusters = append(config.Clusters, nil)
			continue
		}

		cluster, err := c.decodeCluster(reader)
		if err != nil {
			return nil, fmt.Errorf("failed to decode cluster %d: %w", i, err)
		}

		config.Clusters = append(config.Clusters, cluster)
	}

	if reader.Len() != 0 {
		return nil, c.corrupted(fmt.Sprintf("%d trailing bytes", reader.Len()))
	}

	return config, nil
}

func (c *Codec) decodeCluster(reader *bytes.Reader) (*ClusterEntry, error) {
	cluster := &ClusterEntry{}
	if err := binary.Read(reader, binary.BigEndian, &cluster.ID); err != nil {
		return nil, err
	}

	for _, s := range []*string{&cluster.Name, &cluster.Kind, &cluster.File} {
		var err error
		if *s, err = readString(reader); err != nil {
			return nil, err
		}
	}

	if err := binary.Read(reader, binary.BigEndian, &cluster.BackingID); err != nil {
		return nil, err
	}

	return cluster, nil
}

func (c *Codec) EncodeVersion(version int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(version))

	return buf
}

func (c *Codec) DecodeVersion(data []byte) (int64, error) {
	if len(data) != 8 {
		return 0, c.corrupted(fmt.Sprintf("version holds %d bytes, expected 8", len(data)))
	}

	return int64(binary.BigEndian.Uint64(data)), nil
}

func (c *Codec) corrupted(reason string) error {
	return &storage.CorruptionError{Segment: "manifest", Offset: 0, Reason: reason}
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}

	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var size uint16
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return "", err
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return "", err
	}

	return string(data), nil
}
