package segment

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nbroyles/docstore/internal/file"
	"github.com/nbroyles/docstore/internal/storage"
	log "github.com/sirupsen/logrus"
)

// Journal is the append-only log of hole changes of a durable data segment. Every
// hole added or consumed is written here before the in-memory free list changes, so
// the free list can be rebuilt when the segment is opened again. It is rewritten as a
// snapshot of the live holes on close.
type Journal struct {
	path   string
	medium *file.FileMedium
	codec  storage.Codec
	size   int64
}

// CreateJournal creates a new, empty hole journal at path
func CreateJournal(path string) (*Journal, error) {
	medium, err := file.Create(path)
	if err != nil {
		return nil, fmt.Errorf("could not create hole journal: %w", err)
	}

	return &Journal{path: path, medium: medium}, nil
}

// OpenJournal opens the existing hole journal at path
func OpenJournal(path string) (*Journal, error) {
	medium, err := file.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open hole journal: %w", err)
	}

	size, err := medium.Size()
	if err != nil {
		_ = medium.Close()
		return nil, err
	}

	return &Journal{path: path, medium: medium, size: size}, nil
}

// Write appends the event to the journal
func (j *Journal) Write(event *storage.HoleEvent) error {
	data, err := j.codec.EncodeHoleEvent(event)
	if err != nil {
		return fmt.Errorf("failed encoding hole event: %w", err)
	}

	if err := file.Write(j.medium, data, j.size); err != nil {
		return err
	}

	// update current size of journal
	j.size += int64(len(data))

	return nil
}

// Restore replays the journal and returns the holes it describes. A torn event at the
// end of the journal, left by a crash in the middle of a write, is discarded.
func (j *Journal) Restore() ([]storage.Hole, error) {
	reader := bufio.NewReader(io.NewSectionReader(j.medium, 0, j.size))

	var holes []storage.Hole
	good := int64(0)
	for {
		event, err := j.codec.DecodeHoleEvent(reader)
		if err == io.EOF {
			break
		} else if errors.Is(err, io.ErrUnexpectedEOF) {
			log.Warnf("discarding torn hole event at %d in %s", good, j.path)
			if err := j.medium.Truncate(good); err != nil {
				return nil, err
			}
			j.size = good
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed replaying hole journal %s at %d: %w", j.path, good, err)
		}

		switch event.Op {
		case storage.HoleAdded:
			holes = append(holes, event.Hole)
		case storage.HoleRemoved:
			holes = removeHole(holes, event.Hole.Offset)
		default:
			return nil, &storage.CorruptionError{Segment: j.path, Offset: good,
				Reason: fmt.Sprintf("unknown hole event type %d", event.Op)}
		}

		good += storage.HoleEventSize
	}

	return holes, nil
}

func removeHole(holes []storage.Hole, offset int64) []storage.Hole {
	for i, hole := range holes {
		if hole.Offset == offset {
			return append(holes[:i], holes[i+1:]...)
		}
	}

	return holes
}

// Compact replaces the journal with one holding a single event per live hole
func (j *Journal) Compact(holes []storage.Hole) error {
	tmpPath := j.path + ".tmp"
	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed removing stale %s: %w", tmpPath, err)
	}

	tmp, err := CreateJournal(tmpPath)
	if err != nil {
		return err
	}

	for _, hole := range holes {
		if err := tmp.Write(&storage.HoleEvent{Op: storage.HoleAdded, Hole: hole}); err != nil {
			_ = tmp.medium.Close()
			return err
		}
	}

	if err := tmp.medium.Sync(); err != nil {
		_ = tmp.medium.Close()
		return err
	}

	if err := tmp.medium.Close(); err != nil {
		return err
	}

	if err := j.medium.Close(); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, j.path); err != nil {
		return fmt.Errorf("failed replacing hole journal %s: %w", j.path, err)
	}

	if j.medium, err = file.Open(j.path); err != nil {
		return err
	}
	j.size = tmp.size

	return nil
}

func (j *Journal) Size() int64 {
	return j.size
}

func (j *Journal) Sync() error {
	return j.medium.Sync()
}

func (j *Journal) Close() error {
	return j.medium.Close()
}

func (j *Journal) Remove() error {
	return j.medium.Remove()
}
