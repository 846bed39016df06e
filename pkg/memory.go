package pkg

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/nbroyles/docstore/internal/cluster"
	"github.com/nbroyles/docstore/internal/file"
	"github.com/nbroyles/docstore/internal/manifest"
	"github.com/nbroyles/docstore/internal/segment"
)

// MemoryStorage is a volatile storage. Everything it holds is lost when it's closed.
type MemoryStorage struct {
	*engine
}

var _ Storage = &MemoryStorage{}

func NewMemory(name string, opts Options) *MemoryStorage {
	s := &MemoryStorage{}
	s.engine = newEngine(s, name, opts, s)

	return s
}

// CreateMemory returns a new, open memory storage
func CreateMemory(name string, opts Options) (*MemoryStorage, error) {
	s := NewMemory(name, opts)
	if err := s.Create(); err != nil {
		return nil, err
	}

	return s, nil
}

// Exists returns true while the storage is open
func (s *MemoryStorage) Exists() bool {
	return !s.IsClosed()
}

func (s *MemoryStorage) Create() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.open {
		return fmt.Errorf("storage %s is already open: %w", s.name, ErrIllegalState)
	}

	return s.create()
}

// Open adds a user to an open storage and creates the storage otherwise
func (s *MemoryStorage) Open() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.open {
		s.AddUser()
		return nil
	}

	return s.create()
}

// create builds a new, empty storage. Must be called with the engine lock held.
func (s *MemoryStorage) create() error {
	man, err := manifest.Create(manifest.NewMemStore(), uuid.New())
	if err != nil {
		return storageError(err, "failed creating storage %s", s.name)
	}

	if err := s.initialize(man); err != nil {
		_ = s.closeResources()
		return err
	}

	s.open = true
	s.AddUser()

	if err := s.registerOpen(); err != nil {
		s.open = false
		s.RemoveUser()
		_ = s.closeResources()
		return err
	}

	s.logger.Debug("created storage")
	return nil
}

func (s *MemoryStorage) Close(force bool) error {
	s.lock.Lock()
	closed, err := s.shutdown(force)
	s.lock.Unlock()

	if closed {
		s.closed()
	}

	return err
}

// Delete force closes the storage
func (s *MemoryStorage) Delete() error {
	return s.Close(true)
}

func (s *MemoryStorage) createSegment(id int, name, _ string) (*segment.DataSegment, string, error) {
	return segment.NewMemory(id, name), "", nil
}

func (s *MemoryStorage) createCluster(id int, name string, kind cluster.Kind, _ string,
	backing cluster.Cluster) (cluster.Cluster, string, error) {
	if kind == cluster.KindLogical {
		c, err := cluster.CreateLogical(id, name, backing, file.NewMemory(name))
		return c, "", err
	}

	return cluster.NewMemory(id, name), "", nil
}
