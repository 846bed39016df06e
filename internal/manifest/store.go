package manifest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned by stores when a key was never saved
var ErrNotFound = errors.New("manifest key not found")

// Store persists manifest values by key
type Store interface {
	Save(key string, data []byte) error
	Load(key string) ([]byte, error)
	Close() error
}

// BadgerStore keeps manifest values in a badger database. Every write is synced.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = &BadgerStore{}

// NewBadgerStore opens, creating if needed, the badger database in dir. Badger logs
// through logger when it's not nil.
func NewBadgerStore(dir string, logger *log.Entry) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithSyncWrites(true)

	opts.Logger = nil
	if logger != nil {
		opts.Logger = logger.WithField("component", "manifest")
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed opening manifest store at %s: %w", dir, err)
	}

	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Save(key string, data []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(metaKey(key)), data)
	})
}

func (s *BadgerStore) Load(key string) ([]byte, error) {
	var data []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaKey(key)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}

		data, err = item.ValueCopy(nil)
		return err
	})

	return data, err
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func metaKey(key string) string {
	return "meta:" + key
}

// MemStore keeps manifest values in memory
type MemStore struct {
	mu     sync.RWMutex
	values map[string][]byte
}

var _ Store = &MemStore{}

func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string][]byte)}
}

func (s *MemStore) Save(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemStore) Load(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.values[key]
	if !ok {
		return nil, ErrNotFound
	}

	return append([]byte(nil), data...), nil
}

func (s *MemStore) Close() error {
	return nil
}
