// Package manifest holds the configuration record of a storage: its data segments,
// its clusters and the version counter, saved to a Store on every change.
package manifest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nbroyles/docstore/internal/storage"
)

// FormatVersion is the configuration layout written by this package. Storages
// written with any other layout are refused on open.
const FormatVersion int32 = 1

const (
	configKey  = "config"
	versionKey = "version"
)

// NoBacking is the backing id of clusters that are not logical
const NoBacking int32 = -1

type Config struct {
	FormatVersion int32
	StorageID     uuid.UUID
	Segments      []*SegmentEntry
	// Clusters is indexed by cluster id. Dropped clusters are nil.
	Clusters []*ClusterEntry
}

type ClusterEntry struct {
	ID        int32
	Name      string
	Kind      string
	File      string
	BackingID int32
}

type SegmentEntry struct {
	ID   int32
	Name string
	File string
}

type Manifest struct {
	lock    sync.Mutex
	store   Store
	codec   Codec
	config  *Config
	version int64
}

// Create saves an empty configuration for a new storage
func Create(store Store, id uuid.UUID) (*Manifest, error) {
	m := &Manifest{
		store:  store,
		config: &Config{FormatVersion: FormatVersion, StorageID: id},
	}

	if err := m.save(); err != nil {
		return nil, err
	}

	if err := m.SaveVersion(0); err != nil {
		return nil, err
	}

	return m, nil
}

// Open loads the configuration and version counter from store
func Open(store Store) (*Manifest, error) {
	data, err := store.Load(configKey)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("storage has no configuration: %w", storage.ErrConfiguration)
	} else if err != nil {
		return nil, fmt.Errorf("failed loading configuration: %w", err)
	}

	m := &Manifest{store: store}

	if m.config, err = m.codec.Decode(data); err != nil {
		return nil, fmt.Errorf("failed decoding configuration: %w", err)
	}

	if m.config.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("storage was written with format version %d but version %d is required: %w",
			m.config.FormatVersion, FormatVersion, storage.ErrConfiguration)
	}

	data, err = store.Load(versionKey)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed loading storage version: %w", err)
	} else if err == nil {
		if m.version, err = m.codec.DecodeVersion(data); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Manifest) StorageID() uuid.UUID {
	return m.config.StorageID
}

// Segments returns a copy of the segment table
func (m *Manifest) Segments() []SegmentEntry {
	m.lock.Lock()
	defer m.lock.Unlock()

	segments := make([]SegmentEntry, len(m.config.Segments))
	for i, s := range m.config.Segments {
		segments[i] = *s
	}

	return segments
}

// Clusters returns a copy of the cluster table indexed by id, nil for dropped clusters
func (m *Manifest) Clusters() []*ClusterEntry {
	m.lock.Lock()
	defer m.lock.Unlock()

	clusters := make([]*ClusterEntry, len(m.config.Clusters))
	for i, c := range m.config.Clusters {
		if c != nil {
			entry := *c
			clusters[i] = &entry
		}
	}

	return clusters
}

// NextClusterID returns the id the next added cluster gets. Ids of dropped
// clusters are not reused.
func (m *Manifest) NextClusterID() int32 {
	m.lock.Lock()
	defer m.lock.Unlock()

	return int32(len(m.config.Clusters))
}

// NextSegmentID returns the id the next added data segment gets
func (m *Manifest) NextSegmentID() int32 {
	m.lock.Lock()
	defer m.lock.Unlock()

	return int32(len(m.config.Segments))
}

func (m *Manifest) AddCluster(entry ClusterEntry) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if entry.ID != int32(len(m.config.Clusters)) {
		return fmt.Errorf("cluster %s has id %d but the next id is %d: %w", entry.Name, entry.ID,
			len(m.config.Clusters), storage.ErrConfiguration)
	}

	m.config.Clusters = append(m.config.Clusters, &entry)
	if err := m.save(); err != nil {
		m.config.Clusters = m.config.Clusters[:len(m.config.Clusters)-1]
		return err
	}

	return nil
}

func (m *Manifest) DropCluster(id int32) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if id < 0 || id >= int32(len(m.config.Clusters)) || m.config.Clusters[id] == nil {
		return fmt.Errorf("cluster #%d does not exist: %w", id, storage.ErrConfiguration)
	}

	dropped := m.config.Clusters[id]
	m.config.Clusters[id] = nil
	if err := m.save(); err != nil {
		m.config.Clusters[id] = dropped
		return err
	}

	return nil
}

func (m *Manifest) AddSegment(entry SegmentEntry) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if entry.ID != int32(len(m.config.Segments)) {
		return fmt.Errorf("data segment %s has id %d but the next id is %d: %w", entry.Name, entry.ID,
			len(m.config.Segments), storage.ErrConfiguration)
	}

	m.config.Segments = append(m.config.Segments, &entry)
	if err := m.save(); err != nil {
		m.config.Segments = m.config.Segments[:len(m.config.Segments)-1]
		return err
	}

	return nil
}

func (m *Manifest) Version() int64 {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.version
}

func (m *Manifest) SaveVersion(version int64) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.store.Save(versionKey, m.codec.EncodeVersion(version)); err != nil {
		return fmt.Errorf("failed saving storage version %d: %w", version, err)
	}
	m.version = version

	return nil
}

func (m *Manifest) Close() error {
	return m.store.Close()
}

func (m *Manifest) save() error {
	data, err := m.codec.Encode(m.config)
	if err != nil {
		return fmt.Errorf("failed encoding configuration: %w", err)
	}

	if err := m.store.Save(configKey, data); err != nil {
		return fmt.Errorf("failed saving configuration: %w", err)
	}

	return nil
}
