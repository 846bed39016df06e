package pkg

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nbroyles/docstore/internal/cluster"
	"github.com/nbroyles/docstore/internal/file"
	"github.com/nbroyles/docstore/internal/manifest"
	"github.com/nbroyles/docstore/internal/segment"
)

const (
	lockFile    = "__STORAGE_LOCK__"
	manifestDir = "manifest"
)

// LocalStorage is a durable storage kept in a directory: one file per data segment,
// hole journal and cluster, plus a badger database holding the configuration.
type LocalStorage struct {
	*engine
	dir    string
	remove func(path string) error
}

var _ Storage = &LocalStorage{}

// NewLocal returns the storage name kept under dataDir. Nothing is read or written
// until Create or Open is called.
func NewLocal(name, dataDir string, opts Options) *LocalStorage {
	s := &LocalStorage{dir: path.Join(dataDir, name), remove: os.RemoveAll}
	s.engine = newEngine(s, name, opts, s)

	return s
}

// CreateLocal creates a new storage. It fails if the storage already exists.
func CreateLocal(name, dataDir string, opts Options) (*LocalStorage, error) {
	s := NewLocal(name, dataDir, opts)
	if err := s.Create(); err != nil {
		return nil, err
	}

	return s, nil
}

// OpenLocal opens an existing storage
func OpenLocal(name, dataDir string, opts Options) (*LocalStorage, error) {
	s := NewLocal(name, dataDir, opts)
	if err := s.Open(); err != nil {
		return nil, err
	}

	return s, nil
}

// OpenOrCreateLocal opens the storage if it exists or creates it if it doesn't
func OpenOrCreateLocal(name, dataDir string, opts Options) (*LocalStorage, error) {
	s := NewLocal(name, dataDir, opts)
	if s.Exists() {
		return s, s.Open()
	}

	return s, s.Create()
}

// Dir returns the directory holding the storage files
func (s *LocalStorage) Dir() string {
	return s.dir
}

// Exists checks if the storage was created in its directory
func (s *LocalStorage) Exists() bool {
	_, err := os.Stat(path.Join(s.dir, manifestDir))
	return err == nil
}

func (s *LocalStorage) Create() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.open {
		return fmt.Errorf("storage %s is already open: %w", s.name, ErrIllegalState)
	}

	if s.Exists() {
		return fmt.Errorf("storage %s already exists. use Open instead: %w", s.name, ErrConfiguration)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return storageError(err, "failed creating directory of storage %s", s.name)
	}

	if err := s.lockDir(); err != nil {
		return err
	}

	if err := s.create(); err != nil {
		s.discard()
		return err
	}

	return nil
}

// create writes the manifest, default data segment and clusters of a new storage.
// Everything is closed and the directory unlocked when it fails.
func (s *LocalStorage) create() error {
	store, err := manifest.NewBadgerStore(path.Join(s.dir, manifestDir), s.logger)
	if err != nil {
		s.unlockDir()
		return storageError(err, "failed creating storage %s", s.name)
	}

	man, err := manifest.Create(store, uuid.New())
	if err != nil {
		_ = store.Close()
		s.unlockDir()
		return storageError(err, "failed creating storage %s", s.name)
	}

	if err := s.initialize(man); err != nil {
		_ = s.closeResources()
		s.unlockDir()
		return err
	}

	return s.opened("created")
}

// discard removes what a failed create left in the storage directory
func (s *LocalStorage) discard() {
	if failed := s.removeFiles(); len(failed) > 0 {
		s.logger.Warnf("failed removing files of storage not created: %s", strings.Join(failed, ", "))
	}

	if err := os.Remove(s.dir); err != nil && !os.IsNotExist(err) {
		s.logger.Debugf("storage directory %s not removed: %v", s.dir, err)
	}
}

func (s *LocalStorage) Open() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.open {
		s.AddUser()
		return nil
	}

	if !s.Exists() {
		return fmt.Errorf("failed opening storage %s. does not exist: %w", s.name, ErrConfiguration)
	}

	if err := s.lockDir(); err != nil {
		return err
	}

	if err := s.load(); err != nil {
		_ = s.closeResources()
		s.unlockDir()
		return err
	}

	return s.opened("opened")
}

func (s *LocalStorage) opened(action string) error {
	s.open = true
	s.AddUser()

	if err := s.registerOpen(); err != nil {
		s.open = false
		s.RemoveUser()
		_ = s.closeResources()
		s.unlockDir()
		return err
	}

	s.logger.Debugf("%s storage in %s", action, s.dir)
	return nil
}

// load rebuilds the data segments and clusters listed in the manifest
func (s *LocalStorage) load() error {
	store, err := manifest.NewBadgerStore(path.Join(s.dir, manifestDir), s.logger)
	if err != nil {
		return storageError(err, "failed opening storage %s", s.name)
	}

	man, err := manifest.Open(store)
	if err != nil {
		_ = store.Close()
		return storageError(err, "failed opening storage %s", s.name)
	}

	s.manifest = man
	s.id = man.StorageID()
	s.logger = s.logger.WithField("id", s.id.String())
	s.version.Store(man.Version())

	for _, entry := range man.Segments() {
		seg, err := s.openSegment(int(entry.ID), entry.Name, entry.File)
		if err != nil {
			return storageError(err, "failed opening data segment %s", entry.Name)
		}
		s.segments = append(s.segments, seg)
	}

	for _, entry := range man.Clusters() {
		if entry == nil {
			continue
		}

		c, err := s.openCluster(entry)
		if err != nil {
			return storageError(err, "failed opening cluster %s", entry.Name)
		}
		s.register(c)
	}

	def, ok := s.clusterMap[ClusterDefault]
	if !ok {
		return fmt.Errorf("storage %s has no %s cluster: %w", s.name, ClusterDefault, ErrConfiguration)
	}
	s.defaultClusterID = def.ID()

	return nil
}

func (s *LocalStorage) openSegment(id int, name, fileName string) (*segment.DataSegment, error) {
	dataPath := s.path(fileName)

	medium, err := file.Open(dataPath)
	if err != nil {
		return nil, err
	}

	journal, err := segment.OpenJournal(journalPath(dataPath))
	if err != nil {
		_ = medium.Close()
		return nil, err
	}

	seg, err := segment.Open(id, name, medium, journal)
	if err != nil {
		_ = journal.Close()
		_ = medium.Close()
		return nil, err
	}

	return seg, nil
}

func (s *LocalStorage) openCluster(entry *manifest.ClusterEntry) (cluster.Cluster, error) {
	kind, err := cluster.ParseKind(entry.Kind)
	if err != nil {
		return nil, err
	}

	if kind == cluster.KindMemory {
		return cluster.NewMemory(int(entry.ID), entry.Name), nil
	}

	medium, err := file.Open(s.path(entry.File))
	if err != nil {
		return nil, err
	}

	var c cluster.Cluster
	if kind == cluster.KindLogical {
		var backing cluster.Cluster
		if entry.BackingID >= 0 && int(entry.BackingID) < len(s.clusters) {
			backing = s.clusters[entry.BackingID]
		}

		if backing == nil {
			_ = medium.Close()
			return nil, fmt.Errorf("backing cluster #%d of %s does not exist: %w", entry.BackingID, entry.Name,
				ErrConfiguration)
		}

		c, err = cluster.OpenLogical(int(entry.ID), entry.Name, backing, medium)
	} else {
		c, err = cluster.OpenPhysical(int(entry.ID), entry.Name, medium)
	}

	if err != nil {
		_ = medium.Close()
		return nil, err
	}

	return c, nil
}

func (s *LocalStorage) createSegment(id int, name, fileName string) (*segment.DataSegment, string, error) {
	if fileName == "" {
		fileName = fmt.Sprintf("%s.%d%s", name, id, segment.DataExtension)
	}
	dataPath := s.path(fileName)

	medium, err := file.Create(dataPath)
	if err != nil {
		return nil, "", err
	}

	journal, err := segment.CreateJournal(journalPath(dataPath))
	if err != nil {
		_ = medium.Remove()
		return nil, "", err
	}

	seg, err := segment.Create(id, name, medium, journal)
	if err != nil {
		_ = journal.Remove()
		_ = medium.Remove()
		return nil, "", err
	}

	return seg, fileName, nil
}

func (s *LocalStorage) createCluster(id int, name string, kind cluster.Kind, fileName string,
	backing cluster.Cluster) (cluster.Cluster, string, error) {
	if kind == cluster.KindMemory {
		return cluster.NewMemory(id, name), "", nil
	}

	if fileName == "" {
		extension := cluster.PhysicalExtension
		if kind == cluster.KindLogical {
			extension = cluster.LogicalExtension
		}
		fileName = name + extension
	}

	medium, err := file.Create(s.path(fileName))
	if err != nil {
		return nil, "", err
	}

	var c cluster.Cluster
	if kind == cluster.KindLogical {
		c, err = cluster.CreateLogical(id, name, backing, medium)
	} else {
		c, err = cluster.CreatePhysical(id, name, medium)
	}

	if err != nil {
		_ = medium.Remove()
		return nil, "", err
	}

	return c, fileName, nil
}

func (s *LocalStorage) path(fileName string) string {
	if filepath.IsAbs(fileName) {
		return fileName
	}

	return path.Join(s.dir, fileName)
}

func journalPath(dataPath string) string {
	return strings.TrimSuffix(dataPath, filepath.Ext(dataPath)) + segment.HolesExtension
}

// Close releases the storage if force is set or the last user leaves. The version is
// saved and every file is flushed and closed.
func (s *LocalStorage) Close(force bool) error {
	s.lock.Lock()
	closed, err := s.shutdown(force)
	if closed {
		s.unlockDir()
	}
	s.lock.Unlock()

	if closed {
		s.closed()
	}

	return err
}

// Delete closes the storage and removes its files. Files that can't be removed are
// retried DeleteMaxRetries times before giving up.
func (s *LocalStorage) Delete() error {
	if err := s.Close(true); err != nil {
		s.logger.Errorf("failed closing storage before deleting it: %v", err)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	var failed []string
	for i := 0; i < s.opts.DeleteMaxRetries; i++ {
		if failed = s.removeFiles(); len(failed) == 0 {
			if err := os.Remove(s.dir); err != nil && !os.IsNotExist(err) {
				s.logger.Debugf("storage directory %s not removed: %v", s.dir, err)
			}

			s.logger.Debug("deleted storage")
			return nil
		}

		s.logger.Debugf("failed deleting %d files of storage. retry %d/%d in %v", len(failed), i+1,
			s.opts.DeleteMaxRetries, s.opts.DeleteRetryDelay)
		time.Sleep(s.opts.DeleteRetryDelay)
	}

	return fmt.Errorf("can't delete storage %s. files still locked: %s: %w", s.name, strings.Join(failed, ", "),
		ErrStorage)
}

// removeFiles removes the storage files in the storage directory and returns those
// that could not be removed
func (s *LocalStorage) removeFiles() []string {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return []string{s.dir}
	}

	var failed []string
	for _, entry := range entries {
		if !isStorageFile(entry.Name()) {
			continue
		}

		filePath := path.Join(s.dir, entry.Name())
		if err := s.remove(filePath); err != nil {
			failed = append(failed, filePath)
		}
	}

	return failed
}

func isStorageFile(name string) bool {
	switch name {
	case manifestDir, lockFile:
		return true
	}

	switch filepath.Ext(name) {
	case segment.DataExtension, segment.HolesExtension, cluster.PhysicalExtension, cluster.LogicalExtension:
		return true
	}

	return false
}

// lockDir marks the storage directory as used by this process
func (s *LocalStorage) lockDir() error {
	pid := os.Getpid()
	lockPath := path.Join(s.dir, lockFile)

	lock, err := os.Open(lockPath)
	// Storage is not currently locked, attempt to acquire
	if os.IsNotExist(err) {
		if lockFile, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666); os.IsExist(err) {
			return fmt.Errorf("cannot lock storage %s. already locked by another process: %w", s.name, ErrIllegalState)
		} else if err != nil {
			return storageError(err, "failure attempting to lock storage %s", s.name)
		} else {
			defer lockFile.Close()

			pidBytes := []byte(strconv.Itoa(pid))
			if n, err := lockFile.Write(pidBytes); n < len(pidBytes) {
				return fmt.Errorf("failure writing owner pid to lock file. wrote %d bytes, expected %d: %w",
					n, len(pidBytes), ErrStorage)
			} else if err != nil {
				return storageError(err, "failure writing owner pid to lock file")
			}
			return nil
		}
	} else if err != nil {
		return storageError(err, "failure attempting to lock storage %s", s.name)
	}
	defer lock.Close()

	// Storage currently locked, see if it's me
	scanner := bufio.NewScanner(lock)
	scanner.Scan()
	lockPid, err := strconv.Atoi(scanner.Text())
	if err != nil {
		return storageError(err, "failed attempting to read lock file")
	}

	if lockPid != pid {
		return fmt.Errorf("cannot lock storage %s. already locked by another process (%d): %w", s.name, lockPid,
			ErrIllegalState)
	}

	return nil
}

func (s *LocalStorage) unlockDir() {
	if err := os.Remove(path.Join(s.dir, lockFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warnf("failed unlocking storage: %v", err)
	}
}
