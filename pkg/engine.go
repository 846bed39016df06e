package pkg

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/google/uuid"
	"github.com/nbroyles/docstore/internal/cluster"
	"github.com/nbroyles/docstore/internal/lock"
	"github.com/nbroyles/docstore/internal/manifest"
	"github.com/nbroyles/docstore/internal/segment"
	"github.com/nbroyles/docstore/internal/storage"
	log "github.com/sirupsen/logrus"
)

// backend builds the clusters and data segments of a storage on its medium
type backend interface {
	createSegment(id int, name, fileName string) (*segment.DataSegment, string, error)
	createCluster(id int, name string, kind cluster.Kind, fileName string, backing cluster.Cluster) (cluster.Cluster, string, error)
}

// engine holds the record operations shared by durable and volatile storages.
//
// Lock order: engine lock, cluster browse lock, record lock. The engine lock is held
// shared by record operations and exclusively by structural changes and lifecycle.
type engine struct {
	lock     sync.RWMutex
	self     Storage
	name     string
	opts     Options
	logger   *log.Entry
	backend  backend
	locks    *lock.Manager
	manifest *manifest.Manifest

	id               uuid.UUID
	open             bool
	clusters         []cluster.Cluster
	clusterMap       map[string]cluster.Cluster
	segments         []*segment.DataSegment
	defaultClusterID int

	version atomic.Int64
	users   atomic.Int32

	listenerLock sync.Mutex
	listeners    []CloseListener
}

func newEngine(self Storage, name string, opts Options, b backend) *engine {
	opts = opts.normalize()

	return &engine{
		self:       self,
		name:       name,
		opts:       opts,
		logger:     opts.Logger.WithField("storage", name),
		backend:    b,
		locks:      lock.NewManager(opts.LockTimeout),
		clusterMap: make(map[string]cluster.Cluster),
	}
}

func (e *engine) Name() string {
	return e.name
}

func (e *engine) ID() uuid.UUID {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return e.id
}

func (e *engine) IsClosed() bool {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return !e.open
}

func (e *engine) AddUser() int {
	return int(e.users.Add(1))
}

// RemoveUser decrements the user count, never below zero
func (e *engine) RemoveUser() int {
	for {
		users := e.users.Load()
		if users <= 0 {
			return 0
		}
		if e.users.CompareAndSwap(users, users-1) {
			return int(users - 1)
		}
	}
}

func (e *engine) Users() int {
	return int(e.users.Load())
}

func (e *engine) AddCloseListener(fn CloseListener) {
	e.listenerLock.Lock()
	defer e.listenerLock.Unlock()

	e.listeners = append(e.listeners, fn)
}

func (e *engine) Version() int64 {
	return e.version.Load()
}

// Size returns the bytes used by the data segments and position tables
func (e *engine) Size() int64 {
	e.lock.RLock()
	defer e.lock.RUnlock()

	var size int64
	for _, s := range e.segments {
		size += s.Size()
	}
	for _, c := range e.clusters {
		if c != nil {
			size += c.Size()
		}
	}

	return size
}

func (e *engine) checkOpen() error {
	if !e.open {
		return fmt.Errorf("storage %s is not open: %w", e.name, ErrIllegalState)
	}

	return nil
}

// initialize builds the default data segment and clusters of a new storage
func (e *engine) initialize(man *manifest.Manifest) error {
	e.manifest = man
	e.id = man.StorageID()
	e.logger = e.logger.WithField("id", e.id.String())
	e.clusters = nil
	e.clusterMap = make(map[string]cluster.Cluster)
	e.segments = nil
	e.version.Store(man.Version())

	if _, err := e.addDataSegment(DataSegmentDefault, ""); err != nil {
		return err
	}

	for _, name := range []string{ClusterInternal, ClusterIndex, ClusterDefault} {
		id, err := e.addCluster(name, cluster.KindPhysical, clusterConfig{backingID: -1})
		if err != nil {
			return err
		}
		e.defaultClusterID = id
	}

	return nil
}

// register adds c to the cluster table, growing it to fit c's id
func (e *engine) register(c cluster.Cluster) {
	for len(e.clusters) <= c.ID() {
		e.clusters = append(e.clusters, nil)
	}

	e.clusters[c.ID()] = c
	e.clusterMap[c.Name()] = c
}

// closeResources closes every cluster, data segment and the manifest. Errors don't
// stop the remaining closes.
func (e *engine) closeResources() error {
	var errs []error

	for _, c := range e.clusters {
		if c == nil {
			continue
		}

		c.Lock()
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed closing cluster %s: %w", c.Name(), err))
		}
		c.Unlock()
	}

	for _, s := range e.segments {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed closing data segment %s: %w", s.Name(), err))
		}
	}

	if e.manifest != nil {
		if err := e.manifest.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed closing manifest: %w", err))
		}
	}

	e.clusters = nil
	e.clusterMap = make(map[string]cluster.Cluster)
	e.segments = nil
	e.manifest = nil

	return errors.Join(errs...)
}

// shutdown closes the storage if force is set or its last user left. Must be called
// with the engine lock held exclusively. Returns true if the storage was closed.
func (e *engine) shutdown(force bool) (bool, error) {
	if !e.open {
		return false, nil
	}

	remaining := e.RemoveUser()
	if !force && (e.opts.KeepOpen || remaining > 0) {
		e.logger.Debugf("not closing storage. %d users left", remaining)
		return false, nil
	}

	var errs []error
	if err := e.manifest.SaveVersion(e.version.Load()); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, e.closeResources())
	e.open = false
	e.users.Store(0)

	if err := errors.Join(errs...); err != nil {
		e.logger.Errorf("failed closing storage: %v", err)
		return true, storageError(err, "failed closing storage %s", e.name)
	}

	e.logger.Debug("closed storage")
	return true, nil
}

// closed runs the close listeners and leaves the registry. Must be called without
// holding the engine lock.
func (e *engine) closed() {
	if e.opts.Registry != nil {
		e.opts.Registry.Deregister(e.self)
	}

	e.listenerLock.Lock()
	listeners := append([]CloseListener(nil), e.listeners...)
	e.listenerLock.Unlock()

	for _, listener := range listeners {
		if err := listener(e.self); err != nil {
			e.logger.Warnf("close listener failed: %v", err)
		}
	}
}

func (e *engine) registerOpen() error {
	if e.opts.Registry == nil {
		return nil
	}

	return e.opts.Registry.Register(e.self)
}

// clusterByID returns the cluster of id, -1 meaning the default cluster. Must be
// called with the engine lock held.
func (e *engine) clusterByID(id int) (cluster.Cluster, error) {
	if id == storage.ClusterIDInvalid {
		id = e.defaultClusterID
	}

	if id < 0 || id >= len(e.clusters) {
		return nil, fmt.Errorf("cluster #%d is out of range of configured clusters (0-%d): %w", id,
			len(e.clusters)-1, ErrConfiguration)
	}

	c := e.clusters[id]
	if c == nil {
		return nil, fmt.Errorf("cluster #%d was dropped: %w", id, ErrConfiguration)
	}

	return c, nil
}

// resolve returns the open cluster of id
func (e *engine) resolve(id int) (cluster.Cluster, error) {
	e.lock.RLock()
	defer e.lock.RUnlock()

	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	return e.clusterByID(id)
}

func (e *engine) segment(id int32) (*segment.DataSegment, error) {
	if id < 0 || int(id) >= len(e.segments) {
		return nil, fmt.Errorf("data segment #%d does not exist: %w", id, ErrConfiguration)
	}

	return e.segments[id], nil
}

func (e *engine) segmentFor(clusterID int, content []byte) (*segment.DataSegment, error) {
	return e.segment(int32(e.opts.SegmentSelector(clusterID, content)))
}

func (e *engine) Count(clusterID int) (int64, error) {
	return e.CountClusters([]int{clusterID})
}

// CountClusters sums the live records of clusterIDs. Dropped clusters count zero.
func (e *engine) CountClusters(clusterIDs []int) (int64, error) {
	e.lock.RLock()
	defer e.lock.RUnlock()

	if err := e.checkOpen(); err != nil {
		return 0, err
	}

	var total int64
	for _, id := range clusterIDs {
		c, err := e.clusterByID(id)
		if err != nil {
			if id >= 0 && id < len(e.clusters) {
				continue
			}
			return 0, err
		}

		total += c.Entries()
	}

	return total, nil
}

// ClusterDataRange returns the first and last live positions of the cluster, -1 when
// it holds no record
func (e *engine) ClusterDataRange(clusterID int) (int64, int64, error) {
	e.lock.RLock()
	defer e.lock.RUnlock()

	if err := e.checkOpen(); err != nil {
		return -1, -1, err
	}

	c, err := e.clusterByID(clusterID)
	if err != nil {
		return -1, -1, err
	}

	return c.FirstPosition(), c.LastPosition(), nil
}

func (e *engine) AddCluster(name string, kind ClusterKind, opts ...ClusterOption) (int, error) {
	config := clusterConfig{backingID: -1}
	for _, opt := range opts {
		opt(&config)
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	if err := e.checkOpen(); err != nil {
		return -1, err
	}

	return e.addCluster(name, kind, config)
}

func (e *engine) addCluster(name string, kind ClusterKind, config clusterConfig) (int, error) {
	name = strings.ToLower(name)
	if name == "" || unicode.IsDigit(rune(name[0])) {
		return -1, fmt.Errorf("invalid cluster name '%s': %w", name, ErrConfiguration)
	}

	if _, ok := e.clusterMap[name]; ok {
		return -1, fmt.Errorf("can't add cluster %s because it was already registered: %w", name, ErrConfiguration)
	}

	kind, err := cluster.ParseKind(string(kind))
	if err != nil {
		return -1, err
	}

	var backing cluster.Cluster
	backingID := manifest.NoBacking
	if kind == cluster.KindLogical {
		if config.backingID < 0 {
			backing = e.clusterMap[ClusterInternal]
		} else if config.backingID < len(e.clusters) {
			backing = e.clusters[config.backingID]
		}

		if backing == nil {
			return -1, fmt.Errorf("backing cluster #%d of logical cluster %s does not exist: %w",
				config.backingID, name, ErrConfiguration)
		}
		backingID = int32(backing.ID())
	}

	id := int(e.manifest.NextClusterID())

	c, fileName, err := e.backend.createCluster(id, name, kind, config.file, backing)
	if err != nil {
		return -1, storageError(err, "failed creating cluster %s", name)
	}

	entry := manifest.ClusterEntry{ID: int32(id), Name: name, Kind: string(kind), File: fileName, BackingID: backingID}
	if err := e.manifest.AddCluster(entry); err != nil {
		_ = c.Remove()
		return -1, storageError(err, "failed saving cluster %s", name)
	}

	e.register(c)
	e.logger.Debugf("added %s cluster %s (#%d)", kind, name, id)

	return id, nil
}

// DropCluster removes the cluster and frees the data of its records. Returns false
// if it was already dropped.
func (e *engine) DropCluster(clusterID int) (bool, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if err := e.checkOpen(); err != nil {
		return false, err
	}

	if clusterID < 0 || clusterID >= len(e.clusters) {
		return false, fmt.Errorf("cluster id %d is out of range of configured clusters (0-%d): %w", clusterID,
			len(e.clusters)-1, ErrConfiguration)
	}

	c := e.clusters[clusterID]
	if c == nil {
		return false, nil
	}

	for _, other := range e.clusters {
		if logical, ok := other.(*cluster.Logical); ok && logical.Backing() == c {
			return false, fmt.Errorf("cluster %s backs logical cluster %s: %w", c.Name(), logical.Name(),
				ErrConfiguration)
		}
	}

	c.Lock()
	defer c.Unlock()

	it := c.Iterator(0, -1)
	for it.HasNext() {
		pos := it.Next()
		if err := e.freeRecord(c, pos); err != nil {
			return false, storageError(err, "failed dropping cluster %s", c.Name())
		}
	}

	if err := e.manifest.DropCluster(int32(clusterID)); err != nil {
		return false, storageError(err, "failed dropping cluster %s", c.Name())
	}

	delete(e.clusterMap, c.Name())
	e.clusters[clusterID] = nil

	if err := c.Remove(); err != nil {
		e.logger.Warnf("failed removing files of dropped cluster %s: %v", c.Name(), err)
	}

	e.logger.Debugf("dropped cluster %s (#%d)", c.Name(), clusterID)
	return true, nil
}

func (e *engine) freeRecord(c cluster.Cluster, pos int64) error {
	ppos, err := c.GetPosition(pos)
	if err != nil || ppos == nil {
		return err
	}

	seg, err := e.segment(ppos.DataSegmentID)
	if err != nil {
		return err
	}

	if c.Kind() == cluster.KindLogical {
		if err := c.RemovePosition(pos); err != nil {
			return err
		}
	}

	return seg.Delete(ppos.DataOffset)
}

func (e *engine) AddDataSegment(name string) (int, error) {
	return e.AddDataSegmentFile(name, "")
}

// AddDataSegmentFile adds a data segment stored in fileName. An empty fileName uses
// the default name of the segment.
func (e *engine) AddDataSegmentFile(name, fileName string) (int, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	if err := e.checkOpen(); err != nil {
		return -1, err
	}

	return e.addDataSegment(name, fileName)
}

func (e *engine) addDataSegment(name, fileName string) (int, error) {
	name = strings.ToLower(name)
	if name == "" {
		return -1, fmt.Errorf("data segment name is empty: %w", ErrConfiguration)
	}

	for _, s := range e.segments {
		if s.Name() == name {
			return -1, fmt.Errorf("can't add data segment %s because it was already registered: %w", name,
				ErrConfiguration)
		}
	}

	id := int(e.manifest.NextSegmentID())

	s, fileName, err := e.backend.createSegment(id, name, fileName)
	if err != nil {
		return -1, storageError(err, "failed creating data segment %s", name)
	}

	if err := e.manifest.AddSegment(manifest.SegmentEntry{ID: int32(id), Name: name, File: fileName}); err != nil {
		_ = s.Remove()
		return -1, storageError(err, "failed saving data segment %s", name)
	}

	e.segments = append(e.segments, s)
	e.logger.Debugf("added data segment %s (#%d)", name, id)

	return id, nil
}

// ClusterIDByName returns the id of the named cluster. Names starting with a digit
// are parsed as ids.
func (e *engine) ClusterIDByName(name string) (int, error) {
	if name == "" {
		return -1, fmt.Errorf("cluster name is empty: %w", ErrConfiguration)
	}

	if unicode.IsDigit(rune(name[0])) {
		id, err := strconv.Atoi(name)
		if err != nil {
			return -1, fmt.Errorf("invalid cluster id '%s': %w", name, ErrConfiguration)
		}
		return id, nil
	}

	e.lock.RLock()
	defer e.lock.RUnlock()

	if err := e.checkOpen(); err != nil {
		return -1, err
	}

	c, ok := e.clusterMap[strings.ToLower(name)]
	if !ok {
		return -1, fmt.Errorf("cluster %s does not exist: %w", name, ErrConfiguration)
	}

	return c.ID(), nil
}

// ClusterNames returns the names of the clusters in order, nil when closed
func (e *engine) ClusterNames() []string {
	e.lock.RLock()
	defer e.lock.RUnlock()

	if !e.open {
		return nil
	}

	names := make([]string, 0, len(e.clusterMap))
	for name := range e.clusterMap {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func (e *engine) ClusterTypeByName(name string) (ClusterKind, error) {
	e.lock.RLock()
	defer e.lock.RUnlock()

	if err := e.checkOpen(); err != nil {
		return "", err
	}

	c, ok := e.clusterMap[strings.ToLower(name)]
	if !ok {
		return "", fmt.Errorf("cluster %s does not exist: %w", name, ErrConfiguration)
	}

	return c.Kind(), nil
}

// PhysicalClusterNameByID returns the name of the cluster holding the positions of
// clusterID: the backing cluster for logical clusters, the cluster itself otherwise
func (e *engine) PhysicalClusterNameByID(clusterID int) (string, error) {
	e.lock.RLock()
	defer e.lock.RUnlock()

	if err := e.checkOpen(); err != nil {
		return "", err
	}

	c, err := e.clusterByID(clusterID)
	if err != nil {
		return "", err
	}

	if logical, ok := c.(*cluster.Logical); ok {
		return logical.Backing().Name(), nil
	}

	return c.Name(), nil
}

func (e *engine) DefaultClusterID() int {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return e.defaultClusterID
}

// Holes returns the number of holes across all data segments
func (e *engine) Holes() int {
	e.lock.RLock()
	defer e.lock.RUnlock()

	holes := 0
	for _, s := range e.segments {
		holes += s.Holes()
	}

	return holes
}

func (e *engine) HoleSize() int64 {
	e.lock.RLock()
	defer e.lock.RUnlock()

	var size int64
	for _, s := range e.segments {
		size += s.HoleSize()
	}

	return size
}

func (e *engine) HoleList() []Hole {
	e.lock.RLock()
	defer e.lock.RUnlock()

	var holes []Hole
	for _, s := range e.segments {
		holes = append(holes, s.HoleList()...)
	}

	return holes
}
