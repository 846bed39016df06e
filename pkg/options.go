package pkg

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// SegmentSelector picks the data segment a new record of clusterID is stored in
type SegmentSelector func(clusterID int, content []byte) int

// Options configures a storage. Start from DefaultOptions and override with the
// With methods.
type Options struct {
	// LockTimeout bounds the wait for a record lock. 0 waits forever.
	LockTimeout time.Duration

	// DeleteMaxRetries is the number of attempts made to remove storage files
	DeleteMaxRetries int

	// DeleteRetryDelay is the pause between two removal attempts
	DeleteRetryDelay time.Duration

	// TxCommitSync flushes the storage after every commit
	TxCommitSync bool

	// KeepOpen keeps the storage open when its last user leaves
	KeepOpen bool

	Logger *log.Logger

	// Registry, when set, tracks the storage while it's open
	Registry *Registry

	SegmentSelector SegmentSelector
}

func DefaultOptions() Options {
	return Options{
		LockTimeout:      0,
		DeleteMaxRetries: 10,
		DeleteRetryDelay: 100 * time.Millisecond,
		TxCommitSync:     false,
		KeepOpen:         false,
		Logger:           log.StandardLogger(),
		SegmentSelector:  firstSegment,
	}
}

func firstSegment(int, []byte) int {
	return 0
}

func (o Options) WithLockTimeout(timeout time.Duration) Options {
	o.LockTimeout = timeout
	return o
}

func (o Options) WithDeleteMaxRetries(retries int) Options {
	o.DeleteMaxRetries = retries
	return o
}

func (o Options) WithDeleteRetryDelay(delay time.Duration) Options {
	o.DeleteRetryDelay = delay
	return o
}

func (o Options) WithTxCommitSync(sync bool) Options {
	o.TxCommitSync = sync
	return o
}

func (o Options) WithKeepOpen(keepOpen bool) Options {
	o.KeepOpen = keepOpen
	return o
}

func (o Options) WithLogger(logger *log.Logger) Options {
	o.Logger = logger
	return o
}

func (o Options) WithRegistry(registry *Registry) Options {
	o.Registry = registry
	return o
}

func (o Options) WithSegmentSelector(selector SegmentSelector) Options {
	o.SegmentSelector = selector
	return o
}

func (o Options) normalize() Options {
	if o.Logger == nil {
		o.Logger = log.StandardLogger()
	}
	if o.SegmentSelector == nil {
		o.SegmentSelector = firstSegment
	}
	if o.DeleteMaxRetries < 1 {
		o.DeleteMaxRetries = 1
	}

	return o
}

// ClusterOption configures a cluster added with AddCluster
type ClusterOption func(*clusterConfig)

type clusterConfig struct {
	file      string
	backingID int
}

// WithClusterFile stores a physical or logical cluster in fileName instead of the
// file named after the cluster. Relative names are resolved against the storage
// directory.
func WithClusterFile(fileName string) ClusterOption {
	return func(c *clusterConfig) {
		c.file = fileName
	}
}

// WithBackingCluster sets the physical cluster a logical cluster stores its
// positions in. Defaults to the internal cluster.
func WithBackingCluster(clusterID int) ClusterOption {
	return func(c *clusterConfig) {
		c.backingID = clusterID
	}
}
