// Package lock provides per-record shared/exclusive locks. Locks are not re-entrant:
// a goroutine holding a lock on a record must not request it again.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nbroyles/docstore/internal/storage"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Mode is the kind of lock requested on a record
type Mode int

const (
	// Shared locks are compatible with other shared locks
	Shared Mode = iota
	// Exclusive locks exclude every other lock on the record
	Exclusive
)

// exclusiveWeight is the capacity of every record semaphore. Shared holders take one
// unit, exclusive holders take all of it.
const exclusiveWeight = 1 << 30

func (m Mode) String() string {
	if m == Exclusive {
		return "exclusive"
	}
	return "shared"
}

func (m Mode) weight() int64 {
	if m == Exclusive {
		return exclusiveWeight
	}
	return 1
}

// Manager hands out record locks. Entries are created on first use and dropped
// once no goroutine holds or waits for them.
type Manager struct {
	mu      sync.Mutex
	entries map[storage.RID]*entry
	timeout time.Duration
}

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// NewManager returns a lock manager. A timeout of 0 waits forever.
func NewManager(timeout time.Duration) *Manager {
	return &Manager{
		entries: make(map[storage.RID]*entry),
		timeout: timeout,
	}
}

// Acquire blocks until rid is locked in mode or the manager's timeout expires
func (m *Manager) Acquire(rid storage.RID, mode Mode) error {
	ctx := context.Background()
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	return m.AcquireContext(ctx, rid, mode)
}

// AcquireContext is Acquire bounded by ctx instead of the manager's timeout
func (m *Manager) AcquireContext(ctx context.Context, rid storage.RID, mode Mode) error {
	e := m.ref(rid)

	if err := e.sem.Acquire(ctx, mode.weight()); err != nil {
		m.unref(rid, e)
		return fmt.Errorf("failed acquiring %s lock on record %s: %w: %w", mode, rid, storage.ErrLockTimeout,
			storage.ErrStorage)
	}

	return nil
}

// Release unlocks rid. mode must match the one used to acquire it.
func (m *Manager) Release(rid storage.RID, mode Mode) {
	m.mu.Lock()
	e, ok := m.entries[rid]
	m.mu.Unlock()

	if !ok {
		log.Panicf("releasing %s lock on record %s that is not held", mode, rid)
	}

	e.sem.Release(mode.weight())
	m.unref(rid, e)
}

// Len returns the number of records currently locked or waited on
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

func (m *Manager) ref(rid storage.RID) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[rid]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(exclusiveWeight)}
		m.entries[rid] = e
	}
	e.refs++

	return e
}

func (m *Manager) unref(rid storage.RID, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(m.entries, rid)
	}
}
