package pkg

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry tracks open storages by name. Storages register themselves on create
// and open, and leave on close.
type Registry struct {
	lock     sync.RWMutex
	storages map[string]Storage
}

func NewRegistry() *Registry {
	return &Registry{storages: make(map[string]Storage)}
}

// Register adds s. It fails if another storage is registered under the same name.
func (r *Registry) Register(s Storage) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if registered, ok := r.storages[s.Name()]; ok && registered != s {
		return fmt.Errorf("storage %s is already registered: %w", s.Name(), ErrConfiguration)
	}
	r.storages[s.Name()] = s

	return nil
}

// Deregister removes s if it's the storage registered under its name
func (r *Registry) Deregister(s Storage) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if registered, ok := r.storages[s.Name()]; ok && registered == s {
		delete(r.storages, s.Name())
	}
}

func (r *Registry) Get(name string) (Storage, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	s, ok := r.storages[name]
	return s, ok
}

// Names returns the names of the registered storages in order
func (r *Registry) Names() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	names := make([]string, 0, len(r.storages))
	for name := range r.storages {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// CloseAll force closes every registered storage
func (r *Registry) CloseAll() error {
	r.lock.RLock()
	storages := make([]Storage, 0, len(r.storages))
	for _, s := range r.storages {
		storages = append(storages, s)
	}
	r.lock.RUnlock()

	var errs []error
	for _, s := range storages {
		if err := s.Close(true); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
