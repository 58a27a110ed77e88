package sqlite

import (
	"errors"
	"sync"
)

// StoreManager manages one Datastore per organization with caching.
type StoreManager struct {
	basePath string
	stores   map[string]*Datastore // name -> store
	mu       sync.RWMutex
}

// NewStoreManager creates a new StoreManager.
func NewStoreManager(basePath string) *StoreManager {
	return &StoreManager{
		basePath: basePath,
		stores:   make(map[string]*Datastore),
	}
}

// GetStore returns the Datastore for the given name.
// Stores are cached and reused.
func (m *StoreManager) GetStore(name string) (*Datastore, error) {
	m.mu.RLock()
	if store, ok := m.stores[name]; ok {
		m.mu.RUnlock()
		return store, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if store, ok := m.stores[name]; ok {
		return store, nil
	}

	store, err := OpenDatastore(m.basePath, name)
	if err != nil {
		return nil, err
	}

	m.stores[name] = store
	return store, nil
}

// CloseAll closes all cached stores.
func (m *StoreManager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, store := range m.stores {
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.stores = make(map[string]*Datastore)
	return errors.Join(errs...)
}

// BasePath returns the base path for state storage.
func (m *StoreManager) BasePath() string {
	return m.basePath
}
